package main

import "github.com/marcus/objsync/cmd"

func main() {
	cmd.Execute()
}
