package input

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestExpandArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	if err := os.WriteFile(path, []byte("f1\n\n  f2  \n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ExpandArgs([]string{"a", "-", "@" + path, "@"}, strings.NewReader("s1\ns2\n"))
	if err != nil {
		t.Fatalf("ExpandArgs: %v", err)
	}
	want := []string{"a", "s1", "s2", "f1", "f2", "@"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExpandArgs = %v, want %v", got, want)
	}
}

func TestExpandArgsErrors(t *testing.T) {
	if _, err := ExpandArgs([]string{"-", "-"}, strings.NewReader("x")); !errors.Is(err, ErrStdinReused) {
		t.Errorf("double stdin: got %v, want ErrStdinReused", err)
	}
	if _, err := ExpandArgs([]string{"@/does/not/exist"}, nil); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: got %v, want ErrNotExist", err)
	}
}
