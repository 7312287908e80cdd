// Package input expands command arguments that use - (stdin) or @file
// syntax into the lines they name.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrStdinReused is returned when more than one argument asks for stdin.
var ErrStdinReused = errors.New("stdin already used by another argument")

// ExpandArgs replaces "-" with the non-empty lines of stdin and "@path" with
// the non-empty lines of the file at path. Other values pass through.
func ExpandArgs(values []string, stdin io.Reader) ([]string, error) {
	var (
		result    []string
		stdinUsed bool
	)
	for _, v := range values {
		switch {
		case v == "-":
			if stdinUsed {
				return nil, ErrStdinReused
			}
			stdinUsed = true
			lines, err := ReadLines(stdin)
			if err != nil {
				return nil, fmt.Errorf("read stdin: %w", err)
			}
			result = append(result, lines...)
		case strings.HasPrefix(v, "@") && len(v) > 1:
			path := v[1:]
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			lines, err := ReadLines(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			result = append(result, lines...)
		default:
			result = append(result, v)
		}
	}
	return result, nil
}

// ReadLines reads the trimmed, non-empty lines of r.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
