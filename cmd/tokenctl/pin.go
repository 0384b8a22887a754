package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// promptPIN reads a PIN from the controlling terminal with echo disabled,
// following permissionsedit/main.go's selectMenu raw-mode discipline
// (term.MakeRaw/term.Restore around a single blocking read, restoring on
// every exit path including Ctrl-C).
func promptPIN(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		// Not a terminal (e.g. piped input in tests/automation); fall
		// back to a plain line read.
		return readLine(os.Stdin)
	}
	defer term.Restore(fd, oldState)

	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			break
		}
		switch buf[0] {
		case 0x0D, 0x0A: // Enter
			fmt.Fprint(os.Stderr, "\r\n")
			return sb.String(), nil
		case 0x03: // Ctrl-C
			term.Restore(fd, oldState)
			fmt.Fprint(os.Stderr, "\r\n")
			os.Exit(1)
		case 0x7F, 0x08: // Backspace/Delete
			s := sb.String()
			if len(s) > 0 {
				sb.Reset()
				sb.WriteString(s[:len(s)-1])
			}
		default:
			sb.WriteByte(buf[0])
		}
	}
	return sb.String(), nil
}

func readLine(f *os.File) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			sb.WriteByte(buf[0])
		}
		if err != nil {
			break
		}
	}
	return strings.TrimRight(sb.String(), "\r"), nil
}
