package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/wc-attach-images/wc-attach-images/internal/auth"
)

const minPasswordLength = 8

// HashPasswordOptions defines inputs for the hash-password command.
type HashPasswordOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// HashPasswordCommand reads a password from stdin and prints the bcrypt hash for ADMIN_PASSWORD_HASH.
func HashPasswordCommand(opts HashPasswordOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if opts.Stdin == nil {
		_, _ = fmt.Fprintln(stderr, "hash-password: no input")
		return 1
	}
	line, err := bufio.NewReader(opts.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		_, _ = fmt.Fprintf(stderr, "hash-password: read: %v\n", err)
		return 1
	}
	password := strings.TrimRight(line, "\r\n")
	if len(password) < minPasswordLength {
		_, _ = fmt.Fprintf(stderr, "hash-password: password must be at least %d characters\n", minPasswordLength)
		return 1
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "hash-password: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, hash)
	return 0
}
