// Package pipeio connects the command line tools to standard input and
// output.
package pipeio

import (
	"io"
	"os"

	"github.com/muesli/cancelreader"
)

// Stdio reads from stdin and writes to stdout. When stdin is a file the
// read side is cancelable, so a blocked Read returns once Close is called.
type Stdio struct {
	stdin            io.Reader
	cancellableStdin cancelreader.CancelReader

	stdout io.Writer
}

// NewStdio wraps stdin and stdout. Nil arguments select os.Stdin and
// os.Stdout.
func NewStdio(stdin io.Reader, stdout io.Writer) *Stdio {
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	out := Stdio{
		stdin:  stdin,
		stdout: stdout,
	}

	f, ok := stdin.(*os.File)
	if !ok {
		return &out
	}
	cancellableStdin, err := cancelreader.NewReader(f)
	if err != nil {
		return &out
	}

	out.cancellableStdin = cancellableStdin
	return &out
}

// Read reads from stdin, using the cancelable reader if available.
func (s *Stdio) Read(p []byte) (n int, err error) {
	if s.cancellableStdin != nil {
		return s.cancellableStdin.Read(p)
	}

	return s.stdin.Read(p)
}

// Write writes to stdout.
func (s *Stdio) Write(p []byte) (n int, err error) {
	return s.stdout.Write(p)
}

// Close cancels any pending reads from stdin if using a cancelable reader.
func (s *Stdio) Close() error {
	if s.cancellableStdin != nil {
		s.cancellableStdin.Cancel()
	}
	return nil
}
