package pipeio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/muesli/cancelreader"
)

// LineReader reads lines in the background so that a tick loop can poll
// for them without blocking.
type LineReader struct {
	rc    io.ReadCloser
	lines chan []byte

	once sync.Once
	done chan struct{}
	err  error
}

// NewLineReader starts reading lines of at most limit bytes from rc.
// Longer lines are an error. Closing the reader closes rc.
func NewLineReader(rc io.ReadCloser, limit int) *LineReader {
	l := &LineReader{
		rc:    rc,
		lines: make(chan []byte, 16),
		done:  make(chan struct{}),
	}
	go l.run(limit)
	return l
}

func (l *LineReader) run(limit int) {
	defer close(l.lines)

	sc := bufio.NewScanner(l.rc)
	sc.Buffer(make([]byte, 0, min(4096, limit+1)), limit+1)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		select {
		case l.lines <- line:
		case <-l.done:
			return
		}
	}

	err := sc.Err()
	switch {
	case errors.Is(err, cancelreader.ErrCanceled):
	case errors.Is(err, bufio.ErrTooLong):
		l.err = fmt.Errorf("line longer than %d bytes", limit)
	case err != nil:
		l.err = fmt.Errorf("reading input: %w", err)
	}
}

// Poll returns the next line if one is ready. ok is false when no line is
// waiting. eof reports that the input ended and no lines remain.
func (l *LineReader) Poll() (line []byte, ok bool, eof bool) {
	select {
	case line, open := <-l.lines:
		if !open {
			return nil, false, true
		}
		return line, true, false
	default:
		return nil, false, false
	}
}

// Err is the error that ended the input, if any. It is only meaningful once
// Poll reported eof.
func (l *LineReader) Err() error {
	return l.err
}

// Close stops the background reader.
func (l *LineReader) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.rc.Close()
	})
	return err
}
