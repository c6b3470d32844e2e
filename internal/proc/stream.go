package proc

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// Stream is a pull-based line source over a running process.
//
// Close terminates the process if it has not reached end of output and
// reaps it. Close is idempotent and never fails: the process may already
// have exited on its own.
type Stream struct {
	stdout *bufio.Reader
	stderr io.Reader
	kill   func() error
	wait   func() error

	eof    bool
	lines  int
	killed bool

	closeOnce  sync.Once
	stderrOnce sync.Once
	stderrText string
}

// NewStream builds a Stream from raw readers. kill, when non-nil, is called
// by Close if stdout has not been drained.
func NewStream(stdout, stderr io.Reader, kill func() error) *Stream {
	return &Stream{
		stdout: bufio.NewReaderSize(stdout, 64*1024),
		stderr: stderr,
		kill:   kill,
	}
}

// ReadLine returns the next stdout line without its line terminator.
// It returns io.EOF once the output is exhausted.
func (s *Stream) ReadLine() (string, error) {
	if s.eof {
		return "", io.EOF
	}
	line, err := s.stdout.ReadString('\n')
	if err != nil {
		if err != io.EOF {
			return "", err
		}
		s.eof = true
		if line == "" {
			return "", io.EOF
		}
	}
	s.lines++
	return strings.TrimRight(line, "\r\n"), nil
}

// Lines is the number of lines returned by ReadLine so far.
func (s *Stream) Lines() int {
	return s.lines
}

// Killed reports whether Close had to force-terminate the process.
func (s *Stream) Killed() bool {
	return s.killed
}

// Close terminates and reaps the process.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		if !s.eof && s.kill != nil {
			_ = s.kill()
			s.killed = true
		}
		if s.wait != nil {
			_ = s.wait()
		}
	})
}

// Stderr closes the stream and returns everything the process wrote to its
// error stream, trimmed of surrounding whitespace.
func (s *Stream) Stderr() string {
	s.Close()
	s.stderrOnce.Do(func() {
		if s.stderr == nil {
			return
		}
		b, err := io.ReadAll(s.stderr)
		if err != nil {
			return
		}
		s.stderrText = strings.TrimSpace(string(b))
	})
	return s.stderrText
}
