// Package readiness extracts the endpoint a preview tool announces on its
// stdout. The contract is informal: a line containing the literal text
// "Browse at", whitespace, then an http(s) URL. The first such line wins.
package readiness

import (
	"bytes"
	"regexp"
	"strings"
)

var (
	markerRe = regexp.MustCompile(`Browse at\s+(https?://\S+)`)
	ansiRe   = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
)

// maxPending bounds the partial-line buffer so markerless streams that never
// emit a newline cannot grow it without limit.
const maxPending = 64 * 1024

// Match reports the endpoint URL when line carries the readiness marker.
// ANSI escape sequences are stripped first; tools colorize when run under a
// pseudo-terminal.
func Match(line string) (string, bool) {
	if strings.Contains(line, "\x1b") {
		line = ansiRe.ReplaceAllString(line, "")
	}
	m := markerRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Scanner reassembles lines from an incremental byte stream and reports the
// first readiness endpoint. Single use: after a match (or Flush) further
// input is discarded.
type Scanner struct {
	pending []byte
	found   bool
}

func NewScanner() *Scanner {
	return &Scanner{}
}

// Feed consumes the next chunk. It returns the endpoint and true exactly
// once, on the chunk that completes the marker line.
func (s *Scanner) Feed(chunk []byte) (string, bool) {
	if s.found {
		return "", false
	}
	s.pending = append(s.pending, chunk...)
	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(s.pending[:i]), "\r")
		s.pending = s.pending[i+1:]
		if url, ok := Match(line); ok {
			s.found = true
			s.pending = nil
			return url, true
		}
	}
	if len(s.pending) > maxPending {
		s.pending = nil
	}
	return "", false
}

// Flush checks the trailing partial line at end of stream. Returns the
// endpoint and true if that final line carries the marker.
func (s *Scanner) Flush() (string, bool) {
	if s.found || len(s.pending) == 0 {
		return "", false
	}
	line := strings.TrimRight(string(s.pending), "\r")
	s.pending = nil
	if url, ok := Match(line); ok {
		s.found = true
		return url, true
	}
	return "", false
}

// Done reports whether the marker has been seen.
func (s *Scanner) Done() bool { return s.found }
