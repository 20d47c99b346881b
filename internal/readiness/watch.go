package readiness

import (
	"errors"
	"io"
)

// ErrNoMarker reports a stream that ended before any readiness line appeared.
var ErrNoMarker = errors.New("stream ended before readiness marker")

// Result is delivered once per Watch call.
type Result struct {
	Endpoint string
	Err      error
}

// Watch drains r in the background and delivers exactly one Result: the
// first readiness endpoint, ErrNoMarker on EOF without one, or the read
// error otherwise. The channel is buffered so the reader goroutine never
// blocks on an abandoned receiver. The goroutine exits when r ends; killing
// the producing process closes its pipes and releases it.
func Watch(r io.Reader) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		sc := NewScanner()
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				if url, ok := sc.Feed(buf[:n]); ok {
					ch <- Result{Endpoint: url}
					// Keep draining so the child never blocks on a
					// full pipe after readiness.
					_, _ = io.Copy(io.Discard, r)
					return
				}
			}
			if err != nil {
				if url, ok := sc.Flush(); ok {
					ch <- Result{Endpoint: url}
					return
				}
				if errors.Is(err, io.EOF) {
					ch <- Result{Err: ErrNoMarker}
				} else {
					ch <- Result{Err: err}
				}
				return
			}
		}
	}()
	return ch
}
