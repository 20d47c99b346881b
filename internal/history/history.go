package history

import (
	"context"
	"errors"
	"io"
	"time"
)

// EventType defines the kind of session lifecycle event.
type EventType string

const (
	EventStarted EventType = "started" // tool spawned, waiting for readiness
	EventReady   EventType = "ready"   // endpoint announced
	EventStopped EventType = "stopped" // stopped on request or graceful end
	EventCrashed EventType = "crashed" // exited without a stop request
	EventTimeout EventType = "timeout" // readiness window elapsed
)

// Event is one session lifecycle record exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Key        string    `json:"key"` // document key
	SessionID  string    `json:"session_id"`
	PID        int       `json:"pid,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/audit systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi forwards each event to every sink. Send errors are collected, not
// short-circuited; one slow or broken sink must not silence the others.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
