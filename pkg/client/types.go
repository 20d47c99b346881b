package client

import "time"

// ToggleResult reports the state a toggle left the session in. Endpoint is
// set only when the toggle turned the preview on.
type ToggleResult struct {
	Key      string `json:"key"`
	Running  bool   `json:"running"`
	Endpoint string `json:"endpoint,omitempty"`
}

// StartResult carries the endpoint of a started session. A start against an
// already running key succeeds and returns the existing endpoint.
type StartResult struct {
	Key      string `json:"key"`
	Endpoint string `json:"endpoint"`
}

// Status describes a single key as the daemon sees it. Keys the daemon has
// never started report Running false rather than an error.
type Status struct {
	Key      string `json:"key"`
	Running  bool   `json:"running"`
	Endpoint string `json:"endpoint,omitempty"`
}

// SessionStatus is one entry of the daemon's session snapshot.
type SessionStatus struct {
	Key       string    `json:"key"`
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	PID       int       `json:"pid,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// keyRequest is the JSON body shared by toggle, start and stop.
type keyRequest struct {
	Key string `json:"key"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
