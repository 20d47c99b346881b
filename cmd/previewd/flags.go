package main

import "time"

// SessionFlags Flag structs to decouple cobra from logic for testing.
type SessionFlags struct {
	Key string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	Key string // empty means list every tracked session
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type StopAllFlags struct {
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	LogFile    string
}
