package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/loykin/previewd/pkg/client"
)

// command groups the CLI handlers. Session commands always talk to a running
// daemon through pkg/client; only serve assembles a manager of its own.
type command struct{}

// resolveKey turns a document argument into the absolute path the daemon
// indexes sessions by, so relative invocations from different directories
// still address the same session.
func resolveKey(doc string) (string, error) {
	if doc == "" {
		return "", fmt.Errorf("document path is required")
	}
	abs, err := filepath.Abs(doc)
	if err != nil {
		return "", fmt.Errorf("resolve document path: %w", err)
	}
	return abs, nil
}

// dialDaemon builds an API client and verifies the daemon answers.
func dialDaemon(apiUrl string, timeout time.Duration) (*client.Client, error) {
	if apiUrl == "" {
		apiUrl = client.DefaultConfig().BaseURL // Default local daemon
	}
	api := client.New(client.Config{BaseURL: apiUrl, Timeout: timeout})
	if !api.IsReachable(context.Background()) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'previewd serve'", apiUrl)
	}
	return api, nil
}

// Toggle flips the preview session for one document and prints the outcome.
func (c *command) Toggle(f SessionFlags) error {
	key, err := resolveKey(f.Key)
	if err != nil {
		return err
	}
	api, err := dialDaemon(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	res, err := api.Toggle(context.Background(), key)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

// Start ensures a preview session is running for one document.
func (c *command) Start(f SessionFlags) error {
	key, err := resolveKey(f.Key)
	if err != nil {
		return err
	}
	api, err := dialDaemon(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	res, err := api.Start(context.Background(), key)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

// Stop tears down the preview session for one document, then prints the
// final status so the caller sees the session really went away.
func (c *command) Stop(f SessionFlags) error {
	key, err := resolveKey(f.Key)
	if err != nil {
		return err
	}
	api, err := dialDaemon(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	if err := api.Stop(context.Background(), key); err != nil {
		return err
	}
	st, err := api.Status(context.Background(), key)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

// StopAll tears down every live preview session.
func (c *command) StopAll(f StopAllFlags) error {
	api, err := dialDaemon(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	if err := api.StopAll(context.Background()); err != nil {
		return err
	}
	fmt.Println("All preview sessions stopped.")
	return nil
}

// Status prints one document's session status, or every tracked session
// when no document is given.
func (c *command) Status(f StatusFlags) error {
	api, err := dialDaemon(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	if f.Key == "" {
		sessions, err := api.Sessions(context.Background())
		if err != nil {
			return err
		}
		printJSON(sessions)
		return nil
	}
	key, err := resolveKey(f.Key)
	if err != nil {
		return err
	}
	st, err := api.Status(context.Background(), key)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}
