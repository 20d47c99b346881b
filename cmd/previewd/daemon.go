package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// daemonize re-execs the serve command in the background and exits the
// parent. Single-instance protection comes from the [server] lock file,
// so a stale child is caught there rather than via a pid file.
func daemonize(f ServeFlags) error {
	// Check if already running as daemon (child process)
	if os.Getppid() == 1 {
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// #nosec 204
	cmd := exec.Command(executable, stripDaemonArgs(os.Args[1:])...)
	configureDaemonAttrs(cmd)

	cmd.Stdin = nil
	if f.LogFile != "" {
		// #nosec 304
		logF, err := os.OpenFile(f.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		cmd.Stdout = logF
		cmd.Stderr = logF
	} else {
		cmd.Stdout = nil
		cmd.Stderr = nil
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	fmt.Printf("Daemon started with PID %d\n", cmd.Process.Pid)

	// Parent process exits
	os.Exit(0)
	return nil
}

// stripDaemonArgs rebuilds the argument list without the daemonize flags
// so the child runs serve in the foreground.
func stripDaemonArgs(args []string) []string {
	var newArgs []string
	skipNext := false
	for _, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		if arg == "--daemonize" || arg == "--daemonize=true" {
			continue
		}
		if arg == "--logfile" {
			skipNext = true
			continue
		}
		if strings.HasPrefix(arg, "--logfile=") {
			continue
		}
		newArgs = append(newArgs, arg)
	}
	return newArgs
}
