package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is stamped at release time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires every subcommand
func buildRoot() *cobra.Command {
	sessionFlags := &SessionFlags{}
	statusFlags := &StatusFlags{}
	stopAllFlags := &StopAllFlags{}

	previewdCommand := command{}

	root := createRootCommand()
	root.AddCommand(
		createToggleCommand(previewdCommand, sessionFlags),
		createStartCommand(previewdCommand, sessionFlags),
		createStopCommand(previewdCommand, sessionFlags),
		createStopAllCommand(previewdCommand, stopAllFlags),
		createStatusCommand(previewdCommand, statusFlags),
		createServeCommand(),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command
func createRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "previewd",
		Short: "Background preview sessions for documents",
		Long: `previewd keeps live document previews running in the background.

It launches one rendering tool per document, waits for the tool to print
its local web endpoint, and hands that endpoint to clients. Sessions are
toggled per document: the same command starts a preview when none is
running and stops the one that is.`,
	}
}

// createToggleCommand creates the toggle subcommand
func createToggleCommand(previewdCommand command, sessionFlags *SessionFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toggle <document>",
		Short: "Toggle the preview session for a document",
		Long: `Toggle the preview session for a document.

Starts a preview when none is running and stops the running one otherwise.
On start the command blocks until the rendering tool reports its endpoint.

Examples:
  previewd toggle docs/report.qmd
  previewd toggle docs/report.qmd --api-url=http://remote:8710/api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionFlags.Key = args[0]
			return previewdCommand.Toggle(*sessionFlags)
		},
	}
	cmd.Flags().StringVar(&sessionFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8710/api)")
	cmd.Flags().DurationVar(&sessionFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}

// createStartCommand creates the start subcommand
func createStartCommand(previewdCommand command, sessionFlags *SessionFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <document>",
		Short: "Start a preview session",
		Long: `Start a preview session for a document.

Unlike toggle this never stops anything: if the session is already
running it just reports the existing endpoint.

Examples:
  previewd start docs/report.qmd
  previewd start docs/report.qmd --api-timeout=1m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionFlags.Key = args[0]
			return previewdCommand.Start(*sessionFlags)
		},
	}
	cmd.Flags().StringVar(&sessionFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8710/api)")
	cmd.Flags().DurationVar(&sessionFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(previewdCommand command, sessionFlags *SessionFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <document>",
		Short: "Stop a preview session",
		Long: `Stop the preview session for a document.

Stopping a document with no session is not an error.

Examples:
  previewd stop docs/report.qmd
  previewd stop docs/report.qmd --api-url=http://remote:8710/api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionFlags.Key = args[0]
			return previewdCommand.Stop(*sessionFlags)
		},
	}
	cmd.Flags().StringVar(&sessionFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8710/api)")
	cmd.Flags().DurationVar(&sessionFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}

// createStopAllCommand creates the stop-all subcommand
func createStopAllCommand(previewdCommand command, stopAllFlags *StopAllFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every preview session",
		Long: `Stop every preview session the daemon is tracking.

Example:
  previewd stop-all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return previewdCommand.StopAll(*stopAllFlags)
		},
	}
	cmd.Flags().StringVar(&stopAllFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8710/api)")
	cmd.Flags().DurationVar(&stopAllFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(previewdCommand command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [document]",
		Short: "Show preview session status",
		Long: `Show the status of preview sessions.

Examples:
  previewd status                   # Every tracked session
  previewd status docs/report.qmd   # One document
  previewd status --api-url=http://remote:8710/api`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				statusFlags.Key = args[0]
			}
			return previewdCommand.Status(*statusFlags)
		},
	}
	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8710/api)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}

// createServeCommand creates the serve subcommand
func createServeCommand() *cobra.Command {
	serveFlags := &ServeFlags{ConfigPath: "previewd.toml"}
	cmd := &cobra.Command{
		Use:   "serve [config]",
		Short: "Run the preview daemon",
		Long: `Run the previewd daemon.

The daemon owns every preview session: it spawns rendering tools, tracks
their endpoints, and serves the REST API the other commands talk to.
The config argument defaults to previewd.toml in the current directory.

Examples:
  previewd serve previewd.toml
  previewd serve previewd.toml --daemonize --logfile /var/log/previewd.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				serveFlags.ConfigPath = args[0]
			}
			return runServeCommand(*serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run in the background as a daemon")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to this file (with --daemonize)")
	return cmd
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the previewd version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("previewd %s\n", version)
		},
	}
}
