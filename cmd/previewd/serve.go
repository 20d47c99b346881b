package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/loykin/previewd"
)

// runServeCommand assembles the daemon from config and runs it until a
// shutdown signal arrives.
func runServeCommand(f ServeFlags) error {
	if f.Daemonize {
		return daemonize(f)
	}

	cfg, err := previewd.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", f.ConfigPath, err)
	}
	if cfg.Server == nil {
		return fmt.Errorf("config %s needs a [server] section to run the daemon", f.ConfigPath)
	}

	lg := cfg.LoggerConfig().NewSlogger()
	slog.SetDefault(lg)

	// One daemon per lock file. A second instance exits here instead of
	// racing the first for sessions.
	if cfg.Server.LockFile != "" {
		lock := flock.New(cfg.Server.LockFile)
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", cfg.Server.LockFile, err)
		}
		if !locked {
			return fmt.Errorf("another previewd instance holds %s", cfg.Server.LockFile)
		}
		defer func() { _ = lock.Unlock() }()
	}

	var hub *previewd.ViewerHub
	if cfg.Presentation.Mode == previewd.ModeEmbedded {
		hub = previewd.NewViewerHub(lg)
	}
	presenter := previewd.SelectPresenter(cfg.Presentation.Mode, hub, lg)

	sink, err := previewd.NewHistorySink(cfg.History)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer func() {
		if err := previewd.CloseHistorySink(sink); err != nil {
			lg.Warn("close history sink", "error", err)
		}
	}()

	// Global pairs go in first so [tool] env entries win on conflict.
	toolEnv := previewd.NewGlobalEnv(append(append([]string{}, cfg.GlobalEnv...), cfg.Tool.Env...))

	opts := previewd.Options{
		Command:    cfg.Tool.Command,
		Subcommand: cfg.Tool.Subcommand,
		ExtraArgs:  cfg.Tool.Args,
		UsePTY:     cfg.Tool.UsePTY,
		Timeout:    cfg.Tool.Timeout,
		StopGrace:  cfg.Tool.StopGrace,
		Env:        toolEnv,
		Logger:     lg,
		Sinks:      sink,
		Presenter:  presenter,
	}
	if cfg.Log != nil && (cfg.Log.Dir != "" || cfg.Log.Stdout != "" || cfg.Log.Stderr != "") {
		lc := cfg.LoggerConfig()
		opts.Capture = &lc
	}
	mgr := previewd.New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sampler *previewd.ResourceSampler
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if err := previewd.RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		sampler = previewd.NewResourceSampler(cfg.Metrics.Sampler)
		if err := previewd.RegisterSamplerDefault(sampler); err != nil {
			return fmt.Errorf("register sampler: %w", err)
		}
		sampler.Start(ctx, mgr.LivePIDs)
		defer sampler.Stop()
		if cfg.Metrics.Listen != "" {
			metricsListen := cfg.Metrics.Listen
			go func() {
				if err := previewd.ServeMetrics(metricsListen); err != nil {
					lg.Error("metrics server failed", "error", err)
				}
			}()
		}
	}

	srv, err := previewd.NewHTTPServer(cfg.Server.Listen, mgr, previewd.ServerOptions{
		BasePath: cfg.Server.BasePath,
		Hub:      hub,
		Sampler:  sampler,
		Logger:   lg,
	})
	if err != nil {
		return fmt.Errorf("start API server: %w", err)
	}

	fmt.Printf("previewd daemon started\n")
	fmt.Printf("API server listening on %s (base path %s)\n", cfg.Server.Listen, cfg.Server.BasePath)
	if hub != nil {
		fmt.Printf("Embedded viewer at %s/view/<document>\n", cfg.Server.BasePath)
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		fmt.Printf("Metrics available at http://%s/metrics\n", cfg.Metrics.Listen)
	}
	fmt.Printf("Preview tool: %s %s\n", cfg.Tool.Command, cfg.Tool.Subcommand)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")

	// Refuse new API work before tearing sessions down, so a late toggle
	// cannot respawn a tool mid-shutdown.
	_ = srv.Close()
	if err := mgr.StopAll(); err != nil {
		lg.Warn("stop sessions", "error", err)
	}
	return nil
}
