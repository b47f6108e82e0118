package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"procstat-agent/api"
	"procstat-agent/collector"
	"procstat-agent/config"
	"procstat-agent/executor"
	"procstat-agent/logger"
)

// Build info
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "procstat-agent: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("procstat agent starting", "version", version, "commit", commit, "built", date)
	log.Info("settings",
		"addr", cfg.ListenAddr,
		"request_timeout", cfg.RequestTimeout,
		"cpu_sample_window", cfg.CPUSampleWindow,
		"process_workers", cfg.ProcessWorkers,
		"start_capture_window", cfg.StartCaptureWindow,
	)

	caps := collector.DetectCapabilities()
	caps.Log(log)

	opts := []collector.Option{
		collector.WithSampleWindow(cfg.CPUSampleWindow),
		collector.WithWorkers(cfg.ProcessWorkers),
	}
	if cfg.DockerEnabled && caps.HasDocker {
		docker, err := collector.NewDockerSource()
		if err != nil {
			log.Warn("container listing disabled", "error", err)
		} else {
			defer docker.Close()
			opts = append(opts, collector.WithContainers(docker))
		}
	}

	col := collector.New(collector.NewHostSource(), log.With("component", "collector"), opts...)
	exe := executor.New(log.With("component", "executor"),
		executor.WithCapture(cfg.StartCaptureWindow, cfg.StartCaptureLimit))
	srv := api.NewServer(col, exe, log.With("component", "api"), cfg.RequestTimeout)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(cfg.ListenAddr)
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		return fmt.Errorf("server stopped: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("bye")
	return nil
}
