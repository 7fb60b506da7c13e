// ABOUTME: The serve command: reads host hooks from stdin and relays telemetry until EOF or a signal
// ABOUTME: A missing or bad config disables the relay but stdin is still drained so the host never blocks

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/2389/agentlens/internal/config"
	"github.com/2389/agentlens/internal/hooks"
	"github.com/2389/agentlens/internal/metrics"
	"github.com/2389/agentlens/internal/relay"
	"github.com/2389/agentlens/internal/tracing"
)

// shutdownGrace bounds how long in-flight collector requests may run after input ends.
const shutdownGrace = 5 * time.Second

func runServe(ctx context.Context, args []string) error {
	return serve(ctx, args, os.Stdin)
}

func serve(ctx context.Context, args []string, in io.Reader) error {
	flagSet, configPath := newFlagSet("serve")
	quiet := flagSet.BoolP("quiet", "q", false, "do not print the startup banner")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	// Configuration errors disable the subsystem; the host keeps running.
	data, err := os.ReadFile(*configPath)
	if err != nil {
		setupLogger(config.LoggingConfig{}).Error("agentlens disabled", "error", fmt.Errorf("reading config file: %w", err))
		return drain(in)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		setupLogger(config.LoggingConfig{}).Error("agentlens disabled", "error", fmt.Errorf("loading config: %w", err))
		return drain(in)
	}

	logger := setupLogger(cfg.Logging)

	if !*quiet {
		printBanner(cfg, *configPath)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("agentlens disabled", "error", err)
		return drain(in)
	}

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "agentlens",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.OTLPEndpoint,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		srv := startMetricsServer(cfg.Metrics, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	r, err := relay.New(relay.Options{
		Config:  cfg,
		Version: version,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("agentlens disabled", "error", err)
		return drain(in)
	}
	r.Activate()

	logger.Info("starting agentlens",
		"config", *configPath,
		"endpoint", cfg.Collector.Endpoint,
		"agent", cfg.Agent.Name,
	)

	dispatcher := hooks.NewDispatcher(r, logger)
	done := make(chan error, 1)
	go func() {
		done <- dispatcher.Run(ctx, in)
	}()

	select {
	case err = <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("reading host hooks", "error", err)
		}
		logger.Info("host input closed, shutting down")
	case <-ctx.Done():
		logger.Info("signal received, shutting down")
	}

	graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := r.Shutdown(graceCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return nil
}

// drain consumes r until EOF so a host writing hooks into our stdin never blocks.
func drain(r io.Reader) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return fmt.Errorf("draining input: %w", err)
	}
	return nil
}

func startMetricsServer(cfg config.MetricsConfig, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("metrics endpoint listening", "addr", cfg.Addr, "path", cfg.Path)
	return srv
}

func printBanner(cfg *config.Config, configPath string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Fprint(os.Stderr, banner)
	gray.Fprintf(os.Stderr, "    version: %s\n\n", version)

	green.Fprint(os.Stderr, "    ▶ ")
	fmt.Fprintf(os.Stderr, "Config:    %s\n", configPath)
	green.Fprint(os.Stderr, "    ▶ ")
	fmt.Fprintf(os.Stderr, "Collector: %s\n", cfg.Collector.Endpoint)
	green.Fprint(os.Stderr, "    ▶ ")
	fmt.Fprintf(os.Stderr, "Agent:     %s (%s)\n", cfg.Agent.Name, cfg.Agent.Type)
	if cfg.Metrics.Enabled {
		green.Fprint(os.Stderr, "    ▶ ")
		fmt.Fprintf(os.Stderr, "Metrics:   %s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	if cfg.Tracing.OTLPEndpoint != "" {
		green.Fprint(os.Stderr, "    ▶ ")
		fmt.Fprintf(os.Stderr, "OTLP:      %s\n", cfg.Tracing.OTLPEndpoint)
	}
	fmt.Fprintln(os.Stderr)
}
