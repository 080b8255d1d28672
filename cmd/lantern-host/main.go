// Copyright 2026 The Lantern Authors
// SPDX-License-Identifier: Apache-2.0

// lantern-host is the Lantern server: it accepts telnet callers,
// negotiates their terminal capabilities, runs the board menu, and
// launches door programs on their behalf.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/lanternbbs/lantern/lib/config"
	"github.com/lanternbbs/lantern/lib/door"
	"github.com/lanternbbs/lantern/lib/process"
	"github.com/lanternbbs/lantern/lib/session"
	"github.com/lanternbbs/lantern/lib/stats"
	"github.com/lanternbbs/lantern/lib/user"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var listenOverride string
	var logLevelName string

	flagSet := pflag.NewFlagSet("lantern-host", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to lantern.yaml (default: $LANTERN_CONFIG)")
	flagSet.StringVar(&listenOverride, "listen", "", "override the configured listen address")
	flagSet.StringVar(&logLevelName, "log-level", "info", "log level: debug, info, warn, error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevelName)); err != nil {
		return fmt.Errorf("bad --log-level %q: %w", logLevelName, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if listenOverride != "" {
		cfg.Server.Listen = listenOverride
	}

	host, err := newHost(cfg, logger)
	if err != nil {
		return err
	}
	defer host.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return host.Serve(ctx)
}

// host owns the listener and every component behind it.
type host struct {
	cfg          *config.Config
	logger       *slog.Logger
	spool        *stats.Spool
	profiles     user.ProfileSource
	manager      *session.Manager
	orchestrator *door.Orchestrator
	doors        []*door.Descriptor
	negotiation  time.Duration
}

func newHost(cfg *config.Config, logger *slog.Logger) (*host, error) {
	idle, sweep, grace, err := cfg.Server.Durations()
	if err != nil {
		return nil, err
	}
	negotiation, err := cfg.Terminal.Negotiation()
	if err != nil {
		return nil, err
	}
	profiles, err := cfg.Profiles()
	if err != nil {
		return nil, err
	}
	doors, err := cfg.Descriptors()
	if err != nil {
		return nil, err
	}

	var recorder stats.Recorder = stats.Discard
	var spool *stats.Spool
	if cfg.Stats.Spool != "" {
		spool, err = stats.OpenSpool(cfg.Stats.Spool, logger)
		if err != nil {
			return nil, err
		}
		recorder = spool
	}

	manager, err := session.NewManager(session.Config{
		MaxSessions:   cfg.Server.MaxSessions,
		IdleTimeout:   idle,
		SweepInterval: sweep,
		ShutdownGrace: grace,
	},
		session.WithLogger(logger),
		session.WithRecorder(recorder),
	)
	if err != nil {
		if spool != nil {
			spool.Close()
		}
		return nil, err
	}

	usage := user.NewMemoryUsage()
	orchestrator := door.NewOrchestrator(door.OrchestratorConfig{
		Usage:     usage,
		BoardName: cfg.Board.Name,
		SysopName: cfg.Board.SysopName,
		Recorder:  recorder,
		Logger:    logger,
	})

	return &host{
		cfg:          cfg,
		logger:       logger,
		spool:        spool,
		profiles:     user.NewMemorySource(profiles...),
		manager:      manager,
		orchestrator: orchestrator,
		doors:        doors,
		negotiation:  negotiation,
	}, nil
}

// Serve accepts callers until ctx is cancelled, then drains active
// sessions.
func (h *host) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", h.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.cfg.Server.Listen, err)
	}
	h.logger.Info("lantern host up",
		"listen", h.cfg.Server.Listen,
		"board", h.cfg.Board.Name,
		"max_sessions", h.cfg.Server.MaxSessions,
		"doors", len(h.doors),
	)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		h.manager.Run(sweepCtx)
	}()

	// Closing the listener unblocks Accept when ctx ends.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var callers sync.WaitGroup
	for {
		netConn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			h.logger.Warn("accept failed", "error", err)
			continue
		}
		sess, err := h.manager.Admit(netConn)
		if err != nil {
			// Admit already notified and closed the connection.
			continue
		}
		callers.Add(1)
		go func() {
			defer callers.Done()
			h.serveSession(sess)
		}()
	}

	h.logger.Info("shutting down")
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), time.Minute)
	defer cancelDrain()
	h.manager.Shutdown(drainCtx)
	callers.Wait()
	// Join the sweeper before the deferred Close tears down the stats
	// spool it records to.
	stopSweep()
	<-sweepDone
	return nil
}

// Close releases resources the host opened. Safe after a failed
// startup.
func (h *host) Close() {
	if h.spool != nil {
		if err := h.spool.Close(); err != nil {
			h.logger.Warn("closing stats spool", "error", err)
		}
	}
}
