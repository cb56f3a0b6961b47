// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

// tcmmd is the traffic control multimedia daemon. It polices inbound
// bandwidth on one interface so that a media stream reported over the bus
// keeps its buffer healthy while background traffic takes what is left.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alban/tcmmd/internal/bus"
	"github.com/alban/tcmmd/internal/clock"
	"github.com/alban/tcmmd/internal/config"
	"github.com/alban/tcmmd/internal/daemon"
	"github.com/alban/tcmmd/internal/logging"
	"github.com/alban/tcmmd/internal/metrics"
	"github.com/alban/tcmmd/internal/tc"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		iface       string
		statsFile   string
		configFile  string
		metricsAddr string
		logLevel    string
	)
	flag.StringVar(&iface, "interface", "", "Network interface (usually eth0)")
	flag.StringVar(&iface, "i", "", "Network interface (shorthand)")
	flag.StringVar(&statsFile, "save-stats", "", "Save traffic control stats in a file")
	flag.StringVar(&statsFile, "s", "", "Save traffic control stats (shorthand)")
	flag.StringVar(&configFile, "config", "", "Configuration file")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg := config.Default()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFile(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	if iface != "" {
		cfg.Interface = iface
	}
	if statsFile != "" {
		cfg.StatsFile = statsFile
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := logging.New(logging.Config{
		Output: os.Stderr,
		Level:  logging.ParseLevel(cfg.LogLevel),
	})
	logging.SetDefault(logger)

	m := metrics.New()
	engine := tc.NewEngine(logger, m)

	d, err := daemon.New(cfg, logger, engine, m, clock.Real())
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The teardown hook is in place before the first kernel mutation, so
	// every exit below restores default networking.
	defer engine.Uninit()

	if err := engine.Init(cfg.Interface); err != nil {
		logger.Error("init failed", "error", err)
		return 1
	}
	if err := engine.InitIfb(); err != nil {
		logger.Error("init failed", "error", err)
		return 1
	}
	logger.Info("init done")

	svc, err := bus.New(d.Submit, logger, m)
	if err != nil {
		logger.Error("bus setup failed", "error", err)
		return 1
	}
	defer svc.Close()

	if cfg.MetricsAddr != "" {
		go func() {
			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	if err := d.Run(ctx); err != nil {
		logger.Error("fatal", "error", err)
		return 1
	}
	return 0
}
