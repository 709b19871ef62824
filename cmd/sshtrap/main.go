// Copyright 2026 Gravitational, Inc
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command sshtrap runs the SSH honeypot: it listens for incoming SSH
// connections, records every authentication attempt, command, and
// uploaded file, and presents an interactive simulated filesystem to
// whoever logs in.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/trace"

	"github.com/coldwatch/sshtrap/lib/config"
	"github.com/coldwatch/sshtrap/lib/events"
	"github.com/coldwatch/sshtrap/lib/hostkeys"
	"github.com/coldwatch/sshtrap/lib/intel"
	"github.com/coldwatch/sshtrap/lib/policy"
	"github.com/coldwatch/sshtrap/lib/shell"
	"github.com/coldwatch/sshtrap/lib/srv"
)

func main() {
	log.SetFormatter(&log.TextFormatter{})

	if err := run(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			log.WithError(exitErr.Err).Error("sshtrap exited with error")
			os.Exit(exitErr.Code)
		}
		log.WithError(err).Error("sshtrap exited with error")
		os.Exit(1)
	}
}

// exitCodeError carries the specific exit code spec.md §6 assigns to a
// startup failure class.
type exitCodeError struct {
	Code int
	Err  error
}

func (e *exitCodeError) Error() string { return e.Err.Error() }
func (e *exitCodeError) Unwrap() error { return e.Err }

func run() error {
	cfg, err := config.Parse("sshtrap", "An SSH honeypot that logs everything and lets in anyone.", os.Args[1:])
	if err != nil {
		return &exitCodeError{Code: 2, Err: trace.Wrap(err)}
	}

	ctx, cancel := contextWithSignals()
	defer cancel()

	pool, err := pgxpool.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return &exitCodeError{Code: 1, Err: trace.Wrap(err)}
	}
	defer pool.Close()

	clock := clockwork.NewRealClock()

	pipeline, err := events.New(events.Config{
		DB:           pool,
		Clock:        clock,
		CacheCleanup: cfg.AbuseIPCacheCleanup,
	})
	if err != nil {
		return &exitCodeError{Code: 1, Err: trace.Wrap(err)}
	}
	pipeline.Start(ctx)
	defer pipeline.Close()

	mgr, err := buildIntelManager(cfg, pipeline, clock)
	if err != nil {
		return &exitCodeError{Code: 1, Err: trace.Wrap(err)}
	}

	keys, err := hostkeys.Load(cfg.KeyFolder)
	if err != nil {
		return &exitCodeError{Code: 1, Err: trace.Wrap(err)}
	}

	pol := policy.DefaultPolicy()
	pol.RejectAll = cfg.RejectAllAuth
	pol.SFTPEnabled = cfg.EnableSFTP
	pol.Banner = cfg.AuthenticationBanner
	pol.Tarpit.Enabled = cfg.Tarpit

	baseFS := shell.NewFS(shell.DefaultTree(shell.DefaultPersona()))

	server, err := srv.New(srv.Config{
		Addrs:    cfg.Interfaces,
		HostKeys: keys,
		Policy:   pol,
		Pipeline: pipeline,
		Intel:    mgr,
		BaseFS:   baseFS,
		Clock:    clock,
	})
	if err != nil {
		return &exitCodeError{Code: 1, Err: trace.Wrap(err)}
	}

	go serveMetrics()

	errC := make(chan error, 1)
	go func() {
		errC <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		server.Close()
		return nil
	case err := <-errC:
		if err != nil {
			return &exitCodeError{Code: 1, Err: trace.Wrap(err)}
		}
		return nil
	}
}

func buildIntelManager(cfg *config.Config, pipeline *events.Pipeline, clock clockwork.Clock) (*intel.Manager, error) {
	var abuse *intel.AbuseIPDB
	var ipapi *intel.IPAPI
	var err error

	if cfg.AbuseIPDBAPIKey != "" {
		abuse, err = intel.NewAbuseIPDB(intel.AbuseIPDBConfig{
			APIKey: cfg.AbuseIPDBAPIKey,
			Store:  pipeline,
			Clock:  clock,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	if !cfg.DisableIPAPI {
		ipapi, err = intel.NewIPAPI(intel.IPAPIConfig{
			Store: pipeline,
			Clock: clock,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}

	return intel.NewManager(abuse, ipapi), nil
}

func contextWithSignals() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{
		Addr:         "127.0.0.1:9090",
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Warn("metrics listener exited")
	}
}
