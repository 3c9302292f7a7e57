// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kraklabs/repomine/internal/config"
	"github.com/kraklabs/repomine/internal/errors"
	"github.com/kraklabs/repomine/internal/sheet"
	"github.com/kraklabs/repomine/pkg/ghapi"
	"github.com/kraklabs/repomine/pkg/warehouse"
)

// app holds what every data command needs: configuration, logger and an
// open warehouse.
type app struct {
	globals GlobalFlags
	cfg     *config.Config
	logger  *slog.Logger
	wh      warehouse.Warehouse
	pacer   *ghapi.Pacer
	closers []func() error
}

func newApp(globals GlobalFlags) (*app, error) {
	cfg, err := config.LoadConfig(globals.Config)
	if err != nil {
		return nil, errors.NewConfigError(
			"Cannot load configuration",
			err.Error(),
			"Run 'repomine init' or fix the file passed with --config",
			err,
		)
	}
	if globals.Verbose > 0 {
		cfg.Log.Level = "debug"
	}
	logger, closeLog := config.SetupLogger(cfg.Log)
	slog.SetDefault(logger)

	a := &app{
		globals: globals,
		cfg:     cfg,
		logger:  logger,
		pacer:   ghapi.NewPacer(cfg.GitHub.QuotaPerHour, cfg.GitHub.Margin),
		closers: []func() error{closeLog},
	}

	wh, err := warehouse.Open(warehouse.Config{Engine: cfg.Warehouse.Engine, DSN: cfg.Warehouse.DSN})
	if err != nil {
		a.Close()
		return nil, errors.NewWarehouseError(
			"Cannot open warehouse",
			err.Error(),
			"Check warehouse.engine and warehouse.dsn in the configuration",
			err,
		)
	}
	a.wh = wh
	a.closers = append(a.closers, wh.Close)

	if globals.MetricsAddr != "" {
		srv := serveMetrics(globals.MetricsAddr, logger)
		a.closers = append(a.closers, srv.Close)
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("app.close", "err", err)
		}
	}
}

// client returns a GitHub client sharing the app pacer.
func (a *app) client() (*ghapi.Client, error) {
	if a.cfg.GitHub.Token == "" {
		a.logger.Warn("github.token.missing", "hint", "unauthenticated requests have a much lower quota")
	}
	c, err := ghapi.New(a.pacer, ghapi.Options{
		BaseURL:      a.cfg.GitHub.BaseURL,
		Token:        a.cfg.GitHub.Token,
		Timeout:      a.cfg.GitHub.Timeout,
		Cooldown:     a.cfg.GitHub.Cooldown,
		MaxCooldowns: a.cfg.GitHub.MaxCooldowns,
		Logger:       a.logger,
	})
	if err != nil {
		return nil, errors.NewInternalError("Cannot create GitHub client", "", "", err)
	}
	return c, nil
}

// repos reads the repo list named by the sheet section.
func (a *app) repos(ctx context.Context) ([]string, error) {
	repos, err := sheet.Repos(ctx, a.cfg.Sheet.Source)
	if err != nil {
		return nil, errors.NewConfigError(
			"Cannot read the repo list",
			err.Error(),
			"Set sheet.source (or REPOMINE_SHEET) to a CSV with repo_name and use_repo columns",
			err,
		)
	}
	a.logger.Info("sheet.loaded", "repos", len(repos))
	return repos, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("shutdown.signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("metrics.http.start", "addr", addr, "path", "/metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics.http.error", "err", err)
		}
	}()
	return srv
}
