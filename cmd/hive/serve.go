// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/jllopis/hive/pkg/config"
	"github.com/jllopis/hive/pkg/errors"
)

// ServeCmd serves the HTTP gateway until interrupted.
type ServeCmd struct {
	Addr  string `help:"Listen address. Overrides http.addr."`
	Watch bool   `help:"Reload tool servers when the config file changes."`
}

func (c *ServeCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(ctx, cli)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.close(shutdownCtx)
	}()

	if c.Watch && cli.Config != "" {
		w, err := config.NewWatcher(cli.Config,
			config.WithOverrides(cli.Set...),
			config.WithWatchLogger(a.logger))
		if err != nil {
			return withHint(err, hintFor(errors.CodeConfig, cli.Config))
		}
		a.gw.Watch(ctx, w)
		if err := w.Start(ctx); err != nil {
			return errors.New(errors.CodeConfig, "cannot watch config file", err)
		}
		defer w.Stop()
	}

	addr := a.cfg.HTTP.Addr
	if c.Addr != "" {
		addr = c.Addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("gateway listening", "addr", addr, "tools", len(a.reg.Tools()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !stderrors.Is(err, http.ErrServerClosed) {
			return errors.New(errors.CodeTransport, "http server failed", err).WithContext("addr", addr)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
