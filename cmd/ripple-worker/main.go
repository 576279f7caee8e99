// Command ripple-worker delivers notification jobs from the queue.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xraph/ripple"
	"github.com/xraph/ripple/api"
	"github.com/xraph/ripple/engine"
)

func main() {
	cfg, err := ripple.LoadFromEnv()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ripple-worker exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg ripple.Config, logger *slog.Logger) error {
	backend, err := engine.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	w, err := engine.NewWorker(cfg, backend.Store,
		engine.WithLogger(logger),
		engine.WithCloser(backend),
	)
	if err != nil {
		_ = backend.Close()
		return err
	}
	if err := w.Start(ctx); err != nil {
		_ = backend.Close()
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.New(backend.Store, api.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops server listening", slog.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	// The pool enforces its own drain timeout and abandon grace. This
	// outer bound only guards against a stuck store.
	stopCtx, cancel := context.WithTimeout(context.Background(),
		cfg.Worker.DrainTimeout+cfg.HTTP.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := w.Stop(stopCtx); err != nil {
		errs = append(errs, err)
	}
	if err := srv.Shutdown(stopCtx); err != nil {
		errs = append(errs, err)
	}
	logger.Info("ripple-worker stopped")
	return errors.Join(errs...)
}
