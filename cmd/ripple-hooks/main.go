// Command ripple-hooks receives content mutations over HTTP and runs their
// side effects: cache invalidation, aggregate recalculation and
// notification enqueueing.
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
	"github.com/xraph/ripple/content/postgres"
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
		logger.Error("ripple-hooks exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg ripple.Config, logger *slog.Logger) error {
	backend, err := engine.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	contents, err := postgres.Open(ctx, cfg.Postgres.DSN, postgres.WithLogger(logger))
	if err != nil {
		_ = backend.Close()
		return err
	}
	if err := contents.Migrate(ctx); err != nil {
		_ = contents.Close()
		_ = backend.Close()
		return err
	}

	pipeOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithCloser(contents),
		engine.WithCloser(backend),
	}
	if backend.Redis != nil {
		pipeOpts = append(pipeOpts, engine.WithRedis(backend.Redis))
	}
	pipe, err := engine.NewPipeline(cfg, backend.Store, contents, pipeOpts...)
	if err != nil {
		_ = contents.Close()
		_ = backend.Close()
		return err
	}

	opts := []api.Option{api.WithHooks(pipe.Dispatcher), api.WithLogger(logger)}
	if cfg.HTTP.HookSecret != "" {
		opts = append(opts, api.WithHookSecret(cfg.HTTP.HookSecret))
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.New(backend.Store, opts...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("hook server listening", slog.String("addr", cfg.HTTP.Addr), slog.String("tier", string(cfg.Tier)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			_ = pipe.Stop(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	// Requests are finished; flush pending recalculations and invalidations.
	if err := pipe.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	logger.Info("ripple-hooks stopped")
	return errors.Join(errs...)
}
