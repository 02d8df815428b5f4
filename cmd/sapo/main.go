package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"sapo/internal/cli"
	apphttp "sapo/internal/http"
	"sapo/internal/ledger"
	"sapo/internal/log"
)

func main() {
	cfg, logger := cli.Bootstrap()

	store := cli.OpenStore(context.Background(), logger, cfg)
	defer store.Cleanup()

	l := ledger.New(store.Store, logger)

	// Drop keys left behind by older releases before serving.
	if err := l.Cleanup(context.Background()); err != nil {
		logger.Warn("Legacy key cleanup failed", log.FieldError, err.Error())
	}

	scfg := apphttp.DefaultServerConfig()
	scfg.BasePath = cfg.GatewayBasePath
	scfg.TimeSeriesMonths = cfg.TimeSeriesMonths
	scfg.Ready = store.Ping

	srv := apphttp.NewServer(":"+cfg.Port, l, scfg, logger)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
	})

	logger.Info("Starting sapo server",
		log.FieldOperation, log.OpStartup,
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"base_path", cfg.GatewayBasePath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		store.Cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
