package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sapo/internal/amqp"
	"sapo/internal/cache"
	"sapo/internal/cli"
	"sapo/internal/config"
	"sapo/internal/gateway"
	"sapo/internal/log"
	"sapo/internal/storage"
)

func main() {
	cfg, logger := cli.Bootstrap()
	logger = logger.WithComponent(log.ComponentGateway)

	origin, err := url.Parse(cfg.GatewayOrigin)
	if err != nil {
		logger.Error("Invalid gateway origin", log.FieldError, err.Error())
		os.Exit(1)
	}

	storageBackend, closeStorage := openCacheStorage(logger, cfg)
	defer closeStorage()

	g, err := gateway.New(gatewayConfig(origin, cfg), storageBackend, http.DefaultTransport, logger)
	if err != nil {
		logger.Error("Invalid gateway configuration", log.FieldError, err.Error())
		closeStorage()
		os.Exit(1)
	}

	reg := gateway.NewRegistration(http.DefaultTransport, logger)
	reg.AutoActivate = cfg.GatewaySkipWaiting
	installCtx, cancelInstall := context.WithTimeout(context.Background(), time.Minute)
	err = reg.Register(installCtx, g)
	cancelInstall()
	if err != nil {
		logger.Error("Gateway registration failed",
			log.FieldGeneration, g.Generation(),
			log.FieldError, err.Error())
		closeStorage()
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.GatewayPort,
		Handler:           gateway.NewHandler(origin, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var consumer *amqp.Client
	if cfg.AMQPURL != "" {
		consumer, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
			closeStorage()
			os.Exit(1)
		}
		defer consumer.Close()
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Gateway shutdown error", log.FieldError, err.Error())
		}
	})

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("Starting sapo gateway",
			log.FieldOperation, log.OpStartup,
			log.FieldGeneration, g.Generation(),
			"port", cfg.GatewayPort,
			"origin", origin.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		// A failed consumer must also stop the HTTP side.
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	})
	if consumer != nil {
		group.Go(func() error {
			logger.Info("Consuming gateway control messages", "queue", cfg.AMQPQueue)
			err := consumer.Consume(gctx, gateway.AMQPHandler(reg))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error("Gateway stopped with error", log.FieldError, err.Error())
		closeStorage()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Gateway stopped gracefully")
}

// gatewayConfig rebases the default precache list onto the configured base path.
func gatewayConfig(origin *url.URL, cfg *config.Config) gateway.Config {
	gc := gateway.DefaultConfig(origin)
	if cfg.GatewayBasePath != gc.BasePath {
		for i, p := range gc.Precache {
			if strings.HasPrefix(p, gc.BasePath) {
				gc.Precache[i] = cfg.GatewayBasePath + strings.TrimPrefix(p, gc.BasePath)
			}
		}
		gc.BasePath = cfg.GatewayBasePath
	}
	gc.AppName = cfg.GatewayAppName
	gc.Version = cfg.GatewayVersion
	return gc
}

// openCacheStorage keeps cached responses in SQLite when a path is
// configured so they survive restarts, otherwise in memory.
func openCacheStorage(logger *log.Logger, cfg *config.Config) (cache.Storage, func()) {
	if cfg.GatewayCacheDBPath == "" {
		logger.Info("Using in-memory cache storage")
		return cache.NewManager(), func() {}
	}
	repo, err := storage.NewSQLiteRepository(cfg.GatewayCacheDBPath)
	if err != nil {
		logger.Error("Failed to open cache database",
			log.FieldError, err.Error(),
			"path", cfg.GatewayCacheDBPath)
		os.Exit(1)
	}
	logger.Info("Using SQLite cache storage", "path", cfg.GatewayCacheDBPath)
	return repo.CacheStorage(), func() { _ = repo.Close() }
}
