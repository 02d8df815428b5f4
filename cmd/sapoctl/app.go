package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/subcommands"

	"sapo/internal/backend"
	"sapo/internal/config"
	"sapo/internal/ledger"
	"sapo/internal/log"
)

// app holds what every command shares. open is replaced in tests.
type app struct {
	out     io.Writer
	now     func() time.Time
	open    func(ctx context.Context) (*ledger.Ledger, error)
	closers []func() error
}

func newApp(out io.Writer) *app {
	a := &app{out: out, now: time.Now}
	a.open = a.openConfigured
	return a
}

func (a *app) register(c *subcommands.Commander) {
	const (
		entries = "entries"
		views   = "views"
		backup  = "backup"
		gw      = "gateway"
	)
	c.Register(&addCmd{app: a}, entries)
	c.Register(&quickCmd{app: a}, entries)
	c.Register(&investCmd{app: a}, entries)
	c.Register(&goodCmd{app: a}, entries)
	c.Register(&deleteCmd{app: a}, entries)
	c.Register(&listCmd{app: a}, views)
	c.Register(&balanceCmd{app: a}, views)
	c.Register(&monthCmd{app: a}, views)
	c.Register(&seriesCmd{app: a}, views)
	c.Register(&categoriesCmd{app: a}, views)
	c.Register(&exportCmd{app: a}, backup)
	c.Register(&importCmd{app: a}, backup)
	c.Register(&gatewayMessageCmd{app: a}, gw)
}

// openConfigured opens the backend named by the environment.
func (a *app) openConfigured(ctx context.Context) (*ledger.Ledger, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := stderrLogger(cfg)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.DataBackend, err)
	}
	a.closers = append(a.closers, res.Cleanup)
	return ledger.New(res.Store, logger), nil
}

// stderrLogger logs at warn level or above so stdout stays clean.
func stderrLogger(cfg *config.Config) *log.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	return log.New(log.Config{
		Level:     level,
		Component: log.ComponentCLI,
		Handler:   slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	})
}

func (a *app) close() {
	for _, c := range a.closers {
		if c != nil {
			_ = c()
		}
	}
}

// fail prints err to stderr and returns the failure status.
func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, "Error:", err)
	return subcommands.ExitFailure
}

func usage(msg string) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	return subcommands.ExitUsageError
}
