package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/wc-attach-images/wc-attach-images/internal/app"
	"github.com/wc-attach-images/wc-attach-images/internal/hostlog"
	"github.com/wc-attach-images/wc-attach-images/internal/platform/db"
)

const skipConfigAnnotation = "skipConfigLoad"

type commandContext struct {
	configOnce sync.Once
	config     *app.Config
	configErr  error
	logger     *slog.Logger
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*app.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := app.LoadConfig()
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = app.NewLoggerTo(cfg, os.Stderr)
	})
	return c.config, c.configErr
}

func (c *commandContext) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// openLogStore connects to Postgres and applies pending migrations.
func (c *commandContext) openLogStore(ctx context.Context) (*pgxpool.Pool, *hostlog.PostgresStore, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.Migrate(ctx, pool, migrationFiles); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, hostlog.NewPostgresStore(pool), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations[skipConfigAnnotation] == "true" {
			return true
		}
	}
	return false
}
