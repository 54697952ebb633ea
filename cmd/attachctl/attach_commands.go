package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wc-attach-images/wc-attach-images/cmd/attachctl/cli"
	"github.com/wc-attach-images/wc-attach-images/internal/app"
	"github.com/wc-attach-images/wc-attach-images/internal/hostlog"
	"github.com/wc-attach-images/wc-attach-images/internal/observability"
	"github.com/wc-attach-images/wc-attach-images/internal/platform/cache"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var page int
	var single bool
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the attach loop in the foreground",
		Long:  "Run the attach loop in this process instead of the worker. The shared run lock keeps it from overlapping a worker run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.log()
			runCtx := cmd.Context()

			pool, store, err := ctx.openLogStore(runCtx)
			if err != nil {
				return err
			}
			defer pool.Close()

			redisClient, err := cache.New(runCtx, cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			}()

			host, err := app.OpenHost(runCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := host.Close(); err != nil {
					logger.Warn("host close", slog.Any("error", err))
				}
			}()

			runLog := hostlog.NewLogger(store, cfg.AttachLogChannel, logger)
			processor, err := app.NewProcessor(cfg, host, runLog, observability.NewMetrics().Jobs(), logger)
			if err != nil {
				return err
			}
			lock := cache.NewLock(redisClient, cache.AttachRunLockKey, cfg.AttachLockTTL)
			return exitCode(cli.RunCommand(runCtx, processor, lock, cli.RunOptions{
				Page:       page,
				SinglePage: single,
				JSONOutput: jsonOutput,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			}))
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page to start from")
	cmd.Flags().BoolVar(&single, "single", false, "Stop after one page")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the summary as JSON")
	return cmd
}

func newLogCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print recent attach log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			pool, store, err := ctx.openLogStore(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			reader := hostlog.NewLogger(store, cfg.AttachLogChannel, ctx.log())
			return exitCode(cli.LogCommand(cmd.Context(), reader, cli.LogOptions{
				Limit:      limit,
				JSONOutput: jsonOutput,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			}))
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Number of lines to print")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print entries as JSON")
	cmd.AddCommand(newLogPruneCommand(ctx))
	return cmd
}

func newLogPruneCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete attach log lines older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			olderThan := cfg.AttachLogRetention
			if cmd.Flags().Changed("older-than") {
				olderThan, _ = cmd.Flags().GetDuration("older-than")
			}
			pool, store, err := ctx.openLogStore(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			return exitCode(cli.PruneCommand(cmd.Context(), store, cli.PruneOptions{
				Channel:   cfg.AttachLogChannel,
				OlderThan: olderThan,
				Stdout:    cmd.OutOrStdout(),
				Stderr:    cmd.ErrOrStderr(),
			}))
		},
	}
	cmd.Flags().Duration("older-than", 0, "Retention window (defaults to ATTACH_LOG_RETENTION)")
	return cmd
}

func newTermsCommand() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:         "terms SKU...",
		Short:       "Preview the media search keyword derived from SKUs",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return exitCode(cli.TermsCommand(cli.TermsOptions{
				SKUs:       args,
				JSONOutput: jsonOutput,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			}))
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print previews as JSON")
	return cmd
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "hash-password",
		Short:       "Read a password from stdin and print its bcrypt hash for ADMIN_PASSWORD_HASH",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return exitCode(cli.HashPasswordCommand(cli.HashPasswordOptions{
				Stdin:  cmd.InOrStdin(),
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
			}))
		},
	}
}
