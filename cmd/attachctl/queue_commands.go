package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wc-attach-images/wc-attach-images/cmd/attachctl/cli"
)

func newTriggerCommand(ctx *commandContext) *cobra.Command {
	var continuation bool
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Schedule an attach run on the worker queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("continuation") {
				continuation = cfg.AttachContinuation
			}
			jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer func() {
				if err := jobsCLI.Close(); err != nil {
					ctx.log().Warn("close queue client", slog.Any("error", err))
				}
			}()
			return exitCode(jobsCLI.TriggerCommand(cmd.Context(), cli.TriggerOptions{
				Continuation: continuation,
				RequestedBy:  "attachctl",
				JSONOutput:   jsonOutput,
				Stdout:       cmd.OutOrStdout(),
				Stderr:       cmd.ErrOrStderr(),
			}))
		},
	}
	cmd.Flags().BoolVar(&continuation, "continuation", false, "Process one page per task and chain the next page (defaults to ATTACH_CONTINUATION)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue counters and the next attach run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer func() {
				if err := jobsCLI.Close(); err != nil {
					ctx.log().Warn("close queue client", slog.Any("error", err))
				}
			}()
			return exitCode(jobsCLI.StatusCommand(cmd.Context(), cli.StatusOptions{
				JSONOutput: jsonOutput,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			}))
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the status as JSON")
	return cmd
}
