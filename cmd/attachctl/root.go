package main

import (
	"github.com/spf13/cobra"

	"github.com/wc-attach-images/wc-attach-images/migrations"
)

var migrationFiles = migrations.Files

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "attachctl",
		Short:         "Attach media library images to WooCommerce products by SKU",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newTriggerCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newLogCommand(ctx))
	rootCmd.AddCommand(newTermsCommand())
	rootCmd.AddCommand(newHashPasswordCommand())

	return rootCmd
}
