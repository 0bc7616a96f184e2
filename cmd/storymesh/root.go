package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	envFiles []string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "storymesh",
		Short:         "Conversation orchestration for autonomous agents",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil, "Load settings from these .env files (default: ./.env when present)")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newLoreCmd())
	return cmd
}
