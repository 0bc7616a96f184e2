package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hupe1980/storymesh/lore"
)

func newLoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lore",
		Short: "Inspect lore directories",
	}
	cmd.AddCommand(newLoreCheckCmd())
	return cmd
}

func newLoreCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <dir>",
		Short: "Load and validate every lore file in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := lore.LoadDir(args[0])

			sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "ok  %s (%d keywords, categories: %v)\n", e.Name, len(e.Keywords), e.Categories)
			}
			fmt.Fprintf(out, "%d valid entries\n", len(entries))

			if err != nil {
				return fmt.Errorf("invalid lore: %w", err)
			}
			return nil
		},
	}
}
