package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"versionstore/internal/workdir"
)

// NewRootCommand builds the "reversion" command tree. logger is shared
// by every subcommand that opens a working directory or repository.
func NewRootCommand(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "reversion",
		Short: "File version history storage engine",
	}

	root.PersistentFlags().String("root", ".", "working directory root, or any path beneath it")
	root.PersistentFlags().StringP("output", "o", "table", "output format: table or json")

	root.AddCommand(
		newRepoCmd(logger),
		newCommitCmd(logger),
		newUpdateCmd(logger),
		newRestoreCmd(logger),
		newStatusCmd(logger),
		newPolicyCmd(logger),
		newTagCmd(logger),
	)
	return root
}

func rootFlag(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("root")
	return v
}

func outputFlag(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("output")
	return outputFormat(v)
}

func openWorkDir(cmd *cobra.Command, logger *slog.Logger) (*workdir.WorkDirectory, error) {
	return workdir.OpenFromDescendant(cmd.Context(), rootFlag(cmd), logger)
}
