package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"versionstore/internal/repository"
	"versionstore/internal/workdir"
)

func newRepoCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Create or delete a working directory's private repository",
	}
	cmd.AddCommand(newRepoCreateCmd(logger), newRepoDeleteCmd(logger))
	return cmd
}

func newRepoCreateCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Initialize a working directory at path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixed, _ := cmd.Flags().GetBool("fixed-chunker")
			averageBits, _ := cmd.Flags().GetUint("average-bits")
			compression, _ := cmd.Flags().GetBool("compression")
			backupInterval, _ := cmd.Flags().GetInt64("backup-interval")

			cfg := repository.DefaultConfig()
			if fixed {
				cfg.Chunker = repository.ChunkerFixed
			}
			cfg.AverageBits = averageBits
			cfg.Compression = compression
			cfg.BackupIntervalMinutes = backupInterval

			w, err := workdir.Create(cmd.Context(), args[0], cfg, logger)
			if err != nil {
				return err
			}
			fmt.Printf("Initialized working directory at %s (timeline %s)\n", w.Root(), w.Timeline().ID())
			return nil
		},
	}
	cmd.Flags().Bool("fixed-chunker", false, "use fixed-size chunking instead of content-defined")
	cmd.Flags().Uint("average-bits", 20, "content-defined chunker target: average chunk size is 2^N bytes")
	cmd.Flags().Bool("compression", false, "compress blob files with zstd")
	cmd.Flags().Int64("backup-interval", 15, "minutes between database backup snapshots")
	return cmd
}

func newRepoDeleteCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete a working directory's private repository and metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := workdir.Open(cmd.Context(), args[0], logger)
			if err != nil {
				return err
			}
			if err := w.Delete(); err != nil {
				return err
			}
			fmt.Printf("Deleted working directory %s\n", args[0])
			return nil
		},
	}
}
