package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newRestoreCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore [path...]",
		Short: "Safety-commit path(s), then force-overwrite them from a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			revPtr, err := revisionFlag(cmd)
			if err != nil {
				return err
			}

			w, err := openWorkDir(cmd, logger)
			if err != nil {
				return err
			}
			if err := w.Restore(cmd.Context(), args, revPtr); err != nil {
				return err
			}
			fmt.Println("Restore complete")
			return nil
		},
	}
	cmd.Flags().Int64("revision", 0, "snapshot revision to restore from (default: latest)")
	return cmd
}
