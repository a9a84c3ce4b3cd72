package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newUpdateCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [path...]",
		Short: "Check out a snapshot's content over path(s), leaving local edits alone unless --overwrite",
		RunE: func(cmd *cobra.Command, args []string) error {
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			revPtr, err := revisionFlag(cmd)
			if err != nil {
				return err
			}

			w, err := openWorkDir(cmd, logger)
			if err != nil {
				return err
			}
			if err := w.Update(cmd.Context(), args, revPtr, overwrite); err != nil {
				return err
			}
			fmt.Println("Update complete")
			return nil
		},
	}
	cmd.Flags().Bool("overwrite", false, "overwrite locally modified files too")
	cmd.Flags().Int64("revision", 0, "snapshot revision to update from (default: latest)")
	return cmd
}

// revisionFlag returns a *int64 from the --revision flag, or nil if the
// flag was not set (meaning "the latest snapshot").
func revisionFlag(cmd *cobra.Command) (*int64, error) {
	if !cmd.Flags().Changed("revision") {
		return nil, nil
	}
	rev, err := cmd.Flags().GetInt64("revision")
	if err != nil {
		return nil, err
	}
	return &rev, nil
}
