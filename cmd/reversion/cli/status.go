package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func newStatusCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status [path...]",
		Short: "List files under path(s) that differ from the latest snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkDir(cmd, logger)
			if err != nil {
				return err
			}
			modified, err := w.GetStatus(cmd.Context(), args)
			if err != nil {
				return err
			}

			p := newPrinter(outputFlag(cmd))
			if p.isJSON() {
				return p.json(modified)
			}
			rows := make([][]string, len(modified))
			for i, m := range modified {
				rows[i] = []string{m}
			}
			p.table([]string{"PATH"}, rows)
			return nil
		},
	}
}
