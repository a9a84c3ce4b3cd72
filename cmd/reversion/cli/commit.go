package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func newCommitCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit [path...]",
		Short: "Snapshot the modified files under path(s) (default: the whole working directory)",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			pinned, _ := cmd.Flags().GetBool("pin")
			description, _ := cmd.Flags().GetString("description")
			name, _ := cmd.Flags().GetString("name")

			w, err := openWorkDir(cmd, logger)
			if err != nil {
				return err
			}

			var namePtr *string
			if cmd.Flags().Changed("name") {
				namePtr = &name
			}

			snap, err := w.Commit(cmd.Context(), args, force, namePtr, description, pinned)
			if err != nil {
				return err
			}
			if snap == nil {
				fmt.Println("Nothing to commit")
				return nil
			}

			fmt.Printf("Committed revision %d\n", snap.Revision())

			applied, err := w.ApplyCleanupPolicies(cmd.Context())
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: cleanup policy evaluation failed: %v\n", err)
				return nil
			}
			if applied > 0 {
				fmt.Printf("Cleanup removed %d version(s)\n", applied)
			}
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "commit every walked path, not just modified ones")
	cmd.Flags().Bool("pin", false, "pin the resulting snapshot against cleanup policies")
	cmd.Flags().String("description", "", "snapshot description")
	cmd.Flags().String("name", "", "snapshot name")
	return cmd
}
