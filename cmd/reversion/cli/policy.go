package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"versionstore/internal/cleanup"
)

func newPolicyCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage the cleanup policies bound to a working directory's timeline",
	}
	cmd.AddCommand(newPolicyCreateCmd(logger), newPolicyListCmd(logger), newPolicyClearCmd(logger))
	return cmd
}

func newPolicyCreateCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Bind a new cleanup policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			versions, _ := cmd.Flags().GetInt64("versions")
			duration, _ := cmd.Flags().GetDuration("duration")
			description, _ := cmd.Flags().GetString("description")

			var p cleanup.Policy
			switch kind {
			case "forever":
				p = cleanup.Forever()
			case "versions":
				p = cleanup.OfVersions(versions)
			case "duration":
				p = cleanup.OfDuration(int64(duration), time.Nanosecond)
			case "staggered":
				p = cleanup.OfStaggered(versions, duration)
			default:
				return fmt.Errorf("unknown policy kind %q (want forever, versions, duration, or staggered)", kind)
			}
			if description != "" {
				p.Description = description
			}

			w, err := openWorkDir(cmd, logger)
			if err != nil {
				return err
			}
			id := uuid.Must(uuid.NewV7()).String()
			if err := w.AddCleanupPolicy(cmd.Context(), id, p); err != nil {
				return err
			}
			fmt.Printf("Bound cleanup policy %s (%s)\n", id, p.Description)
			return nil
		},
	}
	cmd.Flags().String("kind", "staggered", "policy kind: forever, versions, duration, or staggered")
	cmd.Flags().Int64("versions", 1, "max versions kept per bucket (versions/staggered kinds)")
	cmd.Flags().Duration("duration", 24*time.Hour, "bucket width (staggered) or retention window (duration)")
	cmd.Flags().String("description", "", "override the policy's generated description")
	return cmd
}

func newPolicyListCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the cleanup policies bound to this working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkDir(cmd, logger)
			if err != nil {
				return err
			}
			rows, err := w.CleanupPolicies(cmd.Context())
			if err != nil {
				return err
			}

			p := newPrinter(outputFlag(cmd))
			if p.isJSON() {
				return p.json(rows)
			}
			out := make([][]string, len(rows))
			for i, r := range rows {
				out[i] = []string{r.ID, time.Duration(r.MinInterval).String(), time.Duration(r.TimeFrame).String(), fmt.Sprint(r.MaxVersions), r.Description}
			}
			p.table([]string{"ID", "MIN-INTERVAL", "TIME-FRAME", "MAX-VERSIONS", "DESCRIPTION"}, out)
			return nil
		},
	}
}

func newPolicyClearCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Unbind every cleanup policy from this working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkDir(cmd, logger)
			if err != nil {
				return err
			}
			if err := w.ClearCleanupPolicies(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Cleared cleanup policies")
			return nil
		},
	}
}
