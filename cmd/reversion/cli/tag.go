package cli

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"versionstore/internal/history"
)

func pathsOf(versions []*history.Version) []string {
	paths := make([]string, len(versions))
	for i, v := range versions {
		paths[i] = v.Path()
	}
	return paths
}

// tag-like metadata (name, description, pinned) lives on Snapshot
// directly; there is no separate Tag entity to create or destroy, so
// "tag create"/"tag remove" act on an existing revision's metadata and
// the snapshot itself, respectively.
func newTagCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage the name/description/pinned metadata on snapshots",
	}
	cmd.AddCommand(
		newTagCreateCmd(logger),
		newTagModifyCmd(logger),
		newTagRemoveCmd(logger),
		newTagListCmd(logger),
		newTagInfoCmd(logger),
	)
	return cmd
}

func parseRevision(s string) (int64, error) {
	rev, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid revision %q: %w", s, err)
	}
	return rev, nil
}

func newTagCreateCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <revision>",
		Short: "Assign a name to an existing snapshot revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, err := parseRevision(args[0])
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")

			w, err := openWorkDir(cmd, logger)
			if err != nil {
				return err
			}
			snap, err := w.Timeline().GetSnapshot(cmd.Context(), rev)
			if err != nil {
				return err
			}
			if err := snap.SetName(cmd.Context(), &name); err != nil {
				return err
			}
			fmt.Printf("Tagged revision %d as %q\n", rev, name)
			return nil
		},
	}
	cmd.Flags().String("name", "", "tag name (required)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTagModifyCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modify <revision>",
		Short: "Change a snapshot's name, description, and/or pinned flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, err := parseRevision(args[0])
			if err != nil {
				return err
			}

			w, err := openWorkDir(cmd, logger)
			if err != nil {
				return err
			}
			snap, err := w.Timeline().GetSnapshot(cmd.Context(), rev)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("name") {
				name, _ := cmd.Flags().GetString("name")
				if err := snap.SetName(cmd.Context(), &name); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("description") {
				description, _ := cmd.Flags().GetString("description")
				if err := snap.SetDescription(cmd.Context(), description); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("pin") {
				pin, _ := cmd.Flags().GetBool("pin")
				if err := snap.SetPinned(cmd.Context(), pin); err != nil {
					return err
				}
			}
			fmt.Printf("Updated revision %d\n", rev)
			return nil
		},
	}
	cmd.Flags().String("name", "", "new tag name")
	cmd.Flags().String("description", "", "new description")
	cmd.Flags().Bool("pin", false, "pin (or, with --pin=false, unpin) the snapshot")
	return cmd
}

func newTagRemoveCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <revision>",
		Short: "Remove a snapshot revision (there is no tag separate from its snapshot)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, err := parseRevision(args[0])
			if err != nil {
				return err
			}
			w, err := openWorkDir(cmd, logger)
			if err != nil {
				return err
			}
			removed, err := w.Timeline().RemoveSnapshot(cmd.Context(), rev)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("revision %d not found", rev)
			}
			fmt.Printf("Removed revision %d\n", rev)
			return nil
		},
	}
}

func newTagListCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every snapshot revision",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkDir(cmd, logger)
			if err != nil {
				return err
			}
			snaps, err := w.Timeline().ListSnapshots(cmd.Context())
			if err != nil {
				return err
			}

			p := newPrinter(outputFlag(cmd))
			if p.isJSON() {
				type row struct {
					Revision    int64   `json:"revision"`
					Name        *string `json:"name,omitempty"`
					Description string  `json:"description"`
					Pinned      bool    `json:"pinned"`
				}
				out := make([]row, len(snaps))
				for i, s := range snaps {
					out[i] = row{Revision: s.Revision(), Name: s.Name(), Description: s.Description(), Pinned: s.Pinned()}
				}
				return p.json(out)
			}
			rows := make([][]string, len(snaps))
			for i, s := range snaps {
				name := ""
				if s.Name() != nil {
					name = *s.Name()
				}
				rows[i] = []string{strconv.FormatInt(s.Revision(), 10), name, s.Description(), strconv.FormatBool(s.Pinned())}
			}
			p.table([]string{"REVISION", "NAME", "DESCRIPTION", "PINNED"}, rows)
			return nil
		},
	}
}

func newTagInfoCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "info <revision>",
		Short: "Show a snapshot revision's metadata and versioned paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, err := parseRevision(args[0])
			if err != nil {
				return err
			}
			w, err := openWorkDir(cmd, logger)
			if err != nil {
				return err
			}
			snap, err := w.Timeline().GetSnapshot(cmd.Context(), rev)
			if err != nil {
				return err
			}
			versions, err := snap.Versions(cmd.Context())
			if err != nil {
				return err
			}

			name := ""
			if snap.Name() != nil {
				name = *snap.Name()
			}
			p := newPrinter(outputFlag(cmd))
			if p.isJSON() {
				return p.json(struct {
					Revision    int64    `json:"revision"`
					Name        string   `json:"name"`
					Description string   `json:"description"`
					Pinned      bool     `json:"pinned"`
					Paths       []string `json:"paths"`
				}{rev, name, snap.Description(), snap.Pinned(), pathsOf(versions)})
			}
			p.kv([][2]string{
				{"Revision", strconv.FormatInt(rev, 10)},
				{"Name", name},
				{"Description", snap.Description()},
				{"Pinned", strconv.FormatBool(snap.Pinned())},
				{"Versioned paths", strconv.Itoa(len(versions))},
			})
			return nil
		},
	}
}
