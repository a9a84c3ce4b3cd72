package store

import (
	"context"
	"database/sql"
	"time"

	"versionstore/internal/reverr"
)

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

// InsertTimeline inserts a new timeline row within tx.
func InsertTimeline(ctx context.Context, tx *sql.Tx, row TimelineRow) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO timelines (id, time_created) VALUES (?, ?)",
		row.ID, formatTime(row.TimeCreated))
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "insert timeline", err)
	}
	return nil
}

// GetTimeline reads a timeline row by ID.
func (s *Store) GetTimeline(ctx context.Context, id string) (TimelineRow, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, time_created FROM timelines WHERE id = ?", id)
	var r TimelineRow
	var ts string
	if err := row.Scan(&r.ID, &ts); err != nil {
		return TimelineRow{}, scanNotFound(err)
	}
	t, err := parseTime(ts)
	if err != nil {
		return TimelineRow{}, reverr.Wrap(reverr.KindDataCorrupt, "parse timeline time_created", err)
	}
	r.TimeCreated = t
	return r, nil
}

// ListTimelines returns every timeline in the repository.
func (s *Store) ListTimelines(ctx context.Context) ([]TimelineRow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, time_created FROM timelines")
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "list timelines", err)
	}
	defer rows.Close()

	var result []TimelineRow
	for rows.Next() {
		var r TimelineRow
		var ts string
		if err := rows.Scan(&r.ID, &ts); err != nil {
			return nil, reverr.Wrap(reverr.KindIO, "scan timeline", err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, reverr.Wrap(reverr.KindDataCorrupt, "parse timeline time_created", err)
		}
		r.TimeCreated = t
		result = append(result, r)
	}
	return result, rows.Err()
}

// DeleteTimeline removes a timeline row, cascading to snapshots, versions
// and blocks.
func DeleteTimeline(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM timelines WHERE id = ?", id)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "delete timeline", err)
	}
	return nil
}

// SetTimelineCleanupPolicies atomically replaces the set of cleanup
// policy IDs associated with a timeline.
func SetTimelineCleanupPolicies(ctx context.Context, tx *sql.Tx, timelineID string, policyIDs []string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM timeline_cleanup_policies WHERE timeline_id = ?", timelineID); err != nil {
		return reverr.Wrap(reverr.KindIO, "clear timeline cleanup policies", err)
	}
	for _, pid := range policyIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO timeline_cleanup_policies (timeline_id, policy_id) VALUES (?, ?)",
			timelineID, pid); err != nil {
			return reverr.Wrap(reverr.KindIO, "insert timeline cleanup policy", err)
		}
	}
	return nil
}

// ListTimelineCleanupPolicies returns the cleanup policies bound to a
// timeline.
func (s *Store) ListTimelineCleanupPolicies(ctx context.Context, timelineID string) ([]CleanupPolicyRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cp.id, cp.min_interval, cp.time_frame, cp.max_versions, cp.description
		FROM cleanup_policies cp
		JOIN timeline_cleanup_policies tcp ON tcp.policy_id = cp.id
		WHERE tcp.timeline_id = ?
	`, timelineID)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "list timeline cleanup policies", err)
	}
	defer rows.Close()

	var result []CleanupPolicyRow
	for rows.Next() {
		var r CleanupPolicyRow
		if err := rows.Scan(&r.ID, &r.MinInterval, &r.TimeFrame, &r.MaxVersions, &r.Description); err != nil {
			return nil, reverr.Wrap(reverr.KindIO, "scan cleanup policy", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// UpsertCleanupPolicy inserts or updates a cleanup policy row.
func UpsertCleanupPolicy(ctx context.Context, tx *sql.Tx, row CleanupPolicyRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cleanup_policies (id, min_interval, time_frame, max_versions, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			min_interval = excluded.min_interval,
			time_frame = excluded.time_frame,
			max_versions = excluded.max_versions,
			description = excluded.description
	`, row.ID, row.MinInterval, row.TimeFrame, row.MaxVersions, row.Description)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "upsert cleanup policy", err)
	}
	return nil
}
