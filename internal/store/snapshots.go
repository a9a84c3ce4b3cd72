package store

import (
	"context"
	"database/sql"

	"versionstore/internal/reverr"
)

// NextRevision returns max(revision)+1 for the timeline, or 1 if it has
// no snapshots yet. Must be called within the same transaction that
// inserts the new snapshot row so revision assignment is atomic.
func NextRevision(ctx context.Context, tx *sql.Tx, timelineID string) (int64, error) {
	var max sql.NullInt64
	row := tx.QueryRowContext(ctx, "SELECT MAX(revision) FROM snapshots WHERE timeline_id = ?", timelineID)
	if err := row.Scan(&max); err != nil {
		return 0, reverr.Wrap(reverr.KindIO, "compute next revision", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return max.Int64 + 1, nil
}

// InsertSnapshot inserts a new snapshot row within tx.
func InsertSnapshot(ctx context.Context, tx *sql.Tx, row SnapshotRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, timeline_id, revision, time_created, name, description, pinned)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.TimelineID, row.Revision, formatTime(row.TimeCreated), row.Name, row.Description, row.Pinned)
	if err != nil {
		return reverr.Wrap(reverr.KindDuplicateRecord, "insert snapshot", err)
	}
	return nil
}

func scanSnapshot(scan func(dest ...any) error) (SnapshotRow, error) {
	var r SnapshotRow
	var ts string
	var pinned int
	if err := scan(&r.ID, &r.TimelineID, &r.Revision, &ts, &r.Name, &r.Description, &pinned); err != nil {
		return SnapshotRow{}, err
	}
	t, err := parseTime(ts)
	if err != nil {
		return SnapshotRow{}, reverr.Wrap(reverr.KindDataCorrupt, "parse snapshot time_created", err)
	}
	r.TimeCreated = t
	r.Pinned = pinned != 0
	return r, nil
}

const snapshotColumns = "id, timeline_id, revision, time_created, name, description, pinned"

// GetSnapshot reads a single snapshot by ID.
func (s *Store) GetSnapshot(ctx context.Context, id string) (SnapshotRow, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+snapshotColumns+" FROM snapshots WHERE id = ?", id)
	r, err := scanSnapshot(row.Scan)
	if err != nil {
		return SnapshotRow{}, scanNotFound(err)
	}
	return r, nil
}

// GetSnapshotByRevision reads a snapshot by (timeline, revision).
func (s *Store) GetSnapshotByRevision(ctx context.Context, timelineID string, revision int64) (SnapshotRow, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE timeline_id = ? AND revision = ?",
		timelineID, revision)
	r, err := scanSnapshot(row.Scan)
	if err != nil {
		return SnapshotRow{}, scanNotFound(err)
	}
	return r, nil
}

// ListSnapshots returns every snapshot of a timeline, ordered by
// ascending revision.
func (s *Store) ListSnapshots(ctx context.Context, timelineID string) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE timeline_id = ? ORDER BY revision ASC",
		timelineID)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "list snapshots", err)
	}
	defer rows.Close()

	var result []SnapshotRow
	for rows.Next() {
		r, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, reverr.Wrap(reverr.KindIO, "scan snapshot", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// ListSnapshotsUpTo returns every snapshot of a timeline with revision <=
// maxRevision, ordered by ascending revision — exactly the input
// cumulativeVersions needs to fold over.
func (s *Store) ListSnapshotsUpTo(ctx context.Context, timelineID string, maxRevision int64) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE timeline_id = ? AND revision <= ? ORDER BY revision ASC",
		timelineID, maxRevision)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "list snapshots up to revision", err)
	}
	defer rows.Close()

	var result []SnapshotRow
	for rows.Next() {
		r, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, reverr.Wrap(reverr.KindIO, "scan snapshot", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// DeleteSnapshot removes a snapshot row, cascading to versions and
// blocks.
func DeleteSnapshot(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "delete snapshot", err)
	}
	return nil
}

// UpdateSnapshotName writes through a Snapshot.name change.
func UpdateSnapshotName(ctx context.Context, tx *sql.Tx, id string, name *string) error {
	_, err := tx.ExecContext(ctx, "UPDATE snapshots SET name = ? WHERE id = ?", name, id)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "update snapshot name", err)
	}
	return nil
}

// UpdateSnapshotDescription writes through a Snapshot.description change.
func UpdateSnapshotDescription(ctx context.Context, tx *sql.Tx, id string, description string) error {
	_, err := tx.ExecContext(ctx, "UPDATE snapshots SET description = ? WHERE id = ?", description, id)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "update snapshot description", err)
	}
	return nil
}

// UpdateSnapshotPinned writes through a Snapshot.pinned change.
func UpdateSnapshotPinned(ctx context.Context, tx *sql.Tx, id string, pinned bool) error {
	_, err := tx.ExecContext(ctx, "UPDATE snapshots SET pinned = ? WHERE id = ?", pinned, id)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "update snapshot pinned", err)
	}
	return nil
}
