package store

import (
	"context"
	"database/sql"
	"time"

	"versionstore/internal/reverr"
)

const versionColumns = "id, snapshot_id, path, last_modified_time, permissions, size, checksum"

// InsertVersion inserts a new version row within tx.
func InsertVersion(ctx context.Context, tx *sql.Tx, row VersionRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO versions (`+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.SnapshotID, row.Path, formatTime(row.LastModifiedTime), row.Permissions, row.Size, row.Checksum)
	if err != nil {
		return reverr.Wrap(reverr.KindDuplicateRecord, "insert version", err)
	}
	return nil
}

func scanVersion(scan func(dest ...any) error) (VersionRow, error) {
	var r VersionRow
	var ts string
	if err := scan(&r.ID, &r.SnapshotID, &r.Path, &ts, &r.Permissions, &r.Size, &r.Checksum); err != nil {
		return VersionRow{}, err
	}
	t, err := parseTime(ts)
	if err != nil {
		return VersionRow{}, reverr.Wrap(reverr.KindDataCorrupt, "parse version last_modified_time", err)
	}
	r.LastModifiedTime = t
	return r, nil
}

// ListVersionsBySnapshot returns every version recorded directly in a
// snapshot.
func (s *Store) ListVersionsBySnapshot(ctx context.Context, snapshotID string) ([]VersionRow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+versionColumns+" FROM versions WHERE snapshot_id = ?", snapshotID)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "list versions by snapshot", err)
	}
	defer rows.Close()
	return scanVersionRows(rows)
}

// ListVersionsForSnapshots returns every version recorded in any of the
// given snapshot IDs, used to build the cumulative view across a
// timeline prefix in one query.
func (s *Store) ListVersionsForSnapshots(ctx context.Context, snapshotIDs []string) ([]VersionRow, error) {
	if len(snapshotIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(snapshotIDs)*2)
	args := make([]any, 0, len(snapshotIDs))
	for i, id := range snapshotIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	query := "SELECT " + versionColumns + " FROM versions WHERE snapshot_id IN (" + string(placeholders) + ")"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "list versions for snapshots", err)
	}
	defer rows.Close()
	return scanVersionRows(rows)
}

// ListVersionsByPath returns every version across a timeline whose path
// equals the given path, newest-revision first.
func (s *Store) ListVersionsByPath(ctx context.Context, timelineID, path string) ([]VersionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.snapshot_id, v.path, v.last_modified_time, v.permissions, v.size, v.checksum
		FROM versions v
		JOIN snapshots s ON s.id = v.snapshot_id
		WHERE s.timeline_id = ? AND v.path = ?
		ORDER BY s.revision DESC
	`, timelineID, path)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "list versions by path", err)
	}
	defer rows.Close()
	return scanVersionRows(rows)
}

// ListAllPaths returns the union of all version paths across a
// timeline's snapshots.
func (s *Store) ListAllPaths(ctx context.Context, timelineID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT v.path
		FROM versions v
		JOIN snapshots s ON s.id = v.snapshot_id
		WHERE s.timeline_id = ?
	`, timelineID)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "list all paths", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, reverr.Wrap(reverr.KindIO, "scan path", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func scanVersionRows(rows *sql.Rows) ([]VersionRow, error) {
	var result []VersionRow
	for rows.Next() {
		r, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, reverr.Wrap(reverr.KindIO, "scan version", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetVersion reads a single version by ID.
func (s *Store) GetVersion(ctx context.Context, id string) (VersionRow, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+versionColumns+" FROM versions WHERE id = ?", id)
	r, err := scanVersion(row.Scan)
	if err != nil {
		return VersionRow{}, scanNotFound(err)
	}
	return r, nil
}

// GetVersionBySnapshotPath reads the version recorded at path within a
// specific snapshot, if any.
func (s *Store) GetVersionBySnapshotPath(ctx context.Context, snapshotID, path string) (VersionRow, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE snapshot_id = ? AND path = ?",
		snapshotID, path)
	r, err := scanVersion(row.Scan)
	if err != nil {
		return VersionRow{}, scanNotFound(err)
	}
	return r, nil
}

// DeleteVersion removes a version row, cascading to blocks.
func DeleteVersion(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM versions WHERE id = ?", id)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "delete version", err)
	}
	return nil
}

// VersionSnapshotRow pairs a version with the identifying metadata of
// the snapshot that recorded it, joined in one query for callers (the
// cleanup-policy evaluator) that need both without n+1 lookups.
type VersionSnapshotRow struct {
	Version             VersionRow
	SnapshotRevision    int64
	SnapshotTimeCreated time.Time
	SnapshotPinned      bool
}

// ListVersionsByPathWithSnapshotInfo is ListVersionsByPath enriched with
// each version's owning snapshot's revision, creation time, and pinned
// flag, ordered newest-snapshot-time first.
func (s *Store) ListVersionsByPathWithSnapshotInfo(ctx context.Context, timelineID, path string) ([]VersionSnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.snapshot_id, v.path, v.last_modified_time, v.permissions, v.size, v.checksum,
		       s.revision, s.time_created, s.pinned
		FROM versions v
		JOIN snapshots s ON s.id = v.snapshot_id
		WHERE s.timeline_id = ? AND v.path = ?
		ORDER BY s.time_created DESC
	`, timelineID, path)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "list versions by path with snapshot info", err)
	}
	defer rows.Close()

	var result []VersionSnapshotRow
	for rows.Next() {
		var vr VersionRow
		var lastModTS, snapTS string
		var pinned int
		var rev int64
		if err := rows.Scan(
			&vr.ID, &vr.SnapshotID, &vr.Path, &lastModTS, &vr.Permissions, &vr.Size, &vr.Checksum,
			&rev, &snapTS, &pinned,
		); err != nil {
			return nil, reverr.Wrap(reverr.KindIO, "scan version with snapshot info", err)
		}
		lastMod, err := parseTime(lastModTS)
		if err != nil {
			return nil, reverr.Wrap(reverr.KindDataCorrupt, "parse version last_modified_time", err)
		}
		vr.LastModifiedTime = lastMod
		snapTime, err := parseTime(snapTS)
		if err != nil {
			return nil, reverr.Wrap(reverr.KindDataCorrupt, "parse snapshot time_created", err)
		}
		result = append(result, VersionSnapshotRow{
			Version:             vr,
			SnapshotRevision:    rev,
			SnapshotTimeCreated: snapTime,
			SnapshotPinned:      pinned != 0,
		})
	}
	return result, rows.Err()
}

// TotalVersionSize returns the sum of every Version's size: the
// pre-deduplication totalSize of the repository.
func (s *Store) TotalVersionSize(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(size), 0) FROM versions")
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, reverr.Wrap(reverr.KindIO, "sum version sizes", err)
	}
	return total, nil
}

// VersionsReferencingBlob returns every version that has a block
// referencing the given blob checksum.
func (s *Store) VersionsReferencingBlob(ctx context.Context, checksumHex string) ([]VersionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT v.id, v.snapshot_id, v.path, v.last_modified_time, v.permissions, v.size, v.checksum
		FROM versions v
		JOIN blocks b ON b.version_id = v.id
		WHERE b.checksum = ?
	`, checksumHex)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "list versions referencing blob", err)
	}
	defer rows.Close()
	return scanVersionRows(rows)
}
