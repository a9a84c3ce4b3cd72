package store

import (
	"context"
	"database/sql"

	"versionstore/internal/reverr"
)

// InsertBlock inserts a new block row within tx, recording that
// version_id's chunk at idx has the given checksum.
func InsertBlock(ctx context.Context, tx *sql.Tx, row BlockRow) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO blocks (version_id, idx, checksum) VALUES (?, ?, ?)",
		row.VersionID, row.Index, row.Checksum)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "insert block", err)
	}
	return nil
}

// InsertBlocks inserts every block of a version within tx, in one pass.
func InsertBlocks(ctx context.Context, tx *sql.Tx, rows []BlockRow) error {
	for _, r := range rows {
		if err := InsertBlock(ctx, tx, r); err != nil {
			return err
		}
	}
	return nil
}

// ListBlocksByVersion returns a version's blocks ordered by ascending
// index — exactly the order Version.data needs to concatenate blobs in.
func (s *Store) ListBlocksByVersion(ctx context.Context, versionID string) ([]BlockRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT version_id, idx, checksum FROM blocks WHERE version_id = ? ORDER BY idx ASC",
		versionID)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "list blocks by version", err)
	}
	defer rows.Close()

	var result []BlockRow
	for rows.Next() {
		var r BlockRow
		if err := rows.Scan(&r.VersionID, &r.Index, &r.Checksum); err != nil {
			return nil, reverr.Wrap(reverr.KindIO, "scan block", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// DeleteBlocksByVersion removes every block belonging to a version.
// Normally redundant with the versions table's cascade, but exposed for
// callers that delete blocks without deleting the version row itself.
func DeleteBlocksByVersion(ctx context.Context, tx *sql.Tx, versionID string) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM blocks WHERE version_id = ?", versionID)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "delete blocks by version", err)
	}
	return nil
}
