package store

import (
	"context"
	"database/sql"

	"versionstore/internal/reverr"
)

// InsertBlobIfAbsent records that a blob of the given checksum and size
// exists, doing nothing if it is already recorded. Blob rows are
// content-addressed and therefore immutable once written.
func InsertBlobIfAbsent(ctx context.Context, tx *sql.Tx, row BlobRow) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO blobs (checksum, size) VALUES (?, ?) ON CONFLICT(checksum) DO NOTHING",
		row.Checksum, row.Size)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "insert blob record", err)
	}
	return nil
}

// GetBlobRecord reads a single blob record by checksum.
func (s *Store) GetBlobRecord(ctx context.Context, checksumHex string) (BlobRow, error) {
	row := s.db.QueryRowContext(ctx, "SELECT checksum, size FROM blobs WHERE checksum = ?", checksumHex)
	var r BlobRow
	if err := row.Scan(&r.Checksum, &r.Size); err != nil {
		return BlobRow{}, scanNotFound(err)
	}
	return r, nil
}

// ListBlobRecords returns every blob record in the repository.
func (s *Store) ListBlobRecords(ctx context.Context) ([]BlobRow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT checksum, size FROM blobs")
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "list blob records", err)
	}
	defer rows.Close()

	var result []BlobRow
	for rows.Next() {
		var r BlobRow
		if err := rows.Scan(&r.Checksum, &r.Size); err != nil {
			return nil, reverr.Wrap(reverr.KindIO, "scan blob record", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// DeleteBlobRecord removes a blob record. Callers must ensure no block
// still references the checksum first (see UnreferencedBlobRecords).
func DeleteBlobRecord(ctx context.Context, tx *sql.Tx, checksumHex string) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM blobs WHERE checksum = ?", checksumHex)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "delete blob record", err)
	}
	return nil
}

// UnreferencedBlobRecords returns every blob record that no block in any
// surviving version references. The blob store's clean operation deletes
// the on-disk blob for each of these and then removes its record.
func (s *Store) UnreferencedBlobRecords(ctx context.Context) ([]BlobRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.checksum, b.size
		FROM blobs b
		LEFT JOIN blocks k ON k.checksum = b.checksum
		WHERE k.checksum IS NULL
	`)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "list unreferenced blob records", err)
	}
	defer rows.Close()

	var result []BlobRow
	for rows.Next() {
		var r BlobRow
		if err := rows.Scan(&r.Checksum, &r.Size); err != nil {
			return nil, reverr.Wrap(reverr.KindIO, "scan unreferenced blob record", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// TotalBlobSize returns the sum of every BlobRecord's size: the
// deduplicated storedSize of the repository.
func (s *Store) TotalBlobSize(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(size), 0) FROM blobs")
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, reverr.Wrap(reverr.KindIO, "sum blob record sizes", err)
	}
	return total, nil
}

// BlobRecordExists reports whether a blob record exists for checksumHex,
// without fetching its size — used by the chunker/writer fast path to
// decide whether a newly hashed chunk needs writing at all.
func (s *Store) BlobRecordExists(ctx context.Context, checksumHex string) (bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT 1 FROM blobs WHERE checksum = ?", checksumHex)
	var one int
	switch err := row.Scan(&one); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, reverr.Wrap(reverr.KindIO, "check blob record existence", err)
	}
}
