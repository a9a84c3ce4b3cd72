package history

import (
	"context"
	"database/sql"
	"time"

	"versionstore/internal/store"
)

// Snapshot is a named set of Versions created together, plus the
// materialized union of every earlier snapshot's versions in the same
// timeline (cumulativeVersions).
type Snapshot struct {
	id          string
	timelineID  string
	revision    int64
	timeCreated time.Time
	name        *string
	description string
	pinned      bool
	d           *Deps
}

func snapshotFromRow(d *Deps, row store.SnapshotRow) *Snapshot {
	return &Snapshot{
		id:          row.ID,
		timelineID:  row.TimelineID,
		revision:    row.Revision,
		timeCreated: row.TimeCreated,
		name:        row.Name,
		description: row.Description,
		pinned:      row.Pinned,
		d:           d,
	}
}

// ID returns the snapshot's identifier.
func (s *Snapshot) ID() string { return s.id }

// TimelineID returns the identifier of the timeline this snapshot
// belongs to.
func (s *Snapshot) TimelineID() string { return s.timelineID }

// Revision returns the snapshot's 1-based, strictly-increasing position
// within its timeline.
func (s *Snapshot) Revision() int64 { return s.revision }

// TimeCreated returns when the snapshot was created.
func (s *Snapshot) TimeCreated() time.Time { return s.timeCreated }

// Name returns the snapshot's optional free-text name.
func (s *Snapshot) Name() *string { return s.name }

// Description returns the snapshot's free-text description (empty by
// default).
func (s *Snapshot) Description() string { return s.description }

// Pinned reports whether this snapshot is protected from cleanup-policy
// deletion.
func (s *Snapshot) Pinned() bool { return s.pinned }

// SetName writes through a name change to the database immediately.
func (s *Snapshot) SetName(ctx context.Context, name *string) error {
	if err := s.d.db.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpdateSnapshotName(ctx, tx, s.id, name)
	}); err != nil {
		return err
	}
	s.name = name
	return nil
}

// SetDescription writes through a description change to the database
// immediately.
func (s *Snapshot) SetDescription(ctx context.Context, description string) error {
	if err := s.d.db.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpdateSnapshotDescription(ctx, tx, s.id, description)
	}); err != nil {
		return err
	}
	s.description = description
	return nil
}

// SetPinned writes through a pinned change to the database immediately.
// pinned=true forbids deletion of this snapshot's versions by cleanup
// policies.
func (s *Snapshot) SetPinned(ctx context.Context, pinned bool) error {
	if err := s.d.db.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpdateSnapshotPinned(ctx, tx, s.id, pinned)
	}); err != nil {
		return err
	}
	s.pinned = pinned
	return nil
}

// createVersionTx implements Snapshot.createVersion inside an
// already-open transaction, shared by Timeline.CreateSnapshot (which
// must create every version of a new snapshot atomically) and
// Snapshot.CreateVersion (a single version added to an existing
// snapshot).
func createVersionTx(ctx context.Context, tx *sql.Tx, d *Deps, snapshotID, path, workDirRoot string) (*Version, error) {
	v, blockRows, err := buildVersion(d, snapshotID, path, workDirRoot)
	if err != nil {
		return nil, err
	}

	for _, blob := range v.blobs {
		if _, err := d.blobs.AddBlobTx(ctx, tx, blob); err != nil {
			return nil, err
		}
	}

	var permissions *int64
	if v.permissions != nil {
		p := int64(v.permissions.Mode())
		permissions = &p
	}
	if err := store.InsertVersion(ctx, tx, store.VersionRow{
		ID:               v.id,
		SnapshotID:       snapshotID,
		Path:             path,
		LastModifiedTime: v.lastModifiedTime,
		Permissions:      permissions,
		Size:             v.size,
		Checksum:         v.checksum.String(),
	}); err != nil {
		return nil, err
	}
	if err := store.InsertBlocks(ctx, tx, blockRows); err != nil {
		return nil, err
	}
	return v, nil
}

// CreateVersion records path's current on-disk content (resolved
// against workDirRoot) as a new Version of this snapshot. It fails with
// a DuplicateRecord error if path is already present in this snapshot.
func (s *Snapshot) CreateVersion(ctx context.Context, path, workDirRoot string) (*Version, error) {
	if _, err := s.d.db.GetVersionBySnapshotPath(ctx, s.id, path); err == nil {
		return nil, duplicateVersionError(s.id, path)
	} else if err != store.ErrNotFound {
		return nil, err
	}

	var v *Version
	err := s.d.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		v, err = createVersionTx(ctx, tx, s.d, s.id, path, workDirRoot)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// RemoveVersion deletes the version at path from this snapshot (if
// present), then sweeps any blobs that are now unreferenced.
func (s *Snapshot) RemoveVersion(ctx context.Context, path string) error {
	row, err := s.d.db.GetVersionBySnapshotPath(ctx, s.id, path)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.d.db.WithTx(ctx, func(tx *sql.Tx) error {
		return store.DeleteVersion(ctx, tx, row.ID)
	}); err != nil {
		return err
	}

	_, err = s.d.blobs.Clean(ctx)
	return err
}

// Versions returns every version created directly as part of this
// snapshot (not the cumulative view — see CumulativeVersions).
func (s *Snapshot) Versions(ctx context.Context) ([]*Version, error) {
	rows, err := s.d.db.ListVersionsBySnapshot(ctx, s.id)
	if err != nil {
		return nil, err
	}
	result := make([]*Version, len(rows))
	for i, r := range rows {
		v, err := versionFromRow(s.d, r)
		if err != nil {
			return nil, err
		}
		result[i] = v
	}
	return result, nil
}

// CumulativeVersions materializes the union-by-path of versions in this
// snapshot and every earlier snapshot (by revision) in the same
// timeline, keeping the highest-revision entry per path. It is computed
// fresh on every call: callers needing a stable view across several
// lookups should capture the returned map once.
func (s *Snapshot) CumulativeVersions(ctx context.Context) (map[string]*Version, error) {
	snapshots, err := s.d.db.ListSnapshotsUpTo(ctx, s.timelineID, s.revision)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(snapshots))
	for i, sr := range snapshots {
		ids[i] = sr.ID
	}

	rows, err := s.d.db.ListVersionsForSnapshots(ctx, ids)
	if err != nil {
		return nil, err
	}

	revisionBySnapshot := make(map[string]int64, len(snapshots))
	for _, sr := range snapshots {
		revisionBySnapshot[sr.ID] = sr.Revision
	}

	bestRevision := make(map[string]int64)
	best := make(map[string]store.VersionRow)
	for _, r := range rows {
		rev := revisionBySnapshot[r.SnapshotID]
		if cur, ok := bestRevision[r.Path]; !ok || rev > cur {
			bestRevision[r.Path] = rev
			best[r.Path] = r
		}
	}

	result := make(map[string]*Version, len(best))
	for path, r := range best {
		v, err := versionFromRow(s.d, r)
		if err != nil {
			return nil, err
		}
		result[path] = v
	}
	return result, nil
}
