package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"versionstore/internal/store"
)

// Timeline is an ordered sequence of Snapshots plus the cleanup
// policies bound to it. Its id is a 128-bit value, stable across
// WorkDirectory renames.
type Timeline struct {
	id          string
	timeCreated time.Time
	d           *Deps
}

// ID returns the timeline's stable identifier.
func (t *Timeline) ID() string { return t.id }

// TimeCreated returns when the timeline was first created.
func (t *Timeline) TimeCreated() time.Time { return t.timeCreated }

// NewTimeline creates and persists a new, empty Timeline.
func NewTimeline(ctx context.Context, d *Deps) (*Timeline, error) {
	row := store.TimelineRow{ID: uuid.Must(uuid.NewV7()).String(), TimeCreated: time.Now().UTC()}
	err := d.db.WithTx(ctx, func(tx *sql.Tx) error {
		return store.InsertTimeline(ctx, tx, row)
	})
	if err != nil {
		return nil, err
	}
	return &Timeline{id: row.ID, timeCreated: row.TimeCreated, d: d}, nil
}

// OpenTimeline loads an existing Timeline by id.
func OpenTimeline(ctx context.Context, d *Deps, id string) (*Timeline, error) {
	row, err := d.db.GetTimeline(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Timeline{id: row.ID, timeCreated: row.TimeCreated, d: d}, nil
}

// ListTimelines returns every timeline known to the repository.
func ListTimelines(ctx context.Context, d *Deps) ([]*Timeline, error) {
	rows, err := d.db.ListTimelines(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*Timeline, len(rows))
	for i, r := range rows {
		result[i] = &Timeline{id: r.ID, timeCreated: r.TimeCreated, d: d}
	}
	return result, nil
}

// Paths returns the union of all version paths ever recorded across
// this timeline's snapshots.
func (t *Timeline) Paths(ctx context.Context) ([]string, error) {
	return t.d.db.ListAllPaths(ctx, t.id)
}

// CreateSnapshot assigns the next revision, creates a Version for each
// distinct path (in input order), and commits all of it in a single
// transaction. An empty paths list is legal and produces an empty
// snapshot; higher-level callers that want to avoid empty snapshots
// must filter paths themselves before calling this.
func (t *Timeline) CreateSnapshot(ctx context.Context, paths []string, workDirRoot string, name *string, description string, pinned bool) (*Snapshot, error) {
	snap := &Snapshot{
		id:          uuid.Must(uuid.NewV7()).String(),
		timelineID:  t.id,
		name:        name,
		description: description,
		pinned:      pinned,
		d:           t.d,
	}

	seen := make(map[string]bool, len(paths))
	distinct := make([]string, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		distinct = append(distinct, p)
	}

	err := t.d.db.WithTx(ctx, func(tx *sql.Tx) error {
		revision, err := store.NextRevision(ctx, tx, t.id)
		if err != nil {
			return err
		}
		snap.revision = revision
		snap.timeCreated = time.Now().UTC()

		if err := store.InsertSnapshot(ctx, tx, store.SnapshotRow{
			ID:          snap.id,
			TimelineID:  t.id,
			Revision:    revision,
			TimeCreated: snap.timeCreated,
			Name:        name,
			Description: description,
			Pinned:      pinned,
		}); err != nil {
			return err
		}

		for _, p := range distinct {
			if _, err := createVersionTx(ctx, tx, t.d, snap.id, p, workDirRoot); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// GetSnapshot loads a single snapshot of this timeline by revision.
func (t *Timeline) GetSnapshot(ctx context.Context, revision int64) (*Snapshot, error) {
	row, err := t.d.db.GetSnapshotByRevision(ctx, t.id, revision)
	if err != nil {
		return nil, err
	}
	return snapshotFromRow(t.d, row), nil
}

// LatestSnapshot returns the snapshot with the highest revision, or
// (nil, false) if the timeline has none yet.
func (t *Timeline) LatestSnapshot(ctx context.Context) (*Snapshot, bool, error) {
	rows, err := t.d.db.ListSnapshots(ctx, t.id)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return snapshotFromRow(t.d, rows[len(rows)-1]), true, nil
}

// ListSnapshots returns every snapshot of this timeline, ordered by
// ascending revision.
func (t *Timeline) ListSnapshots(ctx context.Context) ([]*Snapshot, error) {
	rows, err := t.d.db.ListSnapshots(ctx, t.id)
	if err != nil {
		return nil, err
	}
	result := make([]*Snapshot, len(rows))
	for i, r := range rows {
		result[i] = snapshotFromRow(t.d, r)
	}
	return result, nil
}

// RemoveSnapshot removes the snapshot at revision, cascading to its
// versions and blocks, then sweeps any blobs that are now unreferenced.
// Returns false if no snapshot exists at that revision.
func (t *Timeline) RemoveSnapshot(ctx context.Context, revision int64) (bool, error) {
	row, err := t.d.db.GetSnapshotByRevision(ctx, t.id, revision)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = t.d.db.WithTx(ctx, func(tx *sql.Tx) error {
		return store.DeleteSnapshot(ctx, tx, row.ID)
	})
	if err != nil {
		return false, err
	}

	if _, err := t.d.blobs.Clean(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ListVersions returns every version across all snapshots of this
// timeline whose path equals path, ordered newest-revision first.
func (t *Timeline) ListVersions(ctx context.Context, path string) ([]*Version, error) {
	rows, err := t.d.db.ListVersionsByPath(ctx, t.id, path)
	if err != nil {
		return nil, err
	}
	result := make([]*Version, len(rows))
	for i, r := range rows {
		v, err := versionFromRow(t.d, r)
		if err != nil {
			return nil, err
		}
		result[i] = v
	}
	return result, nil
}

// VersionCandidate pairs a version with the identifying metadata of the
// snapshot that recorded it, for consumers (the cleanup-policy
// evaluator) that bucket versions by their owning snapshot's creation
// time and pinned flag without a lookup per version.
type VersionCandidate struct {
	Version             *Version
	SnapshotRevision    int64
	SnapshotTimeCreated time.Time
	SnapshotPinned      bool
}

// VersionsWithSnapshotMeta is ListVersions enriched with each version's
// owning snapshot's revision, creation time, and pinned flag, ordered
// newest-snapshot-time first.
func (t *Timeline) VersionsWithSnapshotMeta(ctx context.Context, path string) ([]VersionCandidate, error) {
	rows, err := t.d.db.ListVersionsByPathWithSnapshotInfo(ctx, t.id, path)
	if err != nil {
		return nil, err
	}
	result := make([]VersionCandidate, len(rows))
	for i, r := range rows {
		v, err := versionFromRow(t.d, r.Version)
		if err != nil {
			return nil, err
		}
		result[i] = VersionCandidate{
			Version:             v,
			SnapshotRevision:    r.SnapshotRevision,
			SnapshotTimeCreated: r.SnapshotTimeCreated,
			SnapshotPinned:      r.SnapshotPinned,
		}
	}
	return result, nil
}

// SetCleanupPolicies atomically replaces the set of cleanup policies
// bound to this timeline.
func (t *Timeline) SetCleanupPolicies(ctx context.Context, policyIDs []string) error {
	return t.d.db.WithTx(ctx, func(tx *sql.Tx) error {
		return store.SetTimelineCleanupPolicies(ctx, tx, t.id, policyIDs)
	})
}

// CleanupPolicies returns the cleanup policies currently bound to this
// timeline.
func (t *Timeline) CleanupPolicies(ctx context.Context) ([]store.CleanupPolicyRow, error) {
	return t.d.db.ListTimelineCleanupPolicies(ctx, t.id)
}

// AddCleanupPolicy upserts row as a (global) cleanup policy and binds it
// to this timeline, leaving any policies already bound in place.
func (t *Timeline) AddCleanupPolicy(ctx context.Context, row store.CleanupPolicyRow) error {
	existing, err := t.CleanupPolicies(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(existing)+1)
	found := false
	for _, p := range existing {
		ids = append(ids, p.ID)
		if p.ID == row.ID {
			found = true
		}
	}
	if !found {
		ids = append(ids, row.ID)
	}

	return t.d.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.UpsertCleanupPolicy(ctx, tx, row); err != nil {
			return err
		}
		return store.SetTimelineCleanupPolicies(ctx, tx, t.id, ids)
	})
}

// ClearCleanupPolicies unbinds every cleanup policy from this timeline.
// The (now-orphaned) policy rows themselves are left in place, since
// another timeline may still reference them.
func (t *Timeline) ClearCleanupPolicies(ctx context.Context) error {
	return t.SetCleanupPolicies(ctx, nil)
}
