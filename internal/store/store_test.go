package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repo.sqlite")
	s, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrationsAndPassesIntegrityCheck(t *testing.T) {
	s := newTestStore(t)
	ok, err := s.IntegrityOK(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInsertAndGetTimeline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertTimeline(ctx, tx, TimelineRow{ID: "t1", TimeCreated: now})
	})
	require.NoError(t, err)

	row, err := s.GetTimeline(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", row.ID)
	assert.True(t, row.TimeCreated.Equal(now))
}

func TestGetTimelineNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTimeline(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTimelinesReturnsAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
			return InsertTimeline(ctx, tx, TimelineRow{ID: id, TimeCreated: now})
		}))
	}

	rows, err := s.ListTimelines(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestDeleteTimelineCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertTimeline(ctx, tx, TimelineRow{ID: "gone", TimeCreated: now})
	}))
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return DeleteTimeline(ctx, tx, "gone")
	}))

	_, err := s.GetTimeline(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	wantErr := assert.AnError
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := InsertTimeline(ctx, tx, TimelineRow{ID: "rollback-me", TimeCreated: now}); err != nil {
			return err
		}
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	_, getErr := s.GetTimeline(ctx, "rollback-me")
	assert.ErrorIs(t, getErr, ErrNotFound)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = s.WithTx(ctx, func(tx *sql.Tx) error {
			if err := InsertTimeline(ctx, tx, TimelineRow{ID: "panic-me", TimeCreated: time.Now()}); err != nil {
				return err
			}
			panic("boom")
		})
	})

	_, getErr := s.GetTimeline(ctx, "panic-me")
	assert.ErrorIs(t, getErr, ErrNotFound)

	ok, err := s.IntegrityOK(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBlobRecordLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exists, err := s.BlobRecordExists(ctx, "deadbeef")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertBlobIfAbsent(ctx, tx, BlobRow{Checksum: "deadbeef", Size: 42})
	}))

	exists, err = s.BlobRecordExists(ctx, "deadbeef")
	require.NoError(t, err)
	assert.True(t, exists)

	row, err := s.GetBlobRecord(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, int64(42), row.Size)

	total, err := s.TotalBlobSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), total)
}

func TestInsertBlobIfAbsentIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
			return InsertBlobIfAbsent(ctx, tx, BlobRow{Checksum: "abc", Size: 7})
		}))
	}

	rows, err := s.ListBlobRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestUnreferencedBlobRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertBlobIfAbsent(ctx, tx, BlobRow{Checksum: "unused", Size: 1})
	}))

	unreferenced, err := s.UnreferencedBlobRecords(ctx)
	require.NoError(t, err)
	require.Len(t, unreferenced, 1)
	assert.Equal(t, "unused", unreferenced[0].Checksum)
}

func TestCleanupPolicyUpsertAndBind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertTimeline(ctx, tx, TimelineRow{ID: "tl", TimeCreated: now})
	}))

	policy := CleanupPolicyRow{ID: "p1", MinInterval: int64(time.Hour), TimeFrame: int64(24 * time.Hour), MaxVersions: 3, Description: "test policy"}
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return UpsertCleanupPolicy(ctx, tx, policy)
	}))
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return SetTimelineCleanupPolicies(ctx, tx, "tl", []string{"p1"})
	}))

	bound, err := s.ListTimelineCleanupPolicies(ctx, "tl")
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Equal(t, policy, bound[0])

	// Upsert with a new description updates in place.
	policy.Description = "updated"
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return UpsertCleanupPolicy(ctx, tx, policy)
	}))
	bound, err = s.ListTimelineCleanupPolicies(ctx, "tl")
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Equal(t, "updated", bound[0].Description)
}

func TestSetTimelineCleanupPoliciesReplacesSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertTimeline(ctx, tx, TimelineRow{ID: "tl2", TimeCreated: now})
	}))
	for _, id := range []string{"p1", "p2"} {
		require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
			return UpsertCleanupPolicy(ctx, tx, CleanupPolicyRow{ID: id, MinInterval: 1, TimeFrame: 1, MaxVersions: 1})
		}))
	}

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return SetTimelineCleanupPolicies(ctx, tx, "tl2", []string{"p1", "p2"})
	}))
	bound, err := s.ListTimelineCleanupPolicies(ctx, "tl2")
	require.NoError(t, err)
	assert.Len(t, bound, 2)

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return SetTimelineCleanupPolicies(ctx, tx, "tl2", []string{"p2"})
	}))
	bound, err = s.ListTimelineCleanupPolicies(ctx, "tl2")
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Equal(t, "p2", bound[0].ID)
}

func TestOpenCachedReturnsSameInstance(t *testing.T) {
	t.Cleanup(ResetCache)
	path := filepath.Join(t.TempDir(), "cached.sqlite")

	s1, err := OpenCached(path, nil)
	require.NoError(t, err)
	s2, err := OpenCached(path, nil)
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	require.NoError(t, CloseCached(path))
}

func TestBackupAndRestoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertTimeline(ctx, tx, TimelineRow{ID: "backup-me", TimeCreated: now})
	}))

	backupPath := filepath.Join(t.TempDir(), "backup.sqlite")
	require.NoError(t, s.BackupTo(ctx, backupPath))

	_, err := BackupModTime(backupPath)
	require.NoError(t, err)

	// Close the live database, then restore its file from the backup.
	livePath := s.Path()
	require.NoError(t, s.Close())
	require.NoError(t, RestoreFrom(livePath, backupPath))

	restored, err := Open(livePath, nil)
	require.NoError(t, err)
	defer restored.Close()

	row, err := restored.GetTimeline(ctx, "backup-me")
	require.NoError(t, err)
	assert.Equal(t, "backup-me", row.ID)
}
