package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versionstore/internal/blob"
	"versionstore/internal/blobstore"
	"versionstore/internal/reverr"
	"versionstore/internal/store"
)

func newTestDeps(t *testing.T) *Deps {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "repo.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bs, err := blobstore.Open(filepath.Join(t.TempDir(), "blobs"), db)
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	chunker, err := blob.NewFixedSizeChunker(4096)
	require.NoError(t, err)

	return NewDeps(db, bs, chunker, nil)
}

func writeWorkFile(t *testing.T, root, path, content string) {
	t.Helper()
	full := filepath.Join(root, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestNewTimelineThenOpenTimeline(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)

	opened, err := OpenTimeline(ctx, d, tl.ID())
	require.NoError(t, err)
	assert.Equal(t, tl.ID(), opened.ID())

	all, err := ListTimelines(ctx, d)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateSnapshotProducesVersionsForEachPath(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()

	writeWorkFile(t, root, "a.txt", "hello a")
	writeWorkFile(t, root, "b.txt", "hello b")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)

	snap, err := tl.CreateSnapshot(ctx, []string{"a.txt", "b.txt"}, root, nil, "first", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Revision())

	versions, err := snap.Versions(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestCreateSnapshotDedupsDuplicatePaths(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()
	writeWorkFile(t, root, "a.txt", "hello a")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)

	snap, err := tl.CreateSnapshot(ctx, []string{"a.txt", "a.txt"}, root, nil, "", false)
	require.NoError(t, err)

	versions, err := snap.Versions(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestCreateSnapshotWithEmptyPathsIsLegal(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)

	snap, err := tl.CreateSnapshot(ctx, nil, root, nil, "", false)
	require.NoError(t, err)

	versions, err := snap.Versions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestGetSnapshotAndLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()
	writeWorkFile(t, root, "a.txt", "v1")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)

	_, _, err = tl.LatestSnapshot(ctx)
	require.NoError(t, err)

	first, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)

	writeWorkFile(t, root, "a.txt", "v2, longer content now")
	second, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)

	got, err := tl.GetSnapshot(ctx, first.Revision())
	require.NoError(t, err)
	assert.Equal(t, first.ID(), got.ID())

	latest, ok, err := tl.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID(), latest.ID())
}

func TestListSnapshotsOrderedByRevision(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()
	writeWorkFile(t, root, "a.txt", "content")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
		require.NoError(t, err)
	}

	snaps, err := tl.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	for i, s := range snaps {
		assert.Equal(t, int64(i+1), s.Revision())
	}
}

func TestListVersionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)

	writeWorkFile(t, root, "a.txt", "one")
	_, err = tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)

	writeWorkFile(t, root, "a.txt", "two, a bit longer")
	_, err = tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)

	versions, err := tl.ListVersions(ctx, "a.txt")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, int64(len("two, a bit longer")), versions[0].Size())
}

func TestVersionsWithSnapshotMetaCarriesRevisionAndPinned(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()
	writeWorkFile(t, root, "a.txt", "content")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)
	snap, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", true)
	require.NoError(t, err)

	candidates, err := tl.VersionsWithSnapshotMeta(ctx, "a.txt")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, snap.Revision(), candidates[0].SnapshotRevision)
	assert.True(t, candidates[0].SnapshotPinned)
}

func TestCreateVersionRejectsDuplicatePath(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()
	writeWorkFile(t, root, "a.txt", "content")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)
	snap, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)

	_, err = snap.CreateVersion(ctx, "a.txt", root)
	require.Error(t, err)
	assert.True(t, reverr.Is(err, reverr.KindDuplicateRecord))
}

func TestCreateVersionAddsToExistingSnapshot(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()
	writeWorkFile(t, root, "a.txt", "content a")
	writeWorkFile(t, root, "b.txt", "content b")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)
	snap, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)

	v, err := snap.CreateVersion(ctx, "b.txt", root)
	require.NoError(t, err)
	assert.Equal(t, "b.txt", v.Path())

	versions, err := snap.Versions(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestRemoveVersionDeletesItAndSweepsBlobs(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()
	writeWorkFile(t, root, "a.txt", "content a")
	writeWorkFile(t, root, "b.txt", "content b")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)
	snap, err := tl.CreateSnapshot(ctx, []string{"a.txt", "b.txt"}, root, nil, "", false)
	require.NoError(t, err)

	require.NoError(t, snap.RemoveVersion(ctx, "a.txt"))

	versions, err := snap.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "b.txt", versions[0].Path())
}

func TestRemoveVersionOnMissingPathIsNoop(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()
	writeWorkFile(t, root, "a.txt", "content a")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)
	snap, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)

	assert.NoError(t, snap.RemoveVersion(ctx, "never-existed.txt"))
}

func TestRemoveSnapshotCascadesAndReturnsFalseWhenMissing(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()
	writeWorkFile(t, root, "a.txt", "content")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)
	snap, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)

	ok, err := tl.RemoveSnapshot(ctx, snap.Revision())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = tl.GetSnapshot(ctx, snap.Revision())
	assert.Error(t, err)

	ok, err = tl.RemoveSnapshot(ctx, snap.Revision())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCumulativeVersionsKeepsHighestRevisionPerPath(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)

	writeWorkFile(t, root, "a.txt", "a v1")
	first, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)
	firstA, err := first.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, firstA, 1)

	writeWorkFile(t, root, "b.txt", "b v1")
	second, err := tl.CreateSnapshot(ctx, []string{"b.txt"}, root, nil, "", false)
	require.NoError(t, err)

	cumulative, err := second.CumulativeVersions(ctx)
	require.NoError(t, err)
	require.Contains(t, cumulative, "a.txt")
	require.Contains(t, cumulative, "b.txt")
	assert.Equal(t, firstA[0].ID(), cumulative["a.txt"].ID())

	writeWorkFile(t, root, "a.txt", "a v2, with different content and length")
	third, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)
	thirdVersions, err := third.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, thirdVersions, 1)

	cumulative, err = third.CumulativeVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, thirdVersions[0].ID(), cumulative["a.txt"].ID())
	assert.Contains(t, cumulative, "b.txt")
}

func TestSnapshotSetNameDescriptionPinnedWriteThrough(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()
	writeWorkFile(t, root, "a.txt", "content")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)
	snap, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)

	name := "release-1"
	require.NoError(t, snap.SetName(ctx, &name))
	assert.Equal(t, &name, snap.Name())

	require.NoError(t, snap.SetDescription(ctx, "a description"))
	assert.Equal(t, "a description", snap.Description())

	require.NoError(t, snap.SetPinned(ctx, true))
	assert.True(t, snap.Pinned())

	reloaded, err := tl.GetSnapshot(ctx, snap.Revision())
	require.NoError(t, err)
	assert.Equal(t, name, *reloaded.Name())
	assert.Equal(t, "a description", reloaded.Description())
	assert.True(t, reloaded.Pinned())
}

func TestTimelineCleanupPolicyBinding(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)

	err = tl.AddCleanupPolicy(ctx, store.CleanupPolicyRow{ID: "p1", MinInterval: 1, TimeFrame: 1, MaxVersions: 1, Description: "keep latest"})
	require.NoError(t, err)

	policies, err := tl.CleanupPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "p1", policies[0].ID)

	require.NoError(t, tl.ClearCleanupPolicies(ctx))
	policies, err = tl.CleanupPolicies(ctx)
	require.NoError(t, err)
	assert.Empty(t, policies)
}

func TestVersionDataAndCheckoutRoundTrips(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()
	writeWorkFile(t, root, "a.txt", "round trip content")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)
	snap, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)

	versions, err := snap.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	v := versions[0]

	target := filepath.Join(t.TempDir(), "restored.txt")
	require.NoError(t, v.Checkout(ctx, target, false, true))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "round trip content", string(got))
}

func TestVersionCheckoutRefusesExistingTargetUnlessOverwrite(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()
	writeWorkFile(t, root, "a.txt", "content")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)
	snap, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)
	versions, err := snap.Versions(ctx)
	require.NoError(t, err)
	v := versions[0]

	target := filepath.Join(t.TempDir(), "exists.txt")
	require.NoError(t, os.WriteFile(target, []byte("already here"), 0o644))

	err = v.Checkout(ctx, target, false, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCheckoutTargetExists)

	require.NoError(t, v.Checkout(ctx, target, true, false))
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))
}

func TestIsChangedDetectsContentChangeNotSizeAlone(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()
	writeWorkFile(t, root, "a.txt", "same size!")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)
	snap, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)
	versions, err := snap.Versions(ctx)
	require.NoError(t, err)
	v := versions[0]

	full := filepath.Join(root, "a.txt")

	changed, err := IsChanged(v, full)
	require.NoError(t, err)
	assert.False(t, changed)

	// Same length, different bytes: must still be detected as changed.
	require.NoError(t, os.WriteFile(full, []byte("different!"), 0o644))
	changed, err = IsChanged(v, full)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestIsChangedOnMissingFileIsFalse(t *testing.T) {
	ctx := context.Background()
	d := newTestDeps(t)
	root := t.TempDir()
	writeWorkFile(t, root, "a.txt", "content")

	tl, err := NewTimeline(ctx, d)
	require.NoError(t, err)
	snap, err := tl.CreateSnapshot(ctx, []string{"a.txt"}, root, nil, "", false)
	require.NoError(t, err)
	versions, err := snap.Versions(ctx)
	require.NoError(t, err)

	changed, err := IsChanged(versions[0], filepath.Join(root, "never-existed.txt"))
	require.NoError(t, err)
	assert.False(t, changed)
}
