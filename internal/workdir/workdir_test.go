package workdir

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versionstore/internal/cleanup"
	"versionstore/internal/ignore"
	"versionstore/internal/repository"
)

func newTestWorkDir(t *testing.T) (*WorkDirectory, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "project")
	require.NoError(t, os.MkdirAll(root, 0o755))

	w, err := Create(context.Background(), root, repository.DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		cacheMu.Lock()
		delete(cache, w.root)
		cacheMu.Unlock()
	})
	return w, root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestCreateThenOpenRoundTrips(t *testing.T) {
	w, root := newTestWorkDir(t)
	require.NoError(t, w.repo.Close())
	cacheMu.Lock()
	delete(cache, w.root)
	cacheMu.Unlock()

	opened, err := Open(context.Background(), root, nil)
	require.NoError(t, err)
	defer opened.repo.Close()

	assert.Equal(t, w.Timeline().ID(), opened.Timeline().ID())
}

func TestCreateFailsIfAlreadyInitialized(t *testing.T) {
	_, root := newTestWorkDir(t)
	_, err := Create(context.Background(), root, repository.DefaultConfig(), nil)
	require.Error(t, err)
}

func TestOpenReturnsCachedInstance(t *testing.T) {
	w, root := newTestWorkDir(t)
	opened, err := Open(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Same(t, w, opened)
}

func TestOpenFromDescendantWalksUpward(t *testing.T) {
	w, root := newTestWorkDir(t)
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := OpenFromDescendant(context.Background(), nested, nil)
	require.NoError(t, err)
	assert.Equal(t, w.Root(), found.Root())
}

func TestOpenFromDescendantNotFound(t *testing.T) {
	_, err := OpenFromDescendant(context.Background(), t.TempDir(), nil)
	require.Error(t, err)
}

func TestSetIgnoreMatchersPersistsAcrossReopen(t *testing.T) {
	w, root := newTestWorkDir(t)
	require.NoError(t, w.SetIgnoreMatchers(ignore.Set{ignore.Extension{Extensions: []string{"log"}}}))
	require.NoError(t, w.repo.Close())
	cacheMu.Lock()
	delete(cache, w.root)
	cacheMu.Unlock()

	opened, err := Open(context.Background(), root, nil)
	require.NoError(t, err)
	defer opened.repo.Close()

	require.Len(t, opened.IgnoreMatchers(), 1)
}

func TestWalkDirectoryFindsFilesAndAppliesIgnore(t *testing.T) {
	w, root := newTestWorkDir(t)
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "sub/b.txt", "b")
	writeFile(t, root, "ignored.log", "x")
	require.NoError(t, w.SetIgnoreMatchers(ignore.Set{ignore.Extension{Extensions: []string{"log"}}}))

	paths, err := w.WalkDirectory(nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", filepath.Join("sub", "b.txt")}, paths)
}

func TestWalkDirectoryAlwaysSkipsMetadataDir(t *testing.T) {
	w, root := newTestWorkDir(t)
	writeFile(t, root, "a.txt", "a")

	paths, err := w.WalkDirectory(nil)
	require.NoError(t, err)
	for _, p := range paths {
		assert.NotContains(t, p, metadataDirName)
	}
}

func TestWalkDirectoryScopedToSubtree(t *testing.T) {
	w, root := newTestWorkDir(t)
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "sub/b.txt", "b")

	paths, err := w.WalkDirectory([]string{"sub"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("sub", "b.txt")}, paths)
}

func TestCommitCreatesSnapshotFromModifiedFiles(t *testing.T) {
	w, root := newTestWorkDir(t)
	writeFile(t, root, "a.txt", "content a")

	snap, err := w.Commit(context.Background(), nil, false, nil, "first commit", false)
	require.NoError(t, err)
	require.NotNil(t, snap)

	versions, err := snap.Versions(context.Background())
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestCommitWithNoModificationsReturnsNil(t *testing.T) {
	w, root := newTestWorkDir(t)
	writeFile(t, root, "a.txt", "content a")

	_, err := w.Commit(context.Background(), nil, false, nil, "", false)
	require.NoError(t, err)

	snap, err := w.Commit(context.Background(), nil, false, nil, "", false)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestCommitForceIncludesUnmodifiedFiles(t *testing.T) {
	w, root := newTestWorkDir(t)
	writeFile(t, root, "a.txt", "content a")

	_, err := w.Commit(context.Background(), nil, false, nil, "", false)
	require.NoError(t, err)

	snap, err := w.Commit(context.Background(), nil, true, nil, "", false)
	require.NoError(t, err)
	require.NotNil(t, snap)
	versions, err := snap.Versions(context.Background())
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestGetStatusReportsModifiedFiles(t *testing.T) {
	w, root := newTestWorkDir(t)
	writeFile(t, root, "a.txt", "content a")

	status, err := w.GetStatus(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, status)

	_, err = w.Commit(context.Background(), nil, false, nil, "", false)
	require.NoError(t, err)

	status, err = w.GetStatus(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, status)

	writeFile(t, root, "a.txt", "changed content a, now longer")
	status, err = w.GetStatus(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, status)
}

func TestUpdateChecksOutLatestSnapshotRestoringDeletedFile(t *testing.T) {
	w, root := newTestWorkDir(t)
	writeFile(t, root, "a.txt", "v1")
	_, err := w.Commit(context.Background(), nil, false, nil, "", false)
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "v2, a bit longer")
	_, err = w.Commit(context.Background(), nil, false, nil, "", false)
	require.NoError(t, err)

	// Delete the file without committing, then update: Update should
	// restore v2 since the file no longer exists.
	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	require.NoError(t, w.Update(context.Background(), nil, nil, false))

	got, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2, a bit longer", string(got))
}

func TestUpdateSkipsLocallyModifiedFileWithoutOverwrite(t *testing.T) {
	w, root := newTestWorkDir(t)
	writeFile(t, root, "a.txt", "v1")
	_, err := w.Commit(context.Background(), nil, false, nil, "", false)
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "locally modified, not committed")
	require.NoError(t, w.Update(context.Background(), nil, nil, false))

	got, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "locally modified, not committed", string(got))
}

func TestUpdateOverwriteForcesLocalContentToMatchSnapshot(t *testing.T) {
	w, root := newTestWorkDir(t)
	writeFile(t, root, "a.txt", "v1")
	_, err := w.Commit(context.Background(), nil, false, nil, "", false)
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "locally modified, not committed")
	require.NoError(t, w.Update(context.Background(), nil, nil, true))

	got, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
}

func TestRestoreSafetyCommitsThenOverwrites(t *testing.T) {
	w, root := newTestWorkDir(t)
	writeFile(t, root, "a.txt", "v1")
	first, err := w.Commit(context.Background(), nil, false, nil, "", false)
	require.NoError(t, err)
	rev := first.Revision()

	writeFile(t, root, "a.txt", "uncommitted local edit, should be safety-saved")
	require.NoError(t, w.Restore(context.Background(), nil, &rev))

	got, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	snapshots, err := w.Timeline().ListSnapshots(context.Background())
	require.NoError(t, err)
	// The original commit plus the safety commit made by Restore.
	assert.Len(t, snapshots, 2)
}

func TestDeleteRemovesMetadataAndEvictsCache(t *testing.T) {
	w, root := newTestWorkDir(t)
	require.NoError(t, w.Delete())

	_, statErr := os.Stat(filepath.Join(root, metadataDirName))
	assert.True(t, os.IsNotExist(statErr))

	cacheMu.Lock()
	_, cached := cache[w.root]
	cacheMu.Unlock()
	assert.False(t, cached)
}

func TestCleanupPolicyBindingAndApply(t *testing.T) {
	w, root := newTestWorkDir(t)
	for i := 0; i < 3; i++ {
		writeFile(t, root, "a.txt", "content "+string(rune('a'+i)))
		_, err := w.Commit(context.Background(), nil, true, nil, "", false)
		require.NoError(t, err)
	}

	require.NoError(t, w.AddCleanupPolicy(context.Background(), "keep-1", cleanup.OfVersions(1)))

	policies, err := w.CleanupPolicies(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 1)

	removed, err := w.ApplyCleanupPolicies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	versions, err := w.Timeline().ListVersions(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	require.NoError(t, w.ClearCleanupPolicies(context.Background()))
	policies, err = w.CleanupPolicies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, policies)
}
