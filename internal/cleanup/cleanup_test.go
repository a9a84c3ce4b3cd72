package cleanup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"versionstore/internal/history"
)

func candidatesAt(times ...time.Time) []history.VersionCandidate {
	out := make([]history.VersionCandidate, len(times))
	for i, t := range times {
		out[i] = history.VersionCandidate{SnapshotTimeCreated: t, SnapshotRevision: int64(i)}
	}
	return out
}

func TestForeverKeepsEverything(t *testing.T) {
	now := time.Now()
	versions := candidatesAt(now, now.Add(-time.Hour), now.Add(-30*24*time.Hour))
	assert.Empty(t, candidatesToDelete(Forever(), versions))
}

func TestOfVersionsKeepsOnlyNMostRecent(t *testing.T) {
	now := time.Now()
	versions := candidatesAt(
		now,
		now.Add(-time.Minute),
		now.Add(-2*time.Minute),
		now.Add(-3*time.Minute),
	)
	p := OfVersions(2)
	del := candidatesToDelete(p, versions)

	assert.ElementsMatch(t, []int{2, 3}, del)
}

func TestOfVersionsEmptyInput(t *testing.T) {
	assert.Empty(t, candidatesToDelete(OfVersions(5), nil))
}

func TestOfDurationDropsEverythingOlderThanWindow(t *testing.T) {
	now := time.Now()
	versions := candidatesAt(
		now,
		now.Add(-12*time.Hour),
		now.Add(-36*time.Hour), // outside a 24h window
		now.Add(-48*time.Hour), // outside a 24h window
	)
	p := OfDuration(24, time.Hour)
	del := candidatesToDelete(p, versions)

	assert.ElementsMatch(t, []int{2, 3}, del)
}

func TestOfStaggeredKeepsOnePerBucketForever(t *testing.T) {
	now := time.Now()
	// Two versions per day over 3 days; staggered policy keeps the
	// newest of each day, forever.
	versions := candidatesAt(
		now,
		now.Add(-2*time.Hour),
		now.Add(-25*time.Hour),
		now.Add(-26*time.Hour),
		now.Add(-49*time.Hour),
		now.Add(-50*time.Hour),
	)
	p := OfStaggered(1, 24*time.Hour)
	del := candidatesToDelete(p, versions)

	// Exactly one survivor per 24h bucket: indices 0, 2, 4 kept; 1, 3, 5 deleted.
	assert.ElementsMatch(t, []int{1, 3, 5}, del)
}

func TestOfStaggeredKeepsMultiplePerBucket(t *testing.T) {
	now := time.Now()
	versions := candidatesAt(
		now,
		now.Add(-time.Minute),
		now.Add(-2*time.Minute),
	)
	p := OfStaggered(2, 24*time.Hour)
	del := candidatesToDelete(p, versions)

	assert.ElementsMatch(t, []int{2}, del)
}

func TestPolicyDescriptionsAreNonEmpty(t *testing.T) {
	for _, p := range []Policy{
		Forever(),
		OfVersions(3),
		OfDuration(1, time.Hour),
		OfStaggered(1, time.Hour),
	} {
		assert.NotEmpty(t, p.Description)
	}
}

func TestEvaluateWithNoPoliciesIsNoop(t *testing.T) {
	removed, err := Evaluate(nil, nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, removed)
}
