// Package cleanup implements a bucketed retention evaluator: per-path
// windowed deletion of old versions, with four constructors mirroring
// common retention intents. Choosing what to delete (candidatesToDelete)
// is a pure function over a list of a path's versions, returning the
// indices to delete without mutating its input or performing IO; the
// package-level Evaluate reads the timeline and removes those versions.
package cleanup

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"versionstore/internal/history"
)

// infinite stands in for "no bound" on a duration-valued field, the
// nanosecond analogue of the math.MaxInt64 sentinel the relational
// store persists for these fields.
const infinite = time.Duration(math.MaxInt64)

// Policy is a bucketed retention rule: within each minInterval-wide
// bucket of the last timeFrame, keep only the maxVersions newest
// versions: the rest are candidates for deletion, unless pinned.
type Policy struct {
	ID          string
	MinInterval time.Duration
	TimeFrame   time.Duration
	MaxVersions int64
	Description string
}

// Forever never deletes anything.
func Forever() Policy {
	return Policy{MinInterval: infinite, TimeFrame: infinite, MaxVersions: math.MaxInt64, Description: "keep forever"}
}

// OfVersions keeps at most n versions of each path, globally, deleting
// the rest regardless of age.
func OfVersions(n int64) Policy {
	return Policy{
		MinInterval: infinite,
		TimeFrame:   infinite,
		MaxVersions: n,
		Description: fmt.Sprintf("keep the %d most recent versions", n),
	}
}

// OfDuration keeps every version created within the last amount*unit,
// deleting everything older.
func OfDuration(amount int64, unit time.Duration) Policy {
	window := time.Duration(amount) * unit
	return Policy{
		MinInterval: window,
		TimeFrame:   window,
		MaxVersions: math.MaxInt64,
		Description: fmt.Sprintf("keep everything for %s", window),
	}
}

// OfStaggered keeps the n newest versions within each interval of unit,
// forever: a coarsening retention that still preserves one version per
// bucket arbitrarily far into the past.
func OfStaggered(n int64, unit time.Duration) Policy {
	return Policy{
		MinInterval: unit,
		TimeFrame:   infinite,
		MaxVersions: n,
		Description: fmt.Sprintf("keep %d version(s) per %s, forever", n, unit),
	}
}

// candidatesToDelete applies p to versions (already sorted newest-first
// by snapshot creation time) and returns the indices that violate the
// bucketed retention rule.
func candidatesToDelete(p Policy, versions []history.VersionCandidate) []int {
	if len(versions) == 0 {
		return nil
	}
	windowEnd := versions[0].SnapshotTimeCreated
	oldest := versions[len(versions)-1].SnapshotTimeCreated

	// kept[i] == true means versions[i] survives this policy.
	kept := make([]bool, len(versions))

	var cutoff time.Time
	hasCutoff := p.TimeFrame != infinite
	if hasCutoff {
		cutoff = windowEnd.Add(-p.TimeFrame)
	}

	bucketEnd := windowEnd
	for {
		var bucketStart time.Time
		if p.MinInterval == infinite {
			bucketStart = time.Time{} // one bucket spanning all time
		} else {
			bucketStart = bucketEnd.Add(-p.MinInterval)
		}
		if hasCutoff && bucketStart.Before(cutoff) {
			bucketStart = cutoff
		}

		kept1 := 0
		for i, v := range versions {
			t := v.SnapshotTimeCreated
			inBucket := t.After(bucketStart) && !t.After(bucketEnd)
			if bucketStart.IsZero() {
				inBucket = !t.After(bucketEnd)
			}
			if !inBucket {
				continue
			}
			if int64(kept1) < p.MaxVersions {
				kept[i] = true
				kept1++
			}
		}

		if p.MinInterval == infinite || bucketStart.IsZero() {
			break
		}
		if hasCutoff && !bucketStart.After(cutoff) {
			break
		}
		if oldest.After(bucketStart) {
			// This bucket already covered the oldest version; no
			// further (strictly older) buckets can contain anything.
			break
		}
		bucketEnd = bucketStart
	}

	var deleteIdx []int
	for i, k := range kept {
		if !k {
			deleteIdx = append(deleteIdx, i)
		}
	}
	return deleteIdx
}

// Evaluate applies policies to every path ever recorded in timeline,
// deleting each resulting candidate (skipping pinned snapshots) through
// Snapshot.RemoveVersion, and returns the number of versions removed.
func Evaluate(ctx context.Context, timeline *history.Timeline, policies []Policy) (int, error) {
	if len(policies) == 0 {
		return 0, nil
	}

	paths, err := timeline.Paths(ctx)
	if err != nil {
		return 0, err
	}

	snapshotCache := make(map[int64]*history.Snapshot)
	removed := 0

	for _, path := range paths {
		candidates, err := timeline.VersionsWithSnapshotMeta(ctx, path)
		if err != nil {
			return removed, err
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].SnapshotTimeCreated.After(candidates[j].SnapshotTimeCreated)
		})

		toDelete := make(map[int]bool)
		for _, p := range policies {
			for _, idx := range candidatesToDelete(p, candidates) {
				toDelete[idx] = true
			}
		}

		for idx := range toDelete {
			c := candidates[idx]
			if c.SnapshotPinned {
				continue
			}
			snap, ok := snapshotCache[c.SnapshotRevision]
			if !ok {
				snap, err = timeline.GetSnapshot(ctx, c.SnapshotRevision)
				if err != nil {
					return removed, err
				}
				snapshotCache[c.SnapshotRevision] = snap
			}
			if err := snap.RemoveVersion(ctx, path); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
