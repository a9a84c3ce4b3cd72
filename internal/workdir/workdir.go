// Package workdir implements WorkDirectory: the mapping from a
// user-facing directory to a Timeline, plus the walk, ignore-matching,
// and commit/update/restore/status operations layered on top of it. A
// working directory is a hidden subdirectory guarded by marker files,
// opened through a per-process instance cache keyed by absolute path.
package workdir

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"versionstore/internal/actor"
	"versionstore/internal/history"
	"versionstore/internal/ignore"
	"versionstore/internal/logging"
	"versionstore/internal/repository"
	"versionstore/internal/reverr"
)

// actorQueueSize bounds how many mutations (Commit/Update/Restore) a
// working directory's actor will buffer before SendBlocking starts
// applying back-pressure to callers.
const actorQueueSize = 64

const (
	metadataDirName = ".reversion"
	infoFileName    = "info.json"
	ignoreFileName  = "ignore.json"
	repoDirName     = "repository"

	preRestoreSafetyDescription = "pre-restore safety commit"
)

// Info is the persisted content of info.json: the one fact a working
// directory needs to find its way back to its Timeline.
type Info struct {
	TimelineID string `json:"timeline"`
}

// WorkDirectory maps a directory on disk to a Timeline in a private
// repository held in its hidden metadata directory. Its mutating
// operations Commit/Update/Restore are routed through a private Actor,
// so two callers mutating the same WorkDirectory concurrently are
// serialized rather than racing each other against the underlying
// repository; Delete flushes that Actor instead of running on it.
type WorkDirectory struct {
	root        string
	metadataDir string
	repo        *repository.Repository
	timeline    *history.Timeline
	logger      *slog.Logger
	actor       *actor.Actor

	mu       sync.RWMutex
	matchers ignore.Set
}

var (
	cacheMu sync.Mutex
	cache   = map[string]*WorkDirectory{}
)

// Create initializes a new working directory at root: root must not
// already have a hidden metadata directory. A private repository is
// created inside it with repoCfg, and a fresh Timeline is bound to it.
func Create(ctx context.Context, root string, repoCfg repository.Config, logger *slog.Logger) (*WorkDirectory, error) {
	logger = logging.Default(logger).With("component", "workdir")

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "resolve working directory root", err)
	}
	metadataDir := filepath.Join(abs, metadataDirName)

	if _, err := os.Stat(metadataDir); err == nil {
		return nil, reverr.Newf(reverr.KindDuplicateRecord, "working directory already initialized at %s", abs)
	} else if !os.IsNotExist(err) {
		return nil, reverr.Wrap(reverr.KindIO, "stat working directory metadata", err)
	}

	if err := os.MkdirAll(metadataDir, 0o750); err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "create working directory metadata", err)
	}
	cleanup := func() { os.RemoveAll(metadataDir) }

	repo, err := repository.Create(ctx, filepath.Join(metadataDir, repoDirName), repoCfg, logger)
	if err != nil {
		cleanup()
		return nil, err
	}

	timeline, err := repo.NewTimeline(ctx)
	if err != nil {
		repo.Close()
		cleanup()
		return nil, err
	}

	if err := writeJSON(filepath.Join(metadataDir, infoFileName), Info{TimelineID: timeline.ID()}); err != nil {
		repo.Close()
		cleanup()
		return nil, err
	}
	if err := writeJSON(filepath.Join(metadataDir, ignoreFileName), ignore.Set{}); err != nil {
		repo.Close()
		cleanup()
		return nil, err
	}

	w := &WorkDirectory{root: abs, metadataDir: metadataDir, repo: repo, timeline: timeline, logger: logger, actor: actor.New(actorQueueSize)}
	cacheMu.Lock()
	cache[abs] = w
	cacheMu.Unlock()
	return w, nil
}

// Open loads the working directory rooted at root, returning the cached
// instance if this process already has one open for that path.
func Open(ctx context.Context, root string, logger *slog.Logger) (*WorkDirectory, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "resolve working directory root", err)
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if w, ok := cache[abs]; ok {
		return w, nil
	}

	w, err := openUncached(ctx, abs, logger)
	if err != nil {
		return nil, err
	}
	cache[abs] = w
	return w, nil
}

// OpenFromDescendant walks upward from startPath, opening the first
// ancestor directory (inclusive) that has a hidden metadata directory.
func OpenFromDescendant(ctx context.Context, startPath string, logger *slog.Logger) (*WorkDirectory, error) {
	abs, err := filepath.Abs(startPath)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "resolve start path", err)
	}

	dir := abs
	for {
		if info, err := os.Stat(filepath.Join(dir, metadataDirName)); err == nil && info.IsDir() {
			return Open(ctx, dir, logger)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, reverr.Newf(reverr.KindNotAWorkDirectory, "no working directory found above %s", startPath)
}

func openUncached(ctx context.Context, abs string, logger *slog.Logger) (*WorkDirectory, error) {
	logger = logging.Default(logger).With("component", "workdir")
	metadataDir := filepath.Join(abs, metadataDirName)

	if info, err := os.Stat(metadataDir); err != nil || !info.IsDir() {
		return nil, reverr.Newf(reverr.KindNotAWorkDirectory, "no working directory metadata at %s", abs)
	}

	var wdInfo Info
	if err := readJSON(filepath.Join(metadataDir, infoFileName), &wdInfo); err != nil {
		return nil, err
	}

	repo, err := repository.Open(ctx, filepath.Join(metadataDir, repoDirName), logger)
	if err != nil {
		return nil, err
	}

	timeline, err := repo.OpenTimeline(ctx, wdInfo.TimelineID)
	if err != nil {
		repo.Close()
		return nil, err
	}

	var matchers ignore.Set
	if data, err := os.ReadFile(filepath.Join(metadataDir, ignoreFileName)); err == nil {
		if err := json.Unmarshal(data, &matchers); err != nil {
			repo.Close()
			return nil, reverr.Wrap(reverr.KindInvalidRepository, "parse ignore.json", err)
		}
	} else if !os.IsNotExist(err) {
		repo.Close()
		return nil, reverr.Wrap(reverr.KindIO, "read ignore.json", err)
	}

	return &WorkDirectory{root: abs, metadataDir: metadataDir, repo: repo, timeline: timeline, matchers: matchers, logger: logger, actor: actor.New(actorQueueSize)}, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return reverr.Wrap(reverr.KindInternal, "marshal "+filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return reverr.Wrap(reverr.KindIO, "write "+filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return reverr.Wrap(reverr.KindInvalidRepository, "read "+filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return reverr.Wrap(reverr.KindInvalidRepository, "parse "+filepath.Base(path), err)
	}
	return nil
}

// Root returns the working directory's absolute root path.
func (w *WorkDirectory) Root() string { return w.root }

// Timeline returns the Timeline this working directory is bound to.
func (w *WorkDirectory) Timeline() *history.Timeline { return w.timeline }

// Repository returns the private repository backing this working
// directory.
func (w *WorkDirectory) Repository() *repository.Repository { return w.repo }

// IgnoreMatchers returns the working directory's current ignore rules.
func (w *WorkDirectory) IgnoreMatchers() ignore.Set {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.matchers
}

// SetIgnoreMatchers replaces the working directory's ignore rules and
// persists them to ignore.json.
func (w *WorkDirectory) SetIgnoreMatchers(matchers ignore.Set) error {
	if err := writeJSON(filepath.Join(w.metadataDir, ignoreFileName), matchers); err != nil {
		return err
	}
	w.mu.Lock()
	w.matchers = matchers
	w.mu.Unlock()
	return nil
}

func (w *WorkDirectory) combinedMatcher() ignore.Set {
	w.mu.RLock()
	defer w.mu.RUnlock()
	combined := make(ignore.Set, 0, len(w.matchers)+1)
	combined = append(combined, w.matchers...)
	combined = append(combined, ignore.Default(metadataDirName))
	return combined
}

// relPath resolves p (absolute, or relative to root) to a root-relative
// path, rejecting anything that escapes root.
func (w *WorkDirectory) relPath(p string) (string, error) {
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.root, p)
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return "", reverr.Wrap(reverr.KindInvalidInput, "resolve path against working directory root", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", reverr.Newf(reverr.KindInvalidInput, "path %q is outside the working directory", p)
	}
	return rel, nil
}

// normalizeRoots resolves and flattens a list of user-supplied paths to
// root-relative subtree roots: descendants of another listed path are
// dropped, and an empty list means "the whole working directory".
func (w *WorkDirectory) normalizeRoots(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return []string{"."}, nil
	}

	rels := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		rel, err := w.relPath(p)
		if err != nil {
			return nil, err
		}
		rel = filepath.Clean(rel)
		if seen[rel] {
			continue
		}
		seen[rel] = true
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	flattened := rels[:0:0]
	for _, rel := range rels {
		covered := false
		for _, kept := range flattened {
			if kept == "." || rel == kept || strings.HasPrefix(rel, kept+string(filepath.Separator)) {
				covered = true
				break
			}
		}
		if !covered {
			flattened = append(flattened, rel)
		}
	}
	return flattened, nil
}

// WalkDirectory enumerates the regular files on disk under the given
// paths (root-relative or absolute, defaulting to the whole root),
// returning root-relative paths that survive the combined ignore
// matcher.
func (w *WorkDirectory) WalkDirectory(paths []string) ([]string, error) {
	roots, err := w.normalizeRoots(paths)
	if err != nil {
		return nil, err
	}
	matcher := w.combinedMatcher()

	seen := make(map[string]bool)
	var result []string
	for _, rel := range roots {
		absRoot := filepath.Join(w.root, rel)
		info, err := os.Lstat(absRoot)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, reverr.Wrap(reverr.KindIO, "stat walk root", err)
		}

		if info.Mode().IsRegular() {
			if w.addIfMatching(rel, info.Size(), matcher, seen, &result) {
				continue
			}
			continue
		}
		if !info.IsDir() {
			continue
		}

		err = filepath.WalkDir(absRoot, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			if !fi.Mode().IsRegular() {
				return nil
			}
			entryRel, err := filepath.Rel(w.root, path)
			if err != nil {
				return err
			}
			w.addIfMatching(entryRel, fi.Size(), matcher, seen, &result)
			return nil
		})
		if err != nil {
			return nil, reverr.Wrap(reverr.KindIO, "walk working directory", err)
		}
	}

	sort.Strings(result)
	return result, nil
}

func (w *WorkDirectory) addIfMatching(rel string, size int64, matcher ignore.Set, seen map[string]bool, result *[]string) bool {
	if seen[rel] || matcher.Matches(rel, size) {
		return false
	}
	seen[rel] = true
	*result = append(*result, rel)
	return true
}

// WalkTimeline intersects the Timeline's known paths with the requested
// subtrees, applying the same ignore filtering as WalkDirectory. Size-
// based ignore matchers are evaluated against 0, since a timeline path
// is not guaranteed to still exist on disk.
func (w *WorkDirectory) WalkTimeline(ctx context.Context, paths []string) ([]string, error) {
	roots, err := w.normalizeRoots(paths)
	if err != nil {
		return nil, err
	}
	all, err := w.timeline.Paths(ctx)
	if err != nil {
		return nil, err
	}
	matcher := w.combinedMatcher()

	wholeTree := len(roots) == 1 && roots[0] == "."
	var result []string
	for _, p := range all {
		if !wholeTree && !underAnyRoot(p, roots) {
			continue
		}
		if matcher.Matches(p, 0) {
			continue
		}
		result = append(result, p)
	}
	sort.Strings(result)
	return result, nil
}

func underAnyRoot(p string, roots []string) bool {
	for _, root := range roots {
		if p == root || strings.HasPrefix(p, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// FilterModified keeps only the paths whose on-disk content differs
// from the latest snapshot's cumulative version at that path. Paths
// with no prior version are considered modified; paths that no longer
// exist on disk are dropped.
func (w *WorkDirectory) FilterModified(ctx context.Context, paths []string) ([]string, error) {
	latest, ok, err := w.timeline.LatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	cumulative := map[string]*history.Version{}
	if ok {
		cumulative, err = latest.CumulativeVersions(ctx)
		if err != nil {
			return nil, err
		}
	}

	var modified []string
	for _, p := range paths {
		abs := filepath.Join(w.root, p)
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			continue
		} else if err != nil {
			return nil, reverr.Wrap(reverr.KindIO, "stat file for modification check", err)
		}

		v, exists := cumulative[p]
		if !exists {
			modified = append(modified, p)
			continue
		}
		changed, err := history.IsChanged(v, abs)
		if err != nil {
			return nil, err
		}
		if changed {
			modified = append(modified, p)
		}
	}
	return modified, nil
}

// Commit walks paths, keeps only the modified ones (unless force is
// set), and creates a snapshot from them. Returns (nil, nil) if nothing
// qualified for the snapshot. Runs on this WorkDirectory's Actor, so it
// is serialized against any other Commit/Update/Restore/Delete call.
func (w *WorkDirectory) Commit(ctx context.Context, paths []string, force bool, name *string, description string, pinned bool) (*history.Snapshot, error) {
	v, err := w.actor.SendBlocking("commit", func(context.Context) (any, error) {
		return w.commitLocked(ctx, paths, force, name, description, pinned)
	}).Wait(ctx)
	if err != nil {
		return nil, err
	}
	snap, _ := v.(*history.Snapshot)
	return snap, nil
}

func (w *WorkDirectory) commitLocked(ctx context.Context, paths []string, force bool, name *string, description string, pinned bool) (*history.Snapshot, error) {
	walked, err := w.WalkDirectory(paths)
	if err != nil {
		return nil, err
	}

	target := walked
	if !force {
		target, err = w.FilterModified(ctx, walked)
		if err != nil {
			return nil, err
		}
	}
	if len(target) == 0 {
		return nil, nil
	}
	return w.timeline.CreateSnapshot(ctx, target, w.root, name, description, pinned)
}

func (w *WorkDirectory) resolveSnapshot(ctx context.Context, revision *int64) (*history.Snapshot, error) {
	if revision != nil {
		return w.timeline.GetSnapshot(ctx, *revision)
	}
	snap, ok, err := w.timeline.LatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, reverr.New(reverr.KindInvalidInput, "timeline has no snapshots to update from")
	}
	return snap, nil
}

// Update checks out, for each path in WalkTimeline(paths), the target
// snapshot's (given revision, or the latest) cumulative version at that
// path. A locally modified file is left alone unless overwrite is set:
// internally this means overwrite||!changed is passed to Checkout, and
// the resulting "target already exists" outcome is treated as an
// intentional skip rather than a failure. Runs on this WorkDirectory's
// Actor, so it is serialized against any other
// Commit/Update/Restore/Delete call.
func (w *WorkDirectory) Update(ctx context.Context, paths []string, revision *int64, overwrite bool) error {
	_, err := w.actor.SendBlocking("update", func(context.Context) (any, error) {
		return nil, w.updateLocked(ctx, paths, revision, overwrite)
	}).Wait(ctx)
	return err
}

func (w *WorkDirectory) updateLocked(ctx context.Context, paths []string, revision *int64, overwrite bool) error {
	snap, err := w.resolveSnapshot(ctx, revision)
	if err != nil {
		return err
	}
	cumulative, err := snap.CumulativeVersions(ctx)
	if err != nil {
		return err
	}
	walked, err := w.WalkTimeline(ctx, paths)
	if err != nil {
		return err
	}

	for _, p := range walked {
		v, ok := cumulative[p]
		if !ok {
			continue
		}
		abs := filepath.Join(w.root, p)
		changed, err := history.IsChanged(v, abs)
		if err != nil {
			return err
		}
		if err := v.Checkout(ctx, abs, overwrite || !changed, true); err != nil {
			if errors.Is(err, history.ErrCheckoutTargetExists) {
				continue
			}
			return err
		}
	}
	return nil
}

// Restore safety-commits the current content of paths (so local edits
// are never silently lost), then force-overwrites them from the target
// snapshot. Runs on this WorkDirectory's Actor as a single task, so the
// safety commit and the subsequent checkout cannot be interleaved with
// another caller's mutation; it calls the commit/update logic directly
// rather than through Commit/Update, which would deadlock by trying to
// enqueue onto an Actor that is busy running this very task.
func (w *WorkDirectory) Restore(ctx context.Context, paths []string, revision *int64) error {
	_, err := w.actor.SendBlocking("restore", func(context.Context) (any, error) {
		if _, err := w.commitLocked(ctx, paths, true, nil, preRestoreSafetyDescription, false); err != nil {
			return nil, err
		}
		return nil, w.updateLocked(ctx, paths, revision, true)
	}).Wait(ctx)
	return err
}

// GetStatus returns every path under paths (the whole working
// directory if empty) currently modified relative to the latest
// snapshot.
func (w *WorkDirectory) GetStatus(ctx context.Context, paths []string) ([]string, error) {
	all, err := w.WalkDirectory(paths)
	if err != nil {
		return nil, err
	}
	return w.FilterModified(ctx, all)
}

// Delete waits for any in-flight Commit/Update/Restore to finish, then
// closes and removes the private repository and the hidden metadata
// directory, then evicts this instance from the process-wide cache.
// Unlike the other mutations it does not run as an Actor task itself:
// tearing the Actor down from inside its own goroutine would deadlock,
// so it flushes the queue and stops the Actor around the teardown
// instead.
func (w *WorkDirectory) Delete() error {
	if err := w.actor.Flush(context.Background()); err != nil {
		return err
	}
	defer w.actor.Close()

	if err := w.repo.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(w.metadataDir); err != nil {
		return reverr.Wrap(reverr.KindIO, "delete working directory metadata", err)
	}

	cacheMu.Lock()
	delete(cache, w.root)
	cacheMu.Unlock()
	return nil
}
