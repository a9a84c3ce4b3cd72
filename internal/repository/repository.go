// Package repository implements the top-level repository handle: it
// aggregates the relational store and the blob store, owns the
// repository's Timelines, and runs the periodic backup job and the
// verify/repair pipeline. A repository is a directory guarded by a
// version file recording the on-disk format it was created with.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"versionstore/internal/blob"
	"versionstore/internal/blobstore"
	"versionstore/internal/checksum"
	"versionstore/internal/history"
	"versionstore/internal/logging"
	"versionstore/internal/reverr"
	"versionstore/internal/store"
)

// Sentinel is the fixed UUID declaring the on-disk repository format
// this build understands. It is also what `--version` prints on the
// command line surface.
const Sentinel = "c0747b1e-4bd2-11e9-a623-bff5824aa175"

// supportedSentinels is the set of format sentinels this build can
// open. A single fixed value today; future format revisions would add
// entries here and a migration path in Open.
var supportedSentinels = map[string]bool{Sentinel: true}

const (
	sentinelFileName = "version"
	configFileName   = "config.json"
	dbFileName       = "manifest.db"
	backupFileName   = "manifest.db.bak"
	blobsDirName     = "blobs"
)

// ChunkerKind selects which blob.Chunker implementation a repository
// uses when recording new versions.
type ChunkerKind string

const (
	ChunkerFixed          ChunkerKind = "fixed"
	ChunkerContentDefined ChunkerKind = "content-defined"
)

// Config is the repository's persisted config.json.
type Config struct {
	// BlockSize is the fixed chunker's block size in bytes. Default is
	// 2^63-1, i.e. effectively unbounded, matching a chunker selector of
	// content-defined where the field is unused.
	BlockSize int64 `json:"blockSize"`
	// BackupIntervalMinutes is how often the background job snapshots
	// the live database to manifest.db.bak.
	BackupIntervalMinutes int64 `json:"backupInterval"`
	// Chunker selects the file-splitting strategy for new versions.
	Chunker ChunkerKind `json:"chunker"`
	// AverageBits parameterizes the content-defined chunker; unused when
	// Chunker is fixed.
	AverageBits uint `json:"averageBits,omitempty"`
	// Compression enables transparent zstd compression of blob files.
	Compression bool `json:"compression"`
}

// DefaultConfig returns the configuration a repository is created with
// when the caller doesn't override anything: content-defined chunking
// with a ~1 MiB average (averageBits 20), since it reproduces
// deduplication across edits that shift byte offsets, which fixed-size
// chunking cannot.
func DefaultConfig() Config {
	return Config{
		BlockSize:             math.MaxInt64,
		BackupIntervalMinutes: 15,
		Chunker:               ChunkerContentDefined,
		AverageBits:           20,
		Compression:           false,
	}
}

func buildChunker(cfg Config) (blob.Chunker, error) {
	switch cfg.Chunker {
	case ChunkerFixed:
		return blob.NewFixedSizeChunker(cfg.BlockSize)
	case ChunkerContentDefined, "":
		return blob.NewContentDefinedChunker(cfg.AverageBits)
	default:
		return nil, reverr.Newf(reverr.KindInvalidInput, "unknown chunker selector %q", cfg.Chunker)
	}
}

func readConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, reverr.Wrap(reverr.KindInvalidRepository, "read config.json", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, reverr.Wrap(reverr.KindInvalidRepository, "parse config.json", err)
	}
	return cfg, nil
}

func writeConfig(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return reverr.Wrap(reverr.KindInternal, "marshal config.json", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return reverr.Wrap(reverr.KindIO, "write config.json", err)
	}
	return nil
}

// Repository aggregates the relational store and the blob store,
// exposes Timeline ownership, and runs the periodic backup job.
type Repository struct {
	root    string
	config  Config
	chunker blob.Chunker
	logger  *slog.Logger

	mu        sync.RWMutex
	db        *store.Store
	blobs     *blobstore.Store
	hdeps     *history.Deps
	scheduler gocron.Scheduler
}

// Create makes a new repository at path: path must not already exist.
// Directories are created, config.json is written, the database is
// opened and migrated, and only once all of that has succeeded is the
// version sentinel written — its presence is what Open trusts to mean
// "this is a repository".
func Create(ctx context.Context, path string, cfg Config, logger *slog.Logger) (*Repository, error) {
	logger = logging.Default(logger).With("component", "repository")

	if _, err := os.Stat(path); err == nil {
		return nil, reverr.Newf(reverr.KindDuplicateRecord, "repository already exists at %s", path)
	} else if !os.IsNotExist(err) {
		return nil, reverr.Wrap(reverr.KindIO, "stat repository path", err)
	}

	if err := os.MkdirAll(filepath.Join(path, blobsDirName), 0o750); err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "create repository directories", err)
	}

	cleanupOnErr := func() { os.RemoveAll(path) }

	if err := writeConfig(filepath.Join(path, configFileName), cfg); err != nil {
		cleanupOnErr()
		return nil, err
	}

	db, err := store.Open(filepath.Join(path, dbFileName), logger)
	if err != nil {
		cleanupOnErr()
		return nil, err
	}

	chunker, err := buildChunker(cfg)
	if err != nil {
		db.Close()
		cleanupOnErr()
		return nil, err
	}

	blobs, err := blobstore.Open(filepath.Join(path, blobsDirName), db,
		blobstore.WithCompression(cfg.Compression), blobstore.WithLogger(logger))
	if err != nil {
		db.Close()
		cleanupOnErr()
		return nil, err
	}

	if err := os.WriteFile(filepath.Join(path, sentinelFileName), []byte(Sentinel+"\n"), 0o640); err != nil {
		blobs.Close()
		db.Close()
		cleanupOnErr()
		return nil, reverr.Wrap(reverr.KindIO, "write version sentinel", err)
	}

	r := newRepository(path, db, blobs, chunker, cfg, logger)
	r.startBackupJob()
	return r, nil
}

// Open loads an existing repository at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Repository, error) {
	logger = logging.Default(logger).With("component", "repository")

	raw, err := os.ReadFile(filepath.Join(path, sentinelFileName))
	if err != nil {
		return nil, reverr.Wrap(reverr.KindInvalidRepository, "read version sentinel", err)
	}
	sentinel := strings.TrimSpace(string(raw))
	if !supportedSentinels[sentinel] {
		return nil, reverr.Newf(reverr.KindIncompatibleRepository, "repository format %q is not supported by this build", sentinel)
	}

	cfg, err := readConfig(filepath.Join(path, configFileName))
	if err != nil {
		return nil, err
	}

	db, err := store.Open(filepath.Join(path, dbFileName), logger)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindInvalidRepository, "open repository database", err)
	}

	chunker, err := buildChunker(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	blobs, err := blobstore.Open(filepath.Join(path, blobsDirName), db,
		blobstore.WithCompression(cfg.Compression), blobstore.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, err
	}

	r := newRepository(path, db, blobs, chunker, cfg, logger)
	r.startBackupJob()
	return r, nil
}

func newRepository(path string, db *store.Store, blobs *blobstore.Store, chunker blob.Chunker, cfg Config, logger *slog.Logger) *Repository {
	r := &Repository{
		root:    path,
		config:  cfg,
		chunker: chunker,
		logger:  logger,
		db:      db,
		blobs:   blobs,
	}
	r.hdeps = history.NewDeps(db, blobs, chunker, logger)
	return r
}

func (r *Repository) startBackupJob() {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		r.logger.Warn("failed to create backup job scheduler, periodic backups disabled", "error", err)
		return
	}
	interval := time.Duration(r.config.BackupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.runBackupJob),
		gocron.WithName("repository-backup"),
	)
	if err != nil {
		r.logger.Warn("failed to schedule backup job, periodic backups disabled", "error", err)
		return
	}
	r.scheduler = scheduler
	r.scheduler.Start()
}

// runBackupJob is the backup job's task body: idempotent, and a silent
// no-op when the live database currently fails its integrity probe
// (BackupTo itself refuses in that case).
func (r *Repository) runBackupJob() {
	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	backupPath := filepath.Join(r.root, backupFileName)
	if err := db.BackupTo(context.Background(), backupPath); err != nil {
		r.logger.Warn("periodic database backup skipped", "error", err)
	}
}

// Root returns the repository's root directory.
func (r *Repository) Root() string { return r.root }

// Config returns the repository's current configuration.
func (r *Repository) Config() Config { return r.config }

// Close stops the backup job and closes the blob store and database.
func (r *Repository) Close() error {
	var errs []error
	if r.scheduler != nil {
		if err := r.scheduler.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	r.mu.RLock()
	blobs, db := r.blobs, r.db
	r.mu.RUnlock()
	if err := blobs.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Delete recursively removes a repository's directory. The caller must
// have closed any open Repository over path first.
func Delete(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return reverr.Wrap(reverr.KindIO, "delete repository directory", err)
	}
	return nil
}

// NewTimeline creates a new, empty Timeline owned by this repository.
func (r *Repository) NewTimeline(ctx context.Context) (*history.Timeline, error) {
	return history.NewTimeline(ctx, r.hdeps)
}

// OpenTimeline loads an existing Timeline by id.
func (r *Repository) OpenTimeline(ctx context.Context, id string) (*history.Timeline, error) {
	return history.OpenTimeline(ctx, r.hdeps, id)
}

// ListTimelines returns every Timeline this repository owns.
func (r *Repository) ListTimelines(ctx context.Context) ([]*history.Timeline, error) {
	return history.ListTimelines(ctx, r.hdeps)
}

// StoredSize is the sum of BlobRecord sizes: the deduplicated size of
// everything this repository has on disk.
func (r *Repository) StoredSize(ctx context.Context) (int64, error) {
	return r.db.TotalBlobSize(ctx)
}

// TotalSize is the sum of Version sizes: the pre-deduplication size of
// everything this repository has ever recorded.
func (r *Repository) TotalSize(ctx context.Context) (int64, error) {
	return r.db.TotalVersionSize(ctx)
}

// Clean sweeps blob files that no Block references, and returns how
// many were removed.
func (r *Repository) Clean(ctx context.Context) (int, error) {
	return r.blobs.Clean(ctx)
}

// RepairAction records what, if anything, Verify did to resolve a
// problem it found.
type RepairAction struct {
	Description string
}

// VerifyAction is one step of the verify pipeline and its outcome.
type VerifyAction struct {
	Name    string
	OK      bool
	Message string
	Repair  *RepairAction
}

// Verify runs the database verify step followed by the versions verify
// step. workDirRoot is the working directory whose on-disk files are
// probed as a repair source for corrupt blobs; pass "" if no working
// directory is available (repair then always falls back to deletion).
func (r *Repository) Verify(ctx context.Context, workDirRoot string) ([]VerifyAction, error) {
	actions := []VerifyAction{r.verifyDatabase(ctx)}

	versionActions, err := r.verifyVersions(ctx, workDirRoot)
	if err != nil {
		return actions, err
	}
	return append(actions, versionActions...), nil
}

func (r *Repository) verifyDatabase(ctx context.Context) VerifyAction {
	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	if ok, err := db.IntegrityOK(ctx); err == nil && ok {
		return VerifyAction{Name: "database", OK: true, Message: "database passed integrity probe"}
	}

	backupPath := filepath.Join(r.root, backupFileName)
	info, statErr := store.BackupModTime(backupPath)
	if statErr != nil {
		return VerifyAction{Name: "database", OK: false, Message: "database failed integrity probe and no backup is available to restore from"}
	}

	dbPath := db.Path()
	if err := db.Close(); err != nil {
		return VerifyAction{Name: "database", OK: false, Message: fmt.Sprintf("failed to close database before restore: %v", err)}
	}
	if err := store.RestoreFrom(dbPath, backupPath); err != nil {
		return VerifyAction{Name: "database", OK: false, Message: fmt.Sprintf("failed to restore from backup: %v", err)}
	}

	reopened, err := store.Open(dbPath, r.logger)
	if err != nil {
		return VerifyAction{Name: "database", OK: false, Message: fmt.Sprintf("restored from backup (modified %s) but could not reopen database: %v", info.ModTime(), err)}
	}
	reopenedBlobs, err := blobstore.Open(filepath.Join(r.root, blobsDirName), reopened,
		blobstore.WithCompression(r.config.Compression), blobstore.WithLogger(r.logger))
	if err != nil {
		reopened.Close()
		return VerifyAction{Name: "database", OK: false, Message: fmt.Sprintf("restored from backup (modified %s) but could not reattach blob store: %v", info.ModTime(), err)}
	}

	r.mu.Lock()
	r.db = reopened
	r.blobs = reopenedBlobs
	r.hdeps = history.NewDeps(reopened, reopenedBlobs, r.chunker, r.logger)
	r.mu.Unlock()

	ok, err := reopened.IntegrityOK(ctx)
	if err != nil || !ok {
		return VerifyAction{
			Name: "database", OK: false,
			Message: fmt.Sprintf("restored from backup (modified %s) but database still fails its integrity probe", info.ModTime()),
		}
	}
	return VerifyAction{
		Name: "database", OK: true,
		Message: fmt.Sprintf("restored from backup (modified %s)", info.ModTime()),
		Repair:  &RepairAction{Description: "restored manifest.db from manifest.db.bak"},
	}
}

// verifyVersions scans every BlobRecord, concurrently probing its file
// against its recorded checksum, then repairs or deletes the fallout of
// any corrupt record it finds.
func (r *Repository) verifyVersions(ctx context.Context, workDirRoot string) ([]VerifyAction, error) {
	r.mu.RLock()
	db, blobs := r.db, r.blobs
	r.mu.RUnlock()

	records, err := db.ListBlobRecords(ctx)
	if err != nil {
		return nil, err
	}

	type corruption struct {
		sum    checksum.Checksum
		reason string
	}
	var (
		mu          sync.Mutex
		corruptions []corruption
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			sum, err := checksum.FromHex(rec.Checksum)
			if err != nil {
				return err
			}
			if reason, corrupt := probeBlob(blobs, sum); corrupt {
				mu.Lock()
				corruptions = append(corruptions, corruption{sum: sum, reason: reason})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(corruptions) == 0 {
		return []VerifyAction{{Name: "versions", OK: true, Message: "no corrupt blob records found"}}, nil
	}

	var actions []VerifyAction
	for _, c := range corruptions {
		repaired, err := r.repairBlob(ctx, c.sum, workDirRoot)
		if err != nil {
			return actions, err
		}
		action := VerifyAction{Name: fmt.Sprintf("blob %s", c.sum.String()), Message: c.reason}
		if repaired {
			action.OK = true
			action.Repair = &RepairAction{Description: "recovered blob bytes from a matching chunk of a working-directory file"}
		} else {
			action.OK = false
			action.Repair = &RepairAction{Description: "could not re-source blob bytes; deleted the versions that depended on it"}
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func probeBlob(blobs *blobstore.Store, sum checksum.Checksum) (reason string, corrupt bool) {
	b, found, err := blobs.GetBlob(sum)
	if err != nil {
		return fmt.Sprintf("failed to read blob file: %v", err), true
	}
	if !found {
		return "blob file is missing", true
	}
	actual, err := b.Checksum()
	if err != nil {
		return fmt.Sprintf("failed to hash blob file: %v", err), true
	}
	if !actual.Equal(sum) {
		return "blob file content does not match its recorded checksum", true
	}
	return "", false
}

// repairBlob finds every version referencing sum, tries to re-source the
// correct bytes from workDirRoot, and either overwrites the blob file
// (returns true) or deletes the dependent versions (returns false).
func (r *Repository) repairBlob(ctx context.Context, sum checksum.Checksum, workDirRoot string) (bool, error) {
	r.mu.RLock()
	db, blobs, chunker := r.db, r.blobs, r.chunker
	r.mu.RUnlock()

	versions, err := db.VersionsReferencingBlob(ctx, sum.String())
	if err != nil {
		return false, err
	}

	if workDirRoot != "" {
		seen := make(map[string]bool, len(versions))
		for _, v := range versions {
			if seen[v.Path] {
				continue
			}
			seen[v.Path] = true
			ok, err := recoverFromWorkingFile(chunker, blobs, sum, filepath.Join(workDirRoot, v.Path))
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}

	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, v := range versions {
			if err := store.DeleteVersion(ctx, tx, v.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if _, err := blobs.Clean(ctx); err != nil {
		return false, err
	}
	return false, nil
}

func recoverFromWorkingFile(chunker blob.Chunker, blobs *blobstore.Store, want checksum.Checksum, absPath string) (bool, error) {
	f, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, reverr.Wrap(reverr.KindIO, "open working-directory file for repair", err)
	}
	defer f.Close()

	it := chunker.Split(f)
	for {
		b, err := it.Next()
		if err != nil {
			break
		}
		got, err := b.Checksum()
		if err != nil {
			return false, err
		}
		if got.Equal(want) {
			if err := blobs.Overwrite(want, b); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}
