// Package store implements the relational store backing a repository's
// manifest database: schema migrations, transactional access, an
// integrity probe, and hot backup and restore. It is an embedded-
// migration SQLite database opened through database/sql with WAL
// journaling and foreign keys enabled.
package store

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"versionstore/internal/logging"
	"versionstore/internal/reverr"
)

// Store wraps the repository's manifest database. Every public mutation
// runs inside a single transaction on the shared connection; the
// connection pool is capped at one open connection so that, combined
// with WAL mode, concurrent goroutines in this process observe
// effectively serialized writes (the engine assumes single-process
// exclusive access to a repository — see the connection Cache below).
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating if necessary) the SQLite database at path, runs
// pending migrations, and returns a Store. On connect, an integrity
// probe runs; if it fails, Open returns a KindDataCorrupt error so the
// caller can drive repair instead of silently operating on a corrupt
// database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	logger = logging.Default(logger).With("component", "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, reverr.Wrap(reverr.KindIO, "create database directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindInvalidRepository, "open sqlite database", err)
	}

	// A single connection plus WAL gives us serialized writes without
	// relying on SQLite's weaker default isolation guarantees under
	// concurrent connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, reverr.Wrap(reverr.KindInvalidRepository, "set journal_mode", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, reverr.Wrap(reverr.KindInvalidRepository, "enable foreign keys", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, reverr.Wrap(reverr.KindInvalidRepository, "run migrations", err)
	}

	s := &Store{db: db, path: path, logger: logger}

	if ok, err := s.IntegrityOK(context.Background()); err != nil {
		s.Close()
		return nil, reverr.Wrap(reverr.KindDataCorrupt, "run integrity probe", err)
	} else if !ok {
		s.Close()
		return nil, reverr.New(reverr.KindDataCorrupt, "database failed integrity probe on open")
	}

	return s, nil
}

// Path returns the filesystem path of the database file.
func (s *Store) Path() string { return s.path }

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// IntegrityOK runs SQLite's built-in integrity check.
func (s *Store) IntegrityOK(ctx context.Context) (bool, error) {
	row := s.db.QueryRowContext(ctx, "PRAGMA integrity_check")
	var result string
	if err := row.Scan(&result); err != nil {
		return false, err
	}
	return result == "ok", nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. This is the sole way every public repository
// mutation reaches the database, satisfying the "every operation is
// wrapped in a transaction" invariant.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// BackupTo copies the live database file to destPath, but only when the
// live database currently passes the integrity probe — a corrupt
// database must never overwrite a good backup.
func (s *Store) BackupTo(ctx context.Context, destPath string) error {
	ok, err := s.IntegrityOK(ctx)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "probe integrity before backup", err)
	}
	if !ok {
		return reverr.New(reverr.KindDataCorrupt, "refusing to back up a database that fails its integrity probe")
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("wal checkpoint before backup failed", "error", err)
	}

	return copyFile(s.path, destPath)
}

// RestoreFrom overwrites the live database file with the contents of
// backupPath. The caller must not hold an open Store over s.path while
// this runs; RestoreFrom is a standalone function rather than a Store
// method precisely because the live connection must be closed first.
func RestoreFrom(liveDBPath, backupPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return reverr.Wrap(reverr.KindIO, "stat backup file", err)
	}
	return copyFile(backupPath, liveDBPath)
}

// BackupModTime returns the last-modified time of the backup file at
// backupPath, used to compose the user-visible repair message.
func BackupModTime(backupPath string) (os.FileInfo, error) {
	return os.Stat(backupPath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "open source file", err)
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, ".store-copy-*")
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "create temp file for copy", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		tmp.Close()
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return reverr.Wrap(reverr.KindIO, "copy file contents", err)
	}
	if err := tmp.Close(); err != nil {
		return reverr.Wrap(reverr.KindIO, "close temp file", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return reverr.Wrap(reverr.KindIO, "rename copy into place", err)
	}
	ok = true
	return nil
}

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

func scanNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// --- process-wide connection cache: each database file is opened at
// most once per process, through a cache keyed by absolute path ---

var (
	cacheMu sync.Mutex
	cache   = map[string]*Store{}
)

// OpenCached is like Open, but returns the same *Store for repeated
// calls with the same absolute path within this process, since a
// repository's manifest database is assumed to have exclusive access
// from a single process at a time.
func OpenCached(path string, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "resolve absolute path", err)
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if s, ok := cache[abs]; ok {
		return s, nil
	}
	s, err := Open(abs, logger)
	if err != nil {
		return nil, err
	}
	cache[abs] = s
	return s, nil
}

// CloseCached closes and evicts the cached Store for path, if any.
func CloseCached(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	cacheMu.Lock()
	defer cacheMu.Unlock()
	s, ok := cache[abs]
	if !ok {
		return nil
	}
	delete(cache, abs)
	return s.Close()
}

// ResetCache clears the process-wide connection cache without closing
// the underlying connections. Intended for tests that want isolated
// caches; production code should rely on CloseCached.
func ResetCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = map[string]*Store{}
}
