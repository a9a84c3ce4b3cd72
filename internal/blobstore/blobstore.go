// Package blobstore implements a two-level content-addressed directory
// of blob files with optional transparent zstd compression. The
// filesystem write precedes the database record on add, and the
// database record is deleted before the best-effort file removal on
// remove, so a crash between the two steps never leaves an orphaned
// database record pointing at a missing file.
package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"versionstore/internal/blob"
	"versionstore/internal/checksum"
	"versionstore/internal/logging"
	"versionstore/internal/reverr"
	"versionstore/internal/store"
)

// Store is the two-level content-addressed blob directory, backed by a
// relational store for the BlobRecord rows that track which checksums
// are known to the repository.
type Store struct {
	root     string // directory holding the blobs/ tree, e.g. <repo>/blobs
	db       *store.Store
	compress bool
	logger   *slog.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithCompression enables transparent zstd compression of blob file
// contents on disk. Compression is a pure on-disk detail: callers
// always see and checksum the uncompressed bytes.
func WithCompression(enabled bool) Option {
	return func(s *Store) { s.compress = enabled }
}

// WithLogger attaches a structured logger to the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open returns a blob store rooted at root (normally
// "<repository>/blobs"), backed by db for BlobRecord bookkeeping.
func Open(root string, db *store.Store, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "create blob store root", err)
	}
	s := &Store{root: root, db: db, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Default(s.logger).With("component", "blobstore")

	if s.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, reverr.Wrap(reverr.KindInternal, "create zstd encoder", err)
		}
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
		if err != nil {
			enc.Close()
			return nil, reverr.Wrap(reverr.KindInternal, "create zstd decoder", err)
		}
		s.enc, s.dec = enc, dec
	}
	return s, nil
}

// Close releases the store's zstd codecs, if any.
func (s *Store) Close() error {
	if s.enc != nil {
		s.enc.Close()
	}
	if s.dec != nil {
		s.dec.Close()
	}
	return nil
}

// pathFor returns the two-level on-disk path for a checksum:
// <root>/<first-two-hex>/<full-hex>.
func (s *Store) pathFor(sum checksum.Checksum) string {
	hex := sum.String()
	return filepath.Join(s.root, hex[:2], hex)
}

// AddBlob ensures b's bytes are durably present on disk under its
// checksum's path, then records (checksum,size) in the database if
// absent, in its own transaction. The filesystem write happens before
// the database insert: an interrupted add leaves, at worst, an
// unreferenced file for the next Clean to sweep up, never a database
// row pointing at a missing file.
func (s *Store) AddBlob(ctx context.Context, b *blob.Blob) (checksum.Checksum, error) {
	var sum checksum.Checksum
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		sum, err = s.AddBlobTx(ctx, tx, b)
		return err
	})
	return sum, err
}

// AddBlobTx is AddBlob for a caller that already holds a transaction on
// the blob store's database — used when a blob must be recorded as part
// of a larger atomic operation such as creating a version. The file
// write still happens outside of tx (the filesystem has no transactions
// of its own); only the BlobRecord insert participates in tx.
func (s *Store) AddBlobTx(ctx context.Context, tx *sql.Tx, b *blob.Blob) (checksum.Checksum, error) {
	sum, err := b.Checksum()
	if err != nil {
		return checksum.Checksum{}, err
	}

	dest := s.pathFor(sum)
	if _, err := os.Stat(dest); err == nil {
		// Already on disk; still ensure the database row exists, in
		// case a prior add wrote the file but crashed before the
		// insert.
	} else if !errors.Is(err, os.ErrNotExist) {
		return checksum.Checksum{}, reverr.Wrap(reverr.KindIO, "stat blob path", err)
	} else {
		if err := s.writeBlobFile(dest, b); err != nil {
			return checksum.Checksum{}, err
		}
	}

	size := b.Size()
	if size < 0 {
		info, err := os.Stat(dest)
		if err != nil {
			return checksum.Checksum{}, reverr.Wrap(reverr.KindIO, "stat written blob", err)
		}
		size = info.Size()
	}

	if err := store.InsertBlobIfAbsent(ctx, tx, store.BlobRow{Checksum: sum.String(), Size: size}); err != nil {
		return checksum.Checksum{}, err
	}
	return sum, nil
}

func (s *Store) writeBlobFile(dest string, b *blob.Blob) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return reverr.Wrap(reverr.KindIO, "create blob fan-out directory", err)
	}

	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".blob-ingest-*")
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "create temp file for blob ingest", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		tmp.Close()
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	r, err := b.Open()
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "open blob for ingest", err)
	}
	defer r.Close()

	var w io.Writer = tmp
	var enc *zstd.Encoder
	if s.compress {
		enc, err = zstd.NewWriter(tmp)
		if err != nil {
			return reverr.Wrap(reverr.KindInternal, "create per-blob zstd encoder", err)
		}
		w = enc
	}

	if _, err := io.Copy(w, r); err != nil {
		if enc != nil {
			enc.Close()
		}
		return reverr.Wrap(reverr.KindIO, "stream blob bytes to temp file", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return reverr.Wrap(reverr.KindIO, "flush zstd encoder", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return reverr.Wrap(reverr.KindIO, "close temp blob file", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return reverr.Wrap(reverr.KindIO, "rename blob into place", err)
	}
	ok = true
	return nil
}

// Overwrite replaces the on-disk bytes at sum's path with b's content,
// atomically, without touching the database record — used by the
// repository's repair pipeline once it has re-sourced the correct bytes
// for a checksum whose file went missing or corrupt. The caller is
// responsible for having verified b hashes to sum.
func (s *Store) Overwrite(sum checksum.Checksum, b *blob.Blob) error {
	return s.writeBlobFile(s.pathFor(sum), b)
}

// GetBlob returns a Blob reading the file for checksum, or
// (nil, false, nil) if no such file exists.
func (s *Store) GetBlob(sum checksum.Checksum) (*blob.Blob, bool, error) {
	path := s.pathFor(sum)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, reverr.Wrap(reverr.KindIO, "stat blob file", err)
	}

	size := info.Size()
	if s.compress {
		size = -1 // compressed on-disk size does not equal decoded length
	}

	dec := s.dec
	compress := s.compress
	b := blob.New(func() (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		if !compress {
			return f, nil
		}
		return newDecompressingReadCloser(f, dec), nil
	}, size)
	return b, true, nil
}

type decompressingReadCloser struct {
	f  *os.File
	zr io.ReadCloser
}

func newDecompressingReadCloser(f *os.File, dec *zstd.Decoder) io.ReadCloser {
	return &decompressingReadCloser{f: f, zr: dec.IOReadCloser(f)}
}

func (d *decompressingReadCloser) Read(p []byte) (int, error) { return d.zr.Read(p) }

func (d *decompressingReadCloser) Close() error {
	zerr := d.zr.Close()
	ferr := d.f.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}

// RemoveBlob deletes the database row for checksum first, then
// best-effort-deletes the on-disk file. Idempotent: removing an
// already-absent blob is not an error.
func (s *Store) RemoveBlob(ctx context.Context, sum checksum.Checksum) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return store.DeleteBlobRecord(ctx, tx, sum.String())
	})
	if err != nil {
		return err
	}

	path := s.pathFor(sum)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("best-effort blob file removal failed", "checksum", sum.String(), "error", err)
	}
	return nil
}

// ListBlobs enumerates the on-disk blob files and returns the checksum
// claimed by each filename. These are claimed, not verified: callers
// that need integrity assurance must read and rehash the content.
func (s *Store) ListBlobs() ([]checksum.Checksum, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, reverr.Wrap(reverr.KindIO, "read blob store root", err)
	}

	var result []checksum.Checksum
	for _, fanEntry := range entries {
		if !fanEntry.IsDir() {
			continue
		}
		fanDir := filepath.Join(s.root, fanEntry.Name())
		files, err := os.ReadDir(fanDir)
		if err != nil {
			return nil, reverr.Wrap(reverr.KindIO, "read blob fan-out directory", err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			sum, err := checksum.FromHex(f.Name())
			if err != nil {
				s.logger.Warn("skipping file with non-checksum name in blob store", "name", f.Name())
				continue
			}
			result = append(result, sum)
		}
	}
	return result, nil
}

// Clean enumerates on-disk blobs, computes the set referenced by any
// surviving block, and removes every file whose claimed checksum is not
// in that set.
func (s *Store) Clean(ctx context.Context) (int, error) {
	unreferenced, err := s.db.UnreferencedBlobRecords(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, row := range unreferenced {
		sum, err := checksum.FromHex(row.Checksum)
		if err != nil {
			return removed, reverr.Wrap(reverr.KindDataCorrupt, "parse blob record checksum", err)
		}
		if err := s.RemoveBlob(ctx, sum); err != nil {
			return removed, err
		}
		removed++
	}

	files, err := s.ListBlobs()
	if err != nil {
		return removed, err
	}
	for _, sum := range files {
		exists, err := s.db.BlobRecordExists(ctx, sum.String())
		if err != nil {
			return removed, err
		}
		if !exists && os.Remove(s.pathFor(sum)) == nil {
			removed++
		}
	}
	return removed, nil
}
