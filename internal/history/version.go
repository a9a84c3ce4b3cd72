package history

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"versionstore/internal/blob"
	"versionstore/internal/checksum"
	"versionstore/internal/permset"
	"versionstore/internal/reverr"
	"versionstore/internal/store"
)

// ErrCheckoutTargetExists is the cause wrapped by Checkout's error when
// overwrite is false and targetPath already exists. Callers that want to
// treat "left a locally modified file alone" as an expected outcome
// rather than a failure should check errors.Is(err,
// ErrCheckoutTargetExists).
var ErrCheckoutTargetExists = errors.New("history: checkout target already exists")

// Version is one file-content record: metadata plus the ordered list of
// blocks whose concatenated blobs reconstruct its bytes.
type Version struct {
	id               string
	snapshotID       string
	path             string
	lastModifiedTime time.Time
	permissions      *permset.PermissionSet
	size             int64
	checksum         checksum.Checksum
	d                *Deps

	// blobs holds the in-memory chunks produced by buildVersion, set
	// only on a freshly built (not-yet-persisted) Version so
	// createVersionTx can add them to the blob store. A Version loaded
	// from the database leaves this nil; Data() reconstructs bytes from
	// persisted Blocks instead.
	blobs []*blob.Blob
}

func duplicateVersionError(snapshotID, path string) error {
	return reverr.Newf(reverr.KindDuplicateRecord, "version already exists for path %q in snapshot %s", path, snapshotID)
}

func versionFromRow(d *Deps, row store.VersionRow) (*Version, error) {
	sum, err := checksum.FromHex(row.Checksum)
	if err != nil {
		return nil, reverr.Wrap(reverr.KindDataCorrupt, "parse version checksum", err)
	}
	var perms *permset.PermissionSet
	if row.Permissions != nil {
		p := permset.FromMode(os.FileMode(*row.Permissions))
		perms = &p
	}
	return &Version{
		id:               row.ID,
		snapshotID:       row.SnapshotID,
		path:             row.Path,
		lastModifiedTime: row.LastModifiedTime,
		permissions:      perms,
		size:             row.Size,
		checksum:         sum,
		d:                d,
	}, nil
}

// ID returns the version's identifier.
func (v *Version) ID() string { return v.id }

// SnapshotID returns the identifier of the snapshot this version
// belongs to.
func (v *Version) SnapshotID() string { return v.snapshotID }

// Path returns the version's path, relative to its WorkDirectory's root.
func (v *Version) Path() string { return v.path }

// LastModifiedTime returns the last-modified time recorded for this
// version.
func (v *Version) LastModifiedTime() time.Time { return v.lastModifiedTime }

// Permissions returns the POSIX permission bits recorded for this
// version, or nil if the filesystem could not report them.
func (v *Version) Permissions() *permset.PermissionSet { return v.permissions }

// Size returns the version's total byte length (the sum of its
// referenced blob sizes).
func (v *Version) Size() int64 { return v.size }

// Checksum returns the version's whole-content checksum.
func (v *Version) Checksum() checksum.Checksum { return v.checksum }

// buildVersion stats and chunks the file at workDirRoot/path, producing
// an unpersisted Version plus the block rows createVersionTx needs to
// insert. It streams the file exactly once: the chunker consumes it
// while a tee also feeds a whole-file hasher, so the whole-file checksum
// and the per-chunk blobs come from a single read pass.
func buildVersion(d *Deps, snapshotID, path, workDirRoot string) (*Version, []store.BlockRow, error) {
	absPath := filepath.Join(workDirRoot, path)

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, nil, reverr.Wrap(reverr.KindIO, "stat file for version", err)
	}
	perms, err := permset.FromPath(absPath)
	if err != nil {
		return nil, nil, reverr.Wrap(reverr.KindIO, "read permissions for version", err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, nil, reverr.Wrap(reverr.KindIO, "open file for version", err)
	}
	defer f.Close()

	hasher := checksum.NewHasher()
	tee := io.TeeReader(f, hasher)

	id := uuid.Must(uuid.NewV7()).String()
	it := d.chunker.Split(tee)

	var blobs []*blob.Blob
	var blockRows []store.BlockRow
	var totalSize int64
	for idx := int64(0); ; idx++ {
		b, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		sum, err := b.Checksum()
		if err != nil {
			return nil, nil, err
		}
		blobs = append(blobs, b)
		blockRows = append(blockRows, store.BlockRow{VersionID: id, Index: idx, Checksum: sum.String()})
		totalSize += b.Size()
	}

	v := &Version{
		id:               id,
		snapshotID:       snapshotID,
		path:             path,
		lastModifiedTime: info.ModTime().UTC(),
		permissions:      perms,
		size:             totalSize,
		checksum:         hasher.Sum(),
		d:                d,
		blobs:            blobs,
	}
	return v, blockRows, nil
}

// IsChanged reports whether the file at filePath differs from this
// version: true iff the file exists and either its size or its
// whole-file checksum differs. Last-modified time alone is never
// sufficient, since a touch without a content change must not register
// as a modification.
func IsChanged(v *Version, filePath string) (bool, error) {
	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, reverr.Wrap(reverr.KindIO, "stat file for change check", err)
	}
	if info.Size() != v.size {
		return true, nil
	}

	f, err := os.Open(filePath)
	if err != nil {
		return false, reverr.Wrap(reverr.KindIO, "open file for change check", err)
	}
	defer f.Close()

	sum, err := checksum.SumReader(f)
	if err != nil {
		return false, err
	}
	return !sum.Equal(v.checksum), nil
}

// Data returns a lazy Blob that, when opened, concatenates this
// version's blocks in index order. A block whose blob file is missing
// from the blob store is silently skipped at read time; callers must
// not assume the bytes produced equal Size() unless they verify
// separately (see Checkout's verify flag).
func (v *Version) Data(ctx context.Context) (*blob.Blob, error) {
	rows, err := v.d.db.ListBlocksByVersion(ctx, v.id)
	if err != nil {
		return nil, err
	}

	d := v.d
	size := v.size
	return blob.New(func() (io.ReadCloser, error) {
		return newBlockReader(d, rows), nil
	}, size), nil
}

// blockReader streams the concatenation of a version's blocks,
// advancing to the next block's blob as each one is exhausted.
type blockReader struct {
	d    *Deps
	rows []store.BlockRow
	idx  int
	cur  io.ReadCloser
}

func newBlockReader(d *Deps, rows []store.BlockRow) io.ReadCloser {
	return &blockReader{d: d, rows: rows}
}

func (r *blockReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if r.idx >= len(r.rows) {
				return 0, io.EOF
			}
			row := r.rows[r.idx]
			r.idx++

			sum, err := checksum.FromHex(row.Checksum)
			if err != nil {
				return 0, reverr.Wrap(reverr.KindDataCorrupt, "parse block checksum", err)
			}
			b, found, err := r.d.blobs.GetBlob(sum)
			if err != nil {
				return 0, err
			}
			if !found {
				continue // missing blob: silently skipped, per contract
			}
			rc, err := b.Open()
			if err != nil {
				return 0, err
			}
			r.cur = rc
		}

		n, err := r.cur.Read(p)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *blockReader) Close() error {
	if r.cur != nil {
		return r.cur.Close()
	}
	return nil
}

// Checkout reconstructs this version's bytes to targetPath: it writes to
// a temporary file in the same directory, then renames over targetPath
// (failing if it exists unless overwrite is set), then restores
// last-modified time and, if Permissions() is non-nil, the file mode.
// If verify is set, the reconstructed bytes are hashed and compared to
// Checksum() before the rename; a mismatch fails with a DataCorrupt
// error and no file is left behind. Any failure after the temp file is
// created removes it.
func (v *Version) Checkout(ctx context.Context, targetPath string, overwrite, verify bool) error {
	if !overwrite {
		if _, err := os.Stat(targetPath); err == nil {
			return reverr.Wrap(reverr.KindIO, "checkout target already exists: "+targetPath, ErrCheckoutTargetExists)
		} else if !os.IsNotExist(err) {
			return reverr.Wrap(reverr.KindIO, "stat checkout target", err)
		}
	}

	data, err := v.Data(ctx)
	if err != nil {
		return err
	}
	r, err := data.Open()
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "open version data for checkout", err)
	}
	defer r.Close()

	dir := filepath.Dir(targetPath)
	tmp, err := os.CreateTemp(dir, ".checkout-*")
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "create temp file for checkout", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		tmp.Close()
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	var w io.Writer = tmp
	var hasher *checksum.Hasher
	if verify {
		hasher = checksum.NewHasher()
		w = io.MultiWriter(tmp, hasher)
	}

	if _, err := io.Copy(w, r); err != nil {
		return reverr.Wrap(reverr.KindIO, "stream reconstructed bytes to temp file", err)
	}
	if verify {
		if !hasher.Sum().Equal(v.checksum) {
			return reverr.New(reverr.KindDataCorrupt, "reconstructed bytes do not match version checksum")
		}
	}
	if err := tmp.Close(); err != nil {
		return reverr.Wrap(reverr.KindIO, "close temp checkout file", err)
	}

	if overwrite {
		if err := os.Rename(tmpPath, targetPath); err != nil {
			return reverr.Wrap(reverr.KindIO, "rename checkout temp file into place", err)
		}
	} else {
		if err := os.Link(tmpPath, targetPath); err != nil {
			return reverr.Wrap(reverr.KindIO, "link checkout temp file into place", err)
		}
		os.Remove(tmpPath)
	}
	ok = true

	if err := os.Chtimes(targetPath, v.lastModifiedTime, v.lastModifiedTime); err != nil {
		return reverr.Wrap(reverr.KindIO, "restore last-modified time after checkout", err)
	}
	if v.permissions != nil {
		if err := os.Chmod(targetPath, v.permissions.Mode()); err != nil {
			return reverr.Wrap(reverr.KindIO, "restore permissions after checkout", err)
		}
	}
	return nil
}
