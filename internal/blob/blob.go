// Package blob implements Blob, the lazy content-addressed byte producer,
// and Chunker, the pluggable file-splitting strategy used when recording
// a new Version.
package blob

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"versionstore/internal/checksum"
	"versionstore/internal/reverr"
)

// Opener lazily produces a fresh, readable byte stream for a Blob's
// content. It must be safe to call more than once; each call starts a
// new independent stream.
type Opener func() (io.ReadCloser, error)

// Blob is a lazy byte producer paired with the checksum of its content.
// The checksum is computed lazily, on first access, over the exact bytes
// the Blob emits.
type Blob struct {
	open Opener
	size int64

	mu       sync.Mutex
	computed bool
	sum      checksum.Checksum
	sumErr   error
}

// New wraps open (and the already-known size) into a Blob. size may be
// -1 if unknown in advance.
func New(open Opener, size int64) *Blob {
	return &Blob{open: open, size: size}
}

// FromBytes builds a Blob over an in-memory byte slice.
func FromBytes(data []byte) *Blob {
	return New(func() (io.ReadCloser, error) {
		return io.NopCloser(newByteReader(data)), nil
	}, int64(len(data)))
}

// FromFile builds a Blob that reads the file at path.
func FromFile(path string) *Blob {
	size := int64(-1)
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	return New(func() (io.ReadCloser, error) {
		return os.Open(path)
	}, size)
}

// Size returns the blob's byte length if known, or -1.
func (b *Blob) Size() int64 { return b.size }

// Open returns a fresh, readable stream over the blob's content. The
// caller must Close it.
func (b *Blob) Open() (io.ReadCloser, error) {
	return b.open()
}

// Checksum computes (and memoizes) the checksum of the blob's content by
// streaming it through a hasher exactly once. Later calls return the
// memoized result without re-reading.
func (b *Blob) Checksum() (checksum.Checksum, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.computed {
		return b.sum, b.sumErr
	}
	r, err := b.open()
	if err != nil {
		b.computed = true
		b.sumErr = reverr.Wrap(reverr.KindIO, "open blob for checksum", err)
		return checksum.Checksum{}, b.sumErr
	}
	defer r.Close()
	sum, err := checksum.SumReader(r)
	b.computed = true
	b.sum = sum
	b.sumErr = err
	return sum, err
}

// Write atomically materializes the blob's bytes to path with the given
// mode: it streams to a temp file in the same directory, then renames
// into place, so a crash mid-write never leaves a partial target file.
func (b *Blob) Write(path string, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "create temp file for blob write", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		tmp.Close()
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	r, err := b.open()
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "open blob for write", err)
	}
	defer r.Close()

	if _, err := io.Copy(tmp, r); err != nil {
		return reverr.Wrap(reverr.KindIO, "stream blob to temp file", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return reverr.Wrap(reverr.KindIO, "chmod temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return reverr.Wrap(reverr.KindIO, "close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return reverr.Wrap(reverr.KindIO, "rename temp file into place", err)
	}
	ok = true
	return nil
}

// OpenChannel is an alias for Open; it yields a seekable-or-sequential
// stream readable exactly once per call.
func (b *Blob) OpenChannel() (io.ReadCloser, error) {
	return b.Open()
}

func newByteReader(data []byte) io.Reader {
	return &sliceReader{data: data}
}

type sliceReader struct {
	data []byte
	pos  int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}
