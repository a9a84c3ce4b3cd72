package mount

import (
	"io"
	"os"
	"sync"

	"versionstore/internal/reverr"
)

// SeekableCache wraps a forward-only byte stream with a temp-file-backed
// cache, so repeated reads at offsets already consumed do not re-open
// the underlying stream: bytes are pulled from the stream in order and
// appended to the temp file as later reads require them. The temp file
// is a throwaway cache deleted on Close, not a durable artifact.
type SeekableCache struct {
	open func() (io.ReadCloser, error)

	mu     sync.Mutex
	src    io.ReadCloser
	tmp    *os.File
	cached int64
	srcEOF bool
}

// NewSeekableCache creates a cache over the stream produced by open,
// which is not invoked until the first read.
func NewSeekableCache(open func() (io.ReadCloser, error)) (*SeekableCache, error) {
	tmp, err := os.CreateTemp("", "reversion-mount-*")
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "create seekable cache temp file", err)
	}
	return &SeekableCache{open: open, tmp: tmp}, nil
}

// ReadAt fills p from offset, extending the cache from the underlying
// stream as needed, and returns the number of bytes actually copied.
func (c *SeekableCache) ReadAt(p []byte, offset int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	need := offset + int64(len(p))
	if err := c.ensure(need); err != nil {
		return 0, err
	}

	n, err := c.tmp.ReadAt(p, offset)
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

func (c *SeekableCache) ensure(need int64) error {
	if c.cached >= need || c.srcEOF {
		return nil
	}
	if c.src == nil {
		src, err := c.open()
		if err != nil {
			return reverr.Wrap(reverr.KindIO, "open source stream for seekable cache", err)
		}
		c.src = src
	}

	buf := make([]byte, 64*1024)
	for c.cached < need {
		n, err := c.src.Read(buf)
		if n > 0 {
			if _, werr := c.tmp.WriteAt(buf[:n], c.cached); werr != nil {
				return reverr.Wrap(reverr.KindIO, "extend seekable cache", werr)
			}
			c.cached += int64(n)
		}
		if err == io.EOF {
			c.srcEOF = true
			break
		}
		if err != nil {
			return reverr.Wrap(reverr.KindIO, "read source stream for seekable cache", err)
		}
	}
	return nil
}

// Close releases the underlying stream and deletes the temp file.
func (c *SeekableCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.src != nil {
		if err := c.src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	name := c.tmp.Name()
	if err := c.tmp.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return reverr.Wrap(reverr.KindIO, "close seekable cache", errs[0])
	}
	return nil
}
