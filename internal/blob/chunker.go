package blob

import (
	"bufio"
	"io"

	resticchunker "github.com/restic/chunker"

	"versionstore/internal/reverr"
)

// Chunker maps a seekable input to a lazy, finite, non-restartable
// sequence of Blobs whose concatenation equals the original bytes. A
// Chunker value must be stateless between calls to Split; all
// per-invocation state lives in the returned Iterator.
type Chunker interface {
	// Split begins chunking r. The returned Iterator must be exhausted
	// (or abandoned) before r is reused.
	Split(r io.Reader) Iterator
}

// Iterator yields the Blobs of one Split call, in order, exactly once.
type Iterator interface {
	// Next returns the next Blob, or (nil, io.EOF) when exhausted.
	Next() (*Blob, error)
}

// FixedSizeChunker splits input into contiguous blockSize-byte pieces;
// the final piece may be shorter. blockSize must be > 0.
type FixedSizeChunker struct {
	blockSize int64
}

// NewFixedSizeChunker creates a FixedSizeChunker. It returns an
// InvalidInput error if blockSize <= 0.
func NewFixedSizeChunker(blockSize int64) (*FixedSizeChunker, error) {
	if blockSize <= 0 {
		return nil, reverr.Newf(reverr.KindInvalidInput, "fixed-size chunker block size must be positive, got %d", blockSize)
	}
	return &FixedSizeChunker{blockSize: blockSize}, nil
}

func (c *FixedSizeChunker) Split(r io.Reader) Iterator {
	return &fixedSizeIterator{r: bufio.NewReader(r), blockSize: c.blockSize}
}

type fixedSizeIterator struct {
	r         *bufio.Reader
	blockSize int64
	done      bool
}

func (it *fixedSizeIterator) Next() (*Blob, error) {
	if it.done {
		return nil, io.EOF
	}
	buf := make([]byte, it.blockSize)
	n, err := io.ReadFull(it.r, buf)
	switch {
	case err == nil:
		// full block read; more may follow.
	case err == io.ErrUnexpectedEOF:
		it.done = true
		if n == 0 {
			return nil, io.EOF
		}
	case err == io.EOF:
		it.done = true
		return nil, io.EOF
	default:
		return nil, reverr.Wrap(reverr.KindIO, "read fixed-size chunk", err)
	}
	data := buf[:n]
	return FromBytes(data), nil
}

// ContentDefinedChunker performs content-defined chunking with a rolling
// hash, parameterized by averageBits (chunks land, on average, every
// 2^averageBits bytes). Because boundaries are determined by local
// content rather than a fixed offset, inserting or deleting bytes in the
// middle of a file only perturbs the chunks touching the edit — unchanged
// regions elsewhere reproduce identical blobs.
//
// averageBits sets the underlying restic/chunker library's split mask and
// is also turned into an explicit [min, max) chunk-size window
// (min = 2^(averageBits-2), max = 2^(averageBits+2)), rather than relying
// on the library's own
// fixed ~1MiB-average default: two chunkers built with different
// averageBits values produce different boundaries on the same input.
type ContentDefinedChunker struct {
	averageBits uint
	pol         resticchunker.Pol
}

// defaultPolynomial is a fixed irreducible polynomial used for the
// rolling hash. Using a fixed polynomial (rather than one randomly
// generated per repository) is what makes chunk boundaries, and
// therefore deduplication, reproducible across repositories and process
// restarts.
const defaultPolynomial = resticchunker.Pol(0x3DA3358B4DC173)

// NewContentDefinedChunker creates a ContentDefinedChunker. averageBits
// must be greater than 2 and less than 62, so the derived min/max chunk
// bounds are a positive, non-overflowing window; e.g. 22 targets ~4 MiB
// average chunks.
func NewContentDefinedChunker(averageBits uint) (*ContentDefinedChunker, error) {
	if averageBits <= 2 || averageBits >= 62 {
		return nil, reverr.Newf(reverr.KindInvalidInput, "content-defined chunker average bits must be in (2, 62), got %d", averageBits)
	}
	return &ContentDefinedChunker{averageBits: averageBits, pol: defaultPolynomial}, nil
}

func (c *ContentDefinedChunker) Split(r io.Reader) Iterator {
	min := uint(1) << (c.averageBits - 2)
	max := uint(1) << (c.averageBits + 2)
	ck := resticchunker.NewWithBoundaries(r, c.pol, min, max)
	ck.SetAverageBits(int(c.averageBits))
	return &cdcIterator{ck: ck, buf: make([]byte, max)}
}

type cdcIterator struct {
	ck  *resticchunker.Chunker
	buf []byte
}

func (it *cdcIterator) Next() (*Blob, error) {
	chunk, err := it.ck.Next(it.buf)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, reverr.Wrap(reverr.KindIO, "read content-defined chunk", err)
	}
	data := make([]byte, len(chunk.Data))
	copy(data, chunk.Data)
	return FromBytes(data), nil
}
