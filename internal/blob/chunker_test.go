package blob

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectChunks(t *testing.T, it Iterator) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		b, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data := readAll(t, b)
		out = append(out, data)
	}
	return out
}

func concat(chunks [][]byte) []byte {
	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c)
	}
	return buf.Bytes()
}

func TestNewFixedSizeChunkerRejectsNonPositive(t *testing.T) {
	_, err := NewFixedSizeChunker(0)
	assert.Error(t, err)
	_, err = NewFixedSizeChunker(-1)
	assert.Error(t, err)
}

func TestFixedSizeChunkerSplitsIntoEqualPieces(t *testing.T) {
	c, err := NewFixedSizeChunker(4)
	require.NoError(t, err)

	data := []byte("abcdefghijkl") // exactly 3 chunks of 4
	chunks := collectChunks(t, c.Split(bytes.NewReader(data)))

	require.Len(t, chunks, 3)
	assert.Equal(t, []byte("abcd"), chunks[0])
	assert.Equal(t, []byte("efgh"), chunks[1])
	assert.Equal(t, []byte("ijkl"), chunks[2])
}

func TestFixedSizeChunkerFinalShortPiece(t *testing.T) {
	c, err := NewFixedSizeChunker(5)
	require.NoError(t, err)

	data := []byte("abcdefg") // 5 + 2
	chunks := collectChunks(t, c.Split(bytes.NewReader(data)))

	require.Len(t, chunks, 2)
	assert.Equal(t, []byte("abcde"), chunks[0])
	assert.Equal(t, []byte("fg"), chunks[1])
	assert.Equal(t, data, concat(chunks))
}

func TestFixedSizeChunkerEmptyInput(t *testing.T) {
	c, err := NewFixedSizeChunker(4)
	require.NoError(t, err)

	chunks := collectChunks(t, c.Split(bytes.NewReader(nil)))
	assert.Empty(t, chunks)
}

func TestNewContentDefinedChunkerRejectsZero(t *testing.T) {
	_, err := NewContentDefinedChunker(0)
	assert.Error(t, err)
}

func TestContentDefinedChunkerReconstructsInput(t *testing.T) {
	c, err := NewContentDefinedChunker(16)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	data := make([]byte, 256*1024)
	rng.Read(data)

	chunks := collectChunks(t, c.Split(bytes.NewReader(data)))
	require.NotEmpty(t, chunks)
	assert.Equal(t, data, concat(chunks))
}

func TestContentDefinedChunkerIsStableAcrossRuns(t *testing.T) {
	c, err := NewContentDefinedChunker(16)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	data := make([]byte, 128*1024)
	rng.Read(data)

	first := collectChunks(t, c.Split(bytes.NewReader(data)))
	second := collectChunks(t, c.Split(bytes.NewReader(data)))

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i], second[i])
	}
}

func TestContentDefinedChunkerLocalizesEdits(t *testing.T) {
	c, err := NewContentDefinedChunker(14)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(99))
	data := make([]byte, 512*1024)
	rng.Read(data)

	original := collectChunks(t, c.Split(bytes.NewReader(data)))

	edited := make([]byte, len(data))
	copy(edited, data)
	// Insert a few bytes near the middle.
	mid := len(edited) / 2
	inserted := append(append(append([]byte{}, edited[:mid]...), []byte("EXTRA")...), edited[mid:]...)

	modified := collectChunks(t, c.Split(bytes.NewReader(inserted)))

	// Content-defined chunking should reproduce most leading chunks
	// identically, since the edit only perturbs the boundary it falls in.
	matching := 0
	for i := 0; i < len(original) && i < len(modified); i++ {
		if bytes.Equal(original[i], modified[i]) {
			matching++
			continue
		}
		break
	}
	assert.Greater(t, matching, 0, "expected at least the leading chunks before the edit to be reused unchanged")
}
