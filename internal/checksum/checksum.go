// Package checksum implements the fixed-width content hash used to
// address blobs and verify version integrity throughout the engine.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"versionstore/internal/reverr"
)

// Size is the length in bytes of a Checksum (SHA-256 digest size).
const Size = sha256.Size

// Checksum is a fixed-length content hash. Equality is content equality.
type Checksum [Size]byte

// Sum computes the Checksum of data.
func Sum(data []byte) Checksum {
	return Checksum(sha256.Sum256(data))
}

// NewHasher returns a Hasher that accumulates a running SHA-256 hash over
// its writes; call its Sum method to finish.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Hasher incrementally computes a Checksum over streamed writes.
type Hasher struct {
	h interface {
		io.Writer
		Sum([]byte) []byte
	}
}

func (w *Hasher) Write(p []byte) (int, error) { return w.h.Write(p) }

// Sum returns the Checksum of everything written so far.
func (w *Hasher) Sum() Checksum {
	var c Checksum
	copy(c[:], w.h.Sum(nil))
	return c
}

// SumReader computes the Checksum of everything read from r.
func SumReader(r io.Reader) (Checksum, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Checksum{}, reverr.Wrap(reverr.KindIO, "hash reader", err)
	}
	var c Checksum
	copy(c[:], h.Sum(nil))
	return c, nil
}

// Empty is the checksum of zero bytes, i.e. Sum(nil).
var Empty = Sum(nil)

// String returns the canonical lowercase hex form.
func (c Checksum) String() string {
	return hex.EncodeToString(c[:])
}

// FromHex parses the canonical hex form. It is lenient on case and
// strict on length: the input must decode to exactly Size bytes.
func FromHex(s string) (Checksum, error) {
	if len(s)%2 != 0 {
		return Checksum{}, reverr.Newf(reverr.KindInvalidInput, "checksum hex has odd length %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Checksum{}, reverr.Wrapf(reverr.KindInvalidInput, err, "checksum hex %q is not valid hex", s)
	}
	if len(raw) != Size {
		return Checksum{}, reverr.Newf(reverr.KindInvalidInput, "checksum hex %q decodes to %d bytes, want %d", s, len(raw), Size)
	}
	var c Checksum
	copy(c[:], raw)
	return c, nil
}

// Equal reports whether c and other have identical content.
func (c Checksum) Equal(other Checksum) bool {
	return c == other
}

// IsZero reports whether c is the zero value (not the hash of empty
// input — callers that need "no checksum yet" should use a pointer or a
// separate bool).
func (c Checksum) IsZero() bool {
	return c == Checksum{}
}
