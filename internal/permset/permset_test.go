package permset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromModeHas(t *testing.T) {
	p := FromMode(0o640) // rw-r-----
	assert.True(t, p.Has(Owner, Read))
	assert.True(t, p.Has(Owner, Write))
	assert.False(t, p.Has(Owner, Execute))

	assert.True(t, p.Has(Group, Read))
	assert.False(t, p.Has(Group, Write))
	assert.False(t, p.Has(Group, Execute))

	assert.False(t, p.Has(Other, Read))
	assert.False(t, p.Has(Other, Write))
	assert.False(t, p.Has(Other, Execute))
}

func TestFromModeExecutableBits(t *testing.T) {
	p := FromMode(0o751) // rwxr-x--x
	assert.True(t, p.Has(Owner, Execute))
	assert.True(t, p.Has(Group, Execute))
	assert.True(t, p.Has(Other, Execute))
	assert.False(t, p.Has(Other, Write))
}

func TestModeRoundTrip(t *testing.T) {
	for _, mode := range []os.FileMode{0o755, 0o644, 0o600, 0o000, 0o777} {
		p := FromMode(mode)
		assert.Equal(t, mode, p.Mode(), "mode %o", mode)
	}
}

func TestEqual(t *testing.T) {
	a := FromMode(0o644)
	b := FromMode(0o644)
	c := FromMode(0o600)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestFromPathReadsFileMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o640))

	p, err := FromPath(path)
	require.NoError(t, err)
	if !supportsPOSIXPermissions() {
		assert.Nil(t, p)
		return
	}
	require.NotNil(t, p)
	assert.True(t, p.Has(Owner, Read))
	assert.True(t, p.Has(Owner, Write))
	assert.False(t, p.Has(Owner, Execute))
}

func TestFromPathMissingFile(t *testing.T) {
	_, err := FromPath(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}
