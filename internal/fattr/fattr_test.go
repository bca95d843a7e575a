package fattr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	a := &Attr{
		Mask:     Type | ModTime | Size | Owner | Group | Mode | LinkCount,
		FileType: TypeFile,
		ModTime:  1700000000,
		Size:     4096,
		Owner:    "root",
		Group:    "wheel",
		Mode:     0o644,
		Links:    1,
	}
	enc := a.Encode()
	got, err := Decode(enc)
	require.NoError(t, err)
	assert.True(t, Equal(a, got))
}

func TestEncodeDecodeSymlink(t *testing.T) {
	a := &Attr{
		Mask:     Type | LinkTarget,
		FileType: TypeSymlink,
		Link:     "../target",
	}
	got, err := Decode(a.Encode())
	require.NoError(t, err)
	assert.Equal(t, a.Link, got.Link)
	assert.Equal(t, a.FileType, got.FileType)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode("not-a-valid-encoding")
	assert.Error(t, err)
}

func TestCmpUnknownAlwaysUnequal(t *testing.T) {
	a := New(TypeUnknown)
	b := New(TypeUnknown)
	assert.False(t, Equal(a, b))
}

func TestCmpBogusAlwaysUnequal(t *testing.T) {
	assert.False(t, Equal(Bogus, Bogus))
	assert.False(t, Equal(Bogus, New(TypeFile)))
}

func TestCmpOnlySharedFields(t *testing.T) {
	a := &Attr{Mask: Type | Size, FileType: TypeFile, Size: 10}
	b := &Attr{Mask: Type | Owner, FileType: TypeFile, Owner: "bob"}
	assert.True(t, Equal(a, b)) // no shared field disagrees
}

func TestMergeKeepsExisting(t *testing.T) {
	dst := &Attr{Mask: Size, Size: 1}
	src := &Attr{Mask: Size | Owner, Size: 999, Owner: "alice"}
	dst.Merge(src)
	assert.EqualValues(t, 1, dst.Size)
	assert.Equal(t, "alice", dst.Owner)
	assert.Equal(t, Size|Owner, dst.Mask)
}

func TestOverrideForces(t *testing.T) {
	dst := &Attr{Mask: Size, Size: 1}
	src := &Attr{Mask: Size, Size: 999}
	dst.Override(src, Size)
	assert.EqualValues(t, 999, dst.Size)
}

func TestPermMaskSetid(t *testing.T) {
	noOwner := &Attr{Mask: Mode}
	assert.EqualValues(t, 0o777, noOwner.PermMask())

	withBoth := &Attr{Mask: Mode | Owner | Group}
	assert.EqualValues(t, 0o1777|0o6000, withBoth.PermMask())
}

func TestFromPathRegularFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0644))

	a, err := FromPath(path, false)
	require.NoError(t, err)
	assert.Equal(t, TypeFile, a.FileType)
	assert.EqualValues(t, 2, a.Size)
}

func TestFromPathDirectory(t *testing.T) {
	dir := t.TempDir()
	a, err := FromPath(dir, false)
	require.NoError(t, err)
	assert.Equal(t, TypeDirectory, a.FileType)
}

func TestForCheckoutDropsUnwantedFields(t *testing.T) {
	server := &Attr{Mask: Mode | Dev | Inode | LinkCount, Mode: 0o666}
	out := ForCheckout(server, 0o022)
	assert.Zero(t, out.Mask&(Dev|Inode|LinkCount))
	assert.EqualValues(t, 0o644, out.Mode)
}
