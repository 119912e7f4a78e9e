package zipkit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEntryRejectsLeadingSlash(t *testing.T) {
	_, err := NewEntry("/etc/passwd")
	require.True(t, Is(err, EntryName))
}

func TestEntryDirectoryVsFile(t *testing.T) {
	dir := mustEntry(t, "pkg/")
	require.True(t, dir.Directory())
	require.False(t, dir.File())

	file := mustEntry(t, "pkg/main.go")
	require.False(t, file.Directory())
	require.True(t, file.File())
}

func TestEntryParentAsString(t *testing.T) {
	e := mustEntry(t, "a/b/c.txt")
	parent, ok := e.ParentAsString()
	require.True(t, ok)
	require.Equal(t, "a/b/", parent)

	top := mustEntry(t, "c.txt")
	_, ok = top.ParentAsString()
	require.False(t, ok)

	dir := mustEntry(t, "a/b/")
	parent, ok = dir.ParentAsString()
	require.True(t, ok)
	require.Equal(t, "a/", parent)
}

func TestEntryEncryptedAndIncomplete(t *testing.T) {
	e := mustEntry(t, "f.txt")
	require.False(t, e.Encrypted())
	require.False(t, e.Incomplete())

	e.GPFlags |= gpFlagEncrypted | gpFlagDataDescriptor
	require.True(t, e.Encrypted())
	require.True(t, e.Incomplete())
}

func TestMarkDirectoryClearsCodecState(t *testing.T) {
	e := mustEntry(t, "dir/")
	e.CompressionMethod = Deflate
	e.CompressedSize = 10
	e.Size = 20
	e.CRC32 = 0xdeadbeef
	e.GPFlags = gpFlagCompressionMask | gpFlagDataDescriptor

	e.markDirectory()
	require.Equal(t, Store, e.CompressionMethod)
	require.EqualValues(t, 0, e.CompressedSize)
	require.EqualValues(t, 0, e.Size)
	require.EqualValues(t, 0, e.CRC32)
	require.False(t, e.Incomplete())
}

func TestSetModeRoundTrip(t *testing.T) {
	e := mustEntry(t, "f.txt")
	e.SetMode(0644)
	require.Equal(t, os.FileMode(0644), e.Mode().Perm())

	readOnly := mustEntry(t, "g.txt")
	readOnly.SetMode(0444)
	require.NotZero(t, readOnly.ExternalFileAttributes&0x01)
}

func TestGatherFileInfoFromSourcePathFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	e := mustEntry(t, "hello.txt")
	require.NoError(t, e.GatherFileInfoFromSourcePath(path))
	require.EqualValues(t, 11, e.Size)
	require.Equal(t, Deflate, e.CompressionMethod)
	require.NotNil(t, e.follower)
}

func TestGatherFileInfoFromSourcePathDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))

	e := mustEntry(t, "sub")
	require.NoError(t, e.GatherFileInfoFromSourcePath(sub))
	require.True(t, e.Directory())
	require.Equal(t, Store, e.CompressionMethod)
}

func TestSetContentRejectsDirectory(t *testing.T) {
	e := mustEntry(t, "dir/")
	err := e.SetContent([]byte("x"), Store)
	require.True(t, Is(err, Argument))
}

func TestSetContentInvalidatesRawSource(t *testing.T) {
	e := mustEntry(t, "f.txt")
	e.raw = &rawSource{compressedSize: 5}

	require.NoError(t, e.SetContent([]byte("new content"), Store))
	require.Nil(t, e.raw)
}

func TestEntryEqualIgnoresCommentAndTime(t *testing.T) {
	a := mustEntry(t, "f.txt")
	b := mustEntry(t, "f.txt")
	a.Comment = "one"
	b.Comment = "two"
	require.True(t, a.Equal(b))

	b.Size = 1
	require.False(t, a.Equal(b))
}

func TestDetectUTF8(t *testing.T) {
	valid, require1 := detectUTF8("plain-ascii.txt")
	if !valid || require1 {
		t.Fatalf("expected ascii to be valid and not require UTF-8, got valid=%v require=%v", valid, require1)
	}

	valid, require1 = detectUTF8("résumé.txt")
	if !valid || !require1 {
		t.Fatalf("expected non-ascii UTF-8 to require the bit, got valid=%v require=%v", valid, require1)
	}
}
