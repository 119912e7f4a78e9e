package zipkit

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteExtendedTimestampsDefaultOff(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutputStream(&buf, DefaultOptions())
	writeEntryContent(t, out, mustEntry(t, "f.txt"), []byte("x"))
	require.NoError(t, out.Close())

	es, _, err := ReadCentralDirectory(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	got := es.FindEntry("f.txt")
	require.NotNil(t, got)
	_, ok := got.Extra.Get(extraIDExtTimestamp)
	require.False(t, ok)
}

func TestWriteExtendedTimestampsOptIn(t *testing.T) {
	opts := DefaultOptions()
	opts.WriteExtendedTimestamps = true

	var buf bytes.Buffer
	out := NewOutputStream(&buf, opts)
	writeEntryContent(t, out, mustEntry(t, "f.txt"), []byte("x"))
	require.NoError(t, out.Close())

	es, _, err := ReadCentralDirectory(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	got := es.FindEntry("f.txt")
	require.NotNil(t, got)
	_, ok := got.Extra.Get(extraIDExtTimestamp)
	require.True(t, ok)
}

func TestUnicodeNamesOptInEmitsExtraAndRoundTrips(t *testing.T) {
	opts := DefaultOptions()
	opts.UnicodeNames = true

	var buf bytes.Buffer
	out := NewOutputStream(&buf, opts)
	writeEntryContent(t, out, mustEntry(t, "café.txt"), []byte("x"))
	require.NoError(t, out.Close())

	es, _, err := ReadCentralDirectory(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	got := es.FindEntry("café.txt")
	require.NotNil(t, got)
	_, ok := got.Extra.Get(extraIDUnicodePath)
	require.True(t, ok)
	require.Equal(t, "café.txt", got.Name)
}

func TestUnicodeNamesDefaultOffEmitsNoExtra(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutputStream(&buf, DefaultOptions())
	writeEntryContent(t, out, mustEntry(t, "café.txt"), []byte("x"))
	require.NoError(t, out.Close())

	es, _, err := ReadCentralDirectory(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	got := es.FindEntry("café.txt")
	require.NotNil(t, got)
	_, ok := got.Extra.Get(extraIDUnicodePath)
	require.False(t, ok)
}
