package zipkit

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInputStreamWalksLocalEntriesInOrder(t *testing.T) {
	names := []string{"a.txt", "b.txt", "c.txt"}
	data := buildTestArchive(t, DefaultOptions(), "", names)

	is := NewInputStream(bytes.NewReader(data))
	for _, name := range names {
		e, err := is.GetNextEntry()
		require.NoError(t, err)
		require.Equal(t, name, e.Name)

		content, err := io.ReadAll(is)
		require.NoError(t, err)
		require.Equal(t, "content of "+name, string(content))
	}

	_, err := is.GetNextEntry()
	require.ErrorIs(t, err, io.EOF)
}

func TestInputStreamCloseDrainsPartiallyReadEntry(t *testing.T) {
	data := buildTestArchive(t, DefaultOptions(), "", []string{"only.txt"})

	is := NewInputStream(bytes.NewReader(data))
	_, err := is.GetNextEntry()
	require.NoError(t, err)

	// Don't read any content before asking for the next entry/closing:
	// drainCurrent must consume the rest and verify CRC itself.
	_, err = is.GetNextEntry()
	require.ErrorIs(t, err, io.EOF)
}

func TestInputStreamRejectsEncryptedEntry(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutputStream(&buf, DefaultOptions())
	e := mustEntry(t, "secret.txt")
	e.CompressionMethod = Store
	e.GPFlags |= gpFlagEncrypted
	require.True(t, Is(out.PutNextEntry(e), Unsupported))
	e.GPFlags &^= gpFlagEncrypted
	require.NoError(t, out.PutNextEntry(e))
	_, err := out.Write([]byte("shh"))
	require.NoError(t, err)
	require.NoError(t, out.FinalizeCurrentEntry())
	require.NoError(t, out.Close())

	data := buf.Bytes()
	data[6] |= gpFlagEncrypted // general-purpose flags of the first local header
	is := NewInputStream(bytes.NewReader(data))
	_, err = is.GetNextEntry()
	require.True(t, Is(err, Unsupported))
}

func TestInputStreamReadWithoutOpenEntry(t *testing.T) {
	is := NewInputStream(bytes.NewReader(nil))
	_, err := is.Read(make([]byte, 1))
	require.True(t, Is(err, Argument))
}
