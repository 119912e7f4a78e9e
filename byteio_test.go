package zipkit

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriteBufRoundTrip(t *testing.T) {
	buf := make([]byte, 1+2+4+8+3)
	w := writeBuf(buf)
	w.uint8(0xAB)
	w.uint16(0x1234)
	w.uint32(0xDEADBEEF)
	w.uint64(0x0102030405060708)
	copy(w, []byte("xyz"))

	r := readBuf(buf)
	require.EqualValues(t, 0xAB, r.uint8())
	require.EqualValues(t, 0x1234, r.uint16())
	require.EqualValues(t, 0xDEADBEEF, r.uint32())
	require.EqualValues(t, 0x0102030405060708, r.uint64())
	require.Equal(t, []byte("xyz"), r.sub(3))
}

func TestCountWriter(t *testing.T) {
	var buf bytes.Buffer
	cw := &countWriter{w: &buf}
	n, err := cw.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	n2, err := cw.Write([]byte(" world"))
	require.NoError(t, err)
	require.Equal(t, 6, n2)
	require.EqualValues(t, 11, cw.count)
	require.Equal(t, "hello world", buf.String())
}

func TestScanForEOCDNoComment(t *testing.T) {
	var eocd [directoryEndLen]byte
	b := writeBuf(eocd[:])
	b.uint32(directoryEndSignature)
	b.uint16(0)
	b.uint16(0)
	b.uint16(0)
	b.uint16(0)
	b.uint32(0)
	b.uint32(0)
	b.uint16(0)

	data := append([]byte("junk before it"), eocd[:]...)
	record, offset, err := scanForEOCD(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.EqualValues(t, len(data)-directoryEndLen, offset)
	require.Len(t, record, directoryEndLen)
}

func TestScanForEOCDWithComment(t *testing.T) {
	comment := "hello archive"
	var eocd [directoryEndLen]byte
	b := writeBuf(eocd[:])
	b.uint32(directoryEndSignature)
	b.uint16(0)
	b.uint16(0)
	b.uint16(0)
	b.uint16(0)
	b.uint32(0)
	b.uint32(0)
	b.uint16(uint16(len(comment)))

	data := append(eocd[:], []byte(comment)...)
	record, offset, err := scanForEOCD(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.EqualValues(t, 0, offset)
	require.Equal(t, comment, string(record[directoryEndLen:]))
}

func TestScanForEOCDNotFound(t *testing.T) {
	data := bytes.Repeat([]byte{0}, 100)
	_, _, err := scanForEOCD(bytes.NewReader(data), int64(len(data)))
	require.Error(t, err)
	require.True(t, Is(err, MalformedArchive))
}

func TestScanForEOCDTooShort(t *testing.T) {
	_, _, err := scanForEOCD(bytes.NewReader(nil), 0)
	require.Error(t, err)
	require.True(t, Is(err, MalformedArchive))
}
