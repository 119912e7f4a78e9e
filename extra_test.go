package zipkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExtraFieldSetGetOrder(t *testing.T) {
	ef := NewExtraField()
	ef.Set(0x0001, []byte{1, 2, 3, 4})
	ef.Set(0x5455, []byte{5})
	ef.Set(0x0001, []byte{9, 9}) // replace, keeps original position

	payload, ok := ef.Get(0x0001)
	require.True(t, ok)
	require.Equal(t, []byte{9, 9}, payload)

	encoded := ef.Encode()
	// id 0x0001 must still lead, since it was set first.
	require.Equal(t, uint16(0x0001), leUint16(encoded[0:2]))
}

func TestExtraFieldUnknownIDsRoundTrip(t *testing.T) {
	ef := NewExtraField()
	ef.Set(0x9999, []byte{0xAA, 0xBB, 0xCC})
	encoded := ef.Encode()

	decoded, err := ParseExtraField(encoded)
	require.NoError(t, err)
	payload, ok := decoded.Get(0x9999)
	require.True(t, ok)
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC}, payload)
}

func TestExtraFieldDelete(t *testing.T) {
	ef := NewExtraField()
	ef.Set(0x0001, []byte{1})
	ef.Set(0x5455, []byte{2})
	ef.Delete(0x0001)

	_, ok := ef.Get(0x0001)
	require.False(t, ok)
	require.Equal(t, 1, len(ef.order))
}

func TestParseExtraFieldTruncated(t *testing.T) {
	_, err := ParseExtraField([]byte{1, 0, 0}) // header needs 4 bytes
	require.Error(t, err)
	require.True(t, Is(err, MalformedArchive))
}

func TestExtraFieldClone(t *testing.T) {
	ef := NewExtraField()
	ef.Set(0x0001, []byte{1, 2})
	clone := ef.Clone()
	clone.Set(0x0001, []byte{9, 9})

	orig, _ := ef.Get(0x0001)
	cloned, _ := clone.Get(0x0001)
	require.Equal(t, []byte{1, 2}, orig)
	require.Equal(t, []byte{9, 9}, cloned)
}

func TestZip64ExtraEncodeDecode(t *testing.T) {
	z := zip64Fields{size: 1 << 40, haveSize: true, compressedSize: 1 << 33, haveCompressedSize: true}
	payload := encodeZip64(z)

	got, err := decodeZip64(payload, true, true, false)
	require.NoError(t, err)
	require.Equal(t, z.size, got.size)
	require.Equal(t, z.compressedSize, got.compressedSize)
	require.False(t, got.haveOffset)
}

func TestDecodeZip64MissingField(t *testing.T) {
	_, err := decodeZip64(nil, true, false, false)
	require.Error(t, err)
	require.True(t, Is(err, MalformedArchive))
}

func TestExtTimestampLocalVsCentral(t *testing.T) {
	mtime := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	atime := time.Date(2023, 6, 2, 12, 0, 0, 0, time.UTC)
	fields := extTimestampFields{mtime: mtime, haveMtime: true, atime: atime, haveAtime: true}

	local := encodeExtTimestamp(fields, true)
	decodedLocal := decodeExtTimestamp(local, true)
	require.True(t, decodedLocal.haveMtime)
	require.True(t, decodedLocal.haveAtime)
	require.Equal(t, mtime.Unix(), decodedLocal.mtime.Unix())

	central := encodeExtTimestamp(fields, false)
	decodedCentral := decodeExtTimestamp(central, false)
	require.True(t, decodedCentral.haveMtime)
	require.False(t, decodedCentral.haveAtime)
}

func TestInfoZipUnixNRoundTrip(t *testing.T) {
	f := unixIDFields{uid: 1000, gid: 1000, valid: true}
	payload := encodeInfoZipUnixN(f)
	got := decodeInfoZipUnixN(payload)
	require.True(t, got.valid)
	require.Equal(t, f.uid, got.uid)
	require.Equal(t, f.gid, got.gid)
}

func TestDecodeLegacyUnix(t *testing.T) {
	payload := make([]byte, 12)
	leWriteUint32(payload[0:], 111)  // atime
	leWriteUint32(payload[4:], 222)  // mtime
	leWriteUint16(payload[8:], 1000) // uid
	leWriteUint16(payload[10:], 100) // gid

	mtime, uid, gid, haveTime, haveIDs := decodeLegacyUnix(payload)
	require.True(t, haveTime)
	require.True(t, haveIDs)
	require.EqualValues(t, 222, mtime.Unix())
	require.EqualValues(t, 1000, uid)
	require.EqualValues(t, 100, gid)
}

func TestNTFSRoundTrip(t *testing.T) {
	mtime := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	atime := time.Date(2023, 6, 2, 12, 0, 0, 0, time.UTC)
	ctime := time.Date(2023, 6, 3, 12, 0, 0, 0, time.UTC)

	payload := encodeNTFS(mtime, atime, ctime)
	gotM, gotA, gotC, ok := decodeNTFS(payload)
	require.True(t, ok)
	require.Equal(t, mtime.Unix(), gotM.Unix())
	require.Equal(t, atime.Unix(), gotA.Unix())
	require.Equal(t, ctime.Unix(), gotC.Unix())
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leWriteUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func leWriteUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
