package zipkit

import (
	"encoding/binary"
	"hash/crc32"
	"time"
)

// Recognised extra-field header IDs (spec §4.2).
const (
	extraIDZip64         uint16 = 0x0001
	extraIDExtTimestamp  uint16 = 0x5455
	extraIDInfoZipUnixN  uint16 = 0x7855 // "IUnix" in spec terms
	extraIDNTFS          uint16 = 0x000a
	extraIDInfoZipUnix   uint16 = 0x5855 // legacy "OldUnix"
	extraIDUnicodePath   uint16 = 0x7075
)

// ExtraField is an ordered id->payload map, as required by spec §4.2:
// unrecognised IDs must round-trip verbatim, in their original order.
type ExtraField struct {
	order   []uint16
	fields  map[uint16][]byte
}

// NewExtraField returns an empty ExtraField.
func NewExtraField() *ExtraField {
	return &ExtraField{fields: make(map[uint16][]byte)}
}

// ParseExtraField decodes the concatenated (id, length, payload) records
// found in an LFH/CDFH extra block. Decoding is length-driven; trailing
// bytes that don't form a complete record are a MalformedArchiveError.
func ParseExtraField(data []byte) (*ExtraField, error) {
	ef := NewExtraField()
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, newErrf(MalformedArchive, "ParseExtraField", "", "truncated extra field header")
		}
		id := binary.LittleEndian.Uint16(data)
		size := int(binary.LittleEndian.Uint16(data[2:]))
		if len(data) < 4+size {
			return nil, newErrf(MalformedArchive, "ParseExtraField", "", "truncated extra field payload for id 0x%04x", id)
		}
		ef.Set(id, data[4:4+size])
		data = data[4+size:]
	}
	return ef, nil
}

// Set stores (or replaces, preserving original position) the payload for
// id.
func (ef *ExtraField) Set(id uint16, payload []byte) {
	if ef.fields == nil {
		ef.fields = make(map[uint16][]byte)
	}
	if _, ok := ef.fields[id]; !ok {
		ef.order = append(ef.order, id)
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	ef.fields[id] = buf
}

// Get returns the raw payload for id and whether it was present.
func (ef *ExtraField) Get(id uint16) ([]byte, bool) {
	if ef.fields == nil {
		return nil, false
	}
	v, ok := ef.fields[id]
	return v, ok
}

// Delete removes id, if present.
func (ef *ExtraField) Delete(id uint16) {
	if ef.fields == nil {
		return
	}
	if _, ok := ef.fields[id]; !ok {
		return
	}
	delete(ef.fields, id)
	for i, o := range ef.order {
		if o == id {
			ef.order = append(ef.order[:i], ef.order[i+1:]...)
			break
		}
	}
}

// Encode concatenates the stored records back into the (id, length,
// payload) wire form, in first-Set order.
func (ef *ExtraField) Encode() []byte {
	var out []byte
	for _, id := range ef.order {
		payload := ef.fields[id]
		var hdr [4]byte
		binary.LittleEndian.PutUint16(hdr[0:], id)
		binary.LittleEndian.PutUint16(hdr[2:], uint16(len(payload)))
		out = append(out, hdr[:]...)
		out = append(out, payload...)
	}
	return out
}

// Len returns the encoded byte length without actually encoding.
func (ef *ExtraField) Len() int {
	n := 0
	for _, id := range ef.order {
		n += 4 + len(ef.fields[id])
	}
	return n
}

// Clone returns a deep copy.
func (ef *ExtraField) Clone() *ExtraField {
	out := NewExtraField()
	for _, id := range ef.order {
		out.Set(id, ef.fields[id])
	}
	return out
}

// --- ZIP64 (0x0001) ---

// zip64Fields holds whichever of the four 64-bit values are present; the
// ZIP64 extra is unusual in that only the fields whose 32-bit slot
// overflowed are present, in a fixed order: size, compressed size, local
// header offset, disk number.
type zip64Fields struct {
	size, compressedSize, offset uint64
	haveSize, haveCompressedSize, haveOffset bool
}

func decodeZip64(payload []byte, needSize, needCompressedSize, needOffset bool) (zip64Fields, error) {
	var z zip64Fields
	take := func() (uint64, bool) {
		if len(payload) < 8 {
			return 0, false
		}
		v := binary.LittleEndian.Uint64(payload)
		payload = payload[8:]
		return v, true
	}
	if needSize {
		v, ok := take()
		if !ok {
			return z, newErrf(MalformedArchive, "decodeZip64", "", "zip64 extra missing size field")
		}
		z.size, z.haveSize = v, true
	}
	if needCompressedSize {
		v, ok := take()
		if !ok {
			return z, newErrf(MalformedArchive, "decodeZip64", "", "zip64 extra missing compressed size field")
		}
		z.compressedSize, z.haveCompressedSize = v, true
	}
	if needOffset {
		v, ok := take()
		if !ok {
			return z, newErrf(MalformedArchive, "decodeZip64", "", "zip64 extra missing offset field")
		}
		z.offset, z.haveOffset = v, true
	}
	return z, nil
}

func encodeZip64(z zip64Fields) []byte {
	var out []byte
	push := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		out = append(out, b[:]...)
	}
	if z.haveSize {
		push(z.size)
	}
	if z.haveCompressedSize {
		push(z.compressedSize)
	}
	if z.haveOffset {
		push(z.offset)
	}
	return out
}

// --- Extended Timestamp (0x5455) ---

type extTimestampFields struct {
	mtime, atime, ctime           time.Time
	haveMtime, haveAtime, haveCtime bool
}

func decodeExtTimestamp(payload []byte, inLocalHeader bool) extTimestampFields {
	var t extTimestampFields
	if len(payload) < 1 {
		return t
	}
	flags := payload[0]
	payload = payload[1:]
	take := func() (time.Time, bool) {
		if len(payload) < 4 {
			return time.Time{}, false
		}
		sec := int64(binary.LittleEndian.Uint32(payload))
		payload = payload[4:]
		return time.Unix(sec, 0).UTC(), true
	}
	if flags&0x1 != 0 {
		if v, ok := take(); ok {
			t.mtime, t.haveMtime = v, true
		}
	}
	// atime/ctime are only ever present in the local header copy of this
	// extra field; central directory copies carry mtime only.
	if inLocalHeader && flags&0x2 != 0 {
		if v, ok := take(); ok {
			t.atime, t.haveAtime = v, true
		}
	}
	if inLocalHeader && flags&0x4 != 0 {
		if v, ok := take(); ok {
			t.ctime, t.haveCtime = v, true
		}
	}
	return t
}

func encodeExtTimestamp(t extTimestampFields, inLocalHeader bool) []byte {
	var flags byte
	var body []byte
	push := func(tm time.Time) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(tm.Unix()))
		body = append(body, b[:]...)
	}
	if t.haveMtime {
		flags |= 0x1
		push(t.mtime)
	}
	if inLocalHeader && t.haveAtime {
		flags |= 0x2
		push(t.atime)
	}
	if inLocalHeader && t.haveCtime {
		flags |= 0x4
		push(t.ctime)
	}
	return append([]byte{flags}, body...)
}

// --- Unix UID/GID (0x7855 "IUnix", 0x5855 legacy "OldUnix") ---

type unixIDFields struct {
	uid, gid uint16
	valid    bool
}

func decodeInfoZipUnixN(payload []byte) unixIDFields {
	if len(payload) < 4 {
		return unixIDFields{}
	}
	return unixIDFields{
		uid:   binary.LittleEndian.Uint16(payload[0:]),
		gid:   binary.LittleEndian.Uint16(payload[2:]),
		valid: true,
	}
}

func encodeInfoZipUnixN(f unixIDFields) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint16(b[0:], f.uid)
	binary.LittleEndian.PutUint16(b[2:], f.gid)
	return b[:]
}

// decodeLegacyUnix decodes the 0x5855 field: atime(4) mtime(4) uid(2) gid(2),
// uid/gid only present for files (payload length >= 12).
func decodeLegacyUnix(payload []byte) (mtime time.Time, uid, gid uint16, haveTime, haveIDs bool) {
	if len(payload) >= 8 {
		mtime = time.Unix(int64(binary.LittleEndian.Uint32(payload[4:8])), 0).UTC()
		haveTime = true
	}
	if len(payload) >= 12 {
		uid = binary.LittleEndian.Uint16(payload[8:10])
		gid = binary.LittleEndian.Uint16(payload[10:12])
		haveIDs = true
	}
	return
}

// --- NTFS times (0x000a) ---

const ntfsEpochOffsetSeconds = 11644473600 // 1601-01-01 to 1970-01-01, in seconds
const ntfsTicksPerSecond = 1e7

func decodeNTFS(payload []byte) (mtime, atime, ctime time.Time, ok bool) {
	if len(payload) < 4 {
		return
	}
	// First 4 bytes are reserved; what follows is a sequence of
	// (tag uint16, size uint16, data) sub-attributes. Tag 1 carries the
	// three 64-bit FILETIME values (mtime, atime, ctime) we care about.
	attrs := payload[4:]
	for len(attrs) >= 4 {
		tag := binary.LittleEndian.Uint16(attrs)
		size := int(binary.LittleEndian.Uint16(attrs[2:]))
		if len(attrs) < 4+size {
			break
		}
		body := attrs[4 : 4+size]
		if tag == 1 && len(body) >= 24 {
			mtime = filetimeToTime(binary.LittleEndian.Uint64(body[0:8]))
			atime = filetimeToTime(binary.LittleEndian.Uint64(body[8:16]))
			ctime = filetimeToTime(binary.LittleEndian.Uint64(body[16:24]))
			ok = true
		}
		attrs = attrs[4+size:]
	}
	return
}

func encodeNTFS(mtime, atime, ctime time.Time) []byte {
	out := make([]byte, 4) // reserved
	var sub [2 + 2 + 24]byte
	binary.LittleEndian.PutUint16(sub[0:], 1)  // tag
	binary.LittleEndian.PutUint16(sub[2:], 24) // size
	binary.LittleEndian.PutUint64(sub[4:], timeToFiletime(mtime))
	binary.LittleEndian.PutUint64(sub[12:], timeToFiletime(atime))
	binary.LittleEndian.PutUint64(sub[20:], timeToFiletime(ctime))
	return append(out, sub[:]...)
}

// --- Info-ZIP Unicode Path (0x7075) ---

// encodeUnicodePath builds the 0x7075 payload: a version byte, the CRC-32
// of the primary name field (so a reader can tell a stale extra from a
// renamed entry), and the UTF-8 name bytes.
func encodeUnicodePath(name string) []byte {
	out := make([]byte, 5+len(name))
	out[0] = 1
	binary.LittleEndian.PutUint32(out[1:], crc32.ChecksumIEEE([]byte(name)))
	copy(out[5:], name)
	return out
}

func filetimeToTime(ft uint64) time.Time {
	secs := int64(ft/ntfsTicksPerSecond) - ntfsEpochOffsetSeconds
	nsecs := int64(ft%ntfsTicksPerSecond) * 100
	return time.Unix(secs, nsecs).UTC()
}

func timeToFiletime(t time.Time) uint64 {
	secs := t.Unix() + ntfsEpochOffsetSeconds
	nsecs := int64(t.Nanosecond())
	return uint64(secs)*ntfsTicksPerSecond + uint64(nsecs/100)
}
