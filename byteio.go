package zipkit

import (
	"encoding/binary"
	"io"
)

// readBuf is a little-endian cursor over a fixed-size byte slice, used to
// decode fixed-layout records (LFH, CDFH, EOCD, ...) field by field.
type readBuf []byte

func (b *readBuf) uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

func (b *readBuf) sub(n int) []byte {
	v := (*b)[:n]
	*b = (*b)[n:]
	return v
}

// writeBuf is the little-endian write-side counterpart of readBuf.
type writeBuf []byte

func (b *writeBuf) uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}

// countWriter counts the bytes written through it, so callers can learn an
// absolute offset (central directory size, entry offsets, ...) without a
// separate Seek/Tell round trip.
type countWriter struct {
	w     io.Writer
	count int64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.count += int64(n)
	return n, err
}

// maxCommentScan bounds the backward search for the EOCD signature: a
// comment can be at most 65535 bytes, plus the 22-byte fixed EOCD record
// itself.
const maxCommentScan = 65535 + 22

// scanForEOCD performs a bounded backward scan from the end of a
// ReaderAt-backed stream of the given size, looking for the EOCD record
// (signature 0x06054b50). It reads the last min(size, maxCommentScan)
// bytes with a single ReadAt and searches that window backwards, so no more
// than 65557 bytes are read whatever the size of the file.
//
// It returns the full EOCD record (22 fixed bytes plus however much of the
// comment trails it) and the absolute offset at which it starts.
func scanForEOCD(r io.ReaderAt, size int64) (record []byte, offset int64, err error) {
	if size < 22 {
		return nil, 0, newErr(MalformedArchive, "scanForEOCD", "", io.ErrUnexpectedEOF)
	}

	maxWindow := int(size)
	if maxWindow > maxCommentScan {
		maxWindow = maxCommentScan
	}

	buf := make([]byte, maxWindow)
	readFrom := size - int64(maxWindow)
	if n, readErr := r.ReadAt(buf, readFrom); n != len(buf) {
		if readErr == nil {
			readErr = io.ErrUnexpectedEOF
		}
		return nil, 0, newErr(MalformedArchive, "scanForEOCD", "", readErr)
	}

	for i := len(buf) - 22; i >= 0; i-- {
		if buf[i] == 'P' && buf[i+1] == 'K' && buf[i+2] == 5 && buf[i+3] == 6 {
			commentLen := int(binary.LittleEndian.Uint16(buf[i+20:]))
			if i+22+commentLen == len(buf) {
				return buf[i:], readFrom + int64(i), nil
			}
		}
	}
	return nil, 0, newErrf(MalformedArchive, "scanForEOCD", "", "end of central directory record not found")
}
