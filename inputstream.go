package zipkit

import (
	"bufio"
	"io"
)

// InputStream is a forward-only reader over a ZIP byte stream, walking
// local file headers in the order they appear rather than via the central
// directory (spec §4.9). Useful for archives received over a pipe, where
// the trailer isn't available for random access until the whole stream
// has passed. Grounded on BeHierarchic/internal/zip/zip.go's
// localHeaderReader and checksum.go's checksumReader.
type InputStream struct {
	r   io.Reader
	cur *Inflater
	e   *Entry
}

// NewInputStream wraps r, which must begin at the first local file header.
func NewInputStream(r io.Reader) *InputStream {
	if _, ok := r.(io.ByteReader); !ok {
		r = bufio.NewReader(r)
	}
	return &InputStream{r: r}
}

// GetNextEntry advances past whatever entry is currently open, reading and
// discarding the rest of its content plus its Data Descriptor if present,
// then parses the next local file header. Returns io.EOF once a central
// directory signature is seen instead of a local file header.
func (is *InputStream) GetNextEntry() (*Entry, error) {
	if err := is.drainCurrent(); err != nil {
		return nil, err
	}

	var sig [4]byte
	if _, err := io.ReadFull(is.r, sig[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, io.EOF
		}
		return nil, newErr(MalformedArchive, "InputStream.GetNextEntry", "", err)
	}
	signature := readBuf(sig[:])
	switch signature.uint32() {
	case fileHeaderSignature:
		// fall through
	case directoryHeaderSignature, directoryEndSignature:
		return nil, io.EOF
	default:
		return nil, newErrf(MalformedArchive, "InputStream.GetNextEntry", "", "unexpected signature 0x%08x", signature)
	}

	e := &Entry{}
	if err := e.readLocalHeader(io.MultiReader(&fourByteReader{buf: sig}, is.r)); err != nil {
		return nil, err
	}
	if e.Encrypted() {
		return nil, newErrf(Unsupported, "InputStream.GetNextEntry", e.Name, "encrypted entries are not supported")
	}

	var src io.Reader = is.r
	if !e.Incomplete() {
		src = io.LimitReader(is.r, int64(e.CompressedSize))
	}
	inf, err := NewInflater(src, e.CompressionMethod)
	if err != nil {
		return nil, err
	}

	is.cur = inf
	is.e = e
	return e, nil
}

// fourByteReader replays the 4 signature bytes already consumed while
// probing for the next header, so readLocalHeader still sees the full
// record from its start.
type fourByteReader struct {
	buf [4]byte
	off int // bytes of buf already replayed
}

func (r *fourByteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.buf) {
		return 0, io.EOF
	}
	n := copy(p, r.buf[r.off:])
	r.off += n
	return n, nil
}

// Read returns decompressed bytes from the currently open entry.
func (is *InputStream) Read(p []byte) (int, error) {
	if is.cur == nil {
		return 0, newErrf(Argument, "InputStream.Read", "", "no entry is open")
	}
	return is.cur.Read(p)
}

// drainCurrent finishes the currently open entry: reads any remaining
// compressed bytes to reach EOF, verifies CRC/size when they were already
// known, and consumes a trailing Data Descriptor if gp_flags bit 3 was
// set.
func (is *InputStream) drainCurrent() error {
	if is.cur == nil {
		return nil
	}
	if !is.cur.EOF() {
		if _, err := io.Copy(io.Discard, is.cur); err != nil {
			return newErr(IO, "InputStream.drainCurrent", is.e.Name, err)
		}
	}
	if is.e.Incomplete() {
		if err := is.e.readDataDescriptor(is.r); err != nil {
			return err
		}
	}
	if is.e.CRC32 != is.cur.CRC32() {
		return newErrf(Decompression, "InputStream.drainCurrent", is.e.Name, "crc32 mismatch: header %08x, computed %08x", is.e.CRC32, is.cur.CRC32())
	}
	is.cur = nil
	is.e = nil
	return nil
}

// Close drains any remaining open entry so the underlying reader is left
// at the start of the central directory (or EOF, for a streamed archive
// with no separate directory read).
func (is *InputStream) Close() error {
	return is.drainCurrent()
}
