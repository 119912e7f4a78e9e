package zipkit

import (
	"bufio"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

// Deflater is a streaming compressor that also maintains a running CRC-32
// over the uncompressed bytes passed to Write, as required by spec §4.4.
// When Method is Store it degrades to an identity writer plus CRC.
type Deflater struct {
	method uint16
	level  int
	dst    io.Writer
	comp   io.WriteCloser
	crc    hash.Hash32
	rawN   int64
	compCW *countWriter
}

// NewDeflater constructs a Deflater writing compressed bytes to dst using
// method (Store or Deflate) and level (only meaningful for Deflate; -1
// selects the flate package default).
func NewDeflater(dst io.Writer, method uint16, level int) (*Deflater, error) {
	cw := &countWriter{w: dst}
	d := &Deflater{method: method, level: level, dst: dst, crc: crc32.NewIEEE(), compCW: cw}
	switch method {
	case Store:
		d.comp = nopWriteCloser{cw}
	case Deflate:
		fw, err := flate.NewWriter(cw, level)
		if err != nil {
			return nil, newErr(IO, "NewDeflater", "", err)
		}
		d.comp = fw
	default:
		return nil, newErrf(Unsupported, "NewDeflater", "", "unknown compression method %d", method)
	}
	return d, nil
}

// Write feeds uncompressed bytes through the compressor and the CRC-32.
func (d *Deflater) Write(p []byte) (int, error) {
	d.crc.Write(p)
	d.rawN += int64(len(p))
	n, err := d.comp.Write(p)
	if err != nil {
		return n, newErr(IO, "Deflater.Write", "", err)
	}
	return n, nil
}

// Finish flushes the compressor and returns the final CRC-32 and sizes.
func (d *Deflater) Finish() (crc uint32, compressedSize, uncompressedSize int64, err error) {
	if err := d.comp.Close(); err != nil {
		return 0, 0, 0, newErr(IO, "Deflater.Finish", "", err)
	}
	return d.crc.Sum32(), d.compCW.count, d.rawN, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Inflater is a streaming decompressor that tracks CRC-32, compressed, and
// uncompressed byte counts as it is read, per spec §4.4. When Method is
// Store it degrades to an identity reader plus CRC.
type Inflater struct {
	method  uint16
	src     *countingReaderAt
	r       io.Reader
	closer  io.Closer
	crc     hash.Hash32
	rawN    int64
	eof     bool
}

type countingReaderAt struct {
	r io.Reader
	n int64
}

func (c *countingReaderAt) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ReadByte makes countingReaderAt an io.ByteReader, so the flate
// decompressor reads from it directly instead of through its own read-ahead
// buffer and stops at the last byte of the compressed stream.
func (c *countingReaderAt) ReadByte() (byte, error) {
	b, err := c.r.(io.ByteReader).ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

// NewInflater wraps src (exactly compressedSize bytes of entry payload)
// with a decompressor chosen by method.
func NewInflater(src io.Reader, method uint16) (*Inflater, error) {
	if _, ok := src.(io.ByteReader); !ok {
		src = bufio.NewReader(src)
	}
	counted := &countingReaderAt{r: src}
	inf := &Inflater{method: method, src: counted, crc: crc32.NewIEEE()}
	switch method {
	case Store:
		inf.r = counted
		inf.closer = io.NopCloser(nil)
	case Deflate:
		fr := flate.NewReader(counted)
		inf.r = fr
		inf.closer = fr
	default:
		return nil, newErrf(Unsupported, "NewInflater", "", "unknown compression method %d", method)
	}
	return inf, nil
}

// Read returns inflated bytes, feeding the running CRC-32 as it goes.
func (inf *Inflater) Read(p []byte) (int, error) {
	n, err := inf.r.Read(p)
	if n > 0 {
		inf.crc.Write(p[:n])
		inf.rawN += int64(n)
	}
	if err == io.EOF {
		inf.eof = true
		inf.closer.Close()
	}
	return n, err
}

// EOF reports whether the last Read returned io.EOF.
func (inf *Inflater) EOF() bool { return inf.eof }

// CRC32 returns the running CRC-32 of all bytes read so far. Valid to call
// at any time, but only meaningful as "the" checksum once EOF is reached.
func (inf *Inflater) CRC32() uint32 { return inf.crc.Sum32() }

// CompressedSize returns the number of compressed bytes consumed from the
// underlying source so far.
func (inf *Inflater) CompressedSize() int64 { return inf.src.n }

// UncompressedSize returns the number of decompressed bytes produced so
// far.
func (inf *Inflater) UncompressedSize() int64 { return inf.rawN }

// validatingInflater wraps an Inflater so that Entry.OpenInput can verify
// the decompressed content against the entry's declared CRC-32 (and,
// optionally, its declared uncompressed size) the moment the stream is
// fully drained, mirroring the check InputStream.drainCurrent already
// performs on the streaming read path.
type validatingInflater struct {
	inf       *Inflater
	e         *Entry
	checkSize bool
	checked   bool
}

func (v *validatingInflater) Read(p []byte) (int, error) {
	n, err := v.inf.Read(p)
	if err == io.EOF && !v.checked {
		v.checked = true
		if verr := v.verify(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

func (v *validatingInflater) verify() error {
	if v.inf.CRC32() != v.e.CRC32 {
		return newErrf(Decompression, "Entry.OpenInput", v.e.Name, "crc32 mismatch: header %08x, computed %08x", v.e.CRC32, v.inf.CRC32())
	}
	if v.checkSize && uint64(v.inf.UncompressedSize()) != v.e.Size {
		return newErrf(Decompression, "Entry.OpenInput", v.e.Name, "size mismatch: header %d, computed %d", v.e.Size, v.inf.UncompressedSize())
	}
	return nil
}

func (v *validatingInflater) Close() error { return nil }

// deflateLevelFlags maps a compression level to the gp_flags bits 1-2, per
// spec §4.4's table. Only meaningful for Method == Deflate on a
// non-directory entry; callers are responsible for clearing these bits
// otherwise.
func deflateLevelFlags(level int) uint16 {
	switch level {
	case 1:
		return 0x6 // bits 1-2 = 11 (super-fast)
	case 2:
		return 0x4 // bits 1-2 = 10 (fast)
	case 8, 9:
		return 0x2 // bits 1-2 = 01 (maximum)
	default:
		return 0x0
	}
}
