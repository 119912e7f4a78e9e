package zipkit

import (
	"io"
)

type outputState int

const (
	outputFresh outputState = iota
	outputEntryOpen
	outputBetween
	outputClosed
)

// OutputStream is an append-only streaming ZIP writer: Fresh -> (put next
// entry, write) EntryOpen -> (finalize) Between -> ... -> Close -> Closed.
// No random-access writing or entry revision is supported, per spec §1's
// Non-goals. Grounded on apk-editor/editor/zip/writer.go's Writer/
// fileWriter state machine (spec §4.8).
type OutputStream struct {
	dst   *countWriter
	opts  Options
	state outputState

	entries *EntrySet
	comment string

	cur       *Entry
	curDefl   *Deflater
	curOffset int64 // absolute offset of cur's local header
}

// NewOutputStream wraps dst as a fresh, empty ZIP output stream.
func NewOutputStream(dst io.Writer, opts Options) *OutputStream {
	return &OutputStream{
		dst:     &countWriter{w: dst},
		opts:    opts,
		state:   outputFresh,
		entries: NewEntrySet(),
	}
}

// SetComment sets the archive-level comment emitted with the EOCD record.
func (os *OutputStream) SetComment(comment string) { os.comment = comment }

// PutNextEntry finalizes whatever entry is currently open (if any) and
// begins writing e's local header. e.CompressionMethod/CompressionLevel
// must already be set; e.LocalHeaderOffset and e.dirty are managed by the
// stream.
func (os *OutputStream) PutNextEntry(e *Entry) error {
	if os.state == outputClosed {
		return newErrf(IO, "OutputStream.PutNextEntry", e.Name, "stream is closed")
	}
	if e.Encrypted() {
		return newErrf(Unsupported, "OutputStream.PutNextEntry", e.Name, "encrypted entries are not supported")
	}
	if os.state == outputEntryOpen {
		if err := os.FinalizeCurrentEntry(); err != nil {
			return err
		}
	}
	if os.entries.Include(e.Name) {
		return newErrf(EntryExists, "OutputStream.PutNextEntry", e.Name, "duplicate entry name")
	}

	e.LocalHeaderOffset = uint64(os.dst.count)
	e.GPFlags |= gpFlagDataDescriptor // sizes/CRC are unknown until the compressor finishes; see FinalizeCurrentEntry
	level := e.CompressionLevel
	if level == -1 {
		level = os.opts.CompressionLevel
	}

	if err := e.writeLocalHeader(os.dst, level, os.opts); err != nil {
		return err
	}

	os.cur = e
	os.curOffset = int64(e.LocalHeaderOffset)
	os.state = outputEntryOpen

	if e.Directory() {
		return os.FinalizeCurrentEntry()
	}

	defl, err := NewDeflater(os.dst, e.CompressionMethod, level)
	if err != nil {
		return err
	}
	os.curDefl = defl
	return nil
}

// Write streams uncompressed bytes for the currently open entry.
func (os *OutputStream) Write(p []byte) (int, error) {
	if os.state == outputClosed {
		return 0, newErrf(IO, "OutputStream.Write", "", "stream is closed")
	}
	if os.state != outputEntryOpen || os.curDefl == nil {
		return 0, newErrf(Argument, "OutputStream.Write", "", "no entry is open for writing")
	}
	return os.curDefl.Write(p)
}

// FinalizeCurrentEntry flushes the compressor, records the resulting
// CRC-32/sizes on the entry, and emits a Data Descriptor (spec §4.8/§6).
// A trailing descriptor is always used rather than a backpatch, since
// OutputStream is append-only over a plain io.Writer that may not support
// seeking.
func (os *OutputStream) FinalizeCurrentEntry() error {
	if os.state != outputEntryOpen {
		return nil
	}
	e := os.cur
	if os.curDefl != nil {
		crc, compSize, size, err := os.curDefl.Finish()
		if err != nil {
			return err
		}
		e.CRC32 = crc
		e.CompressedSize = uint64(compSize)
		e.Size = uint64(size)
		os.curDefl = nil
	}
	if e.Incomplete() {
		if err := e.writeDataDescriptor(os.dst); err != nil {
			return err
		}
	}
	e.dirty = false
	os.entries.Insert(e)
	os.cur = nil
	os.state = outputBetween
	return nil
}

// CopyRawEntry appends e's already-compressed bytes from src verbatim,
// without decompressing/recompressing (spec §4.8's copy_raw_entry). e's
// CRC32/CompressedSize/Size must already reflect the source entry.
func (os *OutputStream) CopyRawEntry(e *Entry, src io.Reader) error {
	if os.state == outputClosed {
		return newErrf(IO, "OutputStream.CopyRawEntry", e.Name, "stream is closed")
	}
	if os.state == outputEntryOpen {
		if err := os.FinalizeCurrentEntry(); err != nil {
			return err
		}
	}
	if os.entries.Include(e.Name) {
		return newErrf(EntryExists, "OutputStream.CopyRawEntry", e.Name, "duplicate entry name")
	}

	e.GPFlags &^= gpFlagDataDescriptor
	e.LocalHeaderOffset = uint64(os.dst.count)
	if err := e.writeLocalHeader(os.dst, e.CompressionLevel, os.opts); err != nil {
		return err
	}
	n, err := io.Copy(os.dst, src)
	if err != nil {
		return newErr(IO, "OutputStream.CopyRawEntry", e.Name, err)
	}
	if uint64(n) != e.CompressedSize {
		return newErrf(MalformedArchive, "OutputStream.CopyRawEntry", e.Name, "copied %d bytes, entry declares compressed size %d", n, e.CompressedSize)
	}
	e.dirty = false
	os.entries.Insert(e)
	os.state = outputBetween
	return nil
}

// Close finalizes any open entry and writes the central directory and
// EOCD trailer. The stream must not be used afterward.
func (os *OutputStream) Close() error {
	if os.state == outputClosed {
		return nil
	}
	if os.state == outputEntryOpen {
		if err := os.FinalizeCurrentEntry(); err != nil {
			return err
		}
	}
	cdOffset := os.dst.count
	cd := &CentralDirectory{Comment: os.comment}
	if _, err := WriteCentralDirectory(os.dst, os.entries, cd, os.opts, cdOffset); err != nil {
		return err
	}
	os.state = outputClosed
	return nil
}
