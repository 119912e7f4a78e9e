package zipkit

import (
	"io"
)

// CentralDirectory reads and writes the trailer of a ZIP archive: the
// sequence of CDFH records plus the EOCD (and, when needed, the ZIP64
// EOCD and its locator). Grounded on BeHierarchic/internal/zip/zip.go's
// New2 for the read path and zipserve/writer.go's writeCentralDirectory
// for the write path (spec §4.7).
type CentralDirectory struct {
	Comment string
}

// eocdFields holds the fixed 22-byte EOCD record, decoded.
type eocdFields struct {
	diskNumber        uint16
	cdStartDisk       uint16
	entriesOnDisk     uint16
	totalEntries      uint16
	cdSize            uint32
	cdOffset          uint32
	commentLen        uint16
}

func decodeEOCD(record []byte) (eocdFields, string, error) {
	if len(record) < directoryEndLen {
		return eocdFields{}, "", newErrf(MalformedArchive, "decodeEOCD", "", "short end of central directory record")
	}
	b := readBuf(record[:directoryEndLen])
	sig := b.uint32()
	if sig != directoryEndSignature {
		return eocdFields{}, "", newErrf(MalformedArchive, "decodeEOCD", "", "bad end of central directory signature 0x%08x", sig)
	}
	var f eocdFields
	f.diskNumber = b.uint16()
	f.cdStartDisk = b.uint16()
	f.entriesOnDisk = b.uint16()
	f.totalEntries = b.uint16()
	f.cdSize = b.uint32()
	f.cdOffset = b.uint32()
	f.commentLen = b.uint16()
	comment := ""
	if len(record) >= directoryEndLen+int(f.commentLen) {
		comment = string(record[directoryEndLen : directoryEndLen+int(f.commentLen)])
	}
	return f, comment, nil
}

// zip64EOCDFields holds the fixed-size portion of a ZIP64 EOCD record.
type zip64EOCDFields struct {
	totalEntries uint64
	cdSize       uint64
	cdOffset     uint64
}

func decodeZip64EOCD(r io.ReaderAt, offset int64) (zip64EOCDFields, error) {
	buf := make([]byte, directory64EndLen)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return zip64EOCDFields{}, newErr(MalformedArchive, "decodeZip64EOCD", "", err)
	}
	b := readBuf(buf)
	if sig := b.uint32(); sig != directory64EndSignature {
		return zip64EOCDFields{}, newErrf(MalformedArchive, "decodeZip64EOCD", "", "bad zip64 end of central directory signature 0x%08x", sig)
	}
	b.sub(8) // size of this record, minus 12
	b.sub(2) // version made by
	b.sub(2) // version needed
	b.sub(4) // disk number
	b.sub(4) // disk with central directory start
	b.sub(8) // entries on this disk
	var f zip64EOCDFields
	f.totalEntries = b.uint64()
	f.cdSize = b.uint64()
	f.cdOffset = b.uint64()
	return f, nil
}

func decodeZip64Locator(r io.ReaderAt, offset int64) (int64, error) {
	buf := make([]byte, directory64LocLen)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return 0, newErr(MalformedArchive, "decodeZip64Locator", "", err)
	}
	b := readBuf(buf)
	if sig := b.uint32(); sig != directory64LocSignature {
		return 0, newErrf(MalformedArchive, "decodeZip64Locator", "", "bad zip64 locator signature 0x%08x", sig)
	}
	b.sub(4) // disk with zip64 EOCD
	zip64EOCDOffset := int64(b.uint64())
	return zip64EOCDOffset, nil
}

// ReadCentralDirectory reads the entire trailer from archive (whose total
// size is size), returning the decoded entries in on-disk order plus the
// CentralDirectory record itself. Grounded on BeHierarchic's New2: locate
// EOCD by backward scan, detect an adjoining ZIP64 locator, then walk the
// CDFH sequence (spec §4.7, §4.9).
func ReadCentralDirectory(archive io.ReaderAt, size int64) (*EntrySet, *CentralDirectory, error) {
	record, eocdOffset, err := scanForEOCD(archive, size)
	if err != nil {
		return nil, nil, err
	}
	eocd, comment, err := decodeEOCD(record)
	if err != nil {
		return nil, nil, err
	}

	totalEntries := uint64(eocd.totalEntries)
	cdSize := uint64(eocd.cdSize)
	cdOffset := uint64(eocd.cdOffset)

	// A ZIP64 locator, if present, sits in the 20 bytes immediately before
	// the EOCD record.
	locatorOffset := eocdOffset - directory64LocLen
	if locatorOffset >= 0 {
		if zip64EOCDOffset, err := decodeZip64Locator(archive, locatorOffset); err == nil {
			z64, err := decodeZip64EOCD(archive, zip64EOCDOffset)
			if err != nil {
				return nil, nil, err
			}
			totalEntries = z64.totalEntries
			cdSize = z64.cdSize
			cdOffset = z64.cdOffset
		}
	}

	cdBuf := make([]byte, cdSize)
	if _, err := archive.ReadAt(cdBuf, int64(cdOffset)); err != nil {
		return nil, nil, newErr(MalformedArchive, "ReadCentralDirectory", "", err)
	}

	es := NewEntrySet()
	r := newSliceReader(cdBuf)
	for i := uint64(0); i < totalEntries; i++ {
		e := &Entry{}
		if err := e.readCentralDirectoryHeader(r); err != nil {
			return nil, nil, err
		}
		e.raw = &rawSource{archive: archive, localHeaderOffset: e.LocalHeaderOffset, compressedSize: e.CompressedSize}
		es.Insert(e)
	}
	if es.Len() != int(totalEntries) {
		return nil, nil, newErrf(MalformedArchive, "ReadCentralDirectory", "", "central directory entry count mismatch: header says %d, read %d", totalEntries, es.Len())
	}

	return es, &CentralDirectory{Comment: comment}, nil
}

// sliceReader is a minimal io.Reader over an in-memory byte slice, used so
// the CDFH walk can reuse Entry.readCentralDirectoryHeader (which wants an
// io.Reader) without an extra copy per record.
type sliceReader struct {
	data []byte
	pos  int
}

func newSliceReader(data []byte) *sliceReader { return &sliceReader{data: data} }

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// WriteCentralDirectory emits the CDFH sequence followed by the EOCD (and,
// when needed, the ZIP64 EOCD plus locator) to w, which must already be
// positioned at cdOffset (the absolute byte offset of the start of the
// central directory within the archive, i.e. the total size of everything
// written before it). opts is passed through to each entry's
// prepareForWrite, and its WriteZip64Support flag forces the ZIP64 trailer
// even when every field would fit in 32 bits. Returns the total byte count
// written. Grounded on zipserve/writer.go:writeCentralDirectory.
func WriteCentralDirectory(w io.Writer, es *EntrySet, cd *CentralDirectory, opts Options, cdOffset int64) (int64, error) {
	cw := &countWriter{w: w}

	entries := es.Entries()
	for _, e := range entries {
		level := e.CompressionLevel
		if level == -1 {
			level = opts.CompressionLevel
		}
		if err := e.writeCentralDirectoryHeader(cw, level, opts); err != nil {
			return 0, err
		}
	}
	cdSize := cw.count

	needZip64 := opts.WriteZip64Support || len(entries) > uint16max || cdSize >= uint32max || cdOffset >= uint32max

	if needZip64 {
		if err := writeZip64EOCD(cw, len(entries), cdSize, cdOffset); err != nil {
			return 0, err
		}
		if err := writeZip64Locator(cw, cdOffset+cdSize); err != nil {
			return 0, err
		}
	}

	if err := writeEOCD(cw, len(entries), cdSize, cdOffset, cd.Comment, needZip64); err != nil {
		return 0, err
	}

	return cw.count, nil
}

func writeZip64EOCD(w io.Writer, numEntries int, cdSize, cdOffset int64) error {
	buf := make([]byte, directory64EndLen)
	b := writeBuf(buf)
	b.uint32(directory64EndSignature)
	b.uint64(uint64(directory64EndLen - 12))
	b.uint16(versionNeededZip64)
	b.uint16(versionNeededZip64)
	b.uint32(0) // disk number
	b.uint32(0) // disk with central directory start
	b.uint64(uint64(numEntries))
	b.uint64(uint64(numEntries))
	b.uint64(uint64(cdSize))
	b.uint64(uint64(cdOffset))
	_, err := w.Write(buf)
	if err != nil {
		return newErr(IO, "writeZip64EOCD", "", err)
	}
	return nil
}

func writeZip64Locator(w io.Writer, zip64EOCDOffset int64) error {
	buf := make([]byte, directory64LocLen)
	b := writeBuf(buf)
	b.uint32(directory64LocSignature)
	b.uint32(0) // disk with zip64 EOCD
	b.uint64(uint64(zip64EOCDOffset))
	b.uint32(1) // total number of disks
	_, err := w.Write(buf)
	if err != nil {
		return newErr(IO, "writeZip64Locator", "", err)
	}
	return nil
}

func writeEOCD(w io.Writer, numEntries int, cdSize, cdOffset int64, comment string, zip64 bool) error {
	commentBytes := []byte(comment)
	if len(commentBytes) > uint16max {
		return newErrf(Argument, "writeEOCD", "", "archive comment too long")
	}

	entries16 := uint16(numEntries)
	cdSize32 := uint32(cdSize)
	cdOffset32 := uint32(cdOffset)
	if zip64 || numEntries > uint16max {
		entries16 = uint16max
	}
	if zip64 || cdSize >= uint32max {
		cdSize32 = uint32max
	}
	if zip64 || cdOffset >= uint32max {
		cdOffset32 = uint32max
	}

	buf := make([]byte, directoryEndLen)
	b := writeBuf(buf)
	b.uint32(directoryEndSignature)
	b.uint16(0) // disk number
	b.uint16(0) // disk with central directory start
	b.uint16(entries16)
	b.uint16(entries16)
	b.uint32(cdSize32)
	b.uint32(cdOffset32)
	b.uint16(uint16(len(commentBytes)))
	if _, err := w.Write(buf); err != nil {
		return newErr(IO, "writeEOCD", "", err)
	}
	if _, err := w.Write(commentBytes); err != nil {
		return newErr(IO, "writeEOCD", "", err)
	}
	return nil
}
