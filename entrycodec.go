package zipkit

import (
	"encoding/binary"
	"hash/crc32"
	"io"
)

// readLocalHeader parses an LFH from the current position of r (spec
// §4.5). It updates compression_method, gp_flags, crc, sizes, time, name,
// and extra. ZIP64 extra values are applied when the 32-bit size slots are
// 0xFFFFFFFF.
func (e *Entry) readLocalHeader(r io.Reader) error {
	var hdr [fileHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return newErr(MalformedArchive, "Entry.readLocalHeader", e.Name, err)
	}
	b := readBuf(hdr[:])
	sig := b.uint32()
	if sig != fileHeaderSignature {
		return newErrf(MalformedArchive, "Entry.readLocalHeader", e.Name, "bad local file header signature 0x%08x", sig)
	}
	e.VersionNeededToExtract = b.uint16()
	e.GPFlags = b.uint16()
	e.CompressionMethod = b.uint16()
	timePart := b.uint16()
	datePart := b.uint16()
	e.Modified = DOSTimeFromParts(datePart, timePart)
	e.CRC32 = b.uint32()
	compressedSize := uint64(b.uint32())
	size := uint64(b.uint32())
	nameLen := int(b.uint16())
	extraLen := int(b.uint16())

	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return newErr(MalformedArchive, "Entry.readLocalHeader", e.Name, err)
	}
	e.Name = decodeName(nameBuf, e.GPFlags)

	extraBuf := make([]byte, extraLen)
	if _, err := io.ReadFull(r, extraBuf); err != nil {
		return newErr(MalformedArchive, "Entry.readLocalHeader", e.Name, err)
	}
	extra, err := ParseExtraField(extraBuf)
	if err != nil {
		return err
	}
	e.Extra = extra

	e.CompressedSize = compressedSize
	e.Size = size
	if err := e.applyZip64Extra(false); err != nil {
		return err
	}
	e.applyTimestampExtras(true)
	e.applyUnixExtras()
	e.applyUnicodePathExtra()
	return nil
}

// readCentralDirectoryHeader parses a CDFH from the current position of r
// (spec §4.5).
func (e *Entry) readCentralDirectoryHeader(r io.Reader) error {
	var hdr [directoryHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return newErr(MalformedArchive, "Entry.readCentralDirectoryHeader", e.Name, err)
	}
	b := readBuf(hdr[:])
	sig := b.uint32()
	if sig != directoryHeaderSignature {
		return newErrf(MalformedArchive, "Entry.readCentralDirectoryHeader", e.Name, "bad central directory header signature 0x%08x", sig)
	}
	e.VersionMadeBy = b.uint16()
	e.VersionNeededToExtract = b.uint16()
	e.GPFlags = b.uint16()
	e.CompressionMethod = b.uint16()
	timePart := b.uint16()
	datePart := b.uint16()
	e.Modified = DOSTimeFromParts(datePart, timePart)
	e.CRC32 = b.uint32()
	compressedSize := uint64(b.uint32())
	size := uint64(b.uint32())
	nameLen := int(b.uint16())
	extraLen := int(b.uint16())
	commentLen := int(b.uint16())
	_ = b.uint16() // disk number start
	_ = b.uint16() // internal file attributes
	e.ExternalFileAttributes = b.uint32()
	localHeaderOffset := uint64(b.uint32())

	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return newErr(MalformedArchive, "Entry.readCentralDirectoryHeader", e.Name, err)
	}
	e.Name = decodeName(nameBuf, e.GPFlags)

	extraBuf := make([]byte, extraLen)
	if _, err := io.ReadFull(r, extraBuf); err != nil {
		return newErr(MalformedArchive, "Entry.readCentralDirectoryHeader", e.Name, err)
	}
	extra, err := ParseExtraField(extraBuf)
	if err != nil {
		return err
	}
	e.Extra = extra

	commentBuf := make([]byte, commentLen)
	if _, err := io.ReadFull(r, commentBuf); err != nil {
		return newErr(MalformedArchive, "Entry.readCentralDirectoryHeader", e.Name, err)
	}
	e.Comment = decodeName(commentBuf, e.GPFlags)

	e.CompressedSize = compressedSize
	e.Size = size
	e.LocalHeaderOffset = localHeaderOffset
	if err := e.applyZip64Extra(true); err != nil {
		return err
	}
	e.applyTimestampExtras(false)
	e.applyUnixExtras()
	e.applyUnicodePathExtra()
	return nil
}

func decodeName(raw []byte, gpFlags uint16) string {
	// CP437 vs UTF-8 is otherwise ambiguous; if the UTF-8 bit is set, or
	// the bytes already happen to be valid UTF-8, take them as-is. zipkit
	// does not implement a CP437 decode table (spec Non-goals do not
	// require byte-identical fidelity with CP437-only archives).
	return string(raw)
}

// applyZip64Extra substitutes the 64-bit values from the ZIP64 extra field
// (id 0x0001) for any 32-bit field that reads as the overflow sentinel
// 0xFFFFFFFF. inCentralDirectory additionally allows the local header
// offset slot, which only appears in CDFH records.
func (e *Entry) applyZip64Extra(inCentralDirectory bool) error {
	if e.Extra == nil {
		return nil
	}
	payload, ok := e.Extra.Get(extraIDZip64)
	if !ok {
		return nil
	}
	needSize := e.Size == uint32max
	needCompressedSize := e.CompressedSize == uint32max
	needOffset := inCentralDirectory && e.LocalHeaderOffset == uint32max
	if !needSize && !needCompressedSize && !needOffset {
		return nil
	}
	z, err := decodeZip64(payload, needSize, needCompressedSize, needOffset)
	if err != nil {
		return err
	}
	if z.haveSize {
		e.Size = z.size
	}
	if z.haveCompressedSize {
		e.CompressedSize = z.compressedSize
	}
	if z.haveOffset {
		e.LocalHeaderOffset = z.offset
	}
	return nil
}

// applyTimestampExtras decodes the mtime carried by the Info-ZIP legacy
// Unix (0x5855), NTFS (0x000a), and extended-timestamp (0x5455) fields, in
// that order; each one present overrides the plain DOS time and any field
// applied before it, so the extended timestamp wins over NTFS, which wins
// over legacy Unix.
func (e *Entry) applyTimestampExtras(inLocalHeader bool) {
	if e.Extra == nil {
		return
	}
	if payload, ok := e.Extra.Get(extraIDInfoZipUnix); ok {
		if mtime, _, _, haveTime, _ := decodeLegacyUnix(payload); haveTime {
			e.Modified = NewDOSTime(mtime)
		}
	}
	if payload, ok := e.Extra.Get(extraIDNTFS); ok {
		if mtime, _, _, ok := decodeNTFS(payload); ok {
			e.Modified = NewDOSTime(mtime)
		}
	}
	if payload, ok := e.Extra.Get(extraIDExtTimestamp); ok {
		t := decodeExtTimestamp(payload, inLocalHeader)
		if t.haveMtime {
			e.Modified = NewDOSTime(t.mtime)
		}
	}
}

func (e *Entry) applyUnixExtras() {
	if e.Extra == nil {
		return
	}
	if payload, ok := e.Extra.Get(extraIDInfoZipUnixN); ok {
		f := decodeInfoZipUnixN(payload)
		if f.valid {
			uid, gid := uint32(f.uid), uint32(f.gid)
			e.UnixUID, e.UnixGID = &uid, &gid
		}
	} else if payload, ok := e.Extra.Get(extraIDInfoZipUnix); ok {
		if _, uid, gid, _, haveIDs := decodeLegacyUnix(payload); haveIDs {
			u, g := uint32(uid), uint32(gid)
			e.UnixUID, e.UnixGID = &u, &g
		}
	}
}

// applyUnicodePathExtra substitutes the UTF-8 name carried in the 0x7075
// Info-ZIP Unicode Path extra for the primary name field, but only when the
// extra's CRC-32 still matches the primary name bytes: a stale extra left
// over from before a rename must not resurrect the old name.
func (e *Entry) applyUnicodePathExtra() {
	if e.Extra == nil {
		return
	}
	payload, ok := e.Extra.Get(extraIDUnicodePath)
	if !ok || len(payload) < 5 || payload[0] != 1 {
		return
	}
	if binary.LittleEndian.Uint32(payload[1:5]) != crc32.ChecksumIEEE([]byte(e.Name)) {
		return
	}
	e.Name = string(payload[5:])
}

// prepareForWrite computes the general-purpose flags, version-needed, and
// extra fields that depend on the entry's final state, shared by both
// writeLocalHeader and writeCentralDirectoryHeader.
func (e *Entry) prepareForWrite(level int, opts Options) *ExtraField {
	if e.Directory() {
		e.markDirectory()
	} else {
		e.GPFlags &^= gpFlagCompressionMask
		if e.CompressionMethod == Deflate {
			e.GPFlags |= deflateLevelFlags(level)
		}
	}

	valid1, require1 := detectUTF8(e.Name)
	valid2, require2 := detectUTF8(e.Comment)
	switch {
	case e.NonUTF8:
		e.GPFlags &^= gpFlagUTF8
	case (require1 || require2) && valid1 && valid2:
		e.GPFlags |= gpFlagUTF8
	}

	extra := e.Extra
	if extra == nil {
		extra = NewExtraField()
	}
	extra = extra.Clone()

	if opts.WriteExtendedTimestamps {
		mt := e.Modified.Time()
		extra.Set(extraIDExtTimestamp, encodeExtTimestamp(extTimestampFields{mtime: mt, haveMtime: true}, true))
	} else {
		extra.Delete(extraIDExtTimestamp)
	}

	if opts.UnicodeNames && !e.NonUTF8 && valid1 && require1 {
		extra.Set(extraIDUnicodePath, encodeUnicodePath(e.Name))
	} else {
		extra.Delete(extraIDUnicodePath)
	}

	if e.UnixUID != nil && e.UnixGID != nil {
		extra.Set(extraIDInfoZipUnixN, encodeInfoZipUnixN(unixIDFields{uid: uint16(*e.UnixUID), gid: uint16(*e.UnixGID), valid: true}))
	}

	if e.isZip64() {
		e.VersionNeededToExtract = versionNeededZip64
	} else {
		e.VersionNeededToExtract = versionNeededDefault
	}

	return extra
}

// writeLocalHeader emits an LFH to w (spec §4.5). When gp_flags bit 3 is
// set, sizes and CRC are written as zero; the real values follow in a Data
// Descriptor once the entry's content has been streamed.
func (e *Entry) writeLocalHeader(w io.Writer, level int, opts Options) error {
	extra := e.prepareForWrite(level, opts)

	writeSizes := !e.Incomplete()
	var zip64 []byte
	if writeSizes && e.isZip64() {
		zip64 = encodeZip64(zip64Fields{
			size: e.Size, haveSize: true,
			compressedSize: e.CompressedSize, haveCompressedSize: true,
		})
		extra.Set(extraIDZip64, zip64)
	}

	nameBytes := []byte(e.Name)
	extraBytes := extra.Encode()
	if len(nameBytes) > uint16max {
		return newErrf(Argument, "Entry.writeLocalHeader", e.Name, "name too long")
	}
	if len(extraBytes) > uint16max {
		return newErrf(Argument, "Entry.writeLocalHeader", e.Name, "extra field too long")
	}

	var hdr [fileHeaderLen]byte
	b := writeBuf(hdr[:])
	b.uint32(fileHeaderSignature)
	b.uint16(e.VersionNeededToExtract)
	b.uint16(e.GPFlags)
	b.uint16(e.CompressionMethod)
	b.uint16(e.Modified.TimePart())
	b.uint16(e.Modified.DatePart())
	if writeSizes {
		b.uint32(e.CRC32)
		if e.isZip64() {
			b.uint32(uint32max)
			b.uint32(uint32max)
		} else {
			b.uint32(uint32(e.CompressedSize))
			b.uint32(uint32(e.Size))
		}
	} else {
		b.uint32(0)
		b.uint32(0)
		b.uint32(0)
	}
	b.uint16(uint16(len(nameBytes)))
	b.uint16(uint16(len(extraBytes)))

	if _, err := w.Write(hdr[:]); err != nil {
		return newErr(IO, "Entry.writeLocalHeader", e.Name, err)
	}
	if _, err := w.Write(nameBytes); err != nil {
		return newErr(IO, "Entry.writeLocalHeader", e.Name, err)
	}
	if _, err := w.Write(extraBytes); err != nil {
		return newErr(IO, "Entry.writeLocalHeader", e.Name, err)
	}
	return nil
}

// writeCentralDirectoryHeader emits a CDFH to w (spec §4.5), inserting a
// ZIP64 extra whenever any field overflows 32 bits.
func (e *Entry) writeCentralDirectoryHeader(w io.Writer, level int, opts Options) error {
	extra := e.prepareForWrite(level, opts)

	var z64 zip64Fields
	needZip64 := e.isZip64()
	if needZip64 {
		if e.Size >= uint32max {
			z64.size, z64.haveSize = e.Size, true
		}
		if e.CompressedSize >= uint32max {
			z64.compressedSize, z64.haveCompressedSize = e.CompressedSize, true
		}
		if e.LocalHeaderOffset >= uint32max {
			z64.offset, z64.haveOffset = e.LocalHeaderOffset, true
		}
		extra.Set(extraIDZip64, encodeZip64(z64))
		e.VersionNeededToExtract = versionNeededZip64
		e.VersionMadeBy = e.VersionMadeBy&0xff00 | versionNeededZip64
	}

	nameBytes := []byte(e.Name)
	extraBytes := extra.Encode()
	commentBytes := []byte(e.Comment)
	if len(nameBytes) > uint16max || len(extraBytes) > uint16max || len(commentBytes) > uint16max {
		return newErrf(Argument, "Entry.writeCentralDirectoryHeader", e.Name, "field too long")
	}

	var hdr [directoryHeaderLen]byte
	b := writeBuf(hdr[:])
	b.uint32(directoryHeaderSignature)
	b.uint16(e.VersionMadeBy)
	b.uint16(e.VersionNeededToExtract)
	b.uint16(e.GPFlags)
	b.uint16(e.CompressionMethod)
	b.uint16(e.Modified.TimePart())
	b.uint16(e.Modified.DatePart())
	b.uint32(e.CRC32)
	if z64.haveCompressedSize {
		b.uint32(uint32max)
	} else {
		b.uint32(uint32(e.CompressedSize))
	}
	if z64.haveSize {
		b.uint32(uint32max)
	} else {
		b.uint32(uint32(e.Size))
	}
	b.uint16(uint16(len(nameBytes)))
	b.uint16(uint16(len(extraBytes)))
	b.uint16(uint16(len(commentBytes)))
	b.uint16(0) // disk number start
	b.uint16(0) // internal file attributes
	b.uint32(e.ExternalFileAttributes)
	if z64.haveOffset {
		b.uint32(uint32max)
	} else {
		b.uint32(uint32(e.LocalHeaderOffset))
	}

	if _, err := w.Write(hdr[:]); err != nil {
		return newErr(IO, "Entry.writeCentralDirectoryHeader", e.Name, err)
	}
	if _, err := w.Write(nameBytes); err != nil {
		return newErr(IO, "Entry.writeCentralDirectoryHeader", e.Name, err)
	}
	if _, err := w.Write(extraBytes); err != nil {
		return newErr(IO, "Entry.writeCentralDirectoryHeader", e.Name, err)
	}
	if _, err := w.Write(commentBytes); err != nil {
		return newErr(IO, "Entry.writeCentralDirectoryHeader", e.Name, err)
	}
	return nil
}

// writeDataDescriptor emits the optional trailing record carrying CRC and
// sizes when gp_flags bit 3 is set (spec §4.5/§6).
func (e *Entry) writeDataDescriptor(w io.Writer) error {
	zip64 := e.isZip64()
	size := 16
	if zip64 {
		size = 24
	}
	buf := make([]byte, size)
	b := writeBuf(buf)
	b.uint32(dataDescriptorSignature)
	b.uint32(e.CRC32)
	if zip64 {
		b.uint64(e.CompressedSize)
		b.uint64(e.Size)
	} else {
		b.uint32(uint32(e.CompressedSize))
		b.uint32(uint32(e.Size))
	}
	_, err := w.Write(buf)
	if err != nil {
		return newErr(IO, "Entry.writeDataDescriptor", e.Name, err)
	}
	return nil
}

// readDataDescriptor reads the trailing record following an Incomplete
// entry's payload. The leading signature is optional in the format but
// near-universal in practice; both forms are accepted (spec §6).
func (e *Entry) readDataDescriptor(r io.Reader) error {
	zip64 := e.isZip64()
	need := 12
	if zip64 {
		need = 20
	}

	var first [4]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return newErr(MalformedArchive, "Entry.readDataDescriptor", e.Name, err)
	}

	buf := make([]byte, need)
	if binary.LittleEndian.Uint32(first[:]) == dataDescriptorSignature {
		if _, err := io.ReadFull(r, buf); err != nil {
			return newErr(MalformedArchive, "Entry.readDataDescriptor", e.Name, err)
		}
	} else {
		copy(buf, first[:])
		if _, err := io.ReadFull(r, buf[4:]); err != nil {
			return newErr(MalformedArchive, "Entry.readDataDescriptor", e.Name, err)
		}
	}

	b := readBuf(buf)
	e.CRC32 = b.uint32()
	if zip64 {
		e.CompressedSize = b.uint64()
		e.Size = b.uint64()
	} else {
		e.CompressedSize = uint64(b.uint32())
		e.Size = uint64(b.uint32())
	}
	return nil
}

// dataOffset reads the LFH at LocalHeaderOffset to find where the entry's
// (possibly compressed) content begins. The local copy of name/extra can
// differ in length from the central directory copy, so this can't be
// inferred from the CDFH alone.
func (e *Entry) dataOffset(archive io.ReaderAt) (int64, error) {
	var hdr [fileHeaderLen]byte
	if _, err := archive.ReadAt(hdr[:], int64(e.LocalHeaderOffset)); err != nil {
		return 0, newErr(MalformedArchive, "Entry.dataOffset", e.Name, err)
	}
	b := readBuf(hdr[:])
	if sig := b.uint32(); sig != fileHeaderSignature {
		return 0, newErrf(MalformedArchive, "Entry.dataOffset", e.Name, "bad local file header signature 0x%08x", sig)
	}
	b.sub(2 + 2 + 2 + 2 + 2 + 4 + 4 + 4) // version, gp flags, method, time, date, crc, compressed size, size
	nameLen := int(b.uint16())
	extraLen := int(b.uint16())
	return int64(e.LocalHeaderOffset) + fileHeaderLen + int64(nameLen) + int64(extraLen), nil
}

// OpenInput returns a reader over the entry's decompressed content, sourced
// directly from archive at the entry's recorded local header offset (spec
// §4.9, get_next_entry/get_input_stream). archive must be the same
// underlying file this Entry was parsed from. The returned reader always
// verifies the running CRC-32 against the entry's declared value once
// fully drained, returning a DecompressionError on mismatch instead of
// silently yielding corrupt bytes; when opts.ValidateEntrySizes is set, the
// declared uncompressed size is checked the same way.
func (e *Entry) OpenInput(archive io.ReaderAt, opts Options) (io.ReadCloser, error) {
	if e.Encrypted() {
		return nil, newErrf(Unsupported, "Entry.OpenInput", e.Name, "encrypted entries are not supported")
	}
	offset, err := e.dataOffset(archive)
	if err != nil {
		return nil, err
	}
	section := io.NewSectionReader(archive, offset, int64(e.CompressedSize))
	inf, err := NewInflater(section, e.CompressionMethod)
	if err != nil {
		return nil, err
	}
	return &validatingInflater{inf: inf, e: e, checkSize: opts.ValidateEntrySizes}, nil
}

// WriteToOutputStream writes this entry's full local record (header,
// content, and finalization) onto out (spec §4.8's
// write_to_zip_output_stream). If the entry carries a raw source (parsed
// from an existing archive, and not itself a dirty rewrite target), its
// compressed bytes are spliced in verbatim via CopyRawEntry without
// decompressing or recompressing; otherwise PutNextEntry/Write/Finalize
// drive a fresh follower-sourced compression pass. Callers must not
// separately call PutNextEntry/FinalizeCurrentEntry around this — it owns
// the entry's entire lifecycle on out.
func (e *Entry) WriteToOutputStream(out *OutputStream) error {
	if e.raw != nil {
		off, err := e.dataOffset(e.raw.archive)
		if err != nil {
			return err
		}
		section := io.NewSectionReader(e.raw.archive, off, int64(e.raw.compressedSize))
		return out.CopyRawEntry(e, section)
	}

	if err := out.PutNextEntry(e); err != nil {
		return err
	}
	if e.Directory() {
		return nil // PutNextEntry already finalized directory entries
	}
	if e.follower == nil {
		return newErrf(Argument, "Entry.WriteToOutputStream", e.Name, "entry has no content source")
	}
	rc, err := e.follower.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	if _, err := io.Copy(out, rc); err != nil {
		return err
	}
	return out.FinalizeCurrentEntry()
}
