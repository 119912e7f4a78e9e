package zipkit

// OnExistsFunc is consulted when an Add/Rename would overwrite an existing
// entry. Returning true replaces the existing entry; returning false fails
// the call with an EntryExists error.
type OnExistsFunc func(existing, incoming *Entry) bool

// Options is an explicit, immutable-once-constructed record of the knobs
// the rubyzip original exposed through a process-wide mutable "setup"
// object (Design Notes §9). A zero Options is usable: every field below
// documents its effective default.
type Options struct {
	// RestoreOwnership restores the extra-field Unix uid/gid on Extract.
	// Default false.
	RestoreOwnership bool

	// RestorePermissions restores Unix permission bits on Extract.
	// Default true when Options is constructed with DefaultOptions().
	RestorePermissions bool

	// RestoreTimes restores the entry's modification time on Extract.
	// Default true when Options is constructed with DefaultOptions().
	RestoreTimes bool

	// CompressionLevel is passed to the Deflater when an entry does not
	// specify its own level. -1 selects the flate package's default.
	CompressionLevel int

	// WriteZip64Support forces ZIP64 records to be emitted even when
	// every field would fit in 32 bits. Overflow always forces ZIP64
	// regardless of this flag (spec §4.7).
	WriteZip64Support bool

	// WriteExtendedTimestamps, when true, additionally emits the 0x5455
	// Extended Timestamp extra field on write, alongside the DOS time
	// that's always present. Default false: some consumers (archive
	// readers that splice raw bytes looking for a fixed byte-adjacency
	// between an entry's name and its content, e.g. EPUB's mimetype
	// convention) require the extra field be absent.
	WriteExtendedTimestamps bool

	// UnicodeNames, when true, additionally emits the 0x7075 Info-ZIP
	// Unicode Path extra field for names requiring it. The UTF-8
	// general-purpose bit is always set for non-CP437-safe valid UTF-8
	// names regardless of this flag (spec Open Question, §9).
	UnicodeNames bool

	// ValidateEntrySizes causes the readers returned by Entry.OpenInput (and
	// so Archive.GetInputStream) to verify the declared uncompressed size
	// against the number of bytes actually produced by the Inflater, in
	// addition to the CRC-32 check. InputStream checks CRC-32 only and does
	// not read this flag.
	ValidateEntrySizes bool

	// OnExists is consulted by Archive.Add/Rename when the destination
	// name is already occupied. A nil OnExists always refuses (fails
	// with EntryExists).
	OnExists OnExistsFunc
}

// DefaultOptions returns the library's recommended defaults. It is not a
// shared mutable singleton: each call returns a fresh value, so callers
// may freely customize the result without affecting other Archives.
func DefaultOptions() Options {
	return Options{
		RestorePermissions: true,
		RestoreTimes:       true,
		CompressionLevel:   -1,
	}
}
