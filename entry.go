package zipkit

import (
	"bytes"
	"io"
	"os"
	"path"
	"strings"
	"time"
	"unicode/utf8"
)

// Compression methods recognised by this library (spec §1, out-of-scope
// note: no other method is implemented).
const (
	Store   uint16 = 0
	Deflate uint16 = 8
)

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	dataDescriptorSignature  = 0x08074b50
	directoryEndSignature    = 0x06054b50
	directory64EndSignature  = 0x06064b50
	directory64LocSignature  = 0x07064b50 // see DESIGN.md Corrigenda

	fileHeaderLen      = 30
	directoryHeaderLen = 46
	directoryEndLen    = 22
	directory64EndLen  = 56
	directory64LocLen  = 20

	versionNeededDefault = 20 // 2.0
	versionNeededZip64   = 45 // 4.5

	uint16max = 1<<16 - 1
	uint32max = 1<<32 - 1

	// gp_flags bits (spec §3).
	gpFlagEncrypted       = 1 << 0
	gpFlagDataDescriptor  = 1 << 3
	gpFlagCompressionMask = 0x6 // bits 1-2
	gpFlagUTF8            = 1 << 11

	// Creator-version high byte values, used to interpret ExternalAttrs.
	creatorUnix = 3
	creatorFAT  = 0
	creatorNTFS = 11
	creatorVFAT = 14
)

// Follower produces the uncompressed content of a dirty Entry so that
// OutputStream can compress it on commit. See spec §3's "follower pointer
// to a content source".
type Follower interface {
	Open() (io.ReadCloser, error)
}

// FileFollower reads an entry's content from a filesystem path.
type FileFollower struct{ Path string }

func (f FileFollower) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, newErr(IO, "FileFollower.Open", f.Path, err)
	}
	return file, nil
}

// BufferFollower reads an entry's content from an in-memory byte slice.
type BufferFollower struct{ Data []byte }

func (f BufferFollower) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.Data)), nil
}

// rawSource locates an entry's already-compressed bytes in a source
// archive, so OutputStream.CopyRawEntry can splice them in unchanged
// without decompressing (spec §4.8).
type rawSource struct {
	archive           io.ReaderAt
	localHeaderOffset uint64
	compressedSize    uint64
}

// Entry is one archive member: metadata, codec flags, and a handle to its
// content. See spec §3 for the full invariant list.
type Entry struct {
	Name    string
	Comment string
	Extra   *ExtraField

	CompressionMethod uint16
	CompressionLevel  int // -1 (default) or 0..9
	GPFlags           uint16

	CRC32          uint32
	CompressedSize uint64
	Size           uint64

	Modified DOSTime

	// UnixPerms/UnixUID/UnixGID are optional and round-tripped via extra
	// fields; nil means "not set".
	UnixPerms *os.FileMode
	UnixUID   *uint32
	UnixGID   *uint32

	ExternalFileAttributes uint32
	VersionNeededToExtract uint16
	VersionMadeBy          uint16

	// LocalHeaderOffset is valid only for entries parsed from an existing
	// archive.
	LocalHeaderOffset uint64

	// NonUTF8 forces the UTF-8 general-purpose bit to stay clear even if
	// Name/Comment would otherwise qualify (spec §9 Open Question).
	NonUTF8 bool

	dirty    bool
	follower Follower
	raw      *rawSource
}

// NewEntry constructs an Entry for name, validating the leading-slash
// invariant (spec §3, invariant 1 in §8).
func NewEntry(name string) (*Entry, error) {
	if strings.HasPrefix(name, "/") {
		return nil, newErrf(EntryName, "NewEntry", name, "entry name must not start with /")
	}
	return &Entry{
		Name:                   name,
		Extra:                  NewExtraField(),
		CompressionMethod:      Store,
		CompressionLevel:       -1,
		VersionNeededToExtract: versionNeededDefault,
		VersionMadeBy:          creatorUnix<<8 | versionNeededDefault,
		Modified:               NewDOSTime(time.Now()),
		dirty:                  true,
	}, nil
}

// Directory reports whether the entry represents a directory (a trailing
// "/" in its name).
func (e *Entry) Directory() bool { return strings.HasSuffix(e.Name, "/") }

// File reports whether the entry represents a regular file. Directory and
// File are mutually exclusive and exhaustive (spec §8 invariant 2).
func (e *Entry) File() bool { return !e.Directory() }

// ParentAsString returns the greatest prefix of Name ending in "/" that
// precedes the final path component, or "" if Name has no parent (spec §8
// invariant 3).
func (e *Entry) ParentAsString() (string, bool) {
	name := e.Name
	if e.Directory() {
		name = strings.TrimSuffix(name, "/")
	}
	idx := strings.LastIndexByte(name, '/')
	if idx < 0 {
		return "", false
	}
	return name[:idx+1], true
}

// Encrypted reports whether gp_flags bit 0 is set.
func (e *Entry) Encrypted() bool { return e.GPFlags&gpFlagEncrypted != 0 }

// Incomplete reports whether gp_flags bit 3 (data descriptor follows) is
// set.
func (e *Entry) Incomplete() bool { return e.GPFlags&gpFlagDataDescriptor != 0 }

// isZip64 reports whether any field requires the ZIP64 extra (spec §3).
func (e *Entry) isZip64() bool {
	return e.Size >= uint32max || e.CompressedSize >= uint32max || e.LocalHeaderOffset >= uint32max
}

// markDirectory enforces the directory invariants from spec §3: Store
// method, zero sizes and CRC, cleared compression bits.
func (e *Entry) markDirectory() {
	e.CompressionMethod = Store
	e.CompressedSize = 0
	e.Size = 0
	e.CRC32 = 0
	e.GPFlags &^= gpFlagCompressionMask
	e.GPFlags &^= gpFlagDataDescriptor
}

// SetMode records a Unix permission/type bitmap into ExternalFileAttributes
// and UnixPerms, mirroring zipserve's FileHeader.SetMode.
func (e *Entry) SetMode(mode os.FileMode) {
	e.VersionMadeBy = e.VersionMadeBy&0xff | creatorUnix<<8
	e.ExternalFileAttributes = fileModeToUnixMode(mode) << 16
	perms := mode & os.ModePerm
	e.UnixPerms = &perms
	if mode.IsDir() {
		e.ExternalFileAttributes |= 0x10
	}
	if mode&0200 == 0 {
		e.ExternalFileAttributes |= 0x01
	}
}

// Mode decodes the permission/type bits for the entry, the inverse of
// SetMode.
func (e *Entry) Mode() os.FileMode {
	var mode os.FileMode
	switch e.VersionMadeBy >> 8 {
	case creatorUnix:
		mode = unixModeToFileMode(e.ExternalFileAttributes >> 16)
	case creatorFAT, creatorNTFS, creatorVFAT:
		if e.ExternalFileAttributes&0x10 != 0 {
			mode = os.ModeDir | 0777
		} else {
			mode = 0666
		}
		if e.ExternalFileAttributes&0x01 != 0 {
			mode &^= 0222
		}
	}
	if e.Directory() {
		mode |= os.ModeDir
	}
	return mode
}

// GatherFileInfoFromSourcePath stats the filesystem path, populates
// size/time/permissions, and marks the entry dirty with a FileFollower
// (spec §4.5).
func (e *Entry) GatherFileInfoFromSourcePath(srcPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return newErr(IO, "Entry.GatherFileInfoFromSourcePath", srcPath, err)
	}
	if info.IsDir() {
		if !e.Directory() {
			e.Name += "/"
		}
		e.markDirectory()
	} else {
		e.Size = uint64(info.Size())
		e.CompressionMethod = Deflate
	}
	e.Modified = NewDOSTime(info.ModTime())
	e.SetMode(info.Mode())
	e.dirty = true
	if !info.IsDir() {
		e.follower = FileFollower{Path: srcPath}
	}
	return nil
}

// SetContent marks the entry dirty with in-memory content.
func (e *Entry) SetContent(data []byte, method uint16) error {
	if e.Directory() {
		return newErrf(Argument, "Entry.SetContent", e.Name, "cannot set content on a directory entry")
	}
	e.CompressionMethod = method
	e.Size = uint64(len(data))
	e.dirty = true
	e.follower = BufferFollower{Data: data}
	e.raw = nil // new content invalidates any previously recorded raw source
	return nil
}

// Less orders entries lexicographically by name (spec §4.5, §8 invariant 5).
func (e *Entry) Less(o *Entry) bool { return e.Name < o.Name }

// equalKey returns the part of the tuple EntrySet equality compares
// (spec §3) other than the name: (extra, compressed_size, crc, method,
// size). Equal compares the name separately; comment and timestamps are
// deliberately excluded.
func (e *Entry) equalKey() [5]any {
	var extraBytes string
	if e.Extra != nil {
		extraBytes = string(e.Extra.Encode())
	}
	return [5]any{extraBytes, e.CompressedSize, e.CRC32, e.CompressionMethod, e.Size}
}

// Equal implements the contents-equality rule from spec §3: name plus the
// equalKey tuple, excluding comment and modification time.
func (e *Entry) Equal(o *Entry) bool {
	return e.Name == o.Name && e.equalKey() == o.equalKey()
}

func fileModeToUnixMode(mode os.FileMode) uint32 {
	const (
		sIFREG  = 0x8000
		sIFDIR  = 0x4000
		sIFLNK  = 0xa000
		sIFIFO  = 0x1000
		sIFSOCK = 0xc000
		sIFBLK  = 0x6000
		sIFCHR  = 0x2000
		sISUID  = 0x800
		sISGID  = 0x400
		sISVTX  = 0x200
	)
	var m uint32
	switch mode & os.ModeType {
	default:
		m = sIFREG
	case os.ModeDir:
		m = sIFDIR
	case os.ModeSymlink:
		m = sIFLNK
	case os.ModeNamedPipe:
		m = sIFIFO
	case os.ModeSocket:
		m = sIFSOCK
	case os.ModeDevice:
		if mode&os.ModeCharDevice != 0 {
			m = sIFCHR
		} else {
			m = sIFBLK
		}
	}
	if mode&os.ModeSetuid != 0 {
		m |= sISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= sISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= sISVTX
	}
	return m | uint32(mode&0777)
}

func unixModeToFileMode(m uint32) os.FileMode {
	const (
		sIFMT   = 0xf000
		sIFSOCK = 0xc000
		sIFLNK  = 0xa000
		sIFREG  = 0x8000
		sIFBLK  = 0x6000
		sIFDIR  = 0x4000
		sIFCHR  = 0x2000
		sIFIFO  = 0x1000
		sISUID  = 0x800
		sISGID  = 0x400
		sISVTX  = 0x200
	)
	mode := os.FileMode(m & 0777)
	switch m & sIFMT {
	case sIFBLK:
		mode |= os.ModeDevice
	case sIFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case sIFDIR:
		mode |= os.ModeDir
	case sIFIFO:
		mode |= os.ModeNamedPipe
	case sIFLNK:
		mode |= os.ModeSymlink
	case sIFREG:
	case sIFSOCK:
		mode |= os.ModeSocket
	}
	if m&sISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m&sISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m&sISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// detectUTF8 reports whether s is valid UTF-8, and whether it must be
// treated as UTF-8 (i.e. is not plausibly CP-437/ASCII). Grounded on
// zipserve/writer.go:detectUTF8.
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}

// parentDirOf reports the base-name-stripped directory name.
func parentDirOf(name string) string {
	return path.Dir(strings.TrimSuffix(name, "/"))
}
