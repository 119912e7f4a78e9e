package zipkit

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/google/renameio"
	multierror "github.com/hashicorp/go-multierror"
)

// Archive is the façade binding an EntrySet and a CentralDirectory to a
// path on disk (spec §4.10). Mutations (Add/Remove/Rename/...) only touch
// in-memory state; nothing on disk changes until Commit.
type Archive struct {
	path    string
	opts    Options
	comment string

	entries *EntrySet

	backing io.ReaderAt
	closer  io.Closer

	dirty bool
}

// Open opens or creates the archive at path, following spec §4.10's rules:
// a non-empty existing file is parsed; a missing file is only allowed when
// create is true, in which case Archive starts with an empty EntrySet; a
// zero-length existing file is always an error (not a valid ZIP, and not
// the same as "missing").
func Open(path string, create bool, opts Options) (*Archive, error) {
	f, err := os.Open(path)
	switch {
	case err == nil:
		// fall through to parse below
	case os.IsNotExist(err):
		if !create {
			return nil, newErrf(NotFound, "Open", path, "archive does not exist")
		}
		return &Archive{path: path, opts: opts, entries: NewEntrySet()}, nil
	default:
		return nil, newErr(IO, "Open", path, err)
	}

	info, statErr := f.Stat()
	if statErr != nil {
		f.Close()
		return nil, newErr(IO, "Open", path, statErr)
	}
	if info.Size() == 0 {
		f.Close()
		return nil, newErrf(MalformedArchive, "Open", path, "archive file is empty")
	}

	entries, cd, err := ReadCentralDirectory(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Archive{
		path:    path,
		opts:    opts,
		comment: cd.Comment,
		entries: entries,
		backing: f,
		closer:  f,
	}, nil
}

// OpenBuffer parses an in-memory archive image, for callers that already
// hold the bytes (e.g. received over the network) and don't want a
// round-trip through the filesystem (spec §10 supplemented feature).
func OpenBuffer(data []byte, opts Options) (*Archive, error) {
	r := bytes.NewReader(data)
	entries, cd, err := ReadCentralDirectory(r, int64(len(data)))
	if err != nil {
		return nil, err
	}
	return &Archive{
		opts:    opts,
		comment: cd.Comment,
		entries: entries,
		backing: r,
	}, nil
}

// Comment returns the archive-level comment.
func (a *Archive) Comment() string { return a.comment }

// SetComment sets the archive-level comment and marks the archive dirty.
func (a *Archive) SetComment(c string) {
	a.comment = c
	a.dirty = true
}

// Len returns the number of entries.
func (a *Archive) Len() int { return a.entries.Len() }

// Entries returns a snapshot of all entries, in central-directory order.
func (a *Archive) Entries() []*Entry { return a.entries.Entries() }

// FindEntry returns the entry named name, or nil.
func (a *Archive) FindEntry(name string) *Entry { return a.entries.FindEntry(name) }

// GetEntry returns the entry named name, or a NotFound error.
func (a *Archive) GetEntry(name string) (*Entry, error) {
	e := a.entries.FindEntry(name)
	if e == nil {
		return nil, newErrf(NotFound, "Archive.GetEntry", name, "no such entry")
	}
	return e, nil
}

// Glob returns entries matching the shell-style pattern.
func (a *Archive) Glob(pattern string) ([]*Entry, error) { return a.entries.Glob(pattern) }

// CommentOf returns e's per-entry comment.
func (a *Archive) CommentOf(e *Entry) string { return e.Comment }

// SetCommentOf sets e's per-entry comment and marks the archive dirty
// (spec §10 supplemented feature).
func (a *Archive) SetCommentOf(e *Entry, comment string) {
	e.Comment = comment
	a.dirty = true
}

func (a *Archive) resolveConflict(incoming *Entry) (*Entry, error) {
	existing := a.entries.FindEntry(incoming.Name)
	if existing == nil {
		return nil, nil
	}
	if a.opts.OnExists == nil || !a.opts.OnExists(existing, incoming) {
		return nil, newErrf(EntryExists, "Archive.Add", incoming.Name, "entry already exists")
	}
	return existing, nil
}

// Add stores an Entry built from a filesystem path, keyed as archiveName
// (spec §4.5's GatherFileInfoFromSourcePath, driven through the façade).
func (a *Archive) Add(archiveName, srcPath string) (*Entry, error) {
	e, err := NewEntry(archiveName)
	if err != nil {
		return nil, err
	}
	if err := e.GatherFileInfoFromSourcePath(srcPath); err != nil {
		return nil, err
	}
	if _, err := a.resolveConflict(e); err != nil {
		return nil, err
	}
	a.entries.Insert(e)
	a.dirty = true
	return e, nil
}

// AddStored adds an in-memory entry with the given content, compressed
// with method (Store or Deflate).
func (a *Archive) AddStored(archiveName string, data []byte, method uint16) (*Entry, error) {
	e, err := NewEntry(archiveName)
	if err != nil {
		return nil, err
	}
	if err := e.SetContent(data, method); err != nil {
		return nil, err
	}
	if _, err := a.resolveConflict(e); err != nil {
		return nil, err
	}
	a.entries.Insert(e)
	a.dirty = true
	return e, nil
}

// Mkdir adds a directory entry for name, appending a trailing "/" if
// missing.
func (a *Archive) Mkdir(name string) (*Entry, error) {
	if name == "" || name[len(name)-1] != '/' {
		name += "/"
	}
	e, err := NewEntry(name)
	if err != nil {
		return nil, err
	}
	e.markDirectory()
	if _, err := a.resolveConflict(e); err != nil {
		return nil, err
	}
	a.entries.Insert(e)
	a.dirty = true
	return e, nil
}

// Remove deletes the entry named name, if present.
func (a *Archive) Remove(name string) {
	if a.entries.Delete(name) != nil {
		a.dirty = true
	}
}

// Rename changes an entry's name. If newName is already taken by another
// entry, Options.OnExists decides: true drops that entry first, false (or
// a nil OnExists) fails with EntryExists. The renamed entry is marked
// dirty; Commit writes a fresh local header carrying the current name for
// every entry, and a renamed entry's compressed content is still spliced
// from the original file unchanged.
func (a *Archive) Rename(oldName, newName string) error {
	e := a.entries.FindEntry(oldName)
	if e == nil {
		return newErrf(NotFound, "Archive.Rename", oldName, "no such entry")
	}
	if existing := a.entries.FindEntry(newName); existing != nil && existing != e {
		if a.opts.OnExists == nil || !a.opts.OnExists(existing, e) {
			return newErrf(EntryExists, "Archive.Rename", newName, "an entry with that name already exists")
		}
		a.entries.Delete(newName)
	}
	if err := a.entries.Rename(oldName, newName); err != nil {
		return err
	}
	e.dirty = true
	a.dirty = true
	return nil
}

// Replace swaps the content of the entry named name for data, re-using its
// existing metadata (mode, timestamps) where Entry fields allow.
func (a *Archive) Replace(name string, data []byte, method uint16) error {
	e := a.entries.FindEntry(name)
	if e == nil {
		return newErrf(NotFound, "Archive.Replace", name, "no such entry")
	}
	if err := e.SetContent(data, method); err != nil {
		return err
	}
	a.dirty = true
	return nil
}

// GetInputStream opens e's decompressed content for reading. Only valid
// for entries read from an existing archive (raw != nil); dirty entries
// not yet committed have no on-disk location to read from.
func (a *Archive) GetInputStream(e *Entry) (io.ReadCloser, error) {
	if e.raw == nil {
		return nil, newErrf(Argument, "Archive.GetInputStream", e.Name, "entry has not been committed yet")
	}
	return e.OpenInput(e.raw.archive, a.opts)
}

// Extract writes e's decompressed content to destPath, restoring mode and
// modification time according to Options (spec §4.10).
func (a *Archive) Extract(e *Entry, destPath string) error {
	if e.Directory() {
		return os.MkdirAll(destPath, 0777)
	}
	rc, err := a.GetInputStream(e)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return newErr(IO, "Archive.Extract", destPath, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return newErr(IO, "Archive.Extract", destPath, err)
	}
	if err := f.Close(); err != nil {
		return newErr(IO, "Archive.Extract", destPath, err)
	}

	if a.opts.RestoreOwnership && e.UnixUID != nil && e.UnixGID != nil {
		if err := os.Lchown(destPath, int(*e.UnixUID), int(*e.UnixGID)); err != nil {
			return newErr(IO, "Archive.Extract", destPath, err)
		}
	}
	if a.opts.RestorePermissions {
		if err := os.Chmod(destPath, e.Mode().Perm()); err != nil {
			return newErr(IO, "Archive.Extract", destPath, err)
		}
	}
	if a.opts.RestoreTimes {
		t := e.Modified.Time()
		if err := os.Chtimes(destPath, t, t); err != nil {
			return newErr(IO, "Archive.Extract", destPath, err)
		}
	}
	return nil
}

// ExtractAll extracts every entry into destDir, preserving relative paths
// (spec §10 supplemented feature; directory entries create their own
// directory, not a follower invocation).
func (a *Archive) ExtractAll(destDir string) error {
	if err := os.MkdirAll(destDir, 0777); err != nil {
		return newErr(IO, "Archive.ExtractAll", destDir, err)
	}
	var errs *multierror.Error
	for _, e := range a.entries.Entries() {
		dest := destDir + string(os.PathSeparator) + e.Name
		if e.Directory() {
			if err := os.MkdirAll(dest, 0777); err != nil {
				errs = multierror.Append(errs, newErr(IO, "Archive.ExtractAll", dest, err))
			}
			continue
		}
		if parent, ok := e.ParentAsString(); ok {
			if err := os.MkdirAll(destDir+string(os.PathSeparator)+parent, 0777); err != nil {
				errs = multierror.Append(errs, newErr(IO, "Archive.ExtractAll", dest, err))
				continue
			}
		}
		if err := a.Extract(e, dest); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// CommitRequired reports whether Commit has anything to write: any
// structural change (add/remove/rename/comment edit), or an entry marked
// dirty (spec §4.10, §8 invariant 9).
func (a *Archive) CommitRequired() bool {
	if a.dirty {
		return true
	}
	required := false
	a.entries.Each(func(e *Entry) bool {
		if e.dirty {
			required = true
			return false
		}
		return true
	})
	return required
}

// Commit writes the archive's current state to a.path atomically: the
// full content is written to a temp file in the destination directory,
// then renamed over the original, so a crash mid-write never leaves a
// corrupt archive in place (spec §5's atomic-commit requirement). Grounded
// on distr1-distri/internal/install/install.go's renameio.TempFile +
// CloseAtomicallyReplace pattern.
func (a *Archive) Commit() error {
	if !a.CommitRequired() {
		slog.Info("commitSkipped", "path", a.path)
		return nil
	}

	t, err := renameio.TempFile("", a.path)
	if err != nil {
		return newErr(IO, "Archive.Commit", a.path, err)
	}
	defer t.Cleanup()

	out := NewOutputStream(t, a.opts)
	out.SetComment(a.comment)

	for _, e := range a.entries.Entries() {
		if err := e.WriteToOutputStream(out); err != nil {
			return combineCommitError(err, t)
		}
	}

	if err := out.Close(); err != nil {
		return combineCommitError(err, t)
	}

	if err := t.CloseAtomicallyReplace(); err != nil {
		return newErr(IO, "Archive.Commit", a.path, err)
	}

	if a.closer != nil {
		a.closer.Close()
	}
	f, err := os.Open(a.path)
	if err != nil {
		return newErr(IO, "Archive.Commit", a.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return newErr(IO, "Archive.Commit", a.path, err)
	}
	entries, cd, err := ReadCentralDirectory(f, info.Size())
	if err != nil {
		f.Close()
		return err
	}
	a.backing = f
	a.closer = f
	a.entries = entries
	a.comment = cd.Comment
	a.dirty = false
	a.entries.Each(func(e *Entry) bool {
		e.dirty = false
		return true
	})

	slog.Info("commit", "path", a.path, "entries", a.entries.Len())
	return nil
}

func combineCommitError(err error, t *renameio.PendingFile) error {
	var result *multierror.Error
	result = multierror.Append(result, err)
	if cleanupErr := t.Cleanup(); cleanupErr != nil {
		result = multierror.Append(result, cleanupErr)
	}
	return result.ErrorOrNil()
}

// Reader assembles a byte-for-byte view of the archive's current state
// (including pending, uncommitted mutations) as a single io.ReaderAt.
// Every entry's local record is encoded into its own in-memory buffer:
// an entry with a raw source has its compressed bytes copied from the
// backing file without decompressing or recompressing, a dirty entry is
// compressed from its follower, and the trailer gets a buffer of its own.
// Useful for serving the current state (e.g. via
// http.ServeContent) without first writing it to disk (spec §10
// supplemented feature).
func (a *Archive) Reader(ctx context.Context) (io.ReaderAt, int64, error) {
	var mcr multiReaderAt

	for _, e := range a.entries.Entries() {
		start := mcr.size
		buf, err := a.encodeEntryBytes(e)
		if err != nil {
			return nil, 0, err
		}
		mcr.addBytes(buf)
		e.LocalHeaderOffset = uint64(start)
	}

	var cdBuf bytes.Buffer
	if _, err := WriteCentralDirectory(&cdBuf, a.entries, &CentralDirectory{Comment: a.comment}, a.opts, mcr.size); err != nil {
		return nil, 0, err
	}
	mcr.addBytes(cdBuf.Bytes())

	return withContext{ctx: ctx, r: &mcr}, mcr.size, nil
}

// encodeEntryBytes writes e's full local record (header, content,
// finalization) into a standalone in-memory buffer. When e carries a raw
// source, WriteToOutputStream splices the compressed bytes in without
// recompressing; the copy into buf is the only cost.
func (a *Archive) encodeEntryBytes(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	out := NewOutputStream(&buf, a.opts)
	if err := e.WriteToOutputStream(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// withContext adapts a context-aware ReaderAt back to plain io.ReaderAt,
// binding the context for the lifetime of the returned value.
type withContext struct {
	ctx context.Context
	r   ReaderAt
}

func (w withContext) ReadAt(p []byte, off int64) (int, error) {
	return w.r.ReadAtContext(w.ctx, p, off)
}

// Close releases the archive's backing file descriptor without committing
// pending mutations.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}
