package zipkit

import (
	"errors"
	"fmt"
)

// Kind identifies one of the stable error categories callers can match on
// with errors.Is. See spec §7 for the full list and their meanings.
type Kind int

const (
	// EntryName reports an entry name violating the name constraints
	// (leading "/", or other invalid form).
	EntryName Kind = iota
	// EntryExists reports an add/rename into an occupied name when the
	// conflict predicate declined to replace it.
	EntryExists
	// MalformedArchive reports a bad signature, size mismatch, truncated
	// record, or bogus extra field encountered while reading.
	MalformedArchive
	// Decompression reports a CRC mismatch or size mismatch at the end of
	// an entry's data.
	Decompression
	// IO reports a write/read after close, or an underlying sink/source
	// failure.
	IO
	// Unsupported reports a request to read an encrypted entry, or an
	// unknown compression method.
	Unsupported
	// Argument reports a calling-convention violation.
	Argument
	// NotFound reports a failed entry lookup by name.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case EntryName:
		return "EntryNameError"
	case EntryExists:
		return "EntryExistsError"
	case MalformedArchive:
		return "MalformedArchiveError"
	case Decompression:
		return "DecompressionError"
	case IO:
		return "IOError"
	case Unsupported:
		return "UnsupportedError"
	case Argument:
		return "ArgumentError"
	case NotFound:
		return "NotFoundError"
	default:
		return "Error"
	}
}

// Error is the concrete error type returned by every operation in this
// package. Callers match on the category with errors.Is against the
// package-level Err* sentinels, or by comparing Kind directly.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "Entry.readLocalHeader"
	Name    string // entry or archive name involved, if any
	Err     error  // wrapped underlying error, if any
	Message string // human-readable detail when Err is nil
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Name != "" {
		return fmt.Sprintf("zipkit: %s: %s: %s: %s", e.Kind, e.Op, e.Name, msg)
	}
	return fmt.Sprintf("zipkit: %s: %s: %s", e.Kind, e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes Error participate in errors.Is against the package sentinels,
// which carry only a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Err != nil || t.Op != "" || t.Name != "" {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels usable with errors.Is(err, zipkit.ErrMalformedArchive) etc.
var (
	ErrEntryName         = &Error{Kind: EntryName}
	ErrEntryExists       = &Error{Kind: EntryExists}
	ErrMalformedArchive  = &Error{Kind: MalformedArchive}
	ErrDecompression     = &Error{Kind: Decompression}
	ErrIO                = &Error{Kind: IO}
	ErrUnsupported       = &Error{Kind: Unsupported}
	ErrArgument          = &Error{Kind: Argument}
	ErrNotFound          = &Error{Kind: NotFound}
)

func newErr(kind Kind, op, name string, err error) *Error {
	return &Error{Kind: kind, Op: op, Name: name, Err: err}
}

func newErrf(kind Kind, op, name, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Name: name, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err (or anything it wraps) is a zipkit *Error of the
// given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
