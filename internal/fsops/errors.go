package fsops

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds every engine and the mount
// adapter propagate by. A Kind is never returned bare; it is always wrapped
// in an *Error carrying the operation and path that triggered it.
type Kind int

const (
	_ Kind = iota
	KindNotFound
	KindNotAFilesystem
	KindUnsupported
	KindReadOnly
	KindAccessDenied
	KindBusy
	KindNoSpace
	KindCorruption
	KindIo
	KindSafetyRefusal
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindNotAFilesystem:
		return "NotAFilesystem"
	case KindUnsupported:
		return "Unsupported"
	case KindReadOnly:
		return "ReadOnly"
	case KindAccessDenied:
		return "AccessDenied"
	case KindBusy:
		return "Busy"
	case KindNoSpace:
		return "NoSpace"
	case KindCorruption:
		return "Corruption"
	case KindIo:
		return "Io"
	case KindSafetyRefusal:
		return "SafetyRefusal"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Sentinel errors for the closed kind set, matched with errors.Is against
// any *Error carrying that kind (see Error.Is below).
var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrNotAFilesystem = &Error{Kind: KindNotAFilesystem}
	ErrUnsupported    = &Error{Kind: KindUnsupported}
	ErrReadOnly       = &Error{Kind: KindReadOnly}
	ErrAccessDenied   = &Error{Kind: KindAccessDenied}
	ErrBusy           = &Error{Kind: KindBusy}
	ErrNoSpace        = &Error{Kind: KindNoSpace}
	ErrCorruption     = &Error{Kind: KindCorruption}
	ErrIo             = &Error{Kind: KindIo}
	ErrSafetyRefusal  = &Error{Kind: KindSafetyRefusal}
	ErrCancelled      = &Error{Kind: KindCancelled}
)

// Error carries a closed-set Kind plus the operation and path that produced
// it, with an optional wrapped cause. Engines build these with New/Wrap;
// callers compare kinds with errors.Is against the package-level sentinels.
type Error struct {
	Kind  Kind
	Op    string
	Path  string
	Cause error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Path == "" && e.Cause == nil:
		return e.Kind.String()
	case e.Cause != nil && e.Path != "":
		return fmt.Sprintf("%s %s %q: %v", e.Kind, e.Op, e.Path, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Cause)
	case e.Path != "":
		return fmt.Sprintf("%s %s %q", e.Kind, e.Op, e.Path)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.Op)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, fsops.ErrCorruption) match any *Error of that
// Kind regardless of Op/Path/Cause — the sentinels above carry only a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Path == "" && t.Cause == nil
}

// New builds an *Error with no wrapped cause, e.g. New(KindNotFound, "stat", path).
func New(kind Kind, op, path string) error {
	return &Error{Kind: kind, Op: op, Path: path}
}

// Wrap builds an *Error around cause, preserving it for errors.Unwrap/errors.As.
func Wrap(kind Kind, op, path string, cause error) error {
	if cause == nil {
		return New(kind, op, path)
	}
	return &Error{Kind: kind, Op: op, Path: path, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and reports ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// IsCorruption is shorthand for errors.Is(err, ErrCorruption), used by
// callers that must poison an instance once a structural invariant fails:
// corruption is never recovered internally, only surfaced and quarantined.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorruption)
}

// IsNotFound is shorthand for errors.Is(err, ErrNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
