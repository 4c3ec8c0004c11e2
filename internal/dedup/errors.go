package dedup

import (
	"errors"

	"github.com/Nrfhsa/Image-To-URL/internal/blobstore"
)

// Kind classifies service errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindTooLarge
	KindNotFound
	KindStorage
	KindConsistency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "invalid request"
	case KindTooLarge:
		return "too large"
	case KindNotFound:
		return "not found"
	case KindStorage:
		return "storage error"
	case KindConsistency:
		return "consistency error"
	default:
		return "unknown error"
	}
}

// Error wraps an underlying error with the operation and file it concerns.
type Error struct {
	Kind Kind
	Op   string
	Name string
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Kind.String()
	if e.Msg != "" {
		base = e.Msg
	}
	if e.Op != "" {
		base = e.Op + ": " + base
	}
	if e.Name != "" {
		base += " " + e.Name
	}
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Message is the client-facing text of the error, without wrapped causes.
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

// E creates an error with a message and no underlying cause.
func E(kind Kind, op, name, msg string) error {
	return &Error{Kind: kind, Op: op, Name: name, Msg: msg}
}

// Wrap annotates err. If err is nil, Wrap returns nil.
func Wrap(kind Kind, op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Name: name, Err: err}
}

// KindOf extracts the Kind from err, walking wrapped errors.
// Unclassified errors are storage errors; a nil error is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, blobstore.ErrBlobNotFound):
		return KindNotFound
	case errors.Is(err, blobstore.ErrInvalidName):
		return KindValidation
	default:
		return KindStorage
	}
}
