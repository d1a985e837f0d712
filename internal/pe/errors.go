package pe

import (
	"errors"
	"fmt"
)

// Format error kinds. Match them with errors.Is.
var (
	ErrBadDosSignature      = errors.New("bad DOS signature")
	ErrBadPeSignature       = errors.New("bad PE signature")
	ErrTruncated            = errors.New("truncated image")
	ErrInvalidSectionCount  = errors.New("invalid section count")
	ErrUnsupportedImageType = errors.New("unsupported image type")
	ErrSectionOutOfBounds   = errors.New("section out of bounds")
	ErrUnresolvableRVA      = errors.New("RVA not backed by any section")
	ErrUnterminatedTable    = errors.New("unterminated table")
	ErrTableOutOfBounds     = errors.New("table out of bounds")

	// ErrEncoding is matched by every *EncodingError.
	ErrEncoding = errors.New("invalid string encoding")
)

var formatKinds = []error{
	ErrBadDosSignature, ErrBadPeSignature, ErrTruncated, ErrInvalidSectionCount,
	ErrUnsupportedImageType, ErrSectionOutOfBounds, ErrUnresolvableRVA,
	ErrUnterminatedTable, ErrTableOutOfBounds,
}

// IsFormat reports whether err is a structural error of the image.
func IsFormat(err error) bool {
	var fe *FormatError
	if errors.As(err, &fe) {
		return true
	}
	for _, kind := range formatKinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// FormatError reports a structural violation in the image.
type FormatError struct {
	Kind   error  // one of the Err* sentinels above
	Field  string // structure field that failed validation
	Offset int64  // file offset of the field, -1 when not applicable
	Detail string
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Kind, e.Field)
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at 0x%X", e.Offset)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *FormatError) Unwrap() error {
	return e.Kind
}

func formatErr(kind error, field string, offset int64, format string, args ...any) error {
	return &FormatError{
		Kind:   kind,
		Field:  field,
		Offset: offset,
		Detail: fmt.Sprintf(format, args...),
	}
}

// EncodingError reports a string that is not NUL-terminated printable ASCII.
type EncodingError struct {
	Field  string
	Offset int64
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%v: %s at 0x%X: %s", ErrEncoding, e.Field, e.Offset, e.Reason)
}

func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}

// IOError reports a failure to open or read the image file.
type IOError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
