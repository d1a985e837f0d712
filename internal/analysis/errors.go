package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZacharyZcR/PEInspect/internal/config"
	"github.com/ZacharyZcR/PEInspect/internal/digest"
	"github.com/ZacharyZcR/PEInspect/internal/pe"
)

// ErrSkipped is the outcome of a batch file that was never started
// because the batch was canceled.
var ErrSkipped = errors.New("skipped")

// Stage names the pipeline step that failed.
type Stage string

const (
	StageLoad    Stage = "load"
	StageDigest  Stage = "digest"
	StageParse   Stage = "parse"
	StageImports Stage = "imports"
	StageExports Stage = "exports"
)

// StageError attaches the file and pipeline stage to an error.
type StageError struct {
	Path  string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Kind is the coarse class of an analysis error.
type Kind int

const (
	KindIO Kind = iota
	KindFormat
	KindEncoding
	KindConfig
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindFormat:
		return "format"
	case KindEncoding:
		return "encoding"
	case KindConfig:
		return "config"
	case KindCanceled:
		return "canceled"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Classify maps err to its Kind. Errors of no known class are treated as I/O.
func Classify(err error) Kind {
	var (
		ioErr   *pe.IOError
		readErr *digest.ReadError
	)
	switch {
	case errors.Is(err, ErrSkipped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, digest.ErrUnsupportedAlgorithm),
		errors.Is(err, config.ErrInvalid):
		return KindConfig
	case errors.Is(err, pe.ErrEncoding):
		return KindEncoding
	case errors.As(err, &ioErr), errors.As(err, &readErr):
		return KindIO
	case pe.IsFormat(err):
		return KindFormat
	}
	return KindIO
}
