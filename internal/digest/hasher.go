package digest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultChunkSize is the read size used when none is configured.
const DefaultChunkSize = 64 * 1024

// ReadError reports a failure reading the input being hashed.
type ReadError struct {
	Offset int64
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read at offset %d: %v", e.Offset, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Hasher computes a fixed set of digests over a stream.
type Hasher struct {
	algs      []Algorithm
	chunkSize int
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithChunkSize sets the read size. Values below 1 keep the default.
func WithChunkSize(n int) Option {
	return func(h *Hasher) {
		if n > 0 {
			h.chunkSize = n
		}
	}
}

// New returns a Hasher for algs.
func New(algs []Algorithm, opts ...Option) (*Hasher, error) {
	if len(algs) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrUnsupportedAlgorithm)
	}
	for _, a := range algs {
		if !a.known() {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, a)
		}
	}

	h := &Hasher{
		algs:      append([]Algorithm(nil), algs...),
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Algorithms returns the configured algorithms.
func (h *Hasher) Algorithms() []Algorithm {
	return append([]Algorithm(nil), h.algs...)
}

// Compute reads r to EOF and returns the digests of everything read.
// On any read failure no digests are returned.
func (h *Hasher) Compute(ctx context.Context, r io.Reader) (Set, error) {
	accs := make(map[Algorithm]accumulator, len(h.algs))
	for _, a := range h.algs {
		accs[a] = newAccumulator(a)
	}

	buf := make([]byte, h.chunkSize)
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return Set{}, err
		}

		n, err := r.Read(buf)
		if n > 0 {
			for _, acc := range accs {
				acc.Write(buf[:n])
			}
			offset += int64(n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Set{}, &ReadError{Offset: offset, Err: err}
		}
	}

	values := make(map[Algorithm]string, len(accs))
	for a, acc := range accs {
		values[a] = acc.Text()
	}
	return NewSet(values)
}

// ComputeBytes hashes an in-memory buffer.
func (h *Hasher) ComputeBytes(ctx context.Context, b []byte) (Set, error) {
	return h.Compute(ctx, bytes.NewReader(b))
}
