// Package digest computes cryptographic and fuzzy digests of a byte stream
// in a single pass.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// Algorithm names a digest algorithm.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
	SSDeep Algorithm = "ssdeep"
)

// ErrUnsupportedAlgorithm is returned for an empty or unknown algorithm list.
var ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

// order is the canonical rendering order.
var order = []Algorithm{MD5, SHA1, SHA256, SHA512, SSDeep}

// Default is the algorithm set used when none is configured.
var Default = []Algorithm{MD5, SHA1, SHA256}

// Supported returns every known algorithm in canonical order.
func Supported() []Algorithm {
	return append([]Algorithm(nil), order...)
}

func (a Algorithm) known() bool {
	for _, k := range order {
		if a == k {
			return true
		}
	}
	return false
}

// ParseAlgorithms normalizes names such as "SHA-256" or " md5 " and rejects
// unknown ones. Duplicates are dropped.
func ParseAlgorithms(names []string) ([]Algorithm, error) {
	var algs []Algorithm
	seen := make(map[Algorithm]bool)
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		n = strings.ReplaceAll(n, "-", "")
		if n == "" {
			continue
		}
		a := Algorithm(n)
		if !a.known() {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, n)
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		algs = append(algs, a)
	}
	if len(algs) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrUnsupportedAlgorithm)
	}
	return algs, nil
}

// accumulator is fed every chunk and renders the final digest text.
type accumulator interface {
	Write(p []byte) (int, error)
	Text() string
}

type hexAccumulator struct {
	hash.Hash
}

func (h hexAccumulator) Text() string {
	return hex.EncodeToString(h.Sum(nil))
}

func newAccumulator(a Algorithm) accumulator {
	switch a {
	case MD5:
		return hexAccumulator{md5.New()}
	case SHA1:
		return hexAccumulator{sha1.New()}
	case SHA256:
		return hexAccumulator{sha256.New()}
	case SHA512:
		return hexAccumulator{sha512.New()}
	case SSDeep:
		return &fuzzyAccumulator{}
	}
	return nil
}

// Set holds the digests of one input. The zero value is empty.
type Set struct {
	values map[Algorithm]string
}

// Get returns the digest text for a.
func (s Set) Get(a Algorithm) (string, bool) {
	v, ok := s.values[a]
	return v, ok
}

// Len returns the number of digests held.
func (s Set) Len() int {
	return len(s.values)
}

// Algorithms lists the algorithms present, in canonical order.
func (s Set) Algorithms() []Algorithm {
	var algs []Algorithm
	for _, a := range order {
		if _, ok := s.values[a]; ok {
			algs = append(algs, a)
		}
	}
	return algs
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	if s.values == nil {
		return Set{}
	}
	values := make(map[Algorithm]string, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return Set{values: values}
}

// MarshalJSON encodes the set as an object keyed by algorithm name.
func (s Set) MarshalJSON() ([]byte, error) {
	if s.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.values)
}

// NewSet builds a Set from precomputed values. Unknown algorithms are rejected.
func NewSet(values map[Algorithm]string) (Set, error) {
	set := Set{values: make(map[Algorithm]string, len(values))}
	for a, v := range values {
		if !a.known() {
			return Set{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, a)
		}
		set.values[a] = v
	}
	return set, nil
}
