// Package pe parses PE images read-only, bounds-checking every table it walks.
package pe

import (
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// Image holds the raw bytes of one PE file. The bytes are never written.
type Image struct {
	path string
	size int64
	data []byte

	mapping   mmap.MMap
	closeOnce sync.Once
	closeErr  error
}

// Load reads the file at path. When useMmap is set the file is mapped
// read-only instead of copied onto the heap.
func Load(path string, useMmap bool) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Path: path, Op: "open", Err: err}
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, &IOError{Path: path, Op: "stat", Err: err}
	}
	if !stat.Mode().IsRegular() {
		return nil, &IOError{Path: path, Op: "open", Err: fmt.Errorf("not a regular file")}
	}

	// Zero-length files cannot be mapped.
	if !useMmap || stat.Size() == 0 {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &IOError{Path: path, Op: "read", Err: err}
		}
		return NewImage(path, data), nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, &IOError{Path: path, Op: "mmap", Err: err}
	}

	return &Image{
		path:    path,
		size:    int64(len(m)),
		data:    m,
		mapping: m,
	}, nil
}

// NewImage wraps an in-memory buffer. The caller must not modify data afterwards.
func NewImage(path string, data []byte) *Image {
	return &Image{
		path: path,
		size: int64(len(data)),
		data: data,
	}
}

// Close releases the mapping, if any. It is safe to call more than once.
func (img *Image) Close() error {
	img.closeOnce.Do(func() {
		if img.mapping != nil {
			img.closeErr = img.mapping.Unmap()
			img.mapping = nil
		}
		img.data = nil
	})
	return img.closeErr
}

// Bytes returns the raw image. Callers must treat it as read-only.
func (img *Image) Bytes() []byte {
	return img.data
}

// Path returns the file path.
func (img *Image) Path() string {
	return img.path
}

// Size returns the file size in bytes.
func (img *Image) Size() int64 {
	return img.size
}
