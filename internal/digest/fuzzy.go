package digest

import (
	"bytes"

	"github.com/michielbuddingh/spamsum"
)

// fuzzyAccumulator buffers the stream for spamsum, whose block size depends
// on the total input length.
type fuzzyAccumulator struct {
	buf bytes.Buffer
}

func (f *fuzzyAccumulator) Write(p []byte) (int, error) {
	return f.buf.Write(p)
}

func (f *fuzzyAccumulator) Text() string {
	return spamsum.HashBytes(f.buf.Bytes()).String()
}
