package pe

import (
	"encoding/binary"
	"fmt"
)

// maxStringLen caps DLL and symbol names. MSVC truncates decorated C++
// names at 4096 characters.
const maxStringLen = 4096

// span returns b[off:off+n] when the whole range lies inside b.
func span(b []byte, off, n uint64) ([]byte, bool) {
	if off > uint64(len(b)) || n > uint64(len(b))-off {
		return nil, false
	}
	return b[off : off+n], true
}

func u16At(b []byte, off uint64) (uint16, bool) {
	s, ok := span(b, off, 2)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(s), true
}

func u32At(b []byte, off uint64) (uint32, bool) {
	s, ok := span(b, off, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(s), true
}

func u64At(b []byte, off uint64) (uint64, bool) {
	s, ok := span(b, off, 8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(s), true
}

// readASCII reads a NUL-terminated printable ASCII string starting at off.
// At most limit bytes (including the terminator) may be consumed.
func readASCII(b []byte, off, limit uint64, field string) (string, error) {
	capped := false
	if limit > maxStringLen+1 {
		limit = maxStringLen + 1
		capped = true
	}
	if off > uint64(len(b)) {
		return "", &EncodingError{Field: field, Offset: int64(off), Reason: "offset past end of file"}
	}
	if rest := uint64(len(b)) - off; limit > rest {
		limit = rest
		capped = false
	}

	for i := uint64(0); i < limit; i++ {
		c := b[off+i]
		if c == 0 {
			if i == 0 {
				return "", &EncodingError{Field: field, Offset: int64(off), Reason: "empty string"}
			}
			return string(b[off : off+i]), nil
		}
		if c < 0x20 || c > 0x7E {
			return "", &EncodingError{
				Field:  field,
				Offset: int64(off + i),
				Reason: fmt.Sprintf("non-ASCII byte 0x%02X", c),
			}
		}
	}

	if capped {
		return "", &EncodingError{Field: field, Offset: int64(off), Reason: fmt.Sprintf("name exceeds %d bytes", maxStringLen)}
	}
	return "", &EncodingError{Field: field, Offset: int64(off), Reason: "missing NUL terminator"}
}
