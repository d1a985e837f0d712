package pe

import "fmt"

// Resolver maps relative virtual addresses to file offsets using the
// validated section table. Sections are searched in table order and the
// first one containing the RVA wins.
type Resolver struct {
	sections []SectionHeader
}

// NewResolver builds a resolver over sections. The sections must already
// have passed the raw-data bounds checks done by Parse.
func NewResolver(sections []SectionHeader) *Resolver {
	return &Resolver{sections: sections}
}

// Section returns the index of the section whose virtual range contains
// rva and the offset of rva inside it.
func (r *Resolver) Section(rva uint32) (int, uint32, bool) {
	for i, s := range r.sections {
		size := s.VirtualSize
		if size == 0 {
			size = s.SizeOfRawData
		}
		if rva >= s.VirtualAddress && uint64(rva) < uint64(s.VirtualAddress)+uint64(size) {
			return i, rva - s.VirtualAddress, true
		}
	}
	return 0, 0, false
}

// Resolve converts rva to a file offset. avail is the number of
// file-backed bytes of the containing section from that offset on; reads
// through the returned offset must stay within it.
func (r *Resolver) Resolve(rva uint32) (offset, avail uint64, err error) {
	idx, delta, ok := r.Section(rva)
	if !ok {
		return 0, 0, formatErr(ErrUnresolvableRVA, "RVA", -1, "0x%X", rva)
	}

	s := r.sections[idx]
	if delta >= s.SizeOfRawData {
		return 0, 0, formatErr(ErrUnresolvableRVA, "RVA", -1,
			"0x%X falls in the uninitialized part of section %q", rva, s.Name)
	}

	return uint64(s.PointerToRawData) + uint64(delta), uint64(s.SizeOfRawData - delta), nil
}

// resolveTable resolves rva and checks that size bytes are file-backed there.
func (r *Resolver) resolveTable(rva uint32, size uint64, field string) (uint64, error) {
	off, avail, err := r.Resolve(rva)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if size > avail {
		return 0, formatErr(ErrTableOutOfBounds, field, int64(off),
			"needs %d bytes, section holds %d", size, avail)
	}
	return off, nil
}
