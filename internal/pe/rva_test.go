package pe

import (
	"errors"
	"testing"
)

func testSections() []SectionHeader {
	return []SectionHeader{
		{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x1800, PointerToRawData: 0x400, SizeOfRawData: 0x1800},
		{Name: ".data", VirtualAddress: 0x3000, VirtualSize: 0x2000, PointerToRawData: 0x1C00, SizeOfRawData: 0x200},
		{Name: ".rsrc", VirtualAddress: 0x6000, VirtualSize: 0, PointerToRawData: 0x1E00, SizeOfRawData: 0x400},
	}
}

func TestResolverRoundTrip(t *testing.T) {
	sections := testSections()
	r := NewResolver(sections)

	rvas := []uint32{0x1000, 0x1001, 0x17FF, 0x27FF, 0x3000, 0x31FF, 0x6000, 0x63FF}
	for _, rva := range rvas {
		off, avail, err := r.Resolve(rva)
		if err != nil {
			t.Fatalf("Resolve(0x%X) error = %v", rva, err)
		}

		idx, delta, ok := r.Section(rva)
		if !ok {
			t.Fatalf("Section(0x%X) not found", rva)
		}
		s := sections[idx]

		if off < uint64(s.PointerToRawData) || off >= uint64(s.PointerToRawData)+uint64(s.SizeOfRawData) {
			t.Fatalf("Resolve(0x%X) = 0x%X, outside raw data of %s", rva, off, s.Name)
		}
		if got := uint32(off - uint64(s.PointerToRawData)); got != delta {
			t.Errorf("Resolve(0x%X): offset maps back to delta 0x%X, want 0x%X", rva, got, delta)
		}
		if got := s.VirtualAddress + uint32(off-uint64(s.PointerToRawData)); got != rva {
			t.Errorf("Resolve(0x%X): offset maps back to RVA 0x%X", rva, got)
		}
		if want := uint64(s.SizeOfRawData - delta); avail != want {
			t.Errorf("Resolve(0x%X) avail = 0x%X, want 0x%X", rva, avail, want)
		}
	}
}

func TestResolverErrors(t *testing.T) {
	r := NewResolver(testSections())

	tests := []struct {
		name string
		rva  uint32
	}{
		{name: "Before first section", rva: 0x200},
		{name: "Gap between sections", rva: 0x2900},
		{name: "Uninitialized tail of section", rva: 0x3400},
		{name: "Past last section", rva: 0x6400},
		{name: "Top of address space", rva: 0xFFFFFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.Resolve(tt.rva)
			if !errors.Is(err, ErrUnresolvableRVA) {
				t.Errorf("Resolve(0x%X) error = %v, want %v", tt.rva, err, ErrUnresolvableRVA)
			}
		})
	}
}

func TestResolveTable(t *testing.T) {
	r := NewResolver(testSections())

	if _, err := r.resolveTable(0x3000, 0x200, "table"); err != nil {
		t.Errorf("resolveTable() fitting table error = %v", err)
	}
	if _, err := r.resolveTable(0x3000, 0x201, "table"); !errors.Is(err, ErrTableOutOfBounds) {
		t.Errorf("resolveTable() oversized table error = %v, want %v", err, ErrTableOutOfBounds)
	}
	if _, err := r.resolveTable(0x9000, 4, "table"); !errors.Is(err, ErrUnresolvableRVA) {
		t.Errorf("resolveTable() unmapped table error = %v, want %v", err, ErrUnresolvableRVA)
	}
}
