package pe

import (
	"encoding/binary"
	"fmt"
	"math"
)

const exportDirectorySize = 40

// ExportDirectory represents the PE export directory table.
type ExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// ExportEntry is one exported symbol. Name is empty for ordinal-only exports.
type ExportEntry struct {
	Name      string `json:"name,omitempty"`
	Ordinal   uint32 `json:"ordinal"`
	RVA       uint32 `json:"rva"`
	Forwarder string `json:"forwarder,omitempty"`
}

// HasName reports whether the export is reachable by name.
func (e ExportEntry) HasName() bool {
	return e.Name != ""
}

// ExtractExports reads the export directory of img. Named exports come
// first in name-pointer-table order, followed by the address-table slots
// no name refers to, in ordinal order. Empty slots (RVA 0) are skipped.
func ExtractExports(img *Image, h *Header) ([]ExportEntry, error) {
	dir, ok := h.Directory(DirectoryExport)
	if !ok || dir.Size == 0 {
		return nil, nil
	}

	b := img.Bytes()
	off, avail, err := h.Resolver.Resolve(dir.VirtualAddress)
	if err != nil {
		return nil, fmt.Errorf("export directory: %w", err)
	}
	if avail < exportDirectorySize {
		return nil, formatErr(ErrTruncated, "IMAGE_EXPORT_DIRECTORY", int64(off),
			"needs %d bytes, section holds %d", exportDirectorySize, avail)
	}
	raw, ok := span(b, off, exportDirectorySize)
	if !ok {
		return nil, formatErr(ErrTruncated, "IMAGE_EXPORT_DIRECTORY", int64(off), "")
	}

	ed := ExportDirectory{
		Characteristics:       binary.LittleEndian.Uint32(raw[0:4]),
		TimeDateStamp:         binary.LittleEndian.Uint32(raw[4:8]),
		MajorVersion:          binary.LittleEndian.Uint16(raw[8:10]),
		MinorVersion:          binary.LittleEndian.Uint16(raw[10:12]),
		Name:                  binary.LittleEndian.Uint32(raw[12:16]),
		Base:                  binary.LittleEndian.Uint32(raw[16:20]),
		NumberOfFunctions:     binary.LittleEndian.Uint32(raw[20:24]),
		NumberOfNames:         binary.LittleEndian.Uint32(raw[24:28]),
		AddressOfFunctions:    binary.LittleEndian.Uint32(raw[28:32]),
		AddressOfNames:        binary.LittleEndian.Uint32(raw[32:36]),
		AddressOfNameOrdinals: binary.LittleEndian.Uint32(raw[36:40]),
	}

	if ed.NumberOfFunctions == 0 {
		if ed.NumberOfNames != 0 {
			return nil, formatErr(ErrTableOutOfBounds, "NumberOfNames", int64(off+24),
				"%d names but no functions", ed.NumberOfNames)
		}
		return nil, nil
	}

	funcsOff, err := h.Resolver.resolveTable(ed.AddressOfFunctions, uint64(ed.NumberOfFunctions)*4, "AddressOfFunctions")
	if err != nil {
		return nil, err
	}

	var namesOff, ordsOff uint64
	if ed.NumberOfNames > 0 {
		namesOff, err = h.Resolver.resolveTable(ed.AddressOfNames, uint64(ed.NumberOfNames)*4, "AddressOfNames")
		if err != nil {
			return nil, err
		}
		ordsOff, err = h.Resolver.resolveTable(ed.AddressOfNameOrdinals, uint64(ed.NumberOfNames)*2, "AddressOfNameOrdinals")
		if err != nil {
			return nil, err
		}
	}

	x := exportReader{h: h, b: b, dir: dir, ed: ed, funcsOff: funcsOff}
	referenced := make([]bool, ed.NumberOfFunctions)
	entries := make([]ExportEntry, 0, ed.NumberOfNames)

	for i := uint64(0); i < uint64(ed.NumberOfNames); i++ {
		nameRVA, ok := u32At(b, namesOff+i*4)
		if !ok {
			return nil, formatErr(ErrTruncated, "AddressOfNames", int64(namesOff+i*4), "")
		}
		index, ok := u16At(b, ordsOff+i*2)
		if !ok {
			return nil, formatErr(ErrTruncated, "AddressOfNameOrdinals", int64(ordsOff+i*2), "")
		}
		if uint32(index) >= ed.NumberOfFunctions {
			return nil, formatErr(ErrTableOutOfBounds, "AddressOfNameOrdinals", int64(ordsOff+i*2),
				"name %d refers to function %d of %d", i, index, ed.NumberOfFunctions)
		}

		name, err := h.readStringRVA(b, nameRVA, "AddressOfNames")
		if err != nil {
			return nil, err
		}

		entry, err := x.entry(uint32(index))
		if err != nil {
			return nil, err
		}
		entry.Name = name

		referenced[index] = true
		entries = append(entries, entry)
	}

	for k := range referenced {
		if referenced[k] {
			continue
		}
		entry, err := x.entry(uint32(k))
		if err != nil {
			return nil, err
		}
		if entry.RVA == 0 {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

type exportReader struct {
	h        *Header
	b        []byte
	dir      DataDirectory
	ed       ExportDirectory
	funcsOff uint64
}

// entry builds the export for address-table slot k, without a name.
func (x *exportReader) entry(k uint32) (ExportEntry, error) {
	ordinal := uint64(x.ed.Base) + uint64(k)
	if ordinal > math.MaxUint32 {
		return ExportEntry{}, formatErr(ErrTableOutOfBounds, "Base", -1,
			"ordinal base 0x%X + index %d overflows", x.ed.Base, k)
	}

	slot := x.funcsOff + uint64(k)*4
	rva, ok := u32At(x.b, slot)
	if !ok {
		return ExportEntry{}, formatErr(ErrTruncated, "AddressOfFunctions", int64(slot), "")
	}

	entry := ExportEntry{Ordinal: uint32(ordinal), RVA: rva}

	// An address inside the export directory is a forwarder string.
	if rva >= x.dir.VirtualAddress && uint64(rva) < uint64(x.dir.VirtualAddress)+uint64(x.dir.Size) {
		fwd, err := x.h.readStringRVA(x.b, rva, "forwarder")
		if err != nil {
			return ExportEntry{}, err
		}
		entry.Forwarder = fwd
	}

	return entry, nil
}
