package pe

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

const (
	importDescriptorSize = 20

	// Descriptors and thunk arrays may overlap, so the walk is bounded by
	// counts rather than by file size.
	maxImportDescriptors  = 0x1000
	maxImportSymbols      = 0x2000 // per descriptor
	maxTotalImportSymbols = 0x10000

	ordinalFlag32 = 0x80000000
	ordinalFlag64 = 0x8000000000000000
)

// ImportDescriptor represents IMAGE_IMPORT_DESCRIPTOR.
type ImportDescriptor struct {
	OriginalFirstThunk uint32 // RVA to Import Name Table (INT).
	TimeDateStamp      uint32 // Usually 0.
	ForwarderChain     uint32 // Usually 0.
	Name               uint32 // RVA to DLL name.
	FirstThunk         uint32 // RVA to Import Address Table (IAT).
}

// ImportEntry groups the symbols imported from one module.
type ImportEntry struct {
	Module  string   `json:"module"`
	Symbols []Symbol `json:"symbols"`
}

// ExtractImports walks the import directory of img. Modules appear in the
// order of their first descriptor; descriptors repeating a module name
// (case-insensitively) append to the first entry.
func ExtractImports(img *Image, h *Header) ([]ImportEntry, error) {
	dir, ok := h.Directory(DirectoryImport)
	if !ok || dir.Size == 0 {
		return nil, nil
	}

	b := img.Bytes()
	off, avail, err := h.Resolver.Resolve(dir.VirtualAddress)
	if err != nil {
		return nil, fmt.Errorf("import directory: %w", err)
	}

	var entries []ImportEntry
	byModule := make(map[string]int)
	total := 0

	for pos := uint64(0); ; pos += importDescriptorSize {
		if pos+importDescriptorSize > avail {
			return nil, formatErr(ErrUnterminatedTable, "IMAGE_IMPORT_DESCRIPTOR", int64(off+pos),
				"no null descriptor after %d entries", pos/importDescriptorSize)
		}
		raw, ok := span(b, off+pos, importDescriptorSize)
		if !ok {
			return nil, formatErr(ErrTruncated, "IMAGE_IMPORT_DESCRIPTOR", int64(off+pos), "")
		}
		if isZero(raw) {
			break
		}
		if pos/importDescriptorSize == maxImportDescriptors {
			return nil, formatErr(ErrTableOutOfBounds, "IMAGE_IMPORT_DESCRIPTOR", int64(off+pos),
				"more than %d descriptors", maxImportDescriptors)
		}

		desc := ImportDescriptor{
			OriginalFirstThunk: binary.LittleEndian.Uint32(raw[0:4]),
			TimeDateStamp:      binary.LittleEndian.Uint32(raw[4:8]),
			ForwarderChain:     binary.LittleEndian.Uint32(raw[8:12]),
			Name:               binary.LittleEndian.Uint32(raw[12:16]),
			FirstThunk:         binary.LittleEndian.Uint32(raw[16:20]),
		}

		module, err := h.readStringRVA(b, desc.Name, "ImportDescriptor.Name")
		if err != nil {
			return nil, err
		}

		symbols, err := h.readImportThunks(b, desc, module)
		if err != nil {
			return nil, err
		}
		total += len(symbols)
		if total > maxTotalImportSymbols {
			return nil, formatErr(ErrTableOutOfBounds, "IMAGE_IMPORT_DESCRIPTOR", int64(off+pos),
				"more than %d imported symbols", maxTotalImportSymbols)
		}

		key := strings.ToLower(module)
		if i, seen := byModule[key]; seen {
			entries[i].Symbols = append(entries[i].Symbols, symbols...)
			continue
		}
		byModule[key] = len(entries)
		entries = append(entries, ImportEntry{Module: module, Symbols: symbols})
	}

	return entries, nil
}

// readImportThunks decodes the thunk array of desc. The Import Name Table
// is preferred; the IAT is used when the INT is absent.
func (h *Header) readImportThunks(b []byte, desc ImportDescriptor, module string) ([]Symbol, error) {
	thunkRVA := desc.OriginalFirstThunk
	if thunkRVA == 0 {
		thunkRVA = desc.FirstThunk
	}
	if thunkRVA == 0 {
		return nil, formatErr(ErrUnresolvableRVA, "FirstThunk", -1, "descriptor for %q has no thunk array", module)
	}

	off, avail, err := h.Resolver.Resolve(thunkRVA)
	if err != nil {
		return nil, fmt.Errorf("thunk array of %q: %w", module, err)
	}

	width := uint64(4)
	if h.Optional.Is64() {
		width = 8
	}

	var symbols []Symbol
	for pos := uint64(0); ; pos += width {
		if pos+width > avail {
			return nil, formatErr(ErrUnterminatedTable, "IMAGE_THUNK_DATA", int64(off+pos),
				"thunk array of %q has no terminator after %d entries", module, pos/width)
		}

		var value, flag uint64
		if width == 8 {
			v, ok := u64At(b, off+pos)
			if !ok {
				return nil, formatErr(ErrTruncated, "IMAGE_THUNK_DATA", int64(off+pos), "")
			}
			value, flag = v, ordinalFlag64
		} else {
			v, ok := u32At(b, off+pos)
			if !ok {
				return nil, formatErr(ErrTruncated, "IMAGE_THUNK_DATA", int64(off+pos), "")
			}
			value, flag = uint64(v), ordinalFlag32
		}

		if value == 0 {
			break
		}
		if len(symbols) == maxImportSymbols {
			return nil, formatErr(ErrTableOutOfBounds, "IMAGE_THUNK_DATA", int64(off+pos),
				"thunk array of %q has more than %d entries", module, maxImportSymbols)
		}

		if value&flag != 0 {
			symbols = append(symbols, ByOrdinal(uint32(value&0xFFFF)))
			continue
		}

		if value > math.MaxUint32 {
			return nil, formatErr(ErrUnresolvableRVA, "IMAGE_THUNK_DATA", int64(off+pos),
				"hint/name RVA 0x%X of %q does not fit 32 bits", value, module)
		}

		name, err := h.readHintName(b, uint32(value&0x7FFFFFFF), module)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, ByName(name))
	}

	return symbols, nil
}

// readHintName reads IMAGE_IMPORT_BY_NAME: a 2-byte hint followed by the name.
func (h *Header) readHintName(b []byte, rva uint32, module string) (string, error) {
	off, avail, err := h.Resolver.Resolve(rva)
	if err != nil {
		return "", fmt.Errorf("hint/name entry of %q: %w", module, err)
	}
	if avail < 2 {
		return "", formatErr(ErrTruncated, "IMAGE_IMPORT_BY_NAME.Hint", int64(off), "import of %q", module)
	}
	return readASCII(b, off+2, avail-2, "IMAGE_IMPORT_BY_NAME.Name")
}

// readStringRVA resolves rva and reads a NUL-terminated ASCII string
// that must end inside the containing section.
func (h *Header) readStringRVA(b []byte, rva uint32, field string) (string, error) {
	off, avail, err := h.Resolver.Resolve(rva)
	if err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	return readASCII(b, off, avail, field)
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
