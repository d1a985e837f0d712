package pe

import (
	"fmt"
	"sort"
)

const baseRelocationBlockSize = 8

// RelocationInfo contains base relocation information.
type RelocationInfo struct {
	BlockCount   int            `json:"block_count"`
	TotalEntries int            `json:"total_entries"`
	ByType       map[string]int `json:"by_type"`
}

// Relocation types
const (
	IMAGE_REL_BASED_ABSOLUTE       = 0
	IMAGE_REL_BASED_HIGH           = 1
	IMAGE_REL_BASED_LOW            = 2
	IMAGE_REL_BASED_HIGHLOW        = 3
	IMAGE_REL_BASED_HIGHADJ        = 4
	IMAGE_REL_BASED_MIPS_JMPADDR   = 5
	IMAGE_REL_BASED_ARM_MOV32      = 5
	IMAGE_REL_BASED_THUMB_MOV32    = 7
	IMAGE_REL_BASED_MIPS_JMPADDR16 = 9
	IMAGE_REL_BASED_DIR64          = 10
)

// ParseRelocations walks the base relocation directory and counts its
// entries. It returns nil when the image has no relocations.
func ParseRelocations(img *Image, h *Header) (*RelocationInfo, error) {
	dir, ok := h.Directory(DirectoryBaseReloc)
	if !ok || dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil, nil
	}

	b := img.Bytes()
	off, err := h.Resolver.resolveTable(dir.VirtualAddress, uint64(dir.Size), "IMAGE_BASE_RELOCATION")
	if err != nil {
		return nil, err
	}

	info := &RelocationInfo{ByType: make(map[string]int)}
	end := off + uint64(dir.Size)

	for pos := off; pos+baseRelocationBlockSize <= end; {
		size, ok := u32At(b, pos+4)
		if !ok {
			return info, formatErr(ErrTruncated, "SizeOfBlock", int64(pos+4), "")
		}
		// Some linkers pad the directory with a zero block.
		if size == 0 {
			break
		}
		if size < baseRelocationBlockSize || size%2 != 0 || pos+uint64(size) > end {
			return info, formatErr(ErrTableOutOfBounds, "SizeOfBlock", int64(pos+4),
				"block of %d bytes at 0x%X does not fit the directory", size, pos)
		}

		for e := pos + baseRelocationBlockSize; e < pos+uint64(size); e += 2 {
			v, _ := u16At(b, e)
			info.ByType[GetRelocationTypeName(v>>12)]++
			info.TotalEntries++
		}
		info.BlockCount++
		pos += uint64(size)
	}

	return info, nil
}

// TypeNames returns the relocation types present, sorted.
func (r *RelocationInfo) TypeNames() []string {
	names := make([]string, 0, len(r.ByType))
	for n := range r.ByType {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetRelocationTypeName returns the name of a relocation type.
func GetRelocationTypeName(relocType uint16) string {
	switch relocType {
	case IMAGE_REL_BASED_ABSOLUTE:
		return "ABSOLUTE"
	case IMAGE_REL_BASED_HIGH:
		return "HIGH"
	case IMAGE_REL_BASED_LOW:
		return "LOW"
	case IMAGE_REL_BASED_HIGHLOW:
		return "HIGHLOW"
	case IMAGE_REL_BASED_HIGHADJ:
		return "HIGHADJ"
	case IMAGE_REL_BASED_MIPS_JMPADDR:
		return "MIPS_JMPADDR/ARM_MOV32"
	case IMAGE_REL_BASED_THUMB_MOV32:
		return "THUMB_MOV32"
	case IMAGE_REL_BASED_MIPS_JMPADDR16:
		return "MIPS_JMPADDR16"
	case IMAGE_REL_BASED_DIR64:
		return "DIR64"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", relocType)
	}
}
