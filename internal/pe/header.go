package pe

import (
	"debug/pe"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Structure sizes and magic values (Windows SDK naming).
const (
	IMAGE_DOS_SIGNATURE           = 0x5A4D     // MZ
	IMAGE_NT_SIGNATURE            = 0x00004550 // PE\0\0
	IMAGE_NT_OPTIONAL_HDR32_MAGIC = 0x10B
	IMAGE_NT_OPTIONAL_HDR64_MAGIC = 0x20B

	dosHeaderSize        = 64
	fileHeaderSize       = 20
	sectionHeaderSize    = 40
	dataDirectorySize    = 8
	optionalHeader32Size = 96
	optionalHeader64Size = 112
	maxDataDirectories   = 16
)

// Data directory indexes.
const (
	DirectoryExport      = 0
	DirectoryImport      = 1
	DirectoryResource    = 2
	DirectoryException   = 3
	DirectoryCertificate = 4
	DirectoryBaseReloc   = 5
	DirectoryDebug       = 6
	DirectoryTLS         = 9
	DirectoryIAT         = 12
	DirectoryDelayImport = 13
	DirectoryCLR         = 14
)

// DosHeader holds the two DOS header fields the parser relies on.
type DosHeader struct {
	Magic  uint16
	Lfanew uint32
}

// FileHeader is IMAGE_FILE_HEADER.
type FileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// DataDirectory is one (RVA, size) pair of the optional header.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// OptionalHeader merges the PE32 and PE32+ layouts.
type OptionalHeader struct {
	Magic               uint16
	AddressOfEntryPoint uint32
	ImageBase           uint64
	SectionAlignment    uint32
	FileAlignment       uint32
	SizeOfImage         uint32
	SizeOfHeaders       uint32
	CheckSum            uint32
	Subsystem           uint16
	DllCharacteristics  uint16
	NumberOfRvaAndSizes uint32
	DataDirectories     []DataDirectory
}

// Is64 reports whether the image uses the PE32+ layout.
func (o *OptionalHeader) Is64() bool {
	return o.Magic == IMAGE_NT_OPTIONAL_HDR64_MAGIC
}

// SectionHeader is IMAGE_SECTION_HEADER.
type SectionHeader struct {
	Name             string
	VirtualSize      uint32
	VirtualAddress   uint32
	SizeOfRawData    uint32
	PointerToRawData uint32
	Characteristics  uint32
}

// Header is the validated header model of an image.
type Header struct {
	Dos      DosHeader
	File     FileHeader
	Optional OptionalHeader
	Sections []SectionHeader
	Resolver *Resolver

	// ChecksumOffset is the file offset of OptionalHeader.CheckSum.
	ChecksumOffset   int64
	ComputedChecksum uint32

	// Anomalies lists structural oddities that did not fail the parse.
	Anomalies []string
}

// Directory returns data directory idx, or false when the image declares fewer.
func (h *Header) Directory(idx int) (DataDirectory, bool) {
	if idx < 0 || idx >= len(h.Optional.DataDirectories) {
		return DataDirectory{}, false
	}
	return h.Optional.DataDirectories[idx], true
}

func (h *Header) anomaly(format string, args ...any) {
	h.Anomalies = append(h.Anomalies, fmt.Sprintf(format, args...))
}

// Parse validates the DOS header, NT headers and section table of img.
// Every offset taken from the file is bounds-checked before it is used.
func Parse(img *Image) (*Header, error) {
	b := img.Bytes()
	h := &Header{}

	magic, ok := u16At(b, 0)
	if !ok {
		return nil, formatErr(ErrTruncated, "e_magic", 0, "file is %d bytes", len(b))
	}
	if magic != IMAGE_DOS_SIGNATURE {
		return nil, formatErr(ErrBadDosSignature, "e_magic", 0, "found 0x%04X", magic)
	}
	h.Dos.Magic = magic

	lfanew, ok := u32At(b, 0x3C)
	if !ok {
		return nil, formatErr(ErrTruncated, "IMAGE_DOS_HEADER", 0, "need %d bytes, file is %d", dosHeaderSize, len(b))
	}
	h.Dos.Lfanew = lfanew

	ntOff := uint64(lfanew)
	nt, ok := span(b, ntOff, 4+fileHeaderSize)
	if !ok {
		return nil, formatErr(ErrTruncated, "e_lfanew", 0x3C, "NT headers at 0x%X exceed file size %d", lfanew, len(b))
	}

	if sig := binary.LittleEndian.Uint32(nt[0:4]); sig != IMAGE_NT_SIGNATURE {
		return nil, formatErr(ErrBadPeSignature, "Signature", int64(ntOff), "found 0x%08X", sig)
	}

	h.File = FileHeader{
		Machine:              binary.LittleEndian.Uint16(nt[4:6]),
		NumberOfSections:     binary.LittleEndian.Uint16(nt[6:8]),
		TimeDateStamp:        binary.LittleEndian.Uint32(nt[8:12]),
		PointerToSymbolTable: binary.LittleEndian.Uint32(nt[12:16]),
		NumberOfSymbols:      binary.LittleEndian.Uint32(nt[16:20]),
		SizeOfOptionalHeader: binary.LittleEndian.Uint16(nt[20:22]),
		Characteristics:      binary.LittleEndian.Uint16(nt[22:24]),
	}

	optOff := ntOff + 4 + fileHeaderSize
	secOff := optOff + uint64(h.File.SizeOfOptionalHeader)

	if h.File.NumberOfSections == 0 {
		return nil, formatErr(ErrInvalidSectionCount, "NumberOfSections", int64(ntOff+6), "image has no sections")
	}
	secTable, ok := span(b, secOff, uint64(h.File.NumberOfSections)*sectionHeaderSize)
	if !ok {
		return nil, formatErr(ErrInvalidSectionCount, "NumberOfSections", int64(ntOff+6),
			"%d sections at 0x%X exceed file size %d", h.File.NumberOfSections, secOff, len(b))
	}

	if err := h.parseOptional(b, optOff); err != nil {
		return nil, err
	}

	if err := h.parseSections(secTable, secOff, uint64(len(b))); err != nil {
		return nil, err
	}

	h.Resolver = NewResolver(h.Sections)

	h.ChecksumOffset = int64(optOff + 64)
	h.ComputedChecksum = CalculateChecksum(b, h.ChecksumOffset)
	if h.Optional.CheckSum != 0 && h.Optional.CheckSum != h.ComputedChecksum {
		h.anomaly("stored checksum 0x%08X does not match computed 0x%08X", h.Optional.CheckSum, h.ComputedChecksum)
	}

	if ep := h.Optional.AddressOfEntryPoint; ep != 0 {
		if _, _, ok := h.Resolver.Section(ep); !ok {
			h.anomaly("entry point 0x%X is outside every section", ep)
		}
	}

	return h, nil
}

func (h *Header) parseOptional(b []byte, optOff uint64) error {
	size := uint64(h.File.SizeOfOptionalHeader)
	opt, ok := span(b, optOff, size)
	if !ok {
		return formatErr(ErrTruncated, "SizeOfOptionalHeader", int64(optOff-4), "optional header exceeds file size")
	}
	if size < 2 {
		return formatErr(ErrUnsupportedImageType, "SizeOfOptionalHeader", int64(optOff-4), "declared %d bytes", size)
	}

	o := &h.Optional
	o.Magic = binary.LittleEndian.Uint16(opt[0:2])

	var fixed uint64
	switch o.Magic {
	case IMAGE_NT_OPTIONAL_HDR32_MAGIC:
		fixed = optionalHeader32Size
	case IMAGE_NT_OPTIONAL_HDR64_MAGIC:
		fixed = optionalHeader64Size
	default:
		return formatErr(ErrUnsupportedImageType, "Magic", int64(optOff), "found 0x%04X", o.Magic)
	}
	if size < fixed {
		return formatErr(ErrUnsupportedImageType, "SizeOfOptionalHeader", int64(optOff-4),
			"declared %d bytes, layout 0x%X needs at least %d", size, o.Magic, fixed)
	}

	o.AddressOfEntryPoint = binary.LittleEndian.Uint32(opt[16:20])
	if o.Is64() {
		o.ImageBase = binary.LittleEndian.Uint64(opt[24:32])
		o.NumberOfRvaAndSizes = binary.LittleEndian.Uint32(opt[108:112])
	} else {
		o.ImageBase = uint64(binary.LittleEndian.Uint32(opt[28:32]))
		o.NumberOfRvaAndSizes = binary.LittleEndian.Uint32(opt[92:96])
	}
	o.SectionAlignment = binary.LittleEndian.Uint32(opt[32:36])
	o.FileAlignment = binary.LittleEndian.Uint32(opt[36:40])
	o.SizeOfImage = binary.LittleEndian.Uint32(opt[56:60])
	o.SizeOfHeaders = binary.LittleEndian.Uint32(opt[60:64])
	o.CheckSum = binary.LittleEndian.Uint32(opt[64:68])
	o.Subsystem = binary.LittleEndian.Uint16(opt[68:70])
	o.DllCharacteristics = binary.LittleEndian.Uint16(opt[70:72])

	consumed := fixed + uint64(o.NumberOfRvaAndSizes)*dataDirectorySize
	if consumed != size {
		return formatErr(ErrUnsupportedImageType, "SizeOfOptionalHeader", int64(optOff-4),
			"declared %d bytes but %d data directories need %d", size, o.NumberOfRvaAndSizes, consumed)
	}

	count := uint64(o.NumberOfRvaAndSizes)
	if count > maxDataDirectories {
		h.anomaly("%d data directories declared, only %d are used", count, maxDataDirectories)
		count = maxDataDirectories
	}
	o.DataDirectories = make([]DataDirectory, count)
	for i := uint64(0); i < count; i++ {
		d := opt[fixed+i*dataDirectorySize:]
		o.DataDirectories[i] = DataDirectory{
			VirtualAddress: binary.LittleEndian.Uint32(d[0:4]),
			Size:           binary.LittleEndian.Uint32(d[4:8]),
		}
	}

	return nil
}

func (h *Header) parseSections(table []byte, tableOff, fileSize uint64) error {
	h.Sections = make([]SectionHeader, h.File.NumberOfSections)

	for i := range h.Sections {
		raw := table[i*sectionHeaderSize : (i+1)*sectionHeaderSize]
		off := int64(tableOff) + int64(i*sectionHeaderSize)

		s := SectionHeader{
			Name:             strings.TrimRight(string(raw[0:8]), "\x00"),
			VirtualSize:      binary.LittleEndian.Uint32(raw[8:12]),
			VirtualAddress:   binary.LittleEndian.Uint32(raw[12:16]),
			SizeOfRawData:    binary.LittleEndian.Uint32(raw[16:20]),
			PointerToRawData: binary.LittleEndian.Uint32(raw[20:24]),
			Characteristics:  binary.LittleEndian.Uint32(raw[36:40]),
		}

		vEnd := uint64(s.VirtualAddress) + uint64(s.VirtualSize)
		if vEnd > math.MaxUint32 {
			return formatErr(ErrSectionOutOfBounds, "VirtualSize", off+8,
				"section %d (%q) VirtualAddress 0x%X + VirtualSize 0x%X overflows", i, s.Name, s.VirtualAddress, s.VirtualSize)
		}

		if s.SizeOfRawData != 0 {
			rawEnd := uint64(s.PointerToRawData) + uint64(s.SizeOfRawData)
			if rawEnd > fileSize {
				return formatErr(ErrSectionOutOfBounds, "SizeOfRawData", off+16,
					"section %d (%q) raw data 0x%X+0x%X exceeds file size %d",
					i, s.Name, s.PointerToRawData, s.SizeOfRawData, fileSize)
			}
		}

		if h.Optional.SizeOfImage != 0 && vEnd > uint64(h.Optional.SizeOfImage) {
			h.anomaly("section %q ends at 0x%X beyond SizeOfImage 0x%X", s.Name, vEnd, h.Optional.SizeOfImage)
		}
		if s.Characteristics&pe.IMAGE_SCN_MEM_WRITE != 0 && s.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE != 0 {
			h.anomaly("section %q is writable and executable", s.Name)
		}

		h.Sections[i] = s
	}

	return nil
}
