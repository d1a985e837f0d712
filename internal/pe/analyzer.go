package pe

import (
	"debug/pe"
	"fmt"
	"time"
)

// Summary is the reportable view of a parsed header.
type Summary struct {
	Architecture     string          `json:"architecture"`
	Is64             bool            `json:"is64"`
	Subsystem        string          `json:"subsystem"`
	EntryPoint       uint32          `json:"entry_point"`
	ImageBase        uint64          `json:"image_base"`
	Timestamp        time.Time       `json:"timestamp"`
	Characteristics  uint16          `json:"characteristics"`
	IsDLL            bool            `json:"is_dll"`
	Checksum         ChecksumInfo    `json:"checksum"`
	HasCertificate   bool            `json:"has_certificate"`
	Sections         []SectionInfo   `json:"sections"`
	TLS              *TLSInfo        `json:"tls,omitempty"`
	Relocations      *RelocationInfo `json:"relocations,omitempty"`
	Resources        *ResourceInfo   `json:"resources,omitempty"`
	Anomalies        []string        `json:"anomalies,omitempty"`
	NumberOfSections int             `json:"number_of_sections"`
}

// ChecksumInfo contains PE checksum verification results.
type ChecksumInfo struct {
	Stored   uint32 `json:"stored"`
	Computed uint32 `json:"computed"`
	Valid    bool   `json:"valid"`
}

// SectionInfo contains information about a PE section.
type SectionInfo struct {
	Name            string  `json:"name"`
	VirtualAddress  uint32  `json:"virtual_address"`
	VirtualSize     uint32  `json:"virtual_size"`
	Size            uint32  `json:"raw_size"`
	Offset          uint32  `json:"raw_offset"`
	Characteristics uint32  `json:"characteristics"`
	Permissions     string  `json:"permissions"`
	Entropy         float64 `json:"entropy"`
}

// Summarize derives the header summary of img. It reads section data for
// entropy but never fails: h has already been validated by Parse.
func Summarize(img *Image, h *Header) Summary {
	s := Summary{
		Architecture:     getArchitecture(h.File.Machine),
		Is64:             h.Optional.Is64(),
		Subsystem:        getSubsystem(h.Optional.Subsystem),
		EntryPoint:       h.Optional.AddressOfEntryPoint,
		ImageBase:        h.Optional.ImageBase,
		Timestamp:        time.Unix(int64(h.File.TimeDateStamp), 0).UTC(),
		Characteristics:  h.File.Characteristics,
		IsDLL:            h.File.Characteristics&pe.IMAGE_FILE_DLL != 0,
		NumberOfSections: len(h.Sections),
		Checksum: ChecksumInfo{
			Stored:   h.Optional.CheckSum,
			Computed: h.ComputedChecksum,
			// An unset checksum is not checked by the loader for user-mode images.
			Valid: h.Optional.CheckSum == 0 || h.Optional.CheckSum == h.ComputedChecksum,
		},
		Anomalies: append([]string(nil), h.Anomalies...),
	}

	if cert, ok := h.Directory(DirectoryCertificate); ok && cert.Size != 0 {
		s.HasCertificate = true
	}

	// Optional directories degrade to anomalies instead of failing the file.
	tls, err := ParseTLS(img, h)
	if err != nil {
		s.Anomalies = append(s.Anomalies, fmt.Sprintf("TLS directory: %v", err))
	}
	s.TLS = tls
	relocs, err := ParseRelocations(img, h)
	if err != nil {
		s.Anomalies = append(s.Anomalies, fmt.Sprintf("relocation directory: %v", err))
	}
	s.Relocations = relocs
	resources, err := ParseResources(img, h)
	if err != nil {
		s.Anomalies = append(s.Anomalies, fmt.Sprintf("resource directory: %v", err))
	}
	s.Resources = resources

	b := img.Bytes()
	for _, section := range h.Sections {
		s.Sections = append(s.Sections, SectionInfo{
			Name:            section.Name,
			VirtualAddress:  section.VirtualAddress,
			VirtualSize:     section.VirtualSize,
			Size:            section.SizeOfRawData,
			Offset:          section.PointerToRawData,
			Characteristics: section.Characteristics,
			Permissions:     getSectionPermissions(section.Characteristics),
			Entropy:         SectionEntropy(b, section),
		})
	}

	return s
}

func getArchitecture(machine uint16) string {
	switch machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		return "x86 (32-bit)"
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return "x64 (64-bit)"
	case pe.IMAGE_FILE_MACHINE_ARM, pe.IMAGE_FILE_MACHINE_ARMNT:
		return "ARM"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return "ARM64"
	case pe.IMAGE_FILE_MACHINE_IA64:
		return "IA-64"
	default:
		return fmt.Sprintf("unknown (0x%X)", machine)
	}
}

func getSubsystem(subsystem uint16) string {
	switch subsystem {
	case pe.IMAGE_SUBSYSTEM_WINDOWS_GUI:
		return "Windows GUI"
	case pe.IMAGE_SUBSYSTEM_WINDOWS_CUI:
		return "Windows console"
	case pe.IMAGE_SUBSYSTEM_NATIVE:
		return "Native"
	case pe.IMAGE_SUBSYSTEM_EFI_APPLICATION:
		return "EFI application"
	default:
		return fmt.Sprintf("unknown (0x%X)", subsystem)
	}
}

func getSectionPermissions(c uint32) string {
	var perms [3]rune
	perms[0] = '-'
	perms[1] = '-'
	perms[2] = '-'

	if c&pe.IMAGE_SCN_MEM_READ != 0 {
		perms[0] = 'R'
	}
	if c&pe.IMAGE_SCN_MEM_WRITE != 0 {
		perms[1] = 'W'
	}
	if c&pe.IMAGE_SCN_MEM_EXECUTE != 0 {
		perms[2] = 'X'
	}

	return string(perms[:])
}
