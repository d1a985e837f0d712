// Package petest builds small, well-formed PE images for tests.
//
// The layout is fixed: headers in the first 0x200 bytes, a .text section
// at RVA 0x1000 (file offset 0x200) and, when imports or exports are
// requested, an .rdata section at RVA 0x2000 (file offset 0x400) holding
// the export directory followed by the import directory.
package petest

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// Fixed layout values.
const (
	Lfanew          = 0x40
	FileAlignment   = 0x200
	TextRVA         = 0x1000
	TextOffset      = 0x200
	RdataRVA        = 0x2000
	RdataOffset     = 0x400
	ImageBase32     = 0x400000
	ImageBase64     = 0x140000000
	optionalOffset  = Lfanew + 24
	optional32Size  = 96 + 16*8
	optional64Size  = 112 + 16*8
	sectionHdrSize  = 40
	importDescSize  = 20
	exportDirSize   = 40
	textCharacter   = 0x60000020 // CODE | EXECUTE | READ
	rdataCharacter  = 0x40000040 // INITIALIZED_DATA | READ
	ordinalFlag32   = 0x80000000
	ordinalFlag64   = 0x8000000000000000
	fileDLL         = 0x2000
	fileExecutable  = 0x0002
	machineI386     = 0x014C
	machineAMD64    = 0x8664
	subsystemWinCUI = 3
)

// Symbol is one imported symbol. An empty Name imports by Ordinal.
type Symbol struct {
	Name    string
	Hint    uint16
	Ordinal uint16
}

// Import describes one import descriptor.
type Import struct {
	Module  string
	Symbols []Symbol
	// NoINT leaves OriginalFirstThunk zero so only the IAT names the symbols.
	NoINT bool
}

// Function is one export address table slot.
type Function struct {
	RVA       uint32
	Forwarder string // when set, the slot points at this string instead of RVA
}

// ExportName is one name-pointer table entry referring to Functions[Index].
type ExportName struct {
	Name  string
	Index uint16
}

// Exports describes the export directory.
type Exports struct {
	Module    string
	Base      uint32
	Functions []Function
	Names     []ExportName
}

// Builder describes the image to build.
type Builder struct {
	Is64      bool
	DLL       bool
	Timestamp uint32
	Imports   []Import
	Exports   *Exports
}

// Image is a built PE image plus the file offsets tests patch.
type Image struct {
	Data []byte

	SectionTable   int // file offset of the first section header
	ChecksumOffset int // file offset of OptionalHeader.CheckSum
	ImportTable    int // file offset of the first import descriptor, 0 if none
	ExportTable    int // file offset of IMAGE_EXPORT_DIRECTORY, 0 if none
	ImportRVA      uint32
	ExportRVA      uint32
}

// WriteFile writes the image into dir and returns its path.
func (img *Image) WriteFile(t testing.TB, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Build lays out the image.
func (b Builder) Build() *Image {
	img := &Image{}
	rdata := &blob{rva: RdataRVA}

	var exportDir, importDir [2]uint32
	if b.Exports != nil {
		exportDir = b.buildExports(rdata)
		img.ExportRVA = exportDir[0]
		img.ExportTable = RdataOffset + int(exportDir[0]-RdataRVA)
	}
	if len(b.Imports) > 0 {
		importDir = b.buildImports(rdata)
		img.ImportRVA = importDir[0]
		img.ImportTable = RdataOffset + int(importDir[0]-RdataRVA)
	}

	numSections := 1
	rdataRaw := alignUp(len(rdata.buf), FileAlignment)
	if len(rdata.buf) > 0 {
		numSections = 2
	}

	data := make([]byte, RdataOffset+rdataRaw)
	if numSections == 1 {
		data = data[:RdataOffset]
	}

	// DOS header.
	data[0], data[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(data[0x3C:], Lfanew)

	// NT signature and file header.
	copy(data[Lfanew:], "PE\x00\x00")
	fh := data[Lfanew+4:]
	optSize := optional32Size
	machine := uint16(machineI386)
	if b.Is64 {
		optSize = optional64Size
		machine = machineAMD64
	}
	characteristics := uint16(fileExecutable)
	if b.DLL {
		characteristics |= fileDLL
	}
	binary.LittleEndian.PutUint16(fh[0:], machine)
	binary.LittleEndian.PutUint16(fh[2:], uint16(numSections))
	binary.LittleEndian.PutUint32(fh[4:], b.Timestamp)
	binary.LittleEndian.PutUint16(fh[16:], uint16(optSize))
	binary.LittleEndian.PutUint16(fh[18:], characteristics)

	// Optional header.
	oh := data[optionalOffset:]
	sizeOfImage := uint32(RdataRVA)
	if numSections == 2 {
		sizeOfImage = RdataRVA + uint32(alignUp(len(rdata.buf), 0x1000))
	}
	binary.LittleEndian.PutUint32(oh[16:], TextRVA) // AddressOfEntryPoint
	binary.LittleEndian.PutUint32(oh[20:], TextRVA) // BaseOfCode
	if b.Is64 {
		binary.LittleEndian.PutUint16(oh[0:], 0x20B)
		binary.LittleEndian.PutUint64(oh[24:], ImageBase64)
		binary.LittleEndian.PutUint32(oh[108:], 16)
	} else {
		binary.LittleEndian.PutUint16(oh[0:], 0x10B)
		binary.LittleEndian.PutUint32(oh[28:], ImageBase32)
		binary.LittleEndian.PutUint32(oh[92:], 16)
	}
	binary.LittleEndian.PutUint32(oh[32:], 0x1000) // SectionAlignment
	binary.LittleEndian.PutUint32(oh[36:], FileAlignment)
	binary.LittleEndian.PutUint32(oh[56:], sizeOfImage)
	binary.LittleEndian.PutUint32(oh[60:], TextOffset) // SizeOfHeaders
	binary.LittleEndian.PutUint16(oh[68:], subsystemWinCUI)

	dirs := oh[optSize-16*8:]
	binary.LittleEndian.PutUint32(dirs[0:], exportDir[0])
	binary.LittleEndian.PutUint32(dirs[4:], exportDir[1])
	binary.LittleEndian.PutUint32(dirs[8:], importDir[0])
	binary.LittleEndian.PutUint32(dirs[12:], importDir[1])

	img.ChecksumOffset = optionalOffset + 64
	img.SectionTable = optionalOffset + optSize

	// Section table.
	text := data[img.SectionTable:]
	copy(text[0:8], ".text")
	binary.LittleEndian.PutUint32(text[8:], 0x10)
	binary.LittleEndian.PutUint32(text[12:], TextRVA)
	binary.LittleEndian.PutUint32(text[16:], FileAlignment)
	binary.LittleEndian.PutUint32(text[20:], TextOffset)
	binary.LittleEndian.PutUint32(text[36:], textCharacter)

	if numSections == 2 {
		rd := data[img.SectionTable+sectionHdrSize:]
		copy(rd[0:8], ".rdata")
		binary.LittleEndian.PutUint32(rd[8:], uint32(len(rdata.buf)))
		binary.LittleEndian.PutUint32(rd[12:], RdataRVA)
		binary.LittleEndian.PutUint32(rd[16:], uint32(rdataRaw))
		binary.LittleEndian.PutUint32(rd[20:], RdataOffset)
		binary.LittleEndian.PutUint32(rd[36:], rdataCharacter)
		copy(data[RdataOffset:], rdata.buf)
	}

	// .text: ret followed by int3 padding.
	data[TextOffset] = 0xC3
	for i := TextOffset + 1; i < TextOffset+0x10; i++ {
		data[i] = 0xCC
	}

	img.Data = data
	return img
}

func (b Builder) buildExports(bl *blob) [2]uint32 {
	e := b.Exports
	start := bl.alloc(exportDirSize)
	funcs := bl.alloc(4 * len(e.Functions))
	names := bl.alloc(4 * len(e.Names))
	ords := bl.alloc(2 * len(e.Names))

	var module uint32
	if e.Module != "" {
		module = bl.cstring(e.Module)
	}
	for i, n := range e.Names {
		bl.put32(names+uint32(4*i), bl.cstring(n.Name))
		bl.put16(ords+uint32(2*i), n.Index)
	}
	for k, f := range e.Functions {
		rva := f.RVA
		if f.Forwarder != "" {
			rva = bl.cstring(f.Forwarder)
		}
		bl.put32(funcs+uint32(4*k), rva)
	}

	bl.put32(start+12, module)
	bl.put32(start+16, e.Base)
	bl.put32(start+20, uint32(len(e.Functions)))
	bl.put32(start+24, uint32(len(e.Names)))
	bl.put32(start+28, funcs)
	bl.put32(start+32, names)
	bl.put32(start+36, ords)

	end := bl.rva + uint32(len(bl.buf))
	return [2]uint32{start, end - start}
}

func (b Builder) buildImports(bl *blob) [2]uint32 {
	width := 4
	if b.Is64 {
		width = 8
	}

	size := (len(b.Imports) + 1) * importDescSize
	descs := bl.alloc(size)

	for i, imp := range b.Imports {
		thunks := (len(imp.Symbols) + 1) * width
		intRVA := bl.alloc(thunks)
		iatRVA := bl.alloc(thunks)
		name := bl.cstring(imp.Module)

		for j, s := range imp.Symbols {
			var v uint64
			if s.Name == "" {
				v = uint64(s.Ordinal) | ordinalFlag32
				if b.Is64 {
					v = uint64(s.Ordinal) | ordinalFlag64
				}
			} else {
				v = uint64(bl.hintName(s.Hint, s.Name))
			}
			slot := uint32(j * width)
			bl.putThunk(intRVA+slot, v, width)
			bl.putThunk(iatRVA+slot, v, width)
		}

		d := descs + uint32(i*importDescSize)
		if !imp.NoINT {
			bl.put32(d, intRVA)
		}
		bl.put32(d+12, name)
		bl.put32(d+16, iatRVA)
	}

	return [2]uint32{descs, uint32(size)}
}

// blob is a growing section body addressed by RVA.
type blob struct {
	rva uint32
	buf []byte
}

func (bl *blob) alloc(n int) uint32 {
	for len(bl.buf)%4 != 0 {
		bl.buf = append(bl.buf, 0)
	}
	r := bl.rva + uint32(len(bl.buf))
	bl.buf = append(bl.buf, make([]byte, n)...)
	return r
}

func (bl *blob) cstring(s string) uint32 {
	r := bl.alloc(len(s) + 1)
	copy(bl.buf[r-bl.rva:], s)
	return r
}

func (bl *blob) hintName(hint uint16, s string) uint32 {
	r := bl.alloc(2 + len(s) + 1)
	bl.put16(r, hint)
	copy(bl.buf[r-bl.rva+2:], s)
	return r
}

func (bl *blob) put16(rva uint32, v uint16) {
	binary.LittleEndian.PutUint16(bl.buf[rva-bl.rva:], v)
}

func (bl *blob) put32(rva uint32, v uint32) {
	binary.LittleEndian.PutUint32(bl.buf[rva-bl.rva:], v)
}

func (bl *blob) putThunk(rva uint32, v uint64, width int) {
	if width == 8 {
		binary.LittleEndian.PutUint64(bl.buf[rva-bl.rva:], v)
		return
	}
	bl.put32(rva, uint32(v))
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}
