package pe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/ZacharyZcR/PEInspect/internal/pe/petest"
)

func parseBuilt(t *testing.T, data []byte) (*Image, *Header) {
	t.Helper()
	img := NewImage("test.exe", data)
	h, err := Parse(img)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return img, h
}

func TestExtractImports(t *testing.T) {
	tests := []struct {
		name    string
		builder petest.Builder
		want    []ImportEntry
	}{
		{
			name: "One module by name",
			builder: petest.Builder{
				Imports: []petest.Import{
					{Module: "A.dll", Symbols: []petest.Symbol{{Name: "Foo"}, {Name: "Bar"}}},
				},
			},
			want: []ImportEntry{
				{Module: "A.dll", Symbols: []Symbol{ByName("Foo"), ByName("Bar")}},
			},
		},
		{
			name: "PE32+ names and ordinals keep order",
			builder: petest.Builder{
				Is64: true,
				Imports: []petest.Import{
					{Module: "KERNEL32.dll", Symbols: []petest.Symbol{{Name: "ExitProcess", Hint: 7}, {Ordinal: 42}}},
					{Module: "WS2_32.dll", Symbols: []petest.Symbol{{Ordinal: 115}, {Name: "connect"}}},
				},
			},
			want: []ImportEntry{
				{Module: "KERNEL32.dll", Symbols: []Symbol{ByName("ExitProcess"), ByOrdinal(42)}},
				{Module: "WS2_32.dll", Symbols: []Symbol{ByOrdinal(115), ByName("connect")}},
			},
		},
		{
			name: "IAT used when INT is missing",
			builder: petest.Builder{
				Imports: []petest.Import{
					{Module: "user32.dll", Symbols: []petest.Symbol{{Name: "MessageBoxA"}}, NoINT: true},
				},
			},
			want: []ImportEntry{
				{Module: "user32.dll", Symbols: []Symbol{ByName("MessageBoxA")}},
			},
		},
		{
			name: "Repeated module merges into first entry",
			builder: petest.Builder{
				Imports: []petest.Import{
					{Module: "KERNEL32.dll", Symbols: []petest.Symbol{{Name: "Sleep"}}},
					{Module: "msvcrt.dll", Symbols: []petest.Symbol{{Name: "printf"}}},
					{Module: "kernel32.dll", Symbols: []petest.Symbol{{Name: "GetTickCount"}}},
				},
			},
			want: []ImportEntry{
				{Module: "KERNEL32.dll", Symbols: []Symbol{ByName("Sleep"), ByName("GetTickCount")}},
				{Module: "msvcrt.dll", Symbols: []Symbol{ByName("printf")}},
			},
		},
		{
			name: "Module without symbols",
			builder: petest.Builder{
				Imports: []petest.Import{{Module: "empty.dll"}},
			},
			want: []ImportEntry{{Module: "empty.dll"}},
		},
		{
			name:    "No import directory",
			builder: petest.Builder{},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, h := parseBuilt(t, tt.builder.Build().Data)

			got, err := ExtractImports(img, h)
			if err != nil {
				t.Fatalf("ExtractImports() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractImports() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractImportsErrors(t *testing.T) {
	built := petest.Builder{
		Imports: []petest.Import{
			{Module: "A.dll", Symbols: []petest.Symbol{{Name: "Foo"}, {Name: "Bar"}}},
		},
	}.Build()

	tests := []struct {
		name    string
		mutate  func(b []byte)
		wantErr error
	}{
		{
			name: "Non-ASCII module name",
			mutate: func(b []byte) {
				b[bytes.Index(b, []byte("A.dll"))] = 0xE9
			},
			wantErr: ErrEncoding,
		},
		{
			name: "Control character in symbol name",
			mutate: func(b []byte) {
				b[bytes.Index(b, []byte("Bar"))+1] = 0x07
			},
			wantErr: ErrEncoding,
		},
		{
			name: "Module name RVA outside every section",
			mutate: func(b []byte) {
				binary.LittleEndian.PutUint32(b[built.ImportTable+12:], 0x00800000)
			},
			wantErr: ErrUnresolvableRVA,
		},
		{
			name: "Import directory RVA outside every section",
			mutate: func(b []byte) {
				binary.LittleEndian.PutUint32(b[petest.Lfanew+24+96+8:], 0x00900000)
			},
			wantErr: ErrUnresolvableRVA,
		},
		{
			name: "Hint/name RVA outside every section",
			mutate: func(b []byte) {
				oft := binary.LittleEndian.Uint32(b[built.ImportTable:])
				off := petest.RdataOffset + int(oft-petest.RdataRVA)
				binary.LittleEndian.PutUint32(b[off:], 0x00700000)
			},
			wantErr: ErrUnresolvableRVA,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append([]byte(nil), built.Data...)
			tt.mutate(data)
			img, h := parseBuilt(t, data)

			got, err := ExtractImports(img, h)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ExtractImports() = %v, %v, want error %v", got, err, tt.wantErr)
			}
		})
	}
}

// handBuiltHeader maps a single section at RVA 0x1000 onto the whole of b
// and points the import directory at its start.
func handBuiltHeader(b []byte, is64 bool) *Header {
	sections := []SectionHeader{{
		Name:             ".idata",
		VirtualAddress:   0x1000,
		VirtualSize:      uint32(len(b)),
		SizeOfRawData:    uint32(len(b)),
		PointerToRawData: 0,
	}}
	magic := uint16(IMAGE_NT_OPTIONAL_HDR32_MAGIC)
	if is64 {
		magic = IMAGE_NT_OPTIONAL_HDR64_MAGIC
	}
	return &Header{
		Optional: OptionalHeader{
			Magic: magic,
			DataDirectories: []DataDirectory{
				{},
				{VirtualAddress: 0x1000, Size: uint32(len(b))},
			},
		},
		Sections: sections,
		Resolver: NewResolver(sections),
	}
}

func TestExtractImportsUnterminated(t *testing.T) {
	// [0:20] descriptor, [20:40] same descriptor again, [40:48] "A.dll",
	// [48:56] empty thunk array. The walk reaches the end of the section
	// before an all-zero descriptor.
	b := make([]byte, 56)
	desc := make([]byte, 20)
	binary.LittleEndian.PutUint32(desc[0:], 0x1000+48)  // OriginalFirstThunk
	binary.LittleEndian.PutUint32(desc[12:], 0x1000+40) // Name
	binary.LittleEndian.PutUint32(desc[16:], 0x1000+48) // FirstThunk
	copy(b[0:], desc)
	copy(b[20:], desc)
	copy(b[40:], "A.dll")

	_, err := ExtractImports(NewImage("crafted", b), handBuiltHeader(b, false))
	if !errors.Is(err, ErrUnterminatedTable) {
		t.Fatalf("ExtractImports() error = %v, want %v", err, ErrUnterminatedTable)
	}

	var fe *FormatError
	if !errors.As(err, &fe) || fe.Field != "IMAGE_IMPORT_DESCRIPTOR" {
		t.Errorf("ExtractImports() error = %#v, want descriptor FormatError", err)
	}
}

func TestExtractImportsUnterminatedThunks(t *testing.T) {
	// The thunk array at [48:56] never reaches a zero entry.
	b := make([]byte, 56)
	binary.LittleEndian.PutUint32(b[0:], 0x1000+48)
	binary.LittleEndian.PutUint32(b[12:], 0x1000+40)
	copy(b[40:], "A.dll")
	binary.LittleEndian.PutUint32(b[48:], 0x80000001)
	binary.LittleEndian.PutUint32(b[52:], 0x80000002)

	_, err := ExtractImports(NewImage("crafted", b), handBuiltHeader(b, false))
	if !errors.Is(err, ErrUnterminatedTable) {
		t.Fatalf("ExtractImports() error = %v, want %v", err, ErrUnterminatedTable)
	}
}

func TestExtractImportsWideThunkRVA(t *testing.T) {
	// A PE32+ thunk without the ordinal flag whose value does not fit an RVA.
	b := make([]byte, 64)
	binary.LittleEndian.PutUint32(b[0:], 0x1000+48)
	binary.LittleEndian.PutUint32(b[12:], 0x1000+40)
	copy(b[40:], "A.dll")
	binary.LittleEndian.PutUint64(b[48:], 0x0000000100001000)

	_, err := ExtractImports(NewImage("crafted", b), handBuiltHeader(b, true))
	if !errors.Is(err, ErrUnresolvableRVA) {
		t.Fatalf("ExtractImports() error = %v, want %v", err, ErrUnresolvableRVA)
	}
}

func TestSymbol(t *testing.T) {
	named := ByName("Foo")
	if name, ok := named.Name(); !ok || name != "Foo" {
		t.Errorf("ByName().Name() = %q, %v", name, ok)
	}
	if _, ok := named.Ordinal(); ok {
		t.Errorf("ByName().Ordinal() ok = true, want false")
	}

	ord := ByOrdinal(17)
	if v, ok := ord.Ordinal(); !ok || v != 17 {
		t.Errorf("ByOrdinal().Ordinal() = %d, %v", v, ok)
	}
	if _, ok := ord.Name(); ok {
		t.Errorf("ByOrdinal().Name() ok = true, want false")
	}
	if ord.String() != "Ordinal_17" || named.String() != "Foo" {
		t.Errorf("String() = %q, %q", ord.String(), named.String())
	}
}

// sharedThunkImports lays out descs descriptors that all name "A.dll" and
// share one thunk array of thunks ordinal entries.
func sharedThunkImports(descs, thunks int) []byte {
	nameOff := (descs + 1) * importDescriptorSize
	thunkOff := nameOff + 8
	b := make([]byte, thunkOff+(thunks+1)*4)

	for i := 0; i < descs; i++ {
		d := b[i*importDescriptorSize:]
		binary.LittleEndian.PutUint32(d[0:], uint32(0x1000+thunkOff))
		binary.LittleEndian.PutUint32(d[12:], uint32(0x1000+nameOff))
		binary.LittleEndian.PutUint32(d[16:], uint32(0x1000+thunkOff))
	}
	copy(b[nameOff:], "A.dll")
	for i := 0; i < thunks; i++ {
		binary.LittleEndian.PutUint32(b[thunkOff+4*i:], ordinalFlag32|uint32(i%0xFFFF+1))
	}
	return b
}

func TestExtractImportsLimits(t *testing.T) {
	tests := []struct {
		name        string
		descs       int
		thunks      int
		wantSymbols int
		wantField   string
	}{
		{
			name:  "Descriptors at limit",
			descs: maxImportDescriptors,
		},
		{
			name:      "Too many descriptors",
			descs:     maxImportDescriptors + 1,
			wantField: "IMAGE_IMPORT_DESCRIPTOR",
		},
		{
			name:        "Thunk array at limit",
			descs:       1,
			thunks:      maxImportSymbols,
			wantSymbols: maxImportSymbols,
		},
		{
			name:      "Thunk array over limit",
			descs:     1,
			thunks:    maxImportSymbols + 1,
			wantField: "IMAGE_THUNK_DATA",
		},
		{
			name:        "Shared thunk array within total",
			descs:       maxTotalImportSymbols / maxImportSymbols,
			thunks:      maxImportSymbols,
			wantSymbols: maxTotalImportSymbols,
		},
		{
			name:      "Shared thunk array repeated past total",
			descs:     maxTotalImportSymbols/maxImportSymbols + 1,
			thunks:    maxImportSymbols,
			wantField: "IMAGE_IMPORT_DESCRIPTOR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := sharedThunkImports(tt.descs, tt.thunks)

			got, err := ExtractImports(NewImage("crafted", b), handBuiltHeader(b, false))
			if tt.wantField != "" {
				var fe *FormatError
				if !errors.Is(err, ErrTableOutOfBounds) || !errors.As(err, &fe) || fe.Field != tt.wantField {
					t.Fatalf("ExtractImports() error = %v, want %v on %s", err, ErrTableOutOfBounds, tt.wantField)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractImports() error = %v", err)
			}
			if len(got) != 1 || got[0].Module != "A.dll" {
				t.Fatalf("ExtractImports() = %d modules, want one A.dll", len(got))
			}
			if len(got[0].Symbols) != tt.wantSymbols {
				t.Errorf("len(Symbols) = %d, want %d", len(got[0].Symbols), tt.wantSymbols)
			}
		})
	}
}
