package pe

import (
	"encoding/binary"
	"fmt"
)

const (
	tlsDirectory32Size = 24
	tlsDirectory64Size = 40

	// maxTLSCallbacks bounds the callback array walk.
	maxTLSCallbacks = 100
)

// TLSInfo contains TLS (Thread Local Storage) information.
type TLSInfo struct {
	StartAddressOfRawData uint64   `json:"start_address_of_raw_data"`
	EndAddressOfRawData   uint64   `json:"end_address_of_raw_data"`
	AddressOfIndex        uint64   `json:"address_of_index"`
	AddressOfCallBacks    uint64   `json:"address_of_callbacks"`
	SizeOfZeroFill        uint32   `json:"size_of_zero_fill"`
	Characteristics       uint32   `json:"characteristics"`
	Callbacks             []uint64 `json:"callbacks,omitempty"` // virtual addresses
}

// ParseTLS reads the TLS directory. It returns nil when the image has none.
// Callback addresses are virtual addresses; the array is read until its
// NULL terminator, the end of the section or maxTLSCallbacks entries.
func ParseTLS(img *Image, h *Header) (*TLSInfo, error) {
	dir, ok := h.Directory(DirectoryTLS)
	if !ok || dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil, nil
	}

	b := img.Bytes()
	is64 := h.Optional.Is64()
	size := uint64(tlsDirectory32Size)
	if is64 {
		size = tlsDirectory64Size
	}

	off, err := h.Resolver.resolveTable(dir.VirtualAddress, size, "IMAGE_TLS_DIRECTORY")
	if err != nil {
		return nil, err
	}
	raw, ok := span(b, off, size)
	if !ok {
		return nil, formatErr(ErrTruncated, "IMAGE_TLS_DIRECTORY", int64(off), "")
	}

	info := &TLSInfo{}
	if is64 {
		info.StartAddressOfRawData = binary.LittleEndian.Uint64(raw[0:8])
		info.EndAddressOfRawData = binary.LittleEndian.Uint64(raw[8:16])
		info.AddressOfIndex = binary.LittleEndian.Uint64(raw[16:24])
		info.AddressOfCallBacks = binary.LittleEndian.Uint64(raw[24:32])
		info.SizeOfZeroFill = binary.LittleEndian.Uint32(raw[32:36])
		info.Characteristics = binary.LittleEndian.Uint32(raw[36:40])
	} else {
		info.StartAddressOfRawData = uint64(binary.LittleEndian.Uint32(raw[0:4]))
		info.EndAddressOfRawData = uint64(binary.LittleEndian.Uint32(raw[4:8]))
		info.AddressOfIndex = uint64(binary.LittleEndian.Uint32(raw[8:12]))
		info.AddressOfCallBacks = uint64(binary.LittleEndian.Uint32(raw[12:16]))
		info.SizeOfZeroFill = binary.LittleEndian.Uint32(raw[16:20])
		info.Characteristics = binary.LittleEndian.Uint32(raw[20:24])
	}

	if info.AddressOfCallBacks == 0 {
		return info, nil
	}

	callbacks, err := h.readTLSCallbacks(b, info.AddressOfCallBacks)
	if err != nil {
		return info, err
	}
	info.Callbacks = callbacks
	return info, nil
}

func (h *Header) readTLSCallbacks(b []byte, va uint64) ([]uint64, error) {
	base := h.Optional.ImageBase
	if va < base || va-base > 0xFFFFFFFF {
		return nil, formatErr(ErrUnresolvableRVA, "AddressOfCallBacks", -1,
			"VA 0x%X is outside the image at base 0x%X", va, base)
	}

	off, avail, err := h.Resolver.Resolve(uint32(va - base))
	if err != nil {
		return nil, fmt.Errorf("TLS callbacks: %w", err)
	}

	width := uint64(4)
	if h.Optional.Is64() {
		width = 8
	}

	var callbacks []uint64
	for pos := uint64(0); pos+width <= avail && len(callbacks) < maxTLSCallbacks; pos += width {
		var cb uint64
		if width == 8 {
			v, ok := u64At(b, off+pos)
			if !ok {
				break
			}
			cb = v
		} else {
			v, ok := u32At(b, off+pos)
			if !ok {
				break
			}
			cb = uint64(v)
		}
		if cb == 0 {
			return callbacks, nil
		}
		callbacks = append(callbacks, cb)
	}

	if len(callbacks) == maxTLSCallbacks {
		return callbacks, nil
	}
	return callbacks, formatErr(ErrUnterminatedTable, "AddressOfCallBacks", int64(off),
		"callback array has no terminator after %d entries", len(callbacks))
}
