package pe

import "encoding/binary"

// CalculateChecksum computes the PE image checksum of data, skipping the
// four-byte CheckSum field at checksumOffset. Pass a negative offset to
// include every dword.
func CalculateChecksum(data []byte, checksumOffset int64) uint32 {
	var checksum uint64
	var last [4]byte

	skip := int64(-1)
	if checksumOffset >= 0 {
		skip = checksumOffset / 4
	}

	for i := int64(0); i*4 < int64(len(data)); i++ {
		if i == skip {
			continue
		}

		var dword uint32
		if rest := data[i*4:]; len(rest) >= 4 {
			dword = binary.LittleEndian.Uint32(rest)
		} else {
			// Zero-pad the trailing partial dword.
			copy(last[:], rest)
			dword = binary.LittleEndian.Uint32(last[:])
		}

		checksum += uint64(dword)
		if checksum > 0xFFFFFFFF {
			checksum = (checksum & 0xFFFFFFFF) + (checksum >> 32)
		}
	}

	checksum = (checksum & 0xFFFF) + (checksum >> 16)
	checksum += checksum >> 16
	checksum &= 0xFFFF

	return uint32(checksum + uint64(len(data)))
}
