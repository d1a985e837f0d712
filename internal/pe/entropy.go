package pe

import (
	"math"
)

// CalculateEntropy calculates Shannon entropy for a given data block.
// Entropy value ranges from 0 (completely uniform) to 8 (completely random).
// High entropy (>7.0) often indicates encryption or compression (packed malware).
func CalculateEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0.0
	}

	var freq [256]int
	for _, b := range data {
		freq[b]++
	}

	// H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	dataLen := float64(len(data))

	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / dataLen
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// SectionEntropy returns the entropy of the raw data of s within b.
func SectionEntropy(b []byte, s SectionHeader) float64 {
	data, ok := span(b, uint64(s.PointerToRawData), uint64(s.SizeOfRawData))
	if !ok {
		return 0.0
	}
	return CalculateEntropy(data)
}
