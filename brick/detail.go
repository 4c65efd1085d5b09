package brick

// packWords serializes 64-bit words as little-endian (lo, hi) uint32
// pairs into dst, the layout every wavelet-matrix-backed brick encoding
// uses for its bit vector.
func packWords(dst []uint32, words []uint64) {
	i := 0
	for _, w := range words {
		dst[i] = uint32(w)
		i++
		dst[i] = uint32(w >> 32)
		i++
	}
}

// unpackWords is the inverse of packWords, reading wordCount uint64s
// starting at src[0].
func unpackWords(src []uint32, wordCount uint32) []uint64 {
	words := make([]uint64, wordCount)
	p := uint32(0)
	for i := uint32(0); i < wordCount; i++ {
		lo := uint64(src[p])
		p++
		hi := uint64(src[p])
		p++
		words[i] = lo | (hi << 32)
	}
	return words
}
