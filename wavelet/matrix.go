// Package wavelet provides the two succinct opcode stream representations
// used by the random-access brick encoders: a fixed 4-level wavelet matrix
// over a 16-symbol alphabet, and a variable 1-5 level Huffman-shaped
// wavelet matrix over the 6-symbol navigation/palette alphabet.
//
// Matrix.Build ports prefix_counting.cpp's bottom-up histogram
// construction rather than the textbook zero/one stable-partition
// recursion: each level's bit positions are derived from a running
// symbol-prefix histogram and a bit-reversal-permuted cumulative border
// array, instead of materializing and re-partitioning the symbol sequence
// at every level. bitReverseN computes the permutation bit-reversal.hpp's
// BitReversalPermutation provides as a static lookup table; both produce
// the same index for the same input, and computing it is cheaper here
// than porting a 512-entry constant table for alphabet sizes this package
// never exceeds.
package wavelet

import "github.com/kit-vcg/csgv-go/bitio"

// Levels is the fixed depth of a WaveletMatrix.
const Levels = 4

// AlphabetSize is the number of distinct symbols a WaveletMatrix can hold.
const AlphabetSize = 1 << Levels

// Matrix is a fixed 4-level wavelet matrix over a 16-symbol alphabet,
// supporting O(levels) Access and Rank backed by one concatenated bit
// vector and its flat-rank structure.
type Matrix struct {
	textSize     uint32
	bv           *bitio.BitVector
	fr           *bitio.FlatRank
	zerosInLevel [Levels]uint32
	onesBefore   [Levels]uint32
}

// Build constructs a Matrix over symbols, each of which must be < AlphabetSize.
func Build(symbols []uint32) *Matrix {
	n := uint32(len(symbols))
	bv := bitio.NewBitVector(n * Levels)

	var hist [AlphabetSize]uint32
	var zerosInLevel [Levels]uint32

	// Level 0 (MSB): one front-to-back scan both tallies the alphabet
	// histogram and emits the block's bits directly, since the level-0
	// partition is simply the input order split by its top bit.
	const topShift = Levels - 1
	var ones0 uint32
	for i, s := range symbols {
		hist[s]++
		bit := (s >> topShift) & 1
		if bit == 1 {
			ones0++
		}
		bv.Set(uint32(i), bit == 1)
	}
	zerosInLevel[0] = n - ones0

	// Levels 3..1: prefix counting. hist is repeatedly halved into the
	// histogram of the reduced level-bit prefix alphabet; borders
	// accumulates, in bit-reversal order of that reduced alphabet, each
	// prefix's next free write position within the level's [level*n,
	// (level+1)*n) block of bv. A single forward scan over symbols then
	// places every bit at its counted position.
	curAlphabetSize := uint32(AlphabetSize)
	for level := Levels - 1; level >= 1; level-- {
		curAlphabetSize >>= 1

		var aggregated [AlphabetSize]uint32
		for i := uint32(0); i < curAlphabetSize; i++ {
			aggregated[i] = hist[2*i] + hist[2*i+1]
		}
		hist = aggregated

		width := uint(level)
		var borders [AlphabetSize]uint32
		borders[0] = uint32(level) * n
		for i := uint32(1); i < curAlphabetSize; i++ {
			brv, brvPrev := bitReverseN(i, width), bitReverseN(i-1, width)
			borders[brv] = hist[brvPrev] + borders[brvPrev]
		}

		shift := uint(Levels - level - 1)
		var ones uint32
		for _, s := range symbols {
			prefix := s >> shift
			idx := prefix >> 1
			pos := borders[idx]
			borders[idx]++
			bit := prefix & 1
			if bit == 1 {
				ones++
			}
			bv.Set(pos, bit == 1)
		}
		zerosInLevel[level] = n - ones
	}

	fr := bitio.NewFlatRank(bv)
	var onesBefore [Levels]uint32
	for level := 0; level < Levels; level++ {
		onesBefore[level] = fr.Rank1(uint32(level) * n)
	}

	return &Matrix{textSize: n, bv: bv, fr: fr, zerosInLevel: zerosInLevel, onesBefore: onesBefore}
}

// bitReverseN reverses the low width bits of x.
func bitReverseN(x uint32, width uint) uint32 {
	var r uint32
	for i := uint(0); i < width; i++ {
		r = (r << 1) | (x & 1)
		x >>= 1
	}
	return r
}

// TextSize returns the number of symbols encoded.
func (m *Matrix) TextSize() uint32 {
	return m.textSize
}

// RawWords exposes the matrix's concatenated bit vector, e.g. for
// serializing it into a brick encoding.
func (m *Matrix) RawWords() []uint64 {
	return m.bv.RawWords()
}

// BitSize returns the number of bits in the matrix's concatenated bit
// vector (textSize * Levels).
func (m *Matrix) BitSize() uint32 {
	return m.bv.Size()
}

// Rebuild reconstructs a Matrix from a previously serialized bit vector,
// recomputing zerosInLevel and onesBefore from the bits themselves rather
// than from the original symbol sequence, which is not available when
// decoding a brick encoding.
func Rebuild(bv *bitio.BitVector) *Matrix {
	n := bv.Size() / Levels
	fr := bitio.NewFlatRank(bv)

	var zerosInLevel [Levels]uint32
	var onesBefore [Levels]uint32
	for level := 0; level < Levels; level++ {
		start := uint32(level) * n
		onesBefore[level] = fr.Rank1(start)
		onesInLevel := fr.Rank1(start+n) - onesBefore[level]
		zerosInLevel[level] = n - onesInLevel
	}

	return &Matrix{textSize: n, bv: bv, fr: fr, zerosInLevel: zerosInLevel, onesBefore: onesBefore}
}

// Access returns the symbol at the given text position.
func (m *Matrix) Access(position uint32) uint32 {
	pos := position
	var symbol uint32
	for level := 0; level < Levels; level++ {
		absIdx := uint32(level)*m.textSize + pos
		bit := m.bv.Access(absIdx)
		onesBeforePos := m.fr.Rank1(absIdx) - m.onesBefore[level]
		if bit {
			symbol = (symbol << 1) | 1
			pos = m.zerosInLevel[level] + onesBeforePos
		} else {
			symbol <<= 1
			pos -= onesBeforePos
		}
	}
	return symbol
}

// Rank returns the number of occurrences of symbol in the text positions
// [0, position).
func (m *Matrix) Rank(position, symbol uint32) uint32 {
	start, pos := uint32(0), position
	for level := 0; level < Levels; level++ {
		bit := (symbol >> uint(Levels-1-level)) & 1
		levelBase := uint32(level) * m.textSize
		onesBeforeStart := m.fr.Rank1(levelBase+start) - m.onesBefore[level]
		onesBeforePos := m.fr.Rank1(levelBase+pos) - m.onesBefore[level]
		if bit == 1 {
			start = m.zerosInLevel[level] + onesBeforeStart
			pos = m.zerosInLevel[level] + onesBeforePos
		} else {
			start -= onesBeforeStart
			pos -= onesBeforePos
		}
	}
	return pos - start
}

// ByteSize estimates the in-memory footprint of this matrix, for reporting
// compression statistics.
func (m *Matrix) ByteSize() int {
	return (1+2*Levels)*4 + len(m.bv.RawWords())*8 + m.fr.RawWordCount()*8
}
