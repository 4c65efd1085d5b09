package wavelet

import "github.com/kit-vcg/csgv-go/bitio"

// HWMLevels is the maximum depth of a Huffman-shaped wavelet matrix.
const HWMLevels = 5

// HWMAlphabetSize is the number of distinct opcodes a HuffmanMatrix can hold.
const HWMAlphabetSize = 6

// Opcode identifies one of the six navigation/palette opcodes addressed by
// a Huffman-shaped wavelet matrix (PALETTE_D has no wavelet-matrix
// representation; it only exists in the nibble encoding, see brick).
type Opcode uint32

const (
	OpParent Opcode = iota
	OpNeighborX
	OpNeighborY
	OpNeighborZ
	OpPaletteAdv
	OpPaletteLast
)

// huffmanCode is a fixed inverted canonical Huffman code: any bit of value
// 1 terminates the codeword. PALETTE_LAST is the only all-zero code, at the
// maximum length; it is implied once every other code has been ruled out.
type huffmanCode struct {
	length  uint32
	allZero bool
}

// symbolToCode mirrors the original's SYMBOL2CHC table exactly: codes
// 1, 01, 001, 0001, 00001, 00000 for PARENT, NEIGHBOR_X, NEIGHBOR_Y,
// NEIGHBOR_Z, PALETTE_ADV, PALETTE_LAST respectively.
var symbolToCode = [HWMAlphabetSize]huffmanCode{
	OpParent:      {length: 1},
	OpNeighborX:   {length: 2},
	OpNeighborY:   {length: 3},
	OpNeighborZ:   {length: 4},
	OpPaletteAdv:  {length: 5},
	OpPaletteLast: {length: 5, allZero: true},
}

// bitAt returns the bit of this code at the given 0-indexed level.
func (c huffmanCode) bitAt(level uint32) uint32 {
	if c.allZero || level != c.length-1 {
		return 0
	}
	return 1
}

// HuffmanMatrix is a variable 1-5 level wavelet matrix over the 6-opcode
// alphabet, shaped by a fixed canonical Huffman code so that frequent
// opcodes (PARENT) cost one bit and rare ones (PALETTE_ADV/LAST) cost five.
type HuffmanMatrix struct {
	textSize    uint32
	bv          *bitio.BitVector
	fr          *bitio.FlatRank
	onesBefore  [HWMLevels]uint32
	levelStarts [HWMLevels + 1]uint32
}

// BuildHuffman constructs a HuffmanMatrix over opcodes.
func BuildHuffman(opcodes []Opcode) *HuffmanMatrix {
	n := uint32(len(opcodes))

	var levelCounts [HWMLevels]uint32
	for _, op := range opcodes {
		cl := symbolToCode[op].length
		for l := uint32(0); l < cl; l++ {
			levelCounts[l]++
		}
	}
	var levelStarts [HWMLevels + 1]uint32
	for l := 0; l < HWMLevels; l++ {
		levelStarts[l+1] = levelStarts[l] + levelCounts[l]
	}

	bv := bitio.NewBitVector(levelStarts[HWMLevels])
	cursor := levelStarts // copy, used as per-level write position

	active := make([]Opcode, len(opcodes))
	copy(active, opcodes)
	for level := 0; level < HWMLevels; level++ {
		next := active[:0]
		for _, op := range active {
			bit := symbolToCode[op].bitAt(uint32(level))
			bv.Set(cursor[level], bit == 1)
			cursor[level]++
			if bit == 0 {
				next = append(next, op)
			}
		}
		active = next
	}

	fr := bitio.NewFlatRank(bv)
	var onesBefore [HWMLevels]uint32
	for l := 0; l < HWMLevels; l++ {
		onesBefore[l] = fr.Rank1(levelStarts[l])
	}

	return &HuffmanMatrix{textSize: n, bv: bv, fr: fr, onesBefore: onesBefore, levelStarts: levelStarts}
}

// TextSize returns the number of opcodes encoded.
func (m *HuffmanMatrix) TextSize() uint32 {
	return m.textSize
}

// RawWords exposes the matrix's concatenated bit vector, e.g. for
// serializing it into a brick encoding.
func (m *HuffmanMatrix) RawWords() []uint64 {
	return m.bv.RawWords()
}

// BitSize returns the total number of bits across all levels.
func (m *HuffmanMatrix) BitSize() uint32 {
	return m.bv.Size()
}

// RebuildHuffman reconstructs a HuffmanMatrix from a previously serialized
// bit vector and its level-start table (levelStarts must be stored
// alongside the encoding; unlike Matrix's fixed per-level split, a Huffman
// matrix's level sizes depend on the opcode frequencies and cannot be
// re-derived from the bits alone).
func RebuildHuffman(bv *bitio.BitVector, levelStarts [HWMLevels + 1]uint32) *HuffmanMatrix {
	fr := bitio.NewFlatRank(bv)
	var onesBefore [HWMLevels]uint32
	for l := 0; l < HWMLevels; l++ {
		onesBefore[l] = fr.Rank1(levelStarts[l])
	}
	return &HuffmanMatrix{textSize: levelStarts[1], bv: bv, fr: fr, onesBefore: onesBefore, levelStarts: levelStarts}
}

// LevelStarts returns the bit index at which each level's segment begins,
// stored in the brick header for variable-bit-length decoding.
func (m *HuffmanMatrix) LevelStarts() [HWMLevels + 1]uint32 {
	return m.levelStarts
}

// Access returns the opcode at the given text position.
func (m *HuffmanMatrix) Access(position uint32) Opcode {
	pos := position
	for level := 0; level < HWMLevels; level++ {
		absIdx := m.levelStarts[level] + pos
		bit := m.bv.Access(absIdx)
		onesBeforePos := m.fr.Rank1(absIdx) - m.onesBefore[level]
		if bit {
			return levelToTerminalSymbol(level)
		}
		pos -= onesBeforePos
	}
	return OpPaletteLast
}

// levelToTerminalSymbol returns which opcode terminates with a 1-bit at
// the given level.
func levelToTerminalSymbol(level int) Opcode {
	return Opcode(level)
}

// Rank returns the number of occurrences of op in the text positions
// [0, position).
func (m *HuffmanMatrix) Rank(position uint32, op Opcode) uint32 {
	code := symbolToCode[op]
	pos := position
	for level := uint32(0); level < code.length; level++ {
		absIdx := m.levelStarts[level] + pos
		onesBeforePos := m.fr.Rank1(absIdx) - m.onesBefore[level]
		if code.bitAt(level) == 1 {
			return onesBeforePos
		}
		pos -= onesBeforePos
	}
	return pos
}

// ByteSize estimates the in-memory footprint of this matrix.
func (m *HuffmanMatrix) ByteSize() int {
	return (4+3*HWMLevels)*4 + len(m.bv.RawWords())*8 + m.fr.RawWordCount()*8
}
