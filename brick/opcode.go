// Package brick implements the three concrete brick encoding strategies
// (plain nibble, random-access nibble, and random-access wavelet-matrix /
// Huffman-wavelet-matrix) that turn one brick's multigrid into a bit-exact
// opcode stream, and decode it back.
package brick

import (
	"errors"

	"github.com/kit-vcg/csgv-go/multigrid"
)

// errNoRandomAccess is returned by DecodeVoxel on encoders that only
// support serial, front-to-back brick decoding.
var errNoRandomAccess = errors.New("brick: encoder does not support random access")

// Opcode is one of the seven nibble-form opcodes (the 8th bit, StopBit, is
// OR-ed in separately rather than being part of the opcode's own identity).
type Opcode uint32

const (
	OpParent Opcode = iota
	OpNeighborX
	OpNeighborY
	OpNeighborZ
	OpPaletteD
	OpPaletteAdv
	OpPaletteLast
)

// StopBit flags, within a nibble, that the node is a constant_subregion and
// its entire finer subtree is omitted from the encoding.
const StopBit Opcode = 8

// OpMask extracts the 3-bit opcode identity from a nibble, discarding StopBit.
func OpMask(nibble uint32) Opcode {
	return Opcode(nibble & 7)
}

// HasStop reports whether StopBit is set in a nibble.
func HasStop(nibble uint32) bool {
	return nibble&uint32(StopBit) != 0
}

// MaxPaletteDeltaDistance bounds PALETTE_D: practically unlimited, but any
// distance beyond it would cost more bits than simply appending a new
// palette entry.
const MaxPaletteDeltaDistance = 1 << 24

// neighborOffset lists, for each of the 8 Morton child indices within a
// 2x2x2 parent block, the three axis-aligned neighbor directions (X, Y, Z)
// to probe. Each component is -1 or +1: negative offsets always reference
// an already-decoded position in Morton order, positive ones reference a
// not-yet-decoded sibling and must fall back to the parent LOD.
var neighborOffset = [8][3][3]int32{
	{{-1, 0, 0}, {0, -1, 0}, {0, 0, -1}},
	{{1, 0, 0}, {0, -1, 0}, {0, 0, -1}},
	{{-1, 0, 0}, {0, 1, 0}, {0, 0, -1}},
	{{1, 0, 0}, {0, 1, 0}, {0, 0, -1}},
	{{-1, 0, 0}, {0, -1, 0}, {0, 0, 1}},
	{{1, 0, 0}, {0, -1, 0}, {0, 0, 1}},
	{{-1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
}

// axisIndex maps NEIGHBOR_X/Y/Z opcodes to neighborOffset's second index.
func axisIndex(op Opcode) int {
	switch op {
	case OpNeighborX:
		return 0
	case OpNeighborY:
		return 1
	case OpNeighborZ:
		return 2
	default:
		panic("brick: axisIndex called with non-neighbor opcode")
	}
}

// neighborInGrid resolves the value of the neighbor of childIndex (0-7,
// this node's position within its 2x2x2 parent block) along the given
// axis, at multigrid level `level` of dimension `levelDim`. If the
// neighbor offset is positive along any axis (meaning it addresses a
// sibling not yet visited in Morton order within this level), the lookup
// is redirected one level up, to the corresponding coarser neighbor.
// Returns (label, ok); ok is false if the neighbor falls outside the brick
// entirely, which never happens in a well-formed encoding.
func neighborInGrid(g *multigrid.Grid, level uint32, pos [3]uint32, childIndex int, op Opcode) (uint32, bool) {
	delta := neighborOffset[childIndex][axisIndex(op)]
	dim := int32(g.LevelDim(level))

	np := [3]int32{int32(pos[0]) + delta[0], int32(pos[1]) + delta[1], int32(pos[2]) + delta[2]}
	if np[0] < 0 || np[1] < 0 || np[2] < 0 || np[0] >= dim || np[1] >= dim || np[2] >= dim {
		return 0, false
	}

	if delta[0] > 0 || delta[1] > 0 || delta[2] > 0 {
		// Not yet decoded at this level: Z-order is self-including, so the
		// parent-level lookup at half resolution is still correct.
		pp := [3]uint32{(pos[0] / 2), (pos[1] / 2), (pos[2] / 2)}
		pdelta := [3]int32{int32(pp[0]) + delta[0], int32(pp[1]) + delta[1], int32(pp[2]) + delta[2]}
		parentDim := int32(g.LevelDim(level - 1))
		if pdelta[0] < 0 || pdelta[1] < 0 || pdelta[2] < 0 || pdelta[0] >= parentDim || pdelta[1] >= parentDim || pdelta[2] >= parentDim {
			return 0, false
		}
		idx := nodeIndex(g, level-1, [3]uint32{uint32(pdelta[0]), uint32(pdelta[1]), uint32(pdelta[2])})
		return g.Nodes[idx].Label, true
	}

	idx := nodeIndex(g, level, [3]uint32{uint32(np[0]), uint32(np[1]), uint32(np[2])})
	return g.Nodes[idx].Label, true
}

func nodeIndex(g *multigrid.Grid, level uint32, pos [3]uint32) uint32 {
	dim := g.LevelDim(level)
	return g.LevelStart(level) + pos[0] + pos[1]*dim + pos[2]*dim*dim
}

// levelCountOf returns the number of LOD levels for a brick of the given
// side length: log2(brickSide)+1.
func levelCountOf(brickSide uint32) uint32 {
	n := uint32(0)
	for s := brickSide; s > 1; s >>= 1 {
		n++
	}
	return n + 1
}
