package brick

import (
	"fmt"

	"github.com/kit-vcg/csgv-go/bitio"
	"github.com/kit-vcg/csgv-go/codec"
	"github.com/kit-vcg/csgv-go/config"
	"github.com/kit-vcg/csgv-go/multigrid"
	"github.com/kit-vcg/csgv-go/sfc"
)

// RandomAccessEncoder is the nibble encoder variant that supports per-voxel
// DecodeVoxel lookups: it never marks constant_subregion, never emits
// STOP_BIT or PALETTE_D, and fills every out-of-bounds multigrid node from
// its parent so that opcode j of LOD level always sits at the fixed
// position header[level]+j, independent of every other opcode.
type RandomAccessEncoder struct {
	brickSide uint32
	opMask    config.Op
}

// NewRandomAccessEncoder constructs a random-access nibble encoder. opMask
// must not include OpStopBit or OpPaletteD; config.Validate enforces this
// ahead of construction.
func NewRandomAccessEncoder(brickSide uint32, opMask config.Op) *RandomAccessEncoder {
	return &RandomAccessEncoder{brickSide: brickSide, opMask: opMask &^ (config.OpStopBit | config.OpPaletteD)}
}

func (e *RandomAccessEncoder) Mode() codec.EncodingMode   { return codec.Nibble }
func (e *RandomAccessEncoder) Name() string               { return "nibble-random-access" }
func (e *RandomAccessEncoder) SupportsRandomAccess() bool { return true }

func (e *RandomAccessEncoder) lodCount() uint32 { return levelCountOf(e.brickSide) }
func (e *RandomAccessEncoder) headerSize() uint32 { return e.lodCount() + 1 }
func (e *RandomAccessEncoder) PaletteSizeHeaderIndex() uint32 { return e.lodCount() }

func (e *RandomAccessEncoder) levelDim(level uint32) uint32 {
	return e.brickSide >> (e.lodCount() - 1 - level)
}

// EncodeBrick walks every multigrid node of every LOD in Morton order,
// writing exactly one opcode nibble per node with no skipping, so random
// access can compute an opcode's position without scanning the stream.
func (e *RandomAccessEncoder) EncodeBrick(volume []uint32, out []uint32, start, volumeDim [3]uint32) (uint32, error) {
	brickSide := e.brickSide
	g := multigrid.Build(volume, sfc.Vec3{X: volumeDim[0], Y: volumeDim[1], Z: volumeDim[2]},
		sfc.Vec3{X: start[0], Y: start[1], Z: start[2]}, brickSide, false)
	g.FillOutOfBoundsFromParent()

	headerSize := e.headerSize()
	cursor := bitio.NewCursor(out, headerSize*8)
	pal := newPalette()

	for level := uint32(0); level < e.lodCount(); level++ {
		out[level] = cursor.Pos()
		dim := e.levelDim(level)
		n := dim * dim * dim

		for j := uint32(0); j < n; j++ {
			pos := sfc.MortonDecode(j)
			posArr := [3]uint32{pos.X, pos.Y, pos.Z}
			childIndex := int(j & 7)

			var parentValue uint32
			if level > 0 {
				parentPos := [3]uint32{posArr[0] / 2, posArr[1] / 2, posArr[2] / 2}
				parentValue = g.Nodes[nodeIndex(g, level-1, parentPos)].Label
			}

			node := g.Nodes[nodeIndex(g, level, posArr)]

			var nibble uint32
			switch {
			case level > 0 && e.opMask.Has(config.OpParent) && node.Label == parentValue:
				nibble = uint32(OpParent)
			case level > 0 && e.opMask.Has(config.OpNeighborX) && neighborMatches(g, level, posArr, childIndex, OpNeighborX, node.Label):
				nibble = uint32(OpNeighborX)
			case level > 0 && e.opMask.Has(config.OpNeighborY) && neighborMatches(g, level, posArr, childIndex, OpNeighborY, node.Label):
				nibble = uint32(OpNeighborY)
			case level > 0 && e.opMask.Has(config.OpNeighborZ) && neighborMatches(g, level, posArr, childIndex, OpNeighborZ, node.Label):
				nibble = uint32(OpNeighborZ)
			case e.opMask.Has(config.OpPaletteLast) && pal.len() > 0 && pal.last() == node.Label:
				nibble = uint32(OpPaletteLast)
			default:
				pal.push(node.Label)
				nibble = uint32(OpPaletteAdv)
			}
			cursor.WriteNibble(nibble)
		}
	}

	out[e.PaletteSizeHeaderIndex()] = uint32(pal.len())
	for cursor.Pos()%8 != 0 {
		cursor.WriteNibble(0)
	}
	outI := cursor.Pos() / 8
	if int(outI)+pal.len() > len(out) {
		return 0, fmt.Errorf("brick: %w: encoded brick does not fit in output buffer", codec.ErrOverflow)
	}
	for i := pal.len() - 1; i >= 0; i-- {
		out[outI] = pal.labels[i]
		outI++
	}
	return outI, nil
}

// DecodeBrick reconstructs every LOD up to invLOD level-by-level, then
// expands invLOD's per-node values into out's brickSide^3 Morton-footprint.
func (e *RandomAccessEncoder) DecodeBrick(brickEncoding []uint32, detailEncoding []uint32, out []uint32, validBrickSize [3]uint32, invLOD uint32) error {
	brickSide := e.brickSide
	paletteE := len(brickEncoding) - 1
	finest := e.lodCount() - 1

	var parentValues, values []uint32
	for level := uint32(0); level <= invLOD; level++ {
		dim := e.levelDim(level)
		n := dim * dim * dim
		values = make([]uint32, n)
		useDetail := detailEncoding != nil && level == finest

		for j := uint32(0); j < n; j++ {
			childIndex := int(j & 7)
			var nibble uint32
			if useDetail {
				nibble = bitio.Read4(detailEncoding, j)
			} else {
				nibble = bitio.Read4(brickEncoding, brickEncoding[level]+j)
			}
			op := OpMask(nibble)

			var label uint32
			switch op {
			case OpParent:
				label = parentValues[j/8]
			case OpNeighborX, OpNeighborY, OpNeighborZ:
				nj, toParent, ok := neighborMortonLookup(j, childIndex, dim, op)
				if !ok {
					return fmt.Errorf("brick: %w: neighbor opcode points outside brick", codec.ErrInvariantViolated)
				}
				if toParent {
					label = parentValues[nj]
				} else {
					label = values[nj]
				}
			case OpPaletteAdv:
				label = brickEncoding[paletteE]
				paletteE--
			case OpPaletteLast:
				label = brickEncoding[paletteE+1]
			default:
				return fmt.Errorf("brick: %w: unsupported opcode %d in random-access stream", codec.ErrInvariantViolated, op)
			}
			values[j] = label
		}
		parentValues = values
	}

	dim := e.levelDim(invLOD)
	footprint := (brickSide / dim) * (brickSide / dim) * (brickSide / dim)
	for j, label := range values {
		startIdx := uint32(j) * footprint
		for n := startIdx; n < startIdx+footprint; n++ {
			pos := sfc.MortonDecode(n)
			if pos.X >= validBrickSize[0] || pos.Y >= validBrickSize[1] || pos.Z >= validBrickSize[2] {
				continue
			}
			out[n] = label
		}
	}
	return nil
}

// DecodeVoxel navigates the PARENT/NEIGHBOR opcode chain starting at
// (targetInvLOD, index) — index is a Morton index within targetInvLOD's
// own grid — until it reaches a palette opcode, then resolves the palette
// entry by counting PALETTE_ADV opcodes preceding that position.
func (e *RandomAccessEncoder) DecodeVoxel(brickEncoding []uint32, targetInvLOD uint32, validBrickSize [3]uint32, index uint32) (uint32, error) {
	level := targetInvLOD
	j := index
	headerSize := e.headerSize()

	for {
		dim := e.levelDim(level)
		childIndex := int(j & 7)
		nibblePos := brickEncoding[level] + j
		nibble := bitio.Read4(brickEncoding, nibblePos)
		op := OpMask(nibble)

		switch op {
		case OpParent:
			if level == 0 {
				return 0, fmt.Errorf("brick: %w: PARENT opcode at LOD 0", codec.ErrInvariantViolated)
			}
			level--
			j /= 8
		case OpNeighborX, OpNeighborY, OpNeighborZ:
			nj, toParent, ok := neighborMortonLookup(j, childIndex, dim, op)
			if !ok {
				return 0, fmt.Errorf("brick: %w: neighbor opcode points outside brick", codec.ErrInvariantViolated)
			}
			if toParent {
				level--
			}
			j = nj
		case OpPaletteAdv, OpPaletteLast:
			priorAdv := countAdvBefore(brickEncoding, headerSize, nibblePos)
			paletteIndex := priorAdv
			if op == OpPaletteLast {
				paletteIndex--
			}
			return brickEncoding[len(brickEncoding)-1-int(paletteIndex)], nil
		default:
			return 0, fmt.Errorf("brick: %w: unsupported opcode %d in random-access stream", codec.ErrInvariantViolated, op)
		}
	}
}

// neighborMortonLookup resolves a NEIGHBOR_X/Y/Z opcode purely from Morton
// arithmetic within one LOD's own lodDim grid, without touching a
// materialized node array: toParent reports whether the result index
// addresses the parent LOD (at lodDim/2) instead of this one.
func neighborMortonLookup(j uint32, childIndex int, lodDim uint32, op Opcode) (resultIndex uint32, toParent bool, ok bool) {
	pos := sfc.MortonDecode(j)
	delta := neighborOffset[childIndex][axisIndex(op)]
	dim := int32(lodDim)

	np := [3]int32{int32(pos.X) + delta[0], int32(pos.Y) + delta[1], int32(pos.Z) + delta[2]}
	if np[0] < 0 || np[1] < 0 || np[2] < 0 || np[0] >= dim || np[1] >= dim || np[2] >= dim {
		return 0, false, false
	}

	if delta[0] > 0 || delta[1] > 0 || delta[2] > 0 {
		ppx := int32(pos.X/2) + delta[0]
		ppy := int32(pos.Y/2) + delta[1]
		ppz := int32(pos.Z/2) + delta[2]
		parentDim := dim / 2
		if ppx < 0 || ppy < 0 || ppz < 0 || ppx >= parentDim || ppy >= parentDim || ppz >= parentDim {
			return 0, false, false
		}
		pj := sfc.MortonEncode(sfc.Vec3{X: uint32(ppx), Y: uint32(ppy), Z: uint32(ppz)})
		return pj, true, true
	}

	nj := sfc.MortonEncode(sfc.Vec3{X: uint32(np[0]), Y: uint32(np[1]), Z: uint32(np[2])})
	return nj, false, true
}

// countAdvBefore linearly scans every nibble from the start of the opcode
// stream up to (excluding) nibblePos, counting PALETTE_ADV occurrences.
// This is the "linear rank scan" the nibble random-access encoder trades
// for the wavelet-matrix variants' O(levels) flat-rank lookup.
func countAdvBefore(brickEncoding []uint32, headerSize uint32, nibblePos uint32) uint32 {
	var count uint32
	for p := headerSize * 8; p < nibblePos; p++ {
		if OpMask(bitio.Read4(brickEncoding, p)) == OpPaletteAdv {
			count++
		}
	}
	return count
}

// SplitDetail copies the finest LOD's fixed-size nibble range (dim^3 nibbles
// starting at a possibly mid-word offset) into a standalone, zero-based
// nibble buffer, and repacks the coarser LODs plus the unmodified palette
// into a shrunk base encoding. LOD start offsets below finest are unchanged
// in place; the header slot for finest itself is left unused in base, since
// nothing may address it once its nibbles have moved to detail.
func (e *RandomAccessEncoder) SplitDetail(brickEncoding []uint32) (base []uint32, detail []uint32, err error) {
	lodCount := e.lodCount()
	if lodCount < 2 {
		return nil, nil, fmt.Errorf("brick: %w: brick has no separate finest LOD to split", codec.ErrInvalidParameter)
	}
	headerSize := e.headerSize()
	finest := lodCount - 1
	finestStart := brickEncoding[finest]
	dim := e.levelDim(finest)
	finestNibbles := dim * dim * dim
	paletteSize := brickEncoding[e.PaletteSizeHeaderIndex()]
	paletteWordStart := uint32(len(brickEncoding)) - paletteSize

	detail = make([]uint32, (finestNibbles+7)/8)
	bitio.Pack4(detail, brickEncoding, finestStart, finestStart+finestNibbles)

	baseStart := headerSize * 8
	baseDataWords := (finestStart - baseStart + 7) / 8
	base = make([]uint32, headerSize+baseDataWords+paletteSize)
	copy(base[:finest], brickEncoding[:finest])
	bitio.Pack4(base[baseStart/8:], brickEncoding, baseStart, finestStart)
	base[e.PaletteSizeHeaderIndex()] = paletteSize
	outI := headerSize + baseDataWords
	copy(base[outI:], brickEncoding[paletteWordStart:])
	return base, detail, nil
}

// Verify checks the structural invariants a random-access nibble encoding
// must satisfy: ascending per-level headers and a non-empty palette.
func (e *RandomAccessEncoder) Verify(brickEncoding []uint32, brickSize uint32) error {
	headerSize := e.headerSize()
	if uint32(len(brickEncoding)) < headerSize+2 {
		return fmt.Errorf("brick: %w: encoding shorter than header+1 opcode+1 palette entry", codec.ErrInvariantViolated)
	}
	if brickEncoding[0] != headerSize*8 {
		return fmt.Errorf("brick: %w: LOD 0 must start at header*8=%d, got %d", codec.ErrInvariantViolated, headerSize*8, brickEncoding[0])
	}
	for l := uint32(1); l < e.lodCount(); l++ {
		dim := e.levelDim(l - 1)
		want := brickEncoding[l-1] + dim*dim*dim
		if brickEncoding[l] != want {
			return fmt.Errorf("brick: %w: LOD %d start must be %d, got %d", codec.ErrInvariantViolated, l, want, brickEncoding[l])
		}
	}
	if brickEncoding[e.PaletteSizeHeaderIndex()] == 0 {
		return fmt.Errorf("brick: %w: palette size is zero", codec.ErrInvariantViolated)
	}
	return nil
}
