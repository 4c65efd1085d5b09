package brick

import (
	"fmt"
	"math/bits"

	"github.com/kit-vcg/csgv-go/bitio"
	"github.com/kit-vcg/csgv-go/codec"
	"github.com/kit-vcg/csgv-go/config"
	"github.com/kit-vcg/csgv-go/multigrid"
	"github.com/kit-vcg/csgv-go/sfc"
)

// invalidLabel mirrors multigrid.InvalidLabel; kept local to avoid a
// public dependency on the sentinel's origin package from callers of this
// package's decoded output.
const invalidLabel = multigrid.InvalidLabel

// SerialEncoder is the front-to-back nibble brick encoder: it supports the
// full opcode set including STOP_BIT and PALETTE_D, but only serial
// decoding — random access requires one of the other two encoders.
type SerialEncoder struct {
	brickSide          uint32
	opMask             config.Op
	legacyPaletteDelta bool
}

// NewSerialEncoder constructs a serial nibble encoder for bricks of the
// given side length.
func NewSerialEncoder(brickSide uint32, opMask config.Op, legacyPaletteDelta bool) *SerialEncoder {
	return &SerialEncoder{brickSide: brickSide, opMask: opMask, legacyPaletteDelta: legacyPaletteDelta}
}

func (e *SerialEncoder) Mode() codec.EncodingMode { return codec.Nibble }
func (e *SerialEncoder) Name() string             { return "nibble-serial" }
func (e *SerialEncoder) SupportsRandomAccess() bool { return false }

func (e *SerialEncoder) lodCount() uint32 {
	return uint32(bits.TrailingZeros32(e.brickSide)) + 1
}

// headerSize is the number of leading uint32 words: one LOD-start offset
// per LOD plus one word for the palette size.
func (e *SerialEncoder) headerSize() uint32 {
	return e.lodCount() + 1
}

func (e *SerialEncoder) PaletteSizeHeaderIndex() uint32 {
	return e.lodCount()
}

// EncodeBrick builds the multigrid for this brick and serializes it
// coarse-to-fine into a nibble opcode stream, following PARENT / NEIGHBOR /
// PALETTE_LAST / PALETTE_D / PALETTE_ADV priority order and OR-ing STOP_BIT
// wherever the multigrid marks a node constant.
func (e *SerialEncoder) EncodeBrick(volume []uint32, out []uint32, start, volumeDim [3]uint32) (uint32, error) {
	brickSide := e.brickSide
	markConstant := e.opMask.Has(config.OpStopBit)
	g := multigrid.Build(volume, sfc.Vec3{X: volumeDim[0], Y: volumeDim[1], Z: volumeDim[2]},
		sfc.Vec3{X: start[0], Y: start[1], Z: start[2]}, brickSide, markConstant)

	headerSize := e.headerSize()
	cursor := bitio.NewCursor(out, headerSize*8)
	pal := newPalette()

	out[0] = cursor.Pos()
	root := g.Nodes[g.LevelStart(0)]
	op := uint32(OpPaletteAdv)
	if root.ConstantSubregion {
		op |= uint32(StopBit)
	}
	cursor.WriteNibble(op)
	pal.push(root.Label)

	invLOD := uint32(1)
	for lodWidth := brickSide / 2; lodWidth > 0; lodWidth /= 2 {
		out[invLOD] = cursor.Pos()
		level := invLOD

		var parentValue uint32
		step := lodWidth * lodWidth * lodWidth
		for i := uint32(0); i < brickSide*brickSide*brickSide; i += step {
			brickPos := sfc.MortonDecode(i)
			volPos := [3]uint32{start[0] + brickPos.X, start[1] + brickPos.Y, start[2] + brickPos.Z}
			if volPos[0] >= volumeDim[0] || volPos[1] >= volumeDim[1] || volPos[2] >= volumeDim[2] {
				continue
			}

			childIndex := int((i % (step * 8)) / step)
			pos := [3]uint32{brickPos.X / lodWidth, brickPos.Y / lodWidth, brickPos.Z / lodWidth}
			if childIndex == 0 {
				parentPos := [3]uint32{pos[0] / 2, pos[1] / 2, pos[2] / 2}
				parentIdx := nodeIndex(g, level-1, parentPos)
				if g.Nodes[parentIdx].ConstantSubregion {
					i += step * 7
					continue
				}
				parentValue = g.Nodes[parentIdx].Label
			}

			idx := nodeIndex(g, level, pos)
			node := g.Nodes[idx]
			if node.Label == invalidLabel {
				return 0, fmt.Errorf("brick: %w: multigrid node %v has no label", codec.ErrInvariantViolated, pos)
			}

			var nibbles []uint32
			stop := uint32(0)
			if lodWidth > 1 && node.ConstantSubregion {
				stop = uint32(StopBit)
			}

			switch {
			case e.opMask.Has(config.OpParent) && node.Label == parentValue:
				nibbles = []uint32{stop | uint32(OpParent)}
			case e.opMask.Has(config.OpNeighborX) && neighborMatches(g, level, pos, childIndex, OpNeighborX, node.Label):
				nibbles = []uint32{stop | uint32(OpNeighborX)}
			case e.opMask.Has(config.OpNeighborY) && neighborMatches(g, level, pos, childIndex, OpNeighborY, node.Label):
				nibbles = []uint32{stop | uint32(OpNeighborY)}
			case e.opMask.Has(config.OpNeighborZ) && neighborMatches(g, level, pos, childIndex, OpNeighborZ, node.Label):
				nibbles = []uint32{stop | uint32(OpNeighborZ)}
			case e.opMask.Has(config.OpPaletteLast) && pal.last() == node.Label:
				nibbles = []uint32{stop | uint32(OpPaletteLast)}
			default:
				nibbles = e.encodePaletteReference(pal, node.Label, stop)
			}

			for _, nb := range nibbles {
				cursor.WriteNibble(nb)
			}
		}
		invLOD++
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

// encodePaletteReference chooses between PALETTE_D (continuation or legacy
// form) and PALETTE_ADV, pushing a new palette entry only in the latter
// case. stop is OR-ed into the first emitted nibble.
func (e *SerialEncoder) encodePaletteReference(pal *palette, label uint32, stop uint32) []uint32 {
	if e.opMask.Has(config.OpPaletteD) {
		if distance, ok := pal.deltaFromTail(label); ok && distance <= MaxPaletteDeltaDistance {
			if e.legacyPaletteDelta && e.opMask.Has(config.OpPaletteDLegacy) {
				if nibbles, ok := writePaletteDeltaLegacy(distance); ok {
					nibbles[0] |= stop
					return nibbles
				}
			} else {
				nibbles := writePaletteDeltaContinuation(distance)
				nibbles[0] |= stop
				return nibbles
			}
		}
	}
	pal.push(label)
	return []uint32{stop | uint32(OpPaletteAdv)}
}

// neighborMatches reports whether the axis-op neighbor of (level, pos)
// resolves to a defined label equal to target.
func neighborMatches(g *multigrid.Grid, level uint32, pos [3]uint32, childIndex int, op Opcode, target uint32) bool {
	label, ok := neighborInGrid(g, level, pos, childIndex, op)
	return ok && label == target
}

// DecodeBrick reconstructs a brick's voxels up to invLOD, operating on a
// brickSide^3-sized output array indexed by full-resolution Morton index
// regardless of the target LOD (coarser levels simply write the same
// value to every Morton index their subtree spans).
func (e *SerialEncoder) DecodeBrick(brickEncoding []uint32, detailEncoding []uint32, out []uint32, validBrickSize [3]uint32, invLOD uint32) error {
	brickSide := e.brickSide
	paletteE := len(brickEncoding) - 1
	finest := e.lodCount() - 1

	for i := range out {
		out[i] = invalidLabel
	}

	cursor := bitio.NewCursor(brickEncoding, brickEncoding[0])
	var detailCursor *bitio.Cursor
	if detailEncoding != nil {
		detailCursor = bitio.NewCursor(detailEncoding, 0)
	}
	indexStep := brickSide * brickSide * brickSide
	lodWidth := brickSide
	var parentValue uint32 = invalidLabel

	for lod := uint32(0); lod <= invLOD; lod++ {
		cur := cursor
		useDetail := detailCursor != nil && lod == finest
		if useDetail {
			cur = detailCursor
		} else if lod > 0 {
			cursor.Seek(brickEncoding[lod])
		}
		for i := uint32(0); i < brickSide*brickSide*brickSide; i += indexStep {
			pos := sfc.MortonDecode(i)
			if pos.X >= validBrickSize[0] || pos.Y >= validBrickSize[1] || pos.Z >= validBrickSize[2] {
				continue
			}

			childIndex := int((i % (indexStep * 8)) / indexStep)
			if lod > 0 && i%(indexStep*8) == 0 {
				if out[i+indexStep*7] != invalidLabel {
					i += indexStep * 7
					continue
				}
				parentValue = out[i]
			}

			nibble := cur.ReadNibble()
			op := OpMask(nibble)
			stop := HasStop(nibble)

			var label uint32
			switch op {
			case OpParent:
				label = parentValue
			case OpNeighborX, OpNeighborY, OpNeighborZ:
				label = neighborInOutput(out, pos, childIndex, lodWidth, brickSide, op)
			case OpPaletteAdv:
				label = brickEncoding[paletteE]
				paletteE--
			case OpPaletteLast:
				label = brickEncoding[paletteE+1]
			case OpPaletteD:
				var distance uint32
				if e.legacyPaletteDelta && e.opMask.Has(config.OpPaletteDLegacy) {
					distance = cur.ReadNibble() + 1
				} else {
					distance = readPaletteDeltaContinuation(cur.ReadNibble) + 1
				}
				label = brickEncoding[paletteE+int(distance)+1]
			default:
				return fmt.Errorf("brick: %w: unrecognized opcode %d", codec.ErrInvariantViolated, op)
			}

			out[i] = label
			if stop || lod == invLOD {
				for n := i; n < i+indexStep; n++ {
					out[n] = label
				}
			}
		}
		indexStep /= 8
		lodWidth /= 2
	}
	return nil
}

// SplitDetail copies the finest LOD's nibble range (which may start mid-word)
// into a standalone, zero-based nibble buffer, and repacks the coarser LODs
// plus the unmodified palette into a shrunk base encoding. LOD start offsets
// for levels below finest are unaffected since they are unchanged in place.
func (e *SerialEncoder) SplitDetail(brickEncoding []uint32) (base []uint32, detail []uint32, err error) {
	lodCount := e.lodCount()
	if lodCount < 2 {
		return nil, nil, fmt.Errorf("brick: %w: brick has no separate finest LOD to split", codec.ErrInvalidParameter)
	}
	headerSize := e.headerSize()
	finest := lodCount - 1
	finestStart := brickEncoding[finest]
	paletteSize := brickEncoding[e.PaletteSizeHeaderIndex()]
	paletteWordStart := uint32(len(brickEncoding)) - paletteSize
	paddedEnd := paletteWordStart * 8

	detailNibbles := paddedEnd - finestStart
	detail = make([]uint32, (detailNibbles+7)/8)
	bitio.Pack4(detail, brickEncoding, finestStart, paddedEnd)

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

// neighborInOutput resolves a navigation opcode against the decode-time
// Morton-indexed output array, mirroring neighborInGrid's logic but over
// the flat brick array instead of per-level multigrid storage.
func neighborInOutput(out []uint32, pos sfc.Vec3, childIndex int, lodWidth, brickSide uint32, op Opcode) uint32 {
	delta := neighborOffset[childIndex][axisIndex(op)]
	neighborPos := [3]int64{int64(pos.X) + int64(delta[0])*int64(lodWidth), int64(pos.Y) + int64(delta[1])*int64(lodWidth), int64(pos.Z) + int64(delta[2])*int64(lodWidth)}
	if neighborPos[0] < 0 || neighborPos[1] < 0 || neighborPos[2] < 0 ||
		neighborPos[0] >= int64(brickSide) || neighborPos[1] >= int64(brickSide) || neighborPos[2] >= int64(brickSide) {
		return invalidLabel
	}
	neighborIndex := sfc.MortonEncode(sfc.Vec3{X: uint32(neighborPos[0]), Y: uint32(neighborPos[1]), Z: uint32(neighborPos[2])})

	if delta[0] > 0 || delta[1] > 0 || delta[2] > 0 {
		blockSize := lodWidth * lodWidth * lodWidth * 8
		neighborIndex -= neighborIndex % blockSize
	}
	return out[neighborIndex]
}

func (e *SerialEncoder) DecodeVoxel(brickEncoding []uint32, targetInvLOD uint32, validBrickSize [3]uint32, index uint32) (uint32, error) {
	return 0, fmt.Errorf("%s: %w", e.Name(), errNoRandomAccess)
}

// Verify checks the structural invariants every serial brick encoding must
// satisfy.
func (e *SerialEncoder) Verify(brickEncoding []uint32, brickSize uint32) error {
	headerSize := e.headerSize()
	if uint32(len(brickEncoding)) < headerSize+2 {
		return fmt.Errorf("brick: %w: encoding shorter than header+1 opcode+1 palette entry", codec.ErrInvariantViolated)
	}
	if brickEncoding[0] != headerSize*8 {
		return fmt.Errorf("brick: %w: first LOD start must be header*8=%d, got %d", codec.ErrInvariantViolated, headerSize*8, brickEncoding[0])
	}
	for l := uint32(1); l < e.lodCount(); l++ {
		if brickEncoding[l] < brickEncoding[l-1] {
			return fmt.Errorf("brick: %w: LOD starts are not ascending at LOD %d", codec.ErrInvariantViolated, l)
		}
	}
	paletteSize := brickEncoding[e.PaletteSizeHeaderIndex()]
	if paletteSize == 0 {
		return fmt.Errorf("brick: %w: palette size is zero", codec.ErrInvariantViolated)
	}
	if int(paletteSize)+int(brickEncoding[e.lodCount()-1])/8 > len(brickEncoding) {
		return fmt.Errorf("brick: %w: palette and encoding overrun the brick buffer", codec.ErrInvariantViolated)
	}
	firstOp := OpMask(bitio.Read4(brickEncoding, headerSize*8))
	if firstOp != OpPaletteAdv {
		return fmt.Errorf("brick: %w: first opcode must be PALETTE_ADV, got %d", codec.ErrInvariantViolated, firstOp)
	}
	return nil
}
