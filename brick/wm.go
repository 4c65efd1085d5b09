package brick

import (
	"fmt"

	"github.com/kit-vcg/csgv-go/bitio"
	"github.com/kit-vcg/csgv-go/codec"
	"github.com/kit-vcg/csgv-go/config"
	"github.com/kit-vcg/csgv-go/multigrid"
	"github.com/kit-vcg/csgv-go/sfc"
	"github.com/kit-vcg/csgv-go/wavelet"
)

// WaveletMatrixEncoder lays out one opcode symbol per multigrid node per
// LOD, identically to RandomAccessEncoder, but backs the resulting stream
// with a wavelet.Matrix instead of a nibble cursor: Access/Rank become
// O(levels) instead of requiring a linear scan to resolve PALETTE_ADV/LAST
// palette indices.
type WaveletMatrixEncoder struct {
	brickSide uint32
	opMask    config.Op
}

// NewWaveletMatrixEncoder constructs a wavelet-matrix brick encoder.
func NewWaveletMatrixEncoder(brickSide uint32, opMask config.Op) *WaveletMatrixEncoder {
	return &WaveletMatrixEncoder{brickSide: brickSide, opMask: opMask &^ config.OpPaletteD}
}

func (e *WaveletMatrixEncoder) Mode() codec.EncodingMode   { return codec.WaveletMatrix }
func (e *WaveletMatrixEncoder) Name() string               { return "wavelet-matrix" }
func (e *WaveletMatrixEncoder) SupportsRandomAccess() bool { return true }

func (e *WaveletMatrixEncoder) lodCount() uint32         { return levelCountOf(e.brickSide) }
func (e *WaveletMatrixEncoder) headerSize() uint32       { return e.lodCount() + 3 }
func (e *WaveletMatrixEncoder) PaletteSizeHeaderIndex() uint32 { return e.lodCount() + 2 }

func (e *WaveletMatrixEncoder) levelDim(level uint32) uint32 {
	return e.brickSide >> (e.lodCount() - 1 - level)
}

// EncodeBrick builds the multigrid, visits every node level-major in
// Morton order (exactly as RandomAccessEncoder does), and packs the
// resulting opcode symbols into a wavelet matrix.
func (e *WaveletMatrixEncoder) EncodeBrick(volume []uint32, out []uint32, start, volumeDim [3]uint32) (uint32, error) {
	brickSide := e.brickSide
	g := multigrid.Build(volume, sfc.Vec3{X: volumeDim[0], Y: volumeDim[1], Z: volumeDim[2]},
		sfc.Vec3{X: start[0], Y: start[1], Z: start[2]}, brickSide, false)
	g.FillOutOfBoundsFromParent()

	pal := newPalette()
	levelStarts := make([]uint32, e.lodCount())
	var symbols []uint32

	for level := uint32(0); level < e.lodCount(); level++ {
		levelStarts[level] = uint32(len(symbols))
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

			var op Opcode
			switch {
			case level > 0 && e.opMask.Has(config.OpParent) && node.Label == parentValue:
				op = OpParent
			case level > 0 && e.opMask.Has(config.OpNeighborX) && neighborMatches(g, level, posArr, childIndex, OpNeighborX, node.Label):
				op = OpNeighborX
			case level > 0 && e.opMask.Has(config.OpNeighborY) && neighborMatches(g, level, posArr, childIndex, OpNeighborY, node.Label):
				op = OpNeighborY
			case level > 0 && e.opMask.Has(config.OpNeighborZ) && neighborMatches(g, level, posArr, childIndex, OpNeighborZ, node.Label):
				op = OpNeighborZ
			case e.opMask.Has(config.OpPaletteLast) && pal.len() > 0 && pal.last() == node.Label:
				op = OpPaletteLast
			default:
				pal.push(node.Label)
				op = OpPaletteAdv
			}
			symbols = append(symbols, uint32(op))
		}
	}

	matrix := wavelet.Build(symbols)
	words := matrix.RawWords()

	headerSize := e.headerSize()
	for level := uint32(0); level < e.lodCount(); level++ {
		out[level] = levelStarts[level]
	}
	out[e.lodCount()] = matrix.BitSize()
	out[e.lodCount()+1] = uint32(len(words))
	out[e.PaletteSizeHeaderIndex()] = uint32(pal.len())

	outI := headerSize
	if int(outI)+len(words)*2+pal.len() > len(out) {
		return 0, fmt.Errorf("brick: %w: encoded brick does not fit in output buffer", codec.ErrOverflow)
	}
	packWords(out[outI:], words)
	outI += uint32(len(words)) * 2
	for i := pal.len() - 1; i >= 0; i-- {
		out[outI] = pal.labels[i]
		outI++
	}
	return outI, nil
}

// unpackMatrix reconstructs the wavelet.Matrix stored in brickEncoding.
func (e *WaveletMatrixEncoder) unpackMatrix(brickEncoding []uint32) (*wavelet.Matrix, []uint32) {
	lodCount := e.lodCount()
	bitSize := brickEncoding[lodCount]
	wordCount := brickEncoding[lodCount+1]
	headerSize := e.headerSize()

	words := unpackWords(brickEncoding[headerSize:], wordCount)
	bv := bitio.NewBitVectorFromWords(words, bitSize)
	levelStarts := make([]uint32, lodCount)
	copy(levelStarts, brickEncoding[:lodCount])
	return wavelet.Rebuild(bv), levelStarts
}

// unpackDetailWaveletMatrix reconstructs the standalone single-level wavelet
// matrix SplitDetail produces for the finest LOD's opcode subsequence.
func unpackDetailWaveletMatrix(detailEncoding []uint32) *wavelet.Matrix {
	bitSize := detailEncoding[0]
	wordCount := detailEncoding[1]
	words := unpackWords(detailEncoding[2:], wordCount)
	return wavelet.Rebuild(bitio.NewBitVectorFromWords(words, bitSize))
}

// DecodeBrick decodes every LOD up to invLOD, using each level's resolved
// values as the parent context for the next, then expands invLOD's values
// into out's Morton footprint. If invLOD is the finest LOD and
// detailEncoding is non-nil, the finest LOD's opcodes are read from the
// detail matrix instead of the base one (see SplitDetail); the shared
// palette is always resolved against brickEncoding's tail.
func (e *WaveletMatrixEncoder) DecodeBrick(brickEncoding []uint32, detailEncoding []uint32, out []uint32, validBrickSize [3]uint32, invLOD uint32) error {
	brickSide := e.brickSide
	matrix, levelStarts := e.unpackMatrix(brickEncoding)
	paletteE := len(brickEncoding) - 1

	finest := e.lodCount() - 1
	var detailMatrix *wavelet.Matrix
	if invLOD == finest && detailEncoding != nil {
		detailMatrix = unpackDetailWaveletMatrix(detailEncoding)
	}

	var parentValues, values []uint32
	for level := uint32(0); level <= invLOD; level++ {
		dim := e.levelDim(level)
		n := dim * dim * dim
		values = make([]uint32, n)

		for j := uint32(0); j < n; j++ {
			childIndex := int(j & 7)
			var symbol uint32
			if detailMatrix != nil && level == finest {
				symbol = detailMatrix.Access(j)
			} else {
				symbol = matrix.Access(levelStarts[level] + j)
			}
			op := Opcode(symbol)

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
				return fmt.Errorf("brick: %w: unsupported opcode %d", codec.ErrInvariantViolated, op)
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

// DecodeVoxel navigates the opcode matrix directly via Access/Rank, giving
// O(levels) single-voxel decode instead of RandomAccessEncoder's linear
// palette-rank scan.
func (e *WaveletMatrixEncoder) DecodeVoxel(brickEncoding []uint32, targetInvLOD uint32, validBrickSize [3]uint32, index uint32) (uint32, error) {
	matrix, levelStarts := e.unpackMatrix(brickEncoding)
	level := targetInvLOD
	j := index

	for {
		dim := e.levelDim(level)
		childIndex := int(j & 7)
		symbol := matrix.Access(levelStarts[level] + j)
		op := Opcode(symbol)

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
			// rank counts PALETTE_ADV occurrences in [0, pos+1): inclusive of
			// this opcode itself. If this opcode is an ADV, that makes rank-1
			// its own zero-based palette index; if it's a LAST, the current
			// opcode contributes nothing to rank, so rank-1 is already the
			// most recently pushed (top-of-stack) index either way.
			rank := matrix.Rank(levelStarts[level]+j+1, uint32(OpPaletteAdv))
			paletteIndex := rank - 1
			return brickEncoding[len(brickEncoding)-1-int(paletteIndex)], nil
		default:
			return 0, fmt.Errorf("brick: %w: unsupported opcode %d", codec.ErrInvariantViolated, op)
		}
	}
}

// SplitDetail separates the finest LOD's opcode subsequence into a
// standalone single-level wavelet matrix, re-packing the remaining LODs
// into their own matrix in base. The shared palette moves with base
// unchanged in content.
func (e *WaveletMatrixEncoder) SplitDetail(brickEncoding []uint32) (base []uint32, detail []uint32, err error) {
	matrix, levelStarts := e.unpackMatrix(brickEncoding)
	finest := e.lodCount() - 1
	totalSymbols := matrix.TextSize()
	finestStart := levelStarts[finest]

	detailSymbols := make([]uint32, totalSymbols-finestStart)
	for j := range detailSymbols {
		detailSymbols[j] = matrix.Access(finestStart + uint32(j))
	}
	detailMatrix := wavelet.Build(detailSymbols)
	detailWords := detailMatrix.RawWords()
	detail = make([]uint32, 2+len(detailWords)*2)
	detail[0] = detailMatrix.BitSize()
	detail[1] = uint32(len(detailWords))
	packWords(detail[2:], detailWords)

	baseSymbols := make([]uint32, finestStart)
	for j := range baseSymbols {
		baseSymbols[j] = matrix.Access(uint32(j))
	}
	baseMatrix := wavelet.Build(baseSymbols)
	baseWords := baseMatrix.RawWords()

	headerSize := e.headerSize()
	paletteSize := brickEncoding[e.PaletteSizeHeaderIndex()]
	base = make([]uint32, headerSize+uint32(len(baseWords))*2+paletteSize)
	copy(base[:finest], levelStarts[:finest])
	base[finest] = finestStart
	base[e.lodCount()] = baseMatrix.BitSize()
	base[e.lodCount()+1] = uint32(len(baseWords))
	base[e.PaletteSizeHeaderIndex()] = paletteSize
	packWords(base[headerSize:], baseWords)
	copy(base[headerSize+uint32(len(baseWords))*2:], brickEncoding[uint32(len(brickEncoding))-paletteSize:])
	return base, detail, nil
}

// Verify checks the header's internal consistency.
func (e *WaveletMatrixEncoder) Verify(brickEncoding []uint32, brickSize uint32) error {
	headerSize := e.headerSize()
	if uint32(len(brickEncoding)) < headerSize {
		return fmt.Errorf("brick: %w: encoding shorter than header", codec.ErrInvariantViolated)
	}
	if brickEncoding[e.PaletteSizeHeaderIndex()] == 0 {
		return fmt.Errorf("brick: %w: palette size is zero", codec.ErrInvariantViolated)
	}
	wordCount := brickEncoding[e.lodCount()+1]
	if headerSize+wordCount*2+brickEncoding[e.PaletteSizeHeaderIndex()] > uint32(len(brickEncoding)) {
		return fmt.Errorf("brick: %w: bit vector and palette overrun the brick buffer", codec.ErrInvariantViolated)
	}
	return nil
}
