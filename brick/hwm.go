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

// HuffmanWaveletMatrixEncoder packs one opcode per multigrid node per LOD
// (same traversal as RandomAccessEncoder and WaveletMatrixEncoder) into a
// Huffman-shaped wavelet matrix over the 6-symbol navigation/palette
// alphabet (no PALETTE_D, no STOP_BIT symbol bit). A parallel bit vector
// records each node's constant_subregion flag for diagnostics; it is not
// consulted on the hot decode path, since every node already carries its
// own opcode regardless of its ancestors' constancy.
type HuffmanWaveletMatrixEncoder struct {
	brickSide uint32
	opMask    config.Op
}

// NewHuffmanWaveletMatrixEncoder constructs a Huffman-wavelet-matrix brick encoder.
func NewHuffmanWaveletMatrixEncoder(brickSide uint32, opMask config.Op) *HuffmanWaveletMatrixEncoder {
	return &HuffmanWaveletMatrixEncoder{brickSide: brickSide, opMask: opMask &^ (config.OpPaletteD | config.OpStopBit)}
}

func (e *HuffmanWaveletMatrixEncoder) Mode() codec.EncodingMode   { return codec.HuffmanWaveletMatrix }
func (e *HuffmanWaveletMatrixEncoder) Name() string               { return "huffman-wavelet-matrix" }
func (e *HuffmanWaveletMatrixEncoder) SupportsRandomAccess() bool { return true }

func (e *HuffmanWaveletMatrixEncoder) lodCount() uint32   { return levelCountOf(e.brickSide) }
func (e *HuffmanWaveletMatrixEncoder) headerSize() uint32 { return e.lodCount() + 3 + wavelet.HWMLevels + 1 }
func (e *HuffmanWaveletMatrixEncoder) PaletteSizeHeaderIndex() uint32 {
	return e.lodCount() + 2 + wavelet.HWMLevels + 1
}

func (e *HuffmanWaveletMatrixEncoder) levelDim(level uint32) uint32 {
	return e.brickSide >> (e.lodCount() - 1 - level)
}

// toWaveletOp maps a brick.Opcode (PARENT..PALETTE_LAST, no PALETTE_D) to
// the wavelet package's compact 6-symbol numbering.
func toWaveletOp(op Opcode) wavelet.Opcode {
	switch op {
	case OpParent:
		return wavelet.OpParent
	case OpNeighborX:
		return wavelet.OpNeighborX
	case OpNeighborY:
		return wavelet.OpNeighborY
	case OpNeighborZ:
		return wavelet.OpNeighborZ
	case OpPaletteAdv:
		return wavelet.OpPaletteAdv
	default:
		return wavelet.OpPaletteLast
	}
}

func fromWaveletOp(op wavelet.Opcode) Opcode {
	switch op {
	case wavelet.OpParent:
		return OpParent
	case wavelet.OpNeighborX:
		return OpNeighborX
	case wavelet.OpNeighborY:
		return OpNeighborY
	case wavelet.OpNeighborZ:
		return OpNeighborZ
	case wavelet.OpPaletteAdv:
		return OpPaletteAdv
	default:
		return OpPaletteLast
	}
}

// EncodeBrick visits every node level-major in Morton order and packs the
// resulting opcodes into a Huffman-shaped wavelet matrix, alongside a
// parallel constant_subregion bit vector.
func (e *HuffmanWaveletMatrixEncoder) EncodeBrick(volume []uint32, out []uint32, start, volumeDim [3]uint32) (uint32, error) {
	brickSide := e.brickSide
	g := multigrid.Build(volume, sfc.Vec3{X: volumeDim[0], Y: volumeDim[1], Z: volumeDim[2]},
		sfc.Vec3{X: start[0], Y: start[1], Z: start[2]}, brickSide, true)
	g.FillOutOfBoundsFromParent()

	pal := newPalette()
	levelStarts := make([]uint32, e.lodCount())
	var opcodes []wavelet.Opcode
	stopBits := bitio.NewBitVector(0)

	for level := uint32(0); level < e.lodCount(); level++ {
		levelStarts[level] = uint32(len(opcodes))
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
			opcodes = append(opcodes, toWaveletOp(op))
			stopBits.PushBack(node.ConstantSubregion)
		}
	}

	matrix := wavelet.BuildHuffman(opcodes)
	words := matrix.RawWords()
	stopBits.ShrinkToFit()
	stopWords := stopBits.RawWords()

	lodCount := e.lodCount()
	for level := uint32(0); level < lodCount; level++ {
		out[level] = levelStarts[level]
	}
	levelBoundaries := matrix.LevelStarts()
	for l := 0; l <= wavelet.HWMLevels; l++ {
		out[lodCount+uint32(l)] = levelBoundaries[l]
	}
	afterLevelStarts := lodCount + uint32(wavelet.HWMLevels) + 1
	out[afterLevelStarts] = uint32(len(words))
	out[afterLevelStarts+1] = uint32(len(stopWords))
	out[e.PaletteSizeHeaderIndex()] = uint32(pal.len())

	outI := e.headerSize()
	if int(outI)+len(words)*2+len(stopWords)*2+pal.len() > len(out) {
		return 0, fmt.Errorf("brick: %w: encoded brick does not fit in output buffer", codec.ErrOverflow)
	}
	for _, w := range words {
		out[outI] = uint32(w)
		outI++
		out[outI] = uint32(w >> 32)
		outI++
	}
	for _, w := range stopWords {
		out[outI] = uint32(w)
		outI++
		out[outI] = uint32(w >> 32)
		outI++
	}
	for i := pal.len() - 1; i >= 0; i-- {
		out[outI] = pal.labels[i]
		outI++
	}
	return outI, nil
}

func (e *HuffmanWaveletMatrixEncoder) unpackMatrix(brickEncoding []uint32) (*wavelet.HuffmanMatrix, []uint32) {
	lodCount := e.lodCount()
	var levelBoundaries [wavelet.HWMLevels + 1]uint32
	for l := 0; l <= wavelet.HWMLevels; l++ {
		levelBoundaries[l] = brickEncoding[lodCount+uint32(l)]
	}
	afterLevelStarts := lodCount + uint32(wavelet.HWMLevels) + 1
	wordCount := brickEncoding[afterLevelStarts]

	p := e.headerSize()
	words := make([]uint64, wordCount)
	for i := uint32(0); i < wordCount; i++ {
		lo := uint64(brickEncoding[p])
		p++
		hi := uint64(brickEncoding[p])
		p++
		words[i] = lo | (hi << 32)
	}
	bv := bitio.NewBitVectorFromWords(words, levelBoundaries[wavelet.HWMLevels])
	matrix := wavelet.RebuildHuffman(bv, levelBoundaries)

	levelStarts := make([]uint32, lodCount)
	copy(levelStarts, brickEncoding[:lodCount])
	return matrix, levelStarts
}

// unpackDetailHuffmanMatrix reconstructs the standalone single-level
// Huffman wavelet matrix SplitDetail produces for the finest LOD.
func unpackDetailHuffmanMatrix(detailEncoding []uint32) *wavelet.HuffmanMatrix {
	var levelBoundaries [wavelet.HWMLevels + 1]uint32
	for l := 0; l <= wavelet.HWMLevels; l++ {
		levelBoundaries[l] = detailEncoding[l]
	}
	wordCount := detailEncoding[wavelet.HWMLevels+1]
	words := unpackWords(detailEncoding[wavelet.HWMLevels+2:], wordCount)
	bv := bitio.NewBitVectorFromWords(words, levelBoundaries[wavelet.HWMLevels])
	return wavelet.RebuildHuffman(bv, levelBoundaries)
}

// DecodeBrick decodes every LOD up to invLOD, then expands invLOD's values
// into out's Morton footprint, exactly as WaveletMatrixEncoder does. If
// invLOD is the finest LOD and detailEncoding is non-nil, its opcodes are
// read from the detail matrix instead of the base one (see SplitDetail).
func (e *HuffmanWaveletMatrixEncoder) DecodeBrick(brickEncoding []uint32, detailEncoding []uint32, out []uint32, validBrickSize [3]uint32, invLOD uint32) error {
	brickSide := e.brickSide
	matrix, levelStarts := e.unpackMatrix(brickEncoding)
	paletteE := len(brickEncoding) - 1

	finest := e.lodCount() - 1
	var detailMatrix *wavelet.HuffmanMatrix
	if invLOD == finest && detailEncoding != nil {
		detailMatrix = unpackDetailHuffmanMatrix(detailEncoding)
	}

	var parentValues, values []uint32
	for level := uint32(0); level <= invLOD; level++ {
		dim := e.levelDim(level)
		n := dim * dim * dim
		values = make([]uint32, n)

		for j := uint32(0); j < n; j++ {
			childIndex := int(j & 7)
			var wop wavelet.Opcode
			if detailMatrix != nil && level == finest {
				wop = detailMatrix.Access(j)
			} else {
				wop = matrix.Access(levelStarts[level] + j)
			}
			op := fromWaveletOp(wop)

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

// DecodeVoxel navigates the opcode matrix via Access/Rank, the same
// O(levels) pattern as WaveletMatrixEncoder's DecodeVoxel.
func (e *HuffmanWaveletMatrixEncoder) DecodeVoxel(brickEncoding []uint32, targetInvLOD uint32, validBrickSize [3]uint32, index uint32) (uint32, error) {
	matrix, levelStarts := e.unpackMatrix(brickEncoding)
	level := targetInvLOD
	j := index

	for {
		dim := e.levelDim(level)
		childIndex := int(j & 7)
		op := fromWaveletOp(matrix.Access(levelStarts[level] + j))

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
			// See WaveletMatrixEncoder.DecodeVoxel: rank-1 is the correct
			// zero-based palette index for both ADV and LAST alike, since
			// Rank's inclusive upper bound already accounts for whichever of
			// the two this opcode is.
			rank := matrix.Rank(levelStarts[level]+j+1, wavelet.OpPaletteAdv)
			paletteIndex := rank - 1
			return brickEncoding[len(brickEncoding)-1-int(paletteIndex)], nil
		default:
			return 0, fmt.Errorf("brick: %w: unsupported opcode %d", codec.ErrInvariantViolated, op)
		}
	}
}

// SplitDetail separates the finest LOD's opcodes into a standalone
// single-level Huffman matrix, re-packing the remaining LODs into their
// own Huffman matrix in base. The shared palette moves with base
// unchanged in content.
func (e *HuffmanWaveletMatrixEncoder) SplitDetail(brickEncoding []uint32) (base []uint32, detail []uint32, err error) {
	matrix, levelStarts := e.unpackMatrix(brickEncoding)
	finest := e.lodCount() - 1
	finestStart := levelStarts[finest]
	dim := e.levelDim(finest)
	totalSymbols := finestStart + dim*dim*dim

	detailOps := make([]wavelet.Opcode, totalSymbols-finestStart)
	for j := range detailOps {
		detailOps[j] = matrix.Access(finestStart + uint32(j))
	}
	detailMatrix := wavelet.BuildHuffman(detailOps)
	detailWords := detailMatrix.RawWords()
	detailBoundaries := detailMatrix.LevelStarts()
	detail = make([]uint32, wavelet.HWMLevels+2+len(detailWords)*2)
	for l := 0; l <= wavelet.HWMLevels; l++ {
		detail[l] = detailBoundaries[l]
	}
	detail[wavelet.HWMLevels+1] = uint32(len(detailWords))
	packWords(detail[wavelet.HWMLevels+2:], detailWords)

	baseOps := make([]wavelet.Opcode, finestStart)
	for j := range baseOps {
		baseOps[j] = matrix.Access(uint32(j))
	}
	baseMatrix := wavelet.BuildHuffman(baseOps)
	baseWords := baseMatrix.RawWords()
	baseBoundaries := baseMatrix.LevelStarts()

	headerSize := e.headerSize()
	lodCount := e.lodCount()
	paletteSize := brickEncoding[e.PaletteSizeHeaderIndex()]
	base = make([]uint32, headerSize+uint32(len(baseWords))*2+paletteSize)
	copy(base[:finest], levelStarts[:finest])
	base[finest] = finestStart
	for l := 0; l <= wavelet.HWMLevels; l++ {
		base[lodCount+uint32(l)] = baseBoundaries[l]
	}
	afterLevelStarts := lodCount + uint32(wavelet.HWMLevels) + 1
	base[afterLevelStarts] = uint32(len(baseWords))
	base[afterLevelStarts+1] = 0
	base[e.PaletteSizeHeaderIndex()] = paletteSize
	packWords(base[headerSize:], baseWords)
	copy(base[headerSize+uint32(len(baseWords))*2:], brickEncoding[uint32(len(brickEncoding))-paletteSize:])
	return base, detail, nil
}

// ConstantSubregionCounts decodes the constant_subregion bit vector stored
// alongside the opcode matrix and returns, per LOD, how many of that
// level's nodes were flagged constant against the level's total node
// count. This is the only reader anywhere in the package of the vector
// described in Open Question 6; it exists for brick.Dump's diagnostic use
// and is not consulted by any decode path.
func (e *HuffmanWaveletMatrixEncoder) ConstantSubregionCounts(brickEncoding []uint32) (constant, total []uint32, err error) {
	lodCount := e.lodCount()
	var levelBoundaries [wavelet.HWMLevels + 1]uint32
	for l := 0; l <= wavelet.HWMLevels; l++ {
		levelBoundaries[l] = brickEncoding[lodCount+uint32(l)]
	}
	afterLevelStarts := lodCount + uint32(wavelet.HWMLevels) + 1
	matrixWordCount := brickEncoding[afterLevelStarts]
	stopWordCount := brickEncoding[afterLevelStarts+1]

	p := e.headerSize() + matrixWordCount*2
	if uint32(len(brickEncoding)) < p+stopWordCount*2 {
		return nil, nil, fmt.Errorf("brick: %w: encoding too short for stop-bit vector", codec.ErrInvariantViolated)
	}
	stopWords := unpackWords(brickEncoding[p:], stopWordCount)
	totalSymbols := levelBoundaries[wavelet.HWMLevels]
	stopBits := bitio.NewBitVectorFromWords(stopWords, totalSymbols)

	levelStarts := make([]uint32, lodCount)
	copy(levelStarts, brickEncoding[:lodCount])

	constant = make([]uint32, lodCount)
	total = make([]uint32, lodCount)
	for level := uint32(0); level < lodCount; level++ {
		dim := e.levelDim(level)
		n := dim * dim * dim
		total[level] = n
		for j := uint32(0); j < n; j++ {
			if stopBits.Access(levelStarts[level] + j) {
				constant[level]++
			}
		}
	}
	return constant, total, nil
}

// Verify checks the header's internal consistency.
func (e *HuffmanWaveletMatrixEncoder) Verify(brickEncoding []uint32, brickSize uint32) error {
	if uint32(len(brickEncoding)) < e.headerSize() {
		return fmt.Errorf("brick: %w: encoding shorter than header", codec.ErrInvariantViolated)
	}
	if brickEncoding[e.PaletteSizeHeaderIndex()] == 0 {
		return fmt.Errorf("brick: %w: palette size is zero", codec.ErrInvariantViolated)
	}
	return nil
}
