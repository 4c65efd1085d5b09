// Package codec defines the BrickEncoder interface shared by every opcode
// encoding strategy (nibble, wavelet matrix, Huffman wavelet matrix) together
// with the registry and error types used to select between them at runtime.
package codec

// EncodingMode identifies a brick opcode encoding strategy.
type EncodingMode int

const (
	// Nibble packs opcodes as 4-bit nibbles. The serial nibble encoder
	// decodes a brick front to back only; the random-access nibble encoder
	// also resolves single voxels.
	Nibble EncodingMode = iota
	// WaveletMatrix shapes the opcode stream into a 4-level, 16-symbol
	// wavelet matrix that supports O(1) random access per voxel.
	WaveletMatrix
	// HuffmanWaveletMatrix further compresses the opcode stream by giving
	// frequent opcodes shorter Huffman-shaped codes while retaining
	// random access.
	HuffmanWaveletMatrix
	// SingleTableVBL is a variable-bit-length mode driven by one shared
	// opcode frequency table. Not implemented by this build; config
	// validation rejects it with a ConfigError rather than silently
	// falling back to another mode.
	SingleTableVBL
	// DoubleTableVBL is a variable-bit-length mode with separate base and
	// finest-LOD frequency tables. Not implemented by this build.
	DoubleTableVBL
)

// String returns the human-readable name of the encoding mode.
func (m EncodingMode) String() string {
	switch m {
	case Nibble:
		return "nibble"
	case WaveletMatrix:
		return "wavelet-matrix"
	case HuffmanWaveletMatrix:
		return "huffman-wavelet-matrix"
	case SingleTableVBL:
		return "single-table-vbl"
	case DoubleTableVBL:
		return "double-table-vbl"
	default:
		return "unknown"
	}
}

// BrickEncoder is the interface implemented by every opcode encoding
// strategy for a single cubic brick of a segmentation volume. All bricks of
// one volume share a brick side length and are encoded through one
// BrickEncoder instance.
type BrickEncoder interface {
	// Mode returns the encoding strategy this encoder implements.
	Mode() EncodingMode

	// Name returns a human-readable name, used for registry lookup and
	// diagnostics.
	Name() string

	// EncodeBrick encodes the multigrid of one brick into out, returning the
	// number of used uint32 words. volume holds the whole, possibly
	// out-of-bounds-padded input volume; start and volumeDim give the
	// brick's origin and the volume's extents in voxels.
	EncodeBrick(volume []uint32, out []uint32, start, volumeDim [3]uint32) (uint32, error)

	// DecodeBrick reconstructs up to invLOD levels of detail of one brick
	// from its encoding into out, which must hold brickSize^3 entries.
	DecodeBrick(brickEncoding []uint32, detailEncoding []uint32, out []uint32, validBrickSize [3]uint32, invLOD uint32) error

	// DecodeVoxel performs a random access decode of a single voxel at the
	// given linear brick-local index without reconstructing the whole brick.
	// Only supported by random-access capable encoders.
	DecodeVoxel(brickEncoding []uint32, targetInvLOD uint32, validBrickSize [3]uint32, index uint32) (uint32, error)

	// SupportsRandomAccess reports whether DecodeVoxel can be used.
	SupportsRandomAccess() bool

	// PaletteSizeHeaderIndex returns the index into a brick's uint32 header
	// at which the palette size is stored.
	PaletteSizeHeaderIndex() uint32

	// Verify checks a brick's encoding for the structural invariants the
	// encoder relies on (monotonic LOD starts, non-empty palette, ...).
	Verify(brickEncoding []uint32, brickSize uint32) error

	// SplitDetail moves the finest LOD's opcode subsequence out of a
	// freshly produced brickEncoding into a standalone detail encoding,
	// returning the shrunk base encoding alongside it. The shared palette
	// stays in base; opcodes moved into detail still resolve palette
	// entries against base's tail.
	SplitDetail(brickEncoding []uint32) (base []uint32, detail []uint32, err error)
}

// Options carries encoding-strategy specific knobs, analogous to the base
// codec configuration shared across all three brick encoders.
type Options interface {
	// Validate checks that the options are internally consistent.
	Validate() error
}

// BaseOptions holds the options shared by all brick encoders.
type BaseOptions struct {
	// RandomAccess requests an encoding that supports DecodeVoxel. Ignored
	// (always true) for WaveletMatrix and HuffmanWaveletMatrix.
	RandomAccess bool
	// SeparateDetail requests that the finest level of detail be split into
	// its own arena, away from the coarser LODs used for preview rendering.
	SeparateDetail bool
}

// Validate validates the base options.
func (o *BaseOptions) Validate() error {
	return nil
}
