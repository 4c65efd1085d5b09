// Package config holds the single configuration object that parameterizes
// a compressed volume: brick geometry, encoding mode, the operation mask,
// and the resource knobs governing split arenas and worker concurrency.
package config

import (
	"fmt"

	"github.com/kit-vcg/csgv-go/codec"
)

// DefaultTargetSplitBytes is the default cap on one encoding arena split.
const DefaultTargetSplitBytes = 2 * 1024 * 1024 * 1024 // 2 GiB

// Op is one bit of the operation mask governing which opcodes an encoder
// is allowed to emit.
type Op uint32

const (
	OpParent Op = 1 << iota
	OpNeighborX
	OpNeighborY
	OpNeighborZ
	OpPaletteLast
	OpPaletteD
	OpPaletteDLegacy
	OpStopBit
)

// AllOps is the default mask used when a caller does not restrict opcodes.
const AllOps = OpParent | OpNeighborX | OpNeighborY | OpNeighborZ | OpPaletteLast | OpPaletteD | OpStopBit

// Has reports whether mask includes op.
func (mask Op) Has(op Op) bool {
	return mask&op != 0
}

// validBrickSides enumerates the only supported brick side lengths.
var validBrickSides = map[uint32]bool{8: true, 16: true, 32: true, 64: true, 128: true}

// Config is the single configuration object consumed by the codec: every
// brick encoder and the volume container read their behavior from one of
// these, constructed once and treated as immutable afterwards.
type Config struct {
	BrickSide    uint32
	EncodingMode codec.EncodingMode
	OpMask       Op
	RandomAccess bool

	// PaletteDeltaLegacy selects the older single-nibble PALETTE_D encoding
	// (distance in [1,16], no continuation bit) instead of the multi-nibble
	// continuation form. The serial encoder uses the legacy form only when
	// OpMask also includes OpPaletteDLegacy, and its decoder reads PALETTE_D
	// in that same form, so a brick decodes only with the setting it was
	// encoded with. New encoders should leave this false.
	PaletteDeltaLegacy bool

	// FrequencyTable and FinestFrequencyTable are optional 16-entry opcode
	// frequency tables used by the variable-bit-length modes to build a
	// shared canonical code. For the fixed-shape modes both stay zero and
	// HasFrequencyTables is false.
	FrequencyTable       [16]uint32
	FinestFrequencyTable [16]uint32
	HasFrequencyTables   bool

	TargetSplitBytes uint64
	WorkerCount      int
}

// NewDefault returns a Config with the spec's defaults: brick side 32,
// nibble encoding, every opcode enabled, serial decoding, a 2 GiB split
// target, and hardware-concurrency worker count.
func NewDefault() Config {
	return Config{
		BrickSide:        32,
		EncodingMode:     codec.Nibble,
		OpMask:           AllOps,
		RandomAccess:     false,
		TargetSplitBytes: DefaultTargetSplitBytes,
		WorkerCount:      0,
	}
}

// Validate checks the configuration for internal consistency, returning a
// *codec.ConfigError describing the first violation found.
func (c Config) Validate() error {
	if !validBrickSides[c.BrickSide] {
		return &codec.ConfigError{Field: "BrickSide", Err: fmt.Errorf("must be one of 8, 16, 32, 64, 128, got %d", c.BrickSide)}
	}

	switch c.EncodingMode {
	case codec.Nibble, codec.WaveletMatrix, codec.HuffmanWaveletMatrix:
	case codec.SingleTableVBL, codec.DoubleTableVBL:
		return &codec.ConfigError{Field: "EncodingMode", Err: fmt.Errorf("%s is not implemented by this build", c.EncodingMode)}
	default:
		return &codec.ConfigError{Field: "EncodingMode", Err: fmt.Errorf("unknown encoding mode %d", c.EncodingMode)}
	}

	if c.RandomAccess {
		switch c.EncodingMode {
		case codec.Nibble, codec.WaveletMatrix, codec.HuffmanWaveletMatrix:
		default:
			return &codec.ConfigError{Field: "RandomAccess", Err: fmt.Errorf("random access is only supported for Nibble, WaveletMatrix, and HuffmanWaveletMatrix")}
		}
		if c.EncodingMode == codec.Nibble && c.OpMask.Has(OpPaletteD) {
			return &codec.ConfigError{Field: "OpMask", Err: fmt.Errorf("PALETTE_D is incompatible with random access in the nibble encoder")}
		}
		if c.EncodingMode == codec.Nibble && c.OpMask.Has(OpStopBit) {
			return &codec.ConfigError{Field: "OpMask", Err: fmt.Errorf("STOP_BIT is incompatible with random access in the nibble encoder; use a stop-bit vector variant instead")}
		}
	}

	if c.TargetSplitBytes == 0 {
		return &codec.ConfigError{Field: "TargetSplitBytes", Err: fmt.Errorf("must be positive")}
	}
	if c.WorkerCount < 0 {
		return &codec.ConfigError{Field: "WorkerCount", Err: fmt.Errorf("must be >= 0 (0 = hardware concurrency)")}
	}

	return nil
}

// Fingerprint returns a stable identifier of the compile-time rank-table
// and wavelet-matrix constants this build was compiled with. Readers of
// an externally framed artifact compare this against the value recorded
// alongside it and reject the artifact on mismatch (ErrIncompatibleArtifact),
// since the rank tables are not portable across differing constants.
func Fingerprint() uint64 {
	const (
		bits1       = 20
		bits2       = 11
		l2PerL1     = 4
		wmLevels    = 4
		hwmLevels   = 5
		hwmAlphabet = 6
	)
	var fp uint64
	for _, v := range []uint64{bits1, bits2, l2PerL1, wmLevels, hwmLevels, hwmAlphabet} {
		fp = fp*1000003 + v
	}
	return fp
}
