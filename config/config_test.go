package config_test

import (
	"errors"
	"testing"

	"github.com/kit-vcg/csgv-go/codec"
	"github.com/kit-vcg/csgv-go/config"
)

func TestNewDefaultValidates(t *testing.T) {
	c := config.NewDefault()
	if err := c.Validate(); err != nil {
		t.Fatalf("NewDefault() should validate, got %v", err)
	}
}

func TestValidateRejectsBadBrickSide(t *testing.T) {
	c := config.NewDefault()
	c.BrickSide = 24
	err := c.Validate()
	var cfgErr *codec.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *codec.ConfigError, got %v", err)
	}
	if cfgErr.Field != "BrickSide" {
		t.Fatalf("Field = %q, want BrickSide", cfgErr.Field)
	}
}

func TestValidateRejectsUnimplementedVBLModes(t *testing.T) {
	for _, mode := range []codec.EncodingMode{codec.SingleTableVBL, codec.DoubleTableVBL} {
		c := config.NewDefault()
		c.EncodingMode = mode
		if err := c.Validate(); err == nil {
			t.Fatalf("mode %v should be rejected", mode)
		}
	}
}

func TestValidateRejectsPaletteDWithNibbleRandomAccess(t *testing.T) {
	c := config.NewDefault()
	c.RandomAccess = true
	c.OpMask = config.AllOps
	if err := c.Validate(); err == nil {
		t.Fatalf("PALETTE_D with nibble random access should be rejected")
	}
}

func TestValidateAllowsPaletteDWithoutRandomAccess(t *testing.T) {
	c := config.NewDefault()
	c.OpMask = config.AllOps
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsRandomAccessOnStopBitNibble(t *testing.T) {
	c := config.NewDefault()
	c.RandomAccess = true
	c.OpMask = config.OpParent | config.OpStopBit
	if err := c.Validate(); err == nil {
		t.Fatalf("STOP_BIT with nibble random access should be rejected")
	}
}

func TestValidateAllowsRandomAccessWaveletMatrix(t *testing.T) {
	c := config.NewDefault()
	c.EncodingMode = codec.WaveletMatrix
	c.RandomAccess = true
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpMaskHas(t *testing.T) {
	mask := config.OpParent | config.OpNeighborX
	if !mask.Has(config.OpParent) {
		t.Fatalf("expected OpParent set")
	}
	if mask.Has(config.OpPaletteD) {
		t.Fatalf("OpPaletteD should not be set in this mask")
	}
}

func TestFingerprintStable(t *testing.T) {
	if config.Fingerprint() != config.Fingerprint() {
		t.Fatalf("Fingerprint() should be deterministic")
	}
}
