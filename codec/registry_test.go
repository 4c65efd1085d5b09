package codec_test

import (
	"errors"
	"testing"

	"github.com/kit-vcg/csgv-go/codec"
	_ "github.com/kit-vcg/csgv-go/brick"
)

func TestGetByModeReturnsRegisteredEncoders(t *testing.T) {
	for _, mode := range []codec.EncodingMode{codec.Nibble, codec.WaveletMatrix, codec.HuffmanWaveletMatrix} {
		enc, err := codec.GetByMode(mode)
		if err != nil {
			t.Fatalf("GetByMode(%s): %v", mode, err)
		}
		if enc.Mode() != mode {
			t.Fatalf("GetByMode(%s): returned encoder reports mode %s", mode, enc.Mode())
		}
	}
}

func TestGetByNameMatchesGetByMode(t *testing.T) {
	byMode, err := codec.GetByMode(codec.Nibble)
	if err != nil {
		t.Fatalf("GetByMode: %v", err)
	}
	byName, err := codec.Get(byMode.Name())
	if err != nil {
		t.Fatalf("Get(%s): %v", byMode.Name(), err)
	}
	if byName != byMode {
		t.Fatalf("Get and GetByMode returned different encoder instances for %q", byMode.Name())
	}
}

func TestGetUnknownNameReturnsNotFound(t *testing.T) {
	_, err := codec.Get("does-not-exist")
	if !errors.Is(err, codec.ErrCodecNotFound) {
		t.Fatalf("Get(unknown): want ErrCodecNotFound, got %v", err)
	}
}

func TestGetByModeUnimplementedReturnsNotFound(t *testing.T) {
	_, err := codec.GetByMode(codec.SingleTableVBL)
	if !errors.Is(err, codec.ErrCodecNotFound) {
		t.Fatalf("GetByMode(SingleTableVBL): want ErrCodecNotFound, got %v", err)
	}
}

func TestListReturnsOneEncoderPerRegisteredMode(t *testing.T) {
	encs := codec.List()
	seen := make(map[codec.EncodingMode]bool)
	for _, enc := range encs {
		if seen[enc.Mode()] {
			t.Fatalf("List: duplicate entry for mode %s", enc.Mode())
		}
		seen[enc.Mode()] = true
	}
	for _, mode := range []codec.EncodingMode{codec.Nibble, codec.WaveletMatrix, codec.HuffmanWaveletMatrix} {
		if !seen[mode] {
			t.Fatalf("List: missing entry for mode %s", mode)
		}
	}
}

func TestRegisterOverwritesByNameAndMode(t *testing.T) {
	before, err := codec.GetByMode(codec.Nibble)
	if err != nil {
		t.Fatalf("GetByMode: %v", err)
	}
	codec.Register(before)

	after, err := codec.GetByMode(codec.Nibble)
	if err != nil {
		t.Fatalf("GetByMode after re-register: %v", err)
	}
	if after != before {
		t.Fatalf("re-registering the same encoder changed the registered instance")
	}
}
