package brick_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kit-vcg/csgv-go/brick"
	"github.com/kit-vcg/csgv-go/config"
	"github.com/kit-vcg/csgv-go/sfc"
)

const testBrickSide = 8

func constantVolume(label uint32) []uint32 {
	vol := make([]uint32, testBrickSide*testBrickSide*testBrickSide)
	for i := range vol {
		vol[i] = label
	}
	return vol
}

func checkerboardVolume() []uint32 {
	vol := make([]uint32, testBrickSide*testBrickSide*testBrickSide)
	var p sfc.Vec3
	dim := sfc.Vec3{X: testBrickSide, Y: testBrickSide, Z: testBrickSide}
	for p.Z = 0; p.Z < testBrickSide; p.Z++ {
		for p.Y = 0; p.Y < testBrickSide; p.Y++ {
			for p.X = 0; p.X < testBrickSide; p.X++ {
				label := uint32((p.X + p.Y + p.Z) % 2)
				vol[sfc.CartesianIndex(p, dim)] = label
			}
		}
	}
	return vol
}

func stripedVolume() []uint32 {
	vol := make([]uint32, testBrickSide*testBrickSide*testBrickSide)
	var p sfc.Vec3
	dim := sfc.Vec3{X: testBrickSide, Y: testBrickSide, Z: testBrickSide}
	for p.Z = 0; p.Z < testBrickSide; p.Z++ {
		for p.Y = 0; p.Y < testBrickSide; p.Y++ {
			for p.X = 0; p.X < testBrickSide; p.X++ {
				vol[sfc.CartesianIndex(p, dim)] = p.X % 4
			}
		}
	}
	return vol
}

var zeroStart = [3]uint32{0, 0, 0}
var fullDim = [3]uint32{testBrickSide, testBrickSide, testBrickSide}
var fullValid = [3]uint32{testBrickSide, testBrickSide, testBrickSide}

func decodeAll(t *testing.T, enc interface {
	DecodeBrick(brickEncoding, detailEncoding, out []uint32, validBrickSize [3]uint32, invLOD uint32) error
}, brickEncoding []uint32, invLOD uint32) []uint32 {
	t.Helper()
	out := make([]uint32, testBrickSide*testBrickSide*testBrickSide)
	if err := enc.DecodeBrick(brickEncoding, nil, out, fullValid, invLOD); err != nil {
		t.Fatalf("DecodeBrick: %v", err)
	}
	return out
}

func assertVolumesEqual(t *testing.T, want, got []uint32) {
	t.Helper()
	var p sfc.Vec3
	dim := sfc.Vec3{X: testBrickSide, Y: testBrickSide, Z: testBrickSide}
	for p.Z = 0; p.Z < testBrickSide; p.Z++ {
		for p.Y = 0; p.Y < testBrickSide; p.Y++ {
			for p.X = 0; p.X < testBrickSide; p.X++ {
				idx := sfc.CartesianIndex(p, dim)
				mortonIdx := sfc.MortonEncode(p)
				if want[idx] != got[mortonIdx] {
					t.Fatalf("voxel %v: want %d, got %d", p, want[idx], got[mortonIdx])
				}
			}
		}
	}
}

func TestSerialRoundTripConstantBrick(t *testing.T) {
	enc := brick.NewSerialEncoder(testBrickSide, config.AllOps, false)
	vol := constantVolume(7)
	out := make([]uint32, 2048)
	n, err := enc.EncodeBrick(vol, out, zeroStart, fullDim)
	if err != nil {
		t.Fatalf("EncodeBrick: %v", err)
	}
	got := decodeAll(t, enc, out[:n], 3)
	assertVolumesEqual(t, vol, got)
}

func TestSerialRoundTripCheckerboard(t *testing.T) {
	enc := brick.NewSerialEncoder(testBrickSide, config.AllOps, false)
	vol := checkerboardVolume()
	out := make([]uint32, 2048)
	n, err := enc.EncodeBrick(vol, out, zeroStart, fullDim)
	if err != nil {
		t.Fatalf("EncodeBrick: %v", err)
	}
	got := decodeAll(t, enc, out[:n], 3)
	assertVolumesEqual(t, vol, got)
}

func TestSerialRoundTripStriped(t *testing.T) {
	enc := brick.NewSerialEncoder(testBrickSide, config.AllOps, false)
	vol := stripedVolume()
	out := make([]uint32, 2048)
	n, err := enc.EncodeBrick(vol, out, zeroStart, fullDim)
	if err != nil {
		t.Fatalf("EncodeBrick: %v", err)
	}
	got := decodeAll(t, enc, out[:n], 3)
	assertVolumesEqual(t, vol, got)
}

func TestSerialFirstOpcodeIsPaletteAdv(t *testing.T) {
	enc := brick.NewSerialEncoder(testBrickSide, config.AllOps, false)
	vol := stripedVolume()
	out := make([]uint32, 2048)
	n, err := enc.EncodeBrick(vol, out, zeroStart, fullDim)
	if err != nil {
		t.Fatalf("EncodeBrick: %v", err)
	}
	if err := enc.Verify(out[:n], testBrickSide); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func randomAccessOpMask() config.Op {
	return config.OpParent | config.OpNeighborX | config.OpNeighborY | config.OpNeighborZ | config.OpPaletteLast
}

func TestRandomAccessRoundTripAndDecodeVoxel(t *testing.T) {
	enc := brick.NewRandomAccessEncoder(testBrickSide, randomAccessOpMask())
	vol := stripedVolume()
	out := make([]uint32, 2048)
	n, err := enc.EncodeBrick(vol, out, zeroStart, fullDim)
	if err != nil {
		t.Fatalf("EncodeBrick: %v", err)
	}
	encoding := out[:n]

	got := decodeAll(t, enc, encoding, 3)
	assertVolumesEqual(t, vol, got)

	// Spot-check DecodeVoxel at the finest LOD against the full decode.
	for j := uint32(0); j < testBrickSide*testBrickSide*testBrickSide; j += 13 {
		want := got[j]
		voxel, err := enc.DecodeVoxel(encoding, 3, fullValid, j)
		if err != nil {
			t.Fatalf("DecodeVoxel(%d): %v", j, err)
		}
		if voxel != want {
			t.Fatalf("DecodeVoxel(%d) = %d, want %d", j, voxel, want)
		}
	}
}

func TestWaveletMatrixRoundTripAndDecodeVoxel(t *testing.T) {
	enc := brick.NewWaveletMatrixEncoder(testBrickSide, randomAccessOpMask())
	vol := checkerboardVolume()
	out := make([]uint32, 2048)
	n, err := enc.EncodeBrick(vol, out, zeroStart, fullDim)
	if err != nil {
		t.Fatalf("EncodeBrick: %v", err)
	}
	encoding := out[:n]

	got := decodeAll(t, enc, encoding, 3)
	assertVolumesEqual(t, vol, got)

	for j := uint32(0); j < testBrickSide*testBrickSide*testBrickSide; j += 17 {
		want := got[j]
		voxel, err := enc.DecodeVoxel(encoding, 3, fullValid, j)
		if err != nil {
			t.Fatalf("DecodeVoxel(%d): %v", j, err)
		}
		if voxel != want {
			t.Fatalf("DecodeVoxel(%d) = %d, want %d", j, voxel, want)
		}
	}
}

func TestHuffmanWaveletMatrixRoundTripAndDecodeVoxel(t *testing.T) {
	enc := brick.NewHuffmanWaveletMatrixEncoder(testBrickSide, randomAccessOpMask())
	vol := stripedVolume()
	out := make([]uint32, 2048)
	n, err := enc.EncodeBrick(vol, out, zeroStart, fullDim)
	if err != nil {
		t.Fatalf("EncodeBrick: %v", err)
	}
	encoding := out[:n]

	got := decodeAll(t, enc, encoding, 3)
	assertVolumesEqual(t, vol, got)

	for j := uint32(0); j < testBrickSide*testBrickSide*testBrickSide; j += 11 {
		want := got[j]
		voxel, err := enc.DecodeVoxel(encoding, 3, fullValid, j)
		if err != nil {
			t.Fatalf("DecodeVoxel(%d): %v", j, err)
		}
		if voxel != want {
			t.Fatalf("DecodeVoxel(%d) = %d, want %d", j, voxel, want)
		}
	}
}

func TestDumpReportsConstantSubregionsForConstantBrick(t *testing.T) {
	enc := brick.NewHuffmanWaveletMatrixEncoder(testBrickSide, randomAccessOpMask())
	vol := constantVolume(9)
	out := make([]uint32, 2048)
	n, err := enc.EncodeBrick(vol, out, zeroStart, fullDim)
	if err != nil {
		t.Fatalf("EncodeBrick: %v", err)
	}

	var buf bytes.Buffer
	if err := brick.Dump(&buf, enc, out[:n]); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	text := buf.String()
	if !strings.Contains(text, "huffman-wavelet-matrix") {
		t.Fatalf("Dump output missing mode name: %q", text)
	}
	// A wholly constant brick's coarsest LOD's single node is trivially
	// its own constant subregion.
	if !strings.Contains(text, "lod=0 constant=1/1") {
		t.Fatalf("Dump output missing expected coarsest-LOD line: %q", text)
	}
}

func TestDumpOnNonHuffmanEncoderOmitsConstantSubregionLines(t *testing.T) {
	enc := brick.NewSerialEncoder(testBrickSide, config.AllOps, false)
	vol := checkerboardVolume()
	out := make([]uint32, 2048)
	n, err := enc.EncodeBrick(vol, out, zeroStart, fullDim)
	if err != nil {
		t.Fatalf("EncodeBrick: %v", err)
	}

	var buf bytes.Buffer
	if err := brick.Dump(&buf, enc, out[:n]); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if strings.Contains(buf.String(), "constant=") {
		t.Fatalf("Dump output should have no constant-subregion lines for a non-Huffman encoder, got %q", buf.String())
	}
}

func TestEdgeBrickPartiallyOutOfVolume(t *testing.T) {
	// Volume is only half the brick's extent in every axis; the brick
	// still covers the full 8^3 range but must treat the far half as
	// out-of-bounds.
	volDim := [3]uint32{4, 4, 4}
	vol := make([]uint32, 4*4*4)
	for i := range vol {
		vol[i] = 9
	}

	enc := brick.NewSerialEncoder(testBrickSide, config.AllOps, false)
	out := make([]uint32, 2048)
	n, err := enc.EncodeBrick(vol, out, zeroStart, volDim)
	if err != nil {
		t.Fatalf("EncodeBrick: %v", err)
	}
	encodedOut := make([]uint32, testBrickSide*testBrickSide*testBrickSide)
	if err := enc.DecodeBrick(out[:n], nil, encodedOut, [3]uint32{4, 4, 4}, 3); err != nil {
		t.Fatalf("DecodeBrick: %v", err)
	}
	var p sfc.Vec3
	for p.Z = 0; p.Z < 4; p.Z++ {
		for p.Y = 0; p.Y < 4; p.Y++ {
			for p.X = 0; p.X < 4; p.X++ {
				idx := sfc.MortonEncode(p)
				if encodedOut[idx] != 9 {
					t.Fatalf("voxel %v: want 9, got %d", p, encodedOut[idx])
				}
			}
		}
	}
}
