package volume_test

import (
	"math/rand"
	"testing"

	"github.com/kit-vcg/csgv-go/config"
	"github.com/kit-vcg/csgv-go/sfc"
	"github.com/kit-vcg/csgv-go/volume"
)

// syntheticVolume builds a deterministic x-fastest voxel buffer with a
// bounded number of distinct labels, large enough to span several bricks
// and exercise edge bricks (dim not a multiple of brickSide).
func syntheticVolume(dim [3]uint32, labelCount uint32, seed int64) []uint32 {
	r := rand.New(rand.NewSource(seed))
	data := make([]uint32, uint64(dim[0])*uint64(dim[1])*uint64(dim[2]))
	var p sfc.Vec3
	extent := sfc.Vec3{X: dim[0], Y: dim[1], Z: dim[2]}
	for p.Z = 0; p.Z < dim[2]; p.Z++ {
		for p.Y = 0; p.Y < dim[1]; p.Y++ {
			for p.X = 0; p.X < dim[0]; p.X++ {
				label := (p.X/3 + p.Y/4 + p.Z/2 + uint32(r.Intn(2))) % labelCount
				data[sfc.CartesianIndex(p, extent)] = label
			}
		}
	}
	return data
}

func baseConfig(brickSide uint32) config.Config {
	cfg := config.NewDefault()
	cfg.BrickSide = brickSide
	return cfg
}

func TestEncodeDecodeRoundTripSerial(t *testing.T) {
	dim := [3]uint32{20, 12, 10}
	data := syntheticVolume(dim, 6, 1)
	cfg := baseConfig(8)

	vol, err := volume.Encode(data, dim, cfg, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := vol.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	finest := vol.LODsPerBrick() - 1
	got, err := vol.DecodeLOD(finest, 0)
	if err != nil {
		t.Fatalf("DecodeLOD: %v", err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("voxel %d: want %d, got %d", i, data[i], got[i])
		}
	}
}

func TestEncodeDecodeRoundTripRandomAccess(t *testing.T) {
	dim := [3]uint32{16, 16, 16}
	data := syntheticVolume(dim, 5, 2)
	cfg := baseConfig(16)
	cfg.RandomAccess = true
	cfg.OpMask = config.AllOps &^ (config.OpPaletteD | config.OpStopBit)

	vol, err := volume.Encode(data, dim, cfg, 4)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	finest := vol.LODsPerBrick() - 1
	got, err := vol.DecodeLOD(finest, 4)
	if err != nil {
		t.Fatalf("DecodeLOD: %v", err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("voxel %d: want %d, got %d", i, data[i], got[i])
		}
	}
}

func TestDecodeLODParallelMatchesSerialWorker(t *testing.T) {
	dim := [3]uint32{24, 24, 16}
	data := syntheticVolume(dim, 7, 3)
	cfg := baseConfig(8)

	vol, err := volume.Encode(data, dim, cfg, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	single, err := vol.DecodeLOD(vol.LODsPerBrick()-1, 1)
	if err != nil {
		t.Fatalf("DecodeLOD(workers=1): %v", err)
	}
	parallel, err := vol.DecodeLOD(vol.LODsPerBrick()-1, 8)
	if err != nil {
		t.Fatalf("DecodeLOD(workers=8): %v", err)
	}
	for i := range single {
		if single[i] != parallel[i] {
			t.Fatalf("voxel %d: serial %d != parallel %d", i, single[i], parallel[i])
		}
	}
}

func TestDecodeLODCoarserLevelsAreConstantBlocks(t *testing.T) {
	dim := [3]uint32{16, 16, 16}
	data := syntheticVolume(dim, 4, 4)
	cfg := baseConfig(16)

	vol, err := volume.Encode(data, dim, cfg, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	coarse, err := vol.DecodeLOD(0, 0)
	if err != nil {
		t.Fatalf("DecodeLOD(0): %v", err)
	}
	// At inverse LOD 0 every brick collapses to one label; every voxel in
	// a brick's footprint must carry that brick's single label.
	extent := sfc.Vec3{X: dim[0], Y: dim[1], Z: dim[2]}
	want := coarse[sfc.CartesianIndex(sfc.Vec3{X: 0, Y: 0, Z: 0}, extent)]
	for _, v := range coarse {
		if v != want {
			t.Fatalf("expected single brick to collapse to one label, got %d and %d", want, v)
		}
	}
}

func TestSplitArenaOverflowProducesMultipleSplits(t *testing.T) {
	dim := [3]uint32{64, 64, 32}
	data := syntheticVolume(dim, 20, 5)
	cfg := baseConfig(8)
	cfg.TargetSplitBytes = 256 // forces many splits for this brick count

	vol, err := volume.Encode(data, dim, cfg, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := vol.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	info := vol.EncodingInfoString()
	if info == "" {
		t.Fatalf("EncodingInfoString: empty")
	}

	got, err := vol.DecodeLOD(vol.LODsPerBrick()-1, 0)
	if err != nil {
		t.Fatalf("DecodeLOD: %v", err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("voxel %d: want %d, got %d", i, data[i], got[i])
		}
	}
}

func TestSeparateDetailPreservesDecode(t *testing.T) {
	dim := [3]uint32{16, 16, 16}
	data := syntheticVolume(dim, 5, 6)
	cfg := baseConfig(16)

	vol, err := volume.Encode(data, dim, cfg, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := vol.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	before, err := vol.DecodeLOD(vol.LODsPerBrick()-1, 0)
	if err != nil {
		t.Fatalf("DecodeLOD before split: %v", err)
	}

	if err := vol.SeparateDetail(); err != nil {
		t.Fatalf("SeparateDetail: %v", err)
	}
	if !vol.HasDetail() {
		t.Fatalf("HasDetail: want true after SeparateDetail")
	}
	// Idempotent: calling again must not error or change anything observable.
	if err := vol.SeparateDetail(); err != nil {
		t.Fatalf("second SeparateDetail: %v", err)
	}

	after, err := vol.DecodeLOD(vol.LODsPerBrick()-1, 0)
	if err != nil {
		t.Fatalf("DecodeLOD after split: %v", err)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("voxel %d: before %d, after split %d", i, before[i], after[i])
		}
	}

	detailEnc, err := vol.BrickDetailEncoding(0)
	if err != nil {
		t.Fatalf("BrickDetailEncoding: %v", err)
	}
	if len(detailEnc) == 0 {
		t.Fatalf("expected a non-empty detail encoding for brick 0")
	}
}

func TestSeparateDetailRandomAccessFinestLODStillDecodes(t *testing.T) {
	dim := [3]uint32{16, 16, 16}
	data := syntheticVolume(dim, 4, 7)
	cfg := baseConfig(16)
	cfg.RandomAccess = true
	cfg.OpMask = config.AllOps &^ (config.OpPaletteD | config.OpStopBit)

	vol, err := volume.Encode(data, dim, cfg, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := vol.SeparateDetail(); err != nil {
		t.Fatalf("SeparateDetail: %v", err)
	}

	finest := vol.LODsPerBrick() - 1
	// Exercises the DecodeLOD routing decision: detail-separated + finest
	// LOD must go through the brick-chunked path even for a random-access
	// capable encoder, concurrently, without racing.
	got, err := vol.DecodeLOD(finest, 8)
	if err != nil {
		t.Fatalf("DecodeLOD: %v", err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("voxel %d: want %d, got %d", i, data[i], got[i])
		}
	}

	coarser, err := vol.DecodeLOD(finest-1, 8)
	if err != nil {
		t.Fatalf("DecodeLOD(coarser): %v", err)
	}
	if len(coarser) != len(data) {
		t.Fatalf("DecodeLOD(coarser): wrong length")
	}
}

func TestVerifyRejectedAfterSeparateDetail(t *testing.T) {
	dim := [3]uint32{16, 16, 16}
	data := syntheticVolume(dim, 3, 8)
	cfg := baseConfig(16)

	vol, err := volume.Encode(data, dim, cfg, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := vol.SeparateDetail(); err != nil {
		t.Fatalf("SeparateDetail: %v", err)
	}
	if err := vol.Verify(); err == nil {
		t.Fatalf("Verify: expected error after SeparateDetail, got nil")
	}
}

func TestCheckCompatibility(t *testing.T) {
	if err := volume.CheckCompatibility(config.Fingerprint()); err != nil {
		t.Fatalf("CheckCompatibility(own fingerprint): %v", err)
	}
	if err := volume.CheckCompatibility(config.Fingerprint() ^ 1); err == nil {
		t.Fatalf("CheckCompatibility(mismatched fingerprint): expected error, got nil")
	}
}

func TestDecodeLODOutOfRangeErrors(t *testing.T) {
	dim := [3]uint32{8, 8, 8}
	data := syntheticVolume(dim, 2, 9)
	cfg := baseConfig(8)

	vol, err := volume.Encode(data, dim, cfg, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := vol.DecodeLOD(vol.LODsPerBrick(), 0); err == nil {
		t.Fatalf("DecodeLOD(out of range): expected error, got nil")
	}
}

func TestPaletteAccessors(t *testing.T) {
	dim := [3]uint32{8, 8, 8}
	data := syntheticVolume(dim, 4, 10)
	cfg := baseConfig(8)

	vol, err := volume.Encode(data, dim, cfg, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	n, err := vol.PaletteLength(0)
	if err != nil {
		t.Fatalf("PaletteLength: %v", err)
	}
	if n == 0 {
		t.Fatalf("PaletteLength: want > 0")
	}
	palette, err := vol.ReversePalette(0)
	if err != nil {
		t.Fatalf("ReversePalette: %v", err)
	}
	if uint32(len(palette)) != n {
		t.Fatalf("ReversePalette length %d != PaletteLength %d", len(palette), n)
	}

	if _, err := vol.PaletteLength(vol.BrickCount()); err == nil {
		t.Fatalf("PaletteLength(out of range): expected error, got nil")
	}
}
