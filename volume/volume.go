// Package volume implements the compressed segmentation volume container:
// the split-arena bookkeeping and brick-by-brick encode/decode pass that
// sits on top of one codec.BrickEncoder instance.
package volume

import (
	"fmt"
	"math/bits"
	"runtime"
	"sync"

	"github.com/kit-vcg/csgv-go/brick"
	"github.com/kit-vcg/csgv-go/codec"
	"github.com/kit-vcg/csgv-go/config"
	"github.com/kit-vcg/csgv-go/multigrid"
	"github.com/kit-vcg/csgv-go/sfc"
)

// Volume owns the split encoding arenas, the brick-start bookkeeping, and
// the encoder instance for one compressed segmentation volume. It is
// produced by Encode, optionally transformed by SeparateDetail, and read
// through its accessor methods; there is no in-place mutation once built
// besides that one transformation.
type Volume struct {
	cfg       config.Config
	encoder   codec.BrickEncoder
	dim       [3]uint32
	bricksDim [3]uint32

	splits      [][]uint32
	brickStarts []uint32
	splitOf     []uint32

	hasDetail     bool
	detailSplits  [][]uint32
	detailStarts  []uint32
	detailSplitOf []uint32
}

// newEncoder constructs the concrete codec.BrickEncoder named by cfg.
// cfg must already have passed Validate.
func newEncoder(cfg config.Config) (codec.BrickEncoder, error) {
	switch cfg.EncodingMode {
	case codec.Nibble:
		if cfg.RandomAccess {
			return brick.NewRandomAccessEncoder(cfg.BrickSide, cfg.OpMask), nil
		}
		return brick.NewSerialEncoder(cfg.BrickSide, cfg.OpMask, cfg.PaletteDeltaLegacy), nil
	case codec.WaveletMatrix:
		return brick.NewWaveletMatrixEncoder(cfg.BrickSide, cfg.OpMask), nil
	case codec.HuffmanWaveletMatrix:
		return brick.NewHuffmanWaveletMatrixEncoder(cfg.BrickSide, cfg.OpMask), nil
	default:
		return nil, &codec.ConfigError{Field: "EncodingMode", Err: fmt.Errorf("%s is not implemented by this build", cfg.EncodingMode)}
	}
}

func ceilDiv(a, b uint32) uint32 { return (a + b - 1) / b }

// lodCount returns L = log2(brickSide)+1, the same formula every encoder
// derives independently from brickSide; the volume container needs it too
// to compute per-LOD footprints for its own scatter/gather loops.
func lodCount(brickSide uint32) uint32 { return uint32(bits.TrailingZeros32(brickSide)) + 1 }

// levelDim returns the per-axis node count of LOD level for a brick of the
// given side.
func levelDim(brickSide, level uint32) uint32 {
	l := lodCount(brickSide)
	return brickSide >> (l - 1 - level)
}

// brickOrigin returns brick index i's origin in volume voxel coordinates,
// decoded from the x-fastest Cartesian linearization of bricksDim.
func brickOrigin(i uint32, bricksDim [3]uint32, brickSide uint32) [3]uint32 {
	bx := i % bricksDim[0]
	by := (i / bricksDim[0]) % bricksDim[1]
	bz := i / (bricksDim[0] * bricksDim[1])
	return [3]uint32{bx * brickSide, by * brickSide, bz * brickSide}
}

// validBrickSize returns how many voxels of the brick at the given origin
// actually lie inside dim, per axis, capped at brickSide.
func validBrickSize(origin, dim [3]uint32, brickSide uint32) [3]uint32 {
	var v [3]uint32
	for axis := 0; axis < 3; axis++ {
		remaining := uint32(0)
		if dim[axis] > origin[axis] {
			remaining = dim[axis] - origin[axis]
		}
		if remaining > brickSide {
			remaining = brickSide
		}
		v[axis] = remaining
	}
	return v
}

// scratchCapacity bounds the temporary per-brick encode buffer: header words
// plus a full B^3-entry palette plus up to 2 opcode-unit words per voxel,
// generous enough for every encoder's worst case (a brick of distinct
// labels, forcing both a maximal palette and one PALETTE_ADV per voxel).
func scratchCapacity(brickSide uint32) uint32 {
	voxels := brickSide * brickSide * brickSide
	return voxels*3 + 256
}

// Encode builds a Volume from a full voxel buffer (x-fastest, z-slowest,
// length dim[0]*dim[1]*dim[2]) under cfg, encoding bricks in x-fastest
// order. workerCount bricks are encoded concurrently into thread-private
// scratch buffers (0 defaults to cfg.WorkerCount, then runtime.NumCPU());
// a serial pass then appends each brick's encoding to the split arenas in
// ascending brick order, which is the only point at which the arenas are
// mutated.
//
// data must not contain the reserved invalid label (0xFFFFFFFF); behavior
// is undefined if it does, matching the original implementation's
// assert-only enforcement.
func Encode(data []uint32, dim [3]uint32, cfg config.Config, workerCount int) (*Volume, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if uint64(len(data)) != uint64(dim[0])*uint64(dim[1])*uint64(dim[2]) {
		return nil, fmt.Errorf("volume: %w: data length %d does not match dim %v", codec.ErrInvalidParameter, len(data), dim)
	}

	enc, err := newEncoder(cfg)
	if err != nil {
		return nil, err
	}

	bricksDim := [3]uint32{
		ceilDiv(dim[0], cfg.BrickSide),
		ceilDiv(dim[1], cfg.BrickSide),
		ceilDiv(dim[2], cfg.BrickSide),
	}
	brickCount := bricksDim[0] * bricksDim[1] * bricksDim[2]

	workerCount = resolveWorkerCount(workerCount, cfg.WorkerCount, int(brickCount))

	encodings := make([][]uint32, brickCount)
	errs := make([]error, brickCount)
	capacity := scratchCapacity(cfg.BrickSide)

	var wg sync.WaitGroup
	for lo, hi := range chunkRanges(int(brickCount), workerCount) {
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			scratch := make([]uint32, capacity)
			for i := lo; i < hi; i++ {
				origin := brickOrigin(uint32(i), bricksDim, cfg.BrickSide)
				n, err := enc.EncodeBrick(data, scratch, origin, dim)
				if err != nil {
					errs[i] = fmt.Errorf("volume: brick %d: %w", i, err)
					continue
				}
				out := make([]uint32, n)
				copy(out, scratch[:n])
				encodings[i] = out
			}
		}(lo, hi)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	splits, starts, splitOf := packSplits(encodings, cfg.TargetSplitBytes)

	return &Volume{
		cfg:         cfg,
		encoder:     enc,
		dim:         dim,
		bricksDim:   bricksDim,
		splits:      splits,
		brickStarts: starts,
		splitOf:     splitOf,
	}, nil
}

// resolveWorkerCount applies the 0-means-default chain (explicit argument,
// then the config's own WorkerCount, then runtime.NumCPU()) and caps the
// result at itemCount so chunkRanges never hands out empty chunks.
func resolveWorkerCount(explicit, configured, itemCount int) int {
	n := explicit
	if n <= 0 {
		n = configured
	}
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n < 1 {
		n = 1
	}
	if itemCount > 0 && n > itemCount {
		n = itemCount
	}
	return n
}

// chunkRanges splits [0, total) into up to workers contiguous, roughly
// equal ranges, yielding (lo, hi) pairs via an iterator. Ranges that would
// be empty are omitted.
func chunkRanges(total, workers int) func(func(int, int) bool) {
	return func(yield func(int, int) bool) {
		if total <= 0 || workers <= 0 {
			return
		}
		chunk := (total + workers - 1) / workers
		for lo := 0; lo < total; lo += chunk {
			hi := lo + chunk
			if hi > total {
				hi = total
			}
			if !yield(lo, hi) {
				return
			}
		}
	}
}

// packSplits packs a per-brick encodings slice into split arenas capped at
// targetBytes each, following the encoding-arenas convention: the first
// brick of a new split stores the previous split's final word count at its
// own brickStarts slot rather than its own true start of 0, so that slot
// serves as the prior brick's end. splitOf records each brick's split, and
// span uses it to recognize a split's first brick, whose own span starts at
// 0. One trailing sentinel gives the final split's end.
func packSplits(encodings [][]uint32, targetBytes uint64) (splits [][]uint32, starts []uint32, splitOf []uint32) {
	targetWords := targetBytes / 4
	if targetWords == 0 {
		targetWords = 1
	}

	n := uint32(len(encodings))
	starts = make([]uint32, n+1)
	splitOf = make([]uint32, n)
	splits = [][]uint32{{}}
	cur := 0

	for i := uint32(0); i < n; i++ {
		enc := encodings[i]
		before := uint32(len(splits[cur]))
		if len(splits[cur]) > 0 && uint64(before)+uint64(len(enc)) > targetWords {
			prevLen := before
			splits = append(splits, []uint32{})
			cur++
			starts[i] = prevLen
		} else {
			starts[i] = before
		}
		splitOf[i] = uint32(cur)
		splits[cur] = append(splits[cur], enc...)
	}
	starts[n] = uint32(len(splits[cur]))
	return splits, starts, splitOf
}

// span resolves brick i's [start, end) word range within its split from a
// starts array following the packSplits convention: a brick whose split
// differs from brick i-1's is its split's first brick and starts at 0.
func span(starts, splitOf []uint32, i uint32) (start, end uint32) {
	end = starts[i+1]
	start = starts[i]
	if i > 0 && splitOf[i] != splitOf[i-1] {
		start = 0
	}
	return start, end
}

// BrickCount returns the number of bricks in the volume.
func (v *Volume) BrickCount() uint32 {
	return uint32(len(v.splitOf))
}

// LODsPerBrick returns L, the number of inverse-LOD levels addressable per
// brick (0 = coarsest, L-1 = finest).
func (v *Volume) LODsPerBrick() uint32 {
	return lodCount(v.cfg.BrickSide)
}

// Dim returns the volume's voxel extents.
func (v *Volume) Dim() [3]uint32 { return v.dim }

// HasDetail reports whether SeparateDetail has been applied.
func (v *Volume) HasDetail() bool { return v.hasDetail }

// BrickEncoding returns brick i's base encoding as a read-only span into
// its split arena.
func (v *Volume) BrickEncoding(i uint32) ([]uint32, error) {
	if i >= v.BrickCount() {
		return nil, fmt.Errorf("volume: %w: brick index %d", codec.ErrOutOfBounds, i)
	}
	start, end := span(v.brickStarts, v.splitOf, i)
	return v.splits[v.splitOf[i]][start:end], nil
}

// BrickDetailEncoding returns brick i's detail encoding, or nil if
// SeparateDetail has not been applied.
func (v *Volume) BrickDetailEncoding(i uint32) ([]uint32, error) {
	if i >= v.BrickCount() {
		return nil, fmt.Errorf("volume: %w: brick index %d", codec.ErrOutOfBounds, i)
	}
	if !v.hasDetail {
		return nil, nil
	}
	start, end := span(v.detailStarts, v.detailSplitOf, i)
	return v.detailSplits[v.detailSplitOf[i]][start:end], nil
}

// PaletteLength returns the number of distinct palette entries in brick i.
func (v *Volume) PaletteLength(i uint32) (uint32, error) {
	enc, err := v.BrickEncoding(i)
	if err != nil {
		return 0, err
	}
	return enc[v.encoder.PaletteSizeHeaderIndex()], nil
}

// ReversePalette returns brick i's palette, stored tail-first as the wire
// format keeps it (last-pushed entry first).
func (v *Volume) ReversePalette(i uint32) ([]uint32, error) {
	enc, err := v.BrickEncoding(i)
	if err != nil {
		return nil, err
	}
	size := enc[v.encoder.PaletteSizeHeaderIndex()]
	return enc[uint32(len(enc))-size:], nil
}

// EncodingInfoString summarizes the volume's configuration and arena
// layout for diagnostics.
func (v *Volume) EncodingInfoString() string {
	return fmt.Sprintf("volume %dx%dx%d brick=%d mode=%s random_access=%t bricks=%d splits=%d detail=%t",
		v.dim[0], v.dim[1], v.dim[2], v.cfg.BrickSide, v.cfg.EncodingMode, v.cfg.RandomAccess,
		v.BrickCount(), len(v.splits), v.hasDetail)
}

// Verify runs the encoder's structural check over every brick's base
// encoding. It is only meaningful before SeparateDetail, since Verify (like
// DecodeVoxel) is defined over non-detail-separated encodings.
func (v *Volume) Verify() error {
	if v.hasDetail {
		return fmt.Errorf("volume: %w: Verify is only defined before SeparateDetail", codec.ErrInvalidParameter)
	}
	for i := uint32(0); i < v.BrickCount(); i++ {
		enc, err := v.BrickEncoding(i)
		if err != nil {
			return err
		}
		if err := v.encoder.Verify(enc, v.cfg.BrickSide); err != nil {
			return fmt.Errorf("volume: brick %d: %w", i, err)
		}
	}
	return nil
}

// CheckCompatibility rejects an externally framed fingerprint that does
// not match this build's compile-time rank-table and wavelet-matrix
// constants, per the file-container compatibility contract: those
// constants are not portable across differing builds.
func CheckCompatibility(fingerprint uint64) error {
	if fingerprint != config.Fingerprint() {
		return fmt.Errorf("volume: %w: fingerprint %x does not match this build's %x", codec.ErrIncompatibleArtifact, fingerprint, config.Fingerprint())
	}
	return nil
}

// SeparateDetail moves every brick's finest-LOD opcode subsequence into a
// standalone detail arena sharing the base arena's split convention,
// shrinking the base encodings. It is idempotent: calling it again once
// already applied is a no-op. Verify must be run (if desired) before
// calling this, since it is not valid to call afterwards.
func (v *Volume) SeparateDetail() error {
	if v.hasDetail {
		return nil
	}

	n := v.BrickCount()
	bases := make([][]uint32, n)
	details := make([][]uint32, n)
	for i := uint32(0); i < n; i++ {
		enc, err := v.BrickEncoding(i)
		if err != nil {
			return err
		}
		base, detail, err := v.encoder.SplitDetail(enc)
		if err != nil {
			return fmt.Errorf("volume: brick %d: %w", i, err)
		}
		bases[i] = base
		details[i] = detail
	}

	v.splits, v.brickStarts, v.splitOf = packSplits(bases, v.cfg.TargetSplitBytes)
	v.detailSplits, v.detailStarts, v.detailSplitOf = packSplits(details, v.cfg.TargetSplitBytes)
	v.hasDetail = true
	return nil
}

// scatterBrick writes brickOut's Morton-ordered, brickSide^3-entry values
// into out's Cartesian layout, skipping any cell whose brick-local
// position falls outside validSize (an edge brick's out-of-volume padding).
func (v *Volume) scatterBrick(out []uint32, origin [3]uint32, brickOut []uint32, validSize [3]uint32) {
	dimVec := sfc.Vec3{X: v.dim[0], Y: v.dim[1], Z: v.dim[2]}
	for n := uint32(0); n < uint32(len(brickOut)); n++ {
		pos := sfc.MortonDecode(n)
		if pos.X >= validSize[0] || pos.Y >= validSize[1] || pos.Z >= validSize[2] {
			continue
		}
		volPos := sfc.Vec3{X: origin[0] + pos.X, Y: origin[1] + pos.Y, Z: origin[2] + pos.Z}
		out[sfc.CartesianIndex(volPos, dimVec)] = brickOut[n]
	}
}

// DecodeLOD reconstructs the whole volume at the given inverse LOD
// (0 = coarsest, LODsPerBrick()-1 = finest). Non-random-access encodings,
// and any request for the finest LOD of a detail-separated volume, are
// decoded brick-by-brick over a workerCount-chunked range of brick indices
// (decodeLODSerialChunks); the latter case is routed here rather than
// through the voxel path because DecodeVoxel, unlike DecodeBrick, is only
// defined over encodings whose finest LOD has not been moved to a detail
// arena. Otherwise, random-access encodings chunk the flat (brick, output
// voxel) index range so each goroutine resolves individual voxels via
// DecodeVoxel (decodeLODVoxelChunks).
func (v *Volume) DecodeLOD(targetInvLOD uint32, workerCount int) ([]uint32, error) {
	if targetInvLOD >= v.LODsPerBrick() {
		return nil, fmt.Errorf("volume: %w: inverse LOD %d out of range [0,%d)", codec.ErrOutOfBounds, targetInvLOD, v.LODsPerBrick())
	}

	out := make([]uint32, uint64(v.dim[0])*uint64(v.dim[1])*uint64(v.dim[2]))
	for i := range out {
		out[i] = multigrid.InvalidLabel
	}

	brickCount := v.BrickCount()
	workerCount = resolveWorkerCount(workerCount, v.cfg.WorkerCount, int(brickCount))

	finestWithDetail := v.hasDetail && targetInvLOD == v.LODsPerBrick()-1
	if !v.cfg.RandomAccess || !v.encoder.SupportsRandomAccess() || finestWithDetail {
		return out, v.decodeLODSerialChunks(out, targetInvLOD, workerCount)
	}
	return out, v.decodeLODVoxelChunks(out, targetInvLOD, workerCount)
}

// decodeLODSerialChunks chunks the brick index range across workerCount
// goroutines, each decoding its bricks via a whole-brick DecodeBrick call.
func (v *Volume) decodeLODSerialChunks(out []uint32, targetInvLOD uint32, workerCount int) error {
	brickVoxels := v.cfg.BrickSide * v.cfg.BrickSide * v.cfg.BrickSide
	brickCount := int(v.BrickCount())
	errs := make([]error, brickCount)

	var wg sync.WaitGroup
	for lo, hi := range chunkRanges(brickCount, workerCount) {
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			brickOut := make([]uint32, brickVoxels)
			for i := lo; i < hi; i++ {
				if err := v.decodeBrickWhole(out, brickOut, uint32(i), targetInvLOD); err != nil {
					errs[i] = err
				}
			}
		}(lo, hi)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// decodeBrickWhole decodes brick i up to targetInvLOD via DecodeBrick and
// scatters the result into out. brickOut is reused scratch space.
func (v *Volume) decodeBrickWhole(out, brickOut []uint32, i, targetInvLOD uint32) error {
	enc, err := v.BrickEncoding(i)
	if err != nil {
		return err
	}
	detail, err := v.BrickDetailEncoding(i)
	if err != nil {
		return err
	}
	origin := brickOrigin(i, v.bricksDim, v.cfg.BrickSide)
	validSize := validBrickSize(origin, v.dim, v.cfg.BrickSide)

	for vi := range brickOut {
		brickOut[vi] = multigrid.InvalidLabel
	}
	if err := v.encoder.DecodeBrick(enc, detail, brickOut, validSize, targetInvLOD); err != nil {
		return fmt.Errorf("volume: brick %d: %w", i, err)
	}
	v.scatterBrick(out, origin, brickOut, validSize)
	return nil
}

// decodeLODVoxelChunks flattens the (brick, per-brick target-LOD cell)
// index space into one range and chunks it across workerCount goroutines,
// matching the concurrency model's "split ... the output voxel index range
// into contiguous chunks" for random-access decoding.
func (v *Volume) decodeLODVoxelChunks(out []uint32, targetInvLOD uint32, workerCount int) error {
	dimAtLOD := levelDim(v.cfg.BrickSide, targetInvLOD)
	cellsPerBrick := dimAtLOD * dimAtLOD * dimAtLOD
	total := int(uint64(v.BrickCount()) * uint64(cellsPerBrick))

	ranges := chunkRanges(total, workerCount)
	var chunkLos, chunkHis []int
	for lo, hi := range ranges {
		chunkLos, chunkHis = append(chunkLos, lo), append(chunkHis, hi)
	}
	// errs is indexed by chunk rather than brick: one brick's cells can fall
	// into more than one chunk, so a per-brick slot could be written by two
	// goroutines, while each chunk's slot is written only by its own.
	errs := make([]error, len(chunkLos))

	var wg sync.WaitGroup
	for c := range chunkLos {
		wg.Add(1)
		go func(chunk, lo, hi int) {
			defer wg.Done()
			for flat := lo; flat < hi; flat++ {
				brickIdx := uint32(flat) / cellsPerBrick
				j := uint32(flat) % cellsPerBrick
				if err := v.decodeVoxelAndScatter(out, brickIdx, targetInvLOD, dimAtLOD, j); err != nil {
					errs[chunk] = err
				}
			}
		}(c, chunkLos[c], chunkHis[c])
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// decodeVoxelAndScatter resolves one target-LOD cell of brick brickIdx via
// DecodeVoxel and replicates it across its full-resolution Morton
// footprint in out, mirroring the footprint-expansion tail every
// random-access-capable encoder's own DecodeBrick performs internally.
func (v *Volume) decodeVoxelAndScatter(out []uint32, brickIdx uint32, targetInvLOD, dimAtLOD, j uint32) error {
	enc, err := v.BrickEncoding(brickIdx)
	if err != nil {
		return err
	}
	origin := brickOrigin(brickIdx, v.bricksDim, v.cfg.BrickSide)
	validSize := validBrickSize(origin, v.dim, v.cfg.BrickSide)

	label, err := v.encoder.DecodeVoxel(enc, targetInvLOD, validSize, j)
	if err != nil {
		return fmt.Errorf("volume: brick %d: %w", brickIdx, err)
	}

	footprint := (v.cfg.BrickSide / dimAtLOD)
	footprint = footprint * footprint * footprint
	dimVec := sfc.Vec3{X: v.dim[0], Y: v.dim[1], Z: v.dim[2]}
	startIdx := j * footprint
	for n := startIdx; n < startIdx+footprint; n++ {
		pos := sfc.MortonDecode(n)
		if pos.X >= validSize[0] || pos.Y >= validSize[1] || pos.Z >= validSize[2] {
			continue
		}
		volPos := sfc.Vec3{X: origin[0] + pos.X, Y: origin[1] + pos.Y, Z: origin[2] + pos.Z}
		out[sfc.CartesianIndex(volPos, dimVec)] = label
	}
	return nil
}
