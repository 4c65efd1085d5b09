package multigrid_test

import (
	"testing"

	"github.com/kit-vcg/csgv-go/multigrid"
	"github.com/kit-vcg/csgv-go/sfc"
)

func makeVolume(dim sfc.Vec3, fill func(sfc.Vec3) uint32) []uint32 {
	v := make([]uint32, dim.X*dim.Y*dim.Z)
	var p sfc.Vec3
	for p.Z = 0; p.Z < dim.Z; p.Z++ {
		for p.Y = 0; p.Y < dim.Y; p.Y++ {
			for p.X = 0; p.X < dim.X; p.X++ {
				v[sfc.CartesianIndex(p, dim)] = fill(p)
			}
		}
	}
	return v
}

func TestBuildConstantBrickIsFullyConstant(t *testing.T) {
	dim := sfc.Vec3{X: 8, Y: 8, Z: 8}
	volume := makeVolume(dim, func(sfc.Vec3) uint32 { return 42 })
	g := multigrid.Build(volume, dim, sfc.Vec3{}, 8, true)

	if g.Levels != 4 {
		t.Fatalf("Levels = %d, want 4", g.Levels)
	}
	root := g.Nodes[g.LevelStart(0)]
	if root.Label != 42 {
		t.Fatalf("root label = %d, want 42", root.Label)
	}
	if !root.ConstantSubregion {
		t.Fatalf("root should be constant")
	}
	// Every finest-level node holds the same label, and is itself never
	// flagged constant (finest level is always constant=false in the
	// node array; constancy of a fully-uniform finest block is only
	// visible one level up).
	finestStart := g.LevelStart(g.FinestLevel())
	finestDim := g.LevelDim(g.FinestLevel())
	for i := uint32(0); i < finestDim*finestDim*finestDim; i++ {
		if g.Nodes[finestStart+i].Label != 42 {
			t.Fatalf("finest node %d label = %d, want 42", i, g.Nodes[finestStart+i].Label)
		}
	}
	// Level Levels-2 (one above finest) should be constant since all its
	// children are finest (implicitly constant) and share the label.
	oneUp := g.Nodes[g.LevelStart(g.Levels-2)]
	if !oneUp.ConstantSubregion || oneUp.Label != 42 {
		t.Fatalf("level above finest = %+v, want constant label 42", oneUp)
	}
}

func TestBuildCheckerboardIsNotConstant(t *testing.T) {
	dim := sfc.Vec3{X: 8, Y: 8, Z: 8}
	volume := makeVolume(dim, func(p sfc.Vec3) uint32 {
		if (p.X+p.Y+p.Z)%2 == 0 {
			return 1
		}
		return 2
	})
	g := multigrid.Build(volume, dim, sfc.Vec3{}, 8, true)
	root := g.Nodes[g.LevelStart(0)]
	if root.ConstantSubregion {
		t.Fatalf("checkerboard root should not be constant")
	}
}

func TestBuildOutOfBoundsNodesAreInvalidAndConstant(t *testing.T) {
	dim := sfc.Vec3{X: 4, Y: 4, Z: 4}
	volume := makeVolume(dim, func(sfc.Vec3) uint32 { return 7 })
	// Brick of side 8 starting at origin extends past the 4^3 volume.
	g := multigrid.Build(volume, dim, sfc.Vec3{}, 8, true)

	finestStart := g.LevelStart(g.FinestLevel())
	idx := finestStart + uint32(sfc.CartesianIndex(sfc.Vec3{X: 5, Y: 0, Z: 0}, sfc.Vec3{X: 8, Y: 8, Z: 8}))
	if g.Nodes[idx].Label != multigrid.InvalidLabel {
		t.Fatalf("out-of-bounds node label = %d, want InvalidLabel", g.Nodes[idx].Label)
	}
	// Node (2,0,0) one level up covers only out-of-bounds finest nodes.
	parentIdx := g.LevelStart(g.Levels-2) + uint32(sfc.CartesianIndex(sfc.Vec3{X: 2, Y: 0, Z: 0}, sfc.Vec3{X: 4, Y: 4, Z: 4}))
	if parent := g.Nodes[parentIdx]; parent.Label != multigrid.InvalidLabel || !parent.ConstantSubregion {
		t.Fatalf("out-of-bounds parent node = %+v, want InvalidLabel and constant", parent)
	}

	g.FillOutOfBoundsFromParent()
	if g.Nodes[idx].Label == multigrid.InvalidLabel {
		t.Fatalf("out-of-bounds node still invalid after FillOutOfBoundsFromParent")
	}
}

func TestBuildMarkConstantRegionsFalseForcesNonFinestFalse(t *testing.T) {
	dim := sfc.Vec3{X: 4, Y: 4, Z: 4}
	volume := makeVolume(dim, func(sfc.Vec3) uint32 { return 9 })
	g := multigrid.Build(volume, dim, sfc.Vec3{}, 4, false)
	for level := uint32(0); level < g.FinestLevel(); level++ {
		start := g.LevelStart(level)
		d := g.LevelDim(level)
		for i := uint32(0); i < d*d*d; i++ {
			if g.Nodes[start+i].ConstantSubregion {
				t.Fatalf("level %d node %d constant despite markConstantRegions=false", level, i)
			}
		}
	}
}

func TestLevelDimHalvesTowardRoot(t *testing.T) {
	dim := sfc.Vec3{X: 16, Y: 16, Z: 16}
	volume := makeVolume(dim, func(p sfc.Vec3) uint32 { return p.X })
	g := multigrid.Build(volume, dim, sfc.Vec3{}, 16, true)
	want := uint32(16)
	for level := int(g.Levels) - 1; level >= 0; level-- {
		if g.LevelDim(uint32(level)) != want {
			t.Fatalf("LevelDim(%d) = %d, want %d", level, g.LevelDim(uint32(level)), want)
		}
		want /= 2
	}
	if g.LevelDim(0) != 1 {
		t.Fatalf("LevelDim(0) = %d, want 1", g.LevelDim(0))
	}
}
