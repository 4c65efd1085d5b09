// Package multigrid builds the per-brick hierarchy of label/constancy
// levels that brick encoders walk to produce an opcode stream.
package multigrid

import (
	"math/bits"

	"github.com/kit-vcg/csgv-go/sfc"
)

// InvalidLabel marks a multigrid node lying completely outside the volume.
const InvalidLabel = 0xFFFFFFFF

// Node is one cell of one LOD: a label and whether every voxel in its
// subtree shares that label.
type Node struct {
	Label            uint32
	ConstantSubregion bool
}

// Grid is the node array for a single brick, ordered finest level first
// (LOD L-1, B^3 nodes) down to coarsest (LOD 0, a single node).
type Grid struct {
	Nodes      []Node
	BrickSide  uint32
	Levels     uint32   // L = log2(BrickSide)+1
	levelStart []uint32 // levelStart[l] is the index of LOD l's first node, l in [0, Levels)
	levelDim   []uint32 // levelDim[l] is the per-axis node count of LOD l
}

// levelCount returns the number of LOD levels for a brick of the given side.
func levelCount(brickSide uint32) uint32 {
	return uint32(bits.TrailingZeros32(brickSide)) + 1
}

// LevelStart returns the index of the first node belonging to LOD level.
func (g *Grid) LevelStart(level uint32) uint32 {
	return g.levelStart[level]
}

// LevelDim returns the per-axis node count of LOD level (levelDim^3 nodes).
func (g *Grid) LevelDim(level uint32) uint32 {
	return g.levelDim[level]
}

// FinestLevel is the index of the highest-resolution LOD (B^3 nodes).
func (g *Grid) FinestLevel() uint32 {
	return g.Levels - 1
}

// Build constructs the multigrid for one brick of a labeled volume.
// volume is the full volume buffer in Cartesian (x + y*dim.X + z*dim.X*dim.Y)
// order; brickStart is the brick's origin in volume coordinates; brickSide
// must be a power of 2 and may extend past the volume's extent.
//
// markConstantRegions controls whether constant_subregion flags are ever
// computed true; setting it false (as the random-access nibble and
// wavelet-matrix encoders do, and the serial encoder does when STOP_BIT is
// masked off) forces every non-finest node false.
func Build(volume []uint32, volumeDim sfc.Vec3, brickStart sfc.Vec3, brickSide uint32, markConstantRegions bool) *Grid {
	levels := levelCount(brickSide)

	// levelStart/levelDim are indexed by LOD level, 0 = coarsest (a single
	// node) through levels-1 = finest (brickSide^3 nodes) — matching the
	// spec's LOD numbering. The underlying node array still stores the
	// finest level first, so levelStart descends as level increases.
	levelStart := make([]uint32, levels)
	levelDim := make([]uint32, levels)
	var offset uint32
	for level := int(levels) - 1; level >= 0; level-- {
		dim := brickSide >> uint(int(levels)-1-level)
		levelDim[level] = dim
		offset += dim * dim * dim
	}
	total := offset
	offset = 0
	for level := int(levels) - 1; level >= 0; level-- {
		levelStart[level] = offset
		offset += levelDim[level] * levelDim[level] * levelDim[level]
	}

	g := &Grid{
		Nodes:      make([]Node, total),
		BrickSide:  brickSide,
		Levels:     levels,
		levelStart: levelStart,
		levelDim:   levelDim,
	}

	finest := g.FinestLevel()
	finestStart := g.levelStart[finest]
	var pos sfc.Vec3
	for pos.Z = 0; pos.Z < brickSide; pos.Z++ {
		for pos.Y = 0; pos.Y < brickSide; pos.Y++ {
			for pos.X = 0; pos.X < brickSide; pos.X++ {
				idx := finestStart + uint32(sfc.CartesianIndex(pos, sfc.Vec3{X: brickSide, Y: brickSide, Z: brickSide}))
				volPos := sfc.Vec3{X: brickStart.X + pos.X, Y: brickStart.Y + pos.Y, Z: brickStart.Z + pos.Z}
				if volPos.X >= volumeDim.X || volPos.Y >= volumeDim.Y || volPos.Z >= volumeDim.Z {
					g.Nodes[idx] = Node{Label: InvalidLabel, ConstantSubregion: false}
				} else {
					g.Nodes[idx] = Node{Label: volume[sfc.CartesianIndex(volPos, volumeDim)], ConstantSubregion: false}
				}
			}
		}
	}

	prevStart := finestStart
	for level := int(finest) - 1; level >= 0; level-- {
		dim := g.levelDim[level]
		start := g.levelStart[level]
		childIsFinest := uint32(level+1) == finest
		var p sfc.Vec3
		for p.Z = 0; p.Z < dim; p.Z++ {
			for p.Y = 0; p.Y < dim; p.Y++ {
				for p.X = 0; p.X < dim; p.X++ {
					node := reduceChildren(g, prevStart, dim*2, p, childIsFinest, markConstantRegions)
					idx := start + uint32(sfc.CartesianIndex(p, sfc.Vec3{X: dim, Y: dim, Z: dim}))
					g.Nodes[idx] = node
				}
			}
		}
		prevStart = start
	}

	return g
}

func reduceChildren(g *Grid, childStart uint32, childDim uint32, p sfc.Vec3, childIsFinest bool, markConstantRegions bool) Node {
	var children [8]*Node
	i := 0
	for dz := uint32(0); dz <= 1; dz++ {
		for dy := uint32(0); dy <= 1; dy++ {
			for dx := uint32(0); dx <= 1; dx++ {
				cp := sfc.Vec3{X: 2*p.X + dx, Y: 2*p.Y + dy, Z: 2*p.Z + dz}
				idx := childStart + uint32(sfc.CartesianIndex(cp, sfc.Vec3{X: childDim, Y: childDim, Z: childDim}))
				children[i] = &g.Nodes[idx]
				i++
			}
		}
	}

	var maxLabel uint32 = InvalidLabel
	var maxOccurrences uint32
	constant := markConstantRegions
	for i := 0; i < 8; i++ {
		if children[i].Label == InvalidLabel {
			continue
		}
		if maxLabel != children[i].Label {
			if maxLabel != InvalidLabel {
				constant = false
			}
			occurrences := uint32(1)
			for n := i + 1; n < 8; n++ {
				if children[n].Label == children[i].Label {
					occurrences++
				}
			}
			if occurrences > maxOccurrences {
				maxLabel = children[i].Label
				maxOccurrences = occurrences
			}
		}
		constant = constant && (childIsFinest || children[i].ConstantSubregion)
	}

	return Node{Label: maxLabel, ConstantSubregion: constant}
}

// FillOutOfBoundsFromParent assigns every remaining InvalidLabel node the
// label of its parent, coarsest-to-finest. Random-access encoders require
// this: every grid node must carry a defined label so that opcode j of any
// LOD can be computed independently of its neighbors' validity.
func (g *Grid) FillOutOfBoundsFromParent() {
	for level := uint32(1); level < g.Levels; level++ {
		dim := g.levelDim[level]
		start := g.levelStart[level]
		parentStart := g.levelStart[level-1]
		parentDim := dim / 2
		var p sfc.Vec3
		for p.Z = 0; p.Z < dim; p.Z++ {
			for p.Y = 0; p.Y < dim; p.Y++ {
				for p.X = 0; p.X < dim; p.X++ {
					idx := start + uint32(sfc.CartesianIndex(p, sfc.Vec3{X: dim, Y: dim, Z: dim}))
					if g.Nodes[idx].Label != InvalidLabel {
						continue
					}
					pp := sfc.Vec3{X: p.X / 2, Y: p.Y / 2, Z: p.Z / 2}
					parentIdx := parentStart + uint32(sfc.CartesianIndex(pp, sfc.Vec3{X: parentDim, Y: parentDim, Z: parentDim}))
					g.Nodes[idx].Label = g.Nodes[parentIdx].Label
				}
			}
		}
	}
}
