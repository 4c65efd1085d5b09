package sfc

// MortonEncode interleaves the bits of a 3-D position into its Morton
// (Z-order) index. Each component must fit in 10 bits (< 1024), which
// covers every brick side this module supports (max 128).
//
// The result satisfies MortonEncode(p) | 0b111 == the Morton index of the
// origin of p's enclosing 2x2x2 block plus 7 — i.e. the eight siblings of
// one parent block occupy eight consecutive Morton indices. This is the
// self-including property the brick encoder/decoder rely on to walk
// multiple levels of detail in lock-step.
func MortonEncode(p Vec3) uint32 {
	return (part1By2(p.Z) << 2) | (part1By2(p.Y) << 1) | part1By2(p.X)
}

// MortonDecode is the inverse of MortonEncode.
func MortonDecode(index uint32) Vec3 {
	return Vec3{
		X: compact1By2(index),
		Y: compact1By2(index >> 1),
		Z: compact1By2(index >> 2),
	}
}

// part1By2 spreads the low 10 bits of x so that one bit is followed by two
// zero bits, e.g. abcdefghij -> 00a00b00c00d00e00f00g00h00i00j.
func part1By2(x uint32) uint32 {
	x &= 0x000003ff
	x = (x ^ (x << 16)) & 0xff0000ff
	x = (x ^ (x << 8)) & 0x0300f00f
	x = (x ^ (x << 4)) & 0x030c30c3
	x = (x ^ (x << 2)) & 0x09249249
	return x
}

// compact1By2 is the inverse of part1By2: it gathers every third bit back
// into the low 10 bits.
func compact1By2(x uint32) uint32 {
	x &= 0x09249249
	x = (x ^ (x >> 2)) & 0x030c30c3
	x = (x ^ (x >> 4)) & 0x0300f00f
	x = (x ^ (x >> 8)) & 0xff0000ff
	x = (x ^ (x >> 16)) & 0x000003ff
	return x
}
