package brick

// palette is the per-brick ordered list of distinct labels referenced so
// far by an encoding, appended to by PALETTE_ADV and stored reversed at
// the tail of the finished brick encoding.
type palette struct {
	labels []uint32
}

func newPalette() *palette {
	return &palette{}
}

func (p *palette) push(label uint32) {
	p.labels = append(p.labels, label)
}

func (p *palette) last() uint32 {
	return p.labels[len(p.labels)-1]
}

func (p *palette) len() int {
	return len(p.labels)
}

// deltaFromTail returns, for the most recent occurrence of label scanning
// from the tail backwards, its distance from the tail (1-based: the tail
// itself is distance 0 and is handled by PALETTE_LAST, never by this
// function). ok is false if label does not occur in the palette, or only
// occurs at the tail.
func (p *palette) deltaFromTail(label uint32) (distance uint32, ok bool) {
	for i := len(p.labels) - 2; i >= 0; i-- {
		if p.labels[i] == label {
			return uint32(len(p.labels)-1-i), true
		}
	}
	return 0, false
}

// atDeltaFromTail returns the label at the given 1-based distance from the
// palette's current tail.
func (p *palette) atDeltaFromTail(distance uint32) uint32 {
	return p.labels[len(p.labels)-1-int(distance)]
}

// writePaletteDeltaLegacy encodes distance (1..16) as the legacy
// single-nibble form: a PALETTE_D-tagged nibble followed by one nibble
// holding distance-1. Returns ok=false if distance exceeds the legacy
// form's range, in which case the caller must fall back to PALETTE_ADV.
func writePaletteDeltaLegacy(distance uint32) (nibbles []uint32, ok bool) {
	if distance == 0 || distance > 16 {
		return nil, false
	}
	return []uint32{uint32(OpPaletteD), distance - 1}, true
}

// writePaletteDeltaContinuation encodes distance (1..MaxPaletteDeltaDistance)
// as PALETTE_D followed by base-8 groups of (distance-1), most-significant
// group first, each OR-ed with a continuation bit (8) except the last.
// Returns the full sequence of nibbles to emit (including the leading
// PALETTE_D-tagged nibble).
func writePaletteDeltaContinuation(distance uint32) []uint32 {
	d := distance - 1
	shift := (msb(d)/3 + 1) * 3
	nibbles := []uint32{uint32(OpPaletteD)}
	for {
		shift -= 3
		op := (d >> uint(shift)) & 7
		if shift > 0 {
			op |= 8
		}
		nibbles = append(nibbles, op)
		if shift == 0 {
			break
		}
	}
	return nibbles
}

// readPaletteDeltaContinuation reads successive base-8 continuation groups
// (the first nibble, tagged PALETTE_D, has already been consumed by the
// caller) via next, which must return the following nibble on each call,
// and returns distance-1 reassembled from the 3-bit groups.
func readPaletteDeltaContinuation(next func() uint32) uint32 {
	var delta uint32
	for {
		bits := next()
		delta = (delta << 3) | (bits & 7)
		if bits&8 == 0 {
			break
		}
	}
	return delta
}

// msb returns the index of the most significant set bit of x, or -1 if x is 0.
func msb(x uint32) int {
	if x == 0 {
		return -1
	}
	n := -1
	for x != 0 {
		x >>= 1
		n++
	}
	return n
}
