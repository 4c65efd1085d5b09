package brick

import (
	"fmt"
	"io"

	"github.com/kit-vcg/csgv-go/codec"
)

// Dump writes a human-readable diagnostic summary of one brick's encoding
// to w: its encoding mode, palette size, and, for HuffmanWaveletMatrixEncoder
// specifically, the fraction of nodes per LOD that collapsed to a
// constant_subregion (the one piece of the wire format nothing else in
// this package reads back, see Open Question 6). Errors from w are
// returned; a malformed brickEncoding returns a wrapped decode error
// rather than partially writing output.
func Dump(w io.Writer, enc codec.BrickEncoder, brickEncoding []uint32) error {
	paletteSize := brickEncoding[enc.PaletteSizeHeaderIndex()]
	header := fmt.Sprintf("brick mode=%s words=%d palette=%d\n", enc.Mode(), len(brickEncoding), paletteSize)

	hwm, ok := enc.(*HuffmanWaveletMatrixEncoder)
	if !ok {
		_, err := io.WriteString(w, header)
		return err
	}
	constant, total, err := hwm.ConstantSubregionCounts(brickEncoding)
	if err != nil {
		return fmt.Errorf("brick: dump: %w", err)
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	for level := range total {
		if _, err := fmt.Fprintf(w, "  lod=%d constant=%d/%d\n", level, constant[level], total[level]); err != nil {
			return err
		}
	}
	return nil
}
