package brick

import (
	"github.com/kit-vcg/csgv-go/codec"
	"github.com/kit-vcg/csgv-go/config"
)

// init registers one representative instance of each brick encoding
// strategy at brick side 32 with every opcode enabled, so codec.List and
// codec.GetByMode can describe what this build supports. A volume built
// with a different brick side or opmask constructs its own encoder
// directly via New*Encoder rather than going through the registry, since
// RandomAccess is an orthogonal per-volume Config field rather than a
// distinct EncodingMode and the registry can only hold one encoder per
// mode.
func init() {
	const defaultBrickSide = 32
	codec.Register(NewSerialEncoder(defaultBrickSide, config.AllOps, false))
	codec.Register(NewWaveletMatrixEncoder(defaultBrickSide, config.AllOps))
	codec.Register(NewHuffmanWaveletMatrixEncoder(defaultBrickSide, config.AllOps))
}
