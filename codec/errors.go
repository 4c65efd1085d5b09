package codec

import "errors"

var (
	// ErrCodecNotFound is returned when a brick encoder is not found in the
	// registry.
	ErrCodecNotFound = errors.New("brick encoder not found")

	// ErrInvalidParameter indicates encoding/decoding parameters are invalid.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrOutOfBounds indicates a brick or voxel coordinate lies outside the
	// addressable range of a volume or brick.
	ErrOutOfBounds = errors.New("coordinate out of bounds")

	// ErrInvariantViolated indicates a brick encoding failed a structural
	// consistency check (monotonic LOD starts, palette bounds, header size).
	ErrInvariantViolated = errors.New("brick encoding invariant violated")

	// ErrIncompatibleArtifact indicates a compressed volume was produced
	// with rank-table or wavelet-matrix constants that differ from the ones
	// compiled into this build, and cannot be safely decoded.
	ErrIncompatibleArtifact = errors.New("compressed artifact is incompatible with this build's constants")

	// ErrOverflow indicates a count (palette size, split-arena index, ...)
	// exceeded the range of the field it must be stored in.
	ErrOverflow = errors.New("value overflows its storage width")
)

// ConfigError wraps a configuration validation failure with the offending
// field name.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "invalid configuration field " + e.Field + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
