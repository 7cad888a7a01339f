package orb

import (
	"fmt"

	"github.com/gogpu/orb/internal/kernels"
)

// Configuration limits.
const (
	MinDimension = 8
	MaxDimension = 8192

	// MaxFeaturesLimit is the largest corner list capacity. A match record
	// packs a latest and a previous index in 16 bits each.
	MaxFeaturesLimit = kernels.MaxMatchIndex
)

// Config configures a pipeline.
type Config struct {
	// Width and Height are the frame dimensions in pixels.
	Width, Height int

	// MaxFeatures is the capacity of the corner list and descriptor table.
	MaxFeatures int

	// MaxMatches is the capacity of the match list.
	MaxMatches int

	// Threshold is the corner contrast threshold as a fraction of the full
	// intensity range. A threshold of 1 rejects every pixel.
	Threshold float32

	// MatchThreshold is the largest Hamming distance, in bits, at which two
	// descriptors match.
	MatchThreshold int
}

// DefaultConfig returns a 640x480 configuration with 1024 features.
func DefaultConfig() Config {
	return Config{
		Width:          640,
		Height:         480,
		MaxFeatures:    1024,
		MaxMatches:     1024,
		Threshold:      0.08,
		MatchThreshold: 64,
	}
}

// Validate reports the first invalid field, wrapped in ErrConfig.
func (c Config) Validate() error {
	switch {
	case c.Width < MinDimension || c.Width > MaxDimension:
		return fmt.Errorf("%w: width %d outside [%d, %d]", ErrConfig, c.Width, MinDimension, MaxDimension)
	case c.Height < MinDimension || c.Height > MaxDimension:
		return fmt.Errorf("%w: height %d outside [%d, %d]", ErrConfig, c.Height, MinDimension, MaxDimension)
	case c.MaxFeatures < 1 || c.MaxFeatures > MaxFeaturesLimit:
		return fmt.Errorf("%w: max features %d outside [1, %d]", ErrConfig, c.MaxFeatures, MaxFeaturesLimit)
	case c.MaxMatches < 1 || c.MaxMatches > c.MaxFeatures*c.MaxFeatures:
		return fmt.Errorf("%w: max matches %d outside [1, %d]", ErrConfig, c.MaxMatches, c.MaxFeatures*c.MaxFeatures)
	case !(c.Threshold >= 0 && c.Threshold <= 1):
		return fmt.Errorf("%w: threshold %v outside [0, 1]", ErrConfig, c.Threshold)
	case c.MatchThreshold < 0 || c.MatchThreshold > kernels.DescriptorBits:
		return fmt.Errorf("%w: match threshold %d outside [0, %d]", ErrConfig, c.MatchThreshold, kernels.DescriptorBits)
	}
	return nil
}

func (c Config) params() kernels.Params {
	return kernels.Params{
		Width:          uint32(c.Width),
		Height:         uint32(c.Height),
		MaxFeatures:    uint32(c.MaxFeatures),
		MaxMatches:     uint32(c.MaxMatches),
		Threshold:      c.Threshold,
		MatchThreshold: uint32(c.MatchThreshold),
	}
}
