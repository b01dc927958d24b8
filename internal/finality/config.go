package finality

import (
	"fmt"
	"time"
)

// Config holds the finalization protocol settings.
type Config struct {
	// EnableVoting is true if this node participates in voting.
	EnableVoting bool

	// Size is the denominator of the weight threshold ratio.
	Size uint64

	// Threshold is the numerator of the weight threshold ratio.
	Threshold uint64

	// StepDuration is the duration of a single finalization step.
	StepDuration time.Duration

	// MaxResponseSize bounds the byte size of message synchronization responses.
	MaxResponseSize uint64

	// MaxHashesPerPoint is the upper bound of a prevote hash window.
	MaxHashesPerPoint uint32

	// PrevoteBlocksMultiple is the height multiple of the last block in a
	// prevote hash chain.
	PrevoteBlocksMultiple uint16

	// OtsKeyDilution is the number of one time keys per batch.
	OtsKeyDilution uint64

	// VotingSetGrouping is the number of blocks sharing one voter committee.
	VotingSetGrouping uint64
}

func (c Config) Validate() error {
	if 0 == c.Size || c.Threshold > c.Size {
		return fmt.Errorf("invalid threshold ratio %d/%d", c.Threshold, c.Size)
	}
	if c.StepDuration <= 0 {
		return fmt.Errorf("step duration must be positive, got %s", c.StepDuration)
	}
	if 0 == c.MaxHashesPerPoint {
		return fmt.Errorf("max hashes per point must be positive")
	}
	if 0 == c.PrevoteBlocksMultiple {
		return fmt.Errorf("prevote blocks multiple must be positive")
	}
	if 0 == c.OtsKeyDilution {
		return fmt.Errorf("ots key dilution must be positive")
	}
	if 0 == c.VotingSetGrouping {
		return fmt.Errorf("voting set grouping must be positive")
	}
	return nil
}

// DefaultConfig returns the settings used when the operator overrides nothing.
func DefaultConfig() Config {
	return Config{
		EnableVoting:          true,
		Size:                  10000,
		Threshold:             7750,
		StepDuration:          4 * time.Second,
		MaxResponseSize:       20 * 1024 * 1024,
		MaxHashesPerPoint:     256,
		PrevoteBlocksMultiple: 4,
		OtsKeyDilution:        128,
		VotingSetGrouping:     720,
	}
}
