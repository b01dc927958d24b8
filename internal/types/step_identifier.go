package types

import (
	"fmt"

	"github.com/sutehoge/catapult-server/internal/crypto/ots"
)

// FinalizationStage is the voting stage within a round.
type FinalizationStage uint8

const (
	StagePrevote   FinalizationStage = 1
	StagePrecommit FinalizationStage = 2
)

// NumStages is the number of voting stages per round.
const NumStages = 2

// MaxPointsPerEpoch bounds the number of points within a single epoch so that
// step identifiers map to a dense one-time-signature key space.
const MaxPointsPerEpoch = 1 << 16

func (s FinalizationStage) String() string {
	switch s {
	case StagePrevote:
		return "prevote"
	case StagePrecommit:
		return "precommit"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// StepIdentifier identifies a single voting step (epoch, point, stage).
type StepIdentifier struct {
	_     struct{} `cbor:",toarray"`
	Epoch FinalizationEpoch
	Point FinalizationPoint
	Stage FinalizationStage
}

func (s StepIdentifier) Round() FinalizationRound {
	return FinalizationRound{Epoch: s.Epoch, Point: s.Point}
}

func (s StepIdentifier) Less(rhs StepIdentifier) bool {
	if s.Epoch != rhs.Epoch {
		return s.Epoch < rhs.Epoch
	}
	if s.Point != rhs.Point {
		return s.Point < rhs.Point
	}
	return s.Stage < rhs.Stage
}

func (s StepIdentifier) String() string {
	return fmt.Sprintf("(%d, %d, %s)", s.Epoch, s.Point, s.Stage)
}

// ToOtsKeyIdentifier maps a step identifier to the one-time-signature key used
// for that step. The mapping is order preserving for any dilution > 0.
func ToOtsKeyIdentifier(step StepIdentifier, dilution uint64) ots.KeyIdentifier {
	raw := uint64(step.Epoch)*NumStages*MaxPointsPerEpoch +
		uint64(step.Point)*NumStages +
		uint64(step.Stage-1)
	return ots.KeyIdentifier{BatchID: raw / dilution, KeyID: raw % dilution}
}
