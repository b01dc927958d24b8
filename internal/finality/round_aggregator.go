package finality

import (
	"github.com/sutehoge/catapult-server/internal/crypto/ots"
	"github.com/sutehoge/catapult-server/internal/logger"
	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/types"
)

var log = logger.CreateForPackage()

// AddResult is the outcome of feeding one message to an aggregator.
type AddResult int

const (
	ResultFailureInvalidPoint AddResult = iota
	ResultFailureInvalidHeight
	ResultFailureInvalidHashes
	ResultFailureProcessing
	ResultFailureConflicting
	ResultNeutralRedundant
	ResultSuccessPrevote
	ResultSuccessPrecommit
)

func (r AddResult) IsSuccess() bool {
	return ResultSuccessPrevote == r || ResultSuccessPrecommit == r
}

func (r AddResult) String() string {
	switch r {
	case ResultFailureInvalidPoint:
		return "Failure_Invalid_Point"
	case ResultFailureInvalidHeight:
		return "Failure_Invalid_Height"
	case ResultFailureInvalidHashes:
		return "Failure_Invalid_Hashes"
	case ResultFailureProcessing:
		return "Failure_Processing"
	case ResultFailureConflicting:
		return "Failure_Conflicting"
	case ResultNeutralRedundant:
		return "Neutral_Redundant"
	case ResultSuccessPrevote:
		return "Success_Prevote"
	case ResultSuccessPrecommit:
		return "Success_Precommit"
	default:
		return "Unknown"
	}
}

type messageKey struct {
	voter   ots.PublicKey
	prevote bool
}

type messageDescriptor struct {
	message   *fp.Msg
	hash      types.Hash
	shortHash types.ShortHash
}

// RoundMessageAggregator validates and deduplicates the messages of a single
// round and feeds accepted weight into its RoundContext. It is not safe for
// concurrent use; the multi round aggregator serializes access through its
// view/modifier locking.
type RoundMessageAggregator struct {
	round           types.FinalizationRound
	maxResponseSize uint64
	context         *Context
	roundContext    *RoundContext
	messages        map[messageKey]messageDescriptor
}

func NewRoundMessageAggregator(round types.FinalizationRound, maxResponseSize uint64, context *Context) *RoundMessageAggregator {
	return &RoundMessageAggregator{
		round:           round,
		maxResponseSize: maxResponseSize,
		context:         context,
		roundContext:    NewRoundContext(uint64(context.Weight()), context.WeightedThreshold()),
		messages:        make(map[messageKey]messageDescriptor),
	}
}

func (a *RoundMessageAggregator) Round() types.FinalizationRound {
	return a.round
}

func (a *RoundMessageAggregator) RoundContext() *RoundContext {
	return a.roundContext
}

// Size is the number of accepted messages.
func (a *RoundMessageAggregator) Size() int {
	return len(a.messages)
}

// Add validates msg and, on success, accumulates its weight.
func (a *RoundMessageAggregator) Add(msg *fp.Msg) AddResult {
	if msg.StepIdentifier.Round() != a.round {
		return ResultFailureInvalidPoint
	}

	count := msg.HashesCount()
	isPrevote := msg.IsPrevote()
	if 0 == count || count > int(a.context.Config().MaxHashesPerPoint) {
		return ResultFailureInvalidHashes
	}
	if !isPrevote && 1 != count {
		return ResultFailureInvalidHashes
	}

	// only messages with at least one hash at or after the last finalized
	// height can contribute
	if a.context.Height() > msg.Height+types.Height(count-1) {
		return ResultFailureInvalidHeight
	}

	messageHash, err := msg.Hash()
	if err != nil {
		log.Warning("rejecting unhashable finalization message: %v", err)
		return ResultFailureProcessing
	}

	key := messageKey{voter: msg.VoterPublicKey(), prevote: isPrevote}
	if existing, ok := a.messages[key]; ok {
		if existing.hash == messageHash {
			return ResultNeutralRedundant
		}
		return ResultFailureConflicting
	}

	weight := a.context.Lookup(msg.VoterPublicKey())
	if 0 == weight {
		log.Warning("rejecting finalization message from ineligible voter at round %s", a.round)
		return ResultFailureProcessing
	}

	if !msg.VerifySignature(a.context.Config().OtsKeyDilution) {
		log.Warning("rejecting finalization message with invalid signature at step %s", msg.StepIdentifier)
		return ResultFailureProcessing
	}

	a.messages[key] = messageDescriptor{message: msg, hash: messageHash, shortHash: types.ToShortHash(messageHash)}

	if isPrevote {
		a.roundContext.AcceptPrevote(msg.Height, msg.Hashes, uint64(weight))
		return ResultSuccessPrevote
	}
	a.roundContext.AcceptPrecommit(msg.Height, msg.Hashes[0], uint64(weight))
	return ResultSuccessPrecommit
}

// ShortHashes returns the short hashes of all accepted messages.
func (a *RoundMessageAggregator) ShortHashes() []types.ShortHash {
	shortHashes := make([]types.ShortHash, 0, len(a.messages))
	for _, descriptor := range a.messages {
		shortHashes = append(shortHashes, descriptor.shortHash)
	}
	return shortHashes
}

// UnknownMessages returns accepted messages whose short hashes are not in
// knownShortHashes, stopping before the response size budget is exceeded.
func (a *RoundMessageAggregator) UnknownMessages(knownShortHashes map[types.ShortHash]struct{}) []*fp.Msg {
	var messages []*fp.Msg
	var totalSize uint64
	for _, descriptor := range a.messages {
		if _, known := knownShortHashes[descriptor.shortHash]; known {
			continue
		}
		totalSize += descriptor.message.Size()
		if totalSize > a.maxResponseSize {
			return messages
		}
		messages = append(messages, descriptor.message)
	}
	return messages
}
