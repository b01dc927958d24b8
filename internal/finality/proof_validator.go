package finality

import (
	"github.com/sutehoge/catapult-server/internal/crypto/ots"
	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/types"
)

// NewProofValidator returns a validator that accepts a proof only if its
// precommit messages are correctly signed by eligible voters of the proof's
// epoch and their distinct weight reaches the threshold for the proof target.
func NewProofValidator(config Config, contextFactory *ContextFactory) ProofValidator {
	return func(proof *fp.Proof) bool {
		committeeHeight := types.VotingSetEndHeight(proof.Round.Epoch-1, config.VotingSetGrouping)
		context, err := contextFactory.Create(proof.Round.Epoch, committeeHeight)
		if err != nil {
			log.Warning("cannot create finalization context for proof epoch %d: %v", proof.Round.Epoch, err)
			return false
		}

		seen := make(map[ots.PublicKey]struct{})
		var weight uint64
		for _, message := range proof.Messages() {
			if types.StagePrecommit != message.StepIdentifier.Stage {
				continue
			}
			if message.Height != proof.Height || 1 != message.HashesCount() || message.Hashes[0] != proof.Hash {
				log.Warning("proof for height %d contains precommit for unexpected target", proof.Height)
				return false
			}

			voter := message.VoterPublicKey()
			if _, ok := seen[voter]; ok {
				continue
			}
			voterWeight := context.Lookup(voter)
			if 0 == voterWeight {
				log.Warning("proof for height %d contains precommit from ineligible voter", proof.Height)
				return false
			}
			if !message.VerifySignature(config.OtsKeyDilution) {
				log.Warning("proof for height %d contains precommit with invalid signature", proof.Height)
				return false
			}

			seen[voter] = struct{}{}
			weight += uint64(voterWeight)
		}

		return weight >= context.WeightedThreshold()
	}
}
