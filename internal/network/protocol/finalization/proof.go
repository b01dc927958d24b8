package finalization

import (
	"bytes"
	"sort"

	"github.com/sutehoge/catapult-server/internal/crypto/ots"
	"github.com/sutehoge/catapult-server/internal/logger"
	"github.com/sutehoge/catapult-server/internal/types"
)

var log = logger.CreateForPackage()

// MsgGroup packs the signatures of all voters that signed an identical
// message payload; a proof is a set of such groups.
type MsgGroup struct {
	_          struct{} `cbor:",toarray"`
	Stage      types.FinalizationStage
	Height     types.Height
	Hashes     []types.Hash
	Signatures []ots.TreeSignature
}

// Proof is a durable finality witness: the finalized block plus enough
// precommit signatures to re-verify threshold weight.
type Proof struct {
	_             struct{} `cbor:",toarray"`
	Version       uint32
	Round         types.FinalizationRound
	Height        types.Height
	Hash          types.Hash
	MessageGroups []*MsgGroup
}

func (p *Proof) Statistics() Statistics {
	return Statistics{Round: p.Round, Height: p.Height, Hash: p.Hash}
}

// Messages unpacks the proof back into individual signed messages.
func (p *Proof) Messages() []*Msg {
	var messages []*Msg
	for _, group := range p.MessageGroups {
		for _, signature := range group.Signatures {
			messages = append(messages, &Msg{
				Version: p.Version,
				StepIdentifier: types.StepIdentifier{
					Epoch: p.Round.Epoch,
					Point: p.Round.Point,
					Stage: group.Stage,
				},
				Height:    group.Height,
				Signature: signature,
				Hashes:    group.Hashes,
			})
		}
	}
	return messages
}

type groupKey struct {
	stage  types.FinalizationStage
	height types.Height
	hashes string
}

func hashesKey(hashes []types.Hash) string {
	var buf bytes.Buffer
	for i := range hashes {
		buf.Write(hashes[i][:])
	}
	return buf.String()
}

// NewProof builds a proof for statistics from messages, grouping identical
// payloads so each distinct payload is stored once with all its signatures.
// Messages from other rounds are skipped.
func NewProof(statistics Statistics, messages []*Msg) *Proof {
	groups := make(map[groupKey]*MsgGroup)
	var order []groupKey
	for _, m := range messages {
		if m.StepIdentifier.Round() != statistics.Round {
			log.Warning("skipping message with unexpected round %s when grouping messages at round %s",
				m.StepIdentifier.Round(), statistics.Round)
			continue
		}

		key := groupKey{stage: m.StepIdentifier.Stage, height: m.Height, hashes: hashesKey(m.Hashes)}
		group, ok := groups[key]
		if !ok {
			group = &MsgGroup{Stage: m.StepIdentifier.Stage, Height: m.Height, Hashes: m.Hashes}
			groups[key] = group
			order = append(order, key)
		}
		group.Signatures = append(group.Signatures, m.Signature)
	}

	// deterministic group order independent of message arrival
	sort.Slice(order, func(i, j int) bool {
		if order[i].stage != order[j].stage {
			return order[i].stage < order[j].stage
		}
		if order[i].height != order[j].height {
			return order[i].height < order[j].height
		}
		return order[i].hashes < order[j].hashes
	})

	proof := &Proof{
		Version: CurrentVersion,
		Round:   statistics.Round,
		Height:  statistics.Height,
		Hash:    statistics.Hash,
	}
	for _, key := range order {
		proof.MessageGroups = append(proof.MessageGroups, groups[key])
	}
	return proof
}
