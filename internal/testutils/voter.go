package testutils

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sutehoge/catapult-server/internal/crypto/ots"
	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/types"
)

// Voter is a test voting identity backed by an in-memory one time signature
// tree.
type Voter struct {
	Tree      *ots.Tree
	PublicKey ots.PublicKey
}

// OtsOptionsForEpochs returns tree options spanning all steps of epochs
// [1, maxEpoch] with points up to maxPoint.
func OtsOptionsForEpochs(maxEpoch types.FinalizationEpoch, maxPoint types.FinalizationPoint, dilution uint64) ots.Options {
	start := types.ToOtsKeyIdentifier(types.StepIdentifier{Epoch: 1, Point: 1, Stage: types.StagePrevote}, dilution)
	end := types.ToOtsKeyIdentifier(types.StepIdentifier{Epoch: maxEpoch, Point: maxPoint, Stage: types.StagePrecommit}, dilution)
	return ots.Options{Dilution: dilution, Start: start, End: end}
}

// NewVoter creates a voter able to sign steps covered by options.
func NewVoter(t *testing.T, options ots.Options) *Voter {
	t.Helper()
	seed := make([]byte, 32)
	_, err := rand.Read(seed)
	require.NoError(t, err)

	tree, err := ots.Create(seed, NewSeekableBuffer(), options)
	require.NoError(t, err)
	return &Voter{Tree: tree, PublicKey: tree.RootPublicKey()}
}

// SignMessage signs msg in place with the voter's tree.
func (v *Voter) SignMessage(t *testing.T, msg *fp.Msg, dilution uint64) *fp.Msg {
	t.Helper()
	data, err := msg.SigningBytes()
	require.NoError(t, err)

	signature, err := v.Tree.Sign(types.ToOtsKeyIdentifier(msg.StepIdentifier, dilution), data)
	require.NoError(t, err)
	msg.Signature = signature
	return msg
}

// CreatePrevote builds a signed prevote for the hash chain starting at height.
func (v *Voter) CreatePrevote(t *testing.T, round types.FinalizationRound, height types.Height, hashes []types.Hash, dilution uint64) *fp.Msg {
	t.Helper()
	return v.SignMessage(t, &fp.Msg{
		Version:        fp.CurrentVersion,
		StepIdentifier: types.StepIdentifier{Epoch: round.Epoch, Point: round.Point, Stage: types.StagePrevote},
		Height:         height,
		Hashes:         hashes,
	}, dilution)
}

// CreatePrecommit builds a signed precommit for (height, hash).
func (v *Voter) CreatePrecommit(t *testing.T, round types.FinalizationRound, height types.Height, hash types.Hash, dilution uint64) *fp.Msg {
	t.Helper()
	return v.SignMessage(t, &fp.Msg{
		Version:        fp.CurrentVersion,
		StepIdentifier: types.StepIdentifier{Epoch: round.Epoch, Point: round.Point, Stage: types.StagePrecommit},
		Height:         height,
		Hashes:         []types.Hash{hash},
	}, dilution)
}

// GenerateHashes returns count distinct random hashes.
func GenerateHashes(t *testing.T, count int) []types.Hash {
	t.Helper()
	hashes := make([]types.Hash, count)
	for i := range hashes {
		_, err := rand.Read(hashes[i][:])
		require.NoError(t, err)
	}
	return hashes
}
