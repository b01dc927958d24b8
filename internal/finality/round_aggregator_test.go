package finality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sutehoge/catapult-server/internal/crypto/ots"
	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/testutils"
	"github.com/sutehoge/catapult-server/internal/types"
)

const testDilution = 128

var testRound = types.FinalizationRound{Epoch: 1, Point: 3}

func testFinalityConfig() Config {
	return Config{
		EnableVoting:          true,
		Size:                  10000,
		Threshold:             7000,
		StepDuration:          10 * time.Second,
		MaxResponseSize:       1 << 20,
		MaxHashesPerPoint:     10,
		PrevoteBlocksMultiple: 2,
		OtsKeyDilution:        testDilution,
		VotingSetGrouping:     100,
	}
}

type roundFixture struct {
	voters     []*testutils.Voter
	context    *Context
	aggregator *RoundMessageAggregator
}

func newRoundFixture(t *testing.T, round types.FinalizationRound, lastFinalizedHeight types.Height, config Config) *roundFixture {
	t.Helper()
	options := testutils.OtsOptionsForEpochs(3, 30, config.OtsKeyDilution)

	fixture := &roundFixture{}
	accounts := make(map[ots.PublicKey]types.Amount)
	for i := 0; i < 4; i++ {
		voter := testutils.NewVoter(t, options)
		fixture.voters = append(fixture.voters, voter)
		accounts[voter.PublicKey] = testVoterWeight
	}
	fixture.context = NewContext(round.Epoch, lastFinalizedHeight, config, accounts)
	fixture.aggregator = NewRoundMessageAggregator(round, config.MaxResponseSize, fixture.context)
	return fixture
}

func TestRoundMessageAggregator_InvalidPoint(t *testing.T) {
	fixture := newRoundFixture(t, testRound, 8, testFinalityConfig())

	otherRound := types.FinalizationRound{Epoch: 1, Point: 4}
	msg := fixture.voters[0].CreatePrevote(t, otherRound, 8, testChain(8, 5), testDilution)
	require.Equal(t, ResultFailureInvalidPoint, fixture.aggregator.Add(msg))
	require.Equal(t, 0, fixture.aggregator.Size())
}

func TestRoundMessageAggregator_InvalidHashes(t *testing.T) {
	fixture := newRoundFixture(t, testRound, 8, testFinalityConfig())

	tests := []struct {
		name string
		msg  *fp.Msg
	}{
		{
			name: "no hashes",
			msg: &fp.Msg{
				Version:        fp.CurrentVersion,
				StepIdentifier: types.StepIdentifier{Epoch: 1, Point: 3, Stage: types.StagePrevote},
				Height:         8,
			},
		},
		{
			name: "prevote with too many hashes",
			msg: &fp.Msg{
				Version:        fp.CurrentVersion,
				StepIdentifier: types.StepIdentifier{Epoch: 1, Point: 3, Stage: types.StagePrevote},
				Height:         8,
				Hashes:         testChain(8, 11),
			},
		},
		{
			name: "precommit with multiple hashes",
			msg: &fp.Msg{
				Version:        fp.CurrentVersion,
				StepIdentifier: types.StepIdentifier{Epoch: 1, Point: 3, Stage: types.StagePrecommit},
				Height:         8,
				Hashes:         testChain(8, 2),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, ResultFailureInvalidHashes, fixture.aggregator.Add(tt.msg))
		})
	}
	require.Equal(t, 0, fixture.aggregator.Size())
}

func TestRoundMessageAggregator_InvalidHeight(t *testing.T) {
	fixture := newRoundFixture(t, testRound, 8, testFinalityConfig())

	// window 5..6 ends below the finalized height 8
	prevote := fixture.voters[0].CreatePrevote(t, testRound, 5, testChain(5, 2), testDilution)
	require.Equal(t, ResultFailureInvalidHeight, fixture.aggregator.Add(prevote))

	precommit := fixture.voters[0].CreatePrecommit(t, testRound, 7, hashOf(7), testDilution)
	require.Equal(t, ResultFailureInvalidHeight, fixture.aggregator.Add(precommit))
	require.Equal(t, 0, fixture.aggregator.Size())
}

func TestRoundMessageAggregator_SuccessPrevoteAndPrecommit(t *testing.T) {
	fixture := newRoundFixture(t, testRound, 8, testFinalityConfig())

	for _, voter := range fixture.voters[:3] {
		msg := voter.CreatePrevote(t, testRound, 8, testChain(8, 5), testDilution)
		require.Equal(t, ResultSuccessPrevote, fixture.aggregator.Add(msg))
	}
	for _, voter := range fixture.voters[:3] {
		msg := voter.CreatePrecommit(t, testRound, 12, hashOf(12), testDilution)
		require.Equal(t, ResultSuccessPrecommit, fixture.aggregator.Add(msg))
	}
	require.Equal(t, 6, fixture.aggregator.Size())

	bestPrevote, ok := fixture.aggregator.RoundContext().TryFindBestPrevote()
	require.True(t, ok)
	require.Equal(t, pairAt(12), bestPrevote)

	bestPrecommit, ok := fixture.aggregator.RoundContext().TryFindBestPrecommit()
	require.True(t, ok)
	require.Equal(t, pairAt(12), bestPrecommit)
}

func TestRoundMessageAggregator_Redundant(t *testing.T) {
	fixture := newRoundFixture(t, testRound, 8, testFinalityConfig())

	msg := fixture.voters[0].CreatePrevote(t, testRound, 8, testChain(8, 5), testDilution)
	require.Equal(t, ResultSuccessPrevote, fixture.aggregator.Add(msg))
	require.Equal(t, ResultNeutralRedundant, fixture.aggregator.Add(msg))
	require.Equal(t, 1, fixture.aggregator.Size())
}

func TestRoundMessageAggregator_Conflicting(t *testing.T) {
	fixture := newRoundFixture(t, testRound, 124, testFinalityConfig())

	first := fixture.voters[0].CreatePrevote(t, testRound, 124, []types.Hash{hashOf(0xA1)}, testDilution)
	require.Equal(t, ResultSuccessPrevote, fixture.aggregator.Add(first))

	// same voter, same step, different hash; the one time tree would refuse
	// to re-sign, so an attacker reuses the old signature chain
	second := &fp.Msg{
		Version:        fp.CurrentVersion,
		StepIdentifier: first.StepIdentifier,
		Height:         124,
		Signature:      first.Signature,
		Hashes:         []types.Hash{hashOf(0xB1)},
	}
	require.Equal(t, ResultFailureConflicting, fixture.aggregator.Add(second))
	require.Equal(t, 1, fixture.aggregator.Size())
}

func TestRoundMessageAggregator_IneligibleVoter(t *testing.T) {
	config := testFinalityConfig()
	fixture := newRoundFixture(t, testRound, 8, config)

	outsider := testutils.NewVoter(t, testutils.OtsOptionsForEpochs(3, 30, testDilution))
	msg := outsider.CreatePrevote(t, testRound, 8, testChain(8, 5), testDilution)
	require.Equal(t, ResultFailureProcessing, fixture.aggregator.Add(msg))
}

func TestRoundMessageAggregator_InvalidSignature(t *testing.T) {
	fixture := newRoundFixture(t, testRound, 8, testFinalityConfig())

	msg := fixture.voters[0].CreatePrevote(t, testRound, 8, testChain(8, 5), testDilution)
	msg.Signature.Bottom.Signature[0] ^= 0xFF
	require.Equal(t, ResultFailureProcessing, fixture.aggregator.Add(msg))
	require.Equal(t, 0, fixture.aggregator.Size())
}

func TestRoundMessageAggregator_ShortHashes(t *testing.T) {
	fixture := newRoundFixture(t, testRound, 8, testFinalityConfig())

	msg1 := fixture.voters[0].CreatePrevote(t, testRound, 8, testChain(8, 5), testDilution)
	msg2 := fixture.voters[1].CreatePrevote(t, testRound, 8, testChain(8, 3), testDilution)
	require.True(t, fixture.aggregator.Add(msg1).IsSuccess())
	require.True(t, fixture.aggregator.Add(msg2).IsSuccess())

	hash1, err := msg1.Hash()
	require.NoError(t, err)
	hash2, err := msg2.Hash()
	require.NoError(t, err)

	shortHashes := fixture.aggregator.ShortHashes()
	require.ElementsMatch(t, []types.ShortHash{types.ToShortHash(hash1), types.ToShortHash(hash2)}, shortHashes)
}

func TestRoundMessageAggregator_UnknownMessages(t *testing.T) {
	fixture := newRoundFixture(t, testRound, 8, testFinalityConfig())

	msg1 := fixture.voters[0].CreatePrevote(t, testRound, 8, testChain(8, 5), testDilution)
	msg2 := fixture.voters[1].CreatePrevote(t, testRound, 8, testChain(8, 3), testDilution)
	require.True(t, fixture.aggregator.Add(msg1).IsSuccess())
	require.True(t, fixture.aggregator.Add(msg2).IsSuccess())

	unknown := fixture.aggregator.UnknownMessages(nil)
	require.Len(t, unknown, 2)

	hash1, err := msg1.Hash()
	require.NoError(t, err)
	unknown = fixture.aggregator.UnknownMessages(map[types.ShortHash]struct{}{types.ToShortHash(hash1): {}})
	require.Len(t, unknown, 1)
	require.Equal(t, msg2, unknown[0])
}

func TestRoundMessageAggregator_UnknownMessagesRespectsBudget(t *testing.T) {
	config := testFinalityConfig()
	fixture := newRoundFixture(t, testRound, 8, config)

	// rebuild the aggregator with a budget that fits two of the three messages
	messageSize := (&fp.Msg{Hashes: testChain(8, 5)}).Size()
	aggregator := NewRoundMessageAggregator(testRound, 2*messageSize, fixture.context)

	for _, voter := range fixture.voters[:3] {
		msg := voter.CreatePrevote(t, testRound, 8, testChain(8, 5), testDilution)
		require.Equal(t, ResultSuccessPrevote, aggregator.Add(msg))
	}

	unknown := aggregator.UnknownMessages(nil)
	require.Len(t, unknown, 2)

	var totalSize uint64
	for _, msg := range unknown {
		totalSize += msg.Size()
	}
	require.LessOrEqual(t, totalSize, 2*messageSize)
}
