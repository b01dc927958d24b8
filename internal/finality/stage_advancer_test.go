package finality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sutehoge/catapult-server/internal/types"
)

var advancerStartTime = time.Unix(1000, 0)

func TestStageAdvancer_CanSendPrevote_Timer(t *testing.T) {
	fixture := newMultiFixture(t, pairAt(8))
	advancer := NewStageAdvancer(fixture.config, testRound, advancerStartTime, fixture.aggregator)

	require.False(t, advancer.CanSendPrevote(advancerStartTime.Add(5*time.Second)))
	require.True(t, advancer.CanSendPrevote(advancerStartTime.Add(10*time.Second)))
}

func TestStageAdvancer_CanSendPrevote_Completable(t *testing.T) {
	fixture := newMultiFixture(t, pairAt(8))
	fixture.setMaxRound(t, types.FinalizationRound{Epoch: 1, Point: 9})
	fixture.voteRound(t, testRound, 8, 5)

	advancer := NewStageAdvancer(fixture.config, testRound, advancerStartTime, fixture.aggregator)
	require.True(t, advancer.CanSendPrevote(advancerStartTime))
}

func TestStageAdvancer_CanSendPrecommit_NoRoundContext(t *testing.T) {
	fixture := newMultiFixture(t, pairAt(8))
	advancer := NewStageAdvancer(fixture.config, testRound, advancerStartTime, fixture.aggregator)

	_, ok := advancer.CanSendPrecommit(advancerStartTime.Add(time.Hour))
	require.False(t, ok)
}

func TestStageAdvancer_CanSendPrecommit_Timer(t *testing.T) {
	fixture := newMultiFixture(t, pairAt(8))
	fixture.setMaxRound(t, types.FinalizationRound{Epoch: 1, Point: 9})

	// prevotes only: a best prevote exists but the round is not completable
	for _, voter := range fixture.voters {
		msg := voter.CreatePrevote(t, testRound, 8, testChain(8, 5), testDilution)
		modifier := fixture.aggregator.Modifier()
		require.Equal(t, ResultSuccessPrevote, modifier.Add(msg))
		modifier.Release()
	}

	advancer := NewStageAdvancer(fixture.config, testRound, advancerStartTime, fixture.aggregator)

	_, ok := advancer.CanSendPrecommit(advancerStartTime.Add(15 * time.Second))
	require.False(t, ok)

	target, ok := advancer.CanSendPrecommit(advancerStartTime.Add(20 * time.Second))
	require.True(t, ok)
	require.Equal(t, pairAt(12), target)
}

func TestStageAdvancer_CanSendPrecommit_Completable(t *testing.T) {
	fixture := newMultiFixture(t, pairAt(8))
	fixture.setMaxRound(t, types.FinalizationRound{Epoch: 1, Point: 9})
	fixture.voteRound(t, testRound, 8, 5)

	advancer := NewStageAdvancer(fixture.config, testRound, advancerStartTime, fixture.aggregator)

	target, ok := advancer.CanSendPrecommit(advancerStartTime)
	require.True(t, ok)
	require.Equal(t, pairAt(12), target)
}

func TestStageAdvancer_CanSendPrecommit_RequiresDescentFromEstimate(t *testing.T) {
	// previous estimate carries a hash the prevote chains do not build on
	foreign := types.HeightHashPair{Height: 8, Hash: hashOf(0xEE)}
	fixture := newMultiFixture(t, foreign)
	fixture.setMaxRound(t, types.FinalizationRound{Epoch: 1, Point: 9})

	for _, voter := range fixture.voters {
		msg := voter.CreatePrevote(t, testRound, 8, testChain(8, 5), testDilution)
		modifier := fixture.aggregator.Modifier()
		require.Equal(t, ResultSuccessPrevote, modifier.Add(msg))
		modifier.Release()
	}

	advancer := NewStageAdvancer(fixture.config, testRound, advancerStartTime, fixture.aggregator)
	_, ok := advancer.CanSendPrecommit(advancerStartTime.Add(time.Hour))
	require.False(t, ok)
}

func TestStageAdvancer_CanStartNextRound_OffBoundary(t *testing.T) {
	// voting set grouping 100: estimate height 246 is mid-set
	fixture := newMultiFixture(t, pairAt(240))
	fixture.setMaxRound(t, types.FinalizationRound{Epoch: 1, Point: 9})

	advancer := NewStageAdvancer(fixture.config, testRound, advancerStartTime, fixture.aggregator)
	require.False(t, advancer.CanStartNextRound())

	fixture.voteRound(t, testRound, 240, 7)
	require.True(t, advancer.CanStartNextRound())
}

func TestStageAdvancer_CanStartNextRound_VotingSetBoundaryHold(t *testing.T) {
	config := testFinalityConfig()
	config.VotingSetGrouping = 246
	fixture := newMultiFixtureWithConfig(t, pairAt(240), config)
	fixture.setMaxRound(t, types.FinalizationRound{Epoch: 1, Point: 9})

	for _, voter := range fixture.voters {
		msg := voter.CreatePrevote(t, testRound, 240, testChain(240, 7), testDilution)
		modifier := fixture.aggregator.Modifier()
		require.Equal(t, ResultSuccessPrevote, modifier.Add(msg))
		modifier.Release()
	}

	// two precommits at the boundary height 246, one just below it; the
	// decision lands at 245 while the estimate sits on the boundary
	for _, voter := range fixture.voters[:2] {
		msg := voter.CreatePrecommit(t, testRound, 246, hashOf(246), testDilution)
		modifier := fixture.aggregator.Modifier()
		require.Equal(t, ResultSuccessPrecommit, modifier.Add(msg))
		modifier.Release()
	}
	msg := fixture.voters[2].CreatePrecommit(t, testRound, 245, hashOf(245), testDilution)
	modifier := fixture.aggregator.Modifier()
	require.Equal(t, ResultSuccessPrecommit, modifier.Add(msg))
	modifier.Release()

	advancer := NewStageAdvancer(fixture.config, testRound, advancerStartTime, fixture.aggregator)

	view := fixture.aggregator.View()
	bestPrecommit, ok := view.TryGetRoundContext(testRound).TryFindBestPrecommit()
	view.Release()
	require.True(t, ok)
	require.Equal(t, types.Height(245), bestPrecommit.Height)

	// estimate ends the voting set but the best precommit does not: hold
	require.False(t, advancer.CanStartNextRound())

	// the last voter precommits the boundary height; finality crossed it
	msg = fixture.voters[3].CreatePrecommit(t, testRound, 246, hashOf(246), testDilution)
	modifier = fixture.aggregator.Modifier()
	require.Equal(t, ResultSuccessPrecommit, modifier.Add(msg))
	modifier.Release()

	require.True(t, advancer.CanStartNextRound())
}
