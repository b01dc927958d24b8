package finality

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sutehoge/catapult-server/internal/finality/storage"
	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/types"
)

type mockAdvancer struct {
	canPrevote   bool
	canPrecommit bool
	target       types.HeightHashPair
	canNextRound bool
}

func (a *mockAdvancer) CanSendPrevote(time.Time) bool {
	return a.canPrevote
}

func (a *mockAdvancer) CanSendPrecommit(time.Time) (types.HeightHashPair, bool) {
	return a.target, a.canPrecommit
}

func (a *mockAdvancer) CanStartNextRound() bool {
	return a.canNextRound
}

type mockMessageFactory struct {
	prevotes   int
	precommits int
	failure    error
}

func (f *mockMessageFactory) CreatePrevote(epoch types.FinalizationEpoch) (*fp.Msg, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	f.prevotes++
	return &fp.Msg{
		Version:        fp.CurrentVersion,
		StepIdentifier: types.StepIdentifier{Epoch: epoch, Point: 1, Stage: types.StagePrevote},
		Height:         1,
		Hashes:         []types.Hash{hashOf(1)},
	}, nil
}

func (f *mockMessageFactory) CreatePrecommit(epoch types.FinalizationEpoch, height types.Height, hash types.Hash) (*fp.Msg, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	f.precommits++
	return &fp.Msg{
		Version:        fp.CurrentVersion,
		StepIdentifier: types.StepIdentifier{Epoch: epoch, Point: 1, Stage: types.StagePrecommit},
		Height:         height,
		Hashes:         []types.Hash{hash},
	}, nil
}

type orchestratorFixture struct {
	advancer       *mockAdvancer
	factory        *mockMessageFactory
	sunk           []*fp.Msg
	advancerRounds []types.FinalizationRound
	orchestrator   *Orchestrator
}

func newOrchestratorFixture(status VotingStatus) *orchestratorFixture {
	fixture := &orchestratorFixture{advancer: &mockAdvancer{}, factory: &mockMessageFactory{}}
	fixture.orchestrator = NewOrchestrator(
		status,
		func(round types.FinalizationRound, _ time.Time) StageAdvancer {
			fixture.advancerRounds = append(fixture.advancerRounds, round)
			return fixture.advancer
		},
		func(msg *fp.Msg) { fixture.sunk = append(fixture.sunk, msg) },
		fixture.factory)
	return fixture
}

func TestOrchestrator_FirstPollKeepsVotingStatus(t *testing.T) {
	status := VotingStatus{Round: types.FinalizationRound{Epoch: 1, Point: 5}, HasSentPrevote: true}
	fixture := newOrchestratorFixture(status)
	fixture.advancer.canPrevote = true

	fixture.orchestrator.Poll(advancerStartTime)

	// prevote flag was loaded from disk, so no prevote is re-sent
	require.Empty(t, fixture.sunk)
	require.Equal(t, []types.FinalizationRound{status.Round}, fixture.advancerRounds)
	require.True(t, fixture.orchestrator.VotingStatus().HasSentPrevote)
}

func TestOrchestrator_SendsPrevoteThenPrecommit(t *testing.T) {
	status := VotingStatus{Round: types.FinalizationRound{Epoch: 1, Point: 5}}
	fixture := newOrchestratorFixture(status)

	fixture.orchestrator.Poll(advancerStartTime)
	require.Empty(t, fixture.sunk)

	fixture.advancer.canPrevote = true
	fixture.orchestrator.Poll(advancerStartTime.Add(time.Second))
	require.Len(t, fixture.sunk, 1)
	require.Equal(t, types.StagePrevote, fixture.sunk[0].StepIdentifier.Stage)
	require.True(t, fixture.orchestrator.VotingStatus().HasSentPrevote)
	require.False(t, fixture.orchestrator.VotingStatus().HasSentPrecommit)

	fixture.advancer.canPrecommit = true
	fixture.advancer.target = pairAt(246)
	fixture.orchestrator.Poll(advancerStartTime.Add(2 * time.Second))
	require.Len(t, fixture.sunk, 2)
	require.Equal(t, types.StagePrecommit, fixture.sunk[1].StepIdentifier.Stage)
	require.Equal(t, types.Height(246), fixture.sunk[1].Height)
	require.True(t, fixture.orchestrator.VotingStatus().HasSentPrecommit)

	// no resends on subsequent polls
	fixture.orchestrator.Poll(advancerStartTime.Add(3 * time.Second))
	require.Len(t, fixture.sunk, 2)
}

func TestOrchestrator_StartsNextRound(t *testing.T) {
	status := VotingStatus{Round: types.FinalizationRound{Epoch: 1, Point: 5}}
	fixture := newOrchestratorFixture(status)
	fixture.advancer.canPrevote = true
	fixture.advancer.canPrecommit = true
	fixture.advancer.target = pairAt(246)
	fixture.advancer.canNextRound = true

	fixture.orchestrator.Poll(advancerStartTime)

	votingStatus := fixture.orchestrator.VotingStatus()
	require.Equal(t, types.FinalizationRound{Epoch: 1, Point: 6}, votingStatus.Round)
	require.False(t, votingStatus.HasSentPrevote)
	require.False(t, votingStatus.HasSentPrecommit)

	// advancer was recreated for the new round
	require.Equal(t, []types.FinalizationRound{
		{Epoch: 1, Point: 5},
		{Epoch: 1, Point: 6},
	}, fixture.advancerRounds)
}

func TestOrchestrator_FactoryFailureLeavesFlagClear(t *testing.T) {
	status := VotingStatus{Round: types.FinalizationRound{Epoch: 1, Point: 5}}
	fixture := newOrchestratorFixture(status)
	fixture.advancer.canPrevote = true
	fixture.factory.failure = errors.New("signer unavailable")

	fixture.orchestrator.Poll(advancerStartTime)
	require.Empty(t, fixture.sunk)
	require.False(t, fixture.orchestrator.VotingStatus().HasSentPrevote)

	// retried on the next poll once the factory recovers
	fixture.factory.failure = nil
	fixture.orchestrator.Poll(advancerStartTime.Add(time.Second))
	require.Len(t, fixture.sunk, 1)
	require.True(t, fixture.orchestrator.VotingStatus().HasSentPrevote)
}

func TestOrchestrator_SetEpoch(t *testing.T) {
	status := VotingStatus{Round: types.FinalizationRound{Epoch: 3, Point: 5}, HasSentPrevote: true, HasSentPrecommit: true}
	fixture := newOrchestratorFixture(status)

	require.Error(t, fixture.orchestrator.SetEpoch(2))

	require.NoError(t, fixture.orchestrator.SetEpoch(3))
	require.Equal(t, status, fixture.orchestrator.VotingStatus())

	require.NoError(t, fixture.orchestrator.SetEpoch(4))
	votingStatus := fixture.orchestrator.VotingStatus()
	require.Equal(t, types.FinalizationRound{Epoch: 4, Point: 1}, votingStatus.Round)
	require.False(t, votingStatus.HasSentPrevote)
	require.False(t, votingStatus.HasSentPrecommit)
}

type mockSubscriber struct {
	rounds  []types.FinalizationRound
	heights []types.Height
	hashes  []types.Hash
}

func (s *mockSubscriber) NotifyFinalizedBlock(round types.FinalizationRound, height types.Height, hash types.Hash) {
	s.rounds = append(s.rounds, round)
	s.heights = append(s.heights, height)
	s.hashes = append(s.hashes, hash)
}

func newTestProofStorageCache(t *testing.T) *storage.ProofStorageCache {
	t.Helper()
	proofStorage, err := storage.NewFileProofStorage(filepath.Join(t.TempDir(), "proofs"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = proofStorage.Close() })

	cache, err := storage.NewProofStorageCache(proofStorage)
	require.NoError(t, err)
	return cache
}

func TestFinalizer(t *testing.T) {
	fixture := newMultiFixture(t, pairAt(8))
	fixture.setMaxRound(t, types.FinalizationRound{Epoch: 1, Point: 9})

	subscriber := &mockSubscriber{}
	cache := newTestProofStorageCache(t)
	finalizer := CreateFinalizer(fixture.aggregator, subscriber, cache)

	// nothing to finalize yet
	require.NoError(t, finalizer())
	require.Empty(t, subscriber.rounds)

	round := types.FinalizationRound{Epoch: 1, Point: 3}
	fixture.voteRound(t, round, 8, 5)

	require.NoError(t, finalizer())
	require.Equal(t, []types.FinalizationRound{round}, subscriber.rounds)
	require.Equal(t, []types.Height{12}, subscriber.heights)
	require.Equal(t, []types.Hash{hashOf(12)}, subscriber.hashes)

	view := cache.View()
	statistics := view.Statistics()
	view.Release()
	require.Equal(t, round, statistics.Round)
	require.Equal(t, types.Height(12), statistics.Height)

	// decided rounds were pruned
	aggregatorView := fixture.aggregator.View()
	require.Equal(t, round, aggregatorView.MinFinalizationRound())
	aggregatorView.Release()

	// the same decision does not finalize twice
	require.NoError(t, finalizer())
	require.Len(t, subscriber.rounds, 1)
}
