package finality

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/testutils"
	"github.com/sutehoge/catapult-server/internal/types"
)

type serviceFixture struct {
	blocks       *testutils.MemoryBlockStorage
	orchestrator *orchestratorFixture
	service      *OrchestratorService
	finalized    int
}

// newServiceFixture builds a service with voting set grouping 50 around an
// orchestrator at the given status.
func newServiceFixture(t *testing.T, status VotingStatus) *serviceFixture {
	t.Helper()
	fixture := &serviceFixture{
		blocks:       testutils.NewMemoryBlockStorage(60),
		orchestrator: newOrchestratorFixture(status),
	}

	aggregator := NewMultiRoundMessageAggregator(
		1<<20,
		types.FinalizationRound{Epoch: 1, Point: 1},
		pairAt(8),
		func(round types.FinalizationRound, _ types.Height) (*RoundMessageAggregator, error) {
			panic("not used")
		})

	fixture.service = NewOrchestratorService(
		50,
		aggregator,
		newTestProofStorageCache(t),
		fixture.blocks,
		NewVotingStatusFile(filepath.Join(t.TempDir(), "voting_status.dat")),
		fixture.orchestrator.orchestrator,
		func() error { fixture.finalized++; return nil })
	return fixture
}

func (f *serviceFixture) saveProof(t *testing.T, round types.FinalizationRound, height types.Height, hash types.Hash) {
	t.Helper()
	modifier := f.service.proofStorage.Modifier()
	defer modifier.Release()
	require.NoError(t, modifier.SaveProof(&fp.Proof{Version: fp.CurrentVersion, Round: round, Height: height, Hash: hash}))
}

func TestOrchestratorService_PollContinuesWithinEpoch(t *testing.T) {
	status := VotingStatus{Round: types.FinalizationRound{Epoch: 1, Point: 5}}
	fixture := newServiceFixture(t, status)

	require.NoError(t, fixture.service.Poll(advancerStartTime))

	// epoch unchanged, finalizer ran, max round raised to the orchestrator round
	require.Equal(t, status.Round, fixture.service.orchestrator.VotingStatus().Round)
	require.Equal(t, 1, fixture.finalized)

	view := fixture.service.aggregator.View()
	defer view.Release()
	require.Equal(t, status.Round, view.MaxFinalizationRound())
}

func TestOrchestratorService_AdvancesEpochAtVotingSetEnd(t *testing.T) {
	status := VotingStatus{Round: types.FinalizationRound{Epoch: 1, Point: 5}, HasSentPrevote: true}
	fixture := newServiceFixture(t, status)

	// epoch 1 voting set ends at height 50; finalize it with the local hash
	fixture.saveProof(t, types.FinalizationRound{Epoch: 1, Point: 5}, 50, fixture.blocks.Blocks[50])

	require.NoError(t, fixture.service.Poll(advancerStartTime))

	votingStatus := fixture.service.orchestrator.VotingStatus()
	require.Equal(t, types.FinalizationRound{Epoch: 2, Point: 1}, votingStatus.Round)
	require.False(t, votingStatus.HasSentPrevote)
}

func TestOrchestratorService_WaitsWhenChainBehindFinalized(t *testing.T) {
	status := VotingStatus{Round: types.FinalizationRound{Epoch: 1, Point: 5}}
	fixture := newServiceFixture(t, status)
	fixture.blocks.Height = 40

	fixture.saveProof(t, types.FinalizationRound{Epoch: 1, Point: 5}, 50, hashOf(50))

	require.NoError(t, fixture.service.Poll(advancerStartTime))

	// neither epoch advance nor poll happened
	require.Equal(t, status.Round, fixture.service.orchestrator.VotingStatus().Round)
	require.Equal(t, 0, fixture.finalized)
}

func TestOrchestratorService_WaitsOnHashMismatch(t *testing.T) {
	status := VotingStatus{Round: types.FinalizationRound{Epoch: 1, Point: 5}}
	fixture := newServiceFixture(t, status)

	fixture.saveProof(t, types.FinalizationRound{Epoch: 1, Point: 5}, 50, hashOf(0xEE))

	require.NoError(t, fixture.service.Poll(advancerStartTime))
	require.Equal(t, status.Round, fixture.service.orchestrator.VotingStatus().Round)
	require.Equal(t, 0, fixture.finalized)
}
