package finality

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sutehoge/catapult-server/internal/finality/storage"
	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/testutils"
	"github.com/sutehoge/catapult-server/internal/types"
)

// seeds proof storage so the factory sees lastFinalizedPoint 11 / height 8.
func newFactoryProofStorage(t *testing.T) *storage.ProofStorageCache {
	t.Helper()
	cache := newTestProofStorageCache(t)

	modifier := cache.Modifier()
	defer modifier.Release()
	require.NoError(t, modifier.SaveProof(&fp.Proof{
		Version: fp.CurrentVersion,
		Round:   types.FinalizationRound{Epoch: 1, Point: 11},
		Height:  8,
		Hash:    hashOf(8),
	}))
	return cache
}

func newTestFactory(t *testing.T, config Config, blocks BlockStorage) (MessageFactory, *storage.ProofStorageCache) {
	t.Helper()
	voter := testutils.NewVoter(t, testutils.OtsOptionsForEpochs(1, 20, config.OtsKeyDilution))
	cache := newFactoryProofStorage(t)
	return NewMessageFactory(config, blocks, cache, voter.Tree), cache
}

func TestMessageFactory_CreatePrevote_OnMultipleWindow(t *testing.T) {
	config := testFinalityConfig()
	config.MaxHashesPerPoint = 10
	config.PrevoteBlocksMultiple = 2

	blocks := testutils.NewMemoryBlockStorage(12)
	factory, _ := newTestFactory(t, config, blocks)

	msg, err := factory.CreatePrevote(1)
	require.NoError(t, err)

	require.Equal(t, types.StepIdentifier{Epoch: 1, Point: 12, Stage: types.StagePrevote}, msg.StepIdentifier)
	require.Equal(t, types.Height(8), msg.Height)
	require.Len(t, msg.Hashes, 5)
	for i := 0; i < 5; i++ {
		require.Equal(t, blocks.Blocks[types.Height(8+i)], msg.Hashes[i])
	}
	require.True(t, msg.VerifySignature(config.OtsKeyDilution))
}

func TestMessageFactory_CreatePrevote_WindowClamp(t *testing.T) {
	config := testFinalityConfig()
	config.MaxHashesPerPoint = 10
	config.PrevoteBlocksMultiple = 5

	blocks := testutils.NewMemoryBlockStorage(22)
	factory, _ := newTestFactory(t, config, blocks)

	msg, err := factory.CreatePrevote(1)
	require.NoError(t, err)

	// clamped chain height 20 gives a raw window of 13 hashes, reduced by the
	// smallest multiple of 5 that brings it within the limit
	require.Len(t, msg.Hashes, 8)
	require.Equal(t, types.Height(8), msg.Height)
	for i := 0; i < 8; i++ {
		require.Equal(t, blocks.Blocks[types.Height(8+i)], msg.Hashes[i])
	}
}

func TestMessageFactory_CreatePrevote_FallsBackToLastFinalizedHash(t *testing.T) {
	config := testFinalityConfig()

	// chain is empty, shorter than the finalized height
	blocks := testutils.NewMemoryBlockStorage(0)
	factory, _ := newTestFactory(t, config, blocks)

	msg, err := factory.CreatePrevote(1)
	require.NoError(t, err)
	require.Equal(t, types.Height(8), msg.Height)
	require.Equal(t, []types.Hash{hashOf(8)}, msg.Hashes)
}

func TestMessageFactory_CreatePrecommit(t *testing.T) {
	config := testFinalityConfig()
	blocks := testutils.NewMemoryBlockStorage(12)
	factory, _ := newTestFactory(t, config, blocks)

	msg, err := factory.CreatePrecommit(1, 246, hashOf(246))
	require.NoError(t, err)

	require.Equal(t, types.StepIdentifier{Epoch: 1, Point: 12, Stage: types.StagePrecommit}, msg.StepIdentifier)
	require.Equal(t, types.Height(246), msg.Height)
	require.Equal(t, []types.Hash{hashOf(246)}, msg.Hashes)
	require.True(t, msg.VerifySignature(config.OtsKeyDilution))
}

func TestMessageFactory_SigningConsumesKeys(t *testing.T) {
	config := testFinalityConfig()
	blocks := testutils.NewMemoryBlockStorage(12)
	factory, _ := newTestFactory(t, config, blocks)

	_, err := factory.CreatePrecommit(1, 246, hashOf(246))
	require.NoError(t, err)

	// the prevote step of the same point precedes the precommit step, so its
	// key is already erased
	_, err = factory.CreatePrevote(1)
	require.Error(t, err)
}
