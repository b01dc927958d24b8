package finality

import (
	"context"

	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/types"
)

type (
	// RemoteMessagesApi retrieves finalization messages from a remote node.
	RemoteMessagesApi interface {
		// Messages returns the remote's messages at or after round, excluding
		// those with short hashes in knownShortHashes.
		Messages(ctx context.Context, round types.FinalizationRound, knownShortHashes []types.ShortHash) ([]*fp.Msg, error)
	}

	// MessageRangeConsumer receives pulled message batches.
	MessageRangeConsumer func(messages []*fp.Msg)

	// MessageSynchronizer pulls the finalization messages a peer has that the
	// local aggregator does not.
	MessageSynchronizer struct {
		roundSupplier       func() types.FinalizationRound
		shortHashesSupplier func() []types.ShortHash
		consumer            MessageRangeConsumer
	}
)

func NewMessageSynchronizer(
	roundSupplier func() types.FinalizationRound,
	shortHashesSupplier func() []types.ShortHash,
	consumer MessageRangeConsumer,
) *MessageSynchronizer {
	return &MessageSynchronizer{
		roundSupplier:       roundSupplier,
		shortHashesSupplier: shortHashesSupplier,
		consumer:            consumer,
	}
}

func (s *MessageSynchronizer) Synchronize(ctx context.Context, api RemoteMessagesApi) SyncResult {
	messages, err := api.Messages(ctx, s.roundSupplier(), s.shortHashesSupplier())
	if err != nil {
		log.Warning("pulling finalization messages failed: %v", err)
		return SyncFailure
	}
	if 0 == len(messages) {
		return SyncNeutral
	}

	s.consumer(messages)
	return SyncSuccess
}
