package network

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/types"
)

const (
	ProtocolPushMessages = "/catapult/finality/push/1"
	ProtocolPullMessages = "/catapult/finality/pull/1"
	ProtocolPullProof    = "/catapult/finality/proof/1"

	defaultSendTimeout = 5 * time.Second
)

// FinalityNetwork bundles the finalization gossip and synchronization
// protocols of one peer.
type FinalityNetwork struct {
	self         *Peer
	push         *SendProtocol
	receive      *ReceiveProtocol[*fp.Msg]
	pullMessages *RequestProtocol[fp.PullMessagesRequest, fp.PullMessagesResponse]
	pullProof    *RequestProtocol[fp.PullProofRequest, fp.PullProofResponse]
	ReceivedCh   chan ReceivedMessage
}

func NewFinalityNetwork(self *Peer, capacity int) (*FinalityNetwork, error) {
	n := &FinalityNetwork{self: self, ReceivedCh: make(chan ReceivedMessage, capacity)}

	var err error
	if n.push, err = NewSendProtocol(self, ProtocolPushMessages, defaultSendTimeout); err != nil {
		return nil, fmt.Errorf("creating push protocol: %w", err)
	}
	if n.receive, err = NewReceiveProtocol(self, ProtocolPushMessages, n.ReceivedCh, func() *fp.Msg { return &fp.Msg{} }); err != nil {
		return nil, fmt.Errorf("creating receive protocol: %w", err)
	}
	if n.pullMessages, err = NewRequestProtocol[fp.PullMessagesRequest, fp.PullMessagesResponse](self, ProtocolPullMessages); err != nil {
		return nil, fmt.Errorf("creating pull messages protocol: %w", err)
	}
	if n.pullProof, err = NewRequestProtocol[fp.PullProofRequest, fp.PullProofResponse](self, ProtocolPullProof); err != nil {
		return nil, fmt.Errorf("creating pull proof protocol: %w", err)
	}
	return n, nil
}

// BroadcastMessage pushes msg to all persistent peers.
func (n *FinalityNetwork) BroadcastMessage(msg *fp.Msg) {
	n.push.Multicast(msg, n.self.PersistentPeerIDs())
}

// RemoteNode returns the pull side api of peerID.
func (n *FinalityNetwork) RemoteNode(peerID peer.ID) *RemoteNode {
	return &RemoteNode{network: n, peerID: peerID}
}

// ServeMessages answers pull messages requests with handler.
func (n *FinalityNetwork) ServeMessages(handler RequestHandler[fp.PullMessagesRequest, fp.PullMessagesResponse]) {
	n.pullMessages.Serve(handler)
}

// ServeProofs answers pull proof requests with handler.
func (n *FinalityNetwork) ServeProofs(handler RequestHandler[fp.PullProofRequest, fp.PullProofResponse]) {
	n.pullProof.Serve(handler)
}

// RemoteNode is the remote api of a single peer, used by the synchronizers.
type RemoteNode struct {
	network *FinalityNetwork
	peerID  peer.ID
}

func (r *RemoteNode) Messages(ctx context.Context, round types.FinalizationRound, knownShortHashes []types.ShortHash) ([]*fp.Msg, error) {
	response, err := r.network.pullMessages.Request(ctx, r.peerID, fp.PullMessagesRequest{
		Round:            round,
		KnownShortHashes: knownShortHashes,
	})
	if err != nil {
		return nil, err
	}
	return response.Messages, nil
}

func (r *RemoteNode) FinalizationStatistics(ctx context.Context) (fp.Statistics, error) {
	response, err := r.network.pullProof.Request(ctx, r.peerID, fp.PullProofRequest{})
	if err != nil {
		return fp.Statistics{}, err
	}
	return response.Statistics, nil
}

func (r *RemoteNode) ProofAt(ctx context.Context, height types.Height) (*fp.Proof, error) {
	response, err := r.network.pullProof.Request(ctx, r.peerID, fp.PullProofRequest{Height: height})
	if err != nil {
		return nil, err
	}
	return response.Proof, nil
}
