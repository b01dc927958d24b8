package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	ErrStrPeerIsNil       = "peer cannot be nil"
	ErrStrProtocolIDEmpty = "protocol ID cannot be empty"
	ErrStrOutputChIsNil   = "output channel cannot be nil"
)

type protocol struct {
	self       *Peer
	protocolID string
}

// SendProtocol writes one message per stream to a receiver.
type SendProtocol struct {
	*protocol
	timeout time.Duration
}

func NewSendProtocol(self *Peer, protocolID string, timeout time.Duration) (*SendProtocol, error) {
	if self == nil {
		return nil, errors.New(ErrStrPeerIsNil)
	}
	if protocolID == "" {
		return nil, errors.New(ErrStrProtocolIDEmpty)
	}
	return &SendProtocol{protocol: &protocol{self: self, protocolID: protocolID}, timeout: timeout}, nil
}

func (p *SendProtocol) ID() string {
	return p.protocolID
}

func (p *SendProtocol) Send(msg any, receiverID peer.ID) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	s, err := p.self.CreateStream(ctx, receiverID, p.protocolID)
	if err != nil {
		return fmt.Errorf("opening %s stream to %v: %w", p.protocolID, receiverID, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warning("closing %s stream to %v failed: %v", p.protocolID, receiverID, err)
		}
	}()

	if err := NewCBORWriter(s).Write(msg); err != nil {
		return fmt.Errorf("writing %s message to %v: %w", p.protocolID, receiverID, err)
	}
	return nil
}

// Multicast sends msg to every receiver, logging per receiver failures.
func (p *SendProtocol) Multicast(msg any, receivers []peer.ID) {
	for _, receiverID := range receivers {
		if receiverID == p.self.ID() {
			continue
		}
		if err := p.Send(msg, receiverID); err != nil {
			log.Warning("multicast failed: %v", err)
		}
	}
}
