package network

import (
	"errors"

	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

type (
	// ReceivedMessage is a decoded inbound message with its sender identity.
	ReceivedMessage struct {
		From     peer.ID
		Protocol string
		Message  any
	}

	// TypeFunc allocates a fresh value for an inbound message to decode into.
	TypeFunc[T any] func() T

	// ReceiveProtocol decodes one message per inbound stream onto a channel.
	ReceiveProtocol[T any] struct {
		*protocol
		outCh    chan<- ReceivedMessage
		typeFunc TypeFunc[T]
	}
)

func NewReceiveProtocol[T any](self *Peer, protocolID string, outCh chan<- ReceivedMessage, typeFunc TypeFunc[T]) (*ReceiveProtocol[T], error) {
	if self == nil {
		return nil, errors.New(ErrStrPeerIsNil)
	}
	if protocolID == "" {
		return nil, errors.New(ErrStrProtocolIDEmpty)
	}
	if outCh == nil {
		return nil, errors.New(ErrStrOutputChIsNil)
	}
	p := &ReceiveProtocol[T]{
		protocol: &protocol{self: self, protocolID: protocolID},
		outCh:    outCh,
		typeFunc: typeFunc,
	}
	self.RegisterProtocolHandler(protocolID, p.HandleStream)
	return p, nil
}

func (p *ReceiveProtocol[T]) ID() string {
	return p.protocolID
}

func (p *ReceiveProtocol[T]) HandleStream(s libp2pnetwork.Stream) {
	defer func() {
		if err := s.Close(); err != nil {
			log.Warning("closing %s stream failed: %v", p.protocolID, err)
		}
	}()

	msg := p.typeFunc()
	if err := NewCBORReader(s).Read(msg); err != nil {
		log.Warning("reading %s message failed: %v", p.protocolID, err)
		return
	}
	p.outCh <- ReceivedMessage{
		From:     s.Conn().RemotePeer(),
		Protocol: p.protocolID,
		Message:  msg,
	}
}

func (p *ReceiveProtocol[T]) Close() {
	p.self.RemoveProtocolHandler(p.protocolID)
}
