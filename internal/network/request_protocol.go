package network

import (
	"context"
	"errors"
	"fmt"

	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

type (
	// RequestHandler serves one decoded request, returning the response value.
	RequestHandler[Req any, Resp any] func(request Req) (Resp, error)

	// RequestProtocol is a single round trip request/response exchange over
	// one stream.
	RequestProtocol[Req any, Resp any] struct {
		*protocol
	}
)

func NewRequestProtocol[Req any, Resp any](self *Peer, protocolID string) (*RequestProtocol[Req, Resp], error) {
	if self == nil {
		return nil, errors.New(ErrStrPeerIsNil)
	}
	if protocolID == "" {
		return nil, errors.New(ErrStrProtocolIDEmpty)
	}
	return &RequestProtocol[Req, Resp]{protocol: &protocol{self: self, protocolID: protocolID}}, nil
}

// Request sends request to peerID and waits for the response.
func (p *RequestProtocol[Req, Resp]) Request(ctx context.Context, peerID peer.ID, request Req) (response Resp, _ error) {
	s, err := p.self.CreateStream(ctx, peerID, p.protocolID)
	if err != nil {
		return response, fmt.Errorf("opening %s stream to %v: %w", p.protocolID, peerID, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warning("closing %s stream to %v failed: %v", p.protocolID, peerID, err)
		}
	}()

	if err := NewCBORWriter(s).Write(request); err != nil {
		return response, fmt.Errorf("writing %s request to %v: %w", p.protocolID, peerID, err)
	}
	if err := s.CloseWrite(); err != nil {
		return response, fmt.Errorf("closing %s request stream to %v: %w", p.protocolID, peerID, err)
	}
	if err := NewCBORReader(s).Read(&response); err != nil {
		return response, fmt.Errorf("reading %s response from %v: %w", p.protocolID, peerID, err)
	}
	return response, nil
}

// Serve registers a stream handler answering requests with handler.
func (p *RequestProtocol[Req, Resp]) Serve(handler RequestHandler[Req, Resp]) {
	p.self.RegisterProtocolHandler(p.protocolID, func(s libp2pnetwork.Stream) {
		defer func() {
			if err := s.Close(); err != nil {
				log.Warning("closing %s stream failed: %v", p.protocolID, err)
			}
		}()

		var request Req
		if err := NewCBORReader(s).Read(&request); err != nil {
			log.Warning("reading %s request failed: %v", p.protocolID, err)
			return
		}

		response, err := handler(request)
		if err != nil {
			log.Warning("handling %s request failed: %v", p.protocolID, err)
			return
		}
		if err := NewCBORWriter(s).Write(response); err != nil {
			log.Warning("writing %s response failed: %v", p.protocolID, err)
		}
	})
}
