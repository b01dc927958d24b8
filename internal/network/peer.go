package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	libp2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/sutehoge/catapult-server/internal/logger"
)

var log = logger.CreateForPackage()

const defaultAddress = "/ip4/0.0.0.0/tcp/0"

var ErrPeerConfigurationIsNil = errors.New("peer configuration is nil")

type (
	// PeerConfiguration includes single peer configuration values.
	PeerConfiguration struct {
		// Address to listen on for incoming connections, in multiaddress format.
		Address string

		// PrivateKey is the ed25519 identity key; a random one is generated
		// when nil.
		PrivateKey []byte

		// PersistentPeers are the known finalization peers to talk to.
		PersistentPeers []peer.AddrInfo
	}

	// Peer is a single node in the p2p network, a wrapper around libp2p host.Host.
	Peer struct {
		host  host.Host
		peers []peer.AddrInfo
	}
)

func NewPeer(conf *PeerConfiguration) (*Peer, error) {
	if conf == nil {
		return nil, ErrPeerConfigurationIsNil
	}

	var privateKey crypto.PrivKey
	var err error
	if len(conf.PrivateKey) > 0 {
		if privateKey, err = crypto.UnmarshalEd25519PrivateKey(conf.PrivateKey); err != nil {
			return nil, fmt.Errorf("invalid peer key: %w", err)
		}
	} else {
		if privateKey, _, err = crypto.GenerateEd25519Key(nil); err != nil {
			return nil, fmt.Errorf("generating peer key: %w", err)
		}
	}

	address := conf.Address
	if address == "" {
		address = defaultAddress
	}

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(address),
		libp2p.Identity(privateKey),
		libp2p.Ping(true),
	)
	if err != nil {
		return nil, fmt.Errorf("creating libp2p host: %w", err)
	}

	p := &Peer{host: h, peers: conf.PersistentPeers}
	for _, info := range conf.PersistentPeers {
		p.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	}
	return p, nil
}

func (p *Peer) ID() peer.ID {
	return p.host.ID()
}

func (p *Peer) MultiAddresses() []ma.Multiaddr {
	return p.host.Addrs()
}

// PersistentPeerIDs returns the configured finalization peers.
func (p *Peer) PersistentPeerIDs() []peer.ID {
	ids := make([]peer.ID, 0, len(p.peers))
	for _, info := range p.peers {
		ids = append(ids, info.ID)
	}
	return ids
}

// Connect dials every configured persistent peer; failures are logged, not fatal.
func (p *Peer) Connect(ctx context.Context) {
	for _, info := range p.peers {
		if err := p.host.Connect(ctx, info); err != nil {
			log.Warning("connecting to peer %v failed: %v", info.ID, err)
		}
	}
}

func (p *Peer) CreateStream(ctx context.Context, peerID peer.ID, protocolID string) (libp2pnetwork.Stream, error) {
	return p.host.NewStream(ctx, peerID, libp2pprotocol.ID(protocolID))
}

func (p *Peer) RegisterProtocolHandler(protocolID string, handler libp2pnetwork.StreamHandler) {
	p.host.SetStreamHandler(libp2pprotocol.ID(protocolID), handler)
}

func (p *Peer) RemoveProtocolHandler(protocolID string) {
	p.host.RemoveStreamHandler(libp2pprotocol.ID(protocolID))
}

func (p *Peer) Close() error {
	return p.host.Close()
}
