package node

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/sutehoge/catapult-server/internal/finality"
)

// Configuration is the fully resolved node configuration.
type Configuration struct {
	// DataDirectory holds all durable node state.
	DataDirectory string

	// ListenAddress is the libp2p listen multiaddress.
	ListenAddress string

	// RESTAddress is the HTTP API listen address, empty to disable.
	RESTAddress string

	// PersistentPeers are the finalization peers, "multiaddr/p2p/<id>" strings.
	PersistentPeers []string

	// TrustBasePath points to the voter trust base file.
	TrustBasePath string

	Finality finality.Config
}

func (c *Configuration) Validate() error {
	if c.DataDirectory == "" {
		return fmt.Errorf("data directory must be set")
	}
	if c.TrustBasePath == "" {
		return fmt.Errorf("trust base path must be set")
	}
	return c.Finality.Validate()
}

func (c *Configuration) ensureDataDirectory() error {
	return os.MkdirAll(c.DataDirectory, 0700)
}

func (c *Configuration) blockStorePath() string {
	return filepath.Join(c.DataDirectory, "blocks.db")
}

func (c *Configuration) proofStoragePath() string {
	return filepath.Join(c.DataDirectory, "proofs")
}

func (c *Configuration) otsTreePath() string {
	return filepath.Join(c.DataDirectory, "voting_ots_tree.dat")
}

func (c *Configuration) votingStatusPath() string {
	return filepath.Join(c.DataDirectory, "voting_status.dat")
}

// peerAddrInfos parses the configured persistent peers.
func (c *Configuration) peerAddrInfos() ([]peer.AddrInfo, error) {
	var infos []peer.AddrInfo
	for _, address := range c.PersistentPeers {
		addr, err := ma.NewMultiaddr(address)
		if err != nil {
			return nil, fmt.Errorf("invalid peer address %q: %w", address, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid peer address %q: %w", address, err)
		}
		infos = append(infos, *info)
	}
	return infos, nil
}
