package node

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sutehoge/catapult-server/internal/crypto/ots"
	"github.com/sutehoge/catapult-server/internal/types"
)

type (
	trustBaseVoter struct {
		VotingPublicKey string `yaml:"votingPublicKey"`
		Weight          uint64 `yaml:"weight"`
	}

	trustBaseFile struct {
		Voters []trustBaseVoter `yaml:"voters"`
	}

	// TrustBase is a static voter table loaded from a file. It stands in for
	// the account state cache of the host chain; the committee is the same at
	// every height.
	TrustBase struct {
		accounts map[ots.PublicKey]types.Amount
	}
)

func LoadTrustBase(path string) (*TrustBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust base: %w", err)
	}

	var file trustBaseFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing trust base: %w", err)
	}
	if 0 == len(file.Voters) {
		return nil, fmt.Errorf("trust base has no voters")
	}

	accounts := make(map[ots.PublicKey]types.Amount, len(file.Voters))
	for i, voter := range file.Voters {
		raw, err := hex.DecodeString(voter.VotingPublicKey)
		if err != nil || len(raw) != len(ots.PublicKey{}) {
			return nil, fmt.Errorf("trust base voter %d has invalid public key %q", i, voter.VotingPublicKey)
		}
		if 0 == voter.Weight {
			return nil, fmt.Errorf("trust base voter %d has zero weight", i)
		}
		var publicKey ots.PublicKey
		copy(publicKey[:], raw)
		accounts[publicKey] = types.Amount(voter.Weight)
	}
	return &TrustBase{accounts: accounts}, nil
}

func (t *TrustBase) VotingAccountsAt(types.Height) (map[ots.PublicKey]types.Amount, error) {
	return t.accounts, nil
}
