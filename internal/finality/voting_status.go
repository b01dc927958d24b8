package finality

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/sutehoge/catapult-server/internal/types"
)

// VotingStatus is the orchestrator's persistent state.
type VotingStatus struct {
	_                struct{} `cbor:",toarray"`
	Round            types.FinalizationRound
	HasSentPrevote   bool
	HasSentPrecommit bool
}

// VotingStatusFile persists the voting status across restarts so a voter never
// double signs a stage it already voted in.
type VotingStatusFile struct {
	path string
}

func NewVotingStatusFile(path string) *VotingStatusFile {
	return &VotingStatusFile{path: path}
}

// Load reads the stored status, defaulting to the first round of the first
// epoch when no file exists yet.
func (f *VotingStatusFile) Load() (VotingStatus, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return VotingStatus{Round: types.FinalizationRound{Epoch: 1, Point: 1}}, nil
	}
	if err != nil {
		return VotingStatus{}, fmt.Errorf("reading voting status: %w", err)
	}

	var status VotingStatus
	if err := cbor.Unmarshal(data, &status); err != nil {
		return VotingStatus{}, fmt.Errorf("deserializing voting status: %w", err)
	}
	return status, nil
}

func (f *VotingStatusFile) Save(status VotingStatus) error {
	data, err := cbor.Marshal(&status)
	if err != nil {
		return fmt.Errorf("serializing voting status: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("writing voting status: %w", err)
	}
	return nil
}
