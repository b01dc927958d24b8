package cmd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sutehoge/catapult-server/internal/finality"
	"github.com/sutehoge/catapult-server/internal/node"
)

type runConfiguration struct {
	root *rootConfiguration

	listenAddress   string
	restAddress     string
	persistentPeers []string
	trustBasePath   string

	enableVoting          bool
	thresholdSize         uint64
	threshold             uint64
	stepDuration          time.Duration
	maxResponseSize       uint64
	maxHashesPerPoint     uint32
	prevoteBlocksMultiple uint16
	otsKeyDilution        uint64
	votingSetGrouping     uint64
}

func newRunCmd(root *rootConfiguration) *cobra.Command {
	config := &runConfiguration{root: root}
	defaults := finality.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the finality node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNode(cmd.Context(), config)
		},
	}

	cmd.Flags().StringVar(&config.listenAddress, "listen", "/ip4/0.0.0.0/tcp/26866", "libp2p listen multiaddress")
	cmd.Flags().StringVar(&config.restAddress, "rest", "localhost:8680", "REST API listen address, empty to disable")
	cmd.Flags().StringSliceVar(&config.persistentPeers, "peers", nil, "persistent peer multiaddresses")
	cmd.Flags().StringVar(&config.trustBasePath, "trust-base", "", "voter trust base file (default is <home>/trust-base.yaml)")

	cmd.Flags().BoolVar(&config.enableVoting, "enable-voting", defaults.EnableVoting, "participate in voting")
	cmd.Flags().Uint64Var(&config.thresholdSize, "threshold-size", defaults.Size, "weight threshold denominator")
	cmd.Flags().Uint64Var(&config.threshold, "threshold", defaults.Threshold, "weight threshold numerator")
	cmd.Flags().DurationVar(&config.stepDuration, "step-duration", defaults.StepDuration, "duration of a finalization step")
	cmd.Flags().Uint64Var(&config.maxResponseSize, "max-response-size", defaults.MaxResponseSize, "message synchronization response byte budget")
	cmd.Flags().Uint32Var(&config.maxHashesPerPoint, "max-hashes-per-point", defaults.MaxHashesPerPoint, "prevote hash window limit")
	cmd.Flags().Uint16Var(&config.prevoteBlocksMultiple, "prevote-blocks-multiple", defaults.PrevoteBlocksMultiple, "prevote chain tail granularity")
	cmd.Flags().Uint64Var(&config.otsKeyDilution, "ots-key-dilution", defaults.OtsKeyDilution, "one time keys per batch")
	cmd.Flags().Uint64Var(&config.votingSetGrouping, "voting-set-grouping", defaults.VotingSetGrouping, "blocks per voting set")
	return cmd
}

func runNode(ctx context.Context, config *runConfiguration) error {
	homeDir := os.ExpandEnv(config.root.HomeDir)
	trustBasePath := config.trustBasePath
	if trustBasePath == "" {
		trustBasePath = filepath.Join(homeDir, "trust-base.yaml")
	}

	n, err := node.New(node.Configuration{
		DataDirectory:   filepath.Join(homeDir, "data"),
		ListenAddress:   config.listenAddress,
		RESTAddress:     config.restAddress,
		PersistentPeers: config.persistentPeers,
		TrustBasePath:   trustBasePath,
		Finality: finality.Config{
			EnableVoting:          config.enableVoting,
			Size:                  config.thresholdSize,
			Threshold:             config.threshold,
			StepDuration:          config.stepDuration,
			MaxResponseSize:       config.maxResponseSize,
			MaxHashesPerPoint:     config.maxHashesPerPoint,
			PrevoteBlocksMultiple: config.prevoteBlocksMultiple,
			OtsKeyDilution:        config.otsKeyDilution,
			VotingSetGrouping:     config.votingSetGrouping,
		},
	})
	if err != nil {
		return err
	}
	return n.Run(ctx)
}
