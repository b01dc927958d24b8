package node

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ainvaltin/httpsrv"
	"golang.org/x/sync/errgroup"

	"github.com/sutehoge/catapult-server/internal/blockstore"
	"github.com/sutehoge/catapult-server/internal/crypto/ots"
	"github.com/sutehoge/catapult-server/internal/finality"
	"github.com/sutehoge/catapult-server/internal/finality/storage"
	"github.com/sutehoge/catapult-server/internal/logger"
	"github.com/sutehoge/catapult-server/internal/metrics"
	"github.com/sutehoge/catapult-server/internal/network"
	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/rpc"
	"github.com/sutehoge/catapult-server/internal/timer"
	"github.com/sutehoge/catapult-server/internal/types"
)

var log = logger.CreateForPackage()

const (
	connectPeersTaskID = "connect peers task for service Finalization"
	finalizationTaskID = "finalization task"
	pullMessagesTaskID = "pull finalization messages task"
	pullProofTaskID    = "pull finalization proof task"

	connectPeersInterval = 30 * time.Second

	// key material is provisioned for this many epochs ahead
	provisionedEpochs = 1024
)

var (
	counterMessagesReceived = metrics.GetOrRegisterCounter("finality/messages/received")
	counterMessagesAccepted = metrics.GetOrRegisterCounter("finality/messages/accepted")
	counterMessagesRejected = metrics.GetOrRegisterCounter("finality/messages/rejected")
	counterProofsPulled     = metrics.GetOrRegisterCounter("finality/proofs/pulled")
	gaugeFinalizedHeight    = metrics.GetOrRegisterGauge("finality/height")
)

// Node wires the finalization core to its collaborators and runs the
// periodic tasks.
type Node struct {
	conf Configuration

	peer        *network.Peer
	net         *network.FinalityNetwork
	blockStore  *blockstore.Store
	proofsCache *storage.ProofStorageCache
	proofsStore *storage.FileProofStorage

	aggregator          *finality.MultiRoundMessageAggregator
	orchestratorService *finality.OrchestratorService
	proofSynchronizer   *finality.ProofSynchronizer
	messageSynchronizer *finality.MessageSynchronizer
}

type logSubscriber struct{}

func (logSubscriber) NotifyFinalizedBlock(round types.FinalizationRound, height types.Height, hash types.Hash) {
	gaugeFinalizedHeight.Update(int64(height))
	log.Info("finalized block %s at round %s", types.HeightHashPair{Height: height, Hash: hash}, round)
}

// New assembles a node from conf. Construction wires every component
// explicitly; there is no service lookup at runtime.
func New(conf Configuration) (*Node, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if err := conf.ensureDataDirectory(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	n := &Node{conf: conf}

	trustBase, err := LoadTrustBase(conf.TrustBasePath)
	if err != nil {
		return nil, err
	}

	if n.blockStore, err = blockstore.New(conf.blockStorePath()); err != nil {
		return nil, err
	}
	if n.proofsStore, err = storage.NewFileProofStorage(conf.proofStoragePath()); err != nil {
		return nil, err
	}
	if n.proofsCache, err = storage.NewProofStorageCache(n.proofsStore); err != nil {
		return nil, err
	}

	peerInfos, err := conf.peerAddrInfos()
	if err != nil {
		return nil, err
	}
	if n.peer, err = network.NewPeer(&network.PeerConfiguration{
		Address:         conf.ListenAddress,
		PersistentPeers: peerInfos,
	}); err != nil {
		return nil, err
	}
	if n.net, err = network.NewFinalityNetwork(n.peer, 1024); err != nil {
		return nil, err
	}

	contextFactory := finality.NewContextFactory(conf.Finality, trustBase)

	statistics := currentStatistics(n.proofsCache)
	startRound := statistics.Round
	if startRound.IsZero() {
		startRound = types.FinalizationRound{Epoch: 1, Point: 1}
	}
	n.aggregator = finality.NewMultiRoundMessageAggregator(
		conf.Finality.MaxResponseSize,
		startRound,
		types.HeightHashPair{Height: statistics.Height, Hash: statistics.Hash},
		func(round types.FinalizationRound, _ types.Height) (*finality.RoundMessageAggregator, error) {
			committeeHeight := types.VotingSetEndHeight(round.Epoch-1, conf.Finality.VotingSetGrouping)
			context, err := contextFactory.Create(round.Epoch, committeeHeight)
			if err != nil {
				return nil, err
			}
			return finality.NewRoundMessageAggregator(round, conf.Finality.MaxResponseSize, context), nil
		})

	n.serveSyncRequests()

	finalizer := finality.CreateFinalizer(n.aggregator, logSubscriber{}, n.proofsCache)
	n.proofSynchronizer = finality.NewProofSynchronizer(
		conf.Finality.VotingSetGrouping,
		n.blockStore,
		n.proofsCache,
		finality.NewProofValidator(conf.Finality, contextFactory))
	n.messageSynchronizer = finality.NewMessageSynchronizer(
		func() types.FinalizationRound {
			view := n.aggregator.View()
			defer view.Release()
			return view.MinFinalizationRound()
		},
		func() []types.ShortHash {
			view := n.aggregator.View()
			defer view.Release()
			return view.ShortHashes()
		},
		func(messages []*fp.Msg) {
			for _, msg := range messages {
				n.addMessage(msg)
			}
		})

	if conf.Finality.EnableVoting {
		if err := n.createOrchestrator(contextFactory, finalizer); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func currentStatistics(cache *storage.ProofStorageCache) fp.Statistics {
	view := cache.View()
	defer view.Release()
	return view.Statistics()
}

func (n *Node) createOrchestrator(contextFactory *finality.ContextFactory, finalizer func() error) error {
	otsTree, err := n.loadOrCreateOtsTree()
	if err != nil {
		return err
	}
	log.Info("voting enabled with public key %x", otsTree.RootPublicKey())

	messageFactory := finality.NewMessageFactory(n.conf.Finality, n.blockStore, n.proofsCache, otsTree)
	statusFile := finality.NewVotingStatusFile(n.conf.votingStatusPath())
	votingStatus, err := statusFile.Load()
	if err != nil {
		return err
	}

	orchestrator := finality.NewOrchestrator(
		votingStatus,
		func(round types.FinalizationRound, startTime time.Time) finality.StageAdvancer {
			return finality.NewStageAdvancer(n.conf.Finality, round, startTime, n.aggregator)
		},
		func(msg *fp.Msg) {
			// loop the local vote back into the aggregator before gossiping
			n.addMessage(msg)
			n.net.BroadcastMessage(msg)
		},
		messageFactory)

	n.orchestratorService = finality.NewOrchestratorService(
		n.conf.Finality.VotingSetGrouping,
		n.aggregator,
		n.proofsCache,
		n.blockStore,
		statusFile,
		orchestrator,
		finalizer)
	return nil
}

func (n *Node) loadOrCreateOtsTree() (*ots.Tree, error) {
	path := n.conf.otsTreePath()
	if _, err := os.Stat(path); err == nil {
		f, err := os.OpenFile(path, os.O_RDWR, 0600)
		if err != nil {
			return nil, fmt.Errorf("opening ots tree: %w", err)
		}
		return ots.FromStorage(f)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating ots tree: %w", err)
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}

	dilution := n.conf.Finality.OtsKeyDilution
	options := ots.Options{
		Dilution: dilution,
		Start:    types.ToOtsKeyIdentifier(types.StepIdentifier{Epoch: 1, Point: 1, Stage: types.StagePrevote}, dilution),
		End: types.ToOtsKeyIdentifier(types.StepIdentifier{
			Epoch: provisionedEpochs,
			Point: types.MaxPointsPerEpoch - 1,
			Stage: types.StagePrecommit,
		}, dilution),
	}
	return ots.Create(seed, f, options)
}

// addMessage feeds one message into the aggregator, tracking the result.
func (n *Node) addMessage(msg *fp.Msg) {
	modifier := n.aggregator.Modifier()
	result := modifier.Add(msg)
	modifier.Release()

	counterMessagesReceived.Inc(1)
	if result.IsSuccess() {
		counterMessagesAccepted.Inc(1)
	} else if finality.ResultNeutralRedundant != result {
		counterMessagesRejected.Inc(1)
		log.Debug("rejected finalization message at step %s: %s", msg.StepIdentifier, result)
	}
}

func (n *Node) serveSyncRequests() {
	n.net.ServeMessages(func(request fp.PullMessagesRequest) (fp.PullMessagesResponse, error) {
		known := make(map[types.ShortHash]struct{}, len(request.KnownShortHashes))
		for _, shortHash := range request.KnownShortHashes {
			known[shortHash] = struct{}{}
		}
		view := n.aggregator.View()
		defer view.Release()
		return fp.PullMessagesResponse{Messages: view.UnknownMessages(request.Round, known)}, nil
	})

	n.net.ServeProofs(func(request fp.PullProofRequest) (fp.PullProofResponse, error) {
		view := n.proofsCache.View()
		defer view.Release()

		response := fp.PullProofResponse{Statistics: view.Statistics()}
		if 0 == request.Height {
			return response, nil
		}
		proof, err := view.LoadProofAtHeight(request.Height)
		if err != nil {
			return response, err
		}
		// only answer with an exact proof; the requester validates heights
		if proof != nil && proof.Height == request.Height {
			response.Proof = proof
		}
		return response, nil
	})
}

// randomPeer picks one persistent peer, nil result when none are configured.
func (n *Node) randomPeer() *network.RemoteNode {
	ids := n.peer.PersistentPeerIDs()
	if 0 == len(ids) {
		return nil
	}
	index, err := rand.Int(rand.Reader, big.NewInt(int64(len(ids))))
	if err != nil {
		return nil
	}
	return n.net.RemoteNode(ids[index.Int64()])
}

// Run starts the node tasks and blocks until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	defer n.close()

	n.peer.Connect(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return n.runMessageLoop(gctx)
	})
	g.Go(func() error {
		return n.runTasks(gctx)
	})
	if n.conf.RESTAddress != "" {
		server := rpc.NewRESTServer(n.conf.RESTAddress, 1<<20, rpc.NewFinalityAPI(n.proofsCache))
		g.Go(func() error {
			return httpsrv.Run(gctx, *server, httpsrv.ShutdownTimeout(5*time.Second))
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (n *Node) runMessageLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case received := <-n.net.ReceivedCh:
			msg, ok := received.Message.(*fp.Msg)
			if !ok {
				log.Warning("unexpected message type %T from %v", received.Message, received.From)
				continue
			}
			n.addMessage(msg)
		}
	}
}

func (n *Node) runTasks(ctx context.Context) error {
	timers := timer.NewTimers()
	defer timers.WaitClose()

	if n.orchestratorService != nil {
		timers.Start(finalizationTaskID, n.conf.Finality.StepDuration/2)
	}
	timers.Start(connectPeersTaskID, connectPeersInterval)
	timers.Start(pullMessagesTaskID, n.conf.Finality.StepDuration)
	timers.Start(pullProofTaskID, 2*n.conf.Finality.StepDuration)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fired := <-timers.C:
			n.runTask(ctx, fired.Name)
			timers.Restart(fired.Name)
		}
	}
}

func (n *Node) runTask(ctx context.Context, name string) {
	switch name {
	case connectPeersTaskID:
		n.peer.Connect(ctx)
	case finalizationTaskID:
		if err := n.orchestratorService.Poll(time.Now()); err != nil {
			log.Error("finalization task failed: %v", err)
		}
	case pullMessagesTaskID:
		if remote := n.randomPeer(); remote != nil {
			n.messageSynchronizer.Synchronize(ctx, remote)
		}
	case pullProofTaskID:
		if remote := n.randomPeer(); remote != nil {
			if finality.SyncSuccess == n.proofSynchronizer.Synchronize(ctx, remote) {
				counterProofsPulled.Inc(1)
			}
		}
	}
}

func (n *Node) close() {
	if err := n.peer.Close(); err != nil {
		log.Warning("closing peer failed: %v", err)
	}
	if err := n.blockStore.Close(); err != nil {
		log.Warning("closing block store failed: %v", err)
	}
	if err := n.proofsStore.Close(); err != nil {
		log.Warning("closing proof storage failed: %v", err)
	}
}
