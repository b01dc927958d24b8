package finality

import (
	"time"

	"github.com/sutehoge/catapult-server/internal/types"
)

// StageAdvancer gates the local voting stages of one round.
type StageAdvancer interface {
	// CanSendPrevote returns true when the local prevote may be emitted.
	CanSendPrevote(now time.Time) bool

	// CanSendPrecommit returns the precommit target and true when the local
	// precommit may be emitted.
	CanSendPrecommit(now time.Time) (types.HeightHashPair, bool)

	// CanStartNextRound returns true when the round is complete and finality
	// has crossed any voting set boundary it reached.
	CanStartNextRound() bool
}

type pollingTimer struct {
	startTime    time.Time
	stepDuration time.Duration
}

func (t pollingTimer) isElapsed(now time.Time, numSteps int) bool {
	return !now.Before(t.startTime.Add(time.Duration(numSteps) * t.stepDuration))
}

type stageAdvancer struct {
	config     Config
	round      types.FinalizationRound
	timer      pollingTimer
	aggregator *MultiRoundMessageAggregator
}

// NewStageAdvancer creates the advancer for round, with its step timer
// starting at startTime.
func NewStageAdvancer(config Config, round types.FinalizationRound, startTime time.Time, aggregator *MultiRoundMessageAggregator) StageAdvancer {
	log.Debug("creating finalization stage advancer at %s, %s", round, startTime.Format(time.RFC3339))
	return &stageAdvancer{
		config:     config,
		round:      round,
		timer:      pollingTimer{startTime: startTime, stepDuration: config.StepDuration},
		aggregator: aggregator,
	}
}

func (a *stageAdvancer) requireRoundContext(predicate func(*MultiRoundView, *RoundContext) bool) bool {
	view := a.aggregator.View()
	defer view.Release()

	roundContext := view.TryGetRoundContext(a.round)
	if nil == roundContext {
		return false
	}
	return predicate(view, roundContext)
}

func (a *stageAdvancer) CanSendPrevote(now time.Time) bool {
	if a.timer.isElapsed(now, 1) {
		return true
	}

	return a.requireRoundContext(func(_ *MultiRoundView, roundContext *RoundContext) bool {
		return roundContext.IsCompletable()
	})
}

func (a *stageAdvancer) CanSendPrecommit(now time.Time) (types.HeightHashPair, bool) {
	var target types.HeightHashPair
	ok := a.requireRoundContext(func(view *MultiRoundView, roundContext *RoundContext) bool {
		bestPrevote, ok := roundContext.TryFindBestPrevote()
		if !ok {
			log.Debug("cannot send precommit - no best prevote at %s", a.round)
			return false
		}

		estimate := view.FindEstimate(previousRound(a.round))
		if !roundContext.IsDescendant(estimate, bestPrevote) {
			log.Debug("cannot send precommit - best prevote does not descend from estimate %s", estimate)
			return false
		}

		if !a.timer.isElapsed(now, 2) && !roundContext.IsCompletable() {
			return false
		}

		target = bestPrevote
		return true
	})
	return target, ok
}

func (a *stageAdvancer) CanStartNextRound() bool {
	return a.requireRoundContext(func(view *MultiRoundView, roundContext *RoundContext) bool {
		if !roundContext.IsCompletable() {
			return false
		}

		// hold the round open until finality crosses the voting set boundary:
		// a next voting set must not start before the previous one's last
		// height has a best precommit
		estimate := view.FindEstimate(a.round)
		if !types.IsVotingSetEndHeight(estimate.Height, a.config.VotingSetGrouping) {
			return true
		}

		bestPrecommit, ok := roundContext.TryFindBestPrecommit()
		return ok && types.IsVotingSetEndHeight(bestPrecommit.Height, a.config.VotingSetGrouping)
	})
}

// previousRound steps one point back, crossing into the previous epoch when
// the round is the epoch's first.
func previousRound(round types.FinalizationRound) types.FinalizationRound {
	if round.Point > 1 {
		return types.FinalizationRound{Epoch: round.Epoch, Point: round.Point - 1}
	}
	if round.Epoch > 0 {
		return types.FinalizationRound{Epoch: round.Epoch - 1, Point: types.MaxPointsPerEpoch - 1}
	}
	return round
}
