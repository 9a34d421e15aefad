// Package orchestration runs a game session: it owns the game state, moves
// it through the phase machine one pipeline at a time and recovers from
// collaborator failures through a snapshot and a retry operation.
package orchestration

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/reality-quest/core/game"
	"go.opentelemetry.io/otel/metric"
)

// SealBreakEffect is played when a photo is accepted.
const SealBreakEffect = "seal-break"

var ErrMissingCollaborator = errors.New("missing collaborator")

type Orchestrator struct {
	requestGenerator    RequestGenerator
	judge               Judge
	reactionRenderer    ReactionRenderer
	scenePromptBuilder  ScenePromptBuilder
	illustrationService IllustrationService
	memoryAPI           MemoryAPI
	locationService     LocationService
	stateStore          StateStore
	effectPlayer        EffectPlayer
	stackFactory        StackFactory

	present     func(state, previous game.State)
	onUserSpoke func(string)
	now         func() time.Time

	// pipelineMu lets a single pipeline run at a time.
	pipelineMu sync.Mutex

	// stateMu guards state and the recovery fields.
	stateMu    sync.Mutex
	state      game.State
	checkpoint recoveryPoint
	recovery   *recoveryPoint

	stackMu sync.Mutex
	stack   Stack

	flowErrors metric.Int64Counter
	background sync.WaitGroup
}

// NewOrchestrator loads the persisted state. Request generation, judging,
// reaction rendering, scene prompts and illustrations are required; every
// other collaborator is optional.
func NewOrchestrator(opts ...OrchestratorOption) (*Orchestrator, error) {
	o := &Orchestrator{
		stateStore:  discardStore{},
		present:     func(game.State, game.State) {},
		onUserSpoke: func(string) {},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	switch {
	case o.requestGenerator == nil:
		return nil, fmt.Errorf("%w: request generator", ErrMissingCollaborator)
	case o.judge == nil:
		return nil, fmt.Errorf("%w: judge", ErrMissingCollaborator)
	case o.reactionRenderer == nil:
		return nil, fmt.Errorf("%w: reaction renderer", ErrMissingCollaborator)
	case o.scenePromptBuilder == nil:
		return nil, fmt.Errorf("%w: scene prompt builder", ErrMissingCollaborator)
	case o.illustrationService == nil:
		return nil, fmt.Errorf("%w: illustration service", ErrMissingCollaborator)
	}

	flowErrors, err := meter.Int64Counter("orchestrator.errors",
		metric.WithDescription("Game flow failures that moved the game into the error phase"))
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}
	o.flowErrors = flowErrors

	o.state = o.stateStore.Load(o.now())
	return o, nil
}

// State returns the current snapshot. Its slices must not be modified.
func (o *Orchestrator) State() game.State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

// Dispatch applies event, persists the result and tells the presentation.
func (o *Orchestrator) Dispatch(event game.Event) game.State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.dispatchLocked(event)
}

func (o *Orchestrator) dispatchLocked(event game.Event) game.State {
	previous := o.state
	next := game.Transition(previous, event)
	switch next.Phase {
	case game.PhaseMenu, game.PhaseListening, game.PhaseError:
		next.CurrentRequest = nil
	}
	o.commitLocked(next, previous)
	return next
}

// commitLocked must be called with stateMu held.
func (o *Orchestrator) commitLocked(next, previous game.State) {
	o.state = next
	if err := o.stateStore.Save(next); err != nil {
		logger.Warn("failed to persist game state", "phase", next.Phase, "error", err)
	}
	o.present(next, previous)
}

// moveToMenu bypasses the phase machine; no event leads back to the menu.
func (o *Orchestrator) moveToMenu() {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	previous := o.state
	next := previous
	next.Phase = game.PhaseMenu
	next.CurrentRequest = nil
	next.UpdatedAt = o.now()
	o.recovery = nil
	o.commitLocked(next, previous)
}

// beginRetryable marks the start of a pipeline that RetryFromError can run
// again. A failure before the next call rolls back to the state kept here.
func (o *Orchestrator) beginRetryable(op RetryOp) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	snapshot, err := snapshotState(o.state)
	if err != nil {
		logger.Warn("failed to keep recovery checkpoint", "retry_op", op.String(), "error", err)
		snapshot = o.state
	}
	o.checkpoint = recoveryPoint{state: snapshot, op: op}
}

// Wait blocks until background memory loads have finished.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

type discardStore struct{}

func (discardStore) Load(now time.Time) game.State { return game.InitialState(now) }
func (discardStore) Save(game.State) error         { return nil }
