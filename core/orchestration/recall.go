package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/koscakluka/reality-quest/core/game"
)

var ErrRecallUnsupported = errors.New("voice chat cannot recall memories")

// StartRecall talks about a random saved memory from the menu and keeps
// listening in recall mode until BackToMenu or StartGame. The game stays in
// the menu, so failures are returned instead of entering the error phase.
func (o *Orchestrator) StartRecall(ctx context.Context) error {
	o.pipelineMu.Lock()
	defer o.pipelineMu.Unlock()

	ctx, span := tracer.Start(ctx, "orchestrator.start_recall")
	defer span.End()

	if phase := o.State().Phase; phase != game.PhaseMenu {
		logger.Warn("recall is only started from the menu", "phase", phase)
		return nil
	}

	if err := o.InitializeConversationStack(ctx); err != nil {
		recordSpanError(span, err)
		return err
	}
	chat, ok := o.currentStack().VoiceChat.(RecallChat)
	if !ok {
		recordSpanError(span, ErrRecallUnsupported)
		return ErrRecallUnsupported
	}

	// The voice chat picks from the memories in state.
	if o.memoryAPI != nil {
		o.fetchMemories(ctx)
	}

	if err := chat.StartRecallSession(ctx); err != nil {
		err = fmt.Errorf("failed to start recall session: %w", err)
		recordSpanError(span, err)
		return err
	}
	logger.Info("recall session started", "memories", len(o.State().Memories))
	return nil
}
