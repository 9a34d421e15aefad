package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/koscakluka/reality-quest/core/game"
)

func (s Stack) isEmpty() bool {
	return s.Narrator == nil && s.VoiceChat == nil && s.Capture == nil
}

func (o *Orchestrator) currentStack() Stack {
	o.stackMu.Lock()
	defer o.stackMu.Unlock()
	return o.stack
}

func (o *Orchestrator) conversationHooks() ConversationHooks {
	return ConversationHooks{
		Memories: func() []game.MemoryItem { return o.State().Memories },
		Location: func() *game.GeoLocation { return o.State().Location },
		OnStateChange: func(conversation game.ConversationState) {
			o.Dispatch(game.NewVoiceStateUpdatedEvent(conversation, o.now()))
		},
		OnUserSpoke: func(transcript string) { o.onUserSpoke(transcript) },
	}
}

// InitializeConversationStack builds the narrator, voice chat and capture for
// a session. It does nothing when a stack is already in place.
func (o *Orchestrator) InitializeConversationStack(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "orchestrator.initialize_conversation_stack")
	defer span.End()

	o.stackMu.Lock()
	if !o.stack.isEmpty() || o.stackFactory == nil {
		o.stackMu.Unlock()
		return nil
	}
	stack, err := o.stackFactory(ctx, o.conversationHooks())
	if err != nil {
		o.stackMu.Unlock()
		err = fmt.Errorf("failed to build conversation stack: %w", err)
		recordSpanError(span, err)
		return err
	}
	o.stack = stack
	o.stackMu.Unlock()

	o.updateConversationState(func(c *game.ConversationState) {
		c.IsLiveConnected = true
		c.IsListening = false
		c.LastError = ""
	})
	return nil
}

// teardown releases the stack; calling it without a stack is a no-op.
func (o *Orchestrator) teardown() error {
	o.stackMu.Lock()
	stack := o.stack
	o.stack = Stack{}
	o.stackMu.Unlock()

	var errs []error
	if stack.VoiceChat != nil {
		stack.VoiceChat.Stop()
	}
	if stack.Narrator != nil {
		if err := stack.Narrator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close narrator: %w", err))
		}
	}
	if stack.Capture != nil {
		if err := stack.Capture.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop capture: %w", err))
		}
	}
	return errors.Join(errs...)
}
