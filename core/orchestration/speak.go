package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/koscakluka/reality-quest/core/narrator"
)

// updateConversationState applies patch to the current conversation state
// as a VOICE_STATE_UPDATED event.
func (o *Orchestrator) updateConversationState(patch func(*game.ConversationState)) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	conversation := o.state.Conversation
	patch(&conversation)
	o.dispatchLocked(game.NewVoiceStateUpdatedEvent(conversation, o.now()))
}

// speakIfAvailable never fails the pipeline; speech problems end up in the
// conversation's lastError.
func (o *Orchestrator) speakIfAvailable(ctx context.Context, text string) {
	speaker := o.currentStack().Narrator
	if speaker == nil || strings.TrimSpace(text) == "" {
		return
	}

	o.updateConversationState(func(c *game.ConversationState) {
		c.IsSpeaking = true
		c.LastError = ""
	})

	err := speaker.Speak(ctx, text)
	if errors.Is(err, narrator.ErrClosed) {
		logger.Debug("narrator closed before speaking", "text", text)
		err = nil
	}
	if err != nil {
		logger.Warn("narrator failed to speak", "error", err)
	}

	o.updateConversationState(func(c *game.ConversationState) {
		if err != nil {
			c.LastError = fmt.Sprintf("narrator speak failed: %v", err)
		}
		c.IsSpeaking = false
	})
}
