package game

import (
	"fmt"
	"slices"
	"time"
)

// MaxRequestHistory caps the request history; the oldest entries go first.
const MaxRequestHistory = 20

const (
	DefaultAvatarID         = "gemie-default"
	DefaultAvatarImageURL   = "/gemie.png"
	DefaultAvatarEmotionTag = "neutral"
	DefaultAvatarPrompt     = "はじめまして！ジェミーだよ"
)

// InitialState is the canonical state of a brand-new session.
func InitialState(now time.Time) State {
	return State{
		Phase:          PhaseMenu,
		RequestHistory: []HistoryItem{},
		Memories:       []MemoryItem{},
		CollectedGemies: []CollectedAvatar{{
			ID:            DefaultAvatarID,
			ImageURL:      DefaultAvatarImageURL,
			EmotionTag:    DefaultAvatarEmotionTag,
			RequestPrompt: DefaultAvatarPrompt,
			CreatedAt:     now,
		}},
		Conversation: ConversationState{},
		UpdatedAt:    now,
	}
}

// Transition is the pure game state machine. It never mutates state; every
// event, handled or not, stamps UpdatedAt with the event time.
func Transition(state State, event Event) State {
	at := event.Timestamp()

	switch e := event.(type) {
	case MemorySavedEvent:
		next := state
		next.Memories = upsertMemory(state.Memories, e.Memory)
		next.UpdatedAt = at
		return next
	case MemoryListLoadedEvent:
		next := state
		next.Memories = slices.Clone(e.Memories)
		if next.Memories == nil {
			next.Memories = []MemoryItem{}
		}
		next.UpdatedAt = at
		return next
	case VoiceStateUpdatedEvent:
		next := state
		next.Conversation = e.Conversation
		next.UpdatedAt = at
		return next
	case ResetEvent:
		return InitialState(at)
	}

	next := state
	next.UpdatedAt = at

	switch state.Phase {
	case PhaseMenu:
		if _, ok := event.(StartAREvent); ok {
			next.Phase = PhaseListening
		}

	case PhaseListening:
		switch e := event.(type) {
		case RequestReadyEvent:
			next.Phase = PhaseRequesting
			next.CurrentRequest = &e.Request
		case ErrorOccurredEvent:
			next.Phase = PhaseError
		}

	case PhaseRequesting:
		switch e := event.(type) {
		case RequestSpokenEvent:
			next.Phase = PhaseWaitingCapture
		case RequestReadyEvent:
			next.CurrentRequest = &e.Request
		case ErrorOccurredEvent:
			next.Phase = PhaseError
		}

	case PhaseWaitingCapture:
		switch event.(type) {
		case CaptureSubmitEvent:
			next.Phase = PhaseValidating
		case ErrorOccurredEvent:
			next.Phase = PhaseError
		}

	case PhaseValidating:
		switch e := event.(type) {
		case JudgePassedEvent:
			next = applyJudgeResult(state, e.Result, at)
			next.Phase = PhaseReaction
		case JudgeFailedEvent:
			next = applyJudgeResult(state, e.Result, at)
			next.Phase = PhaseWaitingCapture
		case ErrorOccurredEvent:
			next.Phase = PhaseError
		}

	case PhaseReaction:
		switch e := event.(type) {
		case ReactionDoneEvent:
			requestPrompt := ""
			if state.CurrentRequest != nil {
				requestPrompt = state.CurrentRequest.Prompt
			}
			illustrationURL := e.IllustrationURL
			next.Phase = PhaseRequesting
			next.CurrentRequest = nil
			next.LastIllustrationURL = &illustrationURL
			next.CollectedGemies = append(slices.Clone(state.CollectedGemies), CollectedAvatar{
				ID:            fmt.Sprintf("gemie-%d", at.UnixMilli()),
				ImageURL:      e.IllustrationURL,
				EmotionTag:    e.Reaction.EmotionTag,
				RequestPrompt: requestPrompt,
				CreatedAt:     at,
			})
		case ErrorOccurredEvent:
			next.Phase = PhaseError
		}

	case PhaseError:
		if _, ok := event.(StartAREvent); ok {
			next.Phase = PhaseListening
		}
	}

	return next
}

func applyJudgeResult(state State, result JudgeResult, at time.Time) State {
	next := state
	next.LastJudge = &result
	next.UpdatedAt = at
	if state.CurrentRequest == nil {
		return next
	}

	history := append(slices.Clone(state.RequestHistory), HistoryItem{
		RequestID:  state.CurrentRequest.ID,
		Passed:     result.Passed,
		Confidence: result.Confidence,
		Reason:     result.Reason,
		Timestamp:  at,
	})
	if overflow := len(history) - MaxRequestHistory; overflow > 0 {
		history = history[overflow:]
	}
	next.RequestHistory = history
	return next
}

func upsertMemory(memories []MemoryItem, memory MemoryItem) []MemoryItem {
	merged := make([]MemoryItem, 0, len(memories)+1)
	for _, item := range memories {
		if item.ID != memory.ID {
			merged = append(merged, item)
		}
	}
	return append(merged, memory)
}

// IsCapturePhase reports whether the camera view is in use.
func IsCapturePhase(phase Phase) bool {
	return phase == PhaseWaitingCapture || phase == PhaseValidating || phase == PhaseReaction
}
