package game

import "time"

type Kind string

const (
	KindStartAR           Kind = "START_AR"
	KindRequestReady      Kind = "REQUEST_READY"
	KindRequestSpoken     Kind = "REQUEST_SPOKEN"
	KindCaptureSubmit     Kind = "CAPTURE_SUBMIT"
	KindJudgePassed       Kind = "JUDGE_PASSED"
	KindJudgeFailed       Kind = "JUDGE_FAILED"
	KindReactionDone      Kind = "REACTION_DONE"
	KindMemorySaved       Kind = "MEMORY_SAVED"
	KindMemoryListLoaded  Kind = "MEMORY_LIST_LOADED"
	KindVoiceStateUpdated Kind = "VOICE_STATE_UPDATED"
	KindErrorOccurred     Kind = "ERROR_OCCURRED"
	KindReset             Kind = "RESET"
)

// Event is one of the concrete event types below. The set is closed: the
// unexported marker keeps other packages from adding variants.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
	event()
}

type Base struct {
	kind      Kind
	timestamp time.Time
}

func newBase(kind Kind, at time.Time) Base {
	return Base{kind: kind, timestamp: at}
}

func (b Base) Kind() Kind           { return b.kind }
func (b Base) Timestamp() time.Time { return b.timestamp }
func (Base) event()                 {}

type StartAREvent struct{ Base }

func NewStartAREvent(at time.Time) StartAREvent {
	return StartAREvent{Base: newBase(KindStartAR, at)}
}

type RequestReadyEvent struct {
	Base
	Request Request
}

func NewRequestReadyEvent(request Request, at time.Time) RequestReadyEvent {
	return RequestReadyEvent{Base: newBase(KindRequestReady, at), Request: request}
}

type RequestSpokenEvent struct{ Base }

func NewRequestSpokenEvent(at time.Time) RequestSpokenEvent {
	return RequestSpokenEvent{Base: newBase(KindRequestSpoken, at)}
}

type CaptureSubmitEvent struct {
	Base
	// ImageBase64 is the submitted evidence frame.
	ImageBase64 string
}

func NewCaptureSubmitEvent(imageBase64 string, at time.Time) CaptureSubmitEvent {
	return CaptureSubmitEvent{Base: newBase(KindCaptureSubmit, at), ImageBase64: imageBase64}
}

type JudgePassedEvent struct {
	Base
	Result JudgeResult
}

func NewJudgePassedEvent(result JudgeResult, at time.Time) JudgePassedEvent {
	return JudgePassedEvent{Base: newBase(KindJudgePassed, at), Result: result}
}

type JudgeFailedEvent struct {
	Base
	Result JudgeResult
}

func NewJudgeFailedEvent(result JudgeResult, at time.Time) JudgeFailedEvent {
	return JudgeFailedEvent{Base: newBase(KindJudgeFailed, at), Result: result}
}

type ReactionDoneEvent struct {
	Base
	Reaction        ReactionResult
	IllustrationURL string
}

func NewReactionDoneEvent(reaction ReactionResult, illustrationURL string, at time.Time) ReactionDoneEvent {
	return ReactionDoneEvent{
		Base:            newBase(KindReactionDone, at),
		Reaction:        reaction,
		IllustrationURL: illustrationURL,
	}
}

type MemorySavedEvent struct {
	Base
	Memory MemoryItem
}

func NewMemorySavedEvent(memory MemoryItem, at time.Time) MemorySavedEvent {
	return MemorySavedEvent{Base: newBase(KindMemorySaved, at), Memory: memory}
}

type MemoryListLoadedEvent struct {
	Base
	Memories []MemoryItem
}

func NewMemoryListLoadedEvent(memories []MemoryItem, at time.Time) MemoryListLoadedEvent {
	return MemoryListLoadedEvent{Base: newBase(KindMemoryListLoaded, at), Memories: memories}
}

type VoiceStateUpdatedEvent struct {
	Base
	Conversation ConversationState
}

func NewVoiceStateUpdatedEvent(conversation ConversationState, at time.Time) VoiceStateUpdatedEvent {
	return VoiceStateUpdatedEvent{Base: newBase(KindVoiceStateUpdated, at), Conversation: conversation}
}

type ErrorOccurredEvent struct {
	Base
	Reason string
}

func NewErrorOccurredEvent(reason string, at time.Time) ErrorOccurredEvent {
	return ErrorOccurredEvent{Base: newBase(KindErrorOccurred, at), Reason: reason}
}

type ResetEvent struct{ Base }

func NewResetEvent(at time.Time) ResetEvent {
	return ResetEvent{Base: newBase(KindReset, at)}
}
