package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/reality-quest/core/game"
)

type RequestGenerator interface {
	Generate(ctx context.Context, state game.State) (game.Request, error)
}

type Judge interface {
	Evaluate(ctx context.Context, imageBase64 string, request game.Request) (game.JudgeResult, error)
}

type ReactionRenderer interface {
	Render(ctx context.Context, requestPrompt string, result game.JudgeResult) (game.ReactionResult, error)
}

type ScenePromptBuilder interface {
	Build(ctx context.Context, imageBase64, emotionTag, requestPrompt string) (string, error)
}

// IllustrationService draws the character. referenceImageBase64 may be empty
// and is when the prompt already describes the scene.
type IllustrationService interface {
	Generate(ctx context.Context, prompt, referenceImageBase64 string) (string, error)
}

type MemoryAPI interface {
	ListMemories(ctx context.Context) ([]game.MemoryItem, error)
	SaveMemory(ctx context.Context, input game.SaveMemoryInput) (game.MemoryItem, error)
}

type LocationService interface {
	IsAvailable() bool
	CurrentPosition(ctx context.Context) (game.GeoLocation, error)
}

type StateStore interface {
	Load(now time.Time) game.State
	Save(state game.State) error
}

type EffectPlayer interface {
	Play(ctx context.Context, effect string) error
}

type Narrator interface {
	Speak(ctx context.Context, text string) error
	Close() error
}

type VoiceChat interface {
	Start()
	Stop()
}

// RecallChat is a VoiceChat that can also talk about saved memories.
type RecallChat interface {
	VoiceChat
	StartRecallSession(ctx context.Context) error
}

type CameraCapture interface {
	Frame(ctx context.Context) (string, error)
	Stop() error
}

// Stack holds the resources that live for one game session. Any of them may
// be nil.
type Stack struct {
	Narrator  Narrator
	VoiceChat VoiceChat
	Capture   CameraCapture
}

// ConversationHooks connect a voice chat to the orchestrator's state.
type ConversationHooks struct {
	Memories      func() []game.MemoryItem
	Location      func() *game.GeoLocation
	OnStateChange func(game.ConversationState)
	OnUserSpoke   func(transcript string)
}

// StackFactory builds the per-session resources. It is called when a game
// starts without a stack, including after StopGame released the previous one.
type StackFactory func(ctx context.Context, hooks ConversationHooks) (Stack, error)

type OrchestratorOption func(*Orchestrator)

func WithRequestGenerator(generator RequestGenerator) OrchestratorOption {
	return func(o *Orchestrator) { o.requestGenerator = generator }
}

func WithJudge(judge Judge) OrchestratorOption {
	return func(o *Orchestrator) { o.judge = judge }
}

func WithReactionRenderer(renderer ReactionRenderer) OrchestratorOption {
	return func(o *Orchestrator) { o.reactionRenderer = renderer }
}

func WithScenePromptBuilder(builder ScenePromptBuilder) OrchestratorOption {
	return func(o *Orchestrator) { o.scenePromptBuilder = builder }
}

func WithIllustrationService(service IllustrationService) OrchestratorOption {
	return func(o *Orchestrator) { o.illustrationService = service }
}

func WithMemoryAPI(api MemoryAPI) OrchestratorOption {
	return func(o *Orchestrator) { o.memoryAPI = api }
}

func WithLocationService(service LocationService) OrchestratorOption {
	return func(o *Orchestrator) { o.locationService = service }
}

func WithStateStore(store StateStore) OrchestratorOption {
	return func(o *Orchestrator) { o.stateStore = store }
}

func WithEffectPlayer(player EffectPlayer) OrchestratorOption {
	return func(o *Orchestrator) { o.effectPlayer = player }
}

func WithStackFactory(factory StackFactory) OrchestratorOption {
	return func(o *Orchestrator) { o.stackFactory = factory }
}

// WithPresentation registers the callback that is told about every state
// change. It runs while the state lock is held, so it must not call back
// into the orchestrator synchronously.
func WithPresentation(present func(state, previous game.State)) OrchestratorOption {
	return func(o *Orchestrator) { o.present = present }
}

func WithUserSpokeCallback(callback func(transcript string)) OrchestratorOption {
	return func(o *Orchestrator) { o.onUserSpoke = callback }
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}
