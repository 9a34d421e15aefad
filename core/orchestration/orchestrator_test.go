package orchestration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/koscakluka/reality-quest/core/narrator"
)

type stubGenerator struct {
	mu    sync.Mutex
	calls int
	fail  int
}

func (g *stubGenerator) Generate(context.Context, game.State) (game.Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.fail > 0 {
		g.fail--
		return game.Request{}, errors.New("generator down")
	}
	return game.Request{
		ID:         fmt.Sprintf("req-%d", g.calls),
		Category:   game.CategoryObject,
		Prompt:     fmt.Sprintf("prompt-%d", g.calls),
		HintPrompt: fmt.Sprintf("hint-%d", g.calls),
	}, nil
}

type stubJudge struct {
	mu       sync.Mutex
	result   game.JudgeResult
	fail     int
	requests []string
}

func (j *stubJudge) Evaluate(_ context.Context, _ string, request game.Request) (game.JudgeResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.requests = append(j.requests, request.ID)
	if j.fail > 0 {
		j.fail--
		return game.JudgeResult{}, errors.New("judge down")
	}
	return j.result, nil
}

type stubRenderer struct{ err error }

func (r stubRenderer) Render(context.Context, string, game.JudgeResult) (game.ReactionResult, error) {
	if r.err != nil {
		return game.ReactionResult{}, r.err
	}
	return game.ReactionResult{VoiceText: "やったー！", IllustrationPrompt: "happy", EmotionTag: "happy"}, nil
}

type stubScene struct{}

func (stubScene) Build(_ context.Context, _, emotionTag, requestPrompt string) (string, error) {
	return "scene:" + emotionTag + ":" + requestPrompt, nil
}

type stubIllustration struct {
	mu      sync.Mutex
	err     error
	prompts []string
}

func (s *stubIllustration) Generate(_ context.Context, prompt, reference string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if reference != "" {
		return "", errors.New("unexpected reference image")
	}
	s.prompts = append(s.prompts, prompt)
	return "data:image/png;base64,AAAA", nil
}

type stubMemoryAPI struct {
	mu      sync.Mutex
	list    []game.MemoryItem
	saveErr error
	saved   []game.SaveMemoryInput
}

func (m *stubMemoryAPI) ListMemories(context.Context) ([]game.MemoryItem, error) {
	return m.list, nil
}

func (m *stubMemoryAPI) SaveMemory(_ context.Context, input game.SaveMemoryInput) (game.MemoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return game.MemoryItem{}, m.saveErr
	}
	m.saved = append(m.saved, input)
	return game.MemoryItem{ID: "mem-" + input.SourceRequestID, SourceRequestID: input.SourceRequestID}, nil
}

type stubNarrator struct {
	mu     sync.Mutex
	err    error
	spoken []string
	closes int
}

func (n *stubNarrator) Speak(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closes > 0 {
		return narrator.ErrClosed
	}
	n.spoken = append(n.spoken, text)
	return n.err
}

func (n *stubNarrator) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closes++
	return nil
}

func (n *stubNarrator) lines() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.spoken)
}

type stubVoiceChat struct {
	mu            sync.Mutex
	starts, stops int
	memories      func() []game.MemoryItem
	recalled      [][]game.MemoryItem
	recallErr     error
}

func (v *stubVoiceChat) Start() { v.mu.Lock(); v.starts++; v.mu.Unlock() }
func (v *stubVoiceChat) Stop()  { v.mu.Lock(); v.stops++; v.mu.Unlock() }

func (v *stubVoiceChat) StartRecallSession(context.Context) error {
	memories := v.memories()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.recalled = append(v.recalled, memories)
	return v.recallErr
}

type listenOnlyChat struct{}

func (listenOnlyChat) Start() {}
func (listenOnlyChat) Stop()  {}

type stubCapture struct {
	err   error
	stops int
}

func (c *stubCapture) Frame(context.Context) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return "ZnJhbWU=", nil
}

func (c *stubCapture) Stop() error { c.stops++; return nil }

type stubEffects struct{ played []string }

func (e *stubEffects) Play(_ context.Context, effect string) error {
	e.played = append(e.played, effect)
	return nil
}

type stubLocation struct{ err error }

func (stubLocation) IsAvailable() bool { return true }

func (l stubLocation) CurrentPosition(context.Context) (game.GeoLocation, error) {
	if l.err != nil {
		return game.GeoLocation{}, l.err
	}
	return game.GeoLocation{Latitude: 35.68, Longitude: 139.76, Accuracy: 10}, nil
}

type recordingStore struct {
	mu    sync.Mutex
	saved []game.State
}

func (s *recordingStore) Load(now time.Time) game.State { return game.InitialState(now) }

func (s *recordingStore) Save(state game.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, state)
	return nil
}

type fixture struct {
	orchestrator *Orchestrator
	generator    *stubGenerator
	judge        *stubJudge
	illustration *stubIllustration
	memories     *stubMemoryAPI
	effects      *stubEffects
	store        *recordingStore

	mu         sync.Mutex
	stackFail  int
	narrators  []*stubNarrator
	voiceChats []*stubVoiceChat
	captures   []*stubCapture
	hooks      ConversationHooks
}

func (f *fixture) narrator() *stubNarrator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.narrators[len(f.narrators)-1]
}

func newFixture(t *testing.T, opts ...OrchestratorOption) *fixture {
	t.Helper()

	f := &fixture{
		generator:    &stubGenerator{},
		judge:        &stubJudge{result: game.JudgeResult{Passed: true, Reason: "ok", Confidence: 0.9, MatchedObjects: []string{"cup"}, Safety: game.SafetySafe}},
		illustration: &stubIllustration{},
		memories:     &stubMemoryAPI{list: []game.MemoryItem{{ID: "m-old", Summary: "old"}}},
		effects:      &stubEffects{},
		store:        &recordingStore{},
	}

	factory := func(_ context.Context, hooks ConversationHooks) (Stack, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.hooks = hooks
		if f.stackFail > 0 {
			f.stackFail--
			return Stack{}, errors.New("microphone busy")
		}
		n, v, c := &stubNarrator{}, &stubVoiceChat{memories: hooks.Memories}, &stubCapture{}
		f.narrators = append(f.narrators, n)
		f.voiceChats = append(f.voiceChats, v)
		f.captures = append(f.captures, c)
		return Stack{Narrator: n, VoiceChat: v, Capture: c}, nil
	}

	base := []OrchestratorOption{
		WithRequestGenerator(f.generator),
		WithJudge(f.judge),
		WithReactionRenderer(stubRenderer{}),
		WithScenePromptBuilder(stubScene{}),
		WithIllustrationService(f.illustration),
		WithMemoryAPI(f.memories),
		WithEffectPlayer(f.effects),
		WithStateStore(f.store),
		WithStackFactory(factory),
	}
	o, err := NewOrchestrator(append(base, opts...)...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator = o
	return f
}

func TestNewOrchestratorRequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(WithJudge(&stubJudge{}))
	if !errors.Is(err, ErrMissingCollaborator) {
		t.Fatalf("expected ErrMissingCollaborator, got %v", err)
	}
}

func TestStartGameSpeaksFirstRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.orchestrator.StartGame(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()

	state := f.orchestrator.State()
	if state.Phase != game.PhaseWaitingCapture {
		t.Fatalf("expected waiting_capture, got %s", state.Phase)
	}
	if state.CurrentRequest == nil || state.CurrentRequest.ID != "req-1" {
		t.Fatalf("expected req-1, got %+v", state.CurrentRequest)
	}
	if got := f.narrator().lines(); !slices.Equal(got, []string{"prompt-1"}) {
		t.Fatalf("unexpected spoken lines %v", got)
	}
	if f.voiceChats[0].starts != 1 {
		t.Fatalf("expected voice chat to start once, got %d", f.voiceChats[0].starts)
	}
	if len(state.Memories) != 1 || state.Memories[0].ID != "m-old" {
		t.Fatalf("expected loaded memories, got %+v", state.Memories)
	}
	if !state.Conversation.IsLiveConnected || state.Conversation.IsSpeaking {
		t.Fatalf("unexpected conversation state %+v", state.Conversation)
	}
}

func TestStartGameIgnoredWhileRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.orchestrator.StartGame(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()
	if err := f.orchestrator.StartGame(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()

	if f.generator.calls != 1 || len(f.narrators) != 1 {
		t.Fatalf("expected a single start, got %d generations and %d stacks", f.generator.calls, len(f.narrators))
	}
}

func TestHandleCapturePassedRunsReactionChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.orchestrator.StartGame(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()

	if err := f.orchestrator.HandleCapture(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := f.orchestrator.State()
	if state.Phase != game.PhaseWaitingCapture || state.CurrentRequest == nil || state.CurrentRequest.ID != "req-2" {
		t.Fatalf("expected to wait for req-2, got %s %+v", state.Phase, state.CurrentRequest)
	}
	if got := f.narrator().lines(); !slices.Equal(got, []string{"prompt-1", "やったー！", "prompt-2"}) {
		t.Fatalf("unexpected spoken lines %v", got)
	}
	if !slices.Equal(f.effects.played, []string{SealBreakEffect}) {
		t.Fatalf("unexpected effects %v", f.effects.played)
	}
	if !slices.Equal(f.illustration.prompts, []string{"scene:happy:prompt-1"}) {
		t.Fatalf("unexpected illustration prompts %v", f.illustration.prompts)
	}
	if len(state.CollectedGemies) != 2 || state.CollectedGemies[1].RequestPrompt != "prompt-1" {
		t.Fatalf("expected a new avatar for prompt-1, got %+v", state.CollectedGemies)
	}
	if state.LastIllustrationURL == nil || *state.LastIllustrationURL != "data:image/png;base64,AAAA" {
		t.Fatalf("unexpected illustration url %v", state.LastIllustrationURL)
	}
	if len(state.RequestHistory) != 1 || !state.RequestHistory[0].Passed {
		t.Fatalf("unexpected history %+v", state.RequestHistory)
	}

	if len(f.memories.saved) != 1 {
		t.Fatalf("expected one saved memory, got %d", len(f.memories.saved))
	}
	saved := f.memories.saved[0]
	if saved.SourceRequestID != "req-1" || saved.ImageBase64 != "ZnJhbWU=" || saved.JudgeReason != "ok" || !slices.Equal(saved.MatchedObjects, []string{"cup"}) {
		t.Fatalf("unexpected memory input %+v", saved)
	}
	if !slices.ContainsFunc(state.Memories, func(m game.MemoryItem) bool { return m.ID == "mem-req-1" }) {
		t.Fatalf("expected saved memory in state, got %+v", state.Memories)
	}
}

func TestHandleCaptureFailedSpeaksHint(t *testing.T) {
	f := newFixture(t)
	f.judge.result = game.JudgeResult{Passed: false, Reason: "no cup", Safety: game.SafetySafe}
	ctx := context.Background()
	if err := f.orchestrator.StartGame(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()

	if err := f.orchestrator.HandleCapture(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := f.orchestrator.State()
	if state.Phase != game.PhaseWaitingCapture || state.CurrentRequest.ID != "req-1" {
		t.Fatalf("expected to keep waiting for req-1, got %s %+v", state.Phase, state.CurrentRequest)
	}
	if len(state.RequestHistory) != 1 || state.RequestHistory[0].Passed {
		t.Fatalf("unexpected history %+v", state.RequestHistory)
	}
	if got := f.narrator().lines(); !slices.Equal(got, []string{"prompt-1", "hint-1"}) {
		t.Fatalf("unexpected spoken lines %v", got)
	}
	if len(f.memories.saved) != 0 {
		t.Fatalf("expected nothing saved, got %+v", f.memories.saved)
	}
}

func TestHandleCaptureSkippedOutsideWaitingCapture(t *testing.T) {
	f := newFixture(t)

	if err := f.orchestrator.HandleCapture(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.judge.requests) != 0 || f.orchestrator.State().Phase != game.PhaseMenu {
		t.Fatalf("expected capture to be skipped in the menu")
	}
}

func TestRequestFailureEntersErrorAndRetries(t *testing.T) {
	f := newFixture(t)
	f.generator.fail = 1
	ctx := context.Background()

	err := f.orchestrator.StartGame(ctx)
	f.orchestrator.Wait()
	var flowErr *FlowError
	if !errors.As(err, &flowErr) {
		t.Fatalf("expected a flow error, got %v", err)
	}
	if flowErr.Reason != "request generation failed" || flowErr.Op != RetryPrepareNextRequest {
		t.Fatalf("unexpected flow error %+v", flowErr)
	}
	if state := f.orchestrator.State(); state.Phase != game.PhaseError || state.CurrentRequest != nil {
		t.Fatalf("expected error phase without a request, got %s %+v", state.Phase, state.CurrentRequest)
	}

	if err := f.orchestrator.RetryFromError(ctx); err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}
	state := f.orchestrator.State()
	if state.Phase != game.PhaseWaitingCapture || state.CurrentRequest.ID != "req-2" {
		t.Fatalf("expected retry to ask req-2, got %s %+v", state.Phase, state.CurrentRequest)
	}
	if err := f.orchestrator.RetryFromError(ctx); !errors.Is(err, ErrNothingToRetry) {
		t.Fatalf("expected ErrNothingToRetry after recovering, got %v", err)
	}
}

func TestRetryHandleCaptureRestoresRequest(t *testing.T) {
	f := newFixture(t)
	f.judge.fail = 1
	ctx := context.Background()
	if err := f.orchestrator.StartGame(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()

	err := f.orchestrator.HandleCapture(ctx)
	var flowErr *FlowError
	if !errors.As(err, &flowErr) || flowErr.Op != RetryHandleCapture || flowErr.Reason != "judge failed" {
		t.Fatalf("expected judge flow error, got %v", err)
	}

	var presented []game.Phase
	f.orchestrator.present = func(state, _ game.State) { presented = append(presented, state.Phase) }

	if err := f.orchestrator.RetryFromError(ctx); err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}

	if !slices.Equal(f.judge.requests, []string{"req-1", "req-1"}) {
		t.Fatalf("expected req-1 to be judged twice, got %v", f.judge.requests)
	}
	if len(presented) == 0 || presented[0] != game.PhaseWaitingCapture {
		t.Fatalf("expected the snapshot from waiting_capture to be restored first, got %v", presented)
	}
	if state := f.orchestrator.State(); state.CurrentRequest == nil || state.CurrentRequest.ID != "req-2" {
		t.Fatalf("expected the next request after retrying, got %+v", state.CurrentRequest)
	}
}

func TestRetryFailureKeepsRecovering(t *testing.T) {
	f := newFixture(t)
	f.generator.fail = 2
	ctx := context.Background()

	if err := f.orchestrator.StartGame(ctx); err == nil {
		t.Fatalf("expected start to fail")
	}
	f.orchestrator.Wait()
	if err := f.orchestrator.RetryFromError(ctx); err == nil {
		t.Fatalf("expected retry to fail")
	}
	if f.orchestrator.State().Phase != game.PhaseError {
		t.Fatalf("expected to stay in error")
	}
	if err := f.orchestrator.RetryFromError(ctx); err != nil {
		t.Fatalf("expected the second retry to recover, got %v", err)
	}
	if f.orchestrator.State().Phase != game.PhaseWaitingCapture {
		t.Fatalf("expected waiting_capture, got %s", f.orchestrator.State().Phase)
	}
}

func TestRetryKeepsBackgroundUpdates(t *testing.T) {
	f := newFixture(t)
	f.generator.fail = 1
	ctx := context.Background()

	if err := f.orchestrator.StartGame(ctx); err == nil {
		t.Fatalf("expected start to fail")
	}
	f.orchestrator.Wait()

	location := game.GeoLocation{Latitude: 35.68, Longitude: 139.76}
	f.hooks.OnStateChange(game.ConversationState{IsLiveConnected: true, IsListening: true, LastTranscript: "まだ？"})
	f.orchestrator.Dispatch(game.NewMemorySavedEvent(game.MemoryItem{ID: "m-new", Summary: "new"}, time.Now()))
	f.orchestrator.stateMu.Lock()
	f.orchestrator.state.Location = &location
	f.orchestrator.stateMu.Unlock()

	if err := f.orchestrator.RetryFromError(ctx); err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}

	state := f.orchestrator.State()
	if state.Phase != game.PhaseWaitingCapture || state.CurrentRequest == nil || state.CurrentRequest.ID != "req-2" {
		t.Fatalf("expected retry to ask req-2, got %s %+v", state.Phase, state.CurrentRequest)
	}
	for _, id := range []string{"m-old", "m-new"} {
		if !slices.ContainsFunc(state.Memories, func(m game.MemoryItem) bool { return m.ID == id }) {
			t.Fatalf("expected memory %s to survive the retry, got %+v", id, state.Memories)
		}
	}
	if !state.Conversation.IsListening || state.Conversation.LastTranscript != "まだ？" {
		t.Fatalf("expected voice state to survive the retry, got %+v", state.Conversation)
	}
	if state.Location == nil || state.Location.Latitude != 35.68 {
		t.Fatalf("expected location to survive the retry, got %+v", state.Location)
	}
}

func TestStackFailureEntersErrorAndRetries(t *testing.T) {
	f := newFixture(t)
	f.stackFail = 1
	ctx := context.Background()

	err := f.orchestrator.StartGame(ctx)
	f.orchestrator.Wait()
	var flowErr *FlowError
	if !errors.As(err, &flowErr) || flowErr.Op != RetryStartGame || flowErr.Reason != "conversation stack failed" {
		t.Fatalf("expected a start game flow error, got %v", err)
	}
	if state := f.orchestrator.State(); state.Phase != game.PhaseError {
		t.Fatalf("expected error phase, got %s", state.Phase)
	}
	if f.generator.calls != 0 || len(f.narrators) != 0 {
		t.Fatalf("expected nothing to run without a stack, got %d generations and %d stacks", f.generator.calls, len(f.narrators))
	}

	if err := f.orchestrator.RetryFromError(ctx); err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}
	f.orchestrator.Wait()
	state := f.orchestrator.State()
	if state.Phase != game.PhaseWaitingCapture || state.CurrentRequest == nil || state.CurrentRequest.ID != "req-1" {
		t.Fatalf("expected retry to ask req-1, got %s %+v", state.Phase, state.CurrentRequest)
	}
	if len(f.narrators) != 1 || f.voiceChats[0].starts != 1 {
		t.Fatalf("expected a single stack after retrying, got %d", len(f.narrators))
	}
}

func TestRetryWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	if err := f.orchestrator.RetryFromError(context.Background()); !errors.Is(err, ErrNothingToRetry) {
		t.Fatalf("expected ErrNothingToRetry, got %v", err)
	}
}

func TestReactionFailureEntersError(t *testing.T) {
	f := newFixture(t)
	f.illustration.err = errors.New("no image")
	ctx := context.Background()
	if err := f.orchestrator.StartGame(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()

	err := f.orchestrator.HandleCapture(ctx)
	var flowErr *FlowError
	if !errors.As(err, &flowErr) || flowErr.Reason != "reaction failed" || flowErr.Op != RetryHandleCapture {
		t.Fatalf("expected reaction flow error, got %v", err)
	}
	if len(f.memories.saved) != 0 {
		t.Fatalf("expected no memory after a failed reaction")
	}
	if f.orchestrator.State().Phase != game.PhaseError {
		t.Fatalf("expected error phase, got %s", f.orchestrator.State().Phase)
	}
}

func TestMemorySaveFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.memories.saveErr = errors.New("memory api down")
	ctx := context.Background()
	if err := f.orchestrator.StartGame(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()

	if err := f.orchestrator.HandleCapture(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state := f.orchestrator.State(); state.Phase != game.PhaseWaitingCapture || state.CurrentRequest.ID != "req-2" {
		t.Fatalf("expected the game to carry on, got %s %+v", state.Phase, state.CurrentRequest)
	}
}

func TestNarratorFailureSetsLastError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.orchestrator.InitializeConversationStack(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.narrator().err = errors.New("boom")

	if err := f.orchestrator.StartGame(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()

	state := f.orchestrator.State()
	if state.Phase != game.PhaseWaitingCapture {
		t.Fatalf("expected the game to carry on, got %s", state.Phase)
	}
	if state.Conversation.LastError != "narrator speak failed: boom" || state.Conversation.IsSpeaking {
		t.Fatalf("unexpected conversation state %+v", state.Conversation)
	}
	if len(f.narrators) != 1 {
		t.Fatalf("expected the existing stack to be reused, got %d", len(f.narrators))
	}
}

func TestLocationIsBestEffort(t *testing.T) {
	f := newFixture(t, WithLocationService(stubLocation{err: errors.New("denied")}))
	if err := f.orchestrator.StartGame(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()
	if state := f.orchestrator.State(); state.Location != nil || state.Phase != game.PhaseWaitingCapture {
		t.Fatalf("unexpected state %s %+v", state.Phase, state.Location)
	}

	f = newFixture(t, WithLocationService(stubLocation{}))
	if err := f.orchestrator.StartGame(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()
	if location := f.orchestrator.State().Location; location == nil || location.Latitude != 35.68 {
		t.Fatalf("expected location to be set, got %+v", location)
	}
}

func TestStopGameTearsDownAndRestarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.orchestrator.StartGame(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()

	if err := f.orchestrator.StopGame(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.orchestrator.BackToMenu(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := f.narrators[0]
	if first.closes != 1 || f.voiceChats[0].stops != 1 || f.captures[0].stops != 1 {
		t.Fatalf("expected a single teardown, got closes=%d stops=%d captureStops=%d",
			first.closes, f.voiceChats[0].stops, f.captures[0].stops)
	}
	state := f.orchestrator.State()
	if state.Phase != game.PhaseMenu || state.CurrentRequest != nil {
		t.Fatalf("expected menu without request, got %s %+v", state.Phase, state.CurrentRequest)
	}
	if c := state.Conversation; c.IsLiveConnected || c.IsListening || c.IsSpeaking {
		t.Fatalf("expected conversation flags reset, got %+v", c)
	}

	if err := f.orchestrator.StartGame(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()
	if len(f.narrators) != 2 {
		t.Fatalf("expected a fresh stack, got %d", len(f.narrators))
	}
	if got := f.narrator().lines(); !slices.Equal(got, []string{"prompt-2"}) {
		t.Fatalf("unexpected spoken lines %v", got)
	}
}

func TestDispatchPersistsAndPresents(t *testing.T) {
	type change struct{ state, previous game.Phase }
	var changes []change
	f := newFixture(t, WithPresentation(func(state, previous game.State) {
		changes = append(changes, change{state.Phase, previous.Phase})
	}))

	next := f.orchestrator.Dispatch(game.NewStartAREvent(time.Now()))

	if next.Phase != game.PhaseListening {
		t.Fatalf("expected listening, got %s", next.Phase)
	}
	if !slices.Equal(changes, []change{{game.PhaseListening, game.PhaseMenu}}) {
		t.Fatalf("unexpected presentation calls %+v", changes)
	}
	if len(f.store.saved) != 1 || f.store.saved[0].Phase != game.PhaseListening {
		t.Fatalf("expected the new state to be saved, got %+v", f.store.saved)
	}
}

func TestConversationHooksFeedState(t *testing.T) {
	var spoken []string
	f := newFixture(t, WithUserSpokeCallback(func(transcript string) { spoken = append(spoken, transcript) }))
	ctx := context.Background()
	if err := f.orchestrator.StartGame(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()

	f.hooks.OnStateChange(game.ConversationState{IsLiveConnected: true, IsListening: true, LastTranscript: "やあ"})
	f.hooks.OnUserSpoke("やあ")

	state := f.orchestrator.State()
	if !state.Conversation.IsListening || state.Conversation.LastTranscript != "やあ" {
		t.Fatalf("expected voice state to be stored, got %+v", state.Conversation)
	}
	if !slices.Equal(spoken, []string{"やあ"}) {
		t.Fatalf("unexpected user spoke calls %v", spoken)
	}
	if memories := f.hooks.Memories(); len(memories) != 1 || memories[0].ID != "m-old" {
		t.Fatalf("unexpected memories from hook %+v", memories)
	}
	if f.hooks.Location() != nil {
		t.Fatalf("expected no location")
	}
}

func TestSnapshotStateIsDeep(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	state := game.InitialState(at)
	state.CurrentRequest = &game.Request{ID: "req-1"}
	state.RequestHistory = []game.HistoryItem{{RequestID: "req-0", Reason: "ok", Timestamp: at}}

	snapshot, err := snapshotState(state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snapshot.RequestHistory[0].Reason = "changed"
	snapshot.CurrentRequest.ID = "changed"

	if state.RequestHistory[0].Reason != "ok" || state.CurrentRequest.ID != "req-1" {
		t.Fatalf("snapshot shares memory with the original")
	}
	if !snapshot.UpdatedAt.Equal(at) || !snapshot.RequestHistory[0].Timestamp.Equal(at) || !snapshot.CollectedGemies[0].CreatedAt.Equal(at) {
		t.Fatalf("expected times to survive the copy, got %+v", snapshot)
	}
}

func TestStartRecallFromMenu(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.orchestrator.StartRecall(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chat := f.voiceChats[0]
	if len(chat.recalled) != 1 || len(chat.recalled[0]) != 1 || chat.recalled[0][0].ID != "m-old" {
		t.Fatalf("expected recall to start with the loaded memories, got %+v", chat.recalled)
	}
	if state := f.orchestrator.State(); state.Phase != game.PhaseMenu || !state.Conversation.IsLiveConnected {
		t.Fatalf("expected a live conversation in the menu, got %s %+v", state.Phase, state.Conversation)
	}

	if err := f.orchestrator.BackToMenu(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chat.stops != 1 || f.narrators[0].closes != 1 {
		t.Fatalf("expected recall to be torn down, got stops=%d closes=%d", chat.stops, f.narrators[0].closes)
	}
}

func TestStartRecallOnlyFromMenu(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.orchestrator.StartGame(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.orchestrator.Wait()

	if err := f.orchestrator.StartRecall(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.voiceChats[0].recalled) != 0 {
		t.Fatalf("expected no recall during a game")
	}
}

func TestStartRecallErrors(t *testing.T) {
	factory := func(context.Context, ConversationHooks) (Stack, error) {
		return Stack{VoiceChat: listenOnlyChat{}}, nil
	}
	f := newFixture(t, WithStackFactory(factory))
	if err := f.orchestrator.StartRecall(context.Background()); !errors.Is(err, ErrRecallUnsupported) {
		t.Fatalf("expected ErrRecallUnsupported, got %v", err)
	}

	f = newFixture(t)
	f.stackFail = 1
	if err := f.orchestrator.StartRecall(context.Background()); err == nil {
		t.Fatalf("expected the stack failure to be returned")
	}
	if phase := f.orchestrator.State().Phase; phase != game.PhaseMenu {
		t.Fatalf("expected to stay in the menu, got %s", phase)
	}
}
