package voicechat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/koscakluka/reality-quest/core/speechtotext"
)

type stubRecognizer struct {
	mu        sync.Mutex
	sessions  []*stubSession
	startErrs []error
	starts    int
	live      int
	maxLive   int
}

func (r *stubRecognizer) Start(_ context.Context, opts ...speechtotext.RecognitionOption) (speechtotext.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempt := r.starts
	r.starts++
	if attempt < len(r.startErrs) && r.startErrs[attempt] != nil {
		return nil, r.startErrs[attempt]
	}

	session := &stubSession{recognizer: r, options: speechtotext.NewOptions(opts...)}
	r.sessions = append(r.sessions, session)
	r.live++
	r.maxLive = max(r.maxLive, r.live)
	return session, nil
}

func (r *stubRecognizer) session(i int) *stubSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.sessions) {
		return nil
	}
	return r.sessions[i]
}

func (r *stubRecognizer) counts() (starts, live, maxLive int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.live, r.maxLive
}

type stubSession struct {
	recognizer *stubRecognizer
	options    speechtotext.RecognitionOptions

	mu      sync.Mutex
	stopped bool
	aborted bool
	endOnce sync.Once
}

func (s *stubSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *stubSession) Abort() error {
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
	go s.end()
	return nil
}

func (s *stubSession) end() {
	s.endOnce.Do(func() {
		s.recognizer.mu.Lock()
		s.recognizer.live--
		s.recognizer.mu.Unlock()
		s.options.EndCallback()
	})
}

func (s *stubSession) say(transcript string) {
	s.options.ResultCallback(transcript)
}

type stubNarrator struct {
	mu    sync.Mutex
	lines []string
	err   error
	block chan struct{}
}

func (n *stubNarrator) Speak(_ context.Context, text string) error {
	n.mu.Lock()
	n.lines = append(n.lines, text)
	block := n.block
	err := n.err
	n.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (n *stubNarrator) spoken() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.lines...)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []game.ConversationState
}

func (r *stateRecorder) record(state game.ConversationState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) last() game.ConversationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return game.ConversationState{}
	}
	return r.states[len(r.states)-1]
}

func (r *stateRecorder) any(match func(game.ConversationState) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, state := range r.states {
		if match(state) {
			return true
		}
	}
	return false
}

func newTestVoiceChat(narrator Speaker, recognizer speechtotext.Recognizer, recorder *stateRecorder, opts ...VoiceChatOption) *VoiceChat {
	base := []VoiceChatOption{
		WithStateChangeCallback(recorder.record),
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 9, 5, 0, 0, time.Local) }),
		WithRandom(func(int) int { return 0 }),
	}
	return New(narrator, recognizer, append(base, opts...)...)
}

func TestStartListensAndRepliesOncePerUtterance(t *testing.T) {
	recognizer := &stubRecognizer{}
	narrator := &stubNarrator{}
	recorder := &stateRecorder{}
	var spoke []string
	chat := newTestVoiceChat(narrator, recognizer, recorder,
		WithUserSpokeCallback(func(transcript string) { spoke = append(spoke, transcript) }),
		WithMemories(func() []game.MemoryItem { return []game.MemoryItem{{ID: "m1", Summary: "赤いマグカップ"}} }),
	)

	chat.Start()
	if state := recorder.last(); !state.IsListening || !state.IsLiveConnected || state.LastError != "" {
		t.Fatalf("expected listening state after start, got %+v", state)
	}

	session := recognizer.session(0)
	if session == nil {
		t.Fatalf("expected a recognition session")
	}
	if session.options.Language != "ja-JP" || !session.options.Continuous || session.options.InterimResults {
		t.Fatalf("unexpected recognition options %+v", session.options)
	}

	session.say("  こんにちは  ")
	chat.Wait()

	lines := narrator.spoken()
	if len(lines) != 1 {
		t.Fatalf("expected one reply, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "ユーザーの発話: こんにちは") || !strings.Contains(lines[0], "1. 赤いマグカップ") {
		t.Fatalf("unexpected reply prompt %q", lines[0])
	}
	if len(spoke) != 1 || spoke[0] != "こんにちは" {
		t.Fatalf("expected user spoke callback with trimmed transcript, got %v", spoke)
	}
	if !recorder.any(func(s game.ConversationState) bool {
		return s.IsSpeaking && !s.IsListening && s.LastTranscript == "こんにちは"
	}) {
		t.Fatalf("expected a speaking state with the transcript")
	}
	if state := recorder.last(); state.IsSpeaking {
		t.Fatalf("expected speaking to be cleared after the reply, got %+v", state)
	}
}

func TestUtterancesAreIgnoredWhileSpeakingOrEmpty(t *testing.T) {
	recognizer := &stubRecognizer{}
	narrator := &stubNarrator{block: make(chan struct{})}
	recorder := &stateRecorder{}
	chat := newTestVoiceChat(narrator, recognizer, recorder)

	chat.Start()
	session := recognizer.session(0)

	session.say("   ")
	session.say("ひとつめ")
	waitForCondition(t, time.Second, "first reply started", func() bool { return len(narrator.spoken()) == 1 })
	session.say("ふたつめ")

	close(narrator.block)
	chat.Wait()

	if got := len(narrator.spoken()); got != 1 {
		t.Fatalf("expected exactly one reply, got %d", got)
	}
	if state := chat.State(); state.LastTranscript != "ひとつめ" {
		t.Fatalf("expected the second utterance to be ignored, got %+v", state)
	}
}

func TestReplyFailureIsReported(t *testing.T) {
	recognizer := &stubRecognizer{}
	narrator := &stubNarrator{err: errors.New("narrator closed")}
	recorder := &stateRecorder{}
	chat := newTestVoiceChat(narrator, recognizer, recorder)

	chat.Start()
	recognizer.session(0).say("ねえ")
	chat.Wait()

	state := recorder.last()
	if state.IsSpeaking || state.LastError != "voice reply failed: narrator closed" {
		t.Fatalf("unexpected state after failed reply %+v", state)
	}
}

func TestRecognitionRestartsOnlyWhileActive(t *testing.T) {
	recognizer := &stubRecognizer{}
	recorder := &stateRecorder{}
	chat := newTestVoiceChat(&stubNarrator{}, recognizer, recorder)

	chat.Start()
	recognizer.session(0).end()
	waitForCondition(t, time.Second, "restart", func() bool {
		starts, _, _ := recognizer.counts()
		return starts == 2
	})
	if chat.LiveSessions() != 1 {
		t.Fatalf("expected one live session after restart, got %d", chat.LiveSessions())
	}

	chat.Stop()
	waitForCondition(t, time.Second, "session end after stop", func() bool {
		_, live, _ := recognizer.counts()
		return live == 0
	})
	time.Sleep(20 * time.Millisecond)

	starts, _, maxLive := recognizer.counts()
	if starts != 2 {
		t.Fatalf("expected no restart after stop, got %d starts", starts)
	}
	if maxLive != 1 {
		t.Fatalf("expected at most one live session, got %d", maxLive)
	}
	if chat.LiveSessions() != 0 {
		t.Fatalf("expected no live sessions after stop, got %d", chat.LiveSessions())
	}
	if state := recorder.last(); state.IsListening || state.IsSpeaking || state.IsLiveConnected {
		t.Fatalf("expected all flags cleared after stop, got %+v", state)
	}

	session := recognizer.session(1)
	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.stopped || !session.aborted {
		t.Fatalf("expected stop then abort, got stopped=%v aborted=%v", session.stopped, session.aborted)
	}
}

func TestRestartFailureKeepsChatActive(t *testing.T) {
	recognizer := &stubRecognizer{startErrs: []error{nil, errors.New("mic busy")}}
	recorder := &stateRecorder{}
	chat := newTestVoiceChat(&stubNarrator{}, recognizer, recorder)

	chat.Start()
	recognizer.session(0).end()
	waitForCondition(t, time.Second, "restart failure", func() bool {
		return strings.Contains(recorder.last().LastError, "speech recognition restart failed: mic busy")
	})

	chat.mu.Lock()
	active := chat.active
	chat.mu.Unlock()
	if !active {
		t.Fatalf("expected restart failure to leave the chat active")
	}
	if recorder.last().IsListening {
		t.Fatalf("expected listening to be cleared after restart failure")
	}
}

func TestStopThenStartNeverOverlapsSessions(t *testing.T) {
	recognizer := &stubRecognizer{}
	chat := newTestVoiceChat(&stubNarrator{}, recognizer, &stateRecorder{})

	for range 5 {
		chat.Start()
		chat.Stop()
		chat.Start()
	}
	waitForCondition(t, time.Second, "sessions settle", func() bool {
		_, live, _ := recognizer.counts()
		return live == 1 && chat.LiveSessions() == 1
	})

	if _, _, maxLive := recognizer.counts(); maxLive != 1 {
		t.Fatalf("expected never more than one live session, got %d", maxLive)
	}

	chat.Stop()
	waitForCondition(t, time.Second, "sessions end", func() bool {
		_, live, _ := recognizer.counts()
		return live == 0
	})
}

func TestStartWithoutRecognizerReportsUnsupported(t *testing.T) {
	recorder := &stateRecorder{}
	chat := newTestVoiceChat(&stubNarrator{}, nil, recorder)

	chat.Start()

	state := recorder.last()
	if state.IsLiveConnected || state.IsListening || state.LastError != "speech recognition unsupported" {
		t.Fatalf("unexpected unsupported state %+v", state)
	}
}

func TestRecallSessionMovesBetweenMemories(t *testing.T) {
	happy := "happy"
	memories := []game.MemoryItem{
		{ID: "m1", Summary: "公園の桜", EmotionTag: &happy},
		{ID: "m2", Summary: "朝のコーヒー"},
	}
	recognizer := &stubRecognizer{}
	narrator := &stubNarrator{}
	var discussed []string
	chat := newTestVoiceChat(narrator, recognizer, &stateRecorder{},
		WithMemories(func() []game.MemoryItem { return memories }),
		WithMemoryDiscussedCallback(func(memory game.MemoryItem) { discussed = append(discussed, memory.ID) }),
	)

	if err := chat.StartRecallSession(context.Background()); err != nil {
		t.Fatalf("unexpected recall error: %v", err)
	}
	if lines := narrator.spoken(); len(lines) != 1 || !strings.Contains(lines[0], "思い出: 公園の桜") || !strings.Contains(lines[0], "そのときの気持ち: happy") {
		t.Fatalf("unexpected intro %v", lines)
	}
	session := recognizer.session(0)
	if session == nil {
		t.Fatalf("expected recognition to start after the intro")
	}

	session.say("それ楽しかったね")
	chat.Wait()
	if lines := narrator.spoken(); !strings.Contains(lines[1], "今話している思い出: 公園の桜") {
		t.Fatalf("expected recall reply about the current memory, got %q", lines[1])
	}

	session.say("次の思い出は？")
	chat.Wait()
	if lines := narrator.spoken(); !strings.Contains(lines[2], "思い出: 朝のコーヒー") {
		t.Fatalf("expected intro of the other memory, got %q", lines[2])
	}
	if len(discussed) != 2 || discussed[0] != "m1" || discussed[1] != "m2" {
		t.Fatalf("unexpected discussed memories %v", discussed)
	}
}

func TestRecallSessionWithSingleMemoryIsExhausted(t *testing.T) {
	memories := []game.MemoryItem{{ID: "m1", Summary: "夕焼け"}}
	recognizer := &stubRecognizer{}
	narrator := &stubNarrator{}
	chat := newTestVoiceChat(narrator, recognizer, &stateRecorder{},
		WithMemories(func() []game.MemoryItem { return memories }))

	if err := chat.StartRecallSession(context.Background()); err != nil {
		t.Fatalf("unexpected recall error: %v", err)
	}
	recognizer.session(0).say("別のがいいな")
	chat.Wait()

	lines := narrator.spoken()
	if lines[len(lines)-1] != MemoriesExhaustedMessage {
		t.Fatalf("expected exhausted message, got %q", lines[len(lines)-1])
	}
}

func TestRecallSessionWithoutMemories(t *testing.T) {
	recognizer := &stubRecognizer{}
	narrator := &stubNarrator{}
	recorder := &stateRecorder{}
	chat := newTestVoiceChat(narrator, recognizer, recorder)

	if err := chat.StartRecallSession(context.Background()); err != nil {
		t.Fatalf("unexpected recall error: %v", err)
	}

	if lines := narrator.spoken(); len(lines) != 1 || lines[0] != NoMemoriesYetMessage {
		t.Fatalf("expected nothing-yet message, got %v", lines)
	}
	if starts, _, _ := recognizer.counts(); starts != 0 {
		t.Fatalf("expected no recognition without memories, got %d starts", starts)
	}
	if recorder.last().IsSpeaking {
		t.Fatalf("expected speaking cleared")
	}
}

func TestSpeakMemoryIntroClearsSpeakingOnFailure(t *testing.T) {
	narrator := &stubNarrator{err: errors.New("boom")}
	recorder := &stateRecorder{}
	chat := newTestVoiceChat(narrator, &stubRecognizer{}, recorder)

	err := chat.SpeakMemoryIntro(context.Background(), game.MemoryItem{ID: "m1", Summary: "海"})
	if err == nil {
		t.Fatalf("expected narrator error to be returned")
	}
	if !recorder.any(func(s game.ConversationState) bool { return s.IsSpeaking }) {
		t.Fatalf("expected speaking to be reported")
	}
	if recorder.last().IsSpeaking {
		t.Fatalf("expected speaking to be cleared after failure")
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, desc string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}
