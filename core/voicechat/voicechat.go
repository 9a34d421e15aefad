// Package voicechat keeps a recognition session running while the game is on
// and answers every utterance with one spoken reply.
package voicechat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/koscakluka/reality-quest/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Speaker voices a line and returns once it has been spoken.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type VoiceChat struct {
	narrator   Speaker
	recognizer speechtotext.Recognizer
	language   string

	memories          func() []game.MemoryItem
	location          func() *game.GeoLocation
	onStateChange     func(game.ConversationState)
	onMemoryDiscussed func(game.MemoryItem)
	onUserSpoke       func(string)
	now               func() time.Time
	intn              func(int) int

	ctx context.Context

	// mu guards the session lifecycle and recall fields.
	mu           sync.Mutex
	active       bool
	recallMode   bool
	recallMemory *game.MemoryItem
	session      speechtotext.Session
	sessionID    uint64
	liveSessions int

	stateMu sync.Mutex
	state   game.ConversationState

	replies sync.WaitGroup
}

type VoiceChatOption func(*VoiceChat)

func WithMemories(memories func() []game.MemoryItem) VoiceChatOption {
	return func(v *VoiceChat) { v.memories = memories }
}

func WithLocation(location func() *game.GeoLocation) VoiceChatOption {
	return func(v *VoiceChat) { v.location = location }
}

func WithStateChangeCallback(callback func(game.ConversationState)) VoiceChatOption {
	return func(v *VoiceChat) { v.onStateChange = callback }
}

func WithMemoryDiscussedCallback(callback func(game.MemoryItem)) VoiceChatOption {
	return func(v *VoiceChat) { v.onMemoryDiscussed = callback }
}

func WithUserSpokeCallback(callback func(transcript string)) VoiceChatOption {
	return func(v *VoiceChat) { v.onUserSpoke = callback }
}

func WithLanguage(language string) VoiceChatOption {
	return func(v *VoiceChat) { v.language = language }
}

func WithClock(now func() time.Time) VoiceChatOption {
	return func(v *VoiceChat) { v.now = now }
}

// WithRandom replaces the source used to pick memories in recall mode. intn
// must return a value in [0, n).
func WithRandom(intn func(n int) int) VoiceChatOption {
	return func(v *VoiceChat) { v.intn = intn }
}

// New resolves the recognizer once; a nil recognizer becomes
// speechtotext.Unsupported and Start then only reports the error state.
func New(narrator Speaker, recognizer speechtotext.Recognizer, opts ...VoiceChatOption) *VoiceChat {
	v := &VoiceChat{
		narrator:          narrator,
		recognizer:        recognizer,
		language:          speechtotext.DefaultLanguage,
		memories:          func() []game.MemoryItem { return nil },
		location:          func() *game.GeoLocation { return nil },
		onStateChange:     func(game.ConversationState) {},
		onMemoryDiscussed: func(game.MemoryItem) {},
		onUserSpoke:       func(string) {},
		now:               time.Now,
		intn:              defaultIntn,
		ctx:               context.Background(),
		state:             game.ConversationState{IsLiveConnected: true},
	}
	if v.recognizer == nil {
		v.recognizer = speechtotext.Unsupported{}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *VoiceChat) State() game.ConversationState {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	return v.state
}

// LiveSessions is the number of recognition sessions that have started and
// not ended yet. It never exceeds one.
func (v *VoiceChat) LiveSessions() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.liveSessions
}

func (v *VoiceChat) updateState(patch func(*game.ConversationState)) {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	patch(&v.state)
	v.onStateChange(v.state)
}

func (v *VoiceChat) Start() {
	v.mu.Lock()
	v.active = true
	v.recallMode = false
	v.recallMemory = nil
	v.mu.Unlock()

	v.startRecognition(false)
}

// Stop ends listening. A reply that is already being spoken finishes on its
// own.
func (v *VoiceChat) Stop() {
	v.mu.Lock()
	v.active = false
	v.recallMode = false
	v.recallMemory = nil
	session := v.session
	v.mu.Unlock()

	if session != nil {
		if err := stopSession(session); err != nil {
			logger.Warn("failed to stop recognition session", "error", err)
			v.updateState(func(s *game.ConversationState) {
				s.IsListening = false
				s.LastError = fmt.Sprintf("speech recognition stop failed: %v", err)
			})
		}
	}

	v.updateState(func(s *game.ConversationState) {
		s.IsListening = false
		s.IsSpeaking = false
		s.IsLiveConnected = false
	})
}

func stopSession(session speechtotext.Session) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("recognizer panicked: %v", recovered)
		}
	}()

	if err := session.Stop(); err != nil {
		return err
	}
	return session.Abort()
}

// Wait blocks until replies that are being spoken have finished.
func (v *VoiceChat) Wait() {
	v.replies.Wait()
}

// startRecognition starts a session unless one is still live. A session
// that is still winding down after Stop is restarted from its end callback.
func (v *VoiceChat) startRecognition(restart bool) {
	if speechtotext.IsUnsupported(v.recognizer) {
		v.updateState(func(s *game.ConversationState) {
			s.IsLiveConnected = false
			s.IsListening = false
			s.LastError = "speech recognition unsupported"
		})
		return
	}

	v.mu.Lock()
	if v.session != nil || !v.active {
		v.mu.Unlock()
		return
	}
	v.sessionID++
	id := v.sessionID
	session, err := v.recognizer.Start(v.ctx,
		speechtotext.WithLanguage(v.language),
		speechtotext.WithContinuous(true),
		speechtotext.WithResultCallback(v.handleResult),
		speechtotext.WithErrorCallback(v.handleError),
		speechtotext.WithEndCallback(func() { v.handleEnd(id) }),
	)
	if err == nil {
		v.session = session
		v.liveSessions++
	}
	v.mu.Unlock()

	if err != nil {
		message := fmt.Sprintf("speech recognition start failed: %v", err)
		if restart {
			message = fmt.Sprintf("speech recognition restart failed: %v", err)
		}
		logger.Warn("failed to start recognition", "restart", restart, "error", err)
		v.updateState(func(s *game.ConversationState) {
			s.IsListening = false
			s.LastError = message
		})
		return
	}

	v.updateState(func(s *game.ConversationState) {
		s.IsListening = true
		if !restart {
			s.IsLiveConnected = true
			s.LastError = ""
		}
	})
}

func (v *VoiceChat) handleEnd(id uint64) {
	v.mu.Lock()
	if v.session == nil || id != v.sessionID {
		v.mu.Unlock()
		return
	}
	v.session = nil
	v.liveSessions--
	active := v.active
	v.mu.Unlock()

	if active {
		v.startRecognition(true)
	}
}

func (v *VoiceChat) handleError(err error) {
	logger.Warn("speech recognition error", "error", err)
	v.updateState(func(s *game.ConversationState) {
		s.IsListening = false
		s.LastError = fmt.Sprintf("speech recognition error: %v", err)
	})
}

// handleResult claims the speaking slot and replies in the background so the
// recognizer keeps delivering while the narrator talks.
func (v *VoiceChat) handleResult(transcript string) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return
	}

	v.mu.Lock()
	active := v.active
	v.mu.Unlock()
	if !active {
		return
	}

	v.stateMu.Lock()
	if v.state.IsSpeaking {
		v.stateMu.Unlock()
		return
	}
	v.state.IsListening = false
	v.state.IsSpeaking = true
	v.state.LastTranscript = transcript
	v.state.LastError = ""
	v.onStateChange(v.state)
	v.stateMu.Unlock()

	v.onUserSpoke(transcript)

	v.replies.Add(1)
	go func() {
		defer v.replies.Done()
		v.reply(transcript)
	}()
}

func (v *VoiceChat) reply(transcript string) {
	ctx, span := tracer.Start(v.ctx, "voicechat.reply")
	defer span.End()

	err := v.speakReply(ctx, span, transcript)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("voice reply failed", "error", err)
	}

	v.updateState(func(s *game.ConversationState) {
		s.IsSpeaking = false
		if err != nil {
			s.LastError = fmt.Sprintf("voice reply failed: %v", err)
		}
	})
}

func (v *VoiceChat) speakReply(ctx context.Context, span trace.Span, transcript string) error {
	memories := v.memories()
	location := v.location()

	v.mu.Lock()
	recallMode := v.recallMode
	var current *game.MemoryItem
	if v.recallMemory != nil {
		memory := *v.recallMemory
		current = &memory
	}
	v.mu.Unlock()

	if !recallMode || current == nil {
		span.SetAttributes(attribute.String("voicechat.mode", "direct"))
		return v.narrator.Speak(ctx, BuildReplyPrompt(transcript, memories, location, v.now()))
	}

	if !WantsNextMemory(transcript) {
		span.SetAttributes(attribute.String("voicechat.mode", "recall"))
		return v.narrator.Speak(ctx, BuildRecallReplyPrompt(transcript, memories, *current, location, v.now()))
	}

	span.SetAttributes(attribute.String("voicechat.mode", "recall_next"))
	next, ok := pickMemory(memories, current.ID, v.intn)
	if !ok {
		return v.narrator.Speak(ctx, MemoriesExhaustedMessage)
	}

	v.mu.Lock()
	v.recallMemory = &next
	v.mu.Unlock()
	v.onMemoryDiscussed(next)

	return v.narrator.Speak(ctx, BuildRecallIntroPrompt(next))
}

// SpeakMemoryIntro introduces memory out of band, e.g. when the player opens
// it. isSpeaking is cleared however the narration ends.
func (v *VoiceChat) SpeakMemoryIntro(ctx context.Context, memory game.MemoryItem) error {
	v.updateState(func(s *game.ConversationState) { s.IsSpeaking = true })
	defer v.updateState(func(s *game.ConversationState) { s.IsSpeaking = false })

	return v.narrator.Speak(ctx, BuildRecallIntroPrompt(memory))
}

// StartRecallSession introduces a random memory and then listens in recall
// mode. With no memories it only says so.
func (v *VoiceChat) StartRecallSession(ctx context.Context) error {
	v.mu.Lock()
	v.active = true
	v.recallMode = true
	v.mu.Unlock()

	memories := v.memories()
	first, ok := pickMemory(memories, "", v.intn)
	if !ok {
		v.updateState(func(s *game.ConversationState) { s.IsSpeaking = true })
		err := v.narrator.Speak(ctx, NoMemoriesYetMessage)
		v.updateState(func(s *game.ConversationState) { s.IsSpeaking = false })
		return err
	}

	v.mu.Lock()
	v.recallMemory = &first
	v.mu.Unlock()
	v.onMemoryDiscussed(first)

	if err := v.SpeakMemoryIntro(ctx, first); err != nil {
		return err
	}

	v.startRecognition(false)
	return nil
}
