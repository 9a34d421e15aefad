package deepgram

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/koscakluka/reality-quest/core/audio"
	"github.com/koscakluka/reality-quest/core/speechtotext"
)

const (
	defaultBaseURL = "wss://api.deepgram.com/v1/listen"
	defaultModel   = "nova-3"
)

// Recognizer transcribes microphone audio through Deepgram's streaming listen
// API. Audio comes from the configured input, which the recognizer starts and
// stops with each session.
type Recognizer struct {
	apiKey  string
	baseURL string
	model   string
	input   audio.Input

	mu     sync.Mutex
	active *session
}

type RecognizerOption func(*Recognizer)

func WithAPIKey(apiKey string) RecognizerOption {
	return func(r *Recognizer) { r.apiKey = apiKey }
}

func WithBaseURL(baseURL string) RecognizerOption {
	return func(r *Recognizer) {
		if baseURL != "" {
			r.baseURL = baseURL
		}
	}
}

func WithModel(model string) RecognizerOption {
	return func(r *Recognizer) {
		if model != "" {
			r.model = model
		}
	}
}

func NewRecognizer(input audio.Input, opts ...RecognizerOption) (*Recognizer, error) {
	if input == nil {
		return nil, fmt.Errorf("audio input not set")
	}

	r := &Recognizer{baseURL: defaultBaseURL, model: defaultModel, input: input}
	for _, opt := range opts {
		opt(r)
	}

	if r.apiKey == "" {
		apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok || apiKey == "" {
			return nil, fmt.Errorf("deepgram api key not found")
		}
		r.apiKey = apiKey
	}

	return r, nil
}

// Start opens a listen socket and starts feeding it microphone audio.
// It fails with speechtotext.ErrAlreadyStarted while the previous session has
// not ended yet.
func (r *Recognizer) Start(ctx context.Context, opts ...speechtotext.RecognitionOption) (speechtotext.Session, error) {
	options := speechtotext.NewOptions(append([]speechtotext.RecognitionOption{
		speechtotext.WithEncodingInfo(r.input.CaptureEncodingInfo()),
	}, opts...)...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return nil, speechtotext.ErrAlreadyStarted
	}

	s, err := r.openSession(ctx, options)
	if err != nil {
		return nil, err
	}
	r.active = s

	return s, nil
}

func (r *Recognizer) sessionEnded(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == s {
		r.active = nil
	}
}
