// Package typed is a speech recognizer fed by typed text instead of a
// microphone. Each submitted line is delivered as one final utterance.
package typed

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/koscakluka/reality-quest/core/speechtotext"
)

var ErrNotListening = errors.New("no recognition session is listening")

type Recognizer struct {
	mu     sync.Mutex
	active *session
}

func NewRecognizer() *Recognizer {
	return &Recognizer{}
}

func (r *Recognizer) Start(ctx context.Context, opts ...speechtotext.RecognitionOption) (speechtotext.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return nil, speechtotext.ErrAlreadyStarted
	}

	s := &session{recognizer: r, options: speechtotext.NewOptions(opts...), done: make(chan struct{})}
	r.active = s

	go func() {
		select {
		case <-ctx.Done():
			s.end()
		case <-s.done:
		}
	}()
	return s, nil
}

// Listening reports whether a session would receive a submitted line.
func (r *Recognizer) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Submit delivers text to the live session. A non-continuous session ends
// after its first utterance.
func (r *Recognizer) Submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	r.mu.Lock()
	s := r.active
	r.mu.Unlock()
	if s == nil {
		return ErrNotListening
	}

	s.options.ResultCallback(text)
	if !s.options.Continuous {
		s.end()
	}
	return nil
}

type session struct {
	recognizer *Recognizer
	options    speechtotext.RecognitionOptions
	endOnce    sync.Once
	done       chan struct{}
}

func (s *session) Stop() error {
	s.end()
	return nil
}

func (s *session) Abort() error {
	s.end()
	return nil
}

// end detaches the session before reporting it over, so the end callback
// may start the next session.
func (s *session) end() {
	s.endOnce.Do(func() {
		s.recognizer.mu.Lock()
		if s.recognizer.active == s {
			s.recognizer.active = nil
		}
		s.recognizer.mu.Unlock()
		close(s.done)
		s.options.EndCallback()
	})
}
