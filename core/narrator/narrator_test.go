package narrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/reality-quest/core/audio"
	"github.com/koscakluka/reality-quest/core/texttospeech"
)

type realtimeBehaviour int

const (
	realtimeAudio realtimeBehaviour = iota
	realtimeEmpty
	realtimeHang
	realtimeConnectError
	realtimeSessionError
	realtimePanic
)

type stubRealtimeVoice struct {
	mu         sync.Mutex
	behaviours []realtimeBehaviour
	sessions   int
	texts      []string
	delay      time.Duration
}

func (v *stubRealtimeVoice) NewSpeechSession(_ context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechSession, error) {
	v.mu.Lock()
	behaviour := realtimeAudio
	if v.sessions < len(v.behaviours) {
		behaviour = v.behaviours[v.sessions]
	}
	v.sessions++
	v.mu.Unlock()

	switch behaviour {
	case realtimeConnectError:
		return nil, errors.New("dial refused")
	case realtimePanic:
		panic("backend exploded")
	}

	return &stubSpeechSession{voice: v, behaviour: behaviour, options: texttospeech.NewOptions(opts...)}, nil
}

func (v *stubRealtimeVoice) sessionCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sessions
}

type stubSpeechSession struct {
	voice     *stubRealtimeVoice
	behaviour realtimeBehaviour
	options   texttospeech.TextToSpeechOptions
	closed    atomic.Bool
}

func (s *stubSpeechSession) SendText(text string) error {
	s.voice.mu.Lock()
	s.voice.texts = append(s.voice.texts, text)
	delay := s.voice.delay
	s.voice.mu.Unlock()

	go func() {
		time.Sleep(delay)
		switch s.behaviour {
		case realtimeAudio:
			s.options.SpeechAudioCallback([]byte(text))
			s.options.SpeechEndedCallback()
		case realtimeEmpty:
			s.options.SpeechEndedCallback()
		case realtimeSessionError:
			s.options.ErrorCallback(errors.New("socket dropped"))
		}
	}()
	return nil
}

func (s *stubSpeechSession) Close() error {
	s.closed.Store(true)
	return nil
}

type stubSyntheticVoice struct {
	mu       sync.Mutex
	texts    []string
	silent   bool
	startErr error
}

func (v *stubSyntheticVoice) Speak(_ context.Context, text string, onEnded func(error)) error {
	if v.startErr != nil {
		return v.startErr
	}
	v.mu.Lock()
	v.texts = append(v.texts, text)
	v.mu.Unlock()
	if !v.silent {
		go onEnded(nil)
	}
	return nil
}

func (v *stubSyntheticVoice) spoken() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.texts...)
}

type stubOutput struct {
	mu        sync.Mutex
	suspended bool
	resumed   int
	played    []string
	silent    bool
	closed    int
}

var _ audio.Output = (*stubOutput)(nil)

func (o *stubOutput) EncodingInfo() audio.EncodingInfo { return audio.GetSpeechEncodingInfo() }

func (o *stubOutput) IsSuspended() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.suspended
}

func (o *stubOutput) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.suspended = false
	o.resumed++
	return nil
}

func (o *stubOutput) Play(pcm []byte, onEnded func()) error {
	o.mu.Lock()
	o.played = append(o.played, string(pcm))
	silent := o.silent
	o.mu.Unlock()
	if !silent {
		go onEnded()
	}
	return nil
}

func (o *stubOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
	return nil
}

func (o *stubOutput) playedLines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.played...)
}

func newTestNarrator(realtime texttospeech.RealtimeVoice, synthetic texttospeech.SyntheticVoice, output audio.Output, opts ...NarratorOption) *Narrator {
	base := []NarratorOption{
		WithSyntheticVoice(synthetic),
		WithRealtimeTimeout(50 * time.Millisecond),
		WithSyntheticTimeout(50 * time.Millisecond),
		WithPlaybackGrace(50 * time.Millisecond),
	}
	if realtime != nil {
		base = append(base, WithRealtimeVoice(realtime))
	}
	if output != nil {
		base = append(base, WithAudioOutput(output))
	}
	return New(append(base, opts...)...)
}

func speakWithin(t *testing.T, n *Narrator, text string, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := n.Speak(ctx, text); err != nil {
		t.Fatalf("unexpected speak error for %q: %v", text, err)
	}
}

func TestSpeakPlaysRealtimeAudio(t *testing.T) {
	realtime := &stubRealtimeVoice{}
	synthetic := &stubSyntheticVoice{}
	output := &stubOutput{suspended: true}
	n := newTestNarrator(realtime, synthetic, output)
	defer n.Close()

	speakWithin(t, n, "こんにちは", time.Second)

	if got := output.playedLines(); len(got) != 1 || got[0] != "こんにちは" {
		t.Fatalf("expected realtime audio to be played once, got %v", got)
	}
	if output.resumed != 1 {
		t.Fatalf("expected suspended output to be resumed once, got %d", output.resumed)
	}
	if len(synthetic.spoken()) != 0 {
		t.Fatalf("expected no synthetic fallback, got %v", synthetic.spoken())
	}
}

func TestSpeakKeepsLinesInOrder(t *testing.T) {
	realtime := &stubRealtimeVoice{delay: 10 * time.Millisecond}
	output := &stubOutput{}
	n := newTestNarrator(realtime, &stubSyntheticVoice{}, output)
	defer n.Close()

	var wg sync.WaitGroup
	lines := []string{"one", "two", "three", "four"}
	for i, line := range lines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.Speak(context.Background(), line); err != nil {
				t.Errorf("unexpected speak error for %q: %v", line, err)
			}
		}()
		waitForCondition(t, time.Second, fmt.Sprintf("line %d enqueued", i), func() bool {
			return realtime.sessionCount()+len(n.queue) > i
		})
	}
	wg.Wait()

	got := output.playedLines()
	if len(got) != len(lines) {
		t.Fatalf("expected %d lines played, got %v", len(lines), got)
	}
	for i := range lines {
		if got[i] != lines[i] {
			t.Fatalf("expected lines in call order %v, got %v", lines, got)
		}
	}
}

func TestSpeakRetriesEmptyAudioOnce(t *testing.T) {
	realtime := &stubRealtimeVoice{behaviours: []realtimeBehaviour{realtimeEmpty, realtimeAudio}}
	synthetic := &stubSyntheticVoice{}
	output := &stubOutput{}
	n := newTestNarrator(realtime, synthetic, output)
	defer n.Close()

	speakWithin(t, n, "again", time.Second)

	if realtime.sessionCount() != 2 {
		t.Fatalf("expected two realtime attempts, got %d", realtime.sessionCount())
	}
	if got := output.playedLines(); len(got) != 1 || got[0] != "again" {
		t.Fatalf("expected second attempt audio to be played, got %v", got)
	}
	if len(synthetic.spoken()) != 0 {
		t.Fatalf("expected no fallback, got %v", synthetic.spoken())
	}
}

func TestSpeakFallsBackAfterTimeouts(t *testing.T) {
	realtime := &stubRealtimeVoice{behaviours: []realtimeBehaviour{realtimeHang, realtimeHang}}
	synthetic := &stubSyntheticVoice{}
	output := &stubOutput{}
	n := newTestNarrator(realtime, synthetic, output)
	defer n.Close()

	start := time.Now()
	speakWithin(t, n, "fallback", time.Second)

	if realtime.sessionCount() != 2 {
		t.Fatalf("expected two realtime attempts, got %d", realtime.sessionCount())
	}
	if got := synthetic.spoken(); len(got) != 1 || got[0] != "fallback" {
		t.Fatalf("expected synthetic fallback, got %v", got)
	}
	if len(output.playedLines()) != 0 {
		t.Fatalf("expected nothing played on the output, got %v", output.playedLines())
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("expected both attempts to time out before falling back, took %s", elapsed)
	}
}

func TestSpeakFallsBackWithoutRealtimeVoice(t *testing.T) {
	synthetic := &stubSyntheticVoice{}
	n := newTestNarrator(nil, synthetic, nil)
	defer n.Close()

	speakWithin(t, n, "local only", time.Second)

	if got := synthetic.spoken(); len(got) != 1 || got[0] != "local only" {
		t.Fatalf("expected synthetic voice to be used, got %v", got)
	}
}

func TestSpeakTerminatesWhenEverythingHangs(t *testing.T) {
	realtime := &stubRealtimeVoice{behaviours: []realtimeBehaviour{realtimeHang, realtimeHang}}
	synthetic := &stubSyntheticVoice{silent: true}
	n := newTestNarrator(realtime, synthetic, &stubOutput{})
	defer n.Close()

	speakWithin(t, n, "stuck", time.Second)
}

func TestSpeakTerminatesWhenPlaybackNeverEnds(t *testing.T) {
	output := &stubOutput{silent: true}
	n := newTestNarrator(&stubRealtimeVoice{}, &stubSyntheticVoice{}, output)
	defer n.Close()

	speakWithin(t, n, "quiet device", time.Second)

	if len(output.playedLines()) != 1 {
		t.Fatalf("expected audio to be handed to the device, got %v", output.playedLines())
	}
}

func TestSpeakIgnoresUnsupportedSyntheticVoice(t *testing.T) {
	n := New(
		WithRealtimeVoice(&stubRealtimeVoice{behaviours: []realtimeBehaviour{realtimeConnectError, realtimeConnectError}}),
		WithAudioOutput(&stubOutput{}),
		WithRealtimeTimeout(50*time.Millisecond),
	)
	defer n.Close()

	if !texttospeech.IsUnsupported(n.synthetic) {
		t.Fatalf("expected missing synthetic voice to resolve to the unsupported variant")
	}
	speakWithin(t, n, "nobody hears this", time.Second)
}

func TestSpeakRecoversFromBackendPanic(t *testing.T) {
	realtime := &stubRealtimeVoice{behaviours: []realtimeBehaviour{realtimePanic}}
	output := &stubOutput{}
	n := newTestNarrator(realtime, &stubSyntheticVoice{}, output)
	defer n.Close()

	speakWithin(t, n, "boom", time.Second)
	speakWithin(t, n, "after", time.Second)

	if got := output.playedLines(); len(got) != 1 || got[0] != "after" {
		t.Fatalf("expected queue to keep working after a panic, got %v", got)
	}
}

func TestCloseDropsQueuedLines(t *testing.T) {
	realtime := &stubRealtimeVoice{delay: 30 * time.Millisecond}
	output := &stubOutput{}
	n := newTestNarrator(realtime, &stubSyntheticVoice{}, output, WithRealtimeTimeout(time.Second))

	results := make(chan error, 3)
	for _, line := range []string{"first", "second", "third"} {
		go func() { results <- n.Speak(context.Background(), line) }()
	}
	waitForCondition(t, time.Second, "first line started", func() bool {
		return realtime.sessionCount() > 0
	})

	if err := n.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("expected repeated close to be ignored, got %v", err)
	}

	for range 3 {
		select {
		case err := <-results:
			if err != nil && !errors.Is(err, ErrClosed) {
				t.Fatalf("unexpected speak result: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("speak did not return after close")
		}
	}

	if output.closed != 1 {
		t.Fatalf("expected output to be closed once, got %d", output.closed)
	}
	if realtime.sessionCount() != 1 {
		t.Fatalf("expected queued lines to be dropped, got %d sessions", realtime.sessionCount())
	}
	if err := n.Speak(context.Background(), "late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestSpeakReturnsContextError(t *testing.T) {
	realtime := &stubRealtimeVoice{behaviours: []realtimeBehaviour{realtimeHang, realtimeHang}}
	n := newTestNarrator(realtime, &stubSyntheticVoice{}, &stubOutput{}, WithRealtimeTimeout(time.Second))
	defer n.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := n.Speak(ctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClassifyFallback(t *testing.T) {
	tests := []struct {
		err  error
		want FallbackReason
	}{
		{fmt.Errorf("%w after 30s", ErrRealtimeTimeout), FallbackTimeout},
		{context.DeadlineExceeded, FallbackTimeout},
		{fmt.Errorf("%w: dial refused", ErrConnectFailed), FallbackConnectFailed},
		{ErrRealtimeUnavailable, FallbackUnavailable},
		{ErrNoAudio, FallbackUnavailable},
		{errors.New("socket dropped"), FallbackUnavailable},
	}

	for _, test := range tests {
		if got := ClassifyFallback(test.err); got != test.want {
			t.Fatalf("ClassifyFallback(%v) = %q, want %q", test.err, got, test.want)
		}
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
