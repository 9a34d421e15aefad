package narrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/reality-quest/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrRealtimeUnavailable = errors.New("realtime voice unavailable")
	ErrRealtimeTimeout     = errors.New("realtime voice timeout")
	ErrConnectFailed       = errors.New("realtime voice connect failed")
	ErrNoAudio             = errors.New("realtime voice produced no audio")
)

type FallbackReason string

const (
	FallbackTimeout       FallbackReason = "timeout"
	FallbackUnavailable   FallbackReason = "unavailable"
	FallbackConnectFailed FallbackReason = "connect_failed"
)

// ClassifyFallback names why the realtime voice was given up on, judging by
// the last error it returned.
func ClassifyFallback(err error) FallbackReason {
	switch {
	case errors.Is(err, ErrRealtimeTimeout), errors.Is(err, context.DeadlineExceeded):
		return FallbackTimeout
	case errors.Is(err, ErrConnectFailed):
		return FallbackConnectFailed
	default:
		return FallbackUnavailable
	}
}

type speakStep int

const (
	stepRealtime speakStep = iota
	stepFallback
	stepPlayback
	stepDone
)

func (s speakStep) String() string {
	switch s {
	case stepRealtime:
		return "realtime"
	case stepFallback:
		return "fallback"
	case stepPlayback:
		return "playback"
	case stepDone:
		return "done"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

type speakCall struct {
	text string
	step speakStep

	attempt  int
	audio    []byte
	lastErr  error
	fellBack bool
}

func newSpeakCall(text string) *speakCall {
	return &speakCall{text: text, step: stepRealtime}
}

// run advances call until it is done. A closed narrator ends the call at the
// next step boundary.
func (n *Narrator) run(ctx context.Context, call *speakCall) {
	for call.step != stepDone {
		if n.closed.Load() {
			logger.Debug("narrator closed mid line", "step", call.step.String())
			return
		}

		switch call.step {
		case stepRealtime:
			call.step = n.realtimeStep(ctx, call)
		case stepFallback:
			call.step = n.fallbackStep(ctx, call)
		case stepPlayback:
			call.step = n.playbackStep(ctx, call)
		default:
			call.step = stepDone
		}
	}
}

func (n *Narrator) realtimeStep(ctx context.Context, call *speakCall) speakStep {
	if n.realtime == nil || n.output == nil {
		call.lastErr = ErrRealtimeUnavailable
		return stepFallback
	}

	call.attempt++
	pcm, err := n.collectRealtimeAudio(ctx, call.text, call.attempt)
	switch {
	case err != nil:
		call.lastErr = err
		logger.Warn("realtime voice attempt failed", "attempt", call.attempt, "error", err)
	case len(pcm) == 0:
		call.lastErr = ErrNoAudio
		logger.Warn("realtime voice returned no audio", "attempt", call.attempt)
	default:
		call.audio = pcm
		return stepPlayback
	}

	if call.attempt < n.realtimeAttempts {
		return stepRealtime
	}
	return stepFallback
}

func (n *Narrator) collectRealtimeAudio(ctx context.Context, text string, attempt int) (pcm []byte, err error) {
	ctx, span := tracer.Start(ctx, "narrator.realtime_attempt",
		trace.WithAttributes(attribute.Int("narrator.attempt", attempt)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("narrator.audio_bytes", len(pcm)))
		span.End()
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, n.realtimeTimeout)
	defer cancel()

	collector := &audioCollector{}
	ended := make(chan struct{})
	var endOnce sync.Once
	failed := make(chan error, 1)

	session, err := n.realtime.NewSpeechSession(attemptCtx,
		texttospeech.WithSpeechAudioCallback(collector.add),
		texttospeech.WithSpeechEndedCallback(func() { endOnce.Do(func() { close(ended) }) }),
		texttospeech.WithErrorCallback(func(err error) {
			select {
			case failed <- err:
			default:
			}
		}),
		texttospeech.WithEncodingInfo(n.output.EncodingInfo()),
	)
	if err != nil {
		if attemptCtx.Err() != nil {
			return nil, fmt.Errorf("%w after %s: %w", ErrRealtimeTimeout, n.realtimeTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.Debug("failed to close speech session", "error", closeErr)
		}
	}()

	if err := session.SendText(text); err != nil {
		return nil, fmt.Errorf("failed to send text: %w", err)
	}

	select {
	case <-ended:
		return collector.seal(), nil
	case err := <-failed:
		collector.seal()
		return nil, err
	case <-attemptCtx.Done():
		collector.seal()
		return nil, fmt.Errorf("%w after %s", ErrRealtimeTimeout, n.realtimeTimeout)
	}
}

func (n *Narrator) fallbackStep(ctx context.Context, call *speakCall) speakStep {
	call.fellBack = true
	reason := ClassifyFallback(call.lastErr)
	logger.Warn("falling back to synthetic voice", "reason", string(reason), "error", call.lastErr)
	if n.fallbacks != nil {
		n.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("narrator.fallback_reason", string(reason))))
	}

	ended := make(chan error, 1)
	if err := n.synthetic.Speak(ctx, call.text, func(err error) {
		select {
		case ended <- err:
		default:
		}
	}); err != nil {
		logger.Error("synthetic voice failed", "error", err)
		return stepDone
	}

	timer := time.NewTimer(n.syntheticTimeout)
	defer timer.Stop()

	select {
	case err := <-ended:
		if err != nil {
			logger.Warn("synthetic voice ended with error", "error", err)
		}
	case <-timer.C:
		logger.Warn("synthetic voice did not report its end", "timeout", n.syntheticTimeout.String())
	}
	return stepDone
}

func (n *Narrator) playbackStep(_ context.Context, call *speakCall) speakStep {
	if n.output.IsSuspended() {
		if err := n.output.Resume(); err != nil {
			logger.Error("failed to resume audio output", "error", err)
			return stepDone
		}
	}

	ended := make(chan struct{})
	var endOnce sync.Once
	if err := n.output.Play(call.audio, func() { endOnce.Do(func() { close(ended) }) }); err != nil {
		logger.Error("failed to play speech audio", "error", err)
		return stepDone
	}

	limit := n.output.EncodingInfo().Duration(len(call.audio)) + n.playbackGrace
	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case <-ended:
	case <-timer.C:
		logger.Warn("playback did not report its end", "limit", limit.String())
	}
	return stepDone
}

// audioCollector gathers chunks until sealed; chunks arriving from a session
// after its attempt ended are discarded.
type audioCollector struct {
	mu     sync.Mutex
	chunks []byte
	sealed bool
}

func (c *audioCollector) add(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return
	}
	c.chunks = append(c.chunks, chunk...)
}

func (c *audioCollector) seal() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
	return c.chunks
}
