// Package narrator voices the character's lines one at a time.
//
// Lines are queued in the order Speak is called and a single goroutine works
// through them, so two lines never overlap. Each line is first tried on the
// realtime voice and falls back to the synthetic voice when no audio comes
// back. Backend failures never reach the caller, they are logged and counted.
package narrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/reality-quest/core/audio"
	"github.com/koscakluka/reality-quest/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var ErrClosed = errors.New("narrator closed")

type Narrator struct {
	realtime  texttospeech.RealtimeVoice
	synthetic texttospeech.SyntheticVoice
	output    audio.Output

	realtimeAttempts int
	realtimeTimeout  time.Duration
	syntheticTimeout time.Duration
	playbackGrace    time.Duration
	queueSize        int

	fallbacks metric.Int64Counter

	queue     chan *speakTask
	closed    atomic.Bool
	closeOnce sync.Once
	stopping  chan struct{}
	stopped   chan struct{}
}

type speakTask struct {
	id         string
	text       string
	link       trace.Link
	enqueuedAt time.Time
	done       chan struct{}
}

func New(opts ...NarratorOption) *Narrator {
	n := &Narrator{
		realtimeAttempts: DefaultRealtimeAttempts,
		realtimeTimeout:  DefaultRealtimeTimeout,
		syntheticTimeout: DefaultSyntheticTimeout,
		playbackGrace:    DefaultPlaybackGrace,
		queueSize:        DefaultQueueSize,
		stopping:         make(chan struct{}),
		stopped:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.synthetic == nil {
		n.synthetic = texttospeech.Unsupported{Reason: "no synthetic voice configured"}
	}

	var err error
	if n.fallbacks, err = meter.Int64Counter("narrator.fallbacks",
		metric.WithDescription("Lines voiced by the synthetic voice because the realtime voice produced no audio"),
	); err != nil {
		logger.Warn("failed to create fallback counter", "error", err)
	}

	n.queue = make(chan *speakTask, n.queueSize)
	go n.consume()

	return n
}

// Speak queues text and waits until it has been voiced, dropped because the
// narrator closed, or ctx is done. Cancelling ctx stops the wait only, the
// line is still voiced when its turn comes.
func (n *Narrator) Speak(ctx context.Context, text string) error {
	if n == nil || n.closed.Load() {
		return ErrClosed
	}

	task := &speakTask{
		id:         uuid.NewString(),
		text:       text,
		link:       trace.LinkFromContext(ctx),
		enqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}

	select {
	case n.queue <- task:
	case <-n.stopping:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-task.done:
	case <-n.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Close stops accepting lines and releases the audio output. Lines still
// queued are dropped; the line being voiced stops after its current step.
func (n *Narrator) Close() error {
	if n == nil {
		return nil
	}

	var err error
	n.closeOnce.Do(func() {
		n.closed.Store(true)
		close(n.stopping)
		if n.output != nil {
			if closeErr := n.output.Close(); closeErr != nil {
				err = fmt.Errorf("failed to close audio output: %w", closeErr)
			}
		}
	})
	return err
}

func (n *Narrator) IsClosed() bool {
	return n == nil || n.closed.Load()
}

func (n *Narrator) consume() {
	defer close(n.stopped)

	for {
		select {
		case task := <-n.queue:
			n.runTask(task)
		case <-n.stopping:
			n.drain()
			return
		}
	}
}

func (n *Narrator) drain() {
	for {
		select {
		case task := <-n.queue:
			logger.Debug("dropping queued line", "task_id", task.id)
			close(task.done)
		default:
			return
		}
	}
}

func (n *Narrator) runTask(task *speakTask) {
	defer close(task.done)
	if n.closed.Load() {
		return
	}

	ctx, span := tracer.Start(context.Background(), "narrator.speak",
		trace.WithLinks(task.link),
		trace.WithAttributes(
			attribute.String("narrator.task_id", task.id),
			attribute.Int("narrator.text_length", len([]rune(task.text))),
			attribute.Int64("narrator.queue_wait_ms", time.Since(task.enqueuedAt).Milliseconds()),
		),
	)
	defer span.End()

	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("speak task panicked: %v", recovered)
			logger.Error("speak task panicked", "task_id", task.id, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	call := newSpeakCall(task.text)
	n.run(ctx, call)
	span.SetAttributes(
		attribute.Int("narrator.attempts", call.attempt),
		attribute.Bool("narrator.fallback", call.fellBack),
	)
}
