package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/reality-quest/core/game"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var ErrNothingToRetry = errors.New("nothing to retry")

// RetryOp names the pipeline that RetryFromError runs again.
type RetryOp int

const (
	RetryNone RetryOp = iota
	RetryPrepareNextRequest
	RetryHandleCapture
	RetryStartGame
)

func (op RetryOp) String() string {
	switch op {
	case RetryPrepareNextRequest:
		return "prepare_next_request"
	case RetryHandleCapture:
		return "handle_capture"
	case RetryStartGame:
		return "start_game"
	}
	return "none"
}

// FlowError is returned by a pipeline that moved the game into the error
// phase.
type FlowError struct {
	Reason string
	Op     RetryOp
	Err    error
}

func (e *FlowError) Error() string { return fmt.Sprintf("%s: %v", e.Reason, e.Err) }
func (e *FlowError) Unwrap() error { return e.Err }

type recoveryPoint struct {
	state game.State
	op    RetryOp
}

// time.Time only has unexported fields, which a deep copy would drop.
var copyTime = copier.TypeConverter{
	SrcType: time.Time{},
	DstType: time.Time{},
	Fn:      func(src any) (any, error) { return src.(time.Time), nil },
}

func snapshotState(state game.State) (game.State, error) {
	var snapshot game.State
	err := copier.CopyWithOption(&snapshot, &state, copier.Option{
		DeepCopy:   true,
		Converters: []copier.TypeConverter{copyTime},
	})
	if err != nil {
		return game.State{}, fmt.Errorf("failed to snapshot game state: %w", err)
	}
	return snapshot, nil
}

// handleFlowError keeps the checkpoint of the failed pipeline for
// RetryFromError and moves the game into the error phase.
func (o *Orchestrator) handleFlowError(ctx context.Context, reason string, cause error) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	point := o.checkpoint
	flowErr := &FlowError{Reason: reason, Op: point.op, Err: cause}

	span := trace.SpanFromContext(ctx)
	span.RecordError(flowErr)
	span.SetStatus(codes.Error, flowErr.Error())
	o.flowErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("retry_op", point.op.String()),
	))
	logger.Error("game flow failed", "reason", reason, "retry_op", point.op.String(), "error", cause)

	if point.op == RetryNone {
		o.recovery = nil
	} else {
		o.recovery = &point
	}

	o.dispatchLocked(game.NewErrorOccurredEvent(reason, o.now()))
	return flowErr
}

// rewind returns the checkpoint with the fields that background work keeps
// updating while a pipeline runs taken from current instead.
func rewind(current, checkpoint game.State) game.State {
	restored := checkpoint
	restored.Memories = current.Memories
	restored.Conversation = current.Conversation
	restored.Location = current.Location
	return restored
}

// RetryFromError restores the game progress from before the last failure and
// runs the failed pipeline again. Memories, the conversation and the location
// keep their current values. It returns ErrNothingToRetry outside the error
// phase or when no snapshot is kept.
func (o *Orchestrator) RetryFromError(ctx context.Context) error {
	o.pipelineMu.Lock()
	defer o.pipelineMu.Unlock()

	ctx, span := tracer.Start(ctx, "orchestrator.retry_from_error")
	defer span.End()

	o.stateMu.Lock()
	if o.state.Phase != game.PhaseError || o.recovery == nil {
		phase := o.state.Phase
		o.stateMu.Unlock()
		return fmt.Errorf("%w in phase %s", ErrNothingToRetry, phase)
	}
	point := *o.recovery
	o.recovery = nil

	restored := rewind(o.state, point.state)
	restored.UpdatedAt = o.now()
	o.commitLocked(restored, o.state)
	o.stateMu.Unlock()

	span.SetAttributes(attribute.String("orchestrator.retry_op", point.op.String()))
	logger.Info("retrying after error", "retry_op", point.op.String(), "phase", restored.Phase)

	var err error
	switch point.op {
	case RetryPrepareNextRequest:
		err = o.prepareNextRequest(ctx)
	case RetryHandleCapture:
		err = o.handleCapture(ctx)
	case RetryStartGame:
		err = o.startGame(ctx)
	}
	if err == nil {
		return nil
	}

	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return err
	}
	return o.handleFlowError(ctx, "retry failed", err)
}
