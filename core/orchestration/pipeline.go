package orchestration

import (
	"context"
	"fmt"

	"github.com/koscakluka/reality-quest/core/game"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// PrepareNextRequest generates the next request and speaks it. It only runs
// while listening or requesting.
func (o *Orchestrator) PrepareNextRequest(ctx context.Context) error {
	o.pipelineMu.Lock()
	defer o.pipelineMu.Unlock()
	return o.prepareNextRequest(ctx)
}

func (o *Orchestrator) prepareNextRequest(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "orchestrator.prepare_next_request")
	defer span.End()

	o.beginRetryable(RetryPrepareNextRequest)

	state := o.State()
	if state.Phase != game.PhaseListening && state.Phase != game.PhaseRequesting {
		logger.Warn("skipping request preparation", "phase", state.Phase)
		return nil
	}

	o.refreshLocation(ctx)

	request, err := o.requestGenerator.Generate(ctx, o.State())
	if err != nil {
		return o.handleFlowError(ctx, "request generation failed", err)
	}
	span.SetAttributes(
		attribute.String("request.id", request.ID),
		attribute.String("request.category", string(request.Category)),
	)

	o.Dispatch(game.NewRequestReadyEvent(request, o.now()))
	o.speakIfAvailable(ctx, request.Prompt)
	o.Dispatch(game.NewRequestSpokenEvent(o.now()))
	return nil
}

// refreshLocation stores the player's position when it can be had. It is
// kept out of persisted state and does not notify the presentation.
func (o *Orchestrator) refreshLocation(ctx context.Context) {
	if o.locationService == nil || !o.locationService.IsAvailable() {
		return
	}

	location, err := o.locationService.CurrentPosition(ctx)
	if err != nil {
		logger.Warn("failed to get current position", "error", err)
		return
	}

	o.stateMu.Lock()
	o.state.Location = &location
	o.stateMu.Unlock()
}

// HandleCapture judges the current camera frame against the current request.
// An accepted photo is celebrated, illustrated and saved as a memory before
// the next request is prepared.
func (o *Orchestrator) HandleCapture(ctx context.Context) error {
	o.pipelineMu.Lock()
	defer o.pipelineMu.Unlock()
	return o.handleCapture(ctx)
}

func (o *Orchestrator) handleCapture(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "orchestrator.handle_capture")
	defer span.End()

	o.beginRetryable(RetryHandleCapture)

	state := o.State()
	capture := o.currentStack().Capture
	if state.Phase != game.PhaseWaitingCapture || capture == nil || state.CurrentRequest == nil {
		logger.Warn("skipping capture",
			"phase", state.Phase,
			"has_capture", capture != nil,
			"has_request", state.CurrentRequest != nil)
		return nil
	}
	request := *state.CurrentRequest
	span.SetAttributes(attribute.String("request.id", request.ID))

	frame, err := capture.Frame(ctx)
	if err != nil {
		return o.handleFlowError(ctx, "capture failed", err)
	}
	capturedAt := o.now()
	o.Dispatch(game.NewCaptureSubmitEvent(frame, capturedAt))

	result, err := o.judge.Evaluate(ctx, frame, request)
	if err != nil {
		return o.handleFlowError(ctx, "judge failed", err)
	}
	span.SetAttributes(
		attribute.Bool("judge.passed", result.Passed),
		attribute.Float64("judge.confidence", result.Confidence),
	)

	if !result.Passed {
		o.Dispatch(game.NewJudgeFailedEvent(result, o.now()))
		o.speakIfAvailable(ctx, request.HintPrompt)
		return nil
	}

	o.Dispatch(game.NewJudgePassedEvent(result, o.now()))
	if err := o.react(ctx, frame, request, result); err != nil {
		return o.handleFlowError(ctx, "reaction failed", err)
	}

	o.saveMemory(ctx, game.SaveMemoryInput{
		ImageBase64:     frame,
		SourceRequestID: request.ID,
		JudgeReason:     result.Reason,
		MatchedObjects:  result.MatchedObjects,
		CapturedAt:      capturedAt,
	})

	return o.prepareNextRequest(ctx)
}

func (o *Orchestrator) react(ctx context.Context, frame string, request game.Request, result game.JudgeResult) error {
	o.playEffect(ctx, SealBreakEffect)

	reaction, err := o.reactionRenderer.Render(ctx, request.Prompt, result)
	if err != nil {
		return fmt.Errorf("failed to render reaction: %w", err)
	}

	scenePrompt, err := o.scenePromptBuilder.Build(ctx, frame, reaction.EmotionTag, request.Prompt)
	if err != nil {
		return fmt.Errorf("failed to build scene prompt: %w", err)
	}

	illustrationURL, err := o.illustrationService.Generate(ctx, scenePrompt, "")
	if err != nil {
		return fmt.Errorf("failed to generate illustration: %w", err)
	}

	o.speakIfAvailable(ctx, reaction.VoiceText)
	o.Dispatch(game.NewReactionDoneEvent(reaction, illustrationURL, o.now()))
	return nil
}

func (o *Orchestrator) playEffect(ctx context.Context, effect string) {
	if o.effectPlayer == nil {
		return
	}
	if err := o.effectPlayer.Play(ctx, effect); err != nil {
		logger.Warn("failed to play effect", "effect", effect, "error", err)
	}
}

func (o *Orchestrator) saveMemory(ctx context.Context, input game.SaveMemoryInput) {
	if o.memoryAPI == nil {
		return
	}

	memory, err := o.memoryAPI.SaveMemory(ctx, input)
	if err != nil {
		logger.Warn("failed to save memory", "request_id", input.SourceRequestID, "error", err)
		return
	}
	o.Dispatch(game.NewMemorySavedEvent(memory, o.now()))
}

// StartGame starts a session from the menu or the error phase. The
// conversation stack is built when there is none; failing to build it moves
// the game into the error phase like any other pipeline failure.
func (o *Orchestrator) StartGame(ctx context.Context) error {
	o.pipelineMu.Lock()
	defer o.pipelineMu.Unlock()

	if phase := o.State().Phase; phase != game.PhaseMenu && phase != game.PhaseError {
		logger.Warn("game already running", "phase", phase)
		return nil
	}
	return o.startGame(ctx)
}

func (o *Orchestrator) startGame(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "orchestrator.start_game")
	defer span.End()

	o.beginRetryable(RetryStartGame)
	o.Dispatch(game.NewStartAREvent(o.now()))

	if err := o.InitializeConversationStack(ctx); err != nil {
		return o.handleFlowError(ctx, "conversation stack failed", err)
	}

	if voiceChat := o.currentStack().VoiceChat; voiceChat != nil {
		voiceChat.Start()
	}
	o.loadMemories(ctx)

	return o.prepareNextRequest(ctx)
}

func (o *Orchestrator) loadMemories(ctx context.Context) {
	if o.memoryAPI == nil {
		return
	}

	o.background.Add(1)
	go func() {
		defer o.background.Done()
		o.fetchMemories(ctx)
	}()
}

func (o *Orchestrator) fetchMemories(ctx context.Context) {
	memories, err := o.memoryAPI.ListMemories(ctx)
	if err != nil {
		logger.Warn("failed to load memories", "error", err)
		return
	}
	o.Dispatch(game.NewMemoryListLoadedEvent(memories, o.now()))
}

// StopGame releases the session's resources and returns to the menu. It does
// not wait for a running pipeline; anything that pipeline still dispatches is
// ignored in the menu. Calling it twice is harmless.
func (o *Orchestrator) StopGame(ctx context.Context) error {
	_, span := tracer.Start(ctx, "orchestrator.stop_game")
	defer span.End()

	err := o.teardown()
	if err != nil {
		recordSpanError(span, err)
		logger.Warn("failed to release conversation stack", "error", err)
	}

	o.updateConversationState(func(c *game.ConversationState) {
		c.IsLiveConnected = false
		c.IsListening = false
		c.IsSpeaking = false
	})
	o.moveToMenu()

	if err != nil {
		return fmt.Errorf("game stopped with errors: %w", err)
	}
	return nil
}

// BackToMenu is StopGame under the name the menu button uses.
func (o *Orchestrator) BackToMenu(ctx context.Context) error {
	return o.StopGame(ctx)
}
