package cli

import (
	"context"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/reality-quest/core/game"
	"github.com/koscakluka/reality-quest/core/llms/gemini"
	"github.com/koscakluka/reality-quest/internal/tui"
)

// artist draws in the background while the player talks: a new portrait
// when something said is worth drawing, and the photo of the memory being
// talked about during recall. Drawings go to send.
type artist struct {
	ctx    context.Context
	cancel context.CancelFunc

	avatars  *gemini.AvatarAgent
	memories *gemini.MemoryIllustrator
	frame    func(ctx context.Context) string
	send     func(tea.Msg)

	drawingAvatar atomic.Bool
	// memorySeq drops drawings of a memory that is no longer talked about.
	memorySeq atomic.Uint64
	wg        sync.WaitGroup
}

func newArtist(ctx context.Context, models gemini.ContentGenerator, cfg artistConfig, frame func(context.Context) string, send func(tea.Msg)) *artist {
	ctx, cancel := context.WithCancel(ctx)
	return &artist{
		ctx:    ctx,
		cancel: cancel,
		avatars: gemini.NewAvatarAgent(models,
			gemini.WithAvatarTextModel(cfg.textModel),
			gemini.WithAvatarImageModel(cfg.imageModel)),
		memories: gemini.NewMemoryIllustrator(models, gemini.WithMemoryIllustrationModel(cfg.imageModel)),
		frame:    frame,
		send:     send,
	}
}

type artistConfig struct {
	textModel  string
	imageModel string
}

// userSpoke draws at most one portrait at a time; lines spoken meanwhile are
// not drawn.
func (r *artist) userSpoke(transcript string) {
	logger.Info("user spoke", "transcript", transcript)
	if !r.drawingAvatar.CompareAndSwap(false, true) {
		logger.Debug("avatar still being drawn", "transcript", transcript)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.drawingAvatar.Store(false)

		frame := r.frame(r.ctx)
		decision := r.avatars.Decide(r.ctx, transcript, frame)
		if !decision.ShouldGenerate {
			return
		}
		url, err := r.avatars.Generate(r.ctx, *decision.Prompt, frame)
		if err != nil {
			logger.Warn("failed to draw avatar", "error", err)
			return
		}
		r.send(tui.AvatarMsg{ImageURL: url})
	}()
}

// memoryDiscussed shows the memory's summary right away and its drawing once
// it is ready. The saved photo stands in when drawing fails.
func (r *artist) memoryDiscussed(memory game.MemoryItem) {
	seq := r.memorySeq.Add(1)
	r.send(tui.MemoryIllustrationMsg{Caption: memory.Summary})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		msg := tui.MemoryIllustrationMsg{ImageURL: memory.ImageURL, Caption: memory.Summary}
		result, err := r.memories.Illustrate(r.ctx, memory)
		if err != nil {
			logger.Warn("failed to illustrate memory", "memory_id", memory.ID, "error", err)
		} else {
			msg = tui.MemoryIllustrationMsg{ImageURL: result.ImageURL, Caption: result.Caption}
		}

		if r.memorySeq.Load() == seq {
			r.send(msg)
		}
	}()
}

func (r *artist) Wait() {
	r.wg.Wait()
}

// Close stops drawings in progress and waits for them.
func (r *artist) Close() {
	r.cancel()
	r.wg.Wait()
}
