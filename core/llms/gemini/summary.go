package gemini

import (
	"context"
	"strings"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/koscakluka/reality-quest/core/memory"
	"google.golang.org/genai"
)

const maxSummaryRunes = 80

// MemorySummarizer writes the one-line diary entry stored with a memory.
type MemorySummarizer struct {
	generator ContentGenerator
	model     string
}

func NewMemorySummarizer(generator ContentGenerator, model string) *MemorySummarizer {
	if model == "" {
		model = DefaultTextModel
	}
	return &MemorySummarizer{generator: generator, model: model}
}

// Summarize falls back to memory.FallbackSummary when the model fails.
func (s *MemorySummarizer) Summarize(ctx context.Context, input game.SaveMemoryInput) string {
	ctx, span := tracer.Start(ctx, "gemini.summarize_memory")
	defer span.End()

	matched := strings.Join(input.MatchedObjects, "、")
	if matched == "" {
		matched = "何か素敵なもの"
	}

	prompt := strings.Join([]string{
		"あなたはペット育成ゲームの思い出要約アシスタントです。",
		"ジェミー君（小さなハリネズミのような生き物）が飼い主との楽しい体験を振り返るための1文（40文字以内）を日本語で作ってください。",
		"",
		"## 情報",
		"飼い主が見せてくれたもの: " + matched,
		"状況の補足: " + input.JudgeReason,
		"",
		"## ルール",
		"- ジェミー君の一人称「ボク」で、楽しかった体験として書く",
		"- 例: 「飼い主がおいしそうなクッキーを見せてくれたよ！」",
		"- 例: 「きれいな夕焼けを一緒に見たの、嬉しかったな〜」",
		"- 「合格」「判定」「条件」などのシステム用語は絶対に使わない",
	}, "\n")

	text, err := generateText(ctx, s.generator, s.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, nil)
	if err != nil {
		span.RecordError(err)
		logger.Warn("memory summary failed, using fallback", "error", err)
		return memory.FallbackSummary(input)
	}

	if runes := []rune(text); len(runes) > maxSummaryRunes {
		text = string(runes[:maxSummaryRunes])
	}
	return text
}
