package gemini

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

//go:embed prompt/reaction.md
var reactionPromptRaw string

var reactionPromptTmpl = template.Must(template.New("reaction").Parse(reactionPromptRaw))

var (
	PassedFallbackReaction = game.ReactionResult{
		VoiceText:          "わーい！見せてくれてありがとう！ボクすっごく嬉しいよ！",
		IllustrationPrompt: "cute hedgehog mascot celebrating with sparkling eyes, joyful, vibrant colors",
		EmotionTag:         "excited",
	}
	FailedFallbackReaction = game.ReactionResult{
		VoiceText:          "ありがとう！でもボク、もうちょっと違うのが見たいな〜。",
		IllustrationPrompt: "cute hedgehog mascot looking hopeful with big eyes, gentle expression",
		EmotionTag:         "hopeful",
	}
)

// ReactionRenderer writes the character's spoken reaction to a judgement.
// Generation failures fall back to a canned reaction.
type ReactionRenderer struct {
	generator ContentGenerator
	model     string
}

type ReactionRendererOption func(*ReactionRenderer)

func WithReactionModel(model string) ReactionRendererOption {
	return func(r *ReactionRenderer) {
		if model != "" {
			r.model = model
		}
	}
}

func NewReactionRenderer(generator ContentGenerator, opts ...ReactionRendererOption) *ReactionRenderer {
	r := &ReactionRenderer{generator: generator, model: DefaultTextModel}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ReactionRenderer) Render(ctx context.Context, requestPrompt string, result game.JudgeResult) (game.ReactionResult, error) {
	ctx, span := tracer.Start(ctx, "gemini.render_reaction")
	defer span.End()
	span.SetAttributes(attribute.Bool("judge.passed", result.Passed))

	reaction, err := r.render(ctx, requestPrompt, result)
	if err != nil {
		span.RecordError(err)
		logger.Warn("reaction generation failed, using fallback", "error", err)
		if result.Passed {
			return PassedFallbackReaction, nil
		}
		return FailedFallbackReaction, nil
	}

	span.SetAttributes(attribute.String("reaction.emotion", reaction.EmotionTag))
	return reaction, nil
}

func (r *ReactionRenderer) render(ctx context.Context, requestPrompt string, result game.JudgeResult) (game.ReactionResult, error) {
	var buf bytes.Buffer
	if err := reactionPromptTmpl.Execute(&buf, map[string]any{
		"RequestPrompt": requestPrompt,
		"Passed":        result.Passed,
		"Matched":       strings.Join(result.MatchedObjects, "、"),
		"Reason":        result.Reason,
	}); err != nil {
		return game.ReactionResult{}, goerr.Wrap(err, "failed to execute reaction prompt template")
	}

	text, err := generateText(ctx, r.generator, r.model,
		[]*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType:   "application/json",
			ResponseJsonSchema: responseSchema(&game.ReactionResult{}),
		})
	if err != nil {
		return game.ReactionResult{}, err
	}

	var reaction game.ReactionResult
	if err := decodeJSON(text, &reaction); err != nil {
		return game.ReactionResult{}, err
	}
	if reaction.VoiceText == "" || reaction.IllustrationPrompt == "" || reaction.EmotionTag == "" {
		return game.ReactionResult{}, goerr.New("model returned an incomplete reaction", goerr.V("reaction", reaction))
	}
	return reaction, nil
}
