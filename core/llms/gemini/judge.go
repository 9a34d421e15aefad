package gemini

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

// MinImageLength is the shortest base64 frame worth sending to the model.
// Anything shorter is a failed capture.
const MinImageLength = 1000

//go:embed prompt/judge.md
var judgeSystemInstruction string

// Judge decides whether a photo satisfies a request. It is lenient with the
// model's output and never returns an error: failures become failed
// results that explain what went wrong.
type Judge struct {
	generator ContentGenerator
	model     string
}

type JudgeOption func(*Judge)

func WithJudgeModel(model string) JudgeOption {
	return func(j *Judge) {
		if model != "" {
			j.model = model
		}
	}
}

func NewJudge(generator ContentGenerator, opts ...JudgeOption) *Judge {
	j := &Judge{generator: generator, model: DefaultTextModel}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func failedJudgement(reason string) game.JudgeResult {
	return game.JudgeResult{
		Passed:         false,
		Reason:         reason,
		Confidence:     0,
		MatchedObjects: []string{},
		Safety:         game.SafetyUnknown,
	}
}

func (j *Judge) Evaluate(ctx context.Context, imageBase64 string, request game.Request) (game.JudgeResult, error) {
	ctx, span := tracer.Start(ctx, "gemini.judge")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", request.ID),
		attribute.Int("image.length", len(imageBase64)),
	)

	if len(imageBase64) < MinImageLength {
		logger.Warn("image too small to judge", "request_id", request.ID, "length", len(imageBase64))
		return failedJudgement("画像の取得に失敗しました"), nil
	}

	result, err := j.evaluate(ctx, imageBase64, request)
	if err != nil {
		span.RecordError(err)
		logger.Warn("judge failed", "request_id", request.ID, "model", j.model, "error", err)
		return failedJudgement(fmt.Sprintf("AIの判定エラー: %s (model=%s)", errorDetail(err), j.model)), nil
	}

	span.SetAttributes(attribute.Bool("judge.passed", result.Passed), attribute.Float64("judge.confidence", result.Confidence))
	logger.Info("judged capture",
		"request_id", request.ID,
		"passed", result.Passed,
		"confidence", result.Confidence,
		"matched_objects", result.MatchedObjects)
	return result, nil
}

func (j *Judge) evaluate(ctx context.Context, imageBase64 string, request game.Request) (game.JudgeResult, error) {
	image, err := imagePart(imageBase64)
	if err != nil {
		return game.JudgeResult{}, err
	}

	question := strings.Join([]string{
		"## ジェミー君の要望",
		"カテゴリ: " + string(request.Category),
		"セリフ: " + request.Prompt,
		"",
		"## 合格条件",
		request.AcceptanceCriteria,
		"",
		"## ヒント（参考情報）",
		request.HintPrompt,
		"",
		"上記の画像がジェミー君の要望を満たしているか判定してください。",
	}, "\n")

	text, err := generateText(ctx, j.generator, j.model,
		[]*genai.Content{genai.NewContentFromParts([]*genai.Part{image, genai.NewPartFromText(question)}, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(judgeSystemInstruction, genai.RoleUser),
			ResponseMIMEType:  "application/json",
		})
	if err != nil {
		return game.JudgeResult{}, err
	}

	return ParseJudgeResult(text)
}

// ParseJudgeResult reads a judgement the way models tend to write it:
// possibly fenced, with booleans and numbers as strings, confidence as a
// percentage and matchedObjects as a single string.
func ParseJudgeResult(text string) (game.JudgeResult, error) {
	var raw map[string]any
	if err := decodeJSON(text, &raw); err != nil {
		return game.JudgeResult{}, err
	}

	passed, err := parseBoolLike(raw["passed"])
	if err != nil {
		return game.JudgeResult{}, err
	}

	reason, _ := raw["reason"].(string)
	if reason == "" {
		return game.JudgeResult{}, goerr.New("judge reason is empty")
	}

	confidence, err := parseConfidenceLike(raw["confidence"])
	if err != nil {
		return game.JudgeResult{}, err
	}

	return game.JudgeResult{
		Passed:         passed,
		Reason:         reason,
		Confidence:     confidence,
		MatchedObjects: parseMatchedObjects(raw["matchedObjects"]),
		Safety:         parseSafety(raw["safety"]),
	}, nil
}

func parseBoolLike(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, goerr.New("passed must be boolean", goerr.V("passed", value))
}

func parseConfidenceLike(value any) (float64, error) {
	raw := math.NaN()
	switch v := value.(type) {
	case float64:
		raw = v
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			raw = parsed
		}
	}

	switch {
	case math.IsNaN(raw) || math.IsInf(raw, 0):
		return 0, goerr.New("confidence must be a number", goerr.V("confidence", value))
	case raw >= 0 && raw <= 1:
		return raw, nil
	case raw > 1 && raw <= 100:
		return raw / 100, nil
	}
	return 0, goerr.New("confidence out of range", goerr.V("confidence", raw))
}

func parseMatchedObjects(value any) []string {
	matched := []string{}
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				matched = append(matched, s)
			}
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			matched = append(matched, s)
		}
	}
	return matched
}

func parseSafety(value any) game.Safety {
	switch s, _ := value.(string); game.Safety(s) {
	case game.SafetySafe, game.SafetyUnsafe, game.SafetyUnknown:
		return game.Safety(s)
	}
	return game.SafetyUnknown
}

// errorDetail is err's message, or a placeholder when it has none.
func errorDetail(err error) string {
	if message := strings.TrimSpace(err.Error()); message != "" {
		return message
	}
	return "unknown error"
}
