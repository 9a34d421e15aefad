package gemini

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

const DefaultAvatarTimeout = 20 * time.Second

//go:embed prompt/avatar.md
var avatarSystemInstruction string

// AvatarDecision says whether something the player said is worth a new
// portrait of the character, and what the portrait should show.
type AvatarDecision struct {
	ShouldGenerate bool    `json:"shouldGenerate"`
	Prompt         *string `json:"prompt"`
}

// AvatarAgent keeps the character's portrait in step with the conversation.
type AvatarAgent struct {
	generator  ContentGenerator
	textModel  string
	imageModel string
	timeout    time.Duration
}

type AvatarOption func(*AvatarAgent)

func WithAvatarTextModel(model string) AvatarOption {
	return func(a *AvatarAgent) {
		if model != "" {
			a.textModel = model
		}
	}
}

func WithAvatarImageModel(model string) AvatarOption {
	return func(a *AvatarAgent) {
		if model != "" {
			a.imageModel = model
		}
	}
}

func WithAvatarTimeout(timeout time.Duration) AvatarOption {
	return func(a *AvatarAgent) { a.timeout = timeout }
}

func NewAvatarAgent(generator ContentGenerator, opts ...AvatarOption) *AvatarAgent {
	a := &AvatarAgent{
		generator:  generator,
		textModel:  DefaultTextModel,
		imageModel: DefaultImageModel,
		timeout:    DefaultAvatarTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Decide never fails; any problem means no new portrait. imageBase64 is the
// current camera frame and may be empty.
func (a *AvatarAgent) Decide(ctx context.Context, transcript, imageBase64 string) AvatarDecision {
	ctx, span := tracer.Start(ctx, "gemini.decide_avatar")
	defer span.End()

	decision, err := a.decide(ctx, transcript, imageBase64)
	if err != nil {
		span.RecordError(err)
		logger.Warn("avatar decision failed", "error", err)
		return AvatarDecision{}
	}
	span.SetAttributes(attribute.Bool("avatar.should_generate", decision.ShouldGenerate))
	return decision
}

func (a *AvatarAgent) decide(ctx context.Context, transcript, imageBase64 string) (AvatarDecision, error) {
	var parts []*genai.Part
	if imageBase64 != "" {
		image, err := imagePart(imageBase64)
		if err != nil {
			return AvatarDecision{}, err
		}
		parts = append(parts, image, genai.NewPartFromText("カメラに写っているものも考えに入れてください。\n\n飼い主の発話: "+transcript))
	} else {
		parts = append(parts, genai.NewPartFromText("飼い主の発話: "+transcript))
	}

	text, err := generateText(ctx, a.generator, a.textModel,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(avatarSystemInstruction, genai.RoleUser),
			ResponseMIMEType:  "application/json",
		})
	if err != nil {
		return AvatarDecision{}, err
	}

	var decision AvatarDecision
	if err := decodeJSON(text, &decision); err != nil {
		return AvatarDecision{}, err
	}
	if !decision.ShouldGenerate || decision.Prompt == nil || strings.TrimSpace(*decision.Prompt) == "" {
		return AvatarDecision{}, nil
	}
	return decision, nil
}

// Generate draws a portrait for situation. Unlike IllustrationService it has
// no fallback picture: on error the caller keeps the portrait it has.
func (a *AvatarAgent) Generate(ctx context.Context, situation, imageBase64 string) (string, error) {
	ctx, span := tracer.Start(ctx, "gemini.generate_avatar")
	defer span.End()

	parts := make([]*genai.Part, 0, 2)
	if imageBase64 != "" {
		image, err := imagePart(imageBase64)
		if err != nil {
			span.RecordError(err)
			return "", err
		}
		parts = append(parts, image)
	}
	parts = append(parts, genai.NewPartFromText(AvatarPrompt(situation)))

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.generator.GenerateContent(ctx, a.imageModel,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}})
	if err != nil {
		err = goerr.Wrap(err, "failed to generate avatar", goerr.V("model", a.imageModel))
		span.RecordError(err)
		return "", err
	}

	dataURL, _, ok := imageReply(resp)
	if !ok {
		err := goerr.New("no image in response", goerr.V("model", a.imageModel))
		span.RecordError(err)
		return "", err
	}
	return dataURL, nil
}

func AvatarPrompt(situation string) string {
	return strings.Join([]string{
		CharacterBible,
		"Situation: " + situation,
		"Draw a small avatar-style portrait of Gemie reacting to this situation.",
		"Composition: close-up of the face and upper body, fits a circular crop, plain background.",
		"Style: cute 2D illustration, expressive face, warm colors.",
	}, " ")
}
