package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GenericScene stands in for the photo when it cannot be described.
const GenericScene = "a cozy indoor scene with everyday objects"

const describeSceneInstruction = "Describe what is shown in this photo concisely in English for use as an image generation prompt. " +
	"Include: objects, colors, arrangement, and atmosphere. " +
	"Keep it to 2-3 sentences. Do not add any preamble or explanation."

// ScenePromptBuilder turns the accepted photo into an illustration prompt
// that puts the character into that scene.
type ScenePromptBuilder struct {
	generator ContentGenerator
	model     string
}

func NewScenePromptBuilder(generator ContentGenerator, model string) *ScenePromptBuilder {
	if model == "" {
		model = DefaultTextModel
	}
	return &ScenePromptBuilder{generator: generator, model: model}
}

func (b *ScenePromptBuilder) Build(ctx context.Context, imageBase64, emotionTag, requestPrompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "gemini.build_scene_prompt")
	defer span.End()

	scene, err := b.describe(ctx, imageBase64)
	if err != nil {
		span.RecordError(err)
		logger.Warn("scene description failed, using generic scene", "error", err)
		scene = GenericScene
	}

	return strings.Join([]string{
		CharacterBible,
		"Scene from the user's camera: " + scene,
		fmt.Sprintf("Gemie's emotion: %s. Gemie is reacting to what the user showed.", emotionTag),
		fmt.Sprintf("Context: The user showed this in response to Gemie's request: %q", requestPrompt),
		"Composition: Place Gemie in the foreground, naturally interacting with the scene.",
		"If food or drinks are shown, Gemie looks excited and reaches toward them with sparkling eyes.",
		"If objects are shown, Gemie curiously examines them with a tilted head.",
		"If scenery is shown, Gemie admires the view from a cute vantage point.",
		"Style: cute 2D illustration, warm colors, playful atmosphere, no text overlays.",
	}, " "), nil
}

func (b *ScenePromptBuilder) describe(ctx context.Context, imageBase64 string) (string, error) {
	image, err := imagePart(imageBase64)
	if err != nil {
		return "", err
	}

	return generateText(ctx, b.generator, b.model,
		[]*genai.Content{genai.NewContentFromParts([]*genai.Part{image, genai.NewPartFromText(describeSceneInstruction)}, genai.RoleUser)},
		nil)
}
