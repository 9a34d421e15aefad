package gemini

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

const (
	DefaultMemoryCaption = "ジェミー君との思い出"

	maxMemoryImageBytes = 20 << 20
)

// MemoryIllustration is a drawing of the character placed into the photo of
// a memory.
type MemoryIllustration struct {
	ImageURL string
	Caption  string
}

// MemoryIllustrator redraws a saved photo with the character in it. Photos
// are read from data URLs directly and fetched over HTTP otherwise.
type MemoryIllustrator struct {
	generator  ContentGenerator
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

type MemoryIllustratorOption func(*MemoryIllustrator)

func WithMemoryIllustrationModel(model string) MemoryIllustratorOption {
	return func(m *MemoryIllustrator) {
		if model != "" {
			m.model = model
		}
	}
}

func WithMemoryIllustrationTimeout(timeout time.Duration) MemoryIllustratorOption {
	return func(m *MemoryIllustrator) { m.timeout = timeout }
}

func WithMemoryImageClient(httpClient *http.Client) MemoryIllustratorOption {
	return func(m *MemoryIllustrator) { m.httpClient = httpClient }
}

func NewMemoryIllustrator(generator ContentGenerator, opts ...MemoryIllustratorOption) *MemoryIllustrator {
	m := &MemoryIllustrator{
		generator:  generator,
		model:      DefaultImageModel,
		timeout:    DefaultIllustrationTimeout,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryIllustrator) Illustrate(ctx context.Context, memory game.MemoryItem) (MemoryIllustration, error) {
	ctx, span := tracer.Start(ctx, "gemini.illustrate_memory")
	defer span.End()
	span.SetAttributes(attribute.String("memory.id", memory.ID))

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	photo, err := m.loadPhoto(ctx, memory.ImageURL)
	if err != nil {
		span.RecordError(err)
		return MemoryIllustration{}, err
	}
	image, err := imagePart(photo)
	if err != nil {
		span.RecordError(err)
		return MemoryIllustration{}, err
	}

	resp, err := m.generator.GenerateContent(ctx, m.model,
		[]*genai.Content{genai.NewContentFromParts(
			[]*genai.Part{image, genai.NewPartFromText(MemoryIllustrationPrompt(memory.Summary, memory.EmotionTag))},
			genai.RoleUser)},
		&genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}})
	if err != nil {
		err = goerr.Wrap(err, "failed to illustrate memory", goerr.V("model", m.model), goerr.V("memory_id", memory.ID))
		span.RecordError(err)
		return MemoryIllustration{}, err
	}

	dataURL, texts, ok := imageReply(resp)
	if !ok {
		err := goerr.New("no image in response", goerr.V("model", m.model), goerr.V("memory_id", memory.ID))
		span.RecordError(err)
		return MemoryIllustration{}, err
	}

	caption := strings.Join(texts, " ")
	if caption == "" {
		caption = DefaultMemoryCaption
	}
	return MemoryIllustration{ImageURL: dataURL, Caption: caption}, nil
}

func (m *MemoryIllustrator) loadPhoto(ctx context.Context, imageURL string) (string, error) {
	switch {
	case strings.HasPrefix(imageURL, "data:"):
		return imageURL, nil
	case imageURL == "":
		return "", goerr.New("memory has no photo")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create photo request", goerr.V("url", imageURL))
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", goerr.Wrap(err, "failed to fetch memory photo", goerr.V("url", imageURL))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", goerr.New("unexpected photo response", goerr.V("url", imageURL), goerr.V("status", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMemoryImageBytes))
	if err != nil {
		return "", goerr.Wrap(err, "failed to read memory photo", goerr.V("url", imageURL))
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// MemoryIllustrationPrompt asks for the character to be drawn into the photo
// the memory was saved from.
func MemoryIllustrationPrompt(summary string, emotionTag *string) string {
	emotion := "Gemie looks happy and curious."
	if emotionTag != nil && *emotionTag != "" {
		emotion = "Gemie's emotion: " + *emotionTag + "."
	}
	return strings.Join([]string{
		CharacterBible,
		"Task: redraw the provided photo with Gemie inside the scene.",
		"Gemie belongs in the scene and interacts with what is in it.",
		"Scene context: " + summary + ".",
		emotion,
		"Food or drinks: Gemie happily eats or tastes them.",
		"Scenery or landmarks: Gemie explores or admires the view.",
		"Objects: Gemie examines or plays with them.",
		"Style: warm, cute 2D illustration matching the atmosphere of the photo.",
		"Output one image that combines the photo and Gemie.",
	}, " ")
}
