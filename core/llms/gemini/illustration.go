package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

const DefaultIllustrationTimeout = 30 * time.Second

// IllustrationService draws the character with an image model. Whatever
// goes wrong, it still returns a usable data URL.
type IllustrationService struct {
	generator ContentGenerator
	model     string
	timeout   time.Duration
}

type IllustrationOption func(*IllustrationService)

func WithIllustrationModel(model string) IllustrationOption {
	return func(s *IllustrationService) {
		if model != "" {
			s.model = model
		}
	}
}

func WithIllustrationTimeout(timeout time.Duration) IllustrationOption {
	return func(s *IllustrationService) { s.timeout = timeout }
}

func NewIllustrationService(generator ContentGenerator, opts ...IllustrationOption) *IllustrationService {
	s := &IllustrationService{
		generator: generator,
		model:     DefaultImageModel,
		timeout:   DefaultIllustrationTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *IllustrationService) Generate(ctx context.Context, prompt, referenceImageBase64 string) (string, error) {
	ctx, span := tracer.Start(ctx, "gemini.generate_illustration")
	defer span.End()
	span.SetAttributes(
		attribute.Int("prompt.length", len(prompt)),
		attribute.Bool("illustration.has_reference", referenceImageBase64 != ""),
	)

	dataURL, err := s.generate(ctx, prompt, referenceImageBase64)
	if err != nil {
		span.RecordError(err)
		logger.Warn("illustration generation failed, using fallback", "error", err)
		return FallbackIllustration(prompt), nil
	}
	return dataURL, nil
}

func (s *IllustrationService) generate(ctx context.Context, prompt, referenceImageBase64 string) (string, error) {
	parts := make([]*genai.Part, 0, 2)
	if referenceImageBase64 != "" {
		image, err := imagePart(referenceImageBase64)
		if err != nil {
			return "", err
		}
		parts = append(parts, image)
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.generator.GenerateContent(ctx, s.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}})
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate illustration", goerr.V("model", s.model))
	}

	dataURL, _, ok := imageReply(resp)
	if !ok {
		return "", goerr.New("no image in response", goerr.V("model", s.model))
	}
	return dataURL, nil
}

// imageReply returns the first inline image of resp as a data URL along with
// the text parts that came with it.
func imageReply(resp *genai.GenerateContentResponse) (dataURL string, texts []string, ok bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil, false
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if text := strings.TrimSpace(part.Text); text != "" {
			texts = append(texts, text)
		}
		if dataURL != "" || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mimeType := part.InlineData.MIMEType
		if mimeType == "" {
			mimeType = "image/png"
		}
		dataURL = fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(part.InlineData.Data))
	}
	return dataURL, texts, dataURL != ""
}

const fallbackSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="512" height="320" viewBox="0 0 512 320">
  <defs>
    <linearGradient id="bg" x1="0" y1="0" x2="1" y2="1">
      <stop offset="0%%" stop-color="#0f172a" />
      <stop offset="100%%" stop-color="#1d4ed8" />
    </linearGradient>
  </defs>
  <rect width="512" height="320" fill="url(#bg)"/>
  <circle cx="130" cy="160" r="72" fill="#f59e0b"/>
  <circle cx="108" cy="145" r="10" fill="#111827"/>
  <circle cx="152" cy="145" r="10" fill="#111827"/>
  <path d="M100 185 Q130 215 160 185" stroke="#111827" stroke-width="8" fill="none" stroke-linecap="round"/>
  <text x="230" y="120" fill="#e2e8f0" font-size="24" font-family="sans-serif">Gemie is happy</text>
  <text x="230" y="160" fill="#bfdbfe" font-size="16" font-family="sans-serif">%s</text>
</svg>`

// FallbackIllustration is a placeholder picture captioned with the first 80
// characters of prompt.
func FallbackIllustration(prompt string) string {
	caption := strings.NewReplacer("&", "&amp;", "<", "&lt;").Replace(prompt)
	if runes := []rune(caption); len(runes) > 80 {
		caption = string(runes[:80])
	}
	return "data:image/svg+xml;charset=utf-8," + url.PathEscape(fmt.Sprintf(fallbackSVG, caption))
}
