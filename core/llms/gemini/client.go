// Package gemini implements the game's generation collaborators on top of
// the Gemini API: request generation, photo judging, reactions, scene
// prompts and illustrations.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

const (
	DefaultTextModel  = "gemini-2.5-flash"
	DefaultImageModel = "gemini-3-pro-image-preview"
)

// ContentGenerator is the part of the models API the adapters need.
// (*genai.Client).Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, goerr.New("gemini api key not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}
	return client, nil
}

func generateText(ctx context.Context, generator ContentGenerator, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	resp, err := generator.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content", goerr.V("model", model))
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", goerr.New("empty response from model", goerr.V("model", model))
	}
	return text, nil
}

var (
	fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	bracedJSON = regexp.MustCompile(`(?s)(\{.*\})`)
)

// extractJSON pulls the JSON object out of a model reply that may wrap it in
// a code fence or surround it with prose.
func extractJSON(text string) string {
	if match := fencedJSON.FindStringSubmatch(text); match != nil {
		return match[1]
	}
	if match := bracedJSON.FindStringSubmatch(text); match != nil {
		return match[1]
	}
	return strings.TrimSpace(text)
}

func decodeJSON(text string, out any) error {
	if err := json.Unmarshal([]byte(extractJSON(text)), out); err != nil {
		return goerr.Wrap(err, "failed to decode model json", goerr.V("text", text))
	}
	return nil
}

// responseSchema describes v for structured output. Definitions are inlined
// because the API does not follow references.
func responseSchema(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema := reflector.Reflect(v)
	schema.Version = ""
	return schema
}

// imagePart turns a base64 frame (optionally a data URL) into an inline part.
func imagePart(imageBase64 string) (*genai.Part, error) {
	if _, payload, ok := strings.Cut(imageBase64, ";base64,"); ok && strings.HasPrefix(imageBase64, "data:") {
		imageBase64 = payload
	}

	data, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode image", goerr.V("length", len(imageBase64)))
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/jpeg"
	}
	return genai.NewPartFromBytes(data, mimeType), nil
}
