package gemini

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/koscakluka/reality-quest/core/quests"
	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

const DefaultRequestTimeout = 10 * time.Second

//go:embed prompt/request.md
var requestPromptRaw string

var requestPromptTmpl = template.Must(template.New("request").Parse(requestPromptRaw))

var timeContexts = map[game.TimeSlot]string{
	game.TimeSlotMorning: "現在は朝%d時です。朝の挨拶や今日の予定に関する質問から始めて、「見せて」とお願いにつなげてください。",
	game.TimeSlotDaytime: "現在は昼%d時です。ランチや今やっていることに関する質問から始めて、「見せて」とお願いにつなげてください。",
	game.TimeSlotEvening: "現在は夕方%d時です。今日の出来事や夕食に関する質問から始めて、「見せて」とお願いにつなげてください。",
	game.TimeSlotNight:   "現在は夜%d時です。今日の振り返りやリラックスタイムに関する質問から始めて、「見せて」とお願いにつなげてください。",
}

// RequestGenerator asks the model for the character's next request. The
// first request of a session is always the first seed, and any generation
// failure falls back to the request for the current time of day.
type RequestGenerator struct {
	generator ContentGenerator
	model     string
	catalog   *quests.Catalog
	timeout   time.Duration
	now       func() time.Time
}

type RequestGeneratorOption func(*RequestGenerator)

func WithRequestModel(model string) RequestGeneratorOption {
	return func(g *RequestGenerator) {
		if model != "" {
			g.model = model
		}
	}
}

func WithCatalog(catalog *quests.Catalog) RequestGeneratorOption {
	return func(g *RequestGenerator) { g.catalog = catalog }
}

func WithRequestTimeout(timeout time.Duration) RequestGeneratorOption {
	return func(g *RequestGenerator) { g.timeout = timeout }
}

func WithRequestClock(now func() time.Time) RequestGeneratorOption {
	return func(g *RequestGenerator) { g.now = now }
}

func NewRequestGenerator(generator ContentGenerator, opts ...RequestGeneratorOption) *RequestGenerator {
	g := &RequestGenerator{
		generator: generator,
		model:     DefaultTextModel,
		catalog:   quests.Builtin(),
		timeout:   DefaultRequestTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate never fails; errors are logged and replaced by a fallback.
func (g *RequestGenerator) Generate(ctx context.Context, state game.State) (game.Request, error) {
	ctx, span := tracer.Start(ctx, "gemini.generate_request")
	defer span.End()

	if len(state.RequestHistory) == 0 {
		span.SetAttributes(attribute.String("request.source", "seed"))
		return g.catalog.FirstSeed(), nil
	}

	now := g.now()
	request, err := g.generate(ctx, state, now)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("request.source", "fallback"))
		logger.Warn("request generation failed, using fallback", "error", err)
		return g.catalog.Fallback(now), nil
	}

	span.SetAttributes(attribute.String("request.source", "model"), attribute.String("request.id", request.ID))
	return request, nil
}

func (g *RequestGenerator) generate(ctx context.Context, state game.State, now time.Time) (game.Request, error) {
	prompt, err := buildRequestPrompt(state, now)
	if err != nil {
		return game.Request{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := generateText(ctx, g.generator, g.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType:   "application/json",
			ResponseJsonSchema: responseSchema(&game.Request{}),
		})
	if err != nil {
		return game.Request{}, err
	}

	var request game.Request
	if err := decodeJSON(text, &request); err != nil {
		return game.Request{}, err
	}
	if err := quests.Validate(request); err != nil {
		return game.Request{}, goerr.Wrap(err, "model returned an invalid request")
	}
	return request, nil
}

type requestPromptLocation struct {
	Address   string
	Latitude  string
	Longitude string
	Accuracy  string
}

func buildRequestPrompt(state game.State, now time.Time) (string, error) {
	usedIDs := make([]string, 0, len(state.RequestHistory))
	for _, item := range state.RequestHistory {
		usedIDs = append(usedIDs, item.RequestID)
	}

	var location *requestPromptLocation
	if state.Location != nil {
		location = &requestPromptLocation{
			Address:   state.Location.Address,
			Latitude:  strconv.FormatFloat(state.Location.Latitude, 'f', -1, 64),
			Longitude: strconv.FormatFloat(state.Location.Longitude, 'f', -1, 64),
			Accuracy:  strconv.FormatFloat(state.Location.Accuracy, 'f', -1, 64),
		}
	}

	var buf bytes.Buffer
	if err := requestPromptTmpl.Execute(&buf, map[string]any{
		"TimeContext": fmt.Sprintf(timeContexts[game.TimeSlotOf(now)], now.Hour()),
		"UsedIDs":     strings.Join(usedIDs, ", "),
		"Location":    location,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute request prompt template")
	}
	return buf.String(), nil
}
