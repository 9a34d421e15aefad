package deepgram

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/koscakluka/reality-quest/core/texttospeech"
)

type deepgramVoice string

const (
	VoiceThalia    deepgramVoice = "aura-2-thalia-en"
	VoiceAndromeda deepgramVoice = "aura-2-andromeda-en"
	VoiceAsteria   deepgramVoice = "aura-asteria-en"
	VoiceLuna      deepgramVoice = "aura-luna-en"

	defaultVoice = VoiceThalia
)

func GetAvailableVoices() []deepgramVoice {
	return []deepgramVoice{VoiceThalia, VoiceAndromeda, VoiceAsteria, VoiceLuna}
}

// ParseVoice accepts a voice model name, empty selects the default voice.
func ParseVoice(name string) (deepgramVoice, error) {
	if name == "" {
		return defaultVoice, nil
	}
	voice := deepgramVoice(name)
	if !slices.Contains(GetAvailableVoices(), voice) {
		return "", fmt.Errorf("invalid voice %q", name)
	}
	return voice, nil
}

type TextToSpeechClient struct {
	apiKey  string
	baseURL string
	voice   deepgramVoice
}

type ClientOption func(*TextToSpeechClient)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *TextToSpeechClient) { c.apiKey = apiKey }
}

// WithBaseURL points the client at another speak endpoint, mostly for tests.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *TextToSpeechClient) { c.baseURL = baseURL }
}

func NewTextToSpeechClient(voice deepgramVoice, opts ...ClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{voice: defaultVoice, baseURL: "wss://api.deepgram.com/v1/speak"}

	if voice != "" {
		if !slices.Contains(GetAvailableVoices(), voice) {
			return nil, fmt.Errorf("invalid voice")
		}
		client.voice = voice
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
		client.apiKey = apiKey
	}

	return client, nil
}

func (c *TextToSpeechClient) NewSpeechSession(ctx context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechSession, error) {
	return c.newStreamingRequest(ctx, texttospeech.NewOptions(opts...))
}
