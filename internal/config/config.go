// Package config reads the process configuration from the environment.
package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/m-mizutani/goerr/v2"
)

const (
	VoiceGemini   = "gemini"
	VoiceDeepgram = "deepgram"
	VoiceSystem   = "system"
	VoiceNone     = "none"

	AudioMiniaudio = "miniaudio"
	AudioPortaudio = "portaudio"
)

type Config struct {
	GeminiAPIKey   string `env:"GEMINI_API_KEY"`
	DeepgramAPIKey string `env:"DEEPGRAM_API_KEY"`

	TextModel  string `env:"REALITY_QUEST_TEXT_MODEL" envDefault:"gemini-2.5-flash"`
	ImageModel string `env:"REALITY_QUEST_IMAGE_MODEL" envDefault:"gemini-3-pro-image-preview"`
	LiveModel  string `env:"REALITY_QUEST_LIVE_MODEL" envDefault:"gemini-2.5-flash-native-audio-preview-12-2025"`
	LiveVoice  string `env:"REALITY_QUEST_LIVE_VOICE" envDefault:"Kore"`

	// Voice selects the realtime narrator backend: gemini, deepgram, system or none.
	Voice         string `env:"REALITY_QUEST_VOICE" envDefault:"gemini"`
	DeepgramVoice string `env:"REALITY_QUEST_DEEPGRAM_VOICE"`
	Audio         string `env:"REALITY_QUEST_AUDIO" envDefault:"miniaudio"`
	Listen        bool   `env:"REALITY_QUEST_LISTEN" envDefault:"true"`

	// MemoryAPIURL points at the memory service. Empty keeps memories in the
	// local state database.
	MemoryAPIURL string `env:"REALITY_QUEST_MEMORY_API_URL"`
	StatePath    string `env:"REALITY_QUEST_STATE_PATH" envDefault:"reality-quest.db"`
	CaptureDir   string `env:"REALITY_QUEST_CAPTURE_DIR" envDefault:"captures"`

	Latitude       float64 `env:"REALITY_QUEST_LATITUDE"`
	Longitude      float64 `env:"REALITY_QUEST_LONGITUDE"`
	Accuracy       float64 `env:"REALITY_QUEST_ACCURACY" envDefault:"50"`
	ReverseGeocode bool    `env:"REALITY_QUEST_REVERSE_GEOCODE" envDefault:"true"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel     string `env:"REALITY_QUEST_LOG_LEVEL" envDefault:"info"`
	LogFile      string `env:"REALITY_QUEST_LOG_FILE"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, goerr.Wrap(err, "failed to parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Voice {
	case VoiceGemini, VoiceDeepgram, VoiceSystem, VoiceNone:
	default:
		return goerr.New("unknown voice backend", goerr.V("voice", c.Voice))
	}

	switch c.Audio {
	case AudioMiniaudio, AudioPortaudio:
	default:
		return goerr.New("unknown audio backend", goerr.V("audio", c.Audio))
	}

	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return goerr.New("location out of range", goerr.V("latitude", c.Latitude), goerr.V("longitude", c.Longitude))
	}
	if strings.TrimSpace(c.StatePath) == "" {
		return goerr.New("state path is required")
	}
	return nil
}

// RequireGemini reports a missing Gemini key, which every game mode needs.
func (c Config) RequireGemini() error {
	if c.GeminiAPIKey == "" {
		return goerr.New("GEMINI_API_KEY is not set")
	}
	return nil
}
