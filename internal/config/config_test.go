package config_test

import (
	"testing"

	"github.com/koscakluka/reality-quest/internal/config"
	"github.com/m-mizutani/gt"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")

	cfg, err := config.Load()
	gt.NoError(t, err)
	gt.Equal(t, cfg.GeminiAPIKey, "key")
	gt.Equal(t, cfg.TextModel, "gemini-2.5-flash")
	gt.Equal(t, cfg.Voice, config.VoiceGemini)
	gt.Equal(t, cfg.Audio, config.AudioMiniaudio)
	gt.Equal(t, cfg.StatePath, "reality-quest.db")
	gt.Equal(t, cfg.Accuracy, 50.0)
	gt.True(t, cfg.ReverseGeocode)
	gt.True(t, cfg.Listen)
	gt.NoError(t, cfg.RequireGemini())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REALITY_QUEST_VOICE", "system")
	t.Setenv("REALITY_QUEST_AUDIO", "portaudio")
	t.Setenv("REALITY_QUEST_LATITUDE", "35.6812")
	t.Setenv("REALITY_QUEST_LONGITUDE", "139.7671")
	t.Setenv("REALITY_QUEST_MEMORY_API_URL", "http://localhost:8787/api")

	cfg, err := config.Load()
	gt.NoError(t, err)
	gt.Equal(t, cfg.Voice, config.VoiceSystem)
	gt.Equal(t, cfg.Audio, config.AudioPortaudio)
	gt.Equal(t, cfg.Latitude, 35.6812)
	gt.Equal(t, cfg.MemoryAPIURL, "http://localhost:8787/api")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for name, env := range map[string][2]string{
		"voice":     {"REALITY_QUEST_VOICE", "robot"},
		"audio":     {"REALITY_QUEST_AUDIO", "alsa"},
		"latitude":  {"REALITY_QUEST_LATITUDE", "123"},
		"malformed": {"REALITY_QUEST_LONGITUDE", "east"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := config.Load()
			gt.Error(t, err)
		})
	}
}

func TestRequireGemini(t *testing.T) {
	gt.Error(t, config.Config{}.RequireGemini())
}
