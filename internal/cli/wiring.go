package cli

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/koscakluka/reality-quest/core/audio"
	"github.com/koscakluka/reality-quest/core/audio/miniaudio"
	"github.com/koscakluka/reality-quest/core/audio/portaudio"
	"github.com/koscakluka/reality-quest/core/capture"
	"github.com/koscakluka/reality-quest/core/game"
	"github.com/koscakluka/reality-quest/core/llms/gemini"
	"github.com/koscakluka/reality-quest/core/location"
	"github.com/koscakluka/reality-quest/core/memory"
	"github.com/koscakluka/reality-quest/core/narrator"
	"github.com/koscakluka/reality-quest/core/orchestration"
	"github.com/koscakluka/reality-quest/core/speechtotext"
	sttdeepgram "github.com/koscakluka/reality-quest/core/speechtotext/deepgram"
	"github.com/koscakluka/reality-quest/core/speechtotext/typed"
	"github.com/koscakluka/reality-quest/core/storage/sqlite"
	"github.com/koscakluka/reality-quest/core/texttospeech"
	ttsdeepgram "github.com/koscakluka/reality-quest/core/texttospeech/deepgram"
	ttsgemini "github.com/koscakluka/reality-quest/core/texttospeech/gemini"
	"github.com/koscakluka/reality-quest/core/texttospeech/system"
	"github.com/koscakluka/reality-quest/core/voicechat"
	"github.com/koscakluka/reality-quest/internal/config"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

const portaudioBufferSize = 1024

// memoryStore is a MemoryAPI that can also pick a memory at random.
type memoryStore interface {
	orchestration.MemoryAPI
	RandomMemory(ctx context.Context) (*game.MemoryItem, error)
}

// audioDevice plays the narrator and feeds the recognizer.
type audioDevice interface {
	audio.Output
	audio.Input
}

type app struct {
	cfg    config.Config
	models gemini.ContentGenerator

	store    *sqlite.Store
	memories memoryStore

	// typist is set when typed lines stand in for the microphone.
	typist *typed.Recognizer
	screen *screen
	artist *artist

	// frames is the capture of the current session, if any.
	frames atomic.Pointer[capture.Directory]

	orchestrator *orchestration.Orchestrator
}

func newGenerator(ctx context.Context, cfg config.Config) (*genai.Client, error) {
	if err := cfg.RequireGemini(); err != nil {
		return nil, err
	}
	return gemini.NewClient(ctx, cfg.GeminiAPIKey)
}

func openStore(cfg config.Config, models gemini.ContentGenerator) (*sqlite.Store, error) {
	var opts []sqlite.Option
	if models != nil {
		opts = append(opts, sqlite.WithSummarizer(gemini.NewMemorySummarizer(models, cfg.TextModel)))
	}
	return sqlite.Open(cfg.StatePath, opts...)
}

// newMemoryStore prefers the remote memory service and falls back to the
// local database.
func newMemoryStore(cfg config.Config, store *sqlite.Store) (memoryStore, error) {
	if cfg.MemoryAPIURL == "" {
		return store, nil
	}
	client, err := memory.NewClient(cfg.MemoryAPIURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	client, err := newGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	models := client.Models

	store, err := openStore(cfg, models)
	if err != nil {
		return nil, err
	}

	memories, err := newMemoryStore(cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if err := os.MkdirAll(cfg.CaptureDir, 0o755); err != nil {
		_ = store.Close()
		return nil, goerr.Wrap(err, "failed to create capture directory", goerr.V("dir", cfg.CaptureDir))
	}

	a := &app{
		cfg:      cfg,
		models:   models,
		store:    store,
		memories: memories,
		screen:   &screen{},
	}
	if !a.usesMicrophone() && cfg.Listen {
		a.typist = typed.NewRecognizer()
	}
	a.artist = newArtist(ctx, models,
		artistConfig{textModel: cfg.TextModel, imageModel: cfg.ImageModel},
		a.currentFrame, a.screen.send)

	var geocoderOpts []location.FixedOption
	if cfg.ReverseGeocode {
		geocoderOpts = append(geocoderOpts, location.WithGeocoder(location.NewNominatim()))
	}

	orchestrator, err := orchestration.NewOrchestrator(
		orchestration.WithRequestGenerator(gemini.NewRequestGenerator(models, gemini.WithRequestModel(cfg.TextModel))),
		orchestration.WithJudge(gemini.NewJudge(models, gemini.WithJudgeModel(cfg.TextModel))),
		orchestration.WithReactionRenderer(gemini.NewReactionRenderer(models, gemini.WithReactionModel(cfg.TextModel))),
		orchestration.WithScenePromptBuilder(gemini.NewScenePromptBuilder(models, cfg.TextModel)),
		orchestration.WithIllustrationService(gemini.NewIllustrationService(models, gemini.WithIllustrationModel(cfg.ImageModel))),
		orchestration.WithMemoryAPI(memories),
		orchestration.WithLocationService(location.NewFixed(cfg.Latitude, cfg.Longitude, cfg.Accuracy, geocoderOpts...)),
		orchestration.WithStateStore(store),
		orchestration.WithEffectPlayer(a.screen),
		orchestration.WithStackFactory(a.newStack),
		orchestration.WithPresentation(a.screen.present),
		orchestration.WithUserSpokeCallback(a.artist.userSpoke),
	)
	if err != nil {
		a.artist.Close()
		_ = store.Close()
		return nil, goerr.Wrap(err, "failed to create orchestrator")
	}
	a.orchestrator = orchestrator

	return a, nil
}

func (a *app) Close() error {
	a.artist.Close()
	return a.store.Close()
}

// currentFrame is the session's newest camera frame, or empty without one.
func (a *app) currentFrame(ctx context.Context) string {
	frames := a.frames.Load()
	if frames == nil {
		return ""
	}
	frame, err := frames.Frame(ctx)
	if err != nil {
		logger.Debug("no camera frame", "error", err)
		return ""
	}
	return frame
}

func (a *app) usesMicrophone() bool {
	return a.cfg.Listen && a.cfg.DeepgramAPIKey != ""
}

// newStack builds the session resources. Missing audio hardware or voices
// degrade the session instead of failing it.
func (a *app) newStack(ctx context.Context, hooks orchestration.ConversationHooks) (orchestration.Stack, error) {
	frames, err := capture.NewDirectory(a.cfg.CaptureDir)
	if err != nil {
		return orchestration.Stack{}, err
	}

	device, err := openAudio(a.cfg)
	if err != nil {
		logger.Warn("audio device unavailable, continuing without sound", "backend", a.cfg.Audio, "error", err)
	}

	speaker := newNarrator(ctx, a.cfg, device)

	chat := voicechat.New(speaker, a.recognizer(device),
		voicechat.WithMemories(hooks.Memories),
		voicechat.WithLocation(hooks.Location),
		voicechat.WithStateChangeCallback(hooks.OnStateChange),
		voicechat.WithUserSpokeCallback(hooks.OnUserSpoke),
		voicechat.WithMemoryDiscussedCallback(a.artist.memoryDiscussed),
	)
	a.frames.Store(frames)

	return orchestration.Stack{
		Narrator:  speaker,
		VoiceChat: chat,
		Capture:   frames,
	}, nil
}

func (a *app) recognizer(device audioDevice) speechtotext.Recognizer {
	switch {
	case a.typist != nil:
		return a.typist
	case !a.usesMicrophone():
		return speechtotext.Unsupported{Reason: "listening disabled"}
	case device == nil:
		logger.Warn("no microphone, speech recognition disabled")
		return speechtotext.Unsupported{Reason: "no microphone"}
	}

	recognizer, err := sttdeepgram.NewRecognizer(device, sttdeepgram.WithAPIKey(a.cfg.DeepgramAPIKey))
	if err != nil {
		logger.Warn("speech recognition disabled", "error", err)
		return speechtotext.Unsupported{Reason: err.Error()}
	}
	return recognizer
}

func openAudio(cfg config.Config) (audioDevice, error) {
	switch cfg.Audio {
	case config.AudioPortaudio:
		client, err := portaudio.NewClient(portaudioBufferSize, audio.GetSpeechEncodingInfo())
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		client, err := miniaudio.NewClient()
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// newNarrator picks the realtime voice from cfg. The system voice is always
// the fallback unless the narrator is silenced.
func newNarrator(ctx context.Context, cfg config.Config, device audioDevice) *narrator.Narrator {
	var opts []narrator.NarratorOption
	if device != nil {
		opts = append(opts, narrator.WithAudioOutput(device))
	}

	if cfg.Voice == config.VoiceNone {
		return narrator.New(append(opts, narrator.WithSyntheticVoice(texttospeech.Unsupported{Reason: "narrator silenced"}))...)
	}
	opts = append(opts, narrator.WithSyntheticVoice(system.Detect()))

	if device == nil {
		return narrator.New(opts...)
	}

	switch cfg.Voice {
	case config.VoiceGemini:
		voice, err := ttsgemini.NewLiveVoice(ctx, cfg.GeminiAPIKey,
			ttsgemini.WithModel(cfg.LiveModel),
			ttsgemini.WithVoiceName(cfg.LiveVoice))
		if err != nil {
			logger.Warn("live voice unavailable", "error", err)
			break
		}
		opts = append(opts, narrator.WithRealtimeVoice(voice))

	case config.VoiceDeepgram:
		name, err := ttsdeepgram.ParseVoice(cfg.DeepgramVoice)
		if err != nil {
			logger.Warn("deepgram voice unavailable", "error", err)
			break
		}
		voice, err := ttsdeepgram.NewTextToSpeechClient(name, ttsdeepgram.WithAPIKey(cfg.DeepgramAPIKey))
		if err != nil {
			logger.Warn("deepgram voice unavailable", "error", err)
			break
		}
		opts = append(opts, narrator.WithRealtimeVoice(voice))
	}

	return narrator.New(opts...)
}
