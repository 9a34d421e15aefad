package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koscakluka/reality-quest/core/capture"
	ttsgemini "github.com/koscakluka/reality-quest/core/texttospeech/gemini"
	"github.com/koscakluka/reality-quest/internal/config"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const checkTimeout = 10 * time.Second

type check struct {
	name string
	run  func(ctx context.Context, cfg config.Config) (string, error)
}

func doctorCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Check that the models, devices and storage are reachable",
		Flags: combine(globalFlags(cfg), storageFlags(cfg), voiceFlags(cfg), gameFlags(cfg)),
		Action: func(ctx context.Context, c *cli.Command) error {
			teardown, err := setup(ctx, *cfg, c.Root().ErrWriter)
			if err != nil {
				return err
			}
			defer teardown()

			failed := 0
			for _, chk := range checks() {
				checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
				detail, err := chk.run(checkCtx, *cfg)
				cancel()

				status := "ok"
				if err != nil {
					status, detail = "fail", err.Error()
					failed++
				}
				fmt.Fprintf(c.Root().Writer, "%-4s\t%-10s\t%s\n", status, chk.name, detail)
			}

			if failed > 0 {
				return goerr.New("some checks failed", goerr.V("failed", failed))
			}
			return nil
		},
	}
}

func checks() []check {
	return []check{
		{name: "model", run: checkModel},
		{name: "live", run: checkLiveVoice},
		{name: "state", run: checkState},
		{name: "memories", run: checkMemories},
		{name: "audio", run: checkAudio},
		{name: "capture", run: checkCapture},
	}
}

func checkModel(ctx context.Context, cfg config.Config) (string, error) {
	client, err := newGenerator(ctx, cfg)
	if err != nil {
		return "", err
	}
	model, err := client.Models.Get(ctx, cfg.TextModel, nil)
	if err != nil {
		return "", goerr.Wrap(err, "model not reachable", goerr.V("model", cfg.TextModel))
	}
	return model.Name, nil
}

func checkLiveVoice(ctx context.Context, cfg config.Config) (string, error) {
	if cfg.Voice != config.VoiceGemini {
		return "skipped, voice is " + cfg.Voice, nil
	}
	voice, err := ttsgemini.NewLiveVoice(ctx, cfg.GeminiAPIKey,
		ttsgemini.WithModel(cfg.LiveModel),
		ttsgemini.WithVoiceName(cfg.LiveVoice))
	if err != nil {
		return "", err
	}
	session, err := voice.NewSpeechSession(ctx)
	if err != nil {
		return "", err
	}
	if err := session.Close(); err != nil {
		return "", err
	}
	return cfg.LiveModel, nil
}

func checkState(_ context.Context, cfg config.Config) (string, error) {
	store, err := openStore(cfg, nil)
	if err != nil {
		return "", err
	}
	state := store.Load(time.Now())
	if err := store.Close(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s, phase %s", cfg.StatePath, state.Phase), nil
}

func checkMemories(ctx context.Context, cfg config.Config) (string, error) {
	store, err := openStore(cfg, nil)
	if err != nil {
		return "", err
	}
	defer store.Close()

	memories, err := newMemoryStore(cfg, store)
	if err != nil {
		return "", err
	}
	items, err := memories.ListMemories(ctx)
	if err != nil {
		return "", err
	}

	source := "local"
	if cfg.MemoryAPIURL != "" {
		source = cfg.MemoryAPIURL
	}
	return fmt.Sprintf("%d memories (%s)", len(items), source), nil
}

func checkAudio(_ context.Context, cfg config.Config) (string, error) {
	device, err := openAudio(cfg)
	if err != nil {
		return "", err
	}
	encoding := device.EncodingInfo()
	if err := device.Close(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %d Hz", cfg.Audio, encoding.SampleRate), nil
}

func checkCapture(ctx context.Context, cfg config.Config) (string, error) {
	frames, err := capture.NewDirectory(cfg.CaptureDir)
	if err != nil {
		return "", err
	}
	defer frames.Stop()

	if _, err := frames.Frame(ctx); err != nil {
		if errors.Is(err, capture.ErrNoFrames) {
			return cfg.CaptureDir + ", no photos yet", nil
		}
		return "", err
	}
	return cfg.CaptureDir, nil
}
