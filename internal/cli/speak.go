package cli

import (
	"context"
	"strings"

	"github.com/koscakluka/reality-quest/internal/config"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func speakCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "speak",
		Usage:     "Say a line in the character's voice",
		ArgsUsage: "<text>",
		Flags:     combine(globalFlags(cfg), voiceFlags(cfg)),
		Action: func(ctx context.Context, c *cli.Command) error {
			text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if text == "" {
				return goerr.New("text is required")
			}

			teardown, err := setup(ctx, *cfg, c.Root().ErrWriter)
			if err != nil {
				return err
			}
			defer teardown()

			device, err := openAudio(*cfg)
			if err != nil {
				logger.Warn("audio device unavailable", "backend", cfg.Audio, "error", err)
			}

			speaker := newNarrator(ctx, *cfg, device)
			speakErr := speaker.Speak(ctx, text)
			if err := speaker.Close(); err != nil {
				logger.Warn("failed to close narrator", "error", err)
			}
			if speakErr != nil {
				return goerr.Wrap(speakErr, "failed to speak")
			}
			return nil
		},
	}
}
