package cli

import (
	"context"
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/reality-quest/internal/config"
	"github.com/koscakluka/reality-quest/internal/tui"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func playCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "play",
		Usage: "Play a session in the terminal",
		Flags: combine(globalFlags(cfg), storageFlags(cfg), voiceFlags(cfg), gameFlags(cfg)),
		Action: func(ctx context.Context, c *cli.Command) error {
			// The screen owns the terminal, so logs only go to a file.
			teardown, err := setup(ctx, *cfg, io.Discard)
			if err != nil {
				return err
			}
			defer teardown()

			a, err := newApp(ctx, *cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("failed to close state store", "error", err)
				}
			}()

			return a.play(ctx)
		},
	}
}

func (a *app) play(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var opts []tui.Option
	if a.typist != nil {
		opts = append(opts, tui.WithTypist(a.typist))
	}

	model := tui.New(ctx, a.orchestrator, a.orchestrator.State(), opts...)
	program := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())

	a.screen.attach(program)
	_, runErr := program.Run()
	a.screen.detach()

	// In-flight actions wind down once their context is gone.
	cancel()
	stopErr := a.orchestrator.StopGame(context.Background())
	a.orchestrator.Wait()

	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return goerr.Wrap(runErr, "terminal ui failed")
	}
	return stopErr
}
