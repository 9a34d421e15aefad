// Package cli is the command line entry point of the game.
package cli

import (
	"context"

	"github.com/koscakluka/reality-quest/internal/config"
	"github.com/urfave/cli/v3"
)

// Version is stamped at build time.
var Version = "dev"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cfg, err := config.Load()
	if err != nil {
		return &Error{Code: 2, Message: err.Error()}
	}

	cmd := &cli.Command{
		Name:    "realityquest",
		Usage:   "Show the real world to a small creature that lives in your terminal",
		Version: Version,
		Commands: []*cli.Command{
			playCommand(&cfg),
			speakCommand(&cfg),
			memoriesCommand(&cfg),
			doctorCommand(&cfg),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
