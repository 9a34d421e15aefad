package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/koscakluka/reality-quest/internal/config"
	"github.com/koscakluka/reality-quest/internal/utils"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func memoriesCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "memories",
		Usage: "Inspect the memories collected so far",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List every memory, newest first",
				Flags: combine(globalFlags(cfg), storageFlags(cfg)),
				Action: func(ctx context.Context, c *cli.Command) error {
					return withMemories(ctx, *cfg, c, func(store memoryStore) error {
						memories, err := store.ListMemories(ctx)
						if err != nil {
							return goerr.Wrap(err, "failed to list memories")
						}
						for _, item := range memories {
							printMemory(c.Root().Writer, item)
						}
						return nil
					})
				},
			},
			{
				Name:  "random",
				Usage: "Pick one memory at random",
				Flags: combine(globalFlags(cfg), storageFlags(cfg)),
				Action: func(ctx context.Context, c *cli.Command) error {
					return withMemories(ctx, *cfg, c, func(store memoryStore) error {
						item, err := store.RandomMemory(ctx)
						if err != nil {
							return goerr.Wrap(err, "failed to pick a memory")
						}
						if item == nil {
							fmt.Fprintln(c.Root().Writer, "no memories yet")
							return nil
						}
						printMemory(c.Root().Writer, *item)
						return nil
					})
				},
			},
		},
	}
}

// withMemories opens the configured memory store without a model, so
// listing works offline.
func withMemories(ctx context.Context, cfg config.Config, c *cli.Command, fn func(memoryStore) error) error {
	teardown, err := setup(ctx, cfg, c.Root().ErrWriter)
	if err != nil {
		return err
	}
	defer teardown()

	store, err := openStore(cfg, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	memories, err := newMemoryStore(cfg, store)
	if err != nil {
		return err
	}
	return fn(memories)
}

func printMemory(w io.Writer, item game.MemoryItem) {
	emotion := utils.Deref(item.EmotionTag)
	if emotion == "" {
		emotion = "-"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.ID, item.CreatedAt.Format("2006-01-02 15:04"), emotion, item.Summary)
}
