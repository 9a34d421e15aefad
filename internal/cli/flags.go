package cli

import (
	"github.com/koscakluka/reality-quest/internal/config"
	"github.com/urfave/cli/v3"
)

// Every flag defaults to the value read from the environment, so flags only
// override it.

func globalFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       cfg.LogLevel,
			Destination: &cfg.LogLevel,
		},
		&cli.StringFlag{
			Name:        "log-file",
			Usage:       "Write logs to this file",
			Value:       cfg.LogFile,
			Destination: &cfg.LogFile,
		},
		&cli.StringFlag{
			Name:        "otlp-endpoint",
			Usage:       "OTLP/HTTP endpoint for traces",
			Value:       cfg.OTLPEndpoint,
			Destination: &cfg.OTLPEndpoint,
		},
	}
}

func storageFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "state",
			Aliases:     []string{"s"},
			Usage:       "Path of the local state database",
			Value:       cfg.StatePath,
			Destination: &cfg.StatePath,
		},
		&cli.StringFlag{
			Name:        "memory-api",
			Usage:       "Base URL of the memory service; empty keeps memories locally",
			Value:       cfg.MemoryAPIURL,
			Destination: &cfg.MemoryAPIURL,
		},
	}
}

func voiceFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "voice",
			Usage:       "Narrator voice (gemini, deepgram, system, none)",
			Value:       cfg.Voice,
			Destination: &cfg.Voice,
		},
		&cli.StringFlag{
			Name:        "audio",
			Usage:       "Audio backend (miniaudio, portaudio)",
			Value:       cfg.Audio,
			Destination: &cfg.Audio,
		},
	}
}

func gameFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "capture-dir",
			Aliases:     []string{"c"},
			Usage:       "Directory watched for photos to show",
			Value:       cfg.CaptureDir,
			Destination: &cfg.CaptureDir,
		},
		&cli.BoolFlag{
			Name:        "listen",
			Usage:       "Listen to the microphone when a Deepgram key is set",
			Value:       cfg.Listen,
			Destination: &cfg.Listen,
		},
		&cli.FloatFlag{
			Name:        "latitude",
			Usage:       "Latitude of the player",
			Value:       cfg.Latitude,
			Destination: &cfg.Latitude,
		},
		&cli.FloatFlag{
			Name:        "longitude",
			Usage:       "Longitude of the player",
			Value:       cfg.Longitude,
			Destination: &cfg.Longitude,
		},
	}
}

func combine(groups ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, group := range groups {
		flags = append(flags, group...)
	}
	return flags
}
