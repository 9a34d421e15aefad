package cli

import (
	"context"
	"io"
	"os"

	"github.com/koscakluka/reality-quest/internal/config"
	"github.com/koscakluka/reality-quest/internal/logging"
	"github.com/koscakluka/reality-quest/internal/telemetry"
	"github.com/m-mizutani/goerr/v2"
)

// setup validates cfg and installs logging and tracing. The returned
// function flushes and closes both.
func setup(ctx context.Context, cfg config.Config, fallback io.Writer) (func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	output := fallback
	var logFile *os.File
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open log file", goerr.V("path", cfg.LogFile))
		}
		logFile = file
		output = file
	}
	logging.Setup(cfg.LogLevel, output)

	shutdown, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, Version)
	if err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, err
	}

	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
		if logFile != nil {
			_ = logFile.Close()
		}
	}, nil
}
