// Package system speaks text with the speech synthesizer of the host, `say` on
// macOS and espeak-ng or espeak elsewhere.
package system

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/koscakluka/reality-quest/core/texttospeech"
)

type Voice struct {
	command  string
	baseArgs []string
}

// candidates are tried in order; the first one on PATH wins.
func candidates() []Voice {
	if runtime.GOOS == "darwin" {
		return []Voice{{command: "say", baseArgs: []string{"-v", "Kyoko"}}, {command: "say"}}
	}
	return []Voice{
		{command: "espeak-ng", baseArgs: []string{"-v", "ja"}},
		{command: "espeak", baseArgs: []string{"-v", "ja"}},
	}
}

// Detect resolves the host synthesizer once. When none is installed it
// returns the texttospeech.Unsupported variant.
func Detect() texttospeech.SyntheticVoice {
	for _, candidate := range candidates() {
		if path, err := exec.LookPath(candidate.command); err == nil {
			candidate.command = path
			return &candidate
		}
	}
	return texttospeech.Unsupported{Reason: fmt.Sprintf("no speech synthesizer found for %s", runtime.GOOS)}
}

// Speak starts the synthesizer and returns once it is running. onEnded is
// called with the process result.
func (v *Voice) Speak(ctx context.Context, text string, onEnded func(error)) error {
	args := append(append([]string(nil), v.baseArgs...), text)
	cmd := exec.CommandContext(ctx, v.command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", v.command, err)
	}

	go func() {
		err := cmd.Wait()
		if err != nil {
			err = fmt.Errorf("%s exited: %w", v.command, err)
		}
		onEnded(err)
	}()

	return nil
}
