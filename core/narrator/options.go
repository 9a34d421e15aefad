package narrator

import (
	"time"

	"github.com/koscakluka/reality-quest/core/audio"
	"github.com/koscakluka/reality-quest/core/texttospeech"
)

const (
	DefaultRealtimeAttempts = 2
	DefaultRealtimeTimeout  = 30 * time.Second
	DefaultSyntheticTimeout = 10 * time.Second
	DefaultPlaybackGrace    = 3 * time.Second
	DefaultQueueSize        = 32
)

type NarratorOption func(*Narrator)

// WithRealtimeVoice sets the streaming voice tried first for every line.
// Without it every line goes straight to the synthetic voice.
func WithRealtimeVoice(voice texttospeech.RealtimeVoice) NarratorOption {
	return func(n *Narrator) { n.realtime = voice }
}

func WithSyntheticVoice(voice texttospeech.SyntheticVoice) NarratorOption {
	return func(n *Narrator) { n.synthetic = voice }
}

// WithAudioOutput sets the device realtime audio is played on. The narrator
// owns it from here on and closes it in Close.
func WithAudioOutput(output audio.Output) NarratorOption {
	return func(n *Narrator) { n.output = output }
}

func WithRealtimeAttempts(attempts int) NarratorOption {
	return func(n *Narrator) {
		if attempts > 0 {
			n.realtimeAttempts = attempts
		}
	}
}

func WithRealtimeTimeout(timeout time.Duration) NarratorOption {
	return func(n *Narrator) {
		if timeout > 0 {
			n.realtimeTimeout = timeout
		}
	}
}

func WithSyntheticTimeout(timeout time.Duration) NarratorOption {
	return func(n *Narrator) {
		if timeout > 0 {
			n.syntheticTimeout = timeout
		}
	}
}

// WithPlaybackGrace sets how long past the computed audio duration playback
// may run before the narrator stops waiting for the device.
func WithPlaybackGrace(grace time.Duration) NarratorOption {
	return func(n *Narrator) {
		if grace >= 0 {
			n.playbackGrace = grace
		}
	}
}

func WithQueueSize(size int) NarratorOption {
	return func(n *Narrator) {
		if size > 0 {
			n.queueSize = size
		}
	}
}
