package texttospeech

import (
	"context"
	"errors"

	"github.com/koscakluka/reality-quest/core/audio"
)

var ErrUnsupported = errors.New("speech synthesis unsupported")

type TextToSpeechOptions struct {
	// SpeechAudioCallback is called for every chunk of audio the session
	// produces
	SpeechAudioCallback func(audio []byte)
	// SpeechEndedCallback is called once the session has produced all audio
	// for the text sent so far
	SpeechEndedCallback func()
	// ErrorCallback is called when the session fails before it ended, this
	// usually means the connection was lost
	ErrorCallback func(error)

	EncodingInfo audio.EncodingInfo
}

type TextToSpeechOption func(*TextToSpeechOptions)

func WithSpeechAudioCallback(callback func([]byte)) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.SpeechAudioCallback = callback }
}

func WithSpeechEndedCallback(callback func()) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.SpeechEndedCallback = callback }
}

func WithErrorCallback(callback func(error)) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.ErrorCallback = callback }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		if encodingInfo.IsZero() {
			return
		}

		o.EncodingInfo = encodingInfo
	}
}

// NewOptions applies opts over no-op callbacks so sessions can call them
// without nil checks.
func NewOptions(opts ...TextToSpeechOption) TextToSpeechOptions {
	options := TextToSpeechOptions{
		SpeechAudioCallback: func([]byte) {},
		SpeechEndedCallback: func() {},
		ErrorCallback:       func(error) {},
		EncodingInfo:        audio.GetSpeechEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// RealtimeVoice opens streaming speech sessions against a remote voice model.
type RealtimeVoice interface {
	NewSpeechSession(ctx context.Context, opts ...TextToSpeechOption) (SpeechSession, error)
}

type SpeechSession interface {
	// SendText submits the text to be voiced. Audio arrives through the
	// session's SpeechAudioCallback.
	SendText(string) error
	// Close immediately closes the session. ErrorCallback does not fire for
	// the teardown itself.
	//
	// Repeated calls to Close are ignored.
	Close() error
}

// SyntheticVoice speaks text locally. onEnded is not guaranteed to fire on
// every platform, callers bound the wait themselves.
type SyntheticVoice interface {
	Speak(ctx context.Context, text string, onEnded func(error)) error
}

// Unsupported is the synthetic voice used when the platform has none.
type Unsupported struct {
	Reason string
}

func (u Unsupported) Speak(context.Context, string, func(error)) error {
	if u.Reason == "" {
		return ErrUnsupported
	}
	return errors.Join(ErrUnsupported, errors.New(u.Reason))
}

// IsUnsupported reports whether voice is missing or the Unsupported variant.
func IsUnsupported(voice SyntheticVoice) bool {
	if voice == nil {
		return true
	}
	_, ok := voice.(Unsupported)
	return ok
}
