package speechtotext

import (
	"context"
	"errors"

	"github.com/koscakluka/reality-quest/core/audio"
)

const DefaultLanguage = "ja-JP"

var (
	ErrUnsupported    = errors.New("speech recognition unsupported")
	ErrAlreadyStarted = errors.New("recognition session already started")
)

type RecognitionOptions struct {
	// ResultCallback is called with every final utterance
	ResultCallback func(transcript string)
	// InterimResultCallback is called with partial transcripts, only when
	// InterimResults is set
	InterimResultCallback func(transcript string)
	// EndCallback is called exactly once when the session is over, whether it
	// was stopped, aborted or dropped by the backend
	EndCallback func()
	// ErrorCallback is called when the session fails, EndCallback still
	// follows
	ErrorCallback func(error)

	Language       string
	Continuous     bool
	InterimResults bool

	EncodingInfo audio.EncodingInfo
}

type RecognitionOption func(*RecognitionOptions)

func WithResultCallback(callback func(transcript string)) RecognitionOption {
	return func(o *RecognitionOptions) { o.ResultCallback = callback }
}

func WithInterimResultCallback(callback func(transcript string)) RecognitionOption {
	return func(o *RecognitionOptions) {
		o.InterimResultCallback = callback
		o.InterimResults = callback != nil
	}
}

func WithEndCallback(callback func()) RecognitionOption {
	return func(o *RecognitionOptions) { o.EndCallback = callback }
}

func WithErrorCallback(callback func(error)) RecognitionOption {
	return func(o *RecognitionOptions) { o.ErrorCallback = callback }
}

func WithLanguage(language string) RecognitionOption {
	return func(o *RecognitionOptions) {
		if language != "" {
			o.Language = language
		}
	}
}

func WithContinuous(continuous bool) RecognitionOption {
	return func(o *RecognitionOptions) { o.Continuous = continuous }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) RecognitionOption {
	return func(o *RecognitionOptions) {
		if !encodingInfo.IsZero() {
			o.EncodingInfo = encodingInfo
		}
	}
}

func NewOptions(opts ...RecognitionOption) RecognitionOptions {
	options := RecognitionOptions{
		ResultCallback:        func(string) {},
		InterimResultCallback: func(string) {},
		EndCallback:           func() {},
		ErrorCallback:         func(error) {},
		Language:              DefaultLanguage,
		EncodingInfo:          audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.InterimResultCallback == nil {
		options.InterimResultCallback = func(string) {}
	}
	return options
}

// Recognizer starts recognition sessions. A recognizer serves one session at
// a time; the next one may start once the previous has ended.
type Recognizer interface {
	Start(ctx context.Context, opts ...RecognitionOption) (Session, error)
}

type Session interface {
	// Stop asks the backend to finish the pending utterance and end the
	// session
	Stop() error
	// Abort ends the session immediately, discarding pending audio
	Abort() error
}

// Unsupported is the recognizer used when no recognition backend is
// available.
type Unsupported struct {
	Reason string
}

func (u Unsupported) Start(context.Context, ...RecognitionOption) (Session, error) {
	if u.Reason == "" {
		return nil, ErrUnsupported
	}
	return nil, errors.Join(ErrUnsupported, errors.New(u.Reason))
}

// IsUnsupported reports whether recognizer is missing or the Unsupported
// variant.
func IsUnsupported(recognizer Recognizer) bool {
	if recognizer == nil {
		return true
	}
	_, ok := recognizer.(Unsupported)
	return ok
}
