package audio

import "context"

// Output is a playback device the narrator can drive. Implementations start
// suspended until Resume is called and report the end of each Play through
// onEnded.
type Output interface {
	EncodingInfo() EncodingInfo
	IsSuspended() bool
	Resume() error
	Play(pcm []byte, onEnded func()) error
	Close() error
}

// Input captures microphone audio in the encoding reported by
// CaptureEncodingInfo.
type Input interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
	CaptureEncodingInfo() EncodingInfo
}
