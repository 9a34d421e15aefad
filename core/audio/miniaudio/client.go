package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/reality-quest/core/audio"
)

// Client owns one miniaudio context with a playback and a capture device.
// Playback starts suspended; callers resume it before the first Play.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	playbackClient
	captureClient

	closeOnce sync.Once
}

type ClientOptions struct {
	PlaybackEncoding audio.EncodingInfo
	CaptureEncoding  audio.EncodingInfo
	DisableCapture   bool
}

type ClientOption func(*ClientOptions)

func WithPlaybackEncoding(info audio.EncodingInfo) ClientOption {
	return func(o *ClientOptions) {
		if !info.IsZero() {
			o.PlaybackEncoding = info
		}
	}
}

func WithCaptureEncoding(info audio.EncodingInfo) ClientOption {
	return func(o *ClientOptions) {
		if !info.IsZero() {
			o.CaptureEncoding = info
		}
	}
}

// WithoutCapture skips opening the microphone, for playback-only tools.
func WithoutCapture() ClientOption {
	return func(o *ClientOptions) { o.DisableCapture = true }
}

func NewClient(opts ...ClientOption) (*Client, error) {
	options := ClientOptions{
		PlaybackEncoding: audio.GetSpeechEncodingInfo(),
		CaptureEncoding:  audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) { logger.Debug("malgo", "message", message) },
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{audioContext: audioCtx}

	if err := client.playbackClient.Init(audioCtx, options.PlaybackEncoding); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}

	if !options.DisableCapture {
		if err := client.captureClient.Init(audioCtx, options.CaptureEncoding); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to initialize capture client: %w", err)
		}
	}

	return &client, nil
}

func (c *Client) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return c.captureClient.Start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.captureClient.Stop()
}

func (c *Client) CaptureEncodingInfo() audio.EncodingInfo {
	return c.captureClient.encoding
}

// IsSuspended reports whether the playback device is stopped.
func (c *Client) IsSuspended() bool {
	return !c.playbackClient.IsStarted()
}

func (c *Client) Resume() error {
	return c.playbackClient.Start()
}

// Play queues pcm for playback and calls onEnded once the device has consumed
// all of it.
func (c *Client) Play(pcm []byte, onEnded func()) error {
	if err := c.playbackClient.SendAudio(pcm); err != nil {
		return err
	}
	return c.playbackClient.Mark("end", func(string) { onEnded() })
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.playbackClient.encoding
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		_ = c.captureClient.Uninit()
		_ = c.playbackClient.Uninit()
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
	})
	return nil
}
