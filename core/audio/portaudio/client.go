package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/reality-quest/core/audio"
)

// Client is a blocking-IO PortAudio device pair. Output starts stopped, which
// callers observe as a suspended device.
type Client struct {
	bufferSize int
	encoding   audio.EncodingInfo

	output  *portaudio.Stream
	out     []int16
	started atomic.Bool
	playMu  sync.Mutex

	input        *portaudio.Stream
	in           []int16
	captureStop  context.CancelFunc
	captureMu    sync.Mutex
	captureBytes int

	closeOnce sync.Once
}

func NewClient(bufferSize int, encoding audio.EncodingInfo) (*Client, error) {
	if encoding.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("unsupported encoding %q", encoding.Format.Name())
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(encoding.SampleRate), bufferSize, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio output stream: %w", err)
	}

	return &Client{
		bufferSize:   bufferSize,
		encoding:     encoding,
		output:       stream,
		out:          out,
		captureBytes: bufferSize * 2,
	}, nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encoding
}

func (c *Client) IsSuspended() bool {
	return !c.started.Load()
}

func (c *Client) Resume() error {
	if c.started.Load() {
		return nil
	}
	if err := c.output.Start(); err != nil {
		return fmt.Errorf("failed to start portaudio output stream: %w", err)
	}
	c.started.Store(true)
	return nil
}

// Play writes pcm on a background goroutine and calls onEnded once the last
// buffer has been handed to the device.
func (c *Client) Play(pcm []byte, onEnded func()) error {
	if !c.started.Load() {
		return fmt.Errorf("output stream not started")
	}

	go func() {
		c.playMu.Lock()
		defer c.playMu.Unlock()
		defer onEnded()

		chunkSize := c.bufferSize * 2
		for offset := 0; offset < len(pcm); offset += chunkSize {
			chunk := pcm[offset:min(offset+chunkSize, len(pcm))]
			clear(c.out)
			if err := binary.Read(bytes.NewReader(padChunk(chunk, chunkSize)), binary.LittleEndian, c.out); err != nil {
				logger.Warn("failed to decode playback chunk", "error", err)
				return
			}
			if err := c.output.Write(); err != nil {
				logger.Warn("failed to write playback chunk", "error", err)
				return
			}
		}
	}()

	return nil
}

func padChunk(chunk []byte, size int) []byte {
	if len(chunk) == size {
		return chunk
	}
	padded := make([]byte, size)
	copy(padded, chunk)
	return padded
}

func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if c.captureStop != nil {
		return nil
	}

	if c.input == nil {
		c.in = make([]int16, c.bufferSize)
		stream, err := portaudio.OpenDefaultStream(1, 0, float64(audio.DefaultSampleRate), c.bufferSize, c.in)
		if err != nil {
			return fmt.Errorf("failed to open portaudio input stream: %w", err)
		}
		c.input = stream
	}
	if err := c.input.Start(); err != nil {
		return fmt.Errorf("failed to start portaudio input stream: %w", err)
	}

	captureCtx, cancel := context.WithCancel(ctx)
	c.captureStop = cancel
	go func() {
		buffer := bytes.NewBuffer(make([]byte, 0, c.captureBytes))
		for captureCtx.Err() == nil {
			if err := c.input.Read(); err != nil {
				logger.Warn("failed to read from portaudio input stream", "error", err)
				continue
			}

			buffer.Reset()
			_ = binary.Write(buffer, binary.LittleEndian, c.in)
			onAudio(bytes.Clone(buffer.Bytes()))
		}
	}()

	return nil
}

func (c *Client) StopCapture() error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if c.captureStop == nil {
		return nil
	}

	c.captureStop()
	c.captureStop = nil
	if err := c.input.Stop(); err != nil {
		return fmt.Errorf("failed to stop portaudio input stream: %w", err)
	}
	return nil
}

func (c *Client) CaptureEncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.StopCapture()
		if c.input != nil {
			_ = c.input.Close()
		}
		if c.started.Load() {
			_ = c.output.Stop()
		}
		if closeErr := c.output.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close portaudio output stream: %w", closeErr)
		}
		_ = portaudio.Terminate()
	})
	return err
}
