package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/reality-quest/core/audio"
	"github.com/koscakluka/reality-quest/core/texttospeech"
)

type streamingRequest struct {
	ws *websocket.Conn
	mu sync.Mutex

	options texttospeech.TextToSpeechOptions

	closed   bool
	finished bool
}

func (c *TextToSpeechClient) newStreamingRequest(ctx context.Context, options texttospeech.TextToSpeechOptions) (*streamingRequest, error) {
	req := &streamingRequest{options: options}

	var err error
	if req.ws, err = c.connectWebsocket(ctx, options.EncodingInfo); err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	go req.processIncomingMessages()

	return req, nil
}

func (c *TextToSpeechClient) connectWebsocket(ctx context.Context, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	speakURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid speak url: %w", err)
	}

	urlValues := speakURL.Query()
	urlValues.Set("encoding", encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	urlValues.Set("model", string(c.voice))
	urlValues.Set("container", "none")
	speakURL.RawQuery = urlValues.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, speakURL.String(),
		http.Header{"Authorization": {"token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (r *streamingRequest) processIncomingMessages() {
	for {
		msgType, msg, err := r.ws.ReadMessage()
		if err != nil {
			r.mu.Lock()
			quiet := r.closed || r.finished
			r.mu.Unlock()
			if !quiet && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				r.options.ErrorCallback(fmt.Errorf("websocket read failed: %w", err))
			}
			_ = r.Close()
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(msg) > 0 {
				r.options.SpeechAudioCallback(msg)
			}
		case websocket.TextMessage:
			var parsedMsg websocketMessage
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.Debug("failed to unmarshal deepgram message", "error", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				r.mu.Lock()
				alreadyFinished := r.finished
				r.finished = true
				r.mu.Unlock()
				if !alreadyFinished {
					r.options.SpeechEndedCallback()
				}
				_ = r.Close()
				return
			case "Warning", "Error":
				logger.Warn("deepgram speak message", "type", parsedMsg.Type, "payload", string(msg))
			}
		}
	}
}

// SendText speaks text and immediately flushes so the server answers with
// Flushed once the audio for it has been sent.
func (r *streamingRequest) SendText(text string) error {
	if err := r.sendWebsocketMessage(speakMessage{Type: "Speak", Text: text}); err != nil {
		return fmt.Errorf("failed to send websocket speak message: %w", err)
	}
	if err := r.sendWebsocketMessage(flushMsg); err != nil {
		return fmt.Errorf("failed to send websocket flush message: %w", err)
	}
	return nil
}

func (r *streamingRequest) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	writeErr := r.ws.WriteJSON(closeMsg)
	if closeErr := r.ws.Close(); closeErr != nil && writeErr != nil {
		return fmt.Errorf("failed to close websocket: %w", errors.Join(writeErr, closeErr))
	}
	return nil
}

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	closeMsg = websocketMessage{Type: "Close"}
)

func (r *streamingRequest) sendWebsocketMessage(msg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.ws == nil {
		return fmt.Errorf("websocket connection closed")
	}

	if err := r.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}
