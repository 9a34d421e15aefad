package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/reality-quest/core/speechtotext"
)

const keepAliveInterval = 5 * time.Second

type session struct {
	recognizer *Recognizer
	options    speechtotext.RecognitionOptions

	connMu      sync.Mutex
	conn        *websocket.Conn
	lastAudioAt time.Time

	closingMu sync.Mutex
	closing   bool

	cancel context.CancelFunc

	// read loop only
	accumulatedTranscript string
	unendedSegment        bool
}

func (r *Recognizer) openSession(ctx context.Context, options speechtotext.RecognitionOptions) (*session, error) {
	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return nil, fmt.Errorf("invalid encoding: %w", err)
	}

	conn, err := r.connectWebsocket(ctx, connectionOptions{
		sampleRate: encoding.SampleRate,
		encoding:   encoding.Format.Name(),
		language:   deepgramLanguage(options.Language),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		recognizer:  r,
		options:     options,
		conn:        conn,
		lastAudioAt: time.Now(),
		cancel:      cancel,
	}

	if err := r.input.StartCapture(sessionCtx, s.sendAudio); err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to start audio capture: %w", err)
	}

	go s.keepAlive(sessionCtx)
	go s.readAndProcessMessages()

	return s, nil
}

type connectionOptions struct {
	sampleRate int
	encoding   string
	language   string
}

func (r *Recognizer) connectWebsocket(ctx context.Context, options connectionOptions) (*websocket.Conn, error) {
	listenURL, err := url.Parse(r.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listen url: %w", err)
	}

	queryParams := listenURL.Query()
	queryParams.Set("encoding", options.encoding)
	queryParams.Set("sample_rate", strconv.Itoa(options.sampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", r.model)
	queryParams.Set("language", options.language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	queryParams.Set("vad_events", "true")
	listenURL.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + r.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

// deepgramLanguage maps a BCP 47 tag onto the codes the listen API accepts.
// Japanese is only served under its bare language code.
func deepgramLanguage(language string) string {
	if primary, _, _ := strings.Cut(language, "-"); primary == "ja" {
		return primary
	}
	return language
}

func (s *session) sendAudio(audio []byte) {
	if s.isClosing() {
		return
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.lastAudioAt = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		logger.Debug("failed to write audio to deepgram", "error", err)
	}
}

func (s *session) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastKeepAlive time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			idle := time.Since(s.lastAudioAt) >= time.Second && time.Since(lastKeepAlive) >= keepAliveInterval
			if idle {
				lastKeepAlive = time.Now()
				if err := s.conn.WriteJSON(controlMessage{Type: "KeepAlive"}); err != nil {
					logger.Debug("failed to send keep alive to deepgram", "error", err)
				}
			}
			s.connMu.Unlock()
		}
	}
}

type controlMessage struct {
	Type string `json:"type"`
}

// Stop stops feeding audio and asks Deepgram to flush; the server answers
// with the remaining results and closes the socket, which ends the session.
func (s *session) Stop() error {
	if !s.markClosing() {
		return nil
	}
	s.stopCapture()

	s.connMu.Lock()
	err := s.conn.WriteJSON(controlMessage{Type: string(api.TypeCloseStreamResponse)})
	s.connMu.Unlock()
	if err != nil {
		_ = s.conn.Close()
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	return nil
}

// Abort closes the socket without waiting for pending results.
func (s *session) Abort() error {
	s.markClosing()
	s.stopCapture()

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close deepgram socket: %w", err)
	}
	return nil
}

func (s *session) markClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	if s.closing {
		return false
	}
	s.closing = true
	return true
}

func (s *session) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

func (s *session) stopCapture() {
	if err := s.recognizer.input.StopCapture(); err != nil {
		logger.Debug("failed to stop audio capture", "error", err)
	}
}

func (s *session) readAndProcessMessages() {
	defer s.end()

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosing() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.options.ErrorCallback(fmt.Errorf("deepgram connection lost: %w", err))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			s.processMessage(msg)
		}
	}
}

func (s *session) end() {
	s.cancel()
	if s.markClosing() {
		s.stopCapture()
	}
	_ = s.conn.Close()
	s.recognizer.sessionEnded(s)
	s.options.EndCallback()
}

func (s *session) processMessage(msg []byte) {
	var parsedMsg controlMessage
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Debug("failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Debug("failed to unmarshal deepgram results", "error", err)
			return
		}

		transcript := ""
		if len(msgResp.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		}

		if !msgResp.IsFinal {
			if s.options.InterimResults && transcript != "" {
				s.options.InterimResultCallback(strings.TrimSpace(s.accumulatedTranscript + " " + transcript))
			}
			return
		}

		if transcript != "" {
			s.accumulatedTranscript += " " + transcript
		}
		if msgResp.SpeechFinal {
			s.onUtteranceEnded()
		}

	case api.TypeUtteranceEndResponse:
		if s.unendedSegment || s.accumulatedTranscript != "" {
			s.onUtteranceEnded()
		}

	case api.TypeSpeechStartedResponse:
		s.unendedSegment = true
	}
}

func (s *session) onUtteranceEnded() {
	s.unendedSegment = false
	transcript := strings.TrimSpace(s.accumulatedTranscript)
	s.accumulatedTranscript = ""
	if transcript == "" {
		return
	}

	s.options.ResultCallback(transcript)
	if !s.options.Continuous {
		if err := s.Stop(); err != nil {
			logger.Debug("failed to stop single utterance session", "error", err)
		}
	}
}
