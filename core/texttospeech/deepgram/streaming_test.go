package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/reality-quest/core/texttospeech"
)

func newSpeakServer(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "token test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.URL.Query().Get("model"); got != string(VoiceThalia) {
			t.Errorf("unexpected model %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestSpeechSessionCollectsAudioUntilFlushed(t *testing.T) {
	url := newSpeakServer(t, func(conn *websocket.Conn) {
		var speak speakMessage
		if err := conn.ReadJSON(&speak); err != nil || speak.Type != "Speak" || speak.Text != "hello" {
			t.Errorf("expected speak message, got %+v (%v)", speak, err)
			return
		}
		var flush websocketMessage
		if err := conn.ReadJSON(&flush); err != nil || flush.Type != "Flush" {
			t.Errorf("expected flush message, got %+v (%v)", flush, err)
			return
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2})
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{3, 4})
		flushed, _ := json.Marshal(websocketMessage{Type: "Flushed"})
		_ = conn.WriteMessage(websocket.TextMessage, flushed)
		_, _, _ = conn.ReadMessage()
	})

	client, err := NewTextToSpeechClient(VoiceThalia, WithAPIKey("test-key"), WithBaseURL(url))
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	var mu sync.Mutex
	var received []byte
	ended := make(chan struct{})
	session, err := client.NewSpeechSession(context.Background(),
		texttospeech.WithSpeechAudioCallback(func(chunk []byte) {
			mu.Lock()
			received = append(received, chunk...)
			mu.Unlock()
		}),
		texttospeech.WithSpeechEndedCallback(func() { close(ended) }),
		texttospeech.WithErrorCallback(func(err error) { t.Errorf("unexpected session error: %v", err) }),
	)
	if err != nil {
		t.Fatalf("unexpected session error: %v", err)
	}
	defer session.Close()

	if err := session.SendText("hello"); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for speech end")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string([]byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected audio %v", received)
	}
}

func TestSpeechSessionReportsDroppedConnection(t *testing.T) {
	url := newSpeakServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
		_ = conn.UnderlyingConn().Close()
	})

	client, err := NewTextToSpeechClient("", WithAPIKey("test-key"), WithBaseURL(url))
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	failed := make(chan error, 1)
	session, err := client.NewSpeechSession(context.Background(),
		texttospeech.WithErrorCallback(func(err error) { failed <- err }),
	)
	if err != nil {
		t.Fatalf("unexpected session error: %v", err)
	}
	defer session.Close()

	_ = session.SendText("hello")

	select {
	case err := <-failed:
		if err == nil {
			t.Fatalf("expected an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for error callback")
	}
}

func TestParseVoice(t *testing.T) {
	if voice, err := ParseVoice(""); err != nil || voice != defaultVoice {
		t.Fatalf("expected default voice, got %q (%v)", voice, err)
	}
	if _, err := ParseVoice("robot"); err == nil {
		t.Fatalf("expected unknown voice to be rejected")
	}
}
