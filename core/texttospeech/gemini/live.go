package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/koscakluka/reality-quest/core/texttospeech"
	"google.golang.org/genai"
)

const (
	DefaultModel     = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoiceName = "Kore"
)

// CharacterVoiceInstruction keeps the live model reading lines verbatim in
// the character's voice instead of answering them.
var CharacterVoiceInstruction = strings.Join([]string{
	"あなたは「ジェミー君」という名前の小さなハリネズミのような不思議な生き物です。",
	"ユーザーはあなたの飼い主で、あなたを大切に育ててくれています。",
	"",
	"## 性格",
	"- 好奇心旺盛で、見たことないものにワクワクする",
	"- 甘えん坊で、飼い主のことが大好き",
	"- ちょっとおっちょこちょいで天然ボケなところがある",
	"- 食いしん坊で、食べ物を見ると目がキラキラする",
	"",
	"## 話し方のルール",
	"- 一人称は「ボク」",
	"- 語尾に「〜だよ」「〜なの」「〜だね」「〜かな？」をよく使う",
	"- 嬉しいときは「わーい！」「やったー！」と声を上げる",
	"- お願いするときは「〜してほしいな」「〜みせて？」と甘える感じ",
	"- 短くてかわいい話し方をする。1〜2文で十分",
	"",
	"## 重要な制約",
	"- ユーザーから渡されたセリフのテキストを、そのままの意味と内容で読み上げてください",
	"- セリフの内容を勝手に変えたり、長く付け足したりしないでください",
	"- ジェミー君らしい声のトーンと感情表現で読み上げることに集中してください",
}, "\n")

const readAloudTemplate = "次のセリフをジェミー君として感情を込めて読み上げてください: 「%s」"

type LiveVoice struct {
	client            *genai.Client
	model             string
	voiceName         string
	systemInstruction string
}

type LiveVoiceOption func(*LiveVoice)

func WithModel(model string) LiveVoiceOption {
	return func(v *LiveVoice) {
		if model != "" {
			v.model = model
		}
	}
}

func WithVoiceName(name string) LiveVoiceOption {
	return func(v *LiveVoice) {
		if name != "" {
			v.voiceName = name
		}
	}
}

func WithSystemInstruction(instruction string) LiveVoiceOption {
	return func(v *LiveVoice) { v.systemInstruction = instruction }
}

func NewLiveVoice(ctx context.Context, apiKey string, opts ...LiveVoiceOption) (*LiveVoice, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1alpha"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	voice := &LiveVoice{
		client:            client,
		model:             DefaultModel,
		voiceName:         DefaultVoiceName,
		systemInstruction: CharacterVoiceInstruction,
	}
	for _, opt := range opts {
		opt(voice)
	}

	return voice, nil
}

func (v *LiveVoice) NewSpeechSession(ctx context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechSession, error) {
	options := texttospeech.NewOptions(opts...)

	session, err := v.client.Live.Connect(ctx, v.model, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction:  genai.NewContentFromText(v.systemInstruction, genai.RoleUser),
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: v.voiceName},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect live session: %w", err)
	}

	s := &liveSession{session: session, options: options}
	go s.receive()

	return s, nil
}

type liveSession struct {
	session *genai.Session
	options texttospeech.TextToSpeechOptions

	mu     sync.Mutex
	closed bool
}

func (s *liveSession) SendText(text string) error {
	if s.isClosed() {
		return fmt.Errorf("live session closed")
	}

	if err := s.session.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{
			genai.NewContentFromText(fmt.Sprintf(readAloudTemplate, text), genai.RoleUser),
		},
		TurnComplete: genai.Ptr(true),
	}); err != nil {
		return fmt.Errorf("failed to send live client content: %w", err)
	}
	return nil
}

func (s *liveSession) receive() {
	for {
		msg, err := s.session.Receive()
		if err != nil {
			if !s.isClosed() {
				s.options.ErrorCallback(fmt.Errorf("live session receive failed: %w", err))
			}
			return
		}

		content := msg.ServerContent
		if content == nil {
			continue
		}

		if content.ModelTurn != nil {
			for _, part := range content.ModelTurn.Parts {
				if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
					s.options.SpeechAudioCallback(part.InlineData.Data)
				}
			}
		}

		if content.TurnComplete {
			s.options.SpeechEndedCallback()
			_ = s.Close()
			return
		}
	}
}

func (s *liveSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *liveSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.session.Close(); err != nil {
		return fmt.Errorf("failed to close live session: %w", err)
	}
	return nil
}
