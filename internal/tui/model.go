// Package tui renders a game session in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/reality-quest/core/game"
)

const effectDuration = 1500 * time.Millisecond

// Controller is the part of the orchestrator the screen drives.
type Controller interface {
	StartGame(ctx context.Context) error
	HandleCapture(ctx context.Context) error
	RetryFromError(ctx context.Context) error
	BackToMenu(ctx context.Context) error
	StartRecall(ctx context.Context) error
}

// Typist accepts typed lines in place of speech.
type Typist interface {
	Listening() bool
	Submit(text string) error
}

// StateMsg carries a state change from the orchestrator.
type StateMsg struct {
	State    game.State
	Previous game.State
}

// EffectMsg asks the screen to show a visual effect for a moment.
type EffectMsg struct {
	Name string
}

// AvatarMsg carries a new portrait of the character drawn after the player
// spoke.
type AvatarMsg struct {
	ImageURL string
}

// MemoryIllustrationMsg carries the drawing of the memory being talked about.
// An empty ImageURL means the drawing is still on its way.
type MemoryIllustrationMsg struct {
	ImageURL string
	Caption  string
}

type effectDoneMsg struct{ seq int }

type actionResultMsg struct {
	action string
	err    error
}

type Model struct {
	ctx        context.Context
	controller Controller
	typist     Typist

	state   game.State
	spinner spinner.Model
	input   textinput.Model
	typing  bool

	// illustration is the newest drawing, kept until the next photo is judged.
	illustration string
	avatar       string
	recalling    bool
	memory       MemoryIllustrationMsg

	busy      string
	lastErr   string
	effect    string
	effectSeq int
	width     int
}

type Option func(*Model)

func WithTypist(typist Typist) Option {
	return func(m *Model) { m.typist = typist }
}

func New(ctx context.Context, controller Controller, initial game.State, opts ...Option) Model {
	input := textinput.New()
	input.Placeholder = "ジェミー君に話しかける"
	input.CharLimit = 200

	m := Model{
		ctx:        ctx,
		controller: controller,
		state:      initial,
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
		input:      input,
		width:      72,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-8, 10)
		return m, nil

	case StateMsg:
		m.state = msg.State
		if url := msg.State.LastIllustrationURL; url != nil && !sameURL(url, msg.Previous.LastIllustrationURL) {
			m.illustration = *url
		}
		switch msg.State.Phase {
		case game.PhaseMenu, game.PhaseValidating:
			m.illustration = ""
		}
		if msg.State.Phase != game.PhaseMenu {
			m.recalling = false
		}
		return m, nil

	case AvatarMsg:
		m.avatar = msg.ImageURL
		return m, nil

	case MemoryIllustrationMsg:
		m.memory = msg
		return m, nil

	case EffectMsg:
		m.effectSeq++
		m.effect = msg.Name
		seq := m.effectSeq
		return m, tea.Tick(effectDuration, func(time.Time) tea.Msg { return effectDoneMsg{seq: seq} })

	case effectDoneMsg:
		if msg.seq == m.effectSeq {
			m.effect = ""
		}
		return m, nil

	case actionResultMsg:
		if m.busy == msg.action {
			m.busy = ""
		}
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("%s: %v", msg.action, msg.err)
		}
		switch {
		case msg.action == "recall" && msg.err == nil && m.state.Phase == game.PhaseMenu:
			m.recalling = true
		case msg.action == "menu":
			m.recalling = false
			m.memory = MemoryIllustrationMsg{}
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.typing {
			return m.updateTyping(msg)
		}
		return m.updateKeys(msg)
	}

	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	view := game.ViewOf(m.state)

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "enter", "s":
		if m.state.Phase == game.PhaseMenu || m.state.Phase == game.PhaseError {
			return m.run("start", m.controller.StartGame)
		}

	case "c", " ":
		if view.CaptureEnabled {
			return m.run("capture", m.controller.HandleCapture)
		}

	case "r":
		if m.state.Phase == game.PhaseError {
			return m.run("retry", m.controller.RetryFromError)
		}

	case "p":
		if m.state.Phase == game.PhaseMenu && !m.recalling {
			return m.run("recall", m.controller.StartRecall)
		}

	case "m", "esc":
		if m.state.Phase != game.PhaseMenu || m.recalling {
			m.busy = ""
			return m.run("menu", m.controller.BackToMenu)
		}

	case "t":
		if m.typist != nil && m.talking() {
			m.typing = true
			m.input.SetValue("")
			return m, m.input.Focus()
		}
	}
	return m, nil
}

func (m Model) updateTyping(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.typing = false
		m.input.Blur()
		return m, nil
	case "enter":
		text := m.input.Value()
		m.typing = false
		m.input.Blur()
		m.input.SetValue("")
		if err := m.typist.Submit(text); err != nil {
			m.lastErr = fmt.Sprintf("say: %v", err)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) talking() bool {
	return m.state.Phase != game.PhaseMenu || m.recalling
}

// run starts action in the background; only one action runs at a time.
func (m Model) run(action string, fn func(context.Context) error) (tea.Model, tea.Cmd) {
	if m.busy != "" {
		return m, nil
	}
	m.busy = action
	m.lastErr = ""
	ctx := m.ctx
	return m, func() tea.Msg {
		return actionResultMsg{action: action, err: fn(ctx)}
	}
}

func (m Model) View() string {
	var sections []string
	sections = append(sections, titleStyle.Render("Reality Quest")+"  "+phaseStyle.Render(string(m.state.Phase)))

	view := game.ViewOf(m.state)
	if status := m.statusLine(view); status != "" {
		sections = append(sections, status)
	}
	if m.effect != "" {
		sections = append(sections, effectStyle.Render(effectLabel(m.effect)))
	}
	if m.avatar != "" && m.talking() {
		sections = append(sections, mutedStyle.Render("ジェミー君の姿: "+illustrationKind(m.avatar)))
	}
	if m.recalling {
		sections = append(sections, m.recallPanel())
	}
	if m.illustration != "" {
		sections = append(sections, successStyle.Render("イラスト: "+illustrationKind(m.illustration)))
	}
	if view.ShowRequestPanel && m.state.CurrentRequest != nil {
		sections = append(sections, m.requestPanel())
	}
	if view.ShowErrorBanner {
		sections = append(sections, errorStyle.Render("うまくいかなかったみたい。r でやり直し、m でメニューへ。"))
	}
	if line := m.conversationLine(); line != "" {
		sections = append(sections, line)
	}
	sections = append(sections, mutedStyle.Render(fmt.Sprintf(
		"集めたジェミー: %d  思い出: %d  リクエスト: %d",
		len(m.state.CollectedGemies), len(m.state.Memories), len(m.state.RequestHistory))))
	if m.lastErr != "" {
		sections = append(sections, errorStyle.Render(wrapText(m.lastErr, m.width)))
	}
	if m.typing {
		sections = append(sections, m.input.View())
	}
	sections = append(sections, helpStyle.Render(m.help(view)))

	return strings.Join(sections, "\n\n") + "\n"
}

func (m Model) statusLine(view game.View) string {
	if view.StatusMessage == "" {
		if m.state.Phase == game.PhaseMenu {
			return "ジェミー君が待っているよ。"
		}
		return ""
	}
	message := toneStyle(view.StatusTone).Render(view.StatusMessage)
	if view.ShowLoading || m.busy != "" {
		return m.spinner.View() + " " + message
	}
	return message
}

func (m Model) requestPanel() string {
	request := m.state.CurrentRequest
	lines := []string{
		requestStyle.Render(wrapText(request.Prompt, m.width-6)),
	}

	if judge := m.state.LastJudge; judge != nil && m.state.Phase == game.PhaseWaitingCapture && !judge.Passed {
		lines = append(lines,
			mutedStyle.Render(wrapText("ヒント: "+request.HintPrompt, m.width-6)),
			mutedStyle.Render(wrapText("判定: "+judge.Reason, m.width-6)))
	}
	if judge := m.state.LastJudge; judge != nil && judge.Passed && m.state.Phase == game.PhaseReaction {
		lines = append(lines, successStyle.Render(wrapText("見つけたもの: "+strings.Join(judge.MatchedObjects, "、"), m.width-6)))
	}
	return panelStyle.Width(max(m.width-2, 20)).Render(strings.Join(lines, "\n"))
}

func (m Model) recallPanel() string {
	lines := []string{requestStyle.Render("思い出をふりかえっています")}
	switch {
	case m.memory.ImageURL != "":
		lines = append(lines,
			mutedStyle.Render(wrapText(m.memory.Caption, m.width-6)),
			mutedStyle.Render("イラスト: "+illustrationKind(m.memory.ImageURL)))
	case m.memory.Caption != "":
		lines = append(lines, mutedStyle.Render(wrapText(m.memory.Caption, m.width-6)), m.spinner.View()+" 絵を描いています")
	}
	return panelStyle.Width(max(m.width-2, 20)).Render(strings.Join(lines, "\n"))
}

func (m Model) conversationLine() string {
	conversation := m.state.Conversation
	var parts []string
	switch {
	case conversation.IsSpeaking:
		parts = append(parts, "話しています")
	case conversation.IsListening:
		parts = append(parts, "聞いています")
	}
	if conversation.LastTranscript != "" {
		parts = append(parts, "「"+conversation.LastTranscript+"」")
	}
	if conversation.LastError != "" {
		parts = append(parts, errorStyle.Render(conversation.LastError))
	}
	return wrapText(strings.Join(parts, "  "), m.width)
}

func (m Model) help(view game.View) string {
	var keys []string
	switch m.state.Phase {
	case game.PhaseMenu:
		keys = append(keys, "enter: はじめる")
		if !m.recalling {
			keys = append(keys, "p: 思い出を話す")
		}
	case game.PhaseError:
		keys = append(keys, "r: やり直す", "enter: はじめから")
	}
	if view.CaptureEnabled {
		keys = append(keys, "c: 写真を見せる")
	}
	if m.typist != nil && m.talking() {
		keys = append(keys, "t: 話しかける")
	}
	if m.talking() {
		keys = append(keys, "m: メニュー")
	}
	keys = append(keys, "q: 終了")
	return strings.Join(keys, " • ")
}

func effectLabel(name string) string {
	if name == "seal-break" {
		return "✦ 封印が解けた！ ✦"
	}
	return "✦ " + name + " ✦"
}

func sameURL(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// illustrationKind names the media type of a data URL.
func illustrationKind(url string) string {
	if mediaType, _, ok := strings.Cut(strings.TrimPrefix(url, "data:"), ";"); ok && strings.HasPrefix(url, "data:") {
		return mediaType
	}
	return url
}
