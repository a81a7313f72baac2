package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-chat/core"
	"github.com/muesli/reflow/wordwrap"
)

// Layout, everything but the viewport is a single line.
const (
	headerHeight  = 1
	footerHeight  = 2
	inputHeight   = 1
	messageIndent = 2
	minWrapWidth  = 20
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	listeningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
)

// conversation is the part of the orchestrator the UI drives.
type conversation interface {
	Submit(ctx context.Context, text string) error
	Snapshot() orchestration.Conversation
	Stats() orchestration.Stats
}

// voiceControls is nil when no audio device is configured.
type voiceControls interface {
	ToggleListening(ctx context.Context) error
	SpeechEnabled() bool
	SetSpeechEnabled(enabled bool)
	StopSpeaking()
}

// model renders the conversation from orchestrator snapshots. Anything that
// may call back into the observer runs inside a command, never in Update.
type model struct {
	ctx          context.Context
	chat         conversation
	voice        voiceControls
	checkBackend func(context.Context) backendStatusMsg

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	ready    bool
	width    int

	snapshot orchestration.Conversation
	interim  string
	notice   string
	backend  string
}

func newModel(ctx context.Context, chat conversation, voice voiceControls, checkBackend func(context.Context) backendStatusMsg) *model {
	input := textinput.New()
	input.Placeholder = "Ask something..."
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Focus()

	return &model{
		ctx:          ctx,
		chat:         chat,
		voice:        voice,
		checkBackend: checkBackend,
		input:        input,
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot)),
		backend:      "connecting...",
		snapshot:     chat.Snapshot(),
	}
}

func (m *model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick}
	if m.checkBackend != nil {
		ctx, check := m.ctx, m.checkBackend
		cmds = append(cmds, func() tea.Msg { return check(ctx) })
	}
	return tea.Batch(cmds...)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case conversationChangedMsg:
		m.refresh()
		return m, nil

	case turnFailedMsg:
		m.notice = "The reply failed."
		m.refresh()
		return m, nil

	case listeningChangedMsg:
		if !msg.listening {
			m.interim = ""
		}
		m.refresh()
		return m, nil

	case interimMsg:
		m.interim = msg.transcript
		return m, nil

	case noticeMsg:
		m.notice = msg.text
		return m, nil

	case submitResultMsg:
		if msg.err != nil {
			m.notice = submitNotice(msg.err)
			if m.input.Value() == "" {
				m.input.SetValue(msg.text)
				m.input.CursorEnd()
			}
		}
		m.refresh()
		return m, nil

	case backendStatusMsg:
		m.backend = describeBackend(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "enter":
		return m, m.submit()
	case "ctrl+r":
		return m, m.toggleListening()
	case "ctrl+s":
		return m, m.toggleSpeech()
	case "esc":
		return m, m.stopSpeaking()
	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.Reset()
	m.notice = ""

	ctx, chat := m.ctx, m.chat
	return func() tea.Msg {
		return submitResultMsg{text: text, err: chat.Submit(ctx, text)}
	}
}

func (m *model) toggleListening() tea.Cmd {
	if m.voice == nil {
		m.notice = "Voice input is not configured."
		return nil
	}
	ctx, voice := m.ctx, m.voice
	return func() tea.Msg {
		if err := voice.ToggleListening(ctx); err != nil {
			return noticeMsg{text: err.Error()}
		}
		return nil
	}
}

func (m *model) toggleSpeech() tea.Cmd {
	if m.voice == nil {
		m.notice = "Voice output is not configured."
		return nil
	}
	enabled := !m.voice.SpeechEnabled()
	voice := m.voice
	return func() tea.Msg {
		voice.SetSpeechEnabled(enabled)
		if enabled {
			return noticeMsg{text: "Speech output on."}
		}
		return noticeMsg{text: "Speech output off."}
	}
}

func (m *model) stopSpeaking() tea.Cmd {
	if m.voice == nil {
		return nil
	}
	voice := m.voice
	return func() tea.Msg {
		voice.StopSpeaking()
		return nil
	}
}

func (m *model) resize(width, height int) {
	m.width = width
	viewportHeight := max(height-headerHeight-footerHeight-inputHeight, 1)
	if !m.ready {
		m.viewport = viewport.New(width, viewportHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = viewportHeight
	}
	m.input.Width = max(width-len(m.input.Prompt)-1, 1)
}

// refresh takes a new snapshot and re-renders the viewport, following the
// newest message unless the user scrolled up.
func (m *model) refresh() {
	m.snapshot = m.chat.Snapshot()
	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom()
	m.viewport.SetContent(renderConversation(m.snapshot, m.width))
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *model) View() string {
	if !m.ready {
		return "Starting..."
	}

	header := titleStyle.Render("ema") + " " + mutedStyle.Render(m.backend)
	return strings.Join([]string{
		header,
		m.viewport.View(),
		m.statusLine(),
		m.noticeLine(),
		m.input.View(),
	}, "\n")
}

func (m *model) statusLine() string {
	state := m.snapshot.State
	var status string
	switch {
	case state.Busy():
		status = m.spinner.View() + " " + stateLabel(state)
	case state == orchestration.StateListening:
		status = listeningStyle.Render("● " + stateLabel(state))
	case state == orchestration.StateError:
		status = errorStyle.Render(stateLabel(state))
	default:
		status = stateLabel(state)
	}

	stats := m.chat.Stats()
	parts := []string{status}
	if stats.TotalTurns > 0 {
		parts = append(parts, fmt.Sprintf("%d turns", stats.TotalTurns))
	}
	if stats.RecentSamples > 0 {
		parts = append(parts, fmt.Sprintf("avg %.2fs", stats.AvgLatency))
		if stats.AvgTokensPerSec > 0 {
			parts = append(parts, fmt.Sprintf("%.0f tok/s", stats.AvgTokensPerSec))
		}
	}
	if stats.FailedTurns > 0 {
		parts = append(parts, fmt.Sprintf("%.0f%% failed", stats.ErrorRate*100))
	}
	if m.voice != nil {
		speech := "speech off"
		if m.voice.SpeechEnabled() {
			speech = "speech on"
		}
		parts = append(parts, speech)
	}
	return strings.Join(parts, mutedStyle.Render(" | "))
}

func (m *model) noticeLine() string {
	switch {
	case m.interim != "":
		return listeningStyle.Render("heard: ") + m.interim
	case m.notice != "":
		return mutedStyle.Render(m.notice)
	}
	return mutedStyle.Render("enter send | ctrl+r mic | ctrl+s speech | esc stop speaking | ctrl+c quit")
}

func stateLabel(state orchestration.State) string {
	switch state {
	case orchestration.StateListening:
		return "Listening"
	case orchestration.StateThinking:
		return "Thinking"
	case orchestration.StateStreamingText:
		return "Typing"
	case orchestration.StateSpeaking:
		return "Speaking"
	case orchestration.StateError:
		return "Error"
	}
	return "Ready"
}

func describeBackend(status backendStatusMsg) string {
	var description string
	switch {
	case status.err != nil && !status.ready:
		return "backend unreachable"
	case !status.ready:
		return "backend not ready"
	case status.defaultModel != "":
		description = fmt.Sprintf("%s (%d models)", status.defaultModel, status.models)
	default:
		description = "backend ready"
	}

	if server := status.server; server.TotalRequests > 0 {
		description += fmt.Sprintf(", server avg %.2fs, %.0f%% errors over %d requests",
			server.AvgLatency, server.ErrorRate*100, server.TotalRequests)
	}
	return description
}

func renderConversation(snapshot orchestration.Conversation, width int) string {
	wrapWidth := max(width-messageIndent, minWrapWidth)

	var b strings.Builder
	for _, turn := range snapshot.Turns {
		writeTurn(&b, turn, wrapWidth)
	}
	if snapshot.Active != nil {
		writeTurn(&b, *snapshot.Active, wrapWidth)
	}
	return b.String()
}

func writeTurn(b *strings.Builder, turn orchestration.Turn, wrapWidth int) {
	b.WriteString(userStyle.Render("You") + "\n")
	b.WriteString(indent(wordwrap.String(turn.UserText, wrapWidth)) + "\n")

	reply := turn.Reply
	if reply == "" && turn.Status == orchestration.TurnPending {
		reply = "..."
	}
	reply = indent(wordwrap.String(reply, wrapWidth))
	if turn.Status == orchestration.TurnFailed {
		reply = errorStyle.Render(reply)
	}
	b.WriteString(assistantStyle.Render("Ema") + "\n")
	b.WriteString(reply + "\n")

	if metrics := turn.Metrics; metrics != nil {
		details := fmt.Sprintf("%.2fs", metrics.Latency)
		if metrics.TokensPerSec > 0 {
			details += fmt.Sprintf(", %.0f tok/s", metrics.TokensPerSec)
		}
		if turn.Language != "" {
			details += ", " + turn.Language.String()
		}
		b.WriteString(indent(mutedStyle.Render(details)) + "\n")
	}
	b.WriteString("\n")
}

func indent(text string) string {
	pad := strings.Repeat(" ", messageIndent)
	return pad + strings.ReplaceAll(text, "\n", "\n"+pad)
}
