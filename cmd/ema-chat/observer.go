package main

import (
	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/ema-chat/core"
	"github.com/koscakluka/ema-chat/core/backend"
	"github.com/koscakluka/ema-chat/core/frames"
	"github.com/koscakluka/ema-chat/core/voiceinput"
	"github.com/koscakluka/ema-chat/core/voiceoutput"
)

// conversationChangedMsg is sent whenever the orchestrator reports progress.
// The model re-renders from a snapshot.
type conversationChangedMsg struct{}

type turnFailedMsg struct {
	err error
}

type listeningChangedMsg struct {
	listening bool
}

type interimMsg struct {
	transcript string
}

// noticeMsg is a transient status line.
type noticeMsg struct {
	text string
}

type submitResultMsg struct {
	text string
	err  error
}

type backendStatusMsg struct {
	ready        bool
	defaultModel string
	models       int
	server       backend.ServerStats
	err          error
}

// observer forwards callbacks from the conversation and voice components to
// the bubbletea program. Send blocks until the event loop takes the message,
// so callers must never run on the event loop itself.
type observer struct {
	program *tea.Program
}

func (o *observer) send(msg tea.Msg) {
	if o.program != nil {
		o.program.Send(msg)
	}
}

func (o *observer) orchestratorOptions() []orchestration.OrchestratorOption {
	return []orchestration.OrchestratorOption{
		orchestration.WithStateChangedCallback(func(orchestration.State) {
			o.send(conversationChangedMsg{})
		}),
		orchestration.WithTurnStartedCallback(func(string) {
			o.send(conversationChangedMsg{})
		}),
		orchestration.WithResponseCallback(func(string) {
			o.send(conversationChangedMsg{})
		}),
		orchestration.WithResponseEndCallback(func(string, *frames.Metrics) {
			o.send(conversationChangedMsg{})
		}),
		orchestration.WithTurnFailedCallback(func(_ string, err error) {
			o.send(turnFailedMsg{err: err})
		}),
	}
}

func (o *observer) voiceInputOptions() []voiceinput.Option {
	return []voiceinput.Option{
		voiceinput.WithInterimCallback(func(transcript string) {
			o.send(interimMsg{transcript: transcript})
		}),
		voiceinput.WithErrorCallback(func(err *voiceinput.RecognitionError) {
			o.send(noticeMsg{text: err.Category.Message()})
		}),
	}
}

func (o *observer) voiceOutputOptions() []voiceoutput.Option {
	return []voiceoutput.Option{
		voiceoutput.WithErrorCallback(func(*voiceoutput.SynthesisError) {
			o.send(noticeMsg{text: "Speech output failed."})
		}),
	}
}
