package orchestration

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-chat/core/backend"
	"github.com/koscakluka/ema-chat/core/events"
	"github.com/koscakluka/ema-chat/core/texttospeech"
	"golang.org/x/text/language"
)

func frame(record string) string {
	return "data: " + record + "\n\n"
}

func staticStream(content string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(content)), nil
	}
}

type backendStub struct {
	mu sync.Mutex

	sessionID  string
	sessionErr error
	sessions   []backend.SessionRequest
	// streams are handed out in order, the last one is reused.
	streams  []func() (io.ReadCloser, error)
	requests []backend.ChatRequest
}

func (b *backendStub) CreateSession(_ context.Context, request backend.SessionRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = append(b.sessions, request)
	if b.sessionErr != nil {
		return "", b.sessionErr
	}
	return b.sessionID, nil
}

func (b *backendStub) SendTurn(_ context.Context, request backend.ChatRequest) (io.ReadCloser, error) {
	b.mu.Lock()
	b.requests = append(b.requests, request)
	index := min(len(b.requests), len(b.streams)) - 1
	stream := b.streams[index]
	b.mu.Unlock()
	return stream()
}

func (b *backendStub) chatRequests() []backend.ChatRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.ChatRequest(nil), b.requests...)
}

func (b *backendStub) sessionRequests() []backend.SessionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.SessionRequest(nil), b.sessions...)
}

type spokenUtterance struct {
	text  string
	voice texttospeech.Voice
}

type synthesizerStub struct {
	mu     sync.Mutex
	spoken []spokenUtterance
}

func (s *synthesizerStub) Voices() []texttospeech.Voice {
	return []texttospeech.Voice{
		{Name: "english", Locale: language.MustParse("en-US")},
		{Name: "hindi", Locale: language.MustParse("hi-IN")},
	}
}

func (s *synthesizerStub) Speak(_ context.Context, text string, voice texttospeech.Voice, _ ...texttospeech.SpeechOption) (texttospeech.Playback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, spokenUtterance{text: text, voice: voice})
	return playbackStub{}, nil
}

func (s *synthesizerStub) utterances() []spokenUtterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spokenUtterance(nil), s.spoken...)
}

type playbackStub struct{}

func (playbackStub) Cancel() error { return nil }

type voiceInputStub struct {
	mu    sync.Mutex
	stops int
}

func (v *voiceInputStub) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stops++
	return nil
}

func (v *voiceInputStub) stopCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stops
}

// manualTimers replaces the settle timer so tests decide when it fires.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	callback func()
	stopped  bool
	fired    bool
}

func (m *manualTimers) afterFunc(_ time.Duration, callback func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	timer := &manualTimer{callback: callback}
	m.timers = append(m.timers, timer)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		active := !timer.stopped && !timer.fired
		timer.stopped = true
		return active
	}
}

func (m *manualTimers) fire() {
	m.mu.Lock()
	var due []func()
	for _, timer := range m.timers {
		if !timer.stopped && !timer.fired {
			timer.fired = true
			due = append(due, timer.callback)
		}
	}
	m.mu.Unlock()

	for _, callback := range due {
		callback()
	}
}

func (m *manualTimers) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := 0
	for _, timer := range m.timers {
		if !timer.stopped && !timer.fired {
			pending++
		}
	}
	return pending
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) add(event events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) kinds() []events.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]events.Kind, 0, len(l.events))
	for _, event := range l.events {
		kinds = append(kinds, event.Kind())
	}
	return kinds
}

func (l *eventLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	var states []State
	for _, event := range l.events {
		if changed, ok := event.(events.StateChanged); ok {
			states = append(states, State(changed.To))
		}
	}
	return states
}

type harness struct {
	orchestrator *Orchestrator
	timers       *manualTimers
	events       *eventLog
	states       chan State
}

func newHarness(t *testing.T, opts ...OrchestratorOption) *harness {
	t.Helper()

	h := &harness{
		timers: &manualTimers{},
		events: &eventLog{},
		states: make(chan State, 64),
	}
	opts = append(opts,
		WithStateChangedCallback(func(state State) { h.states <- state }),
		WithEventHandler(h.events.add),
	)
	h.orchestrator = NewOrchestrator(opts...)
	h.orchestrator.afterFunc = h.timers.afterFunc
	t.Cleanup(h.orchestrator.Close)

	return h
}

func (h *harness) waitForState(t *testing.T, want State) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case state := <-h.states:
			if state == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %q, last seen states %v", want, h.events.states())
		}
	}
}

// waitForSettled waits for Idle, or Listening when voice input is active.
func (h *harness) waitForSettled(t *testing.T) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case state := <-h.states:
			if state == StateIdle || state == StateListening {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for the conversation to settle, last seen states %v", h.events.states())
		}
	}
}

func assertStates(t *testing.T, got []State, want ...State) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected states %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected states %v, got %v", want, got)
		}
	}
}
