package orchestration

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/koscakluka/ema-chat/core/backend"
	"github.com/koscakluka/ema-chat/core/events"
	"github.com/koscakluka/ema-chat/core/frames"
	"github.com/koscakluka/ema-chat/core/language"
	"github.com/koscakluka/ema-chat/core/voiceoutput"
)

func TestSubmitStreamsReplyAndSpeaksItOnce(t *testing.T) {
	stream := frame(`{"type":"token","content":"Hi"}`) +
		frame(`{"type":"token","content":" there"}`) +
		frame(`{"type":"status","state":"complete","metrics":{"latency":0.42}}`)
	service := &backendStub{
		sessionID: "session-1",
		streams: []func() (io.ReadCloser, error){func() (io.ReadCloser, error) {
			return io.NopCloser(iotest.OneByteReader(strings.NewReader(stream))), nil
		}},
	}
	synthesizer := &synthesizerStub{}
	h := newHarness(t, WithBackend(service), WithSpeaker(voiceoutput.NewController(synthesizer)))

	if err := h.orchestrator.Submit(context.Background(), "  Hello "); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	h.waitForState(t, StateSpeaking)
	h.timers.fire()
	h.waitForState(t, StateIdle)
	h.orchestrator.Close()

	assertStates(t, h.events.states(), StateThinking, StateStreamingText, StateSpeaking, StateIdle)

	spoken := synthesizer.utterances()
	if len(spoken) != 1 {
		t.Fatalf("expected reply to be spoken exactly once, got %d", len(spoken))
	}
	if spoken[0].text != "Hi there" || spoken[0].voice.Name != "english" {
		t.Fatalf("expected %q in english, got %+v", "Hi there", spoken[0])
	}

	snapshot := h.orchestrator.Snapshot()
	if len(snapshot.Turns) != 1 || snapshot.Active != nil {
		t.Fatalf("expected a single finished turn, got %+v", snapshot)
	}
	turn := snapshot.Turns[0]
	if turn.UserText != "Hello" || turn.Reply != "Hi there" || turn.Status != TurnCompleted {
		t.Fatalf("unexpected turn %+v", turn)
	}
	if turn.Language != language.English {
		t.Fatalf("expected english reply, got %q", turn.Language)
	}
	if turn.Metrics == nil || turn.Metrics.Latency != 0.42 {
		t.Fatalf("expected latency 0.42 to be recorded, got %+v", turn.Metrics)
	}
	if snapshot.SessionID != "session-1" {
		t.Fatalf("expected session id to be kept, got %q", snapshot.SessionID)
	}

	requests := service.chatRequests()
	if len(requests) != 1 || requests[0].Message != "Hello" || requests[0].SessionID != "session-1" {
		t.Fatalf("unexpected chat requests %+v", requests)
	}
}

func TestSubmitEmitsEventsInOrder(t *testing.T) {
	service := &backendStub{streams: []func() (io.ReadCloser, error){staticStream(
		frame(`{"type":"status","state":"thinking"}`) +
			frame(`{"type":"token","content":"Hi"}`) +
			frame(`{"type":"token","content":"!"}`) +
			frame(`{"type":"status","state":"complete"}`),
	)}}
	h := newHarness(t, WithBackend(service), WithSpeaker(voiceoutput.NewController(&synthesizerStub{})))

	if err := h.orchestrator.Submit(context.Background(), "Hello"); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	h.waitForState(t, StateSpeaking)
	h.orchestrator.Close()

	expected := []events.Kind{
		events.KindTurnStarted,
		events.KindStateChanged,
		events.KindStateChanged,
		events.KindAssistantResponseSegment,
		events.KindAssistantResponseSegment,
		events.KindTurnCompleted,
		events.KindStateChanged,
		events.KindAssistantSpeechRequested,
		events.KindStateChanged,
	}
	kinds := h.events.kinds()
	if len(kinds) != len(expected) {
		t.Fatalf("expected events %v, got %v", expected, kinds)
	}
	for i := range expected {
		if kinds[i] != expected[i] {
			t.Fatalf("expected events %v, got %v", expected, kinds)
		}
	}
}

func TestThinkingBetweenTokensReturnsToThinking(t *testing.T) {
	service := &backendStub{streams: []func() (io.ReadCloser, error){staticStream(
		frame(`{"type":"token","content":"A"}`) +
			frame(`{"type":"status","state":"thinking"}`) +
			frame(`{"type":"token","content":"B"}`) +
			": keep-alive\n\n" +
			frame(`{"type":"status","state":"complete"}`),
	)}}
	h := newHarness(t, WithBackend(service), WithSpeaker(voiceoutput.NewController(&synthesizerStub{})))

	if err := h.orchestrator.Submit(context.Background(), "Hello"); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	h.waitForState(t, StateSpeaking)
	h.timers.fire()
	h.waitForState(t, StateIdle)

	assertStates(t, h.events.states(),
		StateThinking, StateStreamingText, StateThinking, StateStreamingText, StateSpeaking, StateIdle)

	turns := h.orchestrator.Snapshot().Turns
	if len(turns) != 1 || turns[0].Reply != "AB" || turns[0].Status != TurnCompleted {
		t.Fatalf("expected completed reply %q, got %+v", "AB", turns)
	}
}

func TestSubmitRejectedWhileTurnIsActive(t *testing.T) {
	reader, writer := io.Pipe()
	service := &backendStub{streams: []func() (io.ReadCloser, error){
		func() (io.ReadCloser, error) { return reader, nil },
	}}
	h := newHarness(t, WithBackend(service))

	if err := h.orchestrator.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	if _, err := writer.Write([]byte(frame(`{"type":"token","content":"partial"}`))); err != nil {
		t.Fatalf("failed to write stream: %v", err)
	}
	h.waitForState(t, StateStreamingText)

	if err := h.orchestrator.Submit(context.Background(), "second"); !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("expected %v while streaming, got %v", ErrTurnInProgress, err)
	}
	if active := h.orchestrator.Snapshot().Active; active == nil || active.Reply != "partial" || active.UserText != "first" {
		t.Fatalf("expected rejected submit to leave the live turn untouched, got %+v", active)
	}

	if _, err := writer.Write([]byte(frame(`{"type":"status","state":"complete"}`))); err != nil {
		t.Fatalf("failed to write stream: %v", err)
	}
	_ = writer.Close()
	h.waitForState(t, StateSpeaking)

	if err := h.orchestrator.Submit(context.Background(), "third"); !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("expected %v while speaking, got %v", ErrTurnInProgress, err)
	}

	h.timers.fire()
	h.waitForState(t, StateIdle)

	if requests := service.chatRequests(); len(requests) != 1 {
		t.Fatalf("expected rejected submits not to reach the backend, got %d requests", len(requests))
	}
	if turns := h.orchestrator.Snapshot().Turns; len(turns) != 1 || turns[0].Reply != "partial" {
		t.Fatalf("expected a single turn with the streamed reply, got %+v", turns)
	}
}

func TestStreamFailuresKeepPartialReply(t *testing.T) {
	testCases := []struct {
		name          string
		stream        string
		expectedReply string
		assertErr     func(t *testing.T, err error)
	}{
		{
			name: "error status",
			stream: frame(`{"type":"token","content":"Partial"}`) +
				frame(`{"type":"status","state":"error","message":"model overloaded"}`),
			expectedReply: "Partial\n\n[error: model overloaded]",
			assertErr: func(t *testing.T, err error) {
				var responseErr *ResponseError
				if !errors.As(err, &responseErr) || responseErr.Message != "model overloaded" {
					t.Fatalf("expected response error, got %v", err)
				}
			},
		},
		{
			name: "malformed frame",
			stream: frame(`{"type":"token","content":"Partial"}`) +
				frame(`{not json}`) +
				frame(`{"type":"token","content":" never shown"}`),
			expectedReply: "Partial\n\n[error: received a malformed response]",
			assertErr: func(t *testing.T, err error) {
				var syntaxErr *frames.SyntaxError
				if !errors.As(err, &syntaxErr) {
					t.Fatalf("expected syntax error, got %v", err)
				}
			},
		},
		{
			name:          "stream ends without terminal status",
			stream:        frame(`{"type":"token","content":"Partial"}`),
			expectedReply: "Partial\n\n[error: the response ended unexpectedly]",
			assertErr: func(t *testing.T, err error) {
				var transportErr *backend.TransportError
				if !errors.As(err, &transportErr) || !errors.Is(err, ErrIncompleteStream) {
					t.Fatalf("expected incomplete stream transport error, got %v", err)
				}
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			service := &backendStub{streams: []func() (io.ReadCloser, error){staticStream(testCase.stream)}}
			synthesizer := &synthesizerStub{}
			h := newHarness(t, WithBackend(service), WithSpeaker(voiceoutput.NewController(synthesizer)))

			if err := h.orchestrator.Submit(context.Background(), "Hello"); err != nil {
				t.Fatalf("expected submit to succeed, got %v", err)
			}
			h.waitForState(t, StateError)
			h.timers.fire()
			h.waitForState(t, StateIdle)
			h.orchestrator.Close()

			assertStates(t, h.events.states(), StateThinking, StateStreamingText, StateError, StateIdle)

			turns := h.orchestrator.Snapshot().Turns
			if len(turns) != 1 {
				t.Fatalf("expected the failed turn in history, got %+v", turns)
			}
			if turns[0].Reply != testCase.expectedReply || turns[0].Status != TurnFailed {
				t.Fatalf("expected failed turn with reply %q, got %+v", testCase.expectedReply, turns[0])
			}
			testCase.assertErr(t, turns[0].Err)

			if len(synthesizer.utterances()) != 0 {
				t.Fatalf("expected failed turn not to be spoken")
			}
		})
	}
}

func TestUnterminatedCompleteIsFlushedAtEndOfStream(t *testing.T) {
	service := &backendStub{streams: []func() (io.ReadCloser, error){staticStream(
		frame(`{"type":"token","content":"Done"}`) + `data: {"type":"status","state":"complete"}`,
	)}}
	h := newHarness(t, WithBackend(service))

	if err := h.orchestrator.Submit(context.Background(), "Hello"); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	h.waitForState(t, StateSpeaking)
	h.orchestrator.Close()

	if turns := h.orchestrator.Snapshot().Turns; len(turns) != 1 || turns[0].Status != TurnCompleted || turns[0].Reply != "Done" {
		t.Fatalf("expected completed turn, got %+v", turns)
	}
}

func TestFailureBeforeStreamReturnsToIdle(t *testing.T) {
	service := &backendStub{streams: []func() (io.ReadCloser, error){
		func() (io.ReadCloser, error) {
			return nil, &backend.TransportError{Op: "send turn", Err: errors.New("connection refused")}
		},
	}}
	synthesizer := &synthesizerStub{}
	failures := make(chan string, 1)
	h := newHarness(t,
		WithBackend(service),
		WithSpeaker(voiceoutput.NewController(synthesizer)),
		WithTurnFailedCallback(func(reply string, err error) { failures <- reply }),
	)

	if err := h.orchestrator.Submit(context.Background(), "Hello"); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	h.waitForState(t, StateIdle)
	h.orchestrator.Close()

	assertStates(t, h.events.states(), StateThinking, StateIdle)
	if reply := <-failures; reply != GenericFailureMessage {
		t.Fatalf("expected generic failure message, got %q", reply)
	}
	if h.timers.pending() != 0 {
		t.Fatalf("expected no settle delay after a failed request")
	}
	if len(synthesizer.utterances()) != 0 {
		t.Fatalf("expected failure message not to be spoken")
	}

	turns := h.orchestrator.Snapshot().Turns
	var transportErr *backend.TransportError
	if len(turns) != 1 || turns[0].Reply != GenericFailureMessage || !errors.As(turns[0].Err, &transportErr) {
		t.Fatalf("expected failed turn with transport error, got %+v", turns)
	}
}

func TestSubmitFromErrorCancelsSettle(t *testing.T) {
	reader, writer := io.Pipe()
	service := &backendStub{streams: []func() (io.ReadCloser, error){
		staticStream(frame(`{"type":"status","state":"error","message":"boom"}`)),
		func() (io.ReadCloser, error) { return reader, nil },
	}}
	h := newHarness(t, WithBackend(service))

	if err := h.orchestrator.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	h.waitForState(t, StateError)

	if err := h.orchestrator.Submit(context.Background(), "second"); err != nil {
		t.Fatalf("expected submit from error to succeed, got %v", err)
	}
	h.waitForState(t, StateThinking)

	h.timers.fire()
	if state := h.orchestrator.State(); state != StateThinking {
		t.Fatalf("expected stale settle to be ignored, got %q", state)
	}

	if _, err := writer.Write([]byte(frame(`{"type":"status","state":"complete"}`))); err != nil {
		t.Fatalf("failed to write stream: %v", err)
	}
	_ = writer.Close()
	h.waitForState(t, StateSpeaking)
	h.timers.fire()
	h.waitForState(t, StateIdle)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	t.Run("empty text", func(t *testing.T) {
		service := &backendStub{}
		h := newHarness(t, WithBackend(service))

		if err := h.orchestrator.Submit(context.Background(), " \n\t "); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("expected %v, got %v", ErrEmptyMessage, err)
		}
		if len(service.chatRequests()) != 0 || h.orchestrator.State() != StateIdle {
			t.Fatalf("expected empty submit to be a no-op")
		}
	})

	t.Run("no backend", func(t *testing.T) {
		h := newHarness(t)
		if err := h.orchestrator.Submit(context.Background(), "Hello"); !errors.Is(err, ErrNoBackend) {
			t.Fatalf("expected %v, got %v", ErrNoBackend, err)
		}
	})

	t.Run("closed", func(t *testing.T) {
		h := newHarness(t, WithBackend(&backendStub{}))
		h.orchestrator.Close()
		if err := h.orchestrator.Submit(context.Background(), "Hello"); !errors.Is(err, ErrClosed) {
			t.Fatalf("expected %v, got %v", ErrClosed, err)
		}
	})
}

func TestSessionIsCreatedLazilyAndReused(t *testing.T) {
	complete := staticStream(frame(`{"type":"status","state":"complete"}`))

	t.Run("created once", func(t *testing.T) {
		service := &backendStub{sessionID: "session-1", streams: []func() (io.ReadCloser, error){complete}}
		h := newHarness(t, WithBackend(service), WithModel("llama"), WithSessionLanguage("hi"))

		if len(service.sessionRequests()) != 0 {
			t.Fatalf("expected no session before the first submit")
		}
		runCompletedTurn(t, h, "first")
		runCompletedTurn(t, h, "second")

		sessions := service.sessionRequests()
		if len(sessions) != 1 || sessions[0].Language != "hi" || sessions[0].Model != "llama" {
			t.Fatalf("expected a single session request, got %+v", sessions)
		}
		for _, request := range service.chatRequests() {
			if request.SessionID != "session-1" {
				t.Fatalf("expected every turn to reuse the session, got %+v", request)
			}
		}
	})

	t.Run("retried after failure", func(t *testing.T) {
		service := &backendStub{
			sessionErr: &backend.TransportError{Op: "create session", StatusCode: 500},
			streams:    []func() (io.ReadCloser, error){complete},
		}
		h := newHarness(t, WithBackend(service))

		runCompletedTurn(t, h, "first")
		runCompletedTurn(t, h, "second")

		if sessions := service.sessionRequests(); len(sessions) != 2 {
			t.Fatalf("expected session creation to be retried, got %d attempts", len(sessions))
		}
		for _, request := range service.chatRequests() {
			if request.SessionID != "" {
				t.Fatalf("expected turns without a session id, got %+v", request)
			}
		}
	})
}

func TestRequestOptionsAreSent(t *testing.T) {
	service := &backendStub{streams: []func() (io.ReadCloser, error){
		staticStream(frame(`{"type":"status","state":"complete"}`)),
	}}
	h := newHarness(t,
		WithBackend(service),
		WithModel("mixtral"),
		WithTemperature(0.2),
		WithMaxTokens(256),
		WithTopP(0.9),
	)

	runCompletedTurn(t, h, "Hello")

	requests := service.chatRequests()
	if len(requests) != 1 {
		t.Fatalf("expected one request, got %d", len(requests))
	}
	request := requests[0]
	if request.Model != "mixtral" || request.Temperature == nil || *request.Temperature != 0.2 ||
		request.MaxTokens == nil || *request.MaxTokens != 256 || request.TopP == nil || *request.TopP != 0.9 {
		t.Fatalf("unexpected request %+v", request)
	}
}

func TestHindiReplyIsSpokenWithHindiVoice(t *testing.T) {
	service := &backendStub{streams: []func() (io.ReadCloser, error){staticStream(
		frame(`{"type":"token","content":"नमस्ते दोस्त"}`) + frame(`{"type":"status","state":"complete"}`),
	)}}
	synthesizer := &synthesizerStub{}
	h := newHarness(t, WithBackend(service), WithSpeaker(voiceoutput.NewController(synthesizer)))

	runCompletedTurn(t, h, "Hello")

	spoken := synthesizer.utterances()
	if len(spoken) != 1 || spoken[0].voice.Name != "hindi" {
		t.Fatalf("expected reply in the hindi voice, got %+v", spoken)
	}
	if turns := h.orchestrator.Snapshot().Turns; turns[0].Language != language.Hindi {
		t.Fatalf("expected hindi reply, got %q", turns[0].Language)
	}
}

func TestSubmitStopsVoiceInput(t *testing.T) {
	voiceInput := &voiceInputStub{}
	service := &backendStub{streams: []func() (io.ReadCloser, error){
		staticStream(frame(`{"type":"status","state":"complete"}`)),
	}}
	h := newHarness(t, WithBackend(service), WithVoiceInput(voiceInput))

	h.orchestrator.SetListening(true)
	if state := h.orchestrator.State(); state != StateListening {
		t.Fatalf("expected listening to show while idle, got %q", state)
	}

	runCompletedTurn(t, h, "Hello")
	if voiceInput.stopCalls() != 1 {
		t.Fatalf("expected voice input to be stopped once, got %d", voiceInput.stopCalls())
	}

	assertStates(t, h.events.states(), StateListening, StateThinking, StateSpeaking, StateListening)

	h.orchestrator.SetListening(false)
	if state := h.orchestrator.State(); state != StateIdle {
		t.Fatalf("expected idle once listening stops, got %q", state)
	}
}

func TestListeningIsHiddenWhileBusy(t *testing.T) {
	reader, writer := io.Pipe()
	service := &backendStub{streams: []func() (io.ReadCloser, error){
		func() (io.ReadCloser, error) { return reader, nil },
	}}
	h := newHarness(t, WithBackend(service))

	if err := h.orchestrator.Submit(context.Background(), "Hello"); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	h.waitForState(t, StateThinking)

	h.orchestrator.SetListening(true)
	if state := h.orchestrator.State(); state != StateThinking {
		t.Fatalf("expected thinking to take precedence, got %q", state)
	}

	_ = writer.CloseWithError(errors.New("connection reset"))
	h.waitForState(t, StateError)
	h.timers.fire()
	h.waitForState(t, StateListening)
}

func TestSnapshotIsACopy(t *testing.T) {
	service := &backendStub{streams: []func() (io.ReadCloser, error){staticStream(
		frame(`{"type":"token","content":"original"}`) + frame(`{"type":"status","state":"complete"}`),
	)}}
	h := newHarness(t, WithBackend(service))

	runCompletedTurn(t, h, "Hello")

	snapshot := h.orchestrator.Snapshot()
	snapshot.Turns[0].Reply = "changed"
	if reply := h.orchestrator.Snapshot().Turns[0].Reply; reply != "original" {
		t.Fatalf("expected history to be unaffected by snapshot changes, got %q", reply)
	}
}

func TestStatsTrackCompletedAndFailedTurns(t *testing.T) {
	service := &backendStub{streams: []func() (io.ReadCloser, error){
		staticStream(frame(`{"type":"status","state":"complete","metrics":{"latency":0.4,"tokens":12,"tokens_per_sec":30}}`)),
		staticStream(frame(`{"type":"status","state":"error"}`)),
	}}
	h := newHarness(t, WithBackend(service))

	runCompletedTurn(t, h, "first")
	if err := h.orchestrator.Submit(context.Background(), "second"); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	h.waitForState(t, StateError)
	h.orchestrator.Close()

	stats := h.orchestrator.Stats()
	expected := Stats{
		TotalTurns:      2,
		FailedTurns:     1,
		ErrorRate:       0.5,
		AvgLatency:      0.4,
		AvgTokensPerSec: 30,
		RecentSamples:   1,
	}
	if stats != expected {
		t.Fatalf("expected stats %+v, got %+v", expected, stats)
	}
}

// runCompletedTurn submits text and waits until the turn has settled back.
func runCompletedTurn(t *testing.T, h *harness, text string) {
	t.Helper()
	if err := h.orchestrator.Submit(context.Background(), text); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	h.waitForState(t, StateSpeaking)
	h.timers.fire()
	h.waitForSettled(t)
}
