package orchestration

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-chat/core/backend"
	"github.com/koscakluka/ema-chat/core/events"
	"github.com/koscakluka/ema-chat/core/frames"
	"github.com/koscakluka/ema-chat/core/voiceoutput"
)

// Backend is the inference service turns are sent to.
type Backend interface {
	CreateSession(ctx context.Context, request backend.SessionRequest) (string, error)
	SendTurn(ctx context.Context, request backend.ChatRequest) (io.ReadCloser, error)
}

// Speaker speaks completed replies.
type Speaker interface {
	Speak(ctx context.Context, text string, opts ...voiceoutput.SpeakOption) error
	Stop()
}

// VoiceInput is stopped whenever a turn is submitted.
type VoiceInput interface {
	Stop() error
}

// Orchestrator owns the conversation: it runs one turn at a time, streams its
// reply and hands the finished reply to voice output.
type Orchestrator struct {
	backend    Backend
	speaker    Speaker
	voiceInput VoiceInput
	request    requestOptions

	settleDelay time.Duration
	afterFunc   func(time.Duration, func()) (stop func() bool)

	callbacks callbacks
	emit      eventEmitter
	// emitMu serializes transitions with their events so observers see them
	// in the order they happened.
	emitMu sync.Mutex

	mu         sync.Mutex
	state      State
	listening  bool
	active     *Turn
	history    []Turn
	settleGen  uint64
	stopSettle func() bool
	closed     bool

	// sessionMu serializes session creation, sessionID is written under both
	// locks.
	sessionMu sync.Mutex
	sessionID string

	// streamMu is held while a reply stream is decoded.
	streamMu sync.Mutex
	decoder  *frames.Decoder

	stats statsRecorder
	wg    sync.WaitGroup
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		state:       StateIdle,
		settleDelay: DefaultSettleDelay,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		decoder: frames.NewDecoder(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.emit = newCallbackEventEmitter(o.callbacks)

	return o
}

// Submit opens a turn for text and starts streaming the reply in the
// background. It is rejected with [ErrTurnInProgress] while another turn owns
// the conversation, nothing is queued. ctx bounds the backend request.
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if o.backend == nil {
		return ErrNoBackend
	}

	var turnID string
	var err error
	o.update(func() []events.Event {
		switch {
		case o.closed:
			err = ErrClosed
			return nil
		case o.state.Busy():
			// Error is not busy: a failed turn is already released and the
			// user may retry before its settle delay runs out.
			err = ErrTurnInProgress
			return nil
		}

		o.cancelSettleLocked()
		turnID = uuid.NewString()
		o.active = &Turn{
			ID:        turnID,
			UserText:  text,
			Status:    TurnPending,
			StartedAt: time.Now(),
		}
		o.wg.Add(1)

		return append([]events.Event{events.NewTurnStarted(turnID, text)},
			o.setStateLocked(StateThinking)...)
	})
	if err != nil {
		return err
	}

	if o.voiceInput != nil {
		if err := o.voiceInput.Stop(); err != nil {
			logger.Warn("failed to stop voice input", slog.String("error", err.Error()))
		}
	}
	if o.speaker != nil {
		o.speaker.Stop()
	}

	go o.processTurn(ctx, turnID, text)
	return nil
}

// State returns the visible state, Idle shows as Listening while voice input
// is active.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.visibleLocked()
}

// SetListening projects the voice input state onto the visible state. It only
// shows while the conversation is Idle.
func (o *Orchestrator) SetListening(listening bool) {
	o.update(func() []events.Event {
		before := o.visibleLocked()
		o.listening = listening
		return stateChange(before, o.visibleLocked())
	})
}

// Snapshot copies the conversation for rendering.
func (o *Orchestrator) Snapshot() Conversation {
	o.mu.Lock()
	defer o.mu.Unlock()

	snapshot := Conversation{SessionID: o.sessionID, State: o.visibleLocked()}
	if err := copier.Copy(&snapshot.Turns, &o.history); err != nil {
		logger.Error("failed to copy conversation history", slog.String("error", err.Error()))
	}
	if o.active != nil {
		active := *o.active
		snapshot.Active = &active
	}
	return snapshot
}

func (o *Orchestrator) Stats() Stats {
	return o.stats.stats()
}

// Close waits for the live turn to finish and settles the conversation.
// Submitting after Close fails with [ErrClosed].
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.wg.Wait()

	o.update(func() []events.Event {
		o.cancelSettleLocked()
		if o.state == StateIdle {
			return nil
		}
		return o.setStateLocked(StateIdle)
	})
}

// update applies change under the state lock and emits the events it
// returns.
func (o *Orchestrator) update(change func() []events.Event) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	emitted := change()
	o.mu.Unlock()

	for _, event := range emitted {
		o.emit(event)
	}
}

func (o *Orchestrator) visibleLocked() State {
	if o.state == StateIdle && o.listening {
		return StateListening
	}
	return o.state
}

func (o *Orchestrator) setStateLocked(state State) []events.Event {
	before := o.visibleLocked()
	o.state = state
	return stateChange(before, o.visibleLocked())
}

func stateChange(before, after State) []events.Event {
	if before == after {
		return nil
	}
	return []events.Event{events.NewStateChanged(string(before), string(after))}
}

// activeLocked returns the live turn if it is still turnID.
func (o *Orchestrator) activeLocked(turnID string) *Turn {
	if o.active == nil || o.active.ID != turnID {
		return nil
	}
	return o.active
}

// releaseLocked moves the live turn into the history.
func (o *Orchestrator) releaseLocked() {
	if o.active == nil {
		return
	}
	o.active.EndedAt = time.Now()
	o.history = append(o.history, *o.active)
	o.active = nil
}

func (o *Orchestrator) scheduleSettleLocked() {
	o.cancelSettleLocked()
	gen := o.settleGen
	o.stopSettle = o.afterFunc(o.settleDelay, func() { o.settle(gen) })
}

func (o *Orchestrator) cancelSettleLocked() {
	o.settleGen++
	if o.stopSettle != nil {
		o.stopSettle()
		o.stopSettle = nil
	}
}

func (o *Orchestrator) settle(gen uint64) {
	o.update(func() []events.Event {
		if gen != o.settleGen {
			return nil
		}
		o.stopSettle = nil
		if o.state != StateSpeaking && o.state != StateError {
			return nil
		}
		return o.setStateLocked(StateIdle)
	})
}
