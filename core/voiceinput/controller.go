package voiceinput

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/koscakluka/ema-chat/core/language"
	"github.com/koscakluka/ema-chat/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type State int

const (
	StateIdle State = iota
	StateListening
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var ErrNoRecognizer = errors.New("voice input: no recognizer configured")

// Recognizer is the platform dictation service.
type Recognizer interface {
	Recognize(ctx context.Context, opts ...speechtotext.TranscriptionOption) (speechtotext.Session, error)
}

// Controller owns at most one recognition session at a time. Interim
// transcripts replace each other, a final transcript or an error ends the
// session and returns the controller to [StateIdle].
type Controller struct {
	mu sync.Mutex

	recognizer Recognizer
	language   language.Tag

	// session is the only live recognition, nil while idle.
	session *recognitionSession
	// lastSessionID identifies sessions so events of replaced sessions can be
	// dropped.
	lastSessionID uint64

	onStateChanged func(State)
	onInterim      func(string)
	onTranscript   func(string)
	onError        func(*RecognitionError)
}

type recognitionSession struct {
	id      uint64
	handle  speechtotext.Session
	interim string
}

type Option func(*Controller)

func WithStateChangedCallback(callback func(State)) Option {
	return func(c *Controller) { c.onStateChanged = callback }
}

// WithInterimCallback registers a callback for interim transcripts. An empty
// transcript clears the previously shown one.
func WithInterimCallback(callback func(transcript string)) Option {
	return func(c *Controller) { c.onInterim = callback }
}

func WithTranscriptCallback(callback func(transcript string)) Option {
	return func(c *Controller) { c.onTranscript = callback }
}

func WithErrorCallback(callback func(err *RecognitionError)) Option {
	return func(c *Controller) { c.onError = callback }
}

func WithLanguage(tag language.Tag) Option {
	return func(c *Controller) { c.language = tag }
}

func NewController(recognizer Recognizer, opts ...Option) *Controller {
	c := &Controller{
		recognizer:     recognizer,
		language:       language.English,
		onStateChanged: func(State) {},
		onInterim:      func(string) {},
		onTranscript:   func(string) {},
		onError:        func(*RecognitionError) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return StateListening
	}
	return StateIdle
}

func (c *Controller) IsListening() bool { return c.State() == StateListening }

// Interim returns the interim transcript of the live session.
func (c *Controller) Interim() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ""
	}
	return c.session.interim
}

// SetLanguage changes the language used for sessions started afterwards.
func (c *Controller) SetLanguage(tag language.Tag) {
	c.mu.Lock()
	c.language = tag
	c.mu.Unlock()
}

// Start begins a recognition session. Calling Start while listening stops the
// live session instead of starting a second one. A session that fails to open
// is reported through the error callback only.
func (c *Controller) Start(ctx context.Context) error {
	if c.recognizer == nil {
		c.onError(categorize(speechtotext.NewError(speechtotext.ErrorAudioCapture, ErrNoRecognizer)))
		return nil
	}

	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return c.Stop()
	}

	c.lastSessionID++
	session := &recognitionSession{id: c.lastSessionID}
	c.session = session
	tag := c.language
	c.mu.Unlock()

	c.onStateChanged(StateListening)

	ctx, span := tracer.Start(ctx, "start voice input")
	defer span.End()
	span.SetAttributes(attribute.String("language", tag.Locale().String()))

	handle, err := c.recognizer.Recognize(ctx,
		speechtotext.WithLanguage(tag.Locale()),
		speechtotext.WithInterimTranscriptionCallback(func(transcript string) { c.interim(session.id, transcript) }),
		speechtotext.WithTranscriptionCallback(func(transcript string) { c.final(session.id, transcript) }),
		speechtotext.WithErrorCallback(func(err error) { c.fail(session.id, err) }),
		speechtotext.WithEndedCallback(func() { c.ended(session.id) }),
	)
	if err != nil {
		err = fmt.Errorf("failed to start recognition: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.fail(session.id, err)
		return nil
	}

	c.mu.Lock()
	if c.session != session {
		// Stopped or ended while the recognizer was starting.
		c.mu.Unlock()
		if err := handle.Stop(); err != nil {
			logger.Warn("failed to stop superseded recognition session", slog.String("error", err.Error()))
		}
		return nil
	}
	session.handle = handle
	c.mu.Unlock()

	return nil
}

// Stop ends the live session, if any. Stop is idempotent.
func (c *Controller) Stop() error {
	c.mu.Lock()
	session := c.session
	if session == nil {
		c.mu.Unlock()
		return nil
	}
	c.session = nil
	hadInterim := session.interim != ""
	c.mu.Unlock()

	if hadInterim {
		c.onInterim("")
	}
	c.onStateChanged(StateIdle)

	if session.handle == nil {
		return nil
	}
	if err := session.handle.Stop(); err != nil {
		return fmt.Errorf("failed to stop recognition: %w", err)
	}
	return nil
}

// Toggle stops a live session or starts a new one.
func (c *Controller) Toggle(ctx context.Context) error {
	if c.IsListening() {
		return c.Stop()
	}
	return c.Start(ctx)
}

// current returns the live session if it is the one identified by id.
// Callers must hold c.mu.
func (c *Controller) current(id uint64) *recognitionSession {
	if c.session == nil || c.session.id != id {
		return nil
	}
	return c.session
}

func (c *Controller) interim(id uint64, transcript string) {
	c.mu.Lock()
	session := c.current(id)
	if session == nil {
		c.mu.Unlock()
		return
	}
	session.interim = transcript
	c.mu.Unlock()

	c.onInterim(transcript)
}

func (c *Controller) final(id uint64, transcript string) {
	c.mu.Lock()
	if c.current(id) == nil {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.mu.Unlock()

	c.onInterim("")
	c.onTranscript(transcript)
	c.onStateChanged(StateIdle)
}

func (c *Controller) fail(id uint64, err error) {
	c.mu.Lock()
	if c.current(id) == nil {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.mu.Unlock()

	recognitionErr := categorize(err)
	logger.Warn("voice input failed",
		slog.String("category", string(recognitionErr.Category)),
		slog.String("error", err.Error()))

	c.onInterim("")
	c.onError(recognitionErr)
	c.onStateChanged(StateIdle)
}

func (c *Controller) ended(id uint64) {
	c.mu.Lock()
	if c.current(id) == nil {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.mu.Unlock()

	c.onInterim("")
	c.onStateChanged(StateIdle)
}
