package voiceoutput

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/koscakluka/ema-chat/core/language"
	"github.com/koscakluka/ema-chat/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Synthesizer is the platform speech synthesis service.
type Synthesizer interface {
	Voices() []texttospeech.Voice
	Speak(ctx context.Context, text string, voice texttospeech.Voice, opts ...texttospeech.SpeechOption) (texttospeech.Playback, error)
}

// VoicesNotifier is implemented by synthesizers that announce changes of
// their voice list.
type VoicesNotifier interface {
	OnVoicesChanged(callback func())
}

// Utterance is a piece of text handed to the synthesizer.
type Utterance struct {
	Text     string
	Language language.Tag
	Voice    texttospeech.Voice
}

// SynthesisError is a failure to speak an utterance. It never affects the
// conversation, the utterance is just dropped.
type SynthesisError struct {
	Utterance Utterance
	Err       error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("failed to speak %s utterance: %v", e.Utterance.Language, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Controller speaks at most one utterance at a time. A new utterance always
// cancels the current one, nothing is queued.
type Controller struct {
	mu sync.Mutex

	synthesizer Synthesizer
	enabled     bool
	voices      []texttospeech.Voice

	// current is the only live utterance, nil when silent.
	current         *utterance
	lastUtteranceID uint64

	onStarted func(Utterance)
	onEnded   func(Utterance)
	onError   func(*SynthesisError)
}

type utterance struct {
	Utterance
	id       uint64
	playback texttospeech.Playback
}

type Option func(*Controller)

func WithStartedCallback(callback func(Utterance)) Option {
	return func(c *Controller) { c.onStarted = callback }
}

// WithEndedCallback registers a callback invoked once per utterance that was
// played to the end. Cancelled utterances never end.
func WithEndedCallback(callback func(Utterance)) Option {
	return func(c *Controller) { c.onEnded = callback }
}

func WithErrorCallback(callback func(*SynthesisError)) Option {
	return func(c *Controller) { c.onError = callback }
}

func WithEnabled(enabled bool) Option {
	return func(c *Controller) { c.enabled = enabled }
}

func NewController(synthesizer Synthesizer, opts ...Option) *Controller {
	c := &Controller{
		synthesizer: synthesizer,
		enabled:     true,
		onStarted:   func(Utterance) {},
		onEnded:     func(Utterance) {},
		onError:     func(*SynthesisError) {},
	}
	for _, opt := range opts {
		opt(c)
	}

	if notifier, ok := synthesizer.(VoicesNotifier); ok {
		notifier.OnVoicesChanged(c.RefreshVoices)
	}
	c.RefreshVoices()

	return c
}

// RefreshVoices reloads the voice list from the synthesizer.
func (c *Controller) RefreshVoices() {
	if c.synthesizer == nil {
		return
	}

	voices := c.synthesizer.Voices()
	c.mu.Lock()
	c.voices = voices
	c.mu.Unlock()
}

func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetEnabled turns speech output on or off. Disabling stops the current
// utterance immediately.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()

	if !enabled {
		c.Stop()
	}
}

func (c *Controller) IsSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

type speakOptions struct {
	language *language.Tag
}

type SpeakOption func(*speakOptions)

// WithLanguage overrides the language detected from the text.
func WithLanguage(tag language.Tag) SpeakOption {
	return func(o *speakOptions) { o.language = &tag }
}

// Speak cancels the current utterance and starts speaking text. It is a no-op
// when output is disabled or no voice is available. Synthesis failures,
// including a synthesizer that fails to start, are reported through the error
// callback only.
func (c *Controller) Speak(ctx context.Context, text string, opts ...SpeakOption) error {
	options := speakOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	var tag language.Tag
	if options.language != nil {
		tag = *options.language
	} else {
		tag = language.Classify(text)
	}

	c.mu.Lock()
	if !c.enabled || c.synthesizer == nil {
		c.mu.Unlock()
		return nil
	}
	previous := c.current
	c.current = nil

	voice, ok := selectVoice(c.voices, tag)
	if !ok {
		c.mu.Unlock()
		c.cancel(previous)
		logger.Debug("no voice available, skipping speech", slog.String("language", tag.String()))
		return nil
	}

	c.lastUtteranceID++
	u := &utterance{
		Utterance: Utterance{Text: text, Language: tag, Voice: voice},
		id:        c.lastUtteranceID,
	}
	c.current = u
	c.mu.Unlock()

	c.cancel(previous)

	ctx, span := tracer.Start(ctx, "speak utterance")
	defer span.End()
	span.SetAttributes(
		attribute.String("utterance.language", tag.String()),
		attribute.String("utterance.voice", voice.Name),
		attribute.Int("utterance.length", len(text)),
	)

	playback, err := c.synthesizer.Speak(ctx, text, voice,
		texttospeech.WithSpeechStartedCallback(func() { c.started(u.id) }),
		texttospeech.WithSpeechEndedCallback(func() { c.ended(u.id) }),
		texttospeech.WithErrorCallback(func(err error) { c.failed(u.id, err) }),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.failed(u.id, err)
		return nil
	}

	c.mu.Lock()
	if c.current != u {
		// Replaced or stopped while the synthesizer was starting.
		c.mu.Unlock()
		if err := playback.Cancel(); err != nil {
			logger.Warn("failed to cancel superseded utterance", slog.String("error", err.Error()))
		}
		return nil
	}
	u.playback = playback
	c.mu.Unlock()

	return nil
}

// Stop cancels the current utterance. Stop is idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	current := c.current
	c.current = nil
	c.mu.Unlock()

	c.cancel(current)
}

func (c *Controller) cancel(u *utterance) {
	if u == nil || u.playback == nil {
		return
	}

	if err := u.playback.Cancel(); err != nil {
		logger.Warn("failed to cancel utterance", slog.String("error", err.Error()))
	}
}

// take returns the utterance identified by id if it is the current one and,
// when release is set, clears it. Callers must hold c.mu.
func (c *Controller) take(id uint64, release bool) *utterance {
	if c.current == nil || c.current.id != id {
		return nil
	}

	u := c.current
	if release {
		c.current = nil
	}
	return u
}

func (c *Controller) started(id uint64) {
	c.mu.Lock()
	u := c.take(id, false)
	c.mu.Unlock()

	if u != nil {
		c.onStarted(u.Utterance)
	}
}

func (c *Controller) ended(id uint64) {
	c.mu.Lock()
	u := c.take(id, true)
	c.mu.Unlock()

	if u != nil {
		c.onEnded(u.Utterance)
	}
}

func (c *Controller) failed(id uint64, err error) {
	c.mu.Lock()
	u := c.take(id, true)
	c.mu.Unlock()

	if u == nil {
		return
	}

	synthesisErr := &SynthesisError{Utterance: u.Utterance, Err: err}
	logger.Error("speech synthesis failed",
		slog.String("language", u.Language.String()),
		slog.String("voice", u.Voice.Name),
		slog.String("error", err.Error()))
	c.onError(synthesisErr)
}
