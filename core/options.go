package orchestration

import (
	"time"

	"github.com/koscakluka/ema-chat/core/events"
	"github.com/koscakluka/ema-chat/core/frames"
	"github.com/koscakluka/ema-chat/internal/utils"
)

// DefaultSettleDelay is how long Speaking and Error are shown before the
// conversation returns to Idle.
const DefaultSettleDelay = 2 * time.Second

type OrchestratorOption func(*Orchestrator)

func WithBackend(backend Backend) OrchestratorOption {
	return func(o *Orchestrator) { o.backend = backend }
}

// WithSpeaker sets the voice output completed replies are spoken through.
func WithSpeaker(speaker Speaker) OrchestratorOption {
	return func(o *Orchestrator) { o.speaker = speaker }
}

// WithVoiceInput sets the voice input that is interrupted whenever a turn is
// submitted.
func WithVoiceInput(voiceInput VoiceInput) OrchestratorOption {
	return func(o *Orchestrator) { o.voiceInput = voiceInput }
}

func WithSettleDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if delay > 0 {
			o.settleDelay = delay
		}
	}
}

// WithModel selects the backend model for new sessions and turns. The backend
// default is used when empty.
func WithModel(model string) OrchestratorOption {
	return func(o *Orchestrator) { o.request.model = model }
}

// WithSessionLanguage sets the language hint sent when the session is
// created.
func WithSessionLanguage(language string) OrchestratorOption {
	return func(o *Orchestrator) { o.request.language = language }
}

func WithTemperature(temperature float64) OrchestratorOption {
	return func(o *Orchestrator) { o.request.temperature = utils.Ptr(temperature) }
}

func WithMaxTokens(maxTokens int) OrchestratorOption {
	return func(o *Orchestrator) { o.request.maxTokens = utils.Ptr(maxTokens) }
}

func WithTopP(topP float64) OrchestratorOption {
	return func(o *Orchestrator) { o.request.topP = utils.Ptr(topP) }
}

type requestOptions struct {
	model       string
	language    string
	temperature *float64
	maxTokens   *int
	topP        *float64
}

// Callbacks are called in event order from the goroutine that caused the
// event. They must not call Submit or SetListening.
type callbacks struct {
	onStateChanged func(State)
	onTurnStarted  func(userText string)
	onResponse     func(segment string)
	onResponseEnd  func(reply string, metrics *frames.Metrics)
	onTurnFailed   func(reply string, err error)
	onEvent        func(events.Event)
}

func WithStateChangedCallback(callback func(State)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onStateChanged = callback }
}

func WithTurnStartedCallback(callback func(userText string)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onTurnStarted = callback }
}

// WithResponseCallback is called with every streamed reply token.
func WithResponseCallback(callback func(segment string)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onResponse = callback }
}

// WithResponseEndCallback is called with the full reply once the backend
// completes it. Metrics is nil when the backend reported none.
func WithResponseEndCallback(callback func(reply string, metrics *frames.Metrics)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onResponseEnd = callback }
}

// WithTurnFailedCallback is called with the reply as shown to the user,
// including the error annotation.
func WithTurnFailedCallback(callback func(reply string, err error)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onTurnFailed = callback }
}

// WithEventHandler receives every event, after the specific callbacks.
func WithEventHandler(handler func(events.Event)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onEvent = handler }
}
