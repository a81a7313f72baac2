package orchestration

// State is the visible state of the conversation.
type State string

const (
	StateIdle State = "idle"
	// StateListening is never held by the orchestrator itself, it is Idle
	// projected while voice input is listening.
	StateListening     State = "listening"
	StateThinking      State = "thinking"
	StateStreamingText State = "streaming_text"
	StateSpeaking      State = "speaking"
	StateError         State = "error"
)

// Busy reports whether a turn owns the conversation in this state.
func (s State) Busy() bool {
	switch s {
	case StateThinking, StateStreamingText, StateSpeaking:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }
