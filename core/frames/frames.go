package frames

import "fmt"

// Frame is a single decoded unit of the response stream. It is either a
// [Token] or a [Status].
type Frame interface {
	isFrame()
}

// Token carries a piece of the assistant reply.
type Token struct {
	Content string
}

func (Token) isFrame() {}

// Status carries a turn state signal from the backend.
type Status struct {
	State State
	// Metrics is only set by the backend on completion.
	Metrics *Metrics
	Message string
}

func (Status) isFrame() {}

type State string

const (
	StateThinking State = "thinking"
	StateComplete State = "complete"
	StateError    State = "error"
)

func (s State) valid() bool {
	switch s {
	case StateThinking, StateComplete, StateError:
		return true
	}
	return false
}

// Metrics reported with a completed response. Only Latency is guaranteed to be
// meaningful, the rest depends on the backend version.
type Metrics struct {
	// Latency is the total generation time in seconds.
	Latency      float64 `json:"latency"`
	Tokens       int     `json:"tokens,omitempty"`
	TokensPerSec float64 `json:"tokens_per_sec,omitempty"`
	Model        string  `json:"model,omitempty"`
}

// SyntaxError is returned when a marked line does not hold a valid frame
// record. It is fatal for the turn being decoded but leaves the decoder usable.
type SyntaxError struct {
	Line string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("malformed frame %q: %v", e.Line, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }
