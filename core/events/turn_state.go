package events

import "github.com/koscakluka/ema-chat/core/frames"

const (
	// KindTurnStarted identifies the start of a turn.
	KindTurnStarted Kind = "turn_state.started"
	// KindTurnCompleted identifies successful turn completion.
	KindTurnCompleted Kind = "turn_state.completed"
	// KindTurnFailed identifies turn failure.
	KindTurnFailed Kind = "turn_state.failed"
)

// TurnStarted marks a submitted user message.
type TurnStarted struct {
	Base
	UserText string
}

// NewTurnStarted creates a turn started event.
func NewTurnStarted(turnID, userText string) TurnStarted {
	return TurnStarted{Base: NewBase(KindTurnStarted, turnID), UserText: userText}
}

// TurnCompleted carries the full reply of a completed turn. Metrics is nil
// when the backend did not report any.
type TurnCompleted struct {
	Base
	Reply   string
	Metrics *frames.Metrics
}

// NewTurnCompleted creates a turn completed event.
func NewTurnCompleted(turnID, reply string, metrics *frames.Metrics) TurnCompleted {
	return TurnCompleted{
		Base:    NewBase(KindTurnCompleted, turnID),
		Reply:   reply,
		Metrics: metrics,
	}
}

// TurnFailed carries the reply as shown to the user, including the error
// annotation, and the error that ended the turn.
type TurnFailed struct {
	Base
	Reply string
	Err   error
}

// NewTurnFailed creates a turn failed event.
func NewTurnFailed(turnID, reply string, err error) TurnFailed {
	return TurnFailed{Base: NewBase(KindTurnFailed, turnID), Reply: reply, Err: err}
}
