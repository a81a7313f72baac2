package orchestration

import (
	"time"

	"github.com/koscakluka/ema-chat/core/frames"
	"github.com/koscakluka/ema-chat/core/language"
)

type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnStreaming TurnStatus = "streaming"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
)

// Turn is a single user message and the assistant reply to it. Reply only
// ever grows while the turn is live.
type Turn struct {
	ID       string
	UserText string
	Reply    string
	Status   TurnStatus
	// Language is set once the reply is complete.
	Language language.Tag
	Metrics  *frames.Metrics
	Err      error

	StartedAt time.Time
	EndedAt   time.Time
}

// Conversation is a point in time copy of the conversation, safe to keep and
// modify.
type Conversation struct {
	SessionID string
	State     State
	// Turns holds finished turns, oldest first.
	Turns []Turn
	// Active is the live turn, if any.
	Active *Turn
}
