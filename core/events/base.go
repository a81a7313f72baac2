package events

import "time"

type Kind string

// Event is anything the orchestrator reports. TurnID is empty for events
// that do not belong to a turn.
type Event interface {
	Kind() Kind
	TurnID() string
	Timestamp() time.Time
}

// Base implements [Event], concrete events embed it.
type Base struct {
	kind      Kind
	turnID    string
	timestamp time.Time
}

func NewBase(kind Kind, turnID string) Base {
	return Base{kind: kind, turnID: turnID, timestamp: time.Now()}
}

func (b Base) Kind() Kind           { return b.kind }
func (b Base) TurnID() string       { return b.turnID }
func (b Base) Timestamp() time.Time { return b.timestamp }
