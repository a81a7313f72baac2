package events

// KindStateChanged identifies a visible conversation state change.
const KindStateChanged Kind = "conversation.state_changed"

// StateChanged carries the previous and the new visible conversation state.
type StateChanged struct {
	Base
	From string
	To   string
}

// NewStateChanged creates a state changed event.
func NewStateChanged(from, to string) StateChanged {
	return StateChanged{Base: NewBase(KindStateChanged, ""), From: from, To: to}
}
