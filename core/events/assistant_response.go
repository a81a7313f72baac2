package events

// KindAssistantResponseSegment identifies streamed assistant reply text.
const KindAssistantResponseSegment Kind = "assistant_response.segment"

// AssistantResponseSegment carries a streamed reply token of a turn.
type AssistantResponseSegment struct {
	Base
	Segment string
}

// NewAssistantResponseSegment creates an assistant response segment event.
func NewAssistantResponseSegment(turnID, segment string) AssistantResponseSegment {
	return AssistantResponseSegment{
		Base:    NewBase(KindAssistantResponseSegment, turnID),
		Segment: segment,
	}
}
