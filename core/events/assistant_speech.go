package events

// KindAssistantSpeechRequested identifies a reply handed to voice output.
const KindAssistantSpeechRequested Kind = "assistant_speech.requested"

// AssistantSpeechRequested carries the reply text and the language it is
// spoken in.
type AssistantSpeechRequested struct {
	Base
	Text     string
	Language string
}

// NewAssistantSpeechRequested creates an assistant speech requested event.
func NewAssistantSpeechRequested(turnID, text, language string) AssistantSpeechRequested {
	return AssistantSpeechRequested{
		Base:     NewBase(KindAssistantSpeechRequested, turnID),
		Text:     text,
		Language: language,
	}
}
