package orchestration

import (
	"errors"
	"fmt"

	"github.com/koscakluka/ema-chat/core/backend"
	"github.com/koscakluka/ema-chat/core/frames"
)

// GenericFailureMessage is the reply of a turn whose request never reached
// the stream.
const GenericFailureMessage = "Sorry, I couldn't reach the assistant. Please try again."

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrTurnInProgress   = errors.New("a turn is already in progress")
	ErrNoBackend        = errors.New("no backend configured")
	ErrClosed           = errors.New("orchestrator is closed")
	ErrIncompleteStream = errors.New("stream ended without a terminal status")
)

// ResponseError is an error status reported by the backend inside the reply
// stream.
type ResponseError struct {
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return "backend reported an error"
	}
	return fmt.Sprintf("backend reported an error: %s", e.Message)
}

// annotation is the visible note appended to the reply of a failed turn.
func annotation(err error) string {
	return fmt.Sprintf("\n\n[error: %s]", failureMessage(err))
}

func failureMessage(err error) string {
	var responseErr *ResponseError
	var syntaxErr *frames.SyntaxError
	var transportErr *backend.TransportError
	switch {
	case errors.As(err, &responseErr):
		if responseErr.Message != "" {
			return responseErr.Message
		}
		return "the assistant could not answer"
	case errors.As(err, &syntaxErr):
		return "received a malformed response"
	case errors.Is(err, ErrIncompleteStream):
		return "the response ended unexpectedly"
	case errors.As(err, &transportErr):
		if transportErr.Message != "" {
			return transportErr.Message
		}
		return "connection lost"
	}
	return err.Error()
}
