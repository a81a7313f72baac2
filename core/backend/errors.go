package backend

import (
	"fmt"
)

// TransportError is a failure to reach the backend or a non-successful
// response. It is never retried.
type TransportError struct {
	Op         string
	StatusCode int
	// Message is the backend supplied explanation, if any.
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: backend responded %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: backend responded %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
