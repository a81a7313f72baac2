package speechtotext

import (
	"errors"
	"fmt"
)

// Session is a running recognition started by a speech-to-text client.
type Session interface {
	// Stop ends the session. Stopping an ended session is a no-op.
	Stop() error
}

// ErrorCode identifies why a recognition session failed.
type ErrorCode string

const (
	ErrorNoSpeech     ErrorCode = "no-speech"
	ErrorAudioCapture ErrorCode = "audio-capture"
	ErrorNotAllowed   ErrorCode = "not-allowed"
	ErrorNetwork      ErrorCode = "network"
	ErrorAborted      ErrorCode = "aborted"
)

// Error is a recognition failure reported by a speech-to-text client.
type Error struct {
	Code ErrorCode
	Err  error
}

func NewError(code ErrorCode, err error) *Error {
	if err == nil {
		err = errors.New(string(code))
	}
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("speech recognition failed (%s): %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
