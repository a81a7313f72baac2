package voiceinput

import (
	"errors"
	"fmt"

	"github.com/koscakluka/ema-chat/core/speechtotext"
)

// Category groups recognition failures into what the user can act on.
type Category string

const (
	CategoryNoSpeech           Category = "no-speech"
	CategoryCaptureUnavailable Category = "capture-unavailable"
	CategoryPermissionDenied   Category = "permission-denied"
	CategoryNetwork            Category = "network"
	CategoryOther              Category = "other"
)

// Message is the user-facing description of the category.
func (c Category) Message() string {
	switch c {
	case CategoryNoSpeech:
		return "No speech detected. Please try again."
	case CategoryCaptureUnavailable:
		return "No microphone available."
	case CategoryPermissionDenied:
		return "Microphone access was denied."
	case CategoryNetwork:
		return "Network error during speech recognition."
	default:
		return "Speech recognition failed."
	}
}

// RecognitionError is a categorized dictation failure.
type RecognitionError struct {
	Category Category
	Err      error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("voice input %s: %v", e.Category, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

func categorize(err error) *RecognitionError {
	var recognitionErr *RecognitionError
	if errors.As(err, &recognitionErr) {
		return recognitionErr
	}

	category := CategoryOther
	var sttErr *speechtotext.Error
	if errors.As(err, &sttErr) {
		switch sttErr.Code {
		case speechtotext.ErrorNoSpeech:
			category = CategoryNoSpeech
		case speechtotext.ErrorAudioCapture:
			category = CategoryCaptureUnavailable
		case speechtotext.ErrorNotAllowed:
			category = CategoryPermissionDenied
		case speechtotext.ErrorNetwork:
			category = CategoryNetwork
		}
	}

	return &RecognitionError{Category: category, Err: err}
}
