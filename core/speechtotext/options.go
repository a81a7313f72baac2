package speechtotext

import (
	"github.com/koscakluka/ema-chat/core/audio"
	"golang.org/x/text/language"
)

type TranscriptionOptions struct {
	// InterimTranscriptionCallback receives the full not-yet-final transcript
	// of the session. Each call replaces the previous one.
	InterimTranscriptionCallback func(transcript string)
	// TranscriptionCallback receives the finalized transcript. The session
	// ends after it is called.
	TranscriptionCallback func(transcript string)

	SpeechStartedCallback func()
	SpeechEndedCallback   func()

	// ErrorCallback is called when the session fails, the session ends after
	// it is called. Errors are reported as *Error where the cause is known.
	ErrorCallback func(err error)
	// EndedCallback is called when the session ends without a transcript or
	// an error, e.g. after it has been stopped.
	EndedCallback func()

	Language     language.Tag
	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.TranscriptionCallback = callback
	}
}

func WithInterimTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.InterimTranscriptionCallback = callback
	}
}

func WithSpeechStartedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechStartedCallback = callback
	}
}

func WithSpeechEndedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechEndedCallback = callback
	}
}

func WithErrorCallback(callback func(err error)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.ErrorCallback = callback
	}
}

func WithEndedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EndedCallback = callback
	}
}

func WithLanguage(tag language.Tag) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.Language = tag
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}

// NewTranscriptionOptions applies opts over no-op callbacks so implementations
// can invoke every callback unconditionally.
func NewTranscriptionOptions(opts ...TranscriptionOption) TranscriptionOptions {
	options := TranscriptionOptions{
		InterimTranscriptionCallback: func(string) {},
		TranscriptionCallback:        func(string) {},
		SpeechStartedCallback:        func() {},
		SpeechEndedCallback:          func() {},
		ErrorCallback:                func(error) {},
		EndedCallback:                func() {},
		Language:                     language.AmericanEnglish,
		EncodingInfo:                 audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
