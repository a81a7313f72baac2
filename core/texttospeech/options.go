package texttospeech

import (
	"github.com/koscakluka/ema-chat/core/audio"
	"golang.org/x/text/language"
)

// Voice is a synthesis voice offered by a text-to-speech client.
type Voice struct {
	Name   string
	Locale language.Tag
}

type SpeechOptions struct {
	// SpeechStartedCallback is called once, when the first audio of the
	// utterance is produced.
	SpeechStartedCallback func()
	// SpeechEndedCallback is called once the utterance has been fully played.
	// It is not called for cancelled utterances.
	SpeechEndedCallback func()
	// ErrorCallback is called when generation or playback fails, the
	// utterance is over after it is called.
	ErrorCallback func(error)

	EncodingInfo audio.EncodingInfo
}

type SpeechOption func(*SpeechOptions)

func WithSpeechStartedCallback(callback func()) SpeechOption {
	return func(o *SpeechOptions) { o.SpeechStartedCallback = callback }
}

func WithSpeechEndedCallback(callback func()) SpeechOption {
	return func(o *SpeechOptions) { o.SpeechEndedCallback = callback }
}

func WithErrorCallback(callback func(error)) SpeechOption {
	return func(o *SpeechOptions) { o.ErrorCallback = callback }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) SpeechOption {
	return func(o *SpeechOptions) {
		if !encodingInfo.IsZero() {
			o.EncodingInfo = encodingInfo
		}
	}
}

// NewSpeechOptions applies opts over no-op callbacks so implementations can
// invoke every callback unconditionally.
func NewSpeechOptions(opts ...SpeechOption) SpeechOptions {
	options := SpeechOptions{
		SpeechStartedCallback: func() {},
		SpeechEndedCallback:   func() {},
		ErrorCallback:         func(error) {},
		EncodingInfo:          audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Playback is a single utterance handed to a text-to-speech client.
type Playback interface {
	// Cancel immediately stops generation and playback of the utterance.
	//
	// Repeated calls to Cancel are ignored.
	Cancel() error
}
