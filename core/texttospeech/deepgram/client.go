package deepgram

import (
	"fmt"
	"net/url"
	"os"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-chat/core/audio"
	"github.com/koscakluka/ema-chat/core/texttospeech"
)

const defaultBaseURL = "wss://api.deepgram.com"

// AudioOutput plays the generated audio.
type AudioOutput interface {
	EncodingInfo() audio.EncodingInfo
	SendAudio(audio []byte) error
	ClearBuffer()
	// Mark calls callback once all audio sent before it has been played.
	Mark(mark string, callback func(string)) error
}

type TextToSpeechClient struct {
	apiKey  string
	baseURL *url.URL
	dialer  *websocket.Dialer
	output  AudioOutput
	voices  []texttospeech.Voice
}

type ClientOption func(*TextToSpeechClient)

// WithAPIKey sets the API key, it defaults to the DEEPGRAM_API_KEY
// environment variable.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *TextToSpeechClient) { c.apiKey = apiKey }
}

// WithBaseURL points the client to a different websocket endpoint.
func WithBaseURL(baseURL *url.URL) ClientOption {
	return func(c *TextToSpeechClient) { c.baseURL = baseURL }
}

// WithAudioOutput sets where generated audio is played. Without an output
// the audio is dropped and utterances end as soon as generation is done.
func WithAudioOutput(output AudioOutput) ClientOption {
	return func(c *TextToSpeechClient) { c.output = output }
}

func NewTextToSpeechClient(opts ...ClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{
		dialer: websocket.DefaultDialer,
		voices: GetAvailableVoices(),
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok || apiKey == "" {
			return nil, fmt.Errorf("deepgram api key not found")
		}
		client.apiKey = apiKey
	}

	if client.baseURL == nil {
		baseURL, err := url.Parse(defaultBaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse base url: %w", err)
		}
		client.baseURL = baseURL
	}

	return client, nil
}

// Voices returns the voices the client can speak with.
func (c *TextToSpeechClient) Voices() []texttospeech.Voice {
	return c.voices
}
