package deepgram

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-chat/core/audio"
)

const (
	defaultBaseURL         = "wss://api.deepgram.com"
	defaultModel           = "nova-2"
	defaultNoSpeechTimeout = 8 * time.Second
)

// AudioInput captures microphone audio.
type AudioInput interface {
	EncodingInfo() audio.EncodingInfo
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

type TranscriptionClient struct {
	apiKey          string
	baseURL         *url.URL
	model           string
	noSpeechTimeout time.Duration
	dialer          *websocket.Dialer
	input           AudioInput
}

type ClientOption func(*TranscriptionClient)

// WithAPIKey sets the API key, it defaults to the DEEPGRAM_API_KEY
// environment variable.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *TranscriptionClient) { c.apiKey = apiKey }
}

func WithBaseURL(baseURL *url.URL) ClientOption {
	return func(c *TranscriptionClient) { c.baseURL = baseURL }
}

func WithModel(model string) ClientOption {
	return func(c *TranscriptionClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithNoSpeechTimeout sets how long a session waits for speech before it
// fails with a no-speech error.
func WithNoSpeechTimeout(timeout time.Duration) ClientOption {
	return func(c *TranscriptionClient) {
		if timeout > 0 {
			c.noSpeechTimeout = timeout
		}
	}
}

func WithAudioInput(input AudioInput) ClientOption {
	return func(c *TranscriptionClient) { c.input = input }
}

func NewTranscriptionClient(opts ...ClientOption) (*TranscriptionClient, error) {
	client := &TranscriptionClient{
		model:           defaultModel,
		noSpeechTimeout: defaultNoSpeechTimeout,
		dialer:          websocket.DefaultDialer,
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
