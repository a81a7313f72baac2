package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-chat/core/audio"
	"github.com/koscakluka/ema-chat/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type playbackState int

const (
	playbackGenerating playbackState = iota
	playbackEnded
	playbackCancelled
	playbackFailed
)

type playback struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	output  AudioOutput
	options texttospeech.SpeechOptions

	mu        sync.Mutex
	state     playbackState
	started   bool
	flushed   bool
	closeOnce sync.Once
}

// Speak opens a speech stream for a single utterance. Audio is forwarded to
// the configured output as it arrives.
func (c *TextToSpeechClient) Speak(ctx context.Context, text string, voice texttospeech.Voice, opts ...texttospeech.SpeechOption) (texttospeech.Playback, error) {
	options := texttospeech.NewSpeechOptions(opts...)
	if c.output != nil {
		options.EncodingInfo = c.output.EncodingInfo()
	}

	model := voice.Name
	if model == "" {
		model = defaultVoiceModel
	}

	ctx, span := tracer.Start(ctx, "open speech stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("deepgram.model", model),
		attribute.Int("audio.sample_rate", options.EncodingInfo.SampleRate),
	)

	ws, err := c.connect(ctx, model, options.EncodingInfo)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	p := &playback{ws: ws, output: c.output, options: options}
	if err := p.send(speakMessage{Type: "Speak", Text: text}); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to send text: %w", err)
	}
	if err := p.send(controlMessage{Type: "Flush"}); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to flush text: %w", err)
	}

	go p.readMessages()

	return p, nil
}

func (c *TextToSpeechClient) connect(ctx context.Context, model string, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	speakURL := c.baseURL.JoinPath("/v1/speak")
	query := speakURL.Query()
	query.Set("encoding", encodingInfo.Format.Name())
	query.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	query.Set("model", model)
	query.Set("container", "none")
	speakURL.RawQuery = query.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, speakURL.String(),
		http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to open socket connection to deepgram (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (p *playback) readMessages() {
	for {
		msgType, msg, err := p.ws.ReadMessage()
		if err != nil {
			p.mu.Lock()
			flushed := p.flushed
			p.mu.Unlock()
			// Once flushed all audio is with the output, the stream may go away.
			if !flushed {
				p.fail(fmt.Errorf("speech stream closed before completion: %w", err))
			}
			p.close()
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			p.audio(msg)
		case websocket.TextMessage:
			p.control(msg)
		}
	}
}

func (p *playback) audio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	p.mu.Lock()
	if p.state != playbackGenerating {
		p.mu.Unlock()
		return
	}
	first := !p.started
	p.started = true
	p.mu.Unlock()

	if first {
		p.options.SpeechStartedCallback()
	}

	if p.output != nil {
		if err := p.output.SendAudio(chunk); err != nil {
			p.fail(fmt.Errorf("failed to play audio: %w", err))
		}
	}
}

func (p *playback) control(msg []byte) {
	var parsedMsg struct {
		Type        string `json:"type"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", slog.String("error", err.Error()))
		return
	}

	switch parsedMsg.Type {
	case "Flushed":
		p.generated()
	case "Warning":
		logger.Warn("deepgram warning", slog.String("description", parsedMsg.Description))
	case "Metadata", "Cleared":
	default:
		logger.Debug("unhandled deepgram message", slog.String("type", parsedMsg.Type))
	}
}

func (p *playback) generated() {
	p.mu.Lock()
	if p.state != playbackGenerating || p.flushed {
		p.mu.Unlock()
		return
	}
	p.flushed = true
	p.mu.Unlock()

	if p.output == nil {
		p.finish()
		return
	}

	if err := p.output.Mark("", func(string) { p.finish() }); err != nil {
		p.fail(fmt.Errorf("failed to mark end of audio: %w", err))
	}
}

func (p *playback) finish() {
	p.mu.Lock()
	if p.state != playbackGenerating {
		p.mu.Unlock()
		return
	}
	p.state = playbackEnded
	p.mu.Unlock()

	p.options.SpeechEndedCallback()
	p.close()
}

func (p *playback) fail(err error) {
	p.mu.Lock()
	if p.state != playbackGenerating {
		p.mu.Unlock()
		return
	}
	p.state = playbackFailed
	p.mu.Unlock()

	logger.Error("speech playback failed", slog.String("error", err.Error()))
	p.options.ErrorCallback(err)
	p.close()
}

// Cancel stops generation and drops any audio of the utterance that has not
// been played yet. The output is only cleared once the utterance has sent
// audio to it, so it never drops audio of another utterance.
func (p *playback) Cancel() error {
	p.mu.Lock()
	if p.state != playbackGenerating {
		p.mu.Unlock()
		return nil
	}
	p.state = playbackCancelled
	started := p.started
	p.mu.Unlock()

	var err error
	if sendErr := p.send(controlMessage{Type: "Clear"}); sendErr != nil {
		err = fmt.Errorf("failed to clear speech stream: %w", sendErr)
	}
	if p.output != nil && started {
		p.output.ClearBuffer()
	}
	p.close()

	return err
}

func (p *playback) close() {
	p.closeOnce.Do(func() {
		sendErr := p.send(controlMessage{Type: "Close"})
		if closeErr := p.ws.Close(); closeErr != nil && sendErr != nil {
			logger.Debug("failed to close speech stream", slog.String("error", errors.Join(sendErr, closeErr).Error()))
		}
	})
}

type controlMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (p *playback) send(msg any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}
