package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-chat/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Recognize starts capturing audio and streams it to deepgram. The session
// ends by itself after the first finalized utterance.
func (c *TranscriptionClient) Recognize(ctx context.Context, opts ...speechtotext.TranscriptionOption) (speechtotext.Session, error) {
	if c.input == nil {
		return nil, speechtotext.NewError(speechtotext.ErrorAudioCapture, errors.New("no audio input configured"))
	}

	options := speechtotext.NewTranscriptionOptions(opts...)
	options.EncodingInfo = c.input.EncodingInfo()
	if err := validateEncoding(options.EncodingInfo); err != nil {
		return nil, speechtotext.NewError(speechtotext.ErrorAudioCapture, fmt.Errorf("invalid encoding: %w", err))
	}

	ctx, span := tracer.Start(ctx, "open transcription stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("deepgram.model", c.model),
		attribute.String("transcription.language", options.Language.String()),
	)

	conn, err := c.connect(ctx, connectionOptions{
		sampleRate: options.EncodingInfo.SampleRate,
		encoding:   options.EncodingInfo.Format.Name(),
		language:   options.Language.String(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s := &session{conn: conn, input: c.input, options: options}
	s.noSpeech = time.AfterFunc(c.noSpeechTimeout, func() {
		s.fail(speechtotext.NewError(speechtotext.ErrorNoSpeech, errors.New("no speech detected")))
	})

	// Capture outlives the request context, it is bound to the session.
	if err := c.input.StartCapture(context.WithoutCancel(ctx), s.sendAudio); err != nil {
		s.end()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, speechtotext.NewError(speechtotext.ErrorAudioCapture, err)
	}

	go s.readMessages()

	return s, nil
}

type connectionOptions struct {
	sampleRate int
	encoding   string
	language   string
}

func (c *TranscriptionClient) connect(ctx context.Context, options connectionOptions) (*websocket.Conn, error) {
	listenURL := c.baseURL.JoinPath("/v1/listen")
	queryParams := listenURL.Query()
	queryParams.Set("encoding", options.encoding)
	queryParams.Set("sample_rate", strconv.Itoa(options.sampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", c.model)
	queryParams.Set("language", options.language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	queryParams.Set("vad_events", "true")
	listenURL.RawQuery = queryParams.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, speechtotext.NewError(speechtotext.ErrorNotAllowed,
				fmt.Errorf("deepgram rejected credentials (status %d): %w", resp.StatusCode, err))
		}
		return nil, speechtotext.NewError(speechtotext.ErrorNetwork,
			fmt.Errorf("failed to open socket connection to deepgram: %w", err))
	}

	return conn, nil
}

type session struct {
	conn    *websocket.Conn
	connMu  sync.Mutex
	input   AudioInput
	options speechtotext.TranscriptionOptions

	noSpeech *time.Timer

	mu                    sync.Mutex
	ended                 bool
	accumulatedTranscript string
	closeOnce             sync.Once
}

// Stop ends the session without a transcript. Stopping an ended session is a
// no-op.
func (s *session) Stop() error {
	if !s.end() {
		return nil
	}

	s.options.EndedCallback()
	return nil
}

// end marks the session as over and releases its resources. It reports
// whether this call ended the session.
func (s *session) end() bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.ended = true
	s.mu.Unlock()

	s.close()
	return true
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.noSpeech.Stop()
		if err := s.input.StopCapture(); err != nil {
			logger.Warn("failed to stop audio capture", slog.String("error", err.Error()))
		}

		s.connMu.Lock()
		defer s.connMu.Unlock()
		if err := s.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
			logger.Debug("failed to close deepgram stream", slog.String("error", err.Error()))
		}
		_ = s.conn.Close()
	})
}

func (s *session) fail(err error) {
	if !s.end() {
		return
	}

	logger.Warn("transcription session failed", slog.String("error", err.Error()))
	s.options.ErrorCallback(err)
}

func (s *session) sendAudio(chunk []byte) {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return
	}

	s.connMu.Lock()
	err := s.conn.WriteMessage(websocket.BinaryMessage, chunk)
	s.connMu.Unlock()
	if err != nil {
		s.fail(speechtotext.NewError(speechtotext.ErrorNetwork, fmt.Errorf("failed to write to deepgram client: %w", err)))
	}
}

func (s *session) readMessages() {
	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(speechtotext.NewError(speechtotext.ErrorNetwork, fmt.Errorf("failed to read deepgram message: %w", err)))
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.processMessage(msg)
	}
}

func (s *session) processMessage(msg []byte) {
	var parsedMsg struct {
		Type        string `json:"type"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", slog.String("error", err.Error()))
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram results", slog.String("error", err.Error()))
			return
		}
		transcript := ""
		if len(msgResp.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		}
		s.results(transcript, msgResp.IsFinal, msgResp.SpeechFinal)

	case api.TypeUtteranceEndResponse:
		s.finalize()

	case api.TypeSpeechStartedResponse:
		s.noSpeech.Stop()
		s.options.SpeechStartedCallback()

	default:
		if parsedMsg.Type == "Error" {
			s.fail(speechtotext.NewError(speechtotext.ErrorNetwork, fmt.Errorf("deepgram error: %s", parsedMsg.Description)))
		}
	}
}

func (s *session) results(transcript string, isFinal, speechFinal bool) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	if transcript != "" {
		s.noSpeech.Stop()
	}

	interim := ""
	if isFinal {
		if transcript != "" {
			s.accumulatedTranscript = strings.TrimSpace(s.accumulatedTranscript + " " + transcript)
		}
	} else if transcript != "" {
		interim = strings.TrimSpace(s.accumulatedTranscript + " " + transcript)
	}
	s.mu.Unlock()

	if interim != "" {
		s.options.InterimTranscriptionCallback(interim)
	}
	if isFinal && speechFinal {
		s.finalize()
	}
}

// finalize delivers the accumulated transcript and ends the session. Without
// a transcript there is nothing to finalize, the session keeps listening.
func (s *session) finalize() {
	s.mu.Lock()
	transcript := s.accumulatedTranscript
	if s.ended || transcript == "" {
		s.mu.Unlock()
		return
	}
	s.accumulatedTranscript = ""
	s.mu.Unlock()

	if !s.end() {
		return
	}

	s.options.SpeechEndedCallback()
	s.options.TranscriptionCallback(transcript)
}
