package orchestration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/koscakluka/ema-chat/core/backend"
	"github.com/koscakluka/ema-chat/core/events"
	"github.com/koscakluka/ema-chat/core/frames"
	"github.com/koscakluka/ema-chat/core/language"
	"github.com/koscakluka/ema-chat/core/voiceoutput"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const readBufferSize = 4096

func (o *Orchestrator) processTurn(ctx context.Context, turnID, userText string) {
	defer o.wg.Done()

	ctx, span := tracer.Start(ctx, "process turn")
	defer span.End()
	span.SetAttributes(attribute.String("turn.id", turnID))

	request := o.chatRequest(ctx, userText)
	span.SetAttributes(attribute.String("session.id", request.SessionID))

	body, err := o.backend.SendTurn(ctx, request)
	if err != nil {
		recordError(span, err)
		o.failBeforeStream(turnID, err)
		return
	}
	defer body.Close()

	o.streamMu.Lock()
	defer o.streamMu.Unlock()
	o.decoder.Reset()

	if err := o.consumeStream(ctx, turnID, body); err != nil {
		recordError(span, err)
		o.failTurn(turnID, err)
	}
}

// consumeStream feeds the reply stream through the decoder until a terminal
// status was handled or the stream failed.
func (o *Orchestrator) consumeStream(ctx context.Context, turnID string, body io.Reader) error {
	chunk := make([]byte, readBufferSize)
	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			for frame, err := range o.decoder.Feed(chunk[:n]) {
				if err != nil {
					return err
				}
				if o.handleFrame(ctx, turnID, frame) {
					return nil
				}
			}
		}

		switch {
		case errors.Is(readErr, io.EOF):
			frame, ok, err := o.decoder.Flush()
			if err != nil {
				return err
			}
			if ok && o.handleFrame(ctx, turnID, frame) {
				return nil
			}
			return &backend.TransportError{Op: "read reply stream", Err: ErrIncompleteStream}
		case readErr != nil:
			return &backend.TransportError{Op: "read reply stream", Err: readErr}
		}
	}
}

// handleFrame applies a single frame to the turn and reports whether the turn
// has ended.
func (o *Orchestrator) handleFrame(ctx context.Context, turnID string, frame frames.Frame) bool {
	switch frame := frame.(type) {
	case frames.Token:
		o.update(func() []events.Event {
			turn := o.activeLocked(turnID)
			if turn == nil {
				return nil
			}
			turn.Reply += frame.Content
			turn.Status = TurnStreaming
			return append(o.setStateLocked(StateStreamingText),
				events.NewAssistantResponseSegment(turnID, frame.Content))
		})

	case frames.Status:
		switch frame.State {
		case frames.StateThinking:
			o.update(func() []events.Event {
				if o.activeLocked(turnID) == nil {
					return nil
				}
				return o.setStateLocked(StateThinking)
			})
		case frames.StateComplete:
			o.completeTurn(ctx, turnID, frame.Metrics)
			return true
		case frames.StateError:
			o.failTurn(turnID, &ResponseError{Message: frame.Message})
			return true
		}
	}

	return false
}

func (o *Orchestrator) completeTurn(ctx context.Context, turnID string, metrics *frames.Metrics) {
	var reply string
	var detection language.Detection
	speak := false
	o.update(func() []events.Event {
		turn := o.activeLocked(turnID)
		if turn == nil {
			return nil
		}
		reply = turn.Reply
		detection = language.Detect(reply)
		turn.Status = TurnCompleted
		turn.Metrics = metrics
		turn.Language = detection.Tag
		o.releaseLocked()

		emitted := append([]events.Event{events.NewTurnCompleted(turnID, reply, metrics)},
			o.setStateLocked(StateSpeaking)...)
		if o.speaker != nil && reply != "" {
			speak = true
			emitted = append(emitted, events.NewAssistantSpeechRequested(turnID, reply, detection.Tag.String()))
		}
		o.scheduleSettleLocked()
		return emitted
	})

	o.stats.recordCompleted(metrics)
	if metrics != nil {
		turnLatency.Record(ctx, metrics.Latency, metric.WithAttributes(attribute.String("model", metrics.Model)))
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Float64("turn.latency", metrics.Latency),
			attribute.Int("turn.tokens", metrics.Tokens),
		)
	}
	logger.Debug("turn completed",
		slog.String("turn_id", turnID),
		slog.String("language", detection.Tag.String()),
		slog.Float64("devanagari_ratio", detection.Ratio),
	)

	if speak {
		// Speech outlives the request, it is cancelled by the next turn.
		if err := o.speaker.Speak(context.WithoutCancel(ctx), reply, voiceoutput.WithLanguage(detection.Tag)); err != nil {
			logger.Warn("failed to speak reply", slog.String("turn_id", turnID), slog.String("error", err.Error()))
		}
	}
}

// failTurn ends a turn whose stream broke. The partial reply is kept and
// annotated with the failure.
func (o *Orchestrator) failTurn(turnID string, err error) {
	var failed bool
	o.update(func() []events.Event {
		turn := o.activeLocked(turnID)
		if turn == nil {
			return nil
		}
		failed = true
		turn.Reply += annotation(err)
		turn.Status = TurnFailed
		turn.Err = err
		reply := turn.Reply
		o.releaseLocked()

		emitted := append([]events.Event{events.NewTurnFailed(turnID, reply, err)},
			o.setStateLocked(StateError)...)
		o.scheduleSettleLocked()
		return emitted
	})
	if !failed {
		return
	}

	o.stats.recordFailed()
	logger.Warn("turn failed", slog.String("turn_id", turnID), slog.String("error", err.Error()))
}

// failBeforeStream ends a turn whose request never opened a stream. There is
// nothing to show or speak, the conversation returns to Idle at once.
func (o *Orchestrator) failBeforeStream(turnID string, err error) {
	var failed bool
	o.update(func() []events.Event {
		turn := o.activeLocked(turnID)
		if turn == nil {
			return nil
		}
		failed = true
		turn.Reply = GenericFailureMessage
		turn.Status = TurnFailed
		turn.Err = err
		o.releaseLocked()

		return append([]events.Event{events.NewTurnFailed(turnID, GenericFailureMessage, err)},
			o.setStateLocked(StateIdle)...)
	})
	if !failed {
		return
	}

	o.stats.recordFailed()
	logger.Warn("failed to send turn", slog.String("turn_id", turnID), slog.String("error", err.Error()))
}

func (o *Orchestrator) chatRequest(ctx context.Context, message string) backend.ChatRequest {
	return backend.ChatRequest{
		Message:     message,
		SessionID:   o.ensureSession(ctx),
		Model:       o.request.model,
		Temperature: o.request.temperature,
		MaxTokens:   o.request.maxTokens,
		TopP:        o.request.topP,
	}
}

// ensureSession creates the backend session on first use. Without a session
// the turn is still sent, the backend then opens one of its own and creation
// is retried on the next turn.
func (o *Orchestrator) ensureSession(ctx context.Context) string {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()

	if o.sessionID != "" {
		return o.sessionID
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	sessionID, err := o.backend.CreateSession(ctx, backend.SessionRequest{
		Language: o.request.language,
		Model:    o.request.model,
	})
	if err != nil {
		logger.Warn("failed to create session, continuing without one", slog.String("error", err.Error()))
		return ""
	}

	o.mu.Lock()
	o.sessionID = sessionID
	o.mu.Unlock()
	return sessionID
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
