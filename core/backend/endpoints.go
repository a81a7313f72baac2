package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
)

type SessionRequest struct {
	Language string `json:"language,omitempty"`
	Model    string `json:"model,omitempty"`
}

// CreateSession opens a conversation session and returns its ID.
func (c *Client) CreateSession(ctx context.Context, request SessionRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "create session")
	defer span.End()

	resp, err := c.do(ctx, span, "create session", http.MethodPost, "/api/session", request, http.StatusCreated, http.StatusOK)
	if err != nil {
		return "", err
	}

	session, err := decode[struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}](span, "create session", resp)
	if err != nil {
		return "", err
	}
	if session.SessionID == "" {
		return "", recordError(span, &TransportError{Op: "create session", Err: errors.New("no session id in response")})
	}

	span.SetAttributes(attribute.String("session.id", session.SessionID))
	return session.SessionID, nil
}

// ChatRequest is a single user turn. Zero valued parameters are left to the
// backend defaults.
type ChatRequest struct {
	Message     string   `json:"message"`
	SessionID   string   `json:"session_id,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

// SendTurn posts a user message and returns the framed reply stream. The
// caller must close it.
func (c *Client) SendTurn(ctx context.Context, request ChatRequest) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "send turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", request.SessionID),
		attribute.String("request.model", request.Model),
		attribute.Int("request.message_length", len(request.Message)),
	)

	resp, err := c.do(ctx, span, "send turn", http.MethodPost, "/api/chat", request, http.StatusOK)
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

type ModelList struct {
	// Models maps model keys to backend model names.
	Models  map[string]string `json:"models"`
	Default string            `json:"default"`
}

func (c *Client) Models(ctx context.Context) (ModelList, error) {
	ctx, span := tracer.Start(ctx, "list models")
	defer span.End()

	resp, err := c.do(ctx, span, "list models", http.MethodGet, "/api/models", nil, http.StatusOK)
	if err != nil {
		return ModelList{}, err
	}
	return decode[ModelList](span, "list models", resp)
}

type ServerStats struct {
	TotalRequests   int     `json:"total_requests"`
	ErrorCount      int     `json:"error_count"`
	ErrorRate       float64 `json:"error_rate"`
	AvgLatency      float64 `json:"avg_latency"`
	AvgTokensPerSec float64 `json:"avg_tokens_per_sec"`
	RecentSamples   int     `json:"recent_samples"`
}

type Health struct {
	Status         string      `json:"status"`
	GroqConfigured bool        `json:"groq_configured"`
	Metrics        ServerStats `json:"metrics"`
}

func (h Health) Ready() bool { return h.Status == "healthy" }

// Health reports backend readiness. A degraded backend answers with 503 and
// is reported as not ready rather than as an error.
func (c *Client) Health(ctx context.Context) (Health, error) {
	ctx, span := tracer.Start(ctx, "check health")
	defer span.End()

	resp, err := c.do(ctx, span, "check health", http.MethodGet, "/health", nil, http.StatusOK, http.StatusServiceUnavailable)
	if err != nil {
		return Health{}, err
	}

	health, err := decode[Health](span, "check health", resp)
	if err != nil {
		return Health{}, err
	}
	span.SetAttributes(attribute.String("health.status", health.Status))
	if !health.Ready() {
		logger.Warn("backend is not ready",
			slog.String("status", health.Status),
			slog.Bool("groq_configured", health.GroqConfigured))
	}
	return health, nil
}
