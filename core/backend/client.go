package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client talks to the chat backend.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q: scheme and host are required", baseURL)
	}

	client := &Client{
		baseURL: parsed,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// do sends a request and returns the response if its status is one of ok.
// The caller owns the response body.
func (c *Client) do(ctx context.Context, span trace.Span, op, method, path string, body any, ok ...int) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		requestBodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("error marshalling JSON: %w", err)
		}
		reqBody = bytes.NewReader(requestBodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	span.SetAttributes(attribute.String("request.url", req.URL.String()))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, recordError(span, &TransportError{Op: op, Err: err})
	}

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	for _, status := range ok {
		if resp.StatusCode == status {
			return resp, nil
		}
	}
	defer resp.Body.Close()

	transportErr := &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("non-OK HTTP status: %s", resp.Status)}
	var errorBody struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errorBody); err == nil {
		transportErr.Message = errorBody.Message
		if transportErr.Message == "" {
			transportErr.Message = errorBody.Error
		}
	}
	return nil, recordError(span, transportErr)
}

func decode[T any](span trace.Span, op string, resp *http.Response) (T, error) {
	defer resp.Body.Close()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return v, recordError(span, &TransportError{Op: op, Err: fmt.Errorf("error unmarshalling JSON: %w", err)})
	}
	return v, nil
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
