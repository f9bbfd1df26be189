// Package tavus is the HTTP client for the AI conversation service.
package tavus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bbielsa/interviewcall/internal/domain"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultBaseURL = "https://tavusapi.com/v2"

// APIError is a non-2xx answer from the conversation service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tavus http %d: %s", e.StatusCode, e.Message)
}

// Client implements domain.ConversationAPI.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client. An empty baseURL selects the public API.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// CreateConversation starts a new conversation and returns its URL and id.
func (c *Client) CreateConversation(ctx context.Context, req domain.CreateConversationRequest) (*domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "create conversation", trace.WithAttributes(
		attribute.String("tavus.replica_id", req.ReplicaID),
		attribute.String("tavus.persona_id", req.PersonaID),
	))
	defer span.End()

	var conv domain.Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", req, &conv); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if conv.ConversationID == "" || conv.ConversationURL == "" {
		err := fmt.Errorf("create conversation: response missing conversation id or url")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logger.InfoContext(ctx, "conversation created", "conversation_id", conv.ConversationID, "status", conv.Status)
	return &conv, nil
}

// EndConversation ends a running conversation.
func (c *Client) EndConversation(ctx context.Context, conversationID string) error {
	ctx, span := tracer.Start(ctx, "end conversation", trace.WithAttributes(
		attribute.String("tavus.conversation_id", conversationID),
	))
	defer span.End()

	path := "/conversations/" + url.PathEscape(conversationID) + "/end"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("end conversation %s: %w", conversationID, err)
	}

	logger.InfoContext(ctx, "conversation ended", "conversation_id", conversationID)
	return nil
}

// DeletePersona removes a persona generated for a single interview.
func (c *Client) DeletePersona(ctx context.Context, personaID string) error {
	ctx, span := tracer.Start(ctx, "delete persona", trace.WithAttributes(
		attribute.String("tavus.persona_id", personaID),
	))
	defer span.End()

	if err := c.do(ctx, http.MethodDelete, "/personas/"+url.PathEscape(personaID), nil, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete persona %s: %w", personaID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}
