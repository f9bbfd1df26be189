// Package feedback submits completed calls to the feedback pipeline.
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bbielsa/interviewcall/internal/domain"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client implements domain.FeedbackPipeline over HTTP.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewClient creates a client posting to endpoint with a bearer token.
func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// RequestFeedback asks the pipeline to generate feedback for a finished call.
func (c *Client) RequestFeedback(ctx context.Context, req domain.FeedbackRequest) error {
	ctx, span := tracer.Start(ctx, "request feedback", trace.WithAttributes(
		attribute.String("interview.id", req.InterviewID),
		attribute.String("conversation.id", req.ConversationID),
	))
	defer span.End()

	if err := c.post(ctx, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("request feedback for %s: %w", req.InterviewID, err)
	}

	logger.InfoContext(ctx, "feedback requested", "interview_id", req.InterviewID)
	return nil
}

func (c *Client) post(ctx context.Context, body domain.FeedbackRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("feedback http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Discard is a pipeline that accepts and drops every request. It is used
// when no feedback endpoint is configured.
type Discard struct{}

func (Discard) RequestFeedback(ctx context.Context, req domain.FeedbackRequest) error {
	logger.WarnContext(ctx, "no feedback endpoint configured, dropping request", "interview_id", req.InterviewID)
	return nil
}
