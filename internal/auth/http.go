package auth

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
)

// HTTPProvider speaks the hosted auth REST API.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	http    *http.Client
	now     func() time.Time
}

func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now: time.Now,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         User   `json:"user"`
}

type authError struct {
	Error            string `json:"error"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"msg"`
}

func (p *HTTPProvider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	return p.token(ctx, "password", body)
}

func (p *HTTPProvider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, domain.ErrInvalidRefreshToken
	}
	body := map[string]string{"refresh_token": refreshToken}
	return p.token(ctx, "refresh_token", body)
}

func (p *HTTPProvider) SignOut(ctx context.Context, accessToken string) error {
	_, _, err := p.do(ctx, "/auth/v1/logout", accessToken, nil)
	return err
}

func (p *HTTPProvider) token(ctx context.Context, grantType string, body any) (*Session, error) {
	status, respBody, err := p.do(ctx, "/auth/v1/token?grant_type="+grantType, "", body)
	if err != nil {
		if grantType == "refresh_token" && status >= 400 && status < 500 && isInvalidRefresh(respBody) {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRefreshToken, err)
		}
		return nil, err
	}

	var tok tokenResponse
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return nil, fmt.Errorf("unmarshal token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access token")
	}

	return &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    p.now().Add(time.Duration(tok.ExpiresIn) * time.Second),
		User:         tok.User,
	}, nil
}

func (p *HTTPProvider) do(ctx context.Context, path, bearer string, in any) (int, []byte, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("apikey", p.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, respBody, fmt.Errorf("auth http %d: %s", resp.StatusCode, describe(respBody))
	}
	return resp.StatusCode, respBody, nil
}

func isInvalidRefresh(body []byte) bool {
	var e authError
	if err := json.Unmarshal(body, &e); err != nil {
		return false
	}
	if e.Error == "invalid_grant" || e.ErrorCode == "refresh_token_not_found" || e.ErrorCode == "refresh_token_already_used" {
		return true
	}
	return strings.Contains(strings.ToLower(e.ErrorDescription+e.Message), "refresh token")
}

func describe(body []byte) string {
	var e authError
	if err := json.Unmarshal(body, &e); err == nil {
		for _, s := range []string{e.ErrorDescription, e.Message, e.Error} {
			if s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(body))
}
