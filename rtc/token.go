package rtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RequestTimeout bounds the token and SDP requests when no client is
// configured. Open's context is not given a deadline because it also
// runs the microphone.
const RequestTimeout = 20 * time.Second

var defaultClient = &http.Client{Timeout: RequestTimeout}

// TokenSource issues the short-lived credential used for the SDP
// exchange.
type TokenSource interface {
	Token(ctx context.Context, voice string) (string, error)
}

// HTTPTokenSource asks a session-issuing endpoint for an ephemeral key.
type HTTPTokenSource struct {
	URL    string
	APIKey string
	Model  string
	Client *http.Client
}

type tokenRequest struct {
	Model string `json:"model,omitempty"`
	Voice string `json:"voice,omitempty"`
}

type tokenResponse struct {
	ClientSecret *struct {
		Value string `json:"value"`
	} `json:"client_secret"`
	Value string `json:"value"`
}

func (s *HTTPTokenSource) Token(ctx context.Context, voice string) (string, error) {
	body, err := json.Marshal(tokenRequest{Model: s.Model, Voice: voice})
	if err != nil {
		return "", &AuthError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return "", &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := httpClient(s.Client).Do(req)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &AuthError{
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(msg))),
		}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", &AuthError{Err: fmt.Errorf("decode: %w", err)}
	}
	value := tr.Value
	if tr.ClientSecret != nil && tr.ClientSecret.Value != "" {
		value = tr.ClientSecret.Value
	}
	if value == "" {
		return "", &AuthError{Err: errors.New("response carries no credential")}
	}
	return value, nil
}

// StaticToken uses a fixed key.
type StaticToken string

func (t StaticToken) Token(context.Context, string) (string, error) {
	if t == "" {
		return "", &AuthError{Err: errors.New("no api key configured")}
	}
	return string(t), nil
}

func httpClient(c *http.Client) *http.Client {
	if c == nil {
		return defaultClient
	}
	return c
}
