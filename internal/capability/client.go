// Package capability is a thin typed client for the sandboxed
// chat/document backend's curated prompt endpoint. It knows only the
// request/response envelope; whatever document index or tool execution
// happens behind the endpoint is the backend's business.
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fulcrum-ai/gateway/internal/sandbox"
)

// ErrDownstreamUnavailable indicates the backend call failed or timed
// out. Safe for the caller to retry; this client never retries itself.
var ErrDownstreamUnavailable = errors.New("capability: downstream unavailable")

// Config for the curated prompt client.
type Config struct {
	// PromptURL is the backend's curated prompt endpoint.
	PromptURL string
	// ModelID selects the backend model. Defaults to "openai.gpt-35-turbo-16k".
	ModelID string
	// MaxTokens per completion. Defaults to 1024.
	MaxTokens int
	// Timeout bounds each call. Defaults to 120s.
	Timeout time.Duration
	// LogHandler is an optional slog.Handler. If nil, logging is discarded.
	LogHandler slog.Handler
}

type Client struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.PromptURL == "" {
		return nil, errors.New("prompt URL is required")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "openai.gpt-35-turbo-16k"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	logHandler := cfg.LogHandler
	if logHandler == nil {
		logHandler = slog.DiscardHandler
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    slog.New(logHandler),
	}, nil
}

type promptRequest struct {
	PromptTemplate string            `json:"prompt_template"`
	PromptKwargs   map[string]string `json:"prompt_kwargs"`
	ModelID        string            `json:"model_id"`
	ModelKwargs    modelKwargs       `json:"model_kwargs"`
}

type modelKwargs struct {
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// Prompt sends one chat message authorized by cred and returns the
// generated text. Error messages never include the credential value.
func (c *Client) Prompt(ctx context.Context, cred *sandbox.Credential, message string) (string, error) {
	if cred == nil || cred.AccessToken == "" {
		return "", errors.New("credential is required")
	}

	payload, err := json.Marshal(promptRequest{
		PromptTemplate: "{prompt}",
		PromptKwargs:   map[string]string{"prompt": message},
		ModelID:        c.cfg.ModelID,
		ModelKwargs:    modelKwargs{MaxTokens: c.cfg.MaxTokens, Temperature: 0, TopP: 1},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PromptURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// err may be a timeout; either way the backend is unreachable.
		return "", fmt.Errorf("%w: request failed: %v", ErrDownstreamUnavailable, unwrapURLError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrDownstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.WarnContext(ctx, "sandbox backend returned non-200",
			slog.Int("status", resp.StatusCode))
		return "", fmt.Errorf("%w: status %d", ErrDownstreamUnavailable, resp.StatusCode)
	}

	var payload2 map[string]any
	if err := json.Unmarshal(body, &payload2); err != nil {
		return "", fmt.Errorf("%w: response is not JSON", ErrDownstreamUnavailable)
	}
	// A 200 can still carry an in-body error.
	if msg, ok := payload2["error"].(string); ok && msg != "" {
		return "", fmt.Errorf("%w: backend error: %s", ErrDownstreamUnavailable, msg)
	}

	return extractText(payload2), nil
}

// extractText pulls the generated text out of the known response
// shapes: flat keys, OpenAI-style choices, and one level of nesting.
func extractText(payload map[string]any) string {
	for _, key := range []string{"result", "content", "output", "text", "response", "reply", "answer"} {
		if s, ok := payload[key].(string); ok {
			return s
		}
	}
	if choices, ok := payload["choices"].([]any); ok && len(choices) > 0 {
		if first, ok := choices[0].(map[string]any); ok {
			if msg, ok := first["message"].(map[string]any); ok {
				if s, ok := msg["content"].(string); ok {
					return s
				}
			}
			if s, ok := first["content"].(string); ok {
				return s
			}
		}
	}
	for _, outer := range []string{"data", "result", "body"} {
		if inner, ok := payload[outer].(map[string]any); ok {
			for _, key := range []string{"content", "text", "output", "response"} {
				if s, ok := inner[key].(string); ok {
					return s
				}
			}
		}
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

// unwrapURLError strips the *url.Error wrapper so error text doesn't
// echo the full request URL (which can embed deployment detail).
func unwrapURLError(err error) error {
	if inner := errors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}
