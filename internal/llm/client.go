package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultBackoff is the fixed wait between completion attempts.
const DefaultBackoff = 15 * time.Second

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema names the JSON shape a completion must conform to. Def is a raw
// JSON-schema document forwarded to the backend's response_format.
type Schema struct {
	Name string
	Def  json.RawMessage
}

// Request is a single structured-completion request. MaxRetries counts total
// attempts (not re-attempts); zero means one attempt. Backoff of zero means
// DefaultBackoff.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	Schema      *Schema
	MaxRetries  int
	Backoff     time.Duration
}

// Backend is a single-attempt completion call. Retry policy lives in
// CompleteStructured, not here.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client speaks an OpenAI-compatible chat-completions API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	audit   *AuditLog
	logger  *slog.Logger
}

func NewClient(baseURL, apiKey string, audit *AuditLog, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
		audit:   audit,
		logger:  logger,
	}
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete performs one completion attempt and returns the raw text content.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	reqBody := chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}
	if req.Schema != nil {
		reqBody.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   req.Schema.Name,
				Strict: true,
				Schema: req.Schema.Def,
			},
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("api error %d (%s): %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
		}
		return "", fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("empty response choices")
	}

	content := apiResp.Choices[0].Message.Content

	// Audit writes are best-effort and must never fail the call.
	if c.audit != nil {
		if err := c.audit.Record(req.Model, req.Messages, content); err != nil {
			c.logger.Warn("audit write failed", "error", err)
		}
	}

	return content, nil
}

// Validator lets a response type reject structurally valid JSON that is
// missing required fields. Validation failures are retried like parse errors.
type Validator interface {
	Validate() error
}

// CompleteStructured calls the backend until a completion both succeeds and
// parses as T, waiting a fixed backoff between attempts. Transport errors and
// parse failures are indistinguishable to the retry loop. Returns an error,
// never panics, after exhausting attempts; callers treat that as "no result".
func CompleteStructured[T any](ctx context.Context, b Backend, req Request) (*T, error) {
	attempts := req.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	backoff := req.Backoff
	if backoff == 0 {
		backoff = DefaultBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := b.Complete(ctx, req)
		if err == nil {
			var out T
			if err = json.Unmarshal([]byte(raw), &out); err == nil {
				if v, ok := any(&out).(Validator); ok {
					err = v.Validate()
				}
				if err == nil {
					return &out, nil
				}
			}
			err = fmt.Errorf("parse completion: %w", err)
		}
		lastErr = err

		if attempt < attempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("completion failed after %d attempts: %w", attempts, lastErr)
}
