// Package llm is the decision gateway: a synchronous client for the
// external reasoning service. It carries no retry and no knowledge of task
// state; every transport, timeout or malformed-body failure is mapped to
// *GatewayError so callers handle exactly one failure shape.
package llm

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

// Message is one chat message sent to the reasoning service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the gateway boundary. Implementations must be safe for
// concurrent use; one call maps to one decision attempt.
type Client interface {
	// Complete returns the raw text of the model reply. All failures are
	// returned as *GatewayError.
	Complete(ctx context.Context, messages []Message) (string, error)
}

// GatewayError is the uniform failure type of the gateway boundary.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsGatewayError reports whether err is (or wraps) a *GatewayError.
func IsGatewayError(err error) bool {
	var gatewayErr *GatewayError
	return errors.As(err, &gatewayErr)
}

// OpenAIClient talks to an OpenAI-compatible chat-completions endpoint.
// Create once and reuse; per-call cancellation comes from the context.
type OpenAIClient struct {
	// APIKey is the bearer token.
	APIKey string

	// BaseURL is the endpoint root, e.g. https://api.deepseek.com/v1
	BaseURL string

	// Model is the model identifier sent with every request.
	Model string

	// Timeout bounds one call at the network level. Zero means no limit
	// beyond the caller's context.
	Timeout time.Duration

	// HTTPClient can be replaced for testing.
	HTTPClient *http.Client
}

// NewOpenAIClient creates a client for the given endpoint.
func NewOpenAIClient(apiKey, baseURL, model string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Model:      model,
		Timeout:    timeout,
		HTTPClient: &http.Client{},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: 0.3,
	})
	if err != nil {
		return "", &GatewayError{Op: "encode", Err: err}
	}

	url := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &GatewayError{Op: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &GatewayError{Op: "transport", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &GatewayError{Op: "read response", Err: err}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &GatewayError{Op: "decode", Err: fmt.Errorf("status %d: %w", resp.StatusCode, err)}
	}
	if resp.StatusCode != http.StatusOK {
		message := http.StatusText(resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			message = parsed.Error.Message
		}
		return "", &GatewayError{Op: "request", Err: fmt.Errorf("status %d: %s", resp.StatusCode, message)}
	}
	if len(parsed.Choices) == 0 {
		return "", &GatewayError{Op: "decode", Err: fmt.Errorf("response has no choices")}
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
