package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const defaultBaseURL = "https://open.feishu.cn"

// maxResponseBytes bounds API response reads.
const maxResponseBytes = 1 << 20

// Sender delivers one text message to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, chatID, text string) error

// SendText implements Sender.
func (f SenderFunc) SendText(ctx context.Context, chatID, text string) error {
	return f(ctx, chatID, text)
}

// Client sends messages through the open-platform HTTP API, caching the
// tenant access token until shortly before it expires.
type Client struct {
	AppID      string
	AppSecret  string
	BaseURL    string
	HTTPClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

// NewClient creates an API client. timeout bounds each HTTP call.
func NewClient(appID, appSecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		AppID:      appID,
		AppSecret:  appSecret,
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

// tenantToken returns a cached token, refreshing it 60 seconds before expiry.
func (c *Client) tenantToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"app_id":     c.AppID,
		"app_secret": c.AppSecret,
	})
	if err != nil {
		return "", fmt.Errorf("encode token request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/open-apis/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.HTTPClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("request tenant token: %w", err)
	}
	defer response.Body.Close()

	var parsed tokenResponse
	if err := json.NewDecoder(io.LimitReader(response.Body, maxResponseBytes)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if parsed.Code != 0 || parsed.TenantAccessToken == "" {
		return "", fmt.Errorf("tenant token request failed: code=%d msg=%s", parsed.Code, parsed.Msg)
	}

	c.token = parsed.TenantAccessToken
	c.tokenExpiry = c.now().Add(time.Duration(parsed.Expire)*time.Second - time.Minute)
	return c.token, nil
}

type sendResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// SendText sends one text message to chatID.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return err
	}

	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encode message content: %w", err)
	}
	body, err := json.Marshal(map[string]string{
		"receive_id": chatID,
		"msg_type":   "text",
		"content":    string(content),
	})
	if err != nil {
		return fmt.Errorf("encode message request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/open-apis/im/v1/messages?receive_id_type=chat_id", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build message request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := c.HTTPClient.Do(request)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer response.Body.Close()

	var parsed sendResponse
	if err := json.NewDecoder(io.LimitReader(response.Body, maxResponseBytes)).Decode(&parsed); err != nil {
		return fmt.Errorf("decode message response: %w", err)
	}
	if parsed.Code != 0 {
		return fmt.Errorf("send message failed: code=%d msg=%s", parsed.Code, parsed.Msg)
	}
	return nil
}
