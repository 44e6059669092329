// Package whatsapp talks to the Gupshup WhatsApp Business API and decides,
// per lead, whether a free-form message or a template must be sent.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultBaseURL is the Gupshup WhatsApp API root.
const DefaultBaseURL = "https://api.gupshup.io/wa/api/v1"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config identifies the Gupshup app used for sending.
type Config struct {
	BaseURL string
	APIKey  string
	Source  string // business phone number registered with Gupshup
	AppName string
}

// Client sends messages through Gupshup.
type Client struct {
	http HTTPClient
	cfg  Config
}

// NewClient creates a Client with the given HTTP client.
func NewClient(httpClient HTTPClient, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{http: httpClient, cfg: cfg}
}

type sendResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
}

// SendText sends a free-form text message and returns the provider message ID.
func (c *Client) SendText(ctx context.Context, phone, text string) (string, error) {
	msg, err := json.Marshal(map[string]string{"type": "text", "text": text})
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	form := c.baseForm(phone)
	form.Set("message", string(msg))
	return c.post(ctx, "/msg", form)
}

// SendTemplate sends a pre-approved template with positional params.
func (c *Client) SendTemplate(ctx context.Context, phone, templateID string, params []string) (string, error) {
	if params == nil {
		params = []string{}
	}
	tpl, err := json.Marshal(struct {
		ID     string   `json:"id"`
		Params []string `json:"params"`
	}{ID: templateID, Params: params})
	if err != nil {
		return "", fmt.Errorf("encode template: %w", err)
	}
	form := c.baseForm(phone)
	form.Set("template", string(tpl))
	return c.post(ctx, "/template/msg", form)
}

func (c *Client) baseForm(phone string) url.Values {
	form := url.Values{}
	form.Set("channel", "whatsapp")
	form.Set("source", c.cfg.Source)
	form.Set("destination", strings.TrimPrefix(phone, "+"))
	form.Set("src.name", c.cfg.AppName)
	return form
}

func (c *Client) post(ctx context.Context, path string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out sendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Status == "error" {
		return "", fmt.Errorf("gupshup error: %s", out.Message)
	}
	return out.MessageID, nil
}
