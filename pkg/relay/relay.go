// Package relay talks to the messaging transport relay: it delivers replies
// and verifies signed inbound webhook calls.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBodyBytes = 512

type Config struct {
	URL               string        `envconfig:"URL" split_words:"true" default:"https://api.spicytool.net/api/webhooks/whatsApp/sendMessage"`
	Token             string        `envconfig:"TOKEN" split_words:"true"`
	Timeout           time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	CurrentSigningKey string        `envconfig:"CURRENT_SIGNING_KEY" split_words:"true"`
	NextSigningKey    string        `envconfig:"NEXT_SIGNING_KEY" split_words:"true"`
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("relay url is required")
	}

	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

func MustNew(cfg Config, opts ...Option) *Client {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return client
}

type outboundMessage struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Send posts one reply to the relay.
func (c *Client) Send(ctx context.Context, phone string, message string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return errors.New("relay: phone is required")
	}

	body, err := json.Marshal(outboundMessage{Phone: phone, Message: message})
	if err != nil {
		return fmt.Errorf("relay: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("relay: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("relay: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
