package state

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

	"github.com/tidwall/gjson"
)

// ErrRedis wraps failures reported by the Upstash REST endpoint.
var ErrRedis = errors.New("upstash redis")

const maxRedisErrorBody = 256

// StoreOption customizes UpstashRedisStore.
type StoreOption func(*UpstashRedisStore)

// WithKeyPrefix namespaces session keys; blank keeps "crm:session:".
func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.keyPrefix = p
		}
	}
}

// WithTTL sets how long an idle conversation survives; 0 disables expiry.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) { s.ttl = ttl }
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// UpstashRedisStore keeps one JSON document per conversation under
// keyPrefix+conversationID. Every save refreshes the expiry, so the ttl
// counts from the last processed turn.
type UpstashRedisStore struct {
	endpoint   string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

var _ Store = (*UpstashRedisStore)(nil)

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("%w: rest url is required", ErrRedis)
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("%w: rest url: %v", ErrRedis, err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("%w: rest token is required", ErrRedis)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &UpstashRedisStore{
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultStoreKeyPrefix,
		ttl:        defaultStoreTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.ttl < 0 {
		return nil, fmt.Errorf("%w: session ttl must be >= 0", ErrRedis)
	}
	return s, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, conversationID string) (*Session, error) {
	key, err := s.sessionKey(conversationID)
	if err != nil {
		return nil, err
	}

	result, err := s.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	// GET answers a JSON string holding the document, or null.
	if result.Type != gjson.String {
		return nil, ErrStateNotFound
	}

	var st Session
	if err := json.Unmarshal([]byte(result.Str), &st); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("session %s failed validation: %w", key, err)
	}
	return &st, nil
}

func (s *UpstashRedisStore) Save(ctx context.Context, st *Session) error {
	if err := prepareForSave(st); err != nil {
		return err
	}
	key, err := s.sessionKey(st.ConversationID)
	if err != nil {
		return err
	}

	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", key, err)
	}

	args := []any{key, string(doc)}
	if s.ttl > 0 {
		args = append(args, "EX", ttlSeconds(s.ttl))
	}
	_, err = s.do(ctx, "SET", args...)
	return err
}

func (s *UpstashRedisStore) Delete(ctx context.Context, conversationID string) error {
	key, err := s.sessionKey(conversationID)
	if err != nil {
		return err
	}
	_, err = s.do(ctx, "DEL", key)
	return err
}

func (s *UpstashRedisStore) sessionKey(conversationID string) (string, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return "", ErrInvalidSession
	}
	prefix := strings.TrimSpace(s.keyPrefix)
	if prefix == "" {
		prefix = defaultStoreKeyPrefix
	}
	return prefix + id, nil
}

// do posts one command as a JSON array and returns the "result" field.
func (s *UpstashRedisStore) do(ctx context.Context, name string, args ...any) (gjson.Result, error) {
	body, err := json.Marshal(append([]any{name}, args...))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: encode %s: %v", ErrRedis, name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: build %s: %v", ErrRedis, name, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %s: %w", ErrRedis, name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: read %s reply: %v", ErrRedis, name, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return gjson.Result{}, fmt.Errorf("%w: %s returned status %d: %s", ErrRedis, name, resp.StatusCode, truncateBody(raw))
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: %s reply is not json", ErrRedis, name)
	}
	if msg := gjson.GetBytes(raw, "error"); msg.Exists() && msg.String() != "" {
		return gjson.Result{}, fmt.Errorf("%w: %s: %s", ErrRedis, name, msg.String())
	}
	return gjson.GetBytes(raw, "result"), nil
}

func truncateBody(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > maxRedisErrorBody {
		return s[:maxRedisErrorBody] + "..."
	}
	return s
}

// ttlSeconds rounds up so a sub-second ttl still sets an expiry.
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
