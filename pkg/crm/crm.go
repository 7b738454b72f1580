// Package crm is a thin REST client for the remote contacts API.
//
// Every call is scoped to a seller: the address travels both in the
// x-user-email header and in the userEmail body field.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	maxResponseSizeBytes = 2 << 20
	maxErrorBodyBytes    = 512
)

var (
	ErrSellerRequired = errors.New("crm: seller email is required")
	ErrMissingID      = errors.New("crm: contact id is required")
)

// StatusError is returned for any non-2xx answer from the API.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crm: %s %s status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

type Config struct {
	BaseURL     string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.spicytool.net/spicyapi/v1"`
	Token       string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout     time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	SearchLimit int           `envconfig:"SEARCH_LIMIT" split_words:"true" default:"20"`
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
	baseURL     string
	token       string
	searchLimit int
	httpClient  *http.Client
}

// Contact is the normalised view of a CRM record. Raw keeps the full record
// as the API returned it.
type Contact struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	PhoneNumber string         `json:"phone_number,omitempty"`
	Email       string         `json:"email,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`
}

type ContactInput struct {
	Name        string
	PhoneNumber string
	Email       string
}

type ListQuery struct {
	SearchTerm string
	Page       int
	Limit      int
}

type ContactPage struct {
	Contacts []Contact `json:"contacts"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("crm base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid crm base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	searchLimit := cfg.SearchLimit
	if searchLimit <= 0 {
		searchLimit = 20
	}

	c := &Client{
		baseURL:     baseURL,
		token:       strings.TrimSpace(cfg.Token),
		searchLimit: searchLimit,
		httpClient:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func (c *Client) CreateContact(ctx context.Context, seller string, in ContactInput) (map[string]any, error) {
	body := map[string]any{
		"name":        strings.TrimSpace(in.Name),
		"phoneNumber": in.PhoneNumber,
		"email":       in.Email,
	}
	raw, err := c.do(ctx, http.MethodPost, "/contact", nil, seller, body)
	if err != nil {
		return nil, err
	}
	return decodeObject(raw), nil
}

// UpdateContact sends only the non-empty fields of in.
func (c *Client) UpdateContact(ctx context.Context, seller string, id string, in ContactInput) (map[string]any, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrMissingID
	}
	body := map[string]any{}
	if v := strings.TrimSpace(in.Name); v != "" {
		body["name"] = v
	}
	if in.Email != "" {
		body["email"] = in.Email
	}
	if in.PhoneNumber != "" {
		body["phoneNumber"] = in.PhoneNumber
	}
	raw, err := c.do(ctx, http.MethodPut, "/contact/"+url.PathEscape(id), nil, seller, body)
	if err != nil {
		return nil, err
	}
	return decodeObject(raw), nil
}

func (c *Client) ListContacts(ctx context.Context, seller string, q ListQuery) (ContactPage, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = 5
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(q.Page))
	query.Set("limit", strconv.Itoa(q.Limit))

	body := map[string]any{}
	if term := strings.TrimSpace(q.SearchTerm); term != "" {
		body["searchTerm"] = term
	}

	raw, err := c.do(ctx, http.MethodPost, "/contacts", query, seller, body)
	if err != nil {
		return ContactPage{}, err
	}
	contacts, total := NormalizeContacts(raw)
	return ContactPage{Contacts: contacts, Total: total, Page: q.Page, Limit: q.Limit}, nil
}

// SearchFirst returns the first contact matching term, or nil when there is
// none. It always issues exactly one request.
func (c *Client) SearchFirst(ctx context.Context, seller string, term string) (*Contact, error) {
	page, err := c.ListContacts(ctx, seller, ListQuery{SearchTerm: term, Page: 1, Limit: c.searchLimit})
	if err != nil {
		return nil, err
	}
	if len(page.Contacts) == 0 {
		return nil, nil
	}
	first := page.Contacts[0]
	return &first, nil
}

// NormalizeContacts accepts a top-level array or an object carrying the list
// under "contacts" or "docs". The total comes from totalContacts when present.
func NormalizeContacts(raw []byte) ([]Contact, int) {
	doc := gjson.ParseBytes(raw)

	var list gjson.Result
	switch {
	case doc.IsArray():
		list = doc
	case doc.Get("contacts").IsArray() && len(doc.Get("contacts").Array()) > 0:
		list = doc.Get("contacts")
	case doc.Get("docs").IsArray():
		list = doc.Get("docs")
	default:
		list = doc.Get("contacts")
	}

	items := list.Array()
	contacts := make([]Contact, 0, len(items))
	for _, item := range items {
		if !item.IsObject() {
			continue
		}
		contacts = append(contacts, contactFromJSON(item))
	}

	total := len(contacts)
	if t := doc.Get("totalContacts"); doc.IsObject() && t.Exists() && t.Type == gjson.Number {
		total = int(t.Int())
	}
	return contacts, total
}

func contactFromJSON(item gjson.Result) Contact {
	id := item.Get("_id").String()
	if id == "" {
		id = item.Get("id").String()
	}
	phone := item.Get("phoneNumber").String()
	if phone == "" {
		phone = item.Get("phone").String()
	}
	raw, _ := item.Value().(map[string]any)
	return Contact{
		ID:          id,
		Name:        item.Get("name").String(),
		PhoneNumber: phone,
		Email:       item.Get("email").String(),
		Raw:         raw,
	}
}

func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	query url.Values,
	seller string,
	body map[string]any,
) ([]byte, error) {
	seller = strings.TrimSpace(seller)
	if seller == "" {
		return nil, ErrSellerRequired
	}
	if body == nil {
		body = map[string]any{}
	}
	body["userEmail"] = seller

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("crm: marshal request: %w", err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("crm: build request: %w", err)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-user-email", seller)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crm: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("crm: read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), maxErrorBodyBytes),
		}
	}
	if len(bytes.TrimSpace(raw)) > 0 && !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("crm: %s %s: malformed json response", method, path)
	}
	return raw, nil
}

func decodeObject(raw []byte) map[string]any {
	out, _ := gjson.ParseBytes(raw).Value().(map[string]any)
	return out
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
