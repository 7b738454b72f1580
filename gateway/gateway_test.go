package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	identityx "github.com/tanpawarit/crm-assistant/agent/identity"
	nodex "github.com/tanpawarit/crm-assistant/agent/nodes"
	relayx "github.com/tanpawarit/crm-assistant/pkg/relay"
)

type fakeRunner struct {
	mu       sync.Mutex
	requests []contractx.TurnRequest
	reply    string
	err      error
	panicMsg string
}

func (f *fakeRunner) HandleMessage(_ context.Context, req contractx.TurnRequest) (string, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

type sent struct {
	phone   string
	message string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, phone, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{phone: phone, message: message})
	return f.err
}

func newTestServer(t *testing.T, runner *fakeRunner, notifier *fakeNotifier, resolverCfg identityx.Config, verifier SignatureVerifier) http.Handler {
	t.Helper()
	resolver, err := identityx.NewResolver(resolverCfg)
	require.NoError(t, err)
	srv, err := New(Deps{
		Runner:      runner,
		Notifier:    notifier,
		Resolver:    resolver,
		Verifier:    verifier,
		TurnTimeout: time.Second,
	})
	require.NoError(t, err)
	return srv.Handler()
}

func post(t *testing.T, h http.Handler, body string, headers map[string]string) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &fakeRunner{}, &fakeNotifier{}, identityx.Config{}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestWebhookFlatPayloadRunsTurnAndSendsReply(t *testing.T) {
	runner := &fakeRunner{reply: "Listo, ¿algo más?"}
	notifier := &fakeNotifier{}
	h := newTestServer(t, runner, notifier, identityx.Config{}, nil)

	code, resp := post(t, h, `{"phone":"5215550001","message":"hola","userEmail":"Seller@Example.com"}`, nil)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, "Listo, ¿algo más?", resp.Response)

	require.Len(t, runner.requests, 1)
	got := runner.requests[0]
	assert.Equal(t, "5215550001", got.ConversationID)
	assert.Equal(t, "hola", got.Text)
	assert.Equal(t, "Seller@Example.com", got.Seller.Email())

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, sent{phone: "5215550001", message: "Listo, ¿algo más?"}, notifier.sent[0])
}

func TestWebhookWrappedPayload(t *testing.T) {
	runner := &fakeRunner{reply: "ok"}
	h := newTestServer(t, runner, &fakeNotifier{}, identityx.Config{}, nil)

	code, resp := post(t, h, `{"event":"message","data":{"phone":"5215550002","message":"lista mis contactos","fromMe":false,"userEmail":"a@example.com"}}`, nil)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, runner.requests, 1)
	assert.Equal(t, "5215550002", runner.requests[0].ConversationID)
	assert.Equal(t, "a@example.com", runner.requests[0].Seller.Email())
}

func TestWebhookIgnoresOwnMessages(t *testing.T) {
	runner := &fakeRunner{reply: "ok"}
	notifier := &fakeNotifier{}
	h := newTestServer(t, runner, notifier, identityx.Config{}, nil)

	_, resp := post(t, h, `{"event":"message_create","data":{"phone":"5215550003","message":"eco","fromMe":true,"userEmail":"a@example.com"}}`, nil)

	assert.Equal(t, StatusIgnoredSelf, resp.Status)
	assert.Empty(t, runner.requests)
	assert.Empty(t, notifier.sent)
}

func TestWebhookRejectsIncompletePayloads(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status Status
	}{
		{name: "invalid json", body: `{"phone":`, status: StatusError},
		{name: "missing phone", body: `{"message":"hola","userEmail":"a@example.com"}`, status: StatusError},
		{name: "empty message", body: `{"phone":"5215550004","message":"   ","userEmail":"a@example.com"}`, status: StatusNoMessage},
		{name: "missing identity", body: `{"phone":"5215550004","message":"hola"}`, status: StatusError},
		{name: "malformed identity", body: `{"phone":"5215550004","message":"hola","userEmail":"not-an-email"}`, status: StatusError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{reply: "ok"}
			notifier := &fakeNotifier{}
			h := newTestServer(t, runner, notifier, identityx.Config{}, nil)

			code, resp := post(t, h, tc.body, nil)

			assert.Equal(t, http.StatusOK, code)
			assert.Equal(t, tc.status, resp.Status)
			assert.Empty(t, runner.requests)
			assert.Empty(t, notifier.sent)
		})
	}
}

func TestWebhookUsesFallbackIdentityWhenAllowed(t *testing.T) {
	runner := &fakeRunner{reply: "ok"}
	h := newTestServer(t, runner, &fakeNotifier{}, identityx.Config{FallbackEmail: "dev@example.com", AllowFallback: true}, nil)

	_, resp := post(t, h, `{"phone":"5215550005","message":"hola"}`, nil)

	assert.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, runner.requests, 1)
	assert.Equal(t, "dev@example.com", runner.requests[0].Seller.Email())
}

func TestWebhookTurnFailureSendsFallback(t *testing.T) {
	runner := &fakeRunner{err: errors.New("backend down")}
	notifier := &fakeNotifier{}
	h := newTestServer(t, runner, notifier, identityx.Config{}, nil)

	code, resp := post(t, h, `{"phone":"5215550006","message":"hola","userEmail":"a@example.com"}`, nil)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusError, resp.Status)
	assert.NotContains(t, resp.Message, "backend down")
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, nodex.FallbackReply, notifier.sent[0].message)
}

func TestWebhookDeliveryFailureStillSucceeds(t *testing.T) {
	runner := &fakeRunner{reply: "ok"}
	notifier := &fakeNotifier{err: errors.New("relay 502")}
	h := newTestServer(t, runner, notifier, identityx.Config{}, nil)

	_, resp := post(t, h, `{"phone":"5215550007","message":"hola","userEmail":"a@example.com"}`, nil)

	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, "ok", resp.Response)
}

func TestWebhookRecoversFromPanics(t *testing.T) {
	runner := &fakeRunner{panicMsg: "boom"}
	h := newTestServer(t, runner, &fakeNotifier{}, identityx.Config{}, nil)

	code, resp := post(t, h, `{"phone":"5215550008","message":"hola","userEmail":"a@example.com"}`, nil)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusError, resp.Status)
	assert.NotContains(t, resp.Message, "boom")
}

func TestWebhookVerifiesSignatureWhenConfigured(t *testing.T) {
	verifier := relayx.NewVerifier(relayx.Config{CurrentSigningKey: "current-key"})
	body := `{"phone":"5215550009","message":"hola","userEmail":"a@example.com"}`

	t.Run("missing signature", func(t *testing.T) {
		runner := &fakeRunner{reply: "ok"}
		h := newTestServer(t, runner, &fakeNotifier{}, identityx.Config{}, verifier)

		code, resp := post(t, h, body, nil)

		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, StatusError, resp.Status)
		assert.Empty(t, runner.requests)
	})

	t.Run("signed body", func(t *testing.T) {
		runner := &fakeRunner{reply: "ok"}
		h := newTestServer(t, runner, &fakeNotifier{}, identityx.Config{}, verifier)

		token, err := relayx.Sign("current-key", []byte(body), time.Minute)
		require.NoError(t, err)

		code, resp := post(t, h, body, map[string]string{relayx.SignatureHeader: token})

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, StatusSuccess, resp.Status)
		require.Len(t, runner.requests, 1)
	})
}

func TestNewRequiresDependencies(t *testing.T) {
	resolver, err := identityx.NewResolver(identityx.Config{})
	require.NoError(t, err)

	_, err = New(Deps{Notifier: &fakeNotifier{}, Resolver: resolver})
	assert.Error(t, err)
	_, err = New(Deps{Runner: &fakeRunner{}, Resolver: resolver})
	assert.Error(t, err)
	_, err = New(Deps{Runner: &fakeRunner{}, Notifier: &fakeNotifier{}})
	assert.Error(t, err)
}
