// Package gateway is the HTTP edge: it turns transport webhooks into turns
// and sends the replies back through the relay.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	identityx "github.com/tanpawarit/crm-assistant/agent/identity"
	nodex "github.com/tanpawarit/crm-assistant/agent/nodes"
	relayx "github.com/tanpawarit/crm-assistant/pkg/relay"
)

const (
	maxBodyBytes       = 1 << 20
	eventMessageCreate = "message_create"
	defaultTurnTimeout = 2 * time.Minute
)

type Status string

const (
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusIgnoredSelf Status = "ignored_self"
	StatusNoMessage   Status = "no_message"
	StatusHealthy     Status = "healthy"
)

type Response struct {
	Status   Status `json:"status"`
	Response string `json:"response,omitempty"`
	Message  string `json:"message,omitempty"`
}

// SignatureVerifier checks inbound request signatures. A disabled verifier
// accepts everything.
type SignatureVerifier interface {
	Enabled() bool
	Verify(token string, body []byte) error
}

type Deps struct {
	Runner      contractx.TurnRunner
	Notifier    contractx.Notifier
	Resolver    *identityx.Resolver
	Verifier    SignatureVerifier
	TurnTimeout time.Duration
}

type Server struct {
	runner      contractx.TurnRunner
	notifier    contractx.Notifier
	resolver    *identityx.Resolver
	verifier    SignatureVerifier
	turnTimeout time.Duration
}

func New(deps Deps) (*Server, error) {
	if deps.Runner == nil {
		return nil, errors.New("turn runner is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("identity resolver is required")
	}
	timeout := deps.TurnTimeout
	if timeout <= 0 {
		timeout = defaultTurnTimeout
	}
	return &Server{
		runner:      deps.Runner,
		notifier:    deps.Notifier,
		resolver:    deps.Resolver,
		verifier:    deps.Verifier,
		turnTimeout: timeout,
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.Webhook)
	mux.HandleFunc("GET /health", s.Health)
	return recoverer(mux)
}

func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Response{Status: StatusHealthy})
}

// inboundMessage accepts both the flat relay payload and the event-wrapped
// one.
type inboundMessage struct {
	Phone     string `json:"phone"`
	Message   string `json:"message"`
	UserEmail string `json:"userEmail"`

	Event string `json:"event"`
	Data  *struct {
		Phone     string `json:"phone"`
		Message   string `json:"message"`
		UserEmail string `json:"userEmail"`
		FromMe    bool   `json:"fromMe"`
	} `json:"data"`
}

func (m inboundMessage) normalized() (phone, message, userEmail string, fromMe bool) {
	phone, message, userEmail = m.Phone, m.Message, m.UserEmail
	if m.Data != nil {
		if phone == "" {
			phone = m.Data.Phone
		}
		if message == "" {
			message = m.Data.Message
		}
		if userEmail == "" {
			userEmail = m.Data.UserEmail
		}
		fromMe = m.Data.FromMe
	}
	return strings.TrimSpace(phone), strings.TrimSpace(message), strings.TrimSpace(userEmail), fromMe
}

func (s *Server) Webhook(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusOK, Response{Status: StatusError, Message: "could not read request body"})
		return
	}

	if s.verifier != nil && s.verifier.Enabled() {
		if err := s.verifier.Verify(r.Header.Get(relayx.SignatureHeader), body); err != nil {
			logger.Warn().Err(err).Msg("rejected unsigned webhook")
			writeJSON(w, http.StatusUnauthorized, Response{Status: StatusError, Message: "invalid signature"})
			return
		}
	}

	var in inboundMessage
	if err := json.Unmarshal(body, &in); err != nil {
		writeJSON(w, http.StatusOK, Response{Status: StatusError, Message: "invalid json payload"})
		return
	}

	phone, message, userEmail, fromMe := in.normalized()
	if in.Event == eventMessageCreate && fromMe {
		writeJSON(w, http.StatusOK, Response{Status: StatusIgnoredSelf})
		return
	}
	if phone == "" {
		writeJSON(w, http.StatusOK, Response{Status: StatusError, Message: "missing phone"})
		return
	}
	if message == "" {
		writeJSON(w, http.StatusOK, Response{Status: StatusNoMessage})
		return
	}

	seller, source, err := s.resolver.Resolve(identityx.Event{ConversationID: phone, TrustedIdentity: userEmail})
	if err != nil {
		logger.Warn().Err(err).Str("conversation_id", phone).Msg("seller identity not resolved")
		writeJSON(w, http.StatusOK, Response{Status: StatusError, Message: "seller identity is missing or invalid"})
		return
	}
	if source == identityx.SourceFallback {
		logger.Debug().Str("conversation_id", phone).Msg("using fallback seller identity")
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.turnTimeout)
	defer cancel()

	reply, turnErr := s.runner.HandleMessage(ctx, contractx.TurnRequest{
		ConversationID: phone,
		Text:           message,
		Seller:         seller,
	})
	if turnErr != nil {
		logger.Error().Err(turnErr).Str("conversation_id", phone).Str("seller", seller.Email()).Msg("turn failed")
		reply = nodex.FallbackReply
	}

	s.notify(r.Context(), logger, phone, reply)

	if turnErr != nil {
		writeJSON(w, http.StatusOK, Response{Status: StatusError, Message: "could not process message", Response: reply})
		return
	}
	writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Response: reply})
}

// notify delivers the reply even if the webhook caller has gone away.
func (s *Server) notify(ctx context.Context, logger *zerolog.Logger, phone, reply string) {
	if err := s.notifier.Send(context.WithoutCancel(ctx), phone, reply); err != nil {
		logger.Error().Err(err).Str("conversation_id", phone).Msg("reply delivery failed")
	}
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Ctx(r.Context()).Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				writeJSON(w, http.StatusOK, Response{Status: StatusError, Message: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
