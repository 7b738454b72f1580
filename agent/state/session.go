package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Session is the persistent per-conversation state. SellerIdentity is only
// ever written through Bind, which the session store calls with a seller
// produced by the identity resolver.
type Session struct {
	ConversationID string `json:"conversation_id"`
	SellerIdentity string `json:"seller_identity"`

	// Turn counts processed inbound messages; intents remember the turn
	// they were proposed in so a confirmation must come from a later one.
	Turn    int            `json:"turn"`
	History []HistoryEntry `json:"history,omitempty"`
	Pending *PendingIntent `json:"pending,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type HistoryEntry struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

type IntentKind string

const (
	IntentCreateContact IntentKind = "create_contact"
	IntentUpdateContact IntentKind = "update_contact"
)

type IntentStatus string

const (
	IntentGathering            IntentStatus = "gathering"
	IntentAwaitingConfirmation IntentStatus = "awaiting_confirmation"
	IntentConfirmed            IntentStatus = "confirmed"
	IntentExecuting            IntentStatus = "executing"
	IntentDone                 IntentStatus = "done"
	IntentAborted              IntentStatus = "aborted"
)

// ContactFields holds the values a mutation will send. Empty means "not
// provided" and is left out of update payloads.
type ContactFields struct {
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Email       string `json:"email,omitempty"`
}

func (f ContactFields) Empty() bool {
	return f.Name == "" && f.PhoneNumber == "" && f.Email == ""
}

// PendingIntent is a mutation that has been summarised to the user and is
// waiting for (or has received) an explicit confirmation.
type PendingIntent struct {
	Token        string        `json:"token"`
	Kind         IntentKind    `json:"kind"`
	Status       IntentStatus  `json:"status"`
	Identifier   string        `json:"identifier,omitempty"`
	Fields       ContactFields `json:"fields"`
	Summary      string        `json:"summary"`
	ProposedTurn int           `json:"proposed_turn"`
	Outcome      string        `json:"outcome,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (p *PendingIntent) IsOpen() bool {
	if p == nil {
		return false
	}
	switch p.Status {
	case IntentGathering, IntentAwaitingConfirmation, IntentConfirmed, IntentExecuting:
		return true
	default:
		return false
	}
}

var (
	ErrEmptyConversation = errors.New("conversation id is empty")
	ErrEmptySeller       = errors.New("seller identity is empty")
	ErrIntentNotFound    = errors.New("pending intent not found")
	ErrInvalidTransition = errors.New("invalid intent transition")
	ErrNotConfirmed      = errors.New("pending intent is not confirmed")
)

func NewSession(conversationID, sellerIdentity string, now time.Time) *Session {
	return &Session{
		ConversationID: conversationID,
		SellerIdentity: sellerIdentity,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
}

func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// Bind re-asserts the seller identity. It reports whether the identity
// changed.
func (s *Session) Bind(sellerIdentity string, now time.Time) (bool, error) {
	if s == nil {
		return false, errors.New("nil session")
	}
	sellerIdentity = strings.TrimSpace(sellerIdentity)
	if sellerIdentity == "" {
		return false, ErrEmptySeller
	}
	if s.SellerIdentity == sellerIdentity {
		return false, nil
	}
	s.SellerIdentity = sellerIdentity
	// An intent gathered under another identity must not be committed under this one.
	if s.Pending.IsOpen() {
		s.Pending.Status = IntentAborted
		s.Pending.UpdatedAt = now.UTC()
		s.Pending = nil
	}
	s.Touch(now)
	return true, nil
}

// BeginTurn advances the turn counter and returns the new turn number.
func (s *Session) BeginTurn(now time.Time) int {
	s.Turn++
	s.Touch(now)
	return s.Turn
}

// AppendHistory records a text message and keeps at most limit entries.
func (s *Session) AppendHistory(role Role, content string, limit int, now time.Time) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	s.History = append(s.History, HistoryEntry{Role: role, Content: content, At: now.UTC()})
	if limit > 0 && len(s.History) > limit {
		s.History = append([]HistoryEntry(nil), s.History[len(s.History)-limit:]...)
	}
	s.Touch(now)
}

/* -------------------------- Intent state machine ------------------------- */

// Propose stores a validated intent as awaiting confirmation. Any other open
// intent is aborted and returned.
func (s *Session) Propose(intent *PendingIntent, now time.Time) (*PendingIntent, error) {
	if s == nil {
		return nil, errors.New("nil session")
	}
	if intent == nil || strings.TrimSpace(intent.Token) == "" {
		return nil, fmt.Errorf("%w: intent token is empty", ErrInvalidTransition)
	}

	var superseded *PendingIntent
	if s.Pending.IsOpen() {
		if s.Pending.Status == IntentExecuting {
			return nil, fmt.Errorf("%w: intent %s is executing", ErrInvalidTransition, s.Pending.Token)
		}
		s.Pending.Status = IntentAborted
		s.Pending.UpdatedAt = now.UTC()
		superseded = s.Pending
	}

	intent.Status = IntentAwaitingConfirmation
	intent.ProposedTurn = s.Turn
	intent.UpdatedAt = now.UTC()
	s.Pending = intent
	s.Touch(now)
	return superseded, nil
}

// AdvancePending applies the user's message of the current turn to the open
// intent. Only an explicit affirmative, given in a turn after the summary was
// presented, confirms; anything else sends the intent back to gathering.
func (s *Session) AdvancePending(affirmative bool, now time.Time) IntentStatus {
	p := s.Pending
	if !p.IsOpen() {
		return ""
	}

	switch p.Status {
	case IntentAwaitingConfirmation, IntentConfirmed:
		if affirmative && p.ProposedTurn < s.Turn {
			p.Status = IntentConfirmed
		} else {
			p.Status = IntentGathering
		}
	case IntentExecuting:
		// Left over from a turn that died mid-commit; the remote outcome is unknown.
		p.Status = IntentGathering
	}
	p.UpdatedAt = now.UTC()
	s.Touch(now)
	return p.Status
}

// BeginCommit moves a confirmed intent to executing.
func (s *Session) BeginCommit(token string, now time.Time) (*PendingIntent, error) {
	p, err := s.pendingByToken(token)
	if err != nil {
		return nil, err
	}
	if p.Status != IntentConfirmed {
		return nil, fmt.Errorf("%w: status=%s", ErrNotConfirmed, p.Status)
	}
	p.Status = IntentExecuting
	p.UpdatedAt = now.UTC()
	s.Touch(now)
	return p, nil
}

// FinishCommit records the tool outcome and clears the intent.
func (s *Session) FinishCommit(token string, outcome string, now time.Time) (*PendingIntent, error) {
	p, err := s.pendingByToken(token)
	if err != nil {
		return nil, err
	}
	if p.Status != IntentExecuting {
		return nil, fmt.Errorf("%w: cannot finish intent in status=%s", ErrInvalidTransition, p.Status)
	}
	p.Status = IntentDone
	p.Outcome = outcome
	p.UpdatedAt = now.UTC()
	s.Pending = nil
	s.Touch(now)
	return p, nil
}

func (s *Session) Cancel(token string, now time.Time) (*PendingIntent, error) {
	p, err := s.pendingByToken(token)
	if err != nil {
		return nil, err
	}
	if p.Status == IntentExecuting {
		return nil, fmt.Errorf("%w: intent %s is executing", ErrInvalidTransition, token)
	}
	p.Status = IntentAborted
	p.UpdatedAt = now.UTC()
	s.Pending = nil
	s.Touch(now)
	return p, nil
}

// DropUnpresented aborts an intent proposed during the current turn. It is
// called when the turn ends without a reply of its own, so the user never saw
// the summary and a later "yes" must not confirm it.
func (s *Session) DropUnpresented(now time.Time) *PendingIntent {
	p := s.Pending
	if !p.IsOpen() || p.ProposedTurn != s.Turn || p.Status == IntentExecuting {
		return nil
	}
	p.Status = IntentAborted
	p.UpdatedAt = now.UTC()
	s.Pending = nil
	s.Touch(now)
	return p
}

func (s *Session) pendingByToken(token string) (*PendingIntent, error) {
	if s == nil || !s.Pending.IsOpen() {
		return nil, ErrIntentNotFound
	}
	if strings.TrimSpace(token) == "" || s.Pending.Token != strings.TrimSpace(token) {
		return nil, fmt.Errorf("%w: token=%s", ErrIntentNotFound, token)
	}
	return s.Pending, nil
}

func (s *Session) Validate() error {
	if strings.TrimSpace(s.ConversationID) == "" {
		return ErrEmptyConversation
	}
	if strings.TrimSpace(s.SellerIdentity) == "" {
		return ErrEmptySeller
	}
	if p := s.Pending; p != nil {
		if strings.TrimSpace(p.Token) == "" {
			return fmt.Errorf("%w: pending intent without token", ErrInvalidTransition)
		}
		switch p.Kind {
		case IntentCreateContact, IntentUpdateContact:
		default:
			return fmt.Errorf("%w: unknown intent kind=%q", ErrInvalidTransition, p.Kind)
		}
		if !p.IsOpen() {
			return fmt.Errorf("%w: closed intent %s still attached", ErrInvalidTransition, p.Token)
		}
		if p.Fields.Empty() {
			return fmt.Errorf("%w: intent %s carries no fields", ErrInvalidTransition, p.Token)
		}
	}
	return nil
}
