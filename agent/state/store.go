package state

import (
	"context"
	"errors"
	"time"
)

var (
	ErrStateNotFound   = errors.New("session state not found")
	ErrNilSessionState = errors.New("session state is nil")
	ErrInvalidSession  = errors.New("session id is empty")
)

const (
	defaultStoreKeyPrefix = "crm:session:"
	defaultStoreTTL       = 24 * time.Hour
	maxResponseSizeBytes  = 2 << 20
)

// Store is the persistence contract for sessions. Implementations are not
// required to serialise access; SessionStore does that per conversation.
type Store interface {
	Load(ctx context.Context, conversationID string) (*Session, error)
	Save(ctx context.Context, st *Session) error
	Delete(ctx context.Context, conversationID string) error
}

// prepareForSave normalises a session before any backend writes it.
func prepareForSave(st *Session) error {
	if st == nil {
		return ErrNilSessionState
	}
	if err := st.Validate(); err != nil {
		if errors.Is(err, ErrEmptyConversation) {
			return ErrInvalidSession
		}
		return err
	}
	st.Version++
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	} else {
		st.UpdatedAt = st.UpdatedAt.UTC()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = st.UpdatedAt
	}
	return nil
}
