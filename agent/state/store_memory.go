package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory. Entries are stored encoded so
// callers never share pointers with the store.
type MemoryStore struct {
	entries *xsync.MapOf[string, memoryEntry]
	ttl     time.Duration
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store; ttl <= 0 keeps sessions until
// deleted.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: xsync.NewMapOf[string, memoryEntry](),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) Load(_ context.Context, conversationID string) (*Session, error) {
	key := strings.TrimSpace(conversationID)
	if key == "" {
		return nil, ErrInvalidSession
	}

	entry, ok := m.entries.Load(key)
	if !ok {
		return nil, ErrStateNotFound
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.entries.Delete(key)
		return nil, ErrStateNotFound
	}

	var st Session
	if err := json.Unmarshal(entry.payload, &st); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &st, nil
}

func (m *MemoryStore) Save(_ context.Context, st *Session) error {
	if err := prepareForSave(st); err != nil {
		return err
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	entry := memoryEntry{payload: payload}
	if m.ttl > 0 {
		entry.expiresAt = m.now().Add(m.ttl)
	}
	m.entries.Store(strings.TrimSpace(st.ConversationID), entry)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, conversationID string) error {
	key := strings.TrimSpace(conversationID)
	if key == "" {
		return ErrInvalidSession
	}
	m.entries.Delete(key)
	return nil
}

// Len reports the number of stored sessions, expired ones included.
func (m *MemoryStore) Len() int {
	return m.entries.Size()
}
