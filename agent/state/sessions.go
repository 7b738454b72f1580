package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	identityx "github.com/tanpawarit/crm-assistant/agent/identity"
)

// turnLock is a per-conversation mutex built on a one-slot channel so that
// waiting can be abandoned when the context ends. refs is only touched
// inside xsync Compute callbacks.
type turnLock struct {
	ch   chan struct{}
	refs int
}

func newTurnLock() *turnLock {
	l := &turnLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// SessionStore serialises all access to a conversation's session. Work on
// different conversations proceeds independently.
type SessionStore struct {
	store Store
	locks *xsync.MapOf[string, *turnLock]
	now   func() time.Time
}

func NewSessionStore(store Store) (*SessionStore, error) {
	if store == nil {
		return nil, errors.New("session backend is required")
	}
	return &SessionStore{
		store: store,
		locks: xsync.NewMapOf[string, *turnLock](),
		now:   time.Now,
	}, nil
}

// Lease is held by exactly one caller per conversation at a time.
type Lease struct {
	owner          *SessionStore
	conversationID string
	lock           *turnLock
	released       bool
}

// Acquire blocks until the conversation is free or ctx ends.
func (s *SessionStore) Acquire(ctx context.Context, conversationID string) (*Lease, error) {
	key := strings.TrimSpace(conversationID)
	if key == "" {
		return nil, ErrInvalidSession
	}

	lock, _ := s.locks.Compute(key, func(old *turnLock, loaded bool) (*turnLock, bool) {
		if !loaded || old == nil {
			old = newTurnLock()
		}
		old.refs++
		return old, false
	})

	select {
	case <-lock.ch:
		return &Lease{owner: s, conversationID: key, lock: lock}, nil
	case <-ctx.Done():
		s.unref(key)
		return nil, fmt.Errorf("wait for conversation %s: %w", key, ctx.Err())
	}
}

func (s *SessionStore) unref(key string) {
	s.locks.Compute(key, func(old *turnLock, loaded bool) (*turnLock, bool) {
		if !loaded || old == nil {
			return nil, true
		}
		old.refs--
		return old, old.refs <= 0
	})
}

// Release frees the conversation. Calling it twice is a no-op.
func (l *Lease) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	l.lock.ch <- struct{}{}
	l.owner.unref(l.conversationID)
}

func (l *Lease) ConversationID() string {
	return l.conversationID
}

// GetOrCreate returns the stored session, or creates one bound to seller.
// An existing session is returned as stored; use Bind to re-assert identity.
func (l *Lease) GetOrCreate(ctx context.Context, seller identityx.Seller) (*Session, bool, error) {
	if seller.IsZero() {
		return nil, false, ErrEmptySeller
	}
	st, err := l.owner.store.Load(ctx, l.conversationID)
	if err == nil {
		return st, false, nil
	}
	if !errors.Is(err, ErrStateNotFound) {
		return nil, false, err
	}

	st = NewSession(l.conversationID, seller.Email(), l.owner.now())
	if err := l.owner.store.Save(ctx, st); err != nil {
		return nil, false, err
	}
	return st, true, nil
}

// Bind loads or creates the session and re-asserts seller on it, persisting
// only when something changed.
func (l *Lease) Bind(ctx context.Context, seller identityx.Seller) (*Session, error) {
	st, created, err := l.GetOrCreate(ctx, seller)
	if err != nil {
		return nil, err
	}
	if created {
		return st, nil
	}
	changed, err := st.Bind(seller.Email(), l.owner.now())
	if err != nil {
		return nil, err
	}
	if changed {
		if err := l.owner.store.Save(ctx, st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (l *Lease) Save(ctx context.Context, st *Session) error {
	if st == nil {
		return ErrNilSessionState
	}
	if st.ConversationID != l.conversationID {
		return fmt.Errorf("lease for %s cannot save session %s", l.conversationID, st.ConversationID)
	}
	return l.owner.store.Save(ctx, st)
}

// GetOrCreate is the lock-managing form of Lease.GetOrCreate.
func (s *SessionStore) GetOrCreate(ctx context.Context, conversationID string, seller identityx.Seller) (*Session, error) {
	lease, err := s.Acquire(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	st, _, err := lease.GetOrCreate(ctx, seller)
	return st, err
}

// Bind is the lock-managing form of Lease.Bind.
func (s *SessionStore) Bind(ctx context.Context, conversationID string, seller identityx.Seller) (*Session, error) {
	lease, err := s.Acquire(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	return lease.Bind(ctx, seller)
}
