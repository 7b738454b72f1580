// Package identity resolves the seller on whose behalf a conversation runs.
//
// A Seller can only be produced by a Resolver, and a Resolver only reads the
// trusted identity field stamped on the inbound event by the transport
// integration. Message text never reaches this package.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrMissing = errors.New("seller identity is missing")
	ErrInvalid = errors.New("seller identity is not a valid email")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidEmail reports whether s has a standard address shape.
func ValidEmail(s string) bool {
	return s != "" && emailPattern.MatchString(s)
}

// Seller is an authenticated seller identity. The zero value is not usable.
type Seller struct {
	email string
}

func (s Seller) Email() string  { return s.email }
func (s Seller) IsZero() bool   { return s.email == "" }
func (s Seller) String() string { return s.email }

type Source string

const (
	SourceTransport Source = "transport"
	SourceFallback  Source = "fallback"
)

// Event is the trusted part of an inbound transport event.
type Event struct {
	ConversationID  string
	TrustedIdentity string
}

type Config struct {
	FallbackEmail string
	AllowFallback bool
}

type Resolver struct {
	fallback      string
	allowFallback bool
}

func NewResolver(cfg Config) (*Resolver, error) {
	fallback := strings.TrimSpace(cfg.FallbackEmail)
	if cfg.AllowFallback && fallback != "" && !ValidEmail(fallback) {
		return nil, fmt.Errorf("%w: fallback %q", ErrInvalid, fallback)
	}
	return &Resolver{
		fallback:      fallback,
		allowFallback: cfg.AllowFallback && fallback != "",
	}, nil
}

func (r *Resolver) Resolve(ev Event) (Seller, Source, error) {
	claimed := strings.TrimSpace(ev.TrustedIdentity)
	if claimed != "" {
		if !ValidEmail(claimed) {
			return Seller{}, "", fmt.Errorf("%w: %q", ErrInvalid, claimed)
		}
		return Seller{email: claimed}, SourceTransport, nil
	}
	if r.allowFallback {
		return Seller{email: r.fallback}, SourceFallback, nil
	}
	return Seller{}, "", ErrMissing
}
