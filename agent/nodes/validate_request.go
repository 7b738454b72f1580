package nodes

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
)

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	if in.Lease == nil {
		return nil, ErrNoLease
	}
	if in.Seller.IsZero() {
		return nil, contractx.ErrIdentityMissing
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: %w", contractx.ErrValidation, ErrInvalidMessage)
	}

	return &GraphState{
		ConversationID: in.Lease.ConversationID(),
		Text:           text,
		Seller:         in.Seller,
		Now:            nowFn().UTC(),
		Lease:          in.Lease,
	}, nil
}
