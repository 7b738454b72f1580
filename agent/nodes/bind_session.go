package nodes

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
)

// BindSession loads or creates the session under the caller's lease, asserts
// the resolved seller on it and opens a new turn.
func BindSession(ctx context.Context, in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st, err := in.Lease.Bind(ctx, in.Seller)
	if err != nil {
		return nil, fmt.Errorf("bind session: %w", err)
	}
	st.BeginTurn(in.Now)
	in.Session = st
	return in, nil
}
