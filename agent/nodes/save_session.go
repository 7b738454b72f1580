package nodes

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
)

func SaveSession(ctx context.Context, in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	in.Session.Touch(in.Now)
	if err := in.Session.Validate(); err != nil {
		return nil, fmt.Errorf("state validation failed: %w", err)
	}
	if err := in.Lease.Save(ctx, in.Session); err != nil {
		return nil, err
	}
	return in, nil
}
