package nodes

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	promptx "github.com/tanpawarit/crm-assistant/agent/prompt"
)

func HydratePrompt(ctx context.Context, in *GraphState, hydrator *promptx.Hydrator) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	instruction, err := hydrator.Render(ctx, promptx.Input{
		Seller:  in.Seller,
		Now:     in.Now,
		Pending: in.Session.Pending,
	})
	if err != nil {
		return nil, err
	}
	in.Instruction = instruction
	return in, nil
}
