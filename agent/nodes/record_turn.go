package nodes

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	statex "github.com/tanpawarit/crm-assistant/agent/state"
)

// RecordTurn appends the user text and the final reply to the history. A
// turn that falls back also drops any intent it proposed, since its summary
// was never shown.
func RecordTurn(ctx context.Context, in *GraphState, historyLimit int) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	if in.Reply == "" || in.ModelErr != nil {
		in.Reply = FallbackReply
		if dropped := in.Session.DropUnpresented(in.Now); dropped != nil {
			zerolog.Ctx(ctx).Warn().
				Str("intent_token", dropped.Token).
				Msg("dropped proposal that was never presented")
		}
	}
	in.Session.AppendHistory(statex.RoleUser, in.Text, historyLimit, in.Now)
	in.Session.AppendHistory(statex.RoleAssistant, in.Reply, historyLimit, in.Now)
	return in, nil
}
