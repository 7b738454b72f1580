package nodes

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	toolx "github.com/tanpawarit/crm-assistant/agent/tool"
)

// AdvanceIntent applies this turn's raw user text to the pending intent. The
// model never decides whether the user confirmed.
func AdvanceIntent(ctx context.Context, in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	in.Affirmative = toolx.IsAffirmative(in.Text)
	if !in.Session.Pending.IsOpen() {
		return in, nil
	}

	token := in.Session.Pending.Token
	in.PendingStatus = in.Session.AdvancePending(in.Affirmative, in.Now)
	zerolog.Ctx(ctx).Debug().
		Str("intent_token", token).
		Str("status", string(in.PendingStatus)).
		Msg("pending intent advanced")
	return in, nil
}
