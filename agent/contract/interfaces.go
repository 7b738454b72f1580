package contract

import (
	"context"

	"github.com/cloudwego/eino/schema"
	identityx "github.com/tanpawarit/crm-assistant/agent/identity"
	statex "github.com/tanpawarit/crm-assistant/agent/state"
)

// ToolScope is everything the tool gateway needs to execute calls on behalf
// of one turn. Seller is the session-bound identity and always wins over
// whatever the model put in its arguments. Session is owned by the caller's
// lease for the duration of the turn.
type ToolScope struct {
	ConversationID string
	Seller         identityx.Seller
	Session        *statex.Session
}

type ToolGateway interface {
	Infos() []*schema.ToolInfo
	Execute(ctx context.Context, scope ToolScope, req ToolRequest) ToolResult
}

// Notifier delivers a reply back to the messaging transport.
type Notifier interface {
	Send(ctx context.Context, phone string, message string) error
}

// TurnRunner runs one conversational turn for a conversation.
type TurnRunner interface {
	HandleMessage(ctx context.Context, req TurnRequest) (string, error)
}
