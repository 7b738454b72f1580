package nodes

import (
	"errors"
	"time"

	identityx "github.com/tanpawarit/crm-assistant/agent/identity"
	statex "github.com/tanpawarit/crm-assistant/agent/state"
)

// FallbackReply is sent whenever a turn cannot produce a reply of its own.
const FallbackReply = "Lo siento, no pude procesar tu mensaje."

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrNoLease        = errors.New("conversation lease is missing")
)

// GraphInput is one inbound message. Lease must be held by the caller for
// the whole invocation.
type GraphInput struct {
	Lease  *statex.Lease
	Text   string
	Seller identityx.Seller
}

type GraphOutput struct {
	Reply     string
	ToolCalls int
	ModelErr  error
}

type GraphState struct {
	ConversationID string
	Text           string
	Seller         identityx.Seller
	Now            time.Time

	Lease   *statex.Lease
	Session *statex.Session

	Affirmative   bool
	PendingStatus statex.IntentStatus
	Instruction   string

	Reply     string
	ToolCalls int
	ModelErr  error
}
