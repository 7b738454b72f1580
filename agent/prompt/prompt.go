// Package prompt renders the system instruction for every model call.
package prompt

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	identityx "github.com/tanpawarit/crm-assistant/agent/identity"
	statex "github.com/tanpawarit/crm-assistant/agent/state"
)

//go:embed template/crm_assistant.txt
var assistantRaw string

const timeLayout = "02/01/2006 15:04"

type Config struct {
	AgentName string
	Company   string
	Location  *time.Location
}

// Hydrator is safe for concurrent use; it keeps no per-conversation data.
type Hydrator struct {
	template  einoprompt.ChatTemplate
	agentName string
	company   string
	location  *time.Location
}

// Input is everything that varies per model invocation.
type Input struct {
	Seller  identityx.Seller
	Now     time.Time
	Pending *statex.PendingIntent
}

func NewHydrator(cfg Config) (*Hydrator, error) {
	return newHydrator(assistantRaw, cfg)
}

func newHydrator(raw string, cfg Config) (*Hydrator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: assistant template", contractx.ErrPromptMissing)
	}

	agentName := strings.TrimSpace(cfg.AgentName)
	if agentName == "" {
		agentName = "Denisse"
	}
	company := strings.TrimSpace(cfg.Company)
	if company == "" {
		company = "Inmobiliaria ABC"
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	return &Hydrator{
		template:  einoprompt.FromMessages(schema.FString, schema.SystemMessage(raw)),
		agentName: agentName,
		company:   company,
		location:  loc,
	}, nil
}

// Render returns the instruction text for one model call. The timestamp is
// taken from in.Now on every call.
func (h *Hydrator) Render(ctx context.Context, in Input) (string, error) {
	if in.Seller.IsZero() {
		return "", contractx.ErrIdentityMissing
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	msgs, err := h.template.Format(ctx, map[string]any{
		"agent_name":     h.agentName,
		"company":        h.company,
		"seller_email":   in.Seller.Email(),
		"current_time":   now.In(h.location).Format(timeLayout),
		"pending_intent": describePending(in.Pending),
	})
	if err != nil {
		return "", fmt.Errorf("%w: format assistant template: %v", contractx.ErrPromptMissing, err)
	}
	if len(msgs) == 0 || strings.TrimSpace(msgs[0].Content) == "" {
		return "", fmt.Errorf("%w: rendered template is empty", contractx.ErrPromptMissing)
	}
	return msgs[0].Content, nil
}

func describePending(p *statex.PendingIntent) string {
	if !p.IsOpen() {
		return "No operation is pending."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Operation %s (token %s): %s\n", p.Kind, p.Token, p.Summary)
	switch p.Status {
	case statex.IntentConfirmed:
		b.WriteString("The user explicitly confirmed it in their latest message. Call commit_mutation with this token now.")
	case statex.IntentAwaitingConfirmation:
		b.WriteString("Waiting for the user to confirm. Do not call commit_mutation yet.")
	default:
		b.WriteString("The user did not confirm it. Clarify what they want; propose again if the data changed, or cancel it.")
	}
	return b.String()
}
