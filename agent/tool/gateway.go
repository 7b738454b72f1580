package tool

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
)

const argSellerEmail = "seller_email"

// Gateway is the only way model tool calls reach the CRM. It stamps the
// session-bound seller on every call.
type Gateway struct {
	ops   *Operations
	gate  *Gate
	infos []*schema.ToolInfo
}

var _ contractx.ToolGateway = (*Gateway)(nil)

func NewGateway(crm CRM) (*Gateway, error) {
	ops, err := NewOperations(crm)
	if err != nil {
		return nil, err
	}
	gate, err := NewGate(ops)
	if err != nil {
		return nil, err
	}
	return &Gateway{ops: ops, gate: gate, infos: Infos()}, nil
}

func (g *Gateway) Infos() []*schema.ToolInfo {
	return g.infos
}

func (g *Gateway) Execute(ctx context.Context, scope contractx.ToolScope, req contractx.ToolRequest) (res contractx.ToolResult) {
	tool := strings.TrimSpace(req.Tool)
	logger := zerolog.Ctx(ctx).With().Str("tool", tool).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("tool panicked")
			res = contractx.Failure(tool, "internal error while running the tool")
		}
	}()

	if scope.Seller.IsZero() {
		return contractx.Failure(tool, contractx.ErrIdentityMissing.Error())
	}
	args := bindSeller(req.Args, scope.Seller.Email(), logger)

	switch tool {
	case ToolListContacts:
		return g.ops.ListContacts(ctx, scope.Seller.Email(), ListInput{
			SearchTerm: stringArg(args, "search_term"),
			Page:       intArg(args, "page", 1),
			Limit:      intArg(args, "limit", defaultListLimit),
		})
	case ToolProposeCreateContact:
		return g.gate.ProposeCreate(ctx, scope, CreateInput{
			Name:        stringArg(args, "name"),
			PhoneNumber: stringArg(args, "phone_number"),
			Email:       stringArg(args, "email"),
		})
	case ToolProposeUpdateContact:
		return g.gate.ProposeUpdate(ctx, scope, UpdateInput{
			Identifier:  stringArg(args, "identifier"),
			Name:        optionalStringArg(args, "name"),
			Email:       optionalStringArg(args, "email"),
			PhoneNumber: optionalStringArg(args, "phone_number"),
		})
	case ToolCommitMutation:
		return g.gate.Commit(ctx, scope, stringArg(args, "token"))
	case ToolCancelMutation:
		return g.gate.Cancel(ctx, scope, stringArg(args, "token"))
	default:
		return contractx.Failure(tool, fmt.Sprintf("tool=%s is not available", tool))
	}
}

// bindSeller copies args with seller_email forced to the bound identity.
func bindSeller(args map[string]any, seller string, logger zerolog.Logger) map[string]any {
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	if proposed := strings.TrimSpace(stringArg(args, argSellerEmail)); proposed != "" && !strings.EqualFold(proposed, seller) {
		logger.Warn().Str("proposed_seller", proposed).Msg("model proposed a different seller; overriding")
	}
	out[argSellerEmail] = seller
	return out
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// optionalStringArg treats an absent or blank value as "not provided".
func optionalStringArg(args map[string]any, key string) *string {
	s := strings.TrimSpace(stringArg(args, key))
	if s == "" {
		return nil
	}
	return &s
}

func intArg(args map[string]any, key string, fallback int) int {
	v, ok := args[key]
	if !ok || v == nil {
		return fallback
	}
	switch t := v.(type) {
	case float64:
		if t >= 1 && t <= math.MaxInt32 {
			return int(t)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil && n >= 1 {
			return n
		}
	}
	return fallback
}
