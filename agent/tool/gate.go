package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	statex "github.com/tanpawarit/crm-assistant/agent/state"
)

// Gate sequences create and update through propose, confirm and commit. The
// confirmation itself is applied by the executor from the raw user message;
// the gate only refuses to commit anything that is not confirmed.
type Gate struct {
	ops      *Operations
	now      func() time.Time
	newToken func() string
}

func NewGate(ops *Operations) (*Gate, error) {
	if ops == nil {
		return nil, errors.New("tool operations are required")
	}
	return &Gate{
		ops:      ops,
		now:      time.Now,
		newToken: uuid.NewString,
	}, nil
}

func (g *Gate) ProposeCreate(ctx context.Context, scope contractx.ToolScope, in CreateInput) contractx.ToolResult {
	const name = ToolProposeCreateContact
	if scope.Session == nil {
		return contractx.Failure(name, "no session for this conversation")
	}
	if err := validateSeller(scope.Seller.Email()); err != nil {
		return contractx.Failure(name, err.Error())
	}
	if err := validateCreate(in); err != nil {
		return contractx.Failure(name, err.Error())
	}

	fields := statex.ContactFields{
		Name:        strings.TrimSpace(in.Name),
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		Email:       strings.TrimSpace(in.Email),
	}
	intent := &statex.PendingIntent{
		Token:   g.newToken(),
		Kind:    statex.IntentCreateContact,
		Fields:  fields,
		Summary: fmt.Sprintf("Crear contacto: nombre=%s, teléfono=%s, email=%s", fields.Name, fields.PhoneNumber, fields.Email),
	}
	return g.store(ctx, name, scope, intent)
}

// ProposeUpdate resolves the identifier now so the summary names the real
// record and the commit never needs to search again.
func (g *Gate) ProposeUpdate(ctx context.Context, scope contractx.ToolScope, in UpdateInput) contractx.ToolResult {
	const name = ToolProposeUpdateContact
	if scope.Session == nil {
		return contractx.Failure(name, "no session for this conversation")
	}
	if err := validateSeller(scope.Seller.Email()); err != nil {
		return contractx.Failure(name, err.Error())
	}
	if err := validateUpdate(in); err != nil {
		return contractx.Failure(name, err.Error())
	}
	if !in.HasChanges() {
		return contractx.Failure(name, fmt.Sprintf("%v: at least one of name, email or phone_number must change", contractx.ErrValidation))
	}

	id, found, res, ok := g.ops.ResolveIdentifier(ctx, scope.Seller.Email(), in.Identifier)
	if !ok {
		res.Tool = name
		return res
	}

	var fields statex.ContactFields
	var changes []string
	if in.Name != nil {
		fields.Name = strings.TrimSpace(*in.Name)
		changes = append(changes, "nombre="+fields.Name)
	}
	if in.PhoneNumber != nil {
		fields.PhoneNumber = strings.TrimSpace(*in.PhoneNumber)
		changes = append(changes, "teléfono="+fields.PhoneNumber)
	}
	if in.Email != nil {
		fields.Email = strings.TrimSpace(*in.Email)
		changes = append(changes, "email="+fields.Email)
	}

	target := id
	if found != nil && strings.TrimSpace(found.Name) != "" {
		target = fmt.Sprintf("%s (%s)", found.Name, id)
	}
	intent := &statex.PendingIntent{
		Token:      g.newToken(),
		Kind:       statex.IntentUpdateContact,
		Identifier: id,
		Fields:     fields,
		Summary:    fmt.Sprintf("Actualizar contacto %s: %s", target, strings.Join(changes, ", ")),
	}
	return g.store(ctx, name, scope, intent)
}

func (g *Gate) store(ctx context.Context, tool string, scope contractx.ToolScope, intent *statex.PendingIntent) contractx.ToolResult {
	superseded, err := scope.Session.Propose(intent, g.now())
	if err != nil {
		return contractx.Failure(tool, err.Error())
	}

	logger := zerolog.Ctx(ctx)
	if superseded != nil {
		logger.Info().Str("intent_token", superseded.Token).Msg("pending intent superseded")
	}
	logger.Info().Str("intent_token", intent.Token).Str("tool", tool).Msg("intent proposed")

	return contractx.Success(tool, "Proposal registered. Show the summary and ask the user to confirm; wait for their reply before committing.", map[string]any{
		"token":   intent.Token,
		"kind":    intent.Kind,
		"status":  intent.Status,
		"summary": intent.Summary,
	})
}

// Commit runs the pending mutation once it is confirmed.
func (g *Gate) Commit(ctx context.Context, scope contractx.ToolScope, token string) contractx.ToolResult {
	const name = ToolCommitMutation
	if scope.Session == nil {
		return contractx.Failure(name, "no session for this conversation")
	}
	logger := zerolog.Ctx(ctx).With().Str("intent_token", token).Logger()

	intent, err := scope.Session.BeginCommit(token, g.now())
	if err != nil {
		logger.Warn().Err(err).Msg("commit refused")
		if errors.Is(err, statex.ErrNotConfirmed) {
			return contractx.Failure(name, fmt.Sprintf("%v: ask the user to confirm the summary and wait for their reply", contractx.ErrConfirmationRequired))
		}
		return contractx.Failure(name, fmt.Sprintf("%v: no pending operation with that token", contractx.ErrConfirmationRequired))
	}

	seller := scope.Seller.Email()
	var res contractx.ToolResult
	switch intent.Kind {
	case statex.IntentCreateContact:
		res = g.ops.CreateContact(ctx, seller, CreateInput{
			Name:        intent.Fields.Name,
			PhoneNumber: intent.Fields.PhoneNumber,
			Email:       intent.Fields.Email,
		})
	case statex.IntentUpdateContact:
		res = g.ops.updateByID(ctx, seller, intent.Identifier, updateFromIntent(intent))
	default:
		res = contractx.Failure(name, fmt.Sprintf("unknown intent kind %q", intent.Kind))
	}

	if _, err := scope.Session.FinishCommit(token, string(res.Status), g.now()); err != nil {
		logger.Error().Err(err).Msg("finish commit")
	}
	logger.Info().Str("tool", res.Tool).Str("status", string(res.Status)).Msg("intent committed")
	return res
}

func (g *Gate) Cancel(ctx context.Context, scope contractx.ToolScope, token string) contractx.ToolResult {
	const name = ToolCancelMutation
	if scope.Session == nil {
		return contractx.Failure(name, "no session for this conversation")
	}
	intent, err := scope.Session.Cancel(token, g.now())
	if err != nil {
		return contractx.Failure(name, err.Error())
	}
	zerolog.Ctx(ctx).Info().Str("intent_token", intent.Token).Msg("intent cancelled")
	return contractx.Success(name, "Operation cancelled.", map[string]any{"token": intent.Token})
}

func updateFromIntent(p *statex.PendingIntent) UpdateInput {
	in := UpdateInput{Identifier: p.Identifier}
	if p.Fields.Name != "" {
		v := p.Fields.Name
		in.Name = &v
	}
	if p.Fields.Email != "" {
		v := p.Fields.Email
		in.Email = &v
	}
	if p.Fields.PhoneNumber != "" {
		v := p.Fields.PhoneNumber
		in.PhoneNumber = &v
	}
	return in
}
