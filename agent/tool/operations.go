package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	crmx "github.com/tanpawarit/crm-assistant/pkg/crm"
)

// CRM is the subset of the remote contacts API the tools need.
type CRM interface {
	CreateContact(ctx context.Context, seller string, in crmx.ContactInput) (map[string]any, error)
	UpdateContact(ctx context.Context, seller string, id string, in crmx.ContactInput) (map[string]any, error)
	ListContacts(ctx context.Context, seller string, q crmx.ListQuery) (crmx.ContactPage, error)
	SearchFirst(ctx context.Context, seller string, term string) (*crmx.Contact, error)
}

var _ CRM = (*crmx.Client)(nil)

type CreateInput struct {
	Name        string
	PhoneNumber string
	Email       string
}

// UpdateInput uses nil for "not provided" so empty strings can be rejected.
type UpdateInput struct {
	Identifier  string
	Name        *string
	Email       *string
	PhoneNumber *string
}

func (in UpdateInput) HasChanges() bool {
	return in.Name != nil || in.Email != nil || in.PhoneNumber != nil
}

type ListInput struct {
	SearchTerm string
	Page       int
	Limit      int
}

const (
	defaultListLimit = 5
	maxListLimit     = 50
)

func (in ListInput) normalized() ListInput {
	if in.Page < 1 {
		in.Page = 1
	}
	switch {
	case in.Limit < 1:
		in.Limit = defaultListLimit
	case in.Limit > maxListLimit:
		in.Limit = maxListLimit
	}
	return in
}

// Operations are the three CRM tools. Every method takes the seller
// explicitly and converts every failure into a ToolResult.
type Operations struct {
	crm CRM
}

func NewOperations(crm CRM) (*Operations, error) {
	if crm == nil {
		return nil, errors.New("crm client is required")
	}
	return &Operations{crm: crm}, nil
}

func (o *Operations) CreateContact(ctx context.Context, seller string, in CreateInput) contractx.ToolResult {
	const name = "create_contact"
	if err := validateSeller(seller); err != nil {
		return contractx.Failure(name, err.Error())
	}
	if err := validateCreate(in); err != nil {
		return contractx.Failure(name, err.Error())
	}

	created, err := o.crm.CreateContact(ctx, seller, crmx.ContactInput{
		Name:        strings.TrimSpace(in.Name),
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		Email:       strings.TrimSpace(in.Email),
	})
	if err != nil {
		return remoteFailure(ctx, name, err)
	}
	return contractx.Success(name, "Contact created successfully.", map[string]any{"contact": created})
}

func (o *Operations) UpdateContact(ctx context.Context, seller string, in UpdateInput) contractx.ToolResult {
	const name = "update_contact"
	if err := validateSeller(seller); err != nil {
		return contractx.Failure(name, err.Error())
	}
	if err := validateUpdate(in); err != nil {
		return contractx.Failure(name, err.Error())
	}
	if !in.HasChanges() {
		return contractx.Failure(name, fmt.Sprintf("%v: no fields to update", contractx.ErrValidation))
	}

	id, res, ok := o.resolve(ctx, name, seller, in.Identifier)
	if !ok {
		return res
	}
	return o.updateByID(ctx, seller, id, in)
}

// updateByID sends the provided fields to an already resolved record id.
func (o *Operations) updateByID(ctx context.Context, seller string, id string, in UpdateInput) contractx.ToolResult {
	const name = "update_contact"
	if err := validateSeller(seller); err != nil {
		return contractx.Failure(name, err.Error())
	}
	in.Identifier = id
	if err := validateUpdate(in); err != nil {
		return contractx.Failure(name, err.Error())
	}
	if !in.HasChanges() {
		return contractx.Failure(name, fmt.Sprintf("%v: no fields to update", contractx.ErrValidation))
	}

	var patch crmx.ContactInput
	if in.Name != nil {
		patch.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		patch.Email = strings.TrimSpace(*in.Email)
	}
	if in.PhoneNumber != nil {
		patch.PhoneNumber = strings.TrimSpace(*in.PhoneNumber)
	}

	updated, err := o.crm.UpdateContact(ctx, seller, id, patch)
	if err != nil {
		return remoteFailure(ctx, name, err)
	}
	return contractx.Success(name, "Contact updated successfully.", map[string]any{"contact": updated})
}

func (o *Operations) ListContacts(ctx context.Context, seller string, in ListInput) contractx.ToolResult {
	const name = "list_contacts"
	if err := validateSeller(seller); err != nil {
		return contractx.Failure(name, err.Error())
	}
	in = in.normalized()

	page, err := o.crm.ListContacts(ctx, seller, crmx.ListQuery{
		SearchTerm: strings.TrimSpace(in.SearchTerm),
		Page:       in.Page,
		Limit:      in.Limit,
	})
	if err != nil {
		return remoteFailure(ctx, name, err)
	}
	return contractx.Success(name, fmt.Sprintf("%d contact(s) found.", page.Total), page)
}

// ResolveIdentifier maps identifier to a record id. A 24 hex id is used as
// is; anything else costs exactly one search.
func (o *Operations) ResolveIdentifier(ctx context.Context, seller string, identifier string) (string, *crmx.Contact, contractx.ToolResult, bool) {
	const name = "resolve_contact"
	if err := validateSeller(seller); err != nil {
		return "", nil, contractx.Failure(name, err.Error()), false
	}
	identifier = strings.TrimSpace(identifier)
	if IsRecordID(identifier) {
		return identifier, nil, contractx.ToolResult{}, true
	}
	found, err := o.crm.SearchFirst(ctx, seller, identifier)
	if err != nil {
		return "", nil, remoteFailure(ctx, name, err), false
	}
	if found == nil {
		return "", nil, contractx.NotFound(name, fmt.Sprintf("%v: no contact matches '%s'", contractx.ErrNotFound, identifier)), false
	}
	if strings.TrimSpace(found.ID) == "" {
		return "", nil, contractx.Failure(name, "Critical error: contact is missing an id."), false
	}
	return found.ID, found, contractx.ToolResult{}, true
}

func (o *Operations) resolve(ctx context.Context, tool, seller, identifier string) (string, contractx.ToolResult, bool) {
	id, _, res, ok := o.ResolveIdentifier(ctx, seller, identifier)
	if !ok {
		res.Tool = tool
	}
	return id, res, ok
}

// remoteFailure logs the detail and hands the model a generic message.
func remoteFailure(ctx context.Context, tool string, err error) contractx.ToolResult {
	ev := zerolog.Ctx(ctx).Error().Err(err).Str("tool", tool)
	var statusErr *crmx.StatusError
	if errors.As(err, &statusErr) {
		ev = ev.Int("http_status", statusErr.StatusCode)
	}
	ev.Msg("crm call failed")

	if errors.Is(err, context.DeadlineExceeded) {
		return contractx.Failure(tool, fmt.Sprintf("%v: the CRM did not answer in time", contractx.ErrRemoteService))
	}
	return contractx.Failure(tool, fmt.Sprintf("%v: the CRM rejected or could not process the request", contractx.ErrRemoteService))
}
