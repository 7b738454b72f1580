package tool

import (
	"github.com/cloudwego/eino/schema"
)

const (
	ToolListContacts         = "list_contacts"
	ToolProposeCreateContact = "propose_create_contact"
	ToolProposeUpdateContact = "propose_update_contact"
	ToolCommitMutation       = "commit_mutation"
	ToolCancelMutation       = "cancel_mutation"
)

// sellerParam is exposed so the model's calls look like the prompt says they
// should; the gateway always replaces the value.
var sellerParam = &schema.ParameterInfo{
	Type: schema.String,
	Desc: "Email of the logged-in seller. Always the value given in the instructions.",
}

// Infos returns the tools offered to the model.
func Infos() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: ToolListContacts,
			Desc: "List or search the seller's contacts. Read-only, no confirmation needed.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"seller_email": sellerParam,
				"search_term":  {Type: schema.String, Desc: "Name, phone or email to search for"},
				"page":         {Type: schema.Integer, Desc: "Page number, starting at 1"},
				"limit":        {Type: schema.Integer, Desc: "Page size, default 5, at most 50"},
			}),
		},
		{
			Name: ToolProposeCreateContact,
			Desc: "Validate a new contact and register it for confirmation. Returns a token and a summary to show the user. Does not create anything.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"seller_email": sellerParam,
				"name":         {Type: schema.String, Desc: "Full name", Required: true},
				"phone_number": {Type: schema.String, Desc: "Phone number, at least 7 digits", Required: true},
				"email":        {Type: schema.String, Desc: "Contact email", Required: true},
			}),
		},
		{
			Name: ToolProposeUpdateContact,
			Desc: "Validate a change to an existing contact and register it for confirmation. Only send the fields that change. Does not update anything.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"seller_email": sellerParam,
				"identifier":   {Type: schema.String, Desc: "Contact id (24 hex characters) or a name to search for", Required: true},
				"name":         {Type: schema.String, Desc: "New name"},
				"phone_number": {Type: schema.String, Desc: "New phone number"},
				"email":        {Type: schema.String, Desc: "New email"},
			}),
		},
		{
			Name: ToolCommitMutation,
			Desc: "Execute a proposed create or update. Only valid after the user explicitly confirmed it in a later message.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"seller_email": sellerParam,
				"token":        {Type: schema.String, Desc: "Token returned by the proposal", Required: true},
			}),
		},
		{
			Name: ToolCancelMutation,
			Desc: "Discard a proposed create or update.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"seller_email": sellerParam,
				"token":        {Type: schema.String, Desc: "Token returned by the proposal", Required: true},
			}),
		},
	}
}
