package contract

import (
	"encoding/json"

	identityx "github.com/tanpawarit/crm-assistant/agent/identity"
)

type ToolStatus string

const (
	ToolStatusSuccess  ToolStatus = "success"
	ToolStatusError    ToolStatus = "error"
	ToolStatusNotFound ToolStatus = "not_found"
)

// TurnRequest carries the seller produced by the identity resolver for this
// inbound event; the text is never consulted for identity.
type TurnRequest struct {
	ConversationID string
	Text           string
	Seller         identityx.Seller
}

type ToolRequest struct {
	ID   string         `json:"id,omitempty"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult is returned by every tool and fed back to the model verbatim.
type ToolResult struct {
	Tool    string     `json:"tool"`
	Status  ToolStatus `json:"status"`
	Message string     `json:"message,omitempty"`
	Payload any        `json:"payload,omitempty"`
}

func (r ToolResult) OK() bool {
	return r.Status == ToolStatusSuccess
}

// JSON renders the result for a tool message. Marshal failures degrade to
// an error result rather than surfacing to the loop.
func (r ToolResult) JSON() string {
	raw, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(ToolResult{
			Tool:    r.Tool,
			Status:  ToolStatusError,
			Message: "result could not be encoded",
		})
		return string(fallback)
	}
	return string(raw)
}

func Success(tool, message string, payload any) ToolResult {
	return ToolResult{Tool: tool, Status: ToolStatusSuccess, Message: message, Payload: payload}
}

func Failure(tool, message string) ToolResult {
	return ToolResult{Tool: tool, Status: ToolStatusError, Message: message}
}

func NotFound(tool, message string) ToolResult {
	return ToolResult{Tool: tool, Status: ToolStatusNotFound, Message: message}
}
