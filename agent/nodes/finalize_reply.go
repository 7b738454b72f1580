package nodes

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		reply = FallbackReply
	}
	return GraphOutput{Reply: reply, ToolCalls: in.ToolCalls, ModelErr: in.ModelErr}, nil
}
