package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	llmx "github.com/tanpawarit/crm-assistant/agent/llm"
	promptx "github.com/tanpawarit/crm-assistant/agent/prompt"
	statex "github.com/tanpawarit/crm-assistant/agent/state"
)

type ModelDeps struct {
	Model    einomodel.BaseChatModel
	Tools    contractx.ToolGateway
	Hydrator *promptx.Hydrator
	Loop     llmx.LoopConfig
	Now      func() time.Time
}

// RunModel drives the model/tool loop for one turn. Model failures do not
// fail the turn: the reply falls back to a generic message and the session
// is still saved.
func RunModel(ctx context.Context, in *GraphState, deps ModelDeps) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if strings.TrimSpace(in.Instruction) == "" {
		return nil, fmt.Errorf("%w: instruction not hydrated", contractx.ErrPromptMissing)
	}

	loop := deps.Loop.Normalized()
	logger := zerolog.Ctx(ctx)
	scope := contractx.ToolScope{
		ConversationID: in.ConversationID,
		Seller:         in.Seller,
		Session:        in.Session,
	}

	messages := buildMessages(in.Instruction, in.Session.History, in.Text)

	for round := 0; ; round++ {
		if round > 0 {
			// Tools may have changed the pending intent; refresh the instruction and clock.
			instruction, err := deps.Hydrator.Render(ctx, promptx.Input{
				Seller:  in.Seller,
				Now:     deps.Now(),
				Pending: in.Session.Pending,
			})
			if err != nil {
				return nil, err
			}
			messages[0] = schema.SystemMessage(instruction)
		}

		msg, err := llmx.Generate(ctx, deps.Model, messages, loop)
		if err != nil {
			logger.Error().Err(err).Int("round", round).Msg("model invocation exhausted retries")
			in.ModelErr = err
			in.Reply = FallbackReply
			return in, nil
		}

		if len(msg.ToolCalls) == 0 {
			in.Reply = strings.TrimSpace(msg.Content)
			return in, nil
		}

		if round >= loop.MaxToolRounds {
			logger.Warn().Int("rounds", round).Msg("tool round limit reached")
			in.ModelErr = fmt.Errorf("%w: tool round limit reached", contractx.ErrSchemaViolation)
			in.Reply = FallbackReply
			return in, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			res := executeCall(ctx, deps.Tools, scope, call)
			in.ToolCalls++
			logger.Info().
				Str("tool", res.Tool).
				Str("status", string(res.Status)).
				Msg("tool executed")
			messages = append(messages, schema.ToolMessage(res.JSON(), call.ID))
		}
	}
}

func executeCall(ctx context.Context, tools contractx.ToolGateway, scope contractx.ToolScope, call schema.ToolCall) contractx.ToolResult {
	name := strings.TrimSpace(call.Function.Name)
	if name == "" {
		return contractx.Failure("", fmt.Sprintf("%v: tool call name is empty", contractx.ErrSchemaViolation))
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return contractx.Failure(name, fmt.Sprintf("%v: invalid arguments: %v", contractx.ErrSchemaViolation, err))
		}
	}

	return tools.Execute(ctx, scope, contractx.ToolRequest{ID: call.ID, Tool: name, Args: args})
}

func buildMessages(instruction string, history []statex.HistoryEntry, text string) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(instruction))
	for _, h := range history {
		switch h.Role {
		case statex.RoleUser:
			messages = append(messages, schema.UserMessage(h.Content))
		case statex.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(h.Content, nil))
		}
	}
	return append(messages, schema.UserMessage(text))
}
