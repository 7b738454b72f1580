// Package assistant is the command executor: one shared instance serves every
// conversation, and the seller is passed explicitly with each turn.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	llmx "github.com/tanpawarit/crm-assistant/agent/llm"
	nodex "github.com/tanpawarit/crm-assistant/agent/nodes"
	promptx "github.com/tanpawarit/crm-assistant/agent/prompt"
	statex "github.com/tanpawarit/crm-assistant/agent/state"
	logx "github.com/tanpawarit/crm-assistant/pkg/logger"
)

const defaultHistoryLimit = 20

type Config struct {
	Loop         llmx.LoopConfig
	HistoryLimit int
}

type Executor struct {
	sessions *statex.SessionStore
	model    einomodel.BaseChatModel
	tools    contractx.ToolGateway
	hydrator *promptx.Hydrator

	loop         llmx.LoopConfig
	historyLimit int

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

var _ contractx.TurnRunner = (*Executor)(nil)

func New(
	sessions *statex.SessionStore,
	chatModel einomodel.ToolCallingChatModel,
	tools contractx.ToolGateway,
	hydrator *promptx.Hydrator,
	cfg Config,
) (*Executor, error) {
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if tools == nil {
		return nil, errors.New("tool gateway is required")
	}
	if hydrator == nil {
		return nil, errors.New("prompt hydrator is required")
	}

	toolModel, err := chatModel.WithTools(tools.Infos())
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools: %v", contractx.ErrModelInvoke, err)
	}

	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	e := &Executor{
		sessions:     sessions,
		model:        toolModel,
		tools:        tools,
		hydrator:     hydrator,
		loop:         cfg.Loop.Normalized(),
		historyLimit: historyLimit,
		now:          time.Now,
	}

	graphRunner, err := e.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	e.graphRunner = graphRunner

	return e, nil
}

// HandleMessage runs one turn while holding the conversation's lease, so
// turns for the same conversation never overlap.
func (e *Executor) HandleMessage(ctx context.Context, req contractx.TurnRequest) (string, error) {
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		return "", statex.ErrInvalidSession
	}
	if req.Seller.IsZero() {
		return "", contractx.ErrIdentityMissing
	}

	ctx = logx.WithConversation(ctx, conversationID, req.Seller.Email())

	lease, err := e.sessions.Acquire(ctx, conversationID)
	if err != nil {
		return "", err
	}
	defer lease.Release()

	out, err := e.graphRunner.Invoke(ctx, nodex.GraphInput{
		Lease:  lease,
		Text:   req.Text,
		Seller: req.Seller,
	})
	if err != nil {
		return "", err
	}

	logx.From(ctx).Info().
		Int("tool_calls", out.ToolCalls).
		Bool("fallback", out.ModelErr != nil).
		Msg("turn completed")
	return out.Reply, nil
}
