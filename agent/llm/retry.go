package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
)

type LoopConfig struct {
	MaxToolRounds int
	Attempts      int
	Backoff       time.Duration
}

func (c LoopConfig) Normalized() LoopConfig {
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = 5
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	return c
}

// Generate calls the model up to cfg.Attempts times with linear backoff.
// Context cancellation stops retrying immediately.
func Generate(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	messages []*schema.Message,
	cfg LoopConfig,
) (*schema.Message, error) {
	cfg = cfg.Normalized()
	logger := zerolog.Ctx(ctx)

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		msg, err := chatModel.Generate(ctx, messages)
		if err == nil && msg != nil {
			return msg, nil
		}
		if err == nil {
			err = errors.New("empty model response")
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("model call failed")
		if attempt == cfg.Attempts {
			break
		}

		wait := cfg.Backoff * time.Duration(attempt)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, lastErr)
}
