package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	openrouterx "github.com/tanpawarit/crm-assistant/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	MaxToolRounds int           `envconfig:"MAX_TOOL_ROUNDS" split_words:"true" default:"5"`
	ModelRetries  int           `envconfig:"MODEL_RETRIES" split_words:"true" default:"3"`
	RetryBackoff  time.Duration `envconfig:"RETRY_BACKOFF" split_words:"true" default:"500ms"`
	Preflight     bool          `envconfig:"PREFLIGHT" split_words:"true" default:"false"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: model is required", contractx.ErrValidation)
	}
	if c.MaxToolRounds <= 0 {
		return fmt.Errorf("%w: max tool rounds must be > 0", contractx.ErrValidation)
	}
	if c.ModelRetries <= 0 {
		return fmt.Errorf("%w: model retries must be > 0", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenRouter() openrouterx.Config {
	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              strings.TrimSpace(c.Model),
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        c.Temperature,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

// Loop returns the settings the executor needs for its model/tool loop.
func (c Config) Loop() LoopConfig {
	return LoopConfig{
		MaxToolRounds: c.MaxToolRounds,
		Attempts:      c.ModelRetries,
		Backoff:       c.RetryBackoff,
	}
}
