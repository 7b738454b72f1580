package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"
	assistantx "github.com/tanpawarit/crm-assistant/agent/agents/assistant"
	identityx "github.com/tanpawarit/crm-assistant/agent/identity"
	llmx "github.com/tanpawarit/crm-assistant/agent/llm"
	promptx "github.com/tanpawarit/crm-assistant/agent/prompt"
	statex "github.com/tanpawarit/crm-assistant/agent/state"
	toolx "github.com/tanpawarit/crm-assistant/agent/tool"
	"github.com/tanpawarit/crm-assistant/gateway"
	configx "github.com/tanpawarit/crm-assistant/pkg/config"
	crmx "github.com/tanpawarit/crm-assistant/pkg/crm"
	_ "github.com/tanpawarit/crm-assistant/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/crm-assistant/pkg/openrouter"
	relayx "github.com/tanpawarit/crm-assistant/pkg/relay"
)

const (
	backendMemory   = "memory"
	backendUpstash  = "upstash"
	backendPostgres = "postgres"

	shutdownTimeout = 15 * time.Second
)

type AppConfig struct {
	Environment         string        `envconfig:"ENVIRONMENT" split_words:"true" default:"development"`
	Addr                string        `envconfig:"ADDR" split_words:"true" default:":8080"`
	AgentName           string        `envconfig:"AGENT_NAME" split_words:"true" default:"Denisse"`
	Company             string        `envconfig:"COMPANY" split_words:"true" default:"Inmobiliaria ABC"`
	Timezone            string        `envconfig:"TIMEZONE" split_words:"true" default:"America/Mexico_City"`
	FallbackSellerEmail string        `envconfig:"FALLBACK_SELLER_EMAIL" split_words:"true" default:"vendedor@inmobiliaria.com"`
	SessionBackend      string        `envconfig:"SESSION_BACKEND" split_words:"true" default:"memory"`
	SessionTTL          time.Duration `envconfig:"SESSION_TTL" split_words:"true" default:"24h"`
	HistoryLimit        int           `envconfig:"HISTORY_LIMIT" split_words:"true" default:"20"`
	TurnTimeout         time.Duration `envconfig:"TURN_TIMEOUT" split_words:"true" default:"2m"`
}

func (c AppConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.SessionBackend)) {
	case backendMemory, backendUpstash, backendPostgres:
	default:
		return fmt.Errorf("unknown session backend %q", c.SessionBackend)
	}
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("listen address is empty")
	}
	return nil
}

func (c AppConfig) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("crm assistant stopped")
	}
}

func run(ctx context.Context) error {
	appCfg := configx.MustNew[AppConfig]("APP")
	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")
	crmCfg := configx.MustNew[crmx.Config]("CRM")
	relayCfg := configx.MustNew[relayx.Config]("RELAY")

	routerCfg := llmCfg.OpenRouter()
	if llmCfg.Preflight {
		if err := openrouterx.Preflight(ctx, openrouterx.NewClient(routerCfg), routerCfg.Model); err != nil {
			return err
		}
	}
	chatModel, err := routerCfg.New(ctx)
	if err != nil {
		return fmt.Errorf("build chat model: %w", err)
	}

	crmClient, err := crmx.NewClient(*crmCfg)
	if err != nil {
		return err
	}
	notifier, err := relayx.NewClient(*relayCfg)
	if err != nil {
		return err
	}

	backend, closeBackend, err := newSessionBackend(ctx, *appCfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	sessions, err := statex.NewSessionStore(backend)
	if err != nil {
		return err
	}

	tools, err := toolx.NewGateway(crmClient)
	if err != nil {
		return err
	}

	location, err := time.LoadLocation(appCfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", appCfg.Timezone, err)
	}
	hydrator, err := promptx.NewHydrator(promptx.Config{
		AgentName: appCfg.AgentName,
		Company:   appCfg.Company,
		Location:  location,
	})
	if err != nil {
		return err
	}

	executor, err := assistantx.New(sessions, chatModel, tools, hydrator, assistantx.Config{
		Loop:         llmCfg.Loop(),
		HistoryLimit: appCfg.HistoryLimit,
	})
	if err != nil {
		return err
	}

	resolver, err := identityx.NewResolver(identityx.Config{
		FallbackEmail: appCfg.FallbackSellerEmail,
		AllowFallback: !appCfg.Production(),
	})
	if err != nil {
		return err
	}

	var verifier gateway.SignatureVerifier
	if v := relayx.NewVerifier(*relayCfg); v != nil {
		verifier = v
	}

	srv, err := gateway.New(gateway.Deps{
		Runner:      executor,
		Notifier:    notifier,
		Resolver:    resolver,
		Verifier:    verifier,
		TurnTimeout: appCfg.TurnTimeout,
	})
	if err != nil {
		return err
	}

	return serve(ctx, appCfg.Addr, srv.Handler())
}

// newSessionBackend returns the configured store and a function releasing
// whatever it holds open.
func newSessionBackend(ctx context.Context, cfg AppConfig) (statex.Store, func(), error) {
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(cfg.SessionBackend)) {
	case backendUpstash:
		redisCfg, err := configx.New[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		if err != nil {
			return nil, noop, err
		}
		store, err := statex.NewUpstashRedisStore(*redisCfg, statex.WithTTL(cfg.SessionTTL))
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case backendPostgres:
		pgCfg, err := configx.New[statex.PostgresConfig]("POSTGRES")
		if err != nil {
			return nil, noop, err
		}
		store, err := statex.NewPostgresStore(*pgCfg, cfg.SessionTTL)
		if err != nil {
			return nil, noop, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, noop, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("close postgres session store")
			}
		}, nil

	default:
		log.Warn().Msg("using in-memory session store; sessions are lost on restart")
		return statex.NewMemoryStore(cfg.SessionTTL), noop, nil
	}
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("crm assistant listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	log.Info().Msg("shutting down")
	return server.Shutdown(shutdownCtx)
}
