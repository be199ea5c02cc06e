package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/Chative-Studio-Agent/agent/a2a"
	"github.com/tanpawarit/Chative-Studio-Agent/agent/agents/orchestrator"
	"github.com/tanpawarit/Chative-Studio-Agent/agent/agents/reasoner"
	contractx "github.com/tanpawarit/Chative-Studio-Agent/agent/contract"
	llmx "github.com/tanpawarit/Chative-Studio-Agent/agent/llm"
	statex "github.com/tanpawarit/Chative-Studio-Agent/agent/state"
	"github.com/tanpawarit/Chative-Studio-Agent/agent/tool"
	configx "github.com/tanpawarit/Chative-Studio-Agent/pkg/config"
	_ "github.com/tanpawarit/Chative-Studio-Agent/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/Chative-Studio-Agent/pkg/openrouter"
)

type StateConfig struct {
	Backend       string        `default:"memory"` // memory | upstash | postgres
	MemoryTTL     time.Duration `split_words:"true" default:"24h"`
	SweepInterval time.Duration `split_words:"true" default:"10m"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverCfg := configx.MustNew[a2a.Config]("AGENT")
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	toolsCfg := configx.MustNew[tool.Config]("TOOLS")
	orchestratorCfg := configx.MustNew[orchestrator.Config]("AGENT")
	stateCfg := configx.MustNew[StateConfig]("STATE")

	probeModel(ctx, *llmCfg)

	store, closeStore, err := openStore(ctx, *stateCfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", stateCfg.Backend).Msg("failed to open session store")
	}
	defer closeStore()

	registry, err := tool.Connect(ctx, *toolsCfg)
	if err != nil {
		log.Fatal().Err(err).Str("endpoint", toolsCfg.Endpoint).Msg("failed to connect to tool server")
	}
	defer registry.Close()

	r, err := reasoner.New(ctx, *llmCfg, registry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build reasoner")
	}

	orch, err := orchestrator.New(store, r, registry, *orchestratorCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(chiMiddleware.Heartbeat("/health"))
	router.Handle("/metrics", promhttp.Handler())

	a2a.NewServer(orch, registry, a2a.DefaultCard(serverCfg.CardURL())).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              net.JoinHostPort(serverCfg.Host, strconv.Itoa(serverCfg.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Int("tools", len(registry.Descriptors())).Msg("agent listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("agent server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down agent")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("agent shutdown failed")
	}
}

// probeModel checks the OpenRouter credentials once at startup. Failures are logged only.
func probeModel(ctx context.Context, cfg llmx.Config) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := openrouterx.Probe(probeCtx, cfg.OpenRouterFor(contractx.AgentTypeConcierge)); err != nil {
		log.Warn().Err(err).Str("model", cfg.Model).Msg("openrouter probe failed")
		return
	}
	log.Info().Str("model", cfg.Model).Msg("openrouter reachable")
}

func openStore(ctx context.Context, cfg StateConfig) (statex.Store, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		store := statex.NewMemoryStore(statex.WithMemoryTTL(cfg.MemoryTTL))
		if cfg.MemoryTTL > 0 && cfg.SweepInterval > 0 {
			go sweep(ctx, store, cfg.SweepInterval)
		}
		return store, func() {}, nil

	case "upstash":
		upstashCfg, err := configx.New[statex.UpstashConfig]("UPSTASH_REDIS")
		if err != nil {
			return nil, nil, err
		}
		store, err := statex.NewUpstashStore(*upstashCfg)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Ping(ctx); err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case "postgres":
		pgCfg, err := configx.New[statex.PostgresConfig]("POSTGRES")
		if err != nil {
			return nil, nil, err
		}
		store, err := statex.NewPostgresStore(ctx, *pgCfg)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close postgres store")
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

func sweep(ctx context.Context, store *statex.MemoryStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Sweep(); n > 0 {
				log.Debug().Int("evicted", n).Msg("expired sessions swept")
			}
		}
	}
}
