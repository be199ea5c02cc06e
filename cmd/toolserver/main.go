package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"
	configx "github.com/tanpawarit/Chative-Studio-Agent/pkg/config"
	_ "github.com/tanpawarit/Chative-Studio-Agent/pkg/logger/autoload"
	"github.com/tanpawarit/Chative-Studio-Agent/toolserver"
	"github.com/tanpawarit/Chative-Studio-Agent/toolserver/studio"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := configx.MustNew[toolserver.Config]("TOOLSERVER")

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Timezone).Msg("invalid timezone")
	}

	var api toolserver.StudioAPI
	studioCfg, err := configx.New[studio.Config]("STUDIO")
	if err != nil {
		log.Warn().Err(err).Msg("studio api not configured, serving date tools only")
	} else {
		client, err := studio.NewClient(*studioCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create studio client")
		}
		api = client
	}

	mcpServer := toolserver.New(api, toolserver.WithLocation(loc))
	sse := server.NewSSEServer(mcpServer, server.WithBaseURL(cfg.BaseURL))

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("base_url", cfg.BaseURL).Bool("studio", api != nil).Msg("tool server listening")
		if err := sse.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("tool server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down tool server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sse.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tool server shutdown failed")
	}
}
