package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	configx "github.com/tanpawarit/Chative-Studio-Agent/pkg/config"
	_ "github.com/tanpawarit/Chative-Studio-Agent/pkg/logger/autoload"
	qstashx "github.com/tanpawarit/Chative-Studio-Agent/pkg/qstash"
	"github.com/tanpawarit/Chative-Studio-Agent/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := configx.MustNew[relay.Config]("RELAY")
	smtpCfg := configx.MustNew[relay.SMTPConfig]("SMTP")
	qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")

	mailer, err := relay.NewMailer(*smtpCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create mailer")
	}
	agent := relay.NewAgentClient(cfg.AgentURL, cfg.AgentTimeout)

	opts := []relay.HandlerOption{relay.WithSubject(cfg.Subject)}
	if qstashCfg.Enabled {
		opts = append(opts, relay.WithSignatureCheck(qstashx.MustNewVerifier(*qstashCfg).Middleware))
	}

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(chiMiddleware.Heartbeat("/health"))
	router.Handle("/metrics", promhttp.Handler())

	relay.NewHandler(agent, mailer, opts...).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// replies wait on the agent and the SMTP server
		WriteTimeout: cfg.AgentTimeout + 60*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("agent_url", cfg.AgentURL).Bool("signature_check", qstashCfg.Enabled).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("relay server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("relay shutdown failed")
	}
}
