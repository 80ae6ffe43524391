// Command synthpanel-server serves synthetic consumer evaluations over HTTP
// (GET /, POST /evaluate, POST /batch, GET /runs/:id, GET /aggregates, GET /metrics).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/klejdi94/synthpanel"
	"github.com/klejdi94/synthpanel/config"
	"github.com/klejdi94/synthpanel/logger"
	"github.com/klejdi94/synthpanel/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Init(cfg.Environment, cfg.LogLevel)

	var panel *synthpanel.Panel
	if cfg.HasCredentials() {
		panel, err = synthpanel.FromConfig(ctx, cfg, prometheus.DefaultRegisterer)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build panel")
		}
		defer panel.Close()
	} else {
		log.Warn().Str("response_provider", cfg.Response.Provider).Str("embedding_provider", cfg.Embedding.Provider).
			Msg("provider credentials missing, evaluation routes disabled")
	}

	srv := server.New(cfg.Server, panel, server.WithCredentials(cfg.HasCredentials()))
	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		return
	}
	log.Info().Msg("server shut down")
}
