package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"shortforge/internal/bootstrap"
	"shortforge/internal/http/handlers"
	httpapi "shortforge/internal/http/httpapi"
	"shortforge/internal/infra"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}
	defer rt.Close()

	app, err := handlers.NewApp(handlers.Options{
		Runner:      rt.Sequencer,
		Store:       rt.Store,
		Logger:      logger,
		BaseContext: ctx,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init handlers")
	}
	defer app.Close()

	router := httpapi.NewRouter(app, logger, cfg.RateLimitPerMin)
	server := infra.NewHTTPServer(cfg, router, &logger)
	if err := server.Run(ctx, cfg.HTTPIdleTimeout); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
	}
}
