package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Youngger9765/career-creator-sub000/internal/config"
	"github.com/Youngger9765/career-creator-sub000/internal/gateway"
	"github.com/Youngger9765/career-creator-sub000/internal/transport"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	natsCfg := transport.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	nc, err := transport.ConnectNATS(natsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect transport")
	}
	defer nc.Close()

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cm.Start(ctx)

	consumer := gateway.NewConsumer(cm, nc)
	if err := consumer.Start(); err != nil {
		log.Fatal().Err(err).Msg("start consumer")
	}
	defer consumer.Stop()

	mux := http.NewServeMux()
	gateway.NewHandler(cm).Routes(mux)

	srv := &http.Server{
		Addr:    cfg.GatewayAddr,
		Handler: cors.Default().Handler(mux),
	}

	go func() {
		log.Info().Str("addr", cfg.GatewayAddr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down gateway")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown failed")
	}
}
