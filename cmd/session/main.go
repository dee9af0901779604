package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Youngger9765/career-creator-sub000/internal/config"
	"github.com/Youngger9765/career-creator-sub000/internal/persist"
	"github.com/Youngger9765/career-creator-sub000/internal/presence"
	"github.com/Youngger9765/career-creator-sub000/internal/session"
	"github.com/Youngger9765/career-creator-sub000/internal/transport"

	"github.com/jonboulle/clockwork"
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
	if cfg.RoomID == "" || cfg.GameType == "" {
		log.Fatal().Msg("ROOM_ID and GAME_TYPE are required")
	}
	if cfg.Participant.ID == "" {
		cfg.Participant.ID = uuid.New().String()
	}

	role := transport.Role(cfg.Participant.Role)
	if role != transport.RoleOwner && role != transport.RoleVisitor {
		log.Fatal().Str("role", cfg.Participant.Role).Msg("participant role must be owner or visitor")
	}

	natsCfg := transport.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	nc, err := transport.ConnectNATS(natsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect transport")
	}
	defer nc.Close()

	var store persist.Store
	switch role {
	case transport.RoleOwner:
		pool, err := pgxpool.New(context.Background(), cfg.Postgres.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("connect shared store")
		}
		defer pool.Close()

		pg := persist.NewPostgresStore(pool)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("ensure shared store schema")
		}
		store = pg
	case transport.RoleVisitor:
		local, err := persist.OpenLocalStore(cfg.LocalStorePath)
		if err != nil {
			log.Fatal().Err(err).Msg("open local store")
		}
		defer local.Close()
		store = local
	}

	clock := clockwork.NewRealClock()
	cardsCh := transport.NewNATSChannel(nc, transport.Topic(cfg.RoomID, cfg.GameType), natsCfg.JoinTimeout)
	presenceCh := transport.NewNATSChannel(nc, transport.PresenceTopic(cfg.RoomID), natsCfg.JoinTimeout)

	// Visitors confirm an owner is present before committing to the room.
	if role == transport.RoleVisitor {
		probe := transport.NewNATSChannel(nc, transport.PresenceTopic(cfg.RoomID), natsCfg.JoinTimeout)
		found, err := presence.CheckOwnerOnline(context.Background(), probe, clock, presence.DefaultCheckTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("owner liveness check failed")
		}
		if !found {
			log.Fatal().Str("room", cfg.RoomID).Msg("no owner present in room")
		}
	}

	sess, err := session.New(session.Config{
		RoomID:   cfg.RoomID,
		GameType: cfg.GameType,
		Self: session.Participant{
			ID:   cfg.Participant.ID,
			Name: cfg.Participant.Name,
			Role: role,
		},
		Cards:            cardsCh,
		Presence:         presenceCh,
		Store:            store,
		Clock:            clock,
		AutosaveInterval: cfg.AutosaveInterval,
		GracePeriod:      cfg.GracePeriod,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build session")
	}

	if err := sess.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("start session")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down")
	case <-sess.OwnerGone():
		log.Info().Msg("owner left the room; session ended")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sess.Close(ctx); err != nil {
		log.Error().Err(err).Msg("final save failed; local changes may be lost")
	}
}
