package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"CampusConnect/server/internal/appMiddleware"
	"CampusConnect/server/internal/auth"
	"CampusConnect/server/internal/cache"
	"CampusConnect/server/internal/config"
	"CampusConnect/server/internal/db"
	"CampusConnect/server/internal/directory"
	"CampusConnect/server/internal/events"
	"CampusConnect/server/internal/handlers"
	"CampusConnect/server/internal/realtime"
	"CampusConnect/server/internal/repository"
	"CampusConnect/server/internal/services"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	var nameCache cache.Cache = cache.NewMemory()
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisCache.Close()
		nameCache = redisCache
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	repo := repository.NewPgConversationRepository(pool)
	dir := directory.NewPgDirectory(pool, nameCache)
	conversationService := services.NewConversationService(repo, dir, publisher)

	clock := clockwork.NewRealClock()
	registry := realtime.NewRegistry()
	rooms := realtime.NewRooms()
	typing := realtime.NewTypingManager(clock, rooms, realtime.DefaultTypingWindow)
	dispatcher := realtime.NewDispatcher(registry, rooms, typing, clock)

	conversationHandler := handlers.NewConversationHandler(conversationService)
	wsHandler := handlers.NewWebSocketHandler(verifier, dispatcher)

	r := chi.NewRouter()
	r.Use(appMiddleware.CorsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/ws", wsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(appMiddleware.AuthMiddleware(verifier))
		conversationHandler.Routes(r)
	})

	// No WriteTimeout: the websocket endpoint holds long-lived connections.
	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("stopping the server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server has been stopped")
}
