package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voicelink/session-server-go/internal/config"
	"github.com/voicelink/session-server-go/internal/database"
	"github.com/voicelink/session-server-go/internal/handler"
	"github.com/voicelink/session-server-go/internal/middleware"
	"github.com/voicelink/session-server-go/internal/realtime"
	"github.com/voicelink/session-server-go/internal/redis"
	"github.com/voicelink/session-server-go/internal/registry"
	"github.com/voicelink/session-server-go/internal/repository"
	"github.com/voicelink/session-server-go/internal/supervisor"
	"github.com/voicelink/session-server-go/internal/token"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	// Event history is optional; without a database the server runs with
	// protocol state only.
	var eventRepo repository.PairingEventRepository
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		cancel()
		log.Info().Msg("database connected, pairing event history enabled")

		eventRepo = repository.NewPairingEventRepository(db.DB)
	} else {
		log.Info().Msg("no DATABASE_URL, pairing event history disabled")
	}

	var limiter middleware.Limiter
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected, using shared rate limiter")

		limiter = middleware.NewRedisLimiter(redisClient.Client)
	} else {
		log.Info().Msg("no REDIS_URL, using in-memory rate limiter")
		limiter = middleware.NewMemoryLimiter()
	}

	reg := registry.NewRegistry(cfg.PairingCodeTTL())
	validator := token.NewValidator(cfg.JWTSecret, cfg.TokenRefreshWarning())
	recorder := repository.NewRecorder(eventRepo)
	manager := realtime.NewManager(reg, validator, recorder)

	sup := supervisor.New(manager, reg, validator, eventRepo, supervisor.Options{
		SweepInterval:   cfg.SweepInterval(),
		IdentifyTimeout: cfg.IdentifyTimeout(),
		IdleTimeout:     cfg.IdleTimeout(),
		TokenRecheck:    cfg.TokenRecheck(),
	})
	sup.Start()
	defer sup.Stop()

	authMiddleware := middleware.NewAuthMiddleware(validator)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(limiter, cfg.RateLimitPerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	pairingHandler := handler.NewPairingHandler(reg, recorder, eventRepo)
	authHandler := handler.NewAuthHandler(validator)
	connectHandler := handler.NewConnectHandler(manager)
	statsHandler := handler.NewStatsHandler(manager, reg)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		// The websocket has no request timeout and authenticates inside the
		// protocol, so it stays outside the API middleware chain.
		r.Get("/connect", connectHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(bodyLimitMiddleware.Handler)

			r.Get("/auth/status", authHandler.Status)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.Handler)
				r.Use(rateLimitMiddleware.Handler)

				r.Post("/pairing/codes", pairingHandler.GenerateCode)
				r.Get("/pairing/history", pairingHandler.History)
				r.Get("/stats", statsHandler.Stats)
			})
		})
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	// Tell connected clients when to come back before tearing sockets down.
	manager.Shutdown(cfg.ShutdownReconnect())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
