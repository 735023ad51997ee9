package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-rooms/internal/api/rooms"
	"github.com/Vasu1712/scenyx-rooms/internal/auth"
	"github.com/Vasu1712/scenyx-rooms/internal/config"
	"github.com/Vasu1712/scenyx-rooms/internal/middleware"
	"github.com/Vasu1712/scenyx-rooms/internal/storage"
	"github.com/Vasu1712/scenyx-rooms/internal/storage/cache"
	"github.com/Vasu1712/scenyx-rooms/internal/storage/memory"
	"github.com/Vasu1712/scenyx-rooms/internal/storage/postgres"
	"github.com/Vasu1712/scenyx-rooms/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := newLogger(cfg)
	ctx := context.Background()

	// Persistence: PostgreSQL when configured, otherwise in memory.
	var store storage.Repository
	var pinger interface{ Ping(context.Context) error }
	if cfg.DatabaseURL != "" {
		pg, err := postgres.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		store, pinger = pg, pg
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		store = memory.NewStore(memory.WithAutoCreate(cfg.AutoCreateRooms))
		logger.Warn().Bool("auto_create_rooms", cfg.AutoCreateRooms).Msg("DATABASE_URL not set, using in-memory store")
	}
	defer store.Close()

	hub := ws.NewHub(logger)
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	roomHandler := &rooms.RoomHandler{Store: store, Hub: hub, Log: logger.With().Str("component", "api").Logger()}

	var wsOpts []ws.ServerOption
	if cfg.ValkeyURL != "" {
		checkpoints, err := cache.NewValkeyCheckpoints(ctx, cfg.ValkeyURL, cfg.CheckpointTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("valkey connection failed")
		}
		defer checkpoints.Close()
		wsOpts = append(wsOpts, ws.WithCheckpoints(checkpoints))
		roomHandler.Checkpoints = checkpoints
		logger.Info().Dur("ttl", cfg.CheckpointTTL).Msg("connected to Valkey")
	}

	wsServer := ws.NewServer(hub, store, verifier, ws.Config{
		MaxFrameBytes:  cfg.MaxFrameBytes,
		SendBuffer:     cfg.SendBuffer,
		IdleTimeout:    cfg.IdleTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger, wsOpts...)

	router := mux.NewRouter()
	router.Use(chimw.RequestID, chimw.RealIP, middleware.Metrics, middleware.Logger(logger), chimw.Recoverer)

	router.HandleFunc("/rooms/{roomId}", wsServer.ServeWS).Methods(http.MethodGet)
	router.HandleFunc("/health", healthHandler(pinger)).Methods(http.MethodGet)
	router.HandleFunc("/stats", statsHandler(hub)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	rooms.RegisterRoomRoutes(router.PathPrefix("/api/v1").Subrouter(), roomHandler, middleware.RequireAuth(verifier))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.CORS(cfg.AllowedOrigins)(router),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting room server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("websocket sessions did not drain")
	}

	logger.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	return logger.Level(level)
}

func healthHandler(db interface{ Ping(context.Context) error }) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

func statsHandler(hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, connections := hub.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"rooms": rooms, "connections": connections})
	}
}
