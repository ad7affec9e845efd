package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"kidscanvas/internal/config"
	"kidscanvas/internal/eventstore"
	"kidscanvas/internal/handler"
	"kidscanvas/internal/handler/ws"
	"kidscanvas/internal/middleware"
	"kidscanvas/internal/safety"
	"kidscanvas/internal/service"
	"kidscanvas/internal/service/turnworker"
	"kidscanvas/internal/store"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	var logOutput io.Writer = os.Stdout
	if cfg.LogDir != "" {
		logFile, err := config.OpenLogFile(cfg.LogDir, cfg.LogMaxFiles)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer logFile.Close()
		logOutput = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewJSONHandler(logOutput, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
	)

	// State store, snapshot-backed when STATE_FILE is set
	storeOpts := []store.Option{store.WithLogger(logger)}
	if cfg.StateFile != "" {
		storeOpts = append(storeOpts, store.WithSnapshotPath(cfg.StateFile))
	}
	st, err := store.New(storeOpts...)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}

	// Event store: Redis when configured, in-memory otherwise
	var events eventstore.EventStore
	if cfg.RedisURL != "" {
		events, err = eventstore.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		logger.Info("event store connected", "backend", "redis")
	} else {
		events = eventstore.NewMemory()
		logger.Info("event store connected", "backend", "memory")
	}
	defer events.Close()

	moderation := safety.NewKeywordEngine(cfg.BannedKeywords)

	// Services
	roomService := service.NewRoomService(st, logger)
	strokeService := service.NewStrokeService(st, events, logger)
	objectService := service.NewObjectService(st, events, moderation, logger)

	// Background turn processor
	var processor *turnworker.Processor
	if cfg.TurnWorkerEnabled {
		processor = turnworker.New(st, events, moderation, cfg.AgentURL, logger,
			turnworker.WithPollInterval(cfg.TurnWorkerInterval))
		processor.Start()
		logger.Info("turn processor started", "agent_url", cfg.AgentURL)
	}

	// Handlers
	roomHandler := handler.NewRoomHandler(roomService, logger)
	strokeHandler := handler.NewStrokeHandler(strokeService, logger)
	objectHandler := handler.NewObjectHandler(objectService, logger)
	eventsHandler := handler.NewEventsHandler(events, cfg.RealtimeServiceKey, logger)
	socketHandler := ws.NewRoomSocketHandler(st, events, cfg.AuthSecretKey, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handler.HealthCheck)

	// Room routes
	mux.HandleFunc("POST /api/rooms", roomHandler.CreateRoom)
	mux.HandleFunc("POST /api/rooms/{room_id}/join", roomHandler.JoinRoom)

	// Stroke routes
	mux.HandleFunc("POST /api/rooms/{room_id}/strokes", strokeHandler.CreateStroke)
	mux.HandleFunc("GET /api/rooms/{room_id}/strokes", strokeHandler.ListStrokes)

	// Object commit
	mux.HandleFunc("POST /api/rooms/{room_id}/objects", objectHandler.CommitObject)

	// Internal timeline tail (realtime relay, moderation tooling)
	mux.HandleFunc("GET /internal/events/next", eventsHandler.Next)

	// WebSocket subscriptions
	mux.HandleFunc("GET /ws/rooms/{room_id}", socketHandler.Subscribe)

	// Build middleware chain
	var root http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Auth → Routes
	root = middleware.Auth(cfg.AuthSecretKey)(root)
	root = middleware.Recovery(logger)(root)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Service-Key"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     root,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays disabled for long-lived WebSocket connections
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting requests, then stop the processor so
	// no turn transition is cut off mid-transaction.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if processor != nil {
		processor.Stop()
	}
	logger.Info("server stopped")
}
