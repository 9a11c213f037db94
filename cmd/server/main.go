package main

import (
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"snapclone/internal/auth"
	"snapclone/internal/cache"
	"snapclone/internal/config"
	"snapclone/internal/database"
	"snapclone/internal/handlers"
	"snapclone/internal/realtime"
	"snapclone/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize last-seen cache
	store, err := cache.NewLastSeenStore(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Failed to connect to redis: %v", err)
	}
	defer store.Close()

	// Initialize services
	authService := auth.NewService(db, cfg)

	// Initialize realtime gateway
	gateway := realtime.NewGateway(store, cfg.Redis.LastSeenTTL)

	// Initialize handlers
	authHandlers := handlers.NewAuthHandlers(authService)
	presenceHandlers := handlers.NewPresenceHandlers(gateway.Sessions(), store)
	wsHandlers := handlers.NewWebSocketHandlers(authService, gateway, cfg)

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, authHandlers, presenceHandlers, wsHandlers)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
	printAPIEndpoints()

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")
}

func setupRoutes(mux *http.ServeMux, authHandlers *handlers.AuthHandlers, presenceHandlers *handlers.PresenceHandlers, wsHandlers *handlers.WebSocketHandlers) {
	// Auth routes
	mux.HandleFunc("/login", authHandlers.Login)
	mux.HandleFunc("/register", authHandlers.Register)

	// Presence routes
	mux.HandleFunc("/presence/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		rest := strings.TrimPrefix(r.URL.Path, "/presence/")
		if rest == "" || strings.Contains(rest, "/") {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		if rest == "online" {
			presenceHandlers.ListOnline(w, r)
			return
		}

		presenceHandlers.GetStatus(w, r, rest)
	})

	// WebSocket route
	mux.HandleFunc("/ws", wsHandlers.HandleWebSocket)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func printAPIEndpoints() {
	logger.Info("🔗 API endpoints:")
	logger.Info("   POST /login")
	logger.Info("   POST /register")
	logger.Info("   GET  /presence/online")
	logger.Info("   GET  /presence/{userId}")
}
