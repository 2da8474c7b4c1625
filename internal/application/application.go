package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/junothreadborne/ListenRoom/internal/assembly"
	"github.com/junothreadborne/ListenRoom/internal/config"
	"github.com/junothreadborne/ListenRoom/internal/database"
	"github.com/junothreadborne/ListenRoom/internal/handler"
	"github.com/junothreadborne/ListenRoom/internal/metrics"
	"github.com/junothreadborne/ListenRoom/internal/room"
	"github.com/junothreadborne/ListenRoom/internal/router"
	"github.com/junothreadborne/ListenRoom/internal/service"
	"github.com/junothreadborne/ListenRoom/internal/textsync"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// API is the HTTP + WebSocket coordination application.
type API struct {
	cfg   *config.Config
	srv   *http.Server
	db    *gorm.DB
	store *room.Store
	hub   *service.Hub
}

// NewAPI creates the API application: validates config, runs migrations,
// opens the database, wires the coordination core, builds the router.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	logger, _ := zap.NewProduction()
	if cfg.AppEnv == "development" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	store := room.NewStore(cfg.SessionMaxParticipants)
	hub := service.NewHub(cfg.WSReadBufferSize, cfg.WSWriteBufferSize, cfg.WSMaxMessageSize, logger)
	stats := metrics.New()
	sessionSvc := service.NewSessionService(db)

	var contentFwd service.ContentForwarder
	if cfg.TextSyncServiceURL != "" {
		contentFwd = textsync.NewClient(cfg.TextSyncServiceURL, logger)
	}
	var assemblyTrigger service.AssemblyTrigger
	if cfg.EnableAssembly && cfg.AssemblyServiceURL != "" {
		client := assembly.NewClient(cfg.AssemblyServiceURL, logger)
		if err := client.Ping(context.Background()); err != nil {
			log.Printf("warning: assembly service unreachable (assembly disabled): %v", err)
		} else {
			assemblyTrigger = client
		}
	}

	coordinator := service.NewCoordinator(store, hub, sessionSvc, contentFwd, assemblyTrigger, stats, logger)

	sessionHandler := handler.NewSessionHandler(sessionSvc, cfg.WSBaseURL)
	sessionWS := handler.NewSessionWSHandler(hub, coordinator, logger)
	health := handler.NewHealthHandler()

	r := router.New(sessionHandler, sessionWS, health, stats)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{cfg: cfg, srv: srv, db: db, store: store, hub: hub}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled; then shuts
// down gracefully.
func (a *API) Run(ctx context.Context) error {
	addr := a.srv.Addr
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", addr)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Ready:         %s/ready", base)
	log.Printf("  Sessions:      %s/sessions", base)
	log.Printf("  WebSocket:     ws://%s:%s/ws/session", host, a.cfg.HTTPPort)

	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
