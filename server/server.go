package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/mchiang0610/continue/db"
	"github.com/mchiang0610/continue/ide"
	"github.com/mchiang0610/continue/log"
	"github.com/mchiang0610/continue/metrics"
	"github.com/mchiang0610/continue/notifications"
	"github.com/mchiang0610/continue/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Server owns and coordinates all application components
type Server struct {
	cfg *Config

	// Components (owned by server)
	database     *db.DB
	store        *session.FileStore
	manager      *session.Manager
	watcher      *session.StoreWatcher
	notifService *notifications.Service
	ideHub       *ide.Hub
	ideHandler   *ide.Handler

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	unsubscribeSessions func()

	// Shutdown context - cancelled when server is shutting down.
	// Long-running handlers (WebSocket, SSE) should listen to this.
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	// HTTP
	router *gin.Engine
	http   *http.Server
}

// New creates a new server with all components initialized
func New(cfg *Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}

	// 1. Metrics registry (per server so tests can build several)
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.New(s.registry)

	// 2. Open database
	log.Info().Msg("initializing database")
	database, err := db.Open(cfg.ToDBConfig())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.database = database

	// 3. Snapshot store
	log.Info().Str("dir", cfg.SessionsDir).Msg("initializing session store")
	store, err := session.NewFileStore(cfg.SessionsDir)
	if err != nil {
		s.closeDatabase()
		cancel()
		return nil, err
	}
	s.store = store

	// 4. Notifications service
	log.Info().Msg("initializing notifications service")
	s.notifService = notifications.NewService(cfg.NotifyQueueSize)
	s.notifService.OnDrop(s.metrics.NotificationDropped)

	// 5. Session manager
	log.Info().Msg("initializing session manager")
	opts := cfg.ToManagerOptions()
	opts.Store = store
	opts.Metrics = s.metrics
	opts.Index = database
	manager, err := session.NewManager(opts)
	if err != nil {
		s.closeDatabase()
		cancel()
		return nil, err
	}
	s.manager = manager

	// 6. IDE controller connections
	s.ideHub = ide.NewHub()
	s.ideHandler = ide.NewHandler(manager, s.ideHub, s.metrics)

	// 7. Snapshot dir watcher
	if cfg.WatchSessionsDir {
		watcher, err := session.NewStoreWatcher(cfg.SessionsDir, s.onSnapshotChange)
		if err != nil {
			// Listing still works without it
			log.Warn().Err(err).Str("dir", cfg.SessionsDir).Msg("failed to watch sessions dir")
		} else {
			s.watcher = watcher
		}
	}

	// 8. Wire service connections
	s.connectServices()

	// 9. Setup HTTP router
	s.setupRouter()

	log.Info().Msg("server initialized successfully")
	return s, nil
}

// connectServices wires up event handlers between services
func (s *Server) connectServices() {
	// Session lifecycle → SSE clients
	s.unsubscribeSessions = s.manager.Subscribe(func(event session.SessionEvent) {
		switch event.Type {
		case session.SessionEventCreated:
			s.notifService.NotifySession(notifications.EventSessionCreated, event.SessionID)
		case session.SessionEventResumed:
			s.notifService.NotifySession(notifications.EventSessionResumed, event.SessionID)
		case session.SessionEventRemoved:
			s.notifService.NotifySession(notifications.EventSessionRemoved, event.SessionID)
		case session.SessionEventPersisted:
			s.notifService.NotifySession(notifications.EventSessionPersisted, event.SessionID)
		case session.SessionEventDiscarded:
			s.notifService.NotifySession(notifications.EventSessionDiscarded, event.SessionID)
		}
	})
}

// onSnapshotChange keeps the index in step with snapshots removed out of band
// and tells SSE clients about every change.
func (s *Server) onSnapshotChange(event session.FileEvent) {
	if event.Op == session.FileRemoved {
		exists, err := s.store.Exists(event.SessionID)
		if err == nil && !exists {
			if err := s.database.DeletePersisted(event.SessionID); err != nil {
				log.Warn().Err(err).Str("sessionId", event.SessionID).Msg("failed to drop index row")
			}
		}
	}
	s.notifService.NotifySessionFileChanged(event.SessionID, string(event.Op))
}

// setupRouter creates and configures the Gin router
func (s *Server) setupRouter() {
	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(log.GinLogger())

	// CORS for development
	if s.cfg.IsDevelopment() {
		s.router.Use(s.corsMiddleware())
	}

	// Security headers (production only)
	if !s.cfg.IsDevelopment() {
		s.router.Use(s.securityHeadersMiddleware())
	}

	// Gzip compression (skip SSE and WebSocket endpoints)
	s.router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		"/api/notifications/stream", // SSE - needs streaming
		"/gui/ws",                   // WebSocket - protocol upgrade
		"/ide/ws",                   // WebSocket - protocol upgrade
		"/metrics",                  // promhttp negotiates its own compression
	})))

	s.router.SetTrustedProxies(nil)

	// Ignore .well-known requests
	s.router.GET("/.well-known/*path", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	// Note: API routes are set up by calling code (main.go)
	// to avoid import cycles
}

// corsMiddleware handles CORS for development environments
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:5173": true,
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Location")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// securityHeadersMiddleware adds security headers for production
func (s *Server) securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "SAMEORIGIN")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// Start starts all background services and the HTTP server
func (s *Server) Start() error {
	log.Info().Msg("starting server components")

	if s.watcher != nil {
		s.watcher.Start(s.shutdownCtx)
	}

	s.http = &http.Server{
		Addr:     fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:  s.router,
		ErrorLog: log.StdErrorLogger(), // Route Go's internal HTTP errors through zerolog
	}

	log.Info().
		Str("addr", s.http.Addr).
		Str("env", s.cfg.Env).
		Msg("HTTP server starting")

	// Blocks
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	// 1. Signal long-running handlers (WebSocket, SSE) to stop
	log.Info().Msg("signaling handlers to stop")
	s.shutdownCancel()

	// Give handlers a moment to process the cancellation and close connections.
	// This prevents "response.WriteHeader on hijacked connection" warnings.
	time.Sleep(100 * time.Millisecond)

	// 2. Disconnect SSE clients
	s.notifService.Shutdown()

	// 3. Stop accepting requests and wait for in-flight ones
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
	}

	// 4. Stop background services (in reverse order of startup)
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.unsubscribeSessions != nil {
		s.unsubscribeSessions()
	}
	if err := s.manager.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("session manager shutdown error")
	}
	s.ideHub.CloseAll()

	// Close database last
	if err := s.closeDatabase(); err != nil {
		return err
	}

	log.Info().Msg("server shutdown complete")
	return nil
}

func (s *Server) closeDatabase() error {
	if s.database == nil {
		return nil
	}
	if err := s.database.Close(); err != nil {
		log.Error().Err(err).Msg("database close error")
		return err
	}
	return nil
}

// Component accessors for API handlers
func (s *Server) Config() *Config                       { return s.cfg }
func (s *Server) DB() *db.DB                            { return s.database }
func (s *Server) Store() *session.FileStore             { return s.store }
func (s *Server) Sessions() *session.Manager            { return s.manager }
func (s *Server) Notifications() *notifications.Service { return s.notifService }
func (s *Server) IDEHub() *ide.Hub                      { return s.ideHub }
func (s *Server) IDE() *ide.Handler                     { return s.ideHandler }
func (s *Server) Metrics() *metrics.Metrics             { return s.metrics }
func (s *Server) Registry() *prometheus.Registry        { return s.registry }
func (s *Server) Router() *gin.Engine                   { return s.router }
func (s *Server) ShutdownContext() context.Context      { return s.shutdownCtx }
