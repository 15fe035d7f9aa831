// Package server wires together all portal subsystems and exposes the HTTP
// server. main() builds a Server, calls Run, done.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/railops/railportal/internal/portal/alerts"
	"github.com/railops/railportal/internal/portal/auth"
	"github.com/railops/railportal/internal/portal/config"
	"github.com/railops/railportal/internal/portal/crowdflow"
	"github.com/railops/railportal/internal/portal/events"
	"github.com/railops/railportal/internal/portal/incidents"
	"github.com/railops/railportal/internal/portal/maintenance"
	"github.com/railops/railportal/internal/portal/metrics"
	"github.com/railops/railportal/internal/portal/railapi"
	"github.com/railops/railportal/internal/portal/session"
	"github.com/railops/railportal/internal/portal/stations"
	"github.com/railops/railportal/internal/portal/users"
	portalws "github.com/railops/railportal/internal/portal/websocket"
)

// Version info injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Server is the assembled portal.
type Server struct {
	cfg    config.Config
	logger *zap.Logger

	eventBus *events.Bus
	hub      *portalws.Hub

	alertStore    *alerts.Store
	crowdStore    *crowdflow.Store
	incidentStore *incidents.Store
	stationStore  *stations.Store
	userStore     *users.Store
	sessionStore  *session.Store

	alertHandlers    *alerts.Handlers
	crowdHandlers    *crowdflow.Handlers
	incidentHandlers *incidents.Handlers
	stationHandlers  *stations.Handlers
	railHandlers     *railapi.Handlers
	authHandlers     *auth.Handlers

	sweeper *maintenance.Sweeper

	httpServer *http.Server
}

// New builds a fully-wired Server from config.
func New(cfg config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logger,
	}

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	s.eventBus = events.NewBus(256)

	if err := s.initStores(); err != nil {
		s.Close()
		return nil, err
	}
	s.initHub()
	s.initHandlers()
	s.initSweeper()

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = limitBody(instrument(mux))
	authMiddleware := auth.NewMiddleware(s.sessionAdapter(), logger, cfg.AuthEnabled, []string{
		"/healthz",
		"/version",
		"/metrics",
		"/api/auth/request-otp",
		"/api/auth/verify-otp",
		"/api/auth/logout",
	})
	handler = authMiddleware.Wrap(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Run starts the server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go s.hub.Run(hubCtx)

	if err := s.sweeper.Start(); err != nil {
		return fmt.Errorf("start maintenance sweeper: %w", err)
	}
	defer s.sweeper.Stop()
	s.sweeper.RunOnce()

	s.logger.Info("starting portal",
		zap.String("addr", s.cfg.ListenAddr),
		zap.String("version", Version),
		zap.Bool("auth_enabled", s.cfg.AuthEnabled),
		zap.Bool("rail_api", s.cfg.HasRailAPI()),
	)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.HasTLS() {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Close releases all resources.
func (s *Server) Close() {
	if s.alertStore != nil {
		s.alertStore.Close()
	}
	if s.crowdStore != nil {
		s.crowdStore.Close()
	}
	if s.incidentStore != nil {
		s.incidentStore.Close()
	}
	if s.stationStore != nil {
		s.stationStore.Close()
	}
	if s.userStore != nil {
		s.userStore.Close()
	}
	if s.sessionStore != nil {
		s.sessionStore.Close()
	}
}

// Handler exposes the assembled HTTP handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ── Init helpers ─────────────────────────────────────────────

func (s *Server) initStores() error {
	var err error

	s.alertStore, err = alerts.NewStore(filepath.Join(s.cfg.DataDir, "alerts.db"), s.eventBus)
	if err != nil {
		return fmt.Errorf("open alerts store: %w", err)
	}

	s.crowdStore, err = crowdflow.NewStore(filepath.Join(s.cfg.DataDir, "crowdflow.db"), s.eventBus)
	if err != nil {
		return fmt.Errorf("open crowdflow store: %w", err)
	}

	s.incidentStore, err = incidents.NewStore(filepath.Join(s.cfg.DataDir, "incidents.db"), s.eventBus, s.alertStore)
	if err != nil {
		return fmt.Errorf("open incidents store: %w", err)
	}

	s.stationStore, err = stations.NewStore(filepath.Join(s.cfg.DataDir, "stations.db"))
	if err != nil {
		return fmt.Errorf("open stations store: %w", err)
	}

	s.userStore, err = users.NewStore(filepath.Join(s.cfg.DataDir, "users.db"))
	if err != nil {
		return fmt.Errorf("open users store: %w", err)
	}

	lifetime := time.Duration(s.cfg.SessionLifetimeHours) * time.Hour
	s.sessionStore, err = session.NewStore(filepath.Join(s.cfg.DataDir, "sessions.db"), lifetime)
	if err != nil {
		return fmt.Errorf("open sessions store: %w", err)
	}

	return nil
}

func (s *Server) initHub() {
	s.hub = portalws.NewHub(s.logger, s.eventBus)
	s.hub.SetBroadcastHook(func(msgType string) {
		metrics.RecordBroadcast(msgType)
		metrics.SetWebsocketClients(s.hub.Connected())
	})
}

func (s *Server) initHandlers() {
	s.alertHandlers = alerts.NewHandlers(s.alertStore, s.logger)
	s.crowdHandlers = crowdflow.NewHandlers(s.crowdStore, s.logger)
	s.incidentHandlers = incidents.NewHandlers(s.incidentStore, s.logger)
	s.stationHandlers = stations.NewHandlers(s.stationStore, s.logger)

	railClient := railapi.NewClient(s.cfg.RailAPI.BaseURL, s.cfg.RailAPI.APIKey)
	s.railHandlers = railapi.NewHandlers(railClient, s.logger)

	adapter := s.sessionAdapter()
	s.authHandlers = auth.NewHandlers(s.sessionStore, adapter, adapter, adapter, s.logger)
}

func (s *Server) initSweeper() {
	retention := time.Duration(s.cfg.CrowdRetentionHours) * time.Hour
	s.sweeper = maintenance.NewSweeper(s.sessionStore, s.crowdStore, retention, s.logger)
}

func (s *Server) sessionAdapter() *sessionAdapter {
	return &sessionAdapter{sessions: s.sessionStore, users: s.userStore}
}
