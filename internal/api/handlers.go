// Package api serves the HTTP control surface: modem status and commands,
// bearer management, the event journal and a websocket event stream.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modemd/internal/config"
	"github.com/modemd/internal/journal"
	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
)

// Modems is the set of managed modems.
type Modems interface {
	List() []*mm.Modem
	Get(id string) (*mm.Modem, bool)
	// Subscribe delivers events of every modem, including modems added
	// later, until the returned function is called.
	Subscribe(fn func(mm.Event)) func()
}

// Server represents the API server
type Server struct {
	cfg           config.APIConfig
	modems        Modems
	journal       *journal.Journal
	metrics       http.Handler
	metricsPath   string
	healthChecker HealthChecker
	upgrader      websocket.Upgrader
	log           *slog.Logger
}

// New creates a new API server
func New(cfg config.APIConfig, modems Modems) *Server {
	s := &Server{
		cfg:    cfg,
		modems: modems,
		log:    logging.With("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	if len(cfg.CORSOrigins) > 0 {
		s.upgrader.CheckOrigin = s.originAllowed
	}
	return s
}

// SetJournal enables the event history endpoints
func (s *Server) SetJournal(j *journal.Journal) {
	s.journal = j
}

// SetMetricsHandler mounts a metrics handler at path
func (s *Server) SetMetricsHandler(path string, h http.Handler) {
	s.metricsPath = path
	s.metrics = h
}

// SetHealthChecker sets the health checker for the server
func (s *Server) SetHealthChecker(hc HealthChecker) {
	s.healthChecker = hc
}

// Run serves the API until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("API server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// HealthHandler handles health check requests
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthChecker != nil {
		WriteJSONSuccess(w, s.healthChecker.CheckHealth())
		return
	}
	WriteJSONSuccess(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
