// Package server exposes the agent's controller-facing HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"pptp-vpn-agent/internal/outbox"
	"pptp-vpn-agent/internal/pptp"
)

const maxBodyBytes = 4 << 20

// Agent is the part of the driver the API drives.
type Agent interface {
	StartVPNService(ctx context.Context, svc pptp.VPNService, localIP string) error
	StopVPNService(ctx context.Context, serviceID string, remove bool) error
	SyncFromServer(ctx context.Context, delta *pptp.ReconcileDelta) error
	Snapshot() pptp.StatusReport
	ServiceStatus(serviceID string) (pptp.ProcessStatus, error)
}

// ReportLister serves stored status reports.
type ReportLister interface {
	List(ctx context.Context, afterID int64, limit int) ([]outbox.Entry, error)
}

// Server handles HTTP requests from the controller.
type Server struct {
	agent   Agent
	reports ReportLister
	auth    func(http.Handler) http.Handler
	log     *zap.SugaredLogger
}

// New creates an HTTP server. authMiddleware and reports may be nil.
func New(agent Agent, reports ReportLister, authMiddleware func(http.Handler) http.Handler, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		agent:   agent,
		reports: reports,
		auth:    authMiddleware,
		log:     logger,
	}
}

// Router constructs the http.Handler with all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.auth != nil {
		r.Use(s.auth)
	}

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(api chi.Router) {
		api.Post("/vpnservices", s.handleStartVPNService)
		api.Get("/vpnservices/{id}", s.handleGetVPNService)
		api.Post("/vpnservices/{id}/stop", s.handleStopVPNService)
		api.Post("/sync", s.handleSync)
		api.Get("/status", s.handleStatus)
		api.Get("/reports", s.handleReports)
		api.Get("/version", s.handleVersion)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
			"remote", r.RemoteAddr,
		)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
