package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pptp-vpn-agent/internal/pptp"
	"pptp-vpn-agent/internal/version"
)

type startRequest struct {
	VPNService *pptp.VPNService `json:"vpnservice"`
	LocalIP    string           `json:"localip"`
}

type stopRequest struct {
	Delete bool `json:"delete"`
}

func (s *Server) handleStartVPNService(w http.ResponseWriter, r *http.Request) {
	var payload startRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if payload.VPNService == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "vpnservice is required"})
		return
	}
	if err := s.agent.StartVPNService(r.Context(), *payload.VPNService, payload.LocalIP); err != nil {
		writeAgentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopVPNService(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var payload stopRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := s.agent.StopVPNService(r.Context(), id, payload.Delete); err != nil {
		writeAgentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetVPNService(w http.ResponseWriter, r *http.Request) {
	status, err := s.agent.ServiceStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}
	delta, err := pptp.DecodeDelta(body)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	if err := s.agent.SyncFromServer(r.Context(), delta); err != nil {
		s.log.Errorw("sync from server failed", "error", err)
		writeAgentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Snapshot())
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "report outbox unavailable"})
		return
	}
	after, err := queryInt(r, "after")
	if err != nil || after < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid after"})
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil || limit < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		return
	}
	entries, err := s.reports.List(r.Context(), after, int(limit))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": entries})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Current())
}

func queryInt(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
