package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"pptp-vpn-agent/internal/pptp"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func writeAgentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pptp.ErrInvalidDelta), errors.Is(err, pptp.ErrDuplicateRemote):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, pptp.ErrServiceNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
