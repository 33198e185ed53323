// Package api provides the operator's JSON API.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/blowout/internal/gesture"
	"github.com/ayusman/blowout/internal/store"
)

// MaxSignatureLength is the longest accepted greeting signature.
const MaxSignatureLength = 30

// SettingsHandler serves GET and PUT /api/settings. Changes apply to
// parties started afterwards.
type SettingsHandler struct {
	store *store.Store
}

// NewSettingsHandler creates a new SettingsHandler with the given store.
func NewSettingsHandler(s *store.Store) *SettingsHandler {
	return &SettingsHandler{store: s}
}

type settingsResponse struct {
	Tuning    gesture.Tuning `json:"tuning"`
	Signature string         `json:"signature"`
}

// updateSettingsRequest leaves absent sections untouched. A tuning
// replaces the stored one; its missing fields take their defaults.
type updateSettingsRequest struct {
	Tuning    *gesture.Tuning `json:"tuning,omitempty"`
	Signature *string         `json:"signature,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeHTTP implements the http.Handler interface.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SettingsHandler) get(w http.ResponseWriter, r *http.Request) {
	resp, err := h.load()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load settings")
		writeError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SettingsHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	update := store.SettingsUpdate{Tuning: req.Tuning}
	if req.Signature != nil {
		sig := strings.TrimSpace(*req.Signature)
		if utf8.RuneCountInString(sig) > MaxSignatureLength {
			writeError(w, http.StatusBadRequest, "Signature is too long")
			return
		}
		update.Signature = &sig
	}
	if req.Tuning != nil {
		if err := req.Tuning.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := h.store.Settings().Update(update); err != nil {
		log.Error().Err(err).Msg("Failed to save settings")
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}

	resp, err := h.load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	log.Info().Str("signature", resp.Signature).Msg("Settings updated")
	writeJSON(w, http.StatusOK, resp)
}

func (h *SettingsHandler) load() (settingsResponse, error) {
	settings := h.store.Settings()

	tuning, err := settings.Tuning()
	if err != nil {
		return settingsResponse{}, err
	}
	sig, err := settings.Signature()
	if err != nil {
		return settingsResponse{}, err
	}
	return settingsResponse{Tuning: tuning, Signature: sig}, nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
