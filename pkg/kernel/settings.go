package kernel

import (
	"encoding/json"
	"net/http"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
)

const maxSettingsBody = 64 << 10

// GET /v1/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.MaskedSettings())
}

// handleUpdateSettings applies a partial update on top of the current settings.
// A masked or empty registry password keeps the stored one.
// PUT /v1/settings
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	update := s.settings.MaskedSettings()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSettingsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(update); err != nil {
		writeFailure(w, http.StatusBadRequest, "", domain.KindInvalidInput, "invalid settings body: "+err.Error())
		return
	}

	if err := s.settings.Update(r.Context(), update); err != nil {
		writeFailure(w, http.StatusBadRequest, "", domain.KindInvalidInput, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.settings.MaskedSettings())
}
