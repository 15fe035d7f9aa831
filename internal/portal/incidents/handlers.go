package incidents

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Handlers serves the medical and safety incident endpoints.
type Handlers struct {
	store  *Store
	logger *zap.Logger
}

// NewHandlers builds the incident handlers.
func NewHandlers(store *Store, logger *zap.Logger) *Handlers {
	return &Handlers{store: store, logger: logger.Named("incidents")}
}

// HandleListMedical handles GET /api/medical-emergencies?status=.
func (h *Handlers) HandleListMedical(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListMedical(r.URL.Query().Get("status"))
	if errors.Is(err, ErrValidation) {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("list medical emergencies", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch medical emergencies")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleCreateMedical handles POST /api/medical-emergencies.
func (h *Handlers) HandleCreateMedical(w http.ResponseWriter, r *http.Request) {
	var m MedicalEmergency
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	created, err := h.store.CreateMedical(m)
	switch {
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_incident", err.Error())
		return
	case errors.Is(err, ErrUnknownAlert):
		writeError(w, http.StatusBadRequest, "unknown_alert", "referenced alert does not exist")
		return
	case err != nil:
		h.logger.Error("create medical emergency", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to record medical emergency")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// HandleListSafety handles GET /api/safety-incidents?status=.
func (h *Handlers) HandleListSafety(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListSafety(r.URL.Query().Get("status"))
	if errors.Is(err, ErrValidation) {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("list safety incidents", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch safety incidents")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleCreateSafety handles POST /api/safety-incidents.
func (h *Handlers) HandleCreateSafety(w http.ResponseWriter, r *http.Request) {
	var si SafetyIncident
	if err := json.NewDecoder(r.Body).Decode(&si); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	created, err := h.store.CreateSafety(si)
	switch {
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_incident", err.Error())
		return
	case errors.Is(err, ErrUnknownAlert):
		writeError(w, http.StatusBadRequest, "unknown_alert", "referenced alert does not exist")
		return
	case err != nil:
		h.logger.Error("create safety incident", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to record safety incident")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
