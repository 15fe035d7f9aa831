package alerts

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/railops/railportal/internal/portal/auth"
	"github.com/railops/railportal/internal/portal/metrics"
)

// Handlers serves the alert REST surface.
type Handlers struct {
	store  *Store
	logger *zap.Logger
}

// NewHandlers wires alert HTTP handlers to a store.
func NewHandlers(store *Store, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{store: store, logger: logger}
}

// HandleList serves GET /api/alerts.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	var stationID *int64
	if raw := strings.TrimSpace(r.URL.Query().Get("stationId")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "stationId must be an integer")
			return
		}
		stationID = &parsed
	}

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && !validStatus(status) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unsupported status: "+status)
		return
	}

	list, err := h.store.List(stationID, status)
	if err != nil {
		h.logger.Error("list alerts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch alerts")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleCreate serves POST /api/alerts.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	// The authenticated actor is the reporter, regardless of the body.
	if user := auth.UserFromContext(r.Context()); user != nil {
		in.ReportedBy = user.ID
	}

	created, err := h.store.Create(in)
	if err != nil {
		if IsValidation(err) {
			writeError(w, http.StatusBadRequest, "invalid_alert", err.Error())
			return
		}
		h.logger.Error("create alert failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create alert")
		return
	}

	metrics.RecordAlertCreated(created.Severity)
	writeJSON(w, http.StatusCreated, created)
}

// HandleUpdate serves PATCH /api/alerts/{id}.
func (h *Handlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("id")), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "alert id must be an integer")
		return
	}

	var req struct {
		Status     string `json:"status"`
		AssignedTo string `json:"assignedTo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	updated, err := h.store.UpdateStatus(id, req.Status, req.AssignedTo)
	if err != nil {
		switch {
		case IsValidation(err):
			writeError(w, http.StatusBadRequest, "invalid_alert", err.Error())
		case IsNotFound(err):
			writeError(w, http.StatusNotFound, "not_found", "alert not found")
		default:
			h.logger.Error("update alert failed", zap.Int64("id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to update alert")
		}
		return
	}

	metrics.RecordAlertStatusChange(updated.Status)
	writeJSON(w, http.StatusOK, updated)
}

// HandleAssigned serves GET /api/alerts/assigned — active alerts for the
// calling user.
func (h *Handlers) HandleAssigned(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	list, err := h.store.ActiveForAssignee(user.ID)
	if err != nil {
		h.logger.Error("list assigned alerts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch alerts")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
