package stations

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// Handlers serves the station and train reference endpoints.
type Handlers struct {
	store  *Store
	logger *zap.Logger
}

// NewHandlers builds the reference-data handlers.
func NewHandlers(store *Store, logger *zap.Logger) *Handlers {
	return &Handlers{store: store, logger: logger.Named("stations")}
}

// HandleListStations handles GET /api/stations.
func (h *Handlers) HandleListStations(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListStations()
	if err != nil {
		h.logger.Error("list stations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch stations")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGetStation handles GET /api/stations/{id}.
func (h *Handlers) HandleGetStation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "station id must be an integer")
		return
	}

	st, err := h.store.GetStation(id)
	if errors.Is(err, ErrStationNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "station not found")
		return
	}
	if err != nil {
		h.logger.Error("get station", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch station")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleListTrains handles GET /api/trains.
func (h *Handlers) HandleListTrains(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListTrains()
	if err != nil {
		h.logger.Error("list trains", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch trains")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
