package crowdflow

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// Handlers serves the crowdflow endpoints.
type Handlers struct {
	store  *Store
	logger *zap.Logger
}

// NewHandlers builds the crowdflow handlers.
func NewHandlers(store *Store, logger *zap.Logger) *Handlers {
	return &Handlers{store: store, logger: logger.Named("crowdflow")}
}

// HandleStationReadings handles GET /api/crowdflow/{stationId}. With
// ?hours=N set it returns history for that window, otherwise the latest ten
// readings.
func (h *Handlers) HandleStationReadings(w http.ResponseWriter, r *http.Request) {
	stationID, err := strconv.ParseInt(r.PathValue("stationId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "stationId must be an integer")
		return
	}

	var (
		readings []Reading
		qerr     error
	)
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "hours must be a positive integer")
			return
		}
		readings, qerr = h.store.History(stationID, hours)
	} else {
		readings, qerr = h.store.LatestForStation(stationID)
	}
	if qerr != nil {
		h.logger.Error("fetch readings", zap.Int64("station_id", stationID), zap.Error(qerr))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch crowd data")
		return
	}

	writeJSON(w, http.StatusOK, readings)
}

// HandleInsert handles POST /api/crowdflow.
func (h *Handlers) HandleInsert(w http.ResponseWriter, r *http.Request) {
	var reading Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	created, err := h.store.Insert(reading)
	if errors.Is(err, ErrValidation) {
		writeError(w, http.StatusBadRequest, "invalid_reading", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("insert reading", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to record crowd data")
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
