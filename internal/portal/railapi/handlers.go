package railapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// Handlers proxies rail API lookups through the portal so the browser never
// sees the upstream key.
type Handlers struct {
	client *Client
	logger *zap.Logger
}

// NewHandlers builds the proxy handlers.
func NewHandlers(client *Client, logger *zap.Logger) *Handlers {
	return &Handlers{client: client, logger: logger.Named("railapi")}
}

// HandleTrainStatus handles GET /api/trains/{number}/status?date=.
func (h *Handlers) HandleTrainStatus(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	status, err := h.client.GetTrainStatus(r.Context(), number, r.URL.Query().Get("date"))
	if err != nil {
		h.upstreamError(w, "train status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleTrainRoute handles GET /api/trains/{number}/route.
func (h *Handlers) HandleTrainRoute(w http.ResponseWriter, r *http.Request) {
	route, err := h.client.GetTrainRoute(r.Context(), r.PathValue("number"))
	if err != nil {
		h.upstreamError(w, "train route", err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// HandleStationInfo handles GET /api/rail-stations/{code}.
func (h *Handlers) HandleStationInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.client.GetStationInfo(r.Context(), r.PathValue("code"))
	if err != nil {
		h.upstreamError(w, "station info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleTrainsAtStation handles GET /api/rail-stations/{code}/trains?hours=.
func (h *Handlers) HandleTrainsAtStation(w http.ResponseWriter, r *http.Request) {
	hours := 0
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "hours must be a positive integer")
			return
		}
		hours = parsed
	}

	info, err := h.client.GetTrainsAtStation(r.Context(), r.PathValue("code"), hours)
	if err != nil {
		h.upstreamError(w, "trains at station", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandlePNRStatus handles GET /api/pnr/{pnr}.
func (h *Handlers) HandlePNRStatus(w http.ResponseWriter, r *http.Request) {
	pnr := r.PathValue("pnr")
	if len(pnr) != 10 {
		writeError(w, http.StatusBadRequest, "invalid_request", "pnr must be 10 digits")
		return
	}

	status, err := h.client.GetPNRStatus(r.Context(), pnr)
	if err != nil {
		h.upstreamError(w, "pnr status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleSearchTrains handles GET /api/trains/search?from=&to=&date=.
func (h *Handlers) HandleSearchTrains(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "from and to station codes are required")
		return
	}

	trains, err := h.client.SearchTrains(r.Context(), from, to, r.URL.Query().Get("date"))
	if err != nil {
		h.upstreamError(w, "search trains", err)
		return
	}
	writeJSON(w, http.StatusOK, trains)
}

func (h *Handlers) upstreamError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "rail api is not configured")
		return
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		h.logger.Warn("upstream error", zap.String("op", op), zap.Int("status", apiErr.StatusCode))
		writeError(w, http.StatusBadGateway, "upstream_error", "rail api request failed")
		return
	}

	h.logger.Error("rail api call failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusBadGateway, "upstream_error", "rail api request failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
