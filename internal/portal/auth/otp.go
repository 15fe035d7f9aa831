package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/railops/railportal/internal/portal/metrics"
)

// OTPIssuer issues and verifies one-time passwords for an Aadhaar identity.
type OTPIssuer interface {
	IssueOTP(aadhaar string) (string, error)
	VerifyOTP(aadhaar, otp string) error
}

// UserResolver resolves the portal user for a verified Aadhaar number,
// registering a passenger account on first login.
type UserResolver interface {
	FindOrCreateByAadhaar(aadhaar string) (*AuthenticatedUser, error)
}

// Handlers serves the OTP login endpoints.
type Handlers struct {
	otps     OTPIssuer
	users    UserResolver
	sessions SessionCreator
	deleter  SessionDeleter
	logger   *zap.Logger

	// mockDelivery returns the OTP in the response body instead of sending
	// SMS. Stays on until a real delivery channel is wired.
	mockDelivery bool
}

// NewHandlers builds the login handlers.
func NewHandlers(otps OTPIssuer, users UserResolver, sessions SessionCreator, deleter SessionDeleter, logger *zap.Logger) *Handlers {
	return &Handlers{
		otps:         otps,
		users:        users,
		sessions:     sessions,
		deleter:      deleter,
		logger:       logger.Named("auth"),
		mockDelivery: true,
	}
}

// HandleRequestOTP handles POST /api/auth/request-otp.
func (h *Handlers) HandleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AadhaarNumber string `json:"aadhaarNumber"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if !validAadhaar(req.AadhaarNumber) {
		writeError(w, http.StatusBadRequest, "invalid_aadhaar", "aadhaar number must be 12 digits")
		return
	}

	otp, err := h.otps.IssueOTP(req.AadhaarNumber)
	if err != nil {
		h.logger.Error("issue otp", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not issue OTP")
		return
	}

	resp := map[string]any{
		"success": true,
		"message": "OTP sent to registered mobile number",
	}
	if h.mockDelivery {
		resp["mockOtp"] = otp
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleVerifyOTP handles POST /api/auth/verify-otp. A correct OTP logs the
// user in, registering a passenger account on first use of an Aadhaar number.
func (h *Handlers) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AadhaarNumber string `json:"aadhaarNumber"`
		OTP           string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.otps.VerifyOTP(req.AadhaarNumber, req.OTP); err != nil {
		h.logger.Info("otp verification failed",
			zap.String("aadhaar", maskAadhaar(req.AadhaarNumber)),
			zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_otp", "invalid or expired OTP")
		return
	}

	user, err := h.users.FindOrCreateByAadhaar(req.AadhaarNumber)
	if err != nil {
		h.logger.Error("resolve user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not resolve user")
		return
	}

	token, expiresAt, err := h.sessions.CreateSession(user.ID)
	if err != nil {
		h.logger.Error("create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	metrics.LoginsTotal.Inc()
	h.logger.Info("user logged in", zap.String("user_id", user.ID), zap.String("role", user.Role))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user,
	})
}

// HandleCurrentUser handles GET /api/auth/user.
func (h *Handlers) HandleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleLogout handles POST /api/auth/logout. Logging out with no session is
// still a success.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.deleter.DeleteSession(cookie.Value); err != nil {
			h.logger.Warn("delete session", zap.Error(err))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func validAadhaar(v string) bool {
	if len(v) != 12 {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func maskAadhaar(v string) string {
	if len(v) < 4 {
		return "****"
	}
	return "********" + v[len(v)-4:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
