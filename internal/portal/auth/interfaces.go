// Package auth provides the session gate and OTP login flow for the portal API.
package auth

import "time"

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "railportal_session"

// SessionInfo describes a validated session joined with its user record.
type SessionInfo struct {
	Token         string
	UserID        string
	Name          string
	Role          string
	AadhaarNumber string
	StationCode   string
}

// SessionValidator validates a session token and resolves its user.
type SessionValidator interface {
	ValidateSession(token string) (*SessionInfo, error)
}

// SessionCreator creates sessions after a successful login.
type SessionCreator interface {
	CreateSession(userID string) (token string, expiresAt time.Time, err error)
}

// SessionDeleter invalidates sessions on logout.
type SessionDeleter interface {
	DeleteSession(token string) error
}

// AuthenticatedUser is the request identity stored in the context by the
// middleware and returned by /api/auth/user.
type AuthenticatedUser struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	AadhaarNumber string `json:"aadhaarNumber,omitempty"`
	StationCode   string `json:"stationCode,omitempty"`
}
