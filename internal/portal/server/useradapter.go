package server

import (
	"time"

	"github.com/railops/railportal/internal/portal/auth"
	"github.com/railops/railportal/internal/portal/session"
	"github.com/railops/railportal/internal/portal/users"
)

// sessionAdapter joins the session and user stores behind the auth package's
// interfaces.
type sessionAdapter struct {
	sessions *session.Store
	users    *users.Store
}

func (a *sessionAdapter) ValidateSession(token string) (*auth.SessionInfo, error) {
	sess, err := a.sessions.Validate(token)
	if err != nil {
		return nil, err
	}

	user, err := a.users.Get(sess.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, users.ErrUserDisabled
	}

	return &auth.SessionInfo{
		Token:         sess.Token,
		UserID:        user.ID,
		Name:          user.Name(),
		Role:          user.Role,
		AadhaarNumber: user.AadhaarNumber,
		StationCode:   user.StationCode,
	}, nil
}

func (a *sessionAdapter) CreateSession(userID string) (string, time.Time, error) {
	sess, err := a.sessions.Create(userID)
	if err != nil {
		return "", time.Time{}, err
	}
	return sess.Token, sess.ExpiresAt, nil
}

func (a *sessionAdapter) DeleteSession(token string) error {
	return a.sessions.Delete(token)
}

func (a *sessionAdapter) FindOrCreateByAadhaar(aadhaar string) (*auth.AuthenticatedUser, error) {
	user, err := a.users.FindOrCreateByAadhaar(aadhaar)
	if err != nil {
		return nil, err
	}
	return &auth.AuthenticatedUser{
		ID:            user.ID,
		Name:          user.Name(),
		Role:          user.Role,
		AadhaarNumber: user.AadhaarNumber,
		StationCode:   user.StationCode,
	}, nil
}
