package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type fakeValidator struct {
	sessions map[string]*SessionInfo
}

func (f *fakeValidator) ValidateSession(token string) (*SessionInfo, error) {
	if info, ok := f.sessions[token]; ok {
		return info, nil
	}
	return nil, errors.New("no such session")
}

func newTestMiddleware(t *testing.T, enabled bool, skip []string) *Middleware {
	t.Helper()
	v := &fakeValidator{sessions: map[string]*SessionInfo{
		"good-token": {Token: "good-token", UserID: "u1", Name: "Asha Verma", Role: "staff"},
	}}
	return NewMiddleware(v, zap.NewNop(), enabled, skip)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := UserFromContext(r.Context()); user != nil {
			w.Header().Set("X-User", user.ID)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareRejectsWithoutCookie(t *testing.T) {
	m := newTestMiddleware(t, true, nil)
	rec := httptest.NewRecorder()

	m.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/api/alerts", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
}

func TestMiddlewareAcceptsValidSession(t *testing.T) {
	m := newTestMiddleware(t, true, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/alerts", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "good-token"})

	m.Wrap(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-User"); got != "u1" {
		t.Errorf("user id = %q, want u1", got)
	}
}

func TestMiddlewareRejectsUnknownToken(t *testing.T) {
	m := newTestMiddleware(t, true, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/alerts", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "bogus"})

	m.Wrap(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareSkipPaths(t *testing.T) {
	m := newTestMiddleware(t, true, []string{"/api/auth/request-otp", "/static/"})

	for _, path := range []string{"/api/auth/request-otp", "/static/app.js"} {
		rec := httptest.NewRecorder()
		m.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	m.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/api/alerts", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("/api/alerts: status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	m := newTestMiddleware(t, false, nil)
	rec := httptest.NewRecorder()

	m.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/api/alerts", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
