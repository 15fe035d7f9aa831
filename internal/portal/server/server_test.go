package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/railops/railportal/internal/portal/auth"
	"github.com/railops/railportal/internal/portal/config"
	portalws "github.com/railops/railportal/internal/portal/websocket"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.AuthEnabled = true

	s, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.hub.Run(ctx)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

// login walks the OTP flow and returns the session cookie.
func login(t *testing.T, ts *httptest.Server, aadhaar string) *http.Cookie {
	t.Helper()

	body := fmt.Sprintf(`{"aadhaarNumber":%q}`, aadhaar)
	resp, err := http.Post(ts.URL+"/api/auth/request-otp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request-otp: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request-otp status = %d", resp.StatusCode)
	}
	var issued struct {
		MockOTP string `json:"mockOtp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&issued); err != nil {
		t.Fatalf("decode request-otp response: %v", err)
	}
	if issued.MockOTP == "" {
		t.Fatal("no mock OTP in response")
	}

	body = fmt.Sprintf(`{"aadhaarNumber":%q,"otp":%q}`, aadhaar, issued.MockOTP)
	resp, err = http.Post(ts.URL+"/api/auth/verify-otp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("verify-otp: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-otp status = %d", resp.StatusCode)
	}

	for _, c := range resp.Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func doJSON(t *testing.T, method, url string, cookie *http.Cookie, payload string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader([]byte(payload)))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func dialWS(t *testing.T, ts *httptest.Server, cookie *http.Cookie) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	if cookie != nil {
		header.Set("Cookie", cookie.Name+"="+cookie.Value)
	}
	conn, _, err := gws.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *gws.Conn) portalws.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env portalws.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/alerts")
	if err != nil {
		t.Fatalf("GET /api/alerts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("401 body has no error field")
	}
}

func TestHealthAndVersionOpen(t *testing.T) {
	_, ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/version", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestOTPLoginAndCurrentUser(t *testing.T) {
	_, ts := newTestServer(t)
	cookie := login(t, ts, "123456789012")

	resp := doJSON(t, "GET", ts.URL+"/api/auth/user", cookie, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/auth/user status = %d", resp.StatusCode)
	}
	var user struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.ID == "" {
		t.Fatal("user has no id")
	}
	if user.Role != "passenger" {
		t.Fatalf("role = %q, want passenger on first login", user.Role)
	}
}

func TestWrongOTPRejected(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/auth/request-otp", "application/json",
		strings.NewReader(`{"aadhaarNumber":"123456789012"}`))
	if err != nil {
		t.Fatalf("request-otp: %v", err)
	}
	resp.Body.Close()

	// Five digits can never match an issued six-digit code.
	resp = doJSON(t, "POST", ts.URL+"/api/auth/verify-otp", nil,
		`{"aadhaarNumber":"123456789012","otp":"12345"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("verify-otp status = %d, want 400", resp.StatusCode)
	}
}

func TestAlertBroadcastToAllClients(t *testing.T) {
	_, ts := newTestServer(t)
	cookie := login(t, ts, "123456789012")

	first := dialWS(t, ts, cookie)
	second := dialWS(t, ts, cookie)

	if env := readEnvelope(t, first); env.Type != portalws.MsgConnected {
		t.Fatalf("first greeting type = %q", env.Type)
	}
	if env := readEnvelope(t, second); env.Type != portalws.MsgConnected {
		t.Fatalf("second greeting type = %q", env.Type)
	}

	// Only the second client subscribes to a station; broadcasts must still
	// reach both.
	if err := second.WriteJSON(map[string]any{"type": "subscribe_station", "stationId": 7}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if env := readEnvelope(t, second); env.Type != portalws.MsgSubscriptionConfirmed {
		t.Fatalf("subscription ack type = %q", env.Type)
	}

	resp := doJSON(t, "POST", ts.URL+"/api/alerts", cookie,
		`{"type":"safety","module":"safeher","title":"Track obstruction","description":"Debris on platform 2 approach","severity":"high","stationId":7}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/alerts status = %d", resp.StatusCode)
	}

	for name, conn := range map[string]*gws.Conn{"first": first, "second": second} {
		env := readEnvelope(t, conn)
		if env.Type != portalws.MsgNewAlert {
			t.Fatalf("%s client got type %q, want %q", name, env.Type, portalws.MsgNewAlert)
		}
		if env.StationID != 7 {
			t.Fatalf("%s client stationId = %d, want 7", name, env.StationID)
		}
	}
}

func TestWebsocketRequiresSession(t *testing.T) {
	_, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := gws.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatal("dial without session cookie succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %+v, want 401", resp)
	}
}

func TestUpdateMissingAlert(t *testing.T) {
	_, ts := newTestServer(t)
	cookie := login(t, ts, "123456789012")

	conn := dialWS(t, ts, cookie)
	if env := readEnvelope(t, conn); env.Type != portalws.MsgConnected {
		t.Fatalf("greeting type = %q", env.Type)
	}

	resp := doJSON(t, "PATCH", ts.URL+"/api/alerts/99999", cookie, `{"status":"resolved"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("PATCH missing alert status = %d, want 404", resp.StatusCode)
	}

	// The failed update must not have produced an envelope: the next message
	// on the feed is the creation below, not an alert_updated.
	resp = doJSON(t, "POST", ts.URL+"/api/alerts", cookie,
		`{"type":"security","module":"patrol","title":"Unattended baggage","severity":"medium"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/alerts status = %d", resp.StatusCode)
	}
	if env := readEnvelope(t, conn); env.Type != portalws.MsgNewAlert {
		t.Fatalf("next envelope type = %q, want %q", env.Type, portalws.MsgNewAlert)
	}
}

func TestDashboardStats(t *testing.T) {
	_, ts := newTestServer(t)
	cookie := login(t, ts, "123456789012")

	resp := doJSON(t, "POST", ts.URL+"/api/alerts", cookie,
		`{"type":"crowd","module":"crowdflow","title":"Crowd surge","description":"Platform 1 overcrowded","severity":"critical","stationId":3}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("seed alert status = %d", resp.StatusCode)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/dashboard/stats", cookie, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/dashboard/stats status = %d", resp.StatusCode)
	}
	var stats struct {
		ActiveAlerts        int `json:"activeAlerts"`
		ResolvedAlertsToday int `json:"resolvedAlertsToday"`
		TotalTrains         int `json:"totalTrains"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.ActiveAlerts != 1 {
		t.Fatalf("activeAlerts = %d, want 1", stats.ActiveAlerts)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	_, ts := newTestServer(t)
	cookie := login(t, ts, "123456789012")

	resp := doJSON(t, "POST", ts.URL+"/api/auth/logout", cookie, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/auth/user", cookie, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("GET /api/auth/user after logout = %d, want 401", resp.StatusCode)
	}
}

func TestRailProxyUnconfigured(t *testing.T) {
	_, ts := newTestServer(t)
	cookie := login(t, ts, "123456789012")

	resp := doJSON(t, "GET", ts.URL+"/api/trains/12951/status", cookie, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("proxy without API key status = %d, want 503", resp.StatusCode)
	}
}
