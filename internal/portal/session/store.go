// Package session manages login sessions and pending OTP challenges.
package session

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrOTPNotFound     = errors.New("no pending otp for that identity")
	ErrOTPExpired      = errors.New("otp expired")
	ErrOTPMismatch     = errors.New("otp does not match")
)

// OTPLifetime is how long an issued OTP stays valid.
const OTPLifetime = 5 * time.Minute

// Session is an authenticated login session.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store persists sessions and pending OTPs in SQLite.
type Store struct {
	db       *sql.DB
	lifetime time.Duration
}

// NewStore opens (or creates) the session store. lifetime governs how long
// sessions stay valid after creation.
func NewStore(dbPath string, lifetime time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sessions db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		token      TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS pending_otps (
		aadhaar_number TEXT PRIMARY KEY,
		otp_hash       TEXT NOT NULL,
		created_at     TEXT NOT NULL,
		expires_at     TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create pending_otps table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`)

	return &Store{db: db, lifetime: lifetime}, nil
}

// Create issues a new session for a user and returns its token.
func (s *Store) Create(userID string) (*Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	now := time.Now().UTC()
	sess := &Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.lifetime),
	}

	_, err = s.db.Exec(`INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.Token, sess.UserID,
		sess.CreatedAt.Format(time.RFC3339Nano),
		sess.ExpiresAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return sess, nil
}

// Validate looks up a session by token. Expired sessions are deleted on sight.
func (s *Store) Validate(token string) (*Session, error) {
	var (
		sess                 Session
		createdAt, expiresAt string
	)

	err := s.db.QueryRow(`SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ?`, token).
		Scan(&sess.Token, &sess.UserID, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sess.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)

	if time.Now().After(sess.ExpiresAt) {
		_, _ = s.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
		return nil, ErrSessionExpired
	}

	return &sess, nil
}

// Delete removes a session by token. Deleting an unknown token is not an error.
func (s *Store) Delete(token string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByUser removes all sessions belonging to a user.
func (s *Store) DeleteByUser(userID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// Cleanup removes expired sessions and stale OTPs. Returns rows removed.
func (s *Store) Cleanup() (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	n, _ := res.RowsAffected()

	res, err = s.db.Exec(`DELETE FROM pending_otps WHERE expires_at < ?`, now)
	if err != nil {
		return n, fmt.Errorf("cleanup otps: %w", err)
	}
	m, _ := res.RowsAffected()

	return n + m, nil
}

// IssueOTP generates a 6-digit OTP for an Aadhaar number, stores its bcrypt
// hash with a short expiry, and returns the cleartext code for delivery.
// Re-issuing replaces any previous pending OTP for the same identity.
func (s *Store) IssueOTP(aadhaar string) (string, error) {
	otp, err := generateOTP()
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(otp), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`INSERT INTO pending_otps (aadhaar_number, otp_hash, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(aadhaar_number) DO UPDATE SET
			otp_hash = excluded.otp_hash,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		aadhaar, string(hash),
		now.Format(time.RFC3339Nano),
		now.Add(OTPLifetime).Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}

	return otp, nil
}

// VerifyOTP checks a submitted OTP against the pending challenge for an
// Aadhaar number. The challenge is consumed on success.
func (s *Store) VerifyOTP(aadhaar, otp string) error {
	var (
		hash      string
		expiresAt string
	)

	err := s.db.QueryRow(`SELECT otp_hash, expires_at FROM pending_otps WHERE aadhaar_number = ?`, aadhaar).
		Scan(&hash, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOTPNotFound
	}
	if err != nil {
		return fmt.Errorf("query otp: %w", err)
	}

	exp, _ := time.Parse(time.RFC3339Nano, expiresAt)
	if time.Now().After(exp) {
		_, _ = s.db.Exec(`DELETE FROM pending_otps WHERE aadhaar_number = ?`, aadhaar)
		return ErrOTPExpired
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(otp)) != nil {
		return ErrOTPMismatch
	}

	_, _ = s.db.Exec(`DELETE FROM pending_otps WHERE aadhaar_number = ?`, aadhaar)
	return nil
}

// Count returns the number of stored sessions, expired included.
func (s *Store) Count() int {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return 0
	}
	return count
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	return s.db.Close()
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
