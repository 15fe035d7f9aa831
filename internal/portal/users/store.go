// Package users persists portal user accounts keyed by Aadhaar identity.
package users

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidRole    = errors.New("invalid role")
	ErrUserDisabled   = errors.New("user disabled")
	ErrAadhaarInUse   = errors.New("aadhaar number already registered")
	ErrInvalidAadhaar = errors.New("aadhaar number must be 12 digits")
)

// User is a portal user account.
type User struct {
	ID              string    `json:"id"`
	AadhaarNumber   string    `json:"aadhaarNumber,omitempty"`
	Email           string    `json:"email,omitempty"`
	FirstName       string    `json:"firstName,omitempty"`
	LastName        string    `json:"lastName,omitempty"`
	ProfileImageURL string    `json:"profileImageUrl,omitempty"`
	Role            string    `json:"role"` // passenger, volunteer, staff, admin
	PhoneNumber     string    `json:"phoneNumber,omitempty"`
	StationCode     string    `json:"stationCode,omitempty"`
	Active          bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Name returns the user's display name.
func (u *User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Store manages users persisted in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite-backed user store and migrates schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open users db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS users (
		id                TEXT PRIMARY KEY,
		aadhaar_number    TEXT UNIQUE,
		email             TEXT,
		first_name        TEXT NOT NULL DEFAULT '',
		last_name         TEXT NOT NULL DEFAULT '',
		profile_image_url TEXT NOT NULL DEFAULT '',
		role              TEXT NOT NULL CHECK (role IN ('passenger', 'volunteer', 'staff', 'admin')),
		phone_number      TEXT NOT NULL DEFAULT '',
		station_code      TEXT NOT NULL DEFAULT '',
		active            INTEGER NOT NULL DEFAULT 1,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create users table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_users_aadhaar ON users(aadhaar_number)`)

	return &Store{db: db}, nil
}

// Create inserts a new user with a generated ID.
func (s *Store) Create(u User) (*User, error) {
	if !validRole(u.Role) {
		return nil, ErrInvalidRole
	}
	if u.AadhaarNumber != "" && !ValidAadhaar(u.AadhaarNumber) {
		return nil, ErrInvalidAadhaar
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	u.Active = true
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.Exec(`INSERT INTO users
		(id, aadhaar_number, email, first_name, last_name, profile_image_url, role,
		 phone_number, station_code, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		u.ID,
		nullableString(u.AadhaarNumber),
		nullableString(u.Email),
		u.FirstName,
		u.LastName,
		u.ProfileImageURL,
		u.Role,
		u.PhoneNumber,
		u.StationCode,
		u.CreatedAt.Format(time.RFC3339Nano),
		u.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.aadhaar_number") {
			return nil, ErrAadhaarInUse
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	copyUser := u
	return &copyUser, nil
}

// FindOrCreateByAadhaar returns the user registered for an Aadhaar number,
// creating a passenger account on first login.
func (s *Store) FindOrCreateByAadhaar(aadhaar string) (*User, error) {
	if !ValidAadhaar(aadhaar) {
		return nil, ErrInvalidAadhaar
	}

	u, err := s.GetByAadhaar(aadhaar)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	return s.Create(User{
		AadhaarNumber: aadhaar,
		FirstName:     "Railway",
		LastName:      "User",
		Role:          "passenger",
	})
}

// Get fetches a user by ID.
func (s *Store) Get(id string) (*User, error) {
	return s.queryOne(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetByAadhaar fetches a user by Aadhaar number.
func (s *Store) GetByAadhaar(aadhaar string) (*User, error) {
	return s.queryOne(`SELECT `+userColumns+` FROM users WHERE aadhaar_number = ?`, aadhaar)
}

// List returns all users.
func (s *Store) List() ([]User, error) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users rows: %w", err)
	}

	return out, nil
}

// UpdateRole updates a user's role.
func (s *Store) UpdateRole(id, role string) error {
	if !validRole(role) {
		return ErrInvalidRole
	}

	res, err := s.db.Exec(`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		role, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}

	return checkRowsAffected(res, ErrUserNotFound)
}

// SetStationCode assigns a staff/volunteer user to a station.
func (s *Store) SetStationCode(id, stationCode string) error {
	res, err := s.db.Exec(`UPDATE users SET station_code = ?, updated_at = ? WHERE id = ?`,
		stationCode, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("set station code: %w", err)
	}

	return checkRowsAffected(res, ErrUserNotFound)
}

// SetActive enables/disables a user account.
func (s *Store) SetActive(id string, active bool) error {
	activeInt := 0
	if active {
		activeInt = 1
	}

	res, err := s.db.Exec(`UPDATE users SET active = ?, updated_at = ? WHERE id = ?`,
		activeInt, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}

	return checkRowsAffected(res, ErrUserNotFound)
}

// Count returns total number of users.
func (s *Store) Count() int {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0
	}
	return count
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// ValidAadhaar reports whether the value looks like a 12-digit Aadhaar number.
func ValidAadhaar(v string) bool {
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

const userColumns = `id, aadhaar_number, email, first_name, last_name,
	profile_image_url, role, phone_number, station_code, active, created_at, updated_at`

func (s *Store) queryOne(query string, args ...any) (*User, error) {
	row := s.db.QueryRow(query, args...)
	return scanUser(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (*User, error) {
	var (
		u                    User
		aadhaar, email       sql.NullString
		active               int
		createdAt, updatedAt string
	)

	if err := sc.Scan(&u.ID, &aadhaar, &email, &u.FirstName, &u.LastName,
		&u.ProfileImageURL, &u.Role, &u.PhoneNumber, &u.StationCode, &active,
		&createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.AadhaarNumber = aadhaar.String
	u.Email = email.String
	u.Active = active == 1
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return &u, nil
}

func nullableString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func checkRowsAffected(res sql.Result, errWhenZero error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errWhenZero
	}
	return nil
}

func validRole(role string) bool {
	switch role {
	case "passenger", "volunteer", "staff", "admin":
		return true
	default:
		return false
	}
}
