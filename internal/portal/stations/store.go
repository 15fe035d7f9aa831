// Package stations holds the station and train reference data the portal
// serves and joins against.
package stations

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrStationNotFound = errors.New("station not found")
	ErrTrainNotFound   = errors.New("train not found")
	ErrCodeInUse       = errors.New("station code already in use")
)

// Station is a railway station served by the portal.
type Station struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Code          string    `json:"code"`
	City          string    `json:"city,omitempty"`
	State         string    `json:"state,omitempty"`
	Latitude      float64   `json:"latitude,omitempty"`
	Longitude     float64   `json:"longitude,omitempty"`
	PlatformCount int       `json:"platformCount"`
	Active        bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Train is a train in the reference table.
type Train struct {
	ID            int64     `json:"id"`
	Number        string    `json:"number"`
	Name          string    `json:"name"`
	Type          string    `json:"type,omitempty"`
	SourceStation string    `json:"sourceStation,omitempty"`
	DestStation   string    `json:"destStation,omitempty"`
	Active        bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store persists stations and trains in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the reference store.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open stations db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS stations (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		name           TEXT NOT NULL,
		code           TEXT NOT NULL UNIQUE,
		city           TEXT NOT NULL DEFAULT '',
		state          TEXT NOT NULL DEFAULT '',
		latitude       REAL NOT NULL DEFAULT 0,
		longitude      REAL NOT NULL DEFAULT 0,
		platform_count INTEGER NOT NULL DEFAULT 0,
		active         INTEGER NOT NULL DEFAULT 1,
		created_at     TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create stations table: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS trains (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		number         TEXT NOT NULL UNIQUE,
		name           TEXT NOT NULL,
		type           TEXT NOT NULL DEFAULT '',
		source_station TEXT NOT NULL DEFAULT '',
		dest_station   TEXT NOT NULL DEFAULT '',
		active         INTEGER NOT NULL DEFAULT 1,
		created_at     TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create trains table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateStation inserts a station. Codes are stored uppercase.
func (s *Store) CreateStation(st Station) (*Station, error) {
	if strings.TrimSpace(st.Name) == "" || strings.TrimSpace(st.Code) == "" {
		return nil, errors.New("station name and code are required")
	}
	st.Code = strings.ToUpper(strings.TrimSpace(st.Code))
	st.Active = true
	st.CreatedAt = time.Now().UTC()

	res, err := s.db.Exec(`INSERT INTO stations
		(name, code, city, state, latitude, longitude, platform_count, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		st.Name, st.Code, st.City, st.State, st.Latitude, st.Longitude,
		st.PlatformCount, st.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrCodeInUse
		}
		return nil, fmt.Errorf("insert station: %w", err)
	}

	st.ID, _ = res.LastInsertId()
	return &st, nil
}

// ListStations returns all active stations ordered by name.
func (s *Store) ListStations() ([]Station, error) {
	rows, err := s.db.Query(`SELECT ` + stationColumns + ` FROM stations WHERE active = 1 ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()

	out := make([]Station, 0)
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// GetStation fetches a station by ID.
func (s *Store) GetStation(id int64) (*Station, error) {
	return scanStation(s.db.QueryRow(`SELECT `+stationColumns+` FROM stations WHERE id = ?`, id))
}

// GetStationByCode fetches a station by its code (case-insensitive).
func (s *Store) GetStationByCode(code string) (*Station, error) {
	return scanStation(s.db.QueryRow(`SELECT `+stationColumns+` FROM stations WHERE code = ?`,
		strings.ToUpper(strings.TrimSpace(code))))
}

// CreateTrain inserts a train.
func (s *Store) CreateTrain(tr Train) (*Train, error) {
	if strings.TrimSpace(tr.Number) == "" || strings.TrimSpace(tr.Name) == "" {
		return nil, errors.New("train number and name are required")
	}
	tr.Active = true
	tr.CreatedAt = time.Now().UTC()

	res, err := s.db.Exec(`INSERT INTO trains
		(number, name, type, source_station, dest_station, active, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)`,
		tr.Number, tr.Name, tr.Type, tr.SourceStation, tr.DestStation,
		tr.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert train: %w", err)
	}

	tr.ID, _ = res.LastInsertId()
	return &tr, nil
}

// ListTrains returns all active trains ordered by number.
func (s *Store) ListTrains() ([]Train, error) {
	rows, err := s.db.Query(`SELECT ` + trainColumns + ` FROM trains WHERE active = 1 ORDER BY number ASC`)
	if err != nil {
		return nil, fmt.Errorf("list trains: %w", err)
	}
	defer rows.Close()

	out := make([]Train, 0)
	for rows.Next() {
		tr, err := scanTrain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}

// GetTrainByNumber fetches a train by its running number.
func (s *Store) GetTrainByNumber(number string) (*Train, error) {
	return scanTrain(s.db.QueryRow(`SELECT `+trainColumns+` FROM trains WHERE number = ?`,
		strings.TrimSpace(number)))
}

// CountTrains returns the number of active trains.
func (s *Store) CountTrains() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM trains WHERE active = 1`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// CountStations returns the number of active stations.
func (s *Store) CountStations() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM stations WHERE active = 1`).Scan(&n); err != nil {
		return 0
	}
	return n
}

const stationColumns = `id, name, code, city, state, latitude, longitude, platform_count, active, created_at`
const trainColumns = `id, number, name, type, source_station, dest_station, active, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanStation(sc scanner) (*Station, error) {
	var (
		st        Station
		active    int
		createdAt string
	)
	if err := sc.Scan(&st.ID, &st.Name, &st.Code, &st.City, &st.State,
		&st.Latitude, &st.Longitude, &st.PlatformCount, &active, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStationNotFound
		}
		return nil, fmt.Errorf("scan station: %w", err)
	}
	st.Active = active == 1
	st.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &st, nil
}

func scanTrain(sc scanner) (*Train, error) {
	var (
		tr        Train
		active    int
		createdAt string
	)
	if err := sc.Scan(&tr.ID, &tr.Number, &tr.Name, &tr.Type,
		&tr.SourceStation, &tr.DestStation, &active, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTrainNotFound
		}
		return nil, fmt.Errorf("scan train: %w", err)
	}
	tr.Active = active == 1
	tr.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &tr, nil
}
