// Package crowdflow records platform crowd-density readings and serves the
// recent history per station.
package crowdflow

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/railops/railportal/internal/portal/events"
)

// ErrValidation marks a rejected reading.
var ErrValidation = errors.New("invalid crowd reading")

// Crowd density levels, lowest to highest.
const (
	DensityLow      = "low"
	DensityMedium   = "medium"
	DensityHigh     = "high"
	DensityCritical = "critical"
)

// latestWindow is how many recent readings a station query returns.
const latestWindow = 10

// Reading is one crowd-density observation for a station platform.
type Reading struct {
	ID             int64     `json:"id"`
	StationID      int64     `json:"stationId"`
	PlatformNumber string    `json:"platformNumber,omitempty"`
	CrowdDensity   string    `json:"crowdDensity"`
	PassengerCount int       `json:"passengerCount"`
	Timestamp      time.Time `json:"timestamp"`
}

// Store persists crowd readings in SQLite.
type Store struct {
	db  *sql.DB
	bus *events.Bus
}

// NewStore opens (or creates) the crowdflow store. bus may be nil.
func NewStore(dbPath string, bus *events.Bus) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open crowdflow db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS crowd_readings (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		station_id      INTEGER NOT NULL,
		platform_number TEXT NOT NULL DEFAULT '',
		crowd_density   TEXT NOT NULL,
		passenger_count INTEGER NOT NULL DEFAULT 0,
		timestamp       TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create crowd_readings table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_crowd_station_ts ON crowd_readings(station_id, timestamp)`)

	return &Store{db: db, bus: bus}, nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert validates and records a reading, then announces it on the bus.
func (s *Store) Insert(r Reading) (*Reading, error) {
	if r.StationID <= 0 {
		return nil, fmt.Errorf("%w: stationId is required", ErrValidation)
	}
	if !validDensity(r.CrowdDensity) {
		return nil, fmt.Errorf("%w: unsupported crowdDensity %q", ErrValidation, r.CrowdDensity)
	}
	if r.PassengerCount < 0 {
		return nil, fmt.Errorf("%w: passengerCount cannot be negative", ErrValidation)
	}

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	res, err := s.db.Exec(`INSERT INTO crowd_readings
		(station_id, platform_number, crowd_density, passenger_count, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		r.StationID, strings.TrimSpace(r.PlatformNumber), r.CrowdDensity,
		r.PassengerCount, r.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert reading: %w", err)
	}
	r.ID, _ = res.LastInsertId()

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:      events.CrowdUpdated,
			StationID: r.StationID,
			Summary:   fmt.Sprintf("crowd %s at station %d", r.CrowdDensity, r.StationID),
			Detail:    &r,
		})
	}

	return &r, nil
}

// LatestForStation returns the most recent readings for a station,
// newest-first, capped at ten.
func (s *Store) LatestForStation(stationID int64) ([]Reading, error) {
	return s.query(`SELECT `+readingColumns+` FROM crowd_readings
		WHERE station_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		stationID, latestWindow)
}

// History returns readings for a station within the last N hours, newest-first.
func (s *Store) History(stationID int64, hours int) ([]Reading, error) {
	if hours <= 0 {
		hours = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	return s.query(`SELECT `+readingColumns+` FROM crowd_readings
		WHERE station_id = ? AND timestamp >= ? ORDER BY timestamp DESC, id DESC`,
		stationID, cutoff.Format(time.RFC3339Nano))
}

// DeleteOlderThan removes readings older than the cutoff. Returns rows removed.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM crowd_readings WHERE timestamp < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("delete old readings: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const readingColumns = `id, station_id, platform_number, crowd_density, passenger_count, timestamp`

func (s *Store) query(query string, args ...any) ([]Reading, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	out := make([]Reading, 0)
	for rows.Next() {
		var (
			r  Reading
			ts string
		)
		if err := rows.Scan(&r.ID, &r.StationID, &r.PlatformNumber,
			&r.CrowdDensity, &r.PassengerCount, &ts); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func validDensity(v string) bool {
	switch v {
	case DensityLow, DensityMedium, DensityHigh, DensityCritical:
		return true
	default:
		return false
	}
}
