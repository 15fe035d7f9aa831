package alerts

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/railops/railportal/internal/portal/events"
)

// Store persists alerts in SQLite and publishes domain events on mutation.
type Store struct {
	db  *sql.DB
	bus *events.Bus
}

// NewStore opens (or creates) the alerts database. bus may be nil, in which
// case mutations are not announced.
func NewStore(dbPath string, bus *events.Bus) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open alerts db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	// AUTOINCREMENT keeps identifiers unique forever, never reused.
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS alerts (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		type            TEXT NOT NULL,
		module          TEXT NOT NULL,
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		severity        TEXT NOT NULL DEFAULT 'medium',
		status          TEXT NOT NULL DEFAULT 'active',
		station_id      INTEGER,
		train_id        INTEGER,
		platform_number TEXT NOT NULL DEFAULT '',
		coach_number    TEXT NOT NULL DEFAULT '',
		reported_by     TEXT NOT NULL DEFAULT '',
		assigned_to     TEXT NOT NULL DEFAULT '',
		location_json   TEXT,
		metadata_json   TEXT,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		resolved_at     TEXT
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create alerts: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_alerts_station ON alerts(station_id)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_alerts_assigned_to ON alerts(assigned_to)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`)

	return &Store{db: db, bus: bus}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func validateInput(in CreateInput) error {
	if strings.TrimSpace(in.Type) == "" {
		return validationErrorf("type is required")
	}
	if strings.TrimSpace(in.Module) == "" {
		return validationErrorf("module is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return validationErrorf("title is required")
	}
	if in.Severity != "" && !validSeverity(in.Severity) {
		return validationErrorf("unsupported severity: %s", in.Severity)
	}
	if in.Status != "" && !validStatus(in.Status) {
		return validationErrorf("unsupported status: %s", in.Status)
	}
	return nil
}

// Create validates, persists, and returns a new alert, then announces it.
func (s *Store) Create(in CreateInput) (*Alert, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	alert := Alert{
		Type:           strings.TrimSpace(in.Type),
		Module:         strings.TrimSpace(in.Module),
		Title:          strings.TrimSpace(in.Title),
		Description:    strings.TrimSpace(in.Description),
		Severity:       in.Severity,
		Status:         in.Status,
		StationID:      in.StationID,
		TrainID:        in.TrainID,
		PlatformNumber: in.PlatformNumber,
		CoachNumber:    in.CoachNumber,
		ReportedBy:     in.ReportedBy,
		AssignedTo:     in.AssignedTo,
		Location:       in.Location,
		Metadata:       in.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if alert.Severity == "" {
		alert.Severity = SeverityMedium
	}
	if alert.Status == "" {
		alert.Status = StatusActive
	}

	locationJSON, err := marshalNullable(alert.Location)
	if err != nil {
		return nil, fmt.Errorf("marshal location: %w", err)
	}
	metadataJSON, err := marshalNullable(alert.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := s.db.Exec(`INSERT INTO alerts
		(type, module, title, description, severity, status, station_id, train_id,
		 platform_number, coach_number, reported_by, assigned_to, location_json,
		 metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.Type,
		alert.Module,
		alert.Title,
		alert.Description,
		alert.Severity,
		alert.Status,
		nullableInt(alert.StationID),
		nullableInt(alert.TrainID),
		alert.PlatformNumber,
		alert.CoachNumber,
		alert.ReportedBy,
		alert.AssignedTo,
		locationJSON,
		metadataJSON,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}

	alert.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("alert id: %w", err)
	}

	s.publish(events.AlertCreated, &alert, "alert created: "+alert.Title)
	return &alert, nil
}

// Get returns one alert by ID.
func (s *Store) Get(id int64) (*Alert, error) {
	row := s.db.QueryRow(selectColumns+` FROM alerts WHERE id = ?`, id)
	return scanAlert(row)
}

// List returns alerts newest-first. stationID and status are optional
// filters; when both are set, both must match.
func (s *Store) List(stationID *int64, status string) ([]Alert, error) {
	query := selectColumns + ` FROM alerts`
	where := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if stationID != nil {
		where = append(where, "station_id = ?")
		args = append(args, *stationID)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := make([]Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			continue
		}
		out = append(out, *alert)
	}
	return out, rows.Err()
}

// UpdateStatus sets a new lifecycle status (and optionally the assignee) on
// one alert. Resolving stamps resolved_at; moving away from resolved leaves
// the old resolved_at in place. Returns sql.ErrNoRows via IsNotFound when
// the alert does not exist.
func (s *Store) UpdateStatus(id int64, status, assignedTo string) (*Alert, error) {
	if !validStatus(status) {
		return nil, validationErrorf("unsupported status: %s", status)
	}

	now := time.Now().UTC()
	set := []string{"status = ?", "updated_at = ?"}
	args := []any{status, now.Format(time.RFC3339Nano)}
	if status == StatusResolved {
		set = append(set, "resolved_at = ?")
		args = append(args, now.Format(time.RFC3339Nano))
	}
	if assignedTo != "" {
		set = append(set, "assigned_to = ?")
		args = append(args, assignedTo)
	}
	args = append(args, id)

	res, err := s.db.Exec(`UPDATE alerts SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return nil, sql.ErrNoRows
	}

	updated, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	s.publish(events.AlertUpdated, updated, "alert updated: "+updated.Title)
	return updated, nil
}

// ActiveForAssignee returns active alerts assigned to one user, newest-first.
func (s *Store) ActiveForAssignee(userID string) ([]Alert, error) {
	rows, err := s.db.Query(selectColumns+` FROM alerts
		WHERE assigned_to = ? AND status = ?
		ORDER BY created_at DESC, id DESC`, userID, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list assigned alerts: %w", err)
	}
	defer rows.Close()

	out := make([]Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			continue
		}
		out = append(out, *alert)
	}
	return out, rows.Err()
}

// AlertExists reports whether an alert with the given ID exists.
func (s *Store) AlertExists(id int64) bool {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM alerts WHERE id = ?`, id).Scan(&one)
	return err == nil
}

// CountActive returns the number of active alerts, optionally for one station.
func (s *Store) CountActive(stationID *int64) (int, error) {
	query := `SELECT COUNT(*) FROM alerts WHERE status = ?`
	args := []any{StatusActive}
	if stationID != nil {
		query += ` AND station_id = ?`
		args = append(args, *stationID)
	}

	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active alerts: %w", err)
	}
	return n, nil
}

// CountResolvedSince returns alerts resolved at or after a cutoff, optionally
// for one station.
func (s *Store) CountResolvedSince(cutoff time.Time, stationID *int64) (int, error) {
	query := `SELECT COUNT(*) FROM alerts WHERE status = ? AND resolved_at >= ?`
	args := []any{StatusResolved, cutoff.UTC().Format(time.RFC3339Nano)}
	if stationID != nil {
		query += ` AND station_id = ?`
		args = append(args, *stationID)
	}

	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count resolved alerts: %w", err)
	}
	return n, nil
}

func (s *Store) publish(typ events.EventType, alert *Alert, summary string) {
	if s.bus == nil {
		return
	}
	evt := events.Event{
		Type:    typ,
		Summary: summary,
		Detail:  alert,
	}
	if alert.StationID != nil {
		evt.StationID = *alert.StationID
	}
	s.bus.Publish(evt)
}

const selectColumns = `SELECT id, type, module, title, description, severity, status,
	station_id, train_id, platform_number, coach_number, reported_by, assigned_to,
	location_json, metadata_json, created_at, updated_at, resolved_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(sc scanner) (*Alert, error) {
	var (
		alert                Alert
		stationID, trainID   sql.NullInt64
		locationJSON         sql.NullString
		metadataJSON         sql.NullString
		createdAt, updatedAt string
		resolvedAt           sql.NullString
	)

	if err := sc.Scan(
		&alert.ID,
		&alert.Type,
		&alert.Module,
		&alert.Title,
		&alert.Description,
		&alert.Severity,
		&alert.Status,
		&stationID,
		&trainID,
		&alert.PlatformNumber,
		&alert.CoachNumber,
		&alert.ReportedBy,
		&alert.AssignedTo,
		&locationJSON,
		&metadataJSON,
		&createdAt,
		&updatedAt,
		&resolvedAt,
	); err != nil {
		return nil, err
	}

	if stationID.Valid {
		alert.StationID = &stationID.Int64
	}
	if trainID.Valid {
		alert.TrainID = &trainID.Int64
	}
	if locationJSON.Valid && locationJSON.String != "" {
		_ = json.Unmarshal([]byte(locationJSON.String), &alert.Location)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		_ = json.Unmarshal([]byte(metadataJSON.String), &alert.Metadata)
	}
	alert.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	alert.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if resolvedAt.Valid && resolvedAt.String != "" {
		ts, err := time.Parse(time.RFC3339Nano, resolvedAt.String)
		if err == nil {
			alert.ResolvedAt = &ts
		}
	}

	return &alert, nil
}

func marshalNullable(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case *Location:
		if val == nil {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if val == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullableInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// IsNotFound reports whether err is sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
