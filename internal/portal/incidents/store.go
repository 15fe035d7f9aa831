// Package incidents tracks medical emergencies and safety incidents, each
// anchored to an alert.
package incidents

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

var (
	ErrValidation   = errors.New("invalid incident")
	ErrNotFound     = errors.New("incident not found")
	ErrUnknownAlert = errors.New("referenced alert does not exist")
)

// Medical emergency lifecycle.
const (
	MedicalActive      = "active"
	MedicalTreated     = "treated"
	MedicalTransferred = "transferred"
)

// Safety incident lifecycle.
const (
	SafetyReported      = "reported"
	SafetyInvestigating = "investigating"
	SafetyResolved      = "resolved"
)

// MedicalEmergency is one medical case attached to an alert.
type MedicalEmergency struct {
	ID                 int64          `json:"id"`
	AlertID            int64          `json:"alertId"`
	PatientName        string         `json:"patientName,omitempty"`
	PatientAge         int            `json:"patientAge,omitempty"`
	PatientGender      string         `json:"patientGender,omitempty"`
	EmergencyType      string         `json:"emergencyType"`
	Vitals             map[string]any `json:"vitals,omitempty"`
	Symptoms           string         `json:"symptoms,omitempty"`
	TreatmentGiven     string         `json:"treatmentGiven,omitempty"`
	HospitalDispatched bool           `json:"hospitalDispatched"`
	AmbulanceETA       *time.Time     `json:"ambulanceEta,omitempty"`
	Status             string         `json:"status"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// SafetyIncident is one safety report attached to an alert.
type SafetyIncident struct {
	ID              int64     `json:"id"`
	AlertID         int64     `json:"alertId"`
	IncidentType    string    `json:"incidentType"`
	ReporterGender  string    `json:"reporterGender,omitempty"`
	WitnessCount    int       `json:"witnessCount"`
	ActionTaken     string    `json:"actionTaken,omitempty"`
	EscortRequested bool      `json:"escortRequested"`
	EscortAssigned  string    `json:"escortAssigned,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// AlertChecker verifies that an alert exists before an incident may
// reference it.
type AlertChecker interface {
	AlertExists(id int64) bool
}

// Store persists incidents in SQLite.
type Store struct {
	db     *sql.DB
	bus    *events.Bus
	alerts AlertChecker
}

// NewStore opens (or creates) the incidents store. bus and alerts may be nil;
// a nil alerts checker disables the foreign-reference check.
func NewStore(dbPath string, bus *events.Bus, alerts AlertChecker) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open incidents db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS medical_emergencies (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id            INTEGER NOT NULL,
		patient_name        TEXT NOT NULL DEFAULT '',
		patient_age         INTEGER NOT NULL DEFAULT 0,
		patient_gender      TEXT NOT NULL DEFAULT '',
		emergency_type      TEXT NOT NULL,
		vitals_json         TEXT,
		symptoms            TEXT NOT NULL DEFAULT '',
		treatment_given     TEXT NOT NULL DEFAULT '',
		hospital_dispatched INTEGER NOT NULL DEFAULT 0,
		ambulance_eta       TEXT,
		status              TEXT NOT NULL DEFAULT 'active',
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create medical_emergencies table: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS safety_incidents (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id         INTEGER NOT NULL,
		incident_type    TEXT NOT NULL,
		reporter_gender  TEXT NOT NULL DEFAULT '',
		witness_count    INTEGER NOT NULL DEFAULT 0,
		action_taken     TEXT NOT NULL DEFAULT '',
		escort_requested INTEGER NOT NULL DEFAULT 0,
		escort_assigned  TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL DEFAULT 'reported',
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create safety_incidents table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_medical_status ON medical_emergencies(status)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_safety_status ON safety_incidents(status)`)

	return &Store{db: db, bus: bus, alerts: alerts}, nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateMedical validates and records a medical emergency, then announces it.
func (s *Store) CreateMedical(m MedicalEmergency) (*MedicalEmergency, error) {
	if m.AlertID <= 0 {
		return nil, fmt.Errorf("%w: alertId is required", ErrValidation)
	}
	if strings.TrimSpace(m.EmergencyType) == "" {
		return nil, fmt.Errorf("%w: emergencyType is required", ErrValidation)
	}
	if m.Status == "" {
		m.Status = MedicalActive
	}
	if !validMedicalStatus(m.Status) {
		return nil, fmt.Errorf("%w: unsupported status %q", ErrValidation, m.Status)
	}
	if s.alerts != nil && !s.alerts.AlertExists(m.AlertID) {
		return nil, ErrUnknownAlert
	}

	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	vitals, err := marshalNullable(m.Vitals)
	if err != nil {
		return nil, fmt.Errorf("marshal vitals: %w", err)
	}

	var eta sql.NullString
	if m.AmbulanceETA != nil {
		eta = sql.NullString{String: m.AmbulanceETA.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	res, err := s.db.Exec(`INSERT INTO medical_emergencies
		(alert_id, patient_name, patient_age, patient_gender, emergency_type,
		 vitals_json, symptoms, treatment_given, hospital_dispatched, ambulance_eta,
		 status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.AlertID, m.PatientName, m.PatientAge, m.PatientGender, m.EmergencyType,
		vitals, m.Symptoms, m.TreatmentGiven, boolInt(m.HospitalDispatched), eta,
		m.Status, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert medical emergency: %w", err)
	}
	m.ID, _ = res.LastInsertId()

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:    events.MedicalReported,
			Summary: "medical emergency: " + m.EmergencyType,
			Detail:  &m,
		})
	}

	return &m, nil
}

// ListMedical returns medical emergencies newest-first, optionally filtered
// by status.
func (s *Store) ListMedical(status string) ([]MedicalEmergency, error) {
	if status != "" && !validMedicalStatus(status) {
		return nil, fmt.Errorf("%w: unsupported status %q", ErrValidation, status)
	}

	query := `SELECT ` + medicalColumns + ` FROM medical_emergencies`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list medical emergencies: %w", err)
	}
	defer rows.Close()

	out := make([]MedicalEmergency, 0)
	for rows.Next() {
		m, err := scanMedical(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpdateMedicalStatus moves a medical emergency through its lifecycle.
func (s *Store) UpdateMedicalStatus(id int64, status string) error {
	if !validMedicalStatus(status) {
		return fmt.Errorf("%w: unsupported status %q", ErrValidation, status)
	}

	res, err := s.db.Exec(`UPDATE medical_emergencies SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update medical emergency: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSafety validates and records a safety incident, then announces it.
func (s *Store) CreateSafety(si SafetyIncident) (*SafetyIncident, error) {
	if si.AlertID <= 0 {
		return nil, fmt.Errorf("%w: alertId is required", ErrValidation)
	}
	if strings.TrimSpace(si.IncidentType) == "" {
		return nil, fmt.Errorf("%w: incidentType is required", ErrValidation)
	}
	if si.Status == "" {
		si.Status = SafetyReported
	}
	if !validSafetyStatus(si.Status) {
		return nil, fmt.Errorf("%w: unsupported status %q", ErrValidation, si.Status)
	}
	if si.WitnessCount < 0 {
		return nil, fmt.Errorf("%w: witnessCount cannot be negative", ErrValidation)
	}
	if s.alerts != nil && !s.alerts.AlertExists(si.AlertID) {
		return nil, ErrUnknownAlert
	}

	now := time.Now().UTC()
	si.CreatedAt = now
	si.UpdatedAt = now

	res, err := s.db.Exec(`INSERT INTO safety_incidents
		(alert_id, incident_type, reporter_gender, witness_count, action_taken,
		 escort_requested, escort_assigned, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		si.AlertID, si.IncidentType, si.ReporterGender, si.WitnessCount, si.ActionTaken,
		boolInt(si.EscortRequested), si.EscortAssigned, si.Status,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert safety incident: %w", err)
	}
	si.ID, _ = res.LastInsertId()

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:    events.SafetyReported,
			Summary: "safety incident: " + si.IncidentType,
			Detail:  &si,
		})
	}

	return &si, nil
}

// ListSafety returns safety incidents newest-first, optionally filtered by
// status.
func (s *Store) ListSafety(status string) ([]SafetyIncident, error) {
	if status != "" && !validSafetyStatus(status) {
		return nil, fmt.Errorf("%w: unsupported status %q", ErrValidation, status)
	}

	query := `SELECT ` + safetyColumns + ` FROM safety_incidents`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list safety incidents: %w", err)
	}
	defer rows.Close()

	out := make([]SafetyIncident, 0)
	for rows.Next() {
		si, err := scanSafety(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *si)
	}
	return out, rows.Err()
}

// UpdateSafetyStatus moves a safety incident through its lifecycle, optionally
// assigning an escort.
func (s *Store) UpdateSafetyStatus(id int64, status, escortAssigned string) error {
	if !validSafetyStatus(status) {
		return fmt.Errorf("%w: unsupported status %q", ErrValidation, status)
	}

	set := []string{"status = ?", "updated_at = ?"}
	args := []any{status, time.Now().UTC().Format(time.RFC3339Nano)}
	if escortAssigned != "" {
		set = append(set, "escort_assigned = ?")
		args = append(args, escortAssigned)
	}
	args = append(args, id)

	res, err := s.db.Exec(`UPDATE safety_incidents SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update safety incident: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const medicalColumns = `id, alert_id, patient_name, patient_age, patient_gender,
	emergency_type, vitals_json, symptoms, treatment_given, hospital_dispatched,
	ambulance_eta, status, created_at, updated_at`

const safetyColumns = `id, alert_id, incident_type, reporter_gender, witness_count,
	action_taken, escort_requested, escort_assigned, status, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMedical(sc scanner) (*MedicalEmergency, error) {
	var (
		m                    MedicalEmergency
		vitals, eta          sql.NullString
		dispatched           int
		createdAt, updatedAt string
	)
	if err := sc.Scan(&m.ID, &m.AlertID, &m.PatientName, &m.PatientAge, &m.PatientGender,
		&m.EmergencyType, &vitals, &m.Symptoms, &m.TreatmentGiven, &dispatched,
		&eta, &m.Status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan medical emergency: %w", err)
	}
	if vitals.Valid && vitals.String != "" {
		_ = json.Unmarshal([]byte(vitals.String), &m.Vitals)
	}
	if eta.Valid && eta.String != "" {
		if ts, err := time.Parse(time.RFC3339Nano, eta.String); err == nil {
			m.AmbulanceETA = &ts
		}
	}
	m.HospitalDispatched = dispatched == 1
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &m, nil
}

func scanSafety(sc scanner) (*SafetyIncident, error) {
	var (
		si                   SafetyIncident
		requested            int
		createdAt, updatedAt string
	)
	if err := sc.Scan(&si.ID, &si.AlertID, &si.IncidentType, &si.ReporterGender,
		&si.WitnessCount, &si.ActionTaken, &requested, &si.EscortAssigned,
		&si.Status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan safety incident: %w", err)
	}
	si.EscortRequested = requested == 1
	si.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	si.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &si, nil
}

func marshalNullable(v map[string]any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func validMedicalStatus(v string) bool {
	switch v {
	case MedicalActive, MedicalTreated, MedicalTransferred:
		return true
	default:
		return false
	}
}

func validSafetyStatus(v string) bool {
	switch v {
	case SafetyReported, SafetyInvestigating, SafetyResolved:
		return true
	default:
		return false
	}
}
