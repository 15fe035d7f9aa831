package alerts

import (
	"errors"
	"fmt"
	"time"
)

// Severity levels, ordered low < medium < high < critical.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Lifecycle statuses.
const (
	StatusActive    = "active"
	StatusResolved  = "resolved"
	StatusDismissed = "dismissed"
)

// ErrValidation marks input rejected at the boundary. Handlers translate it
// to a 400 response.
var ErrValidation = errors.New("invalid alert")

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsValidation reports whether err is a boundary validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// Location is an optional geolocation attached to an alert.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Alert is one actionable event surfaced on the dashboard.
type Alert struct {
	ID             int64          `json:"id"`
	Type           string         `json:"type"`   // medical, crowd, safety, security, ...
	Module         string         `json:"module"` // crowdflow, medilink, safeher, ...
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Severity       string         `json:"severity"`
	Status         string         `json:"status"`
	StationID      *int64         `json:"stationId,omitempty"`
	TrainID        *int64         `json:"trainId,omitempty"`
	PlatformNumber string         `json:"platformNumber,omitempty"`
	CoachNumber    string         `json:"coachNumber,omitempty"`
	ReportedBy     string         `json:"reportedBy,omitempty"`
	AssignedTo     string         `json:"assignedTo,omitempty"`
	Location       *Location      `json:"location,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty"`
}

// CreateInput is the caller-supplied portion of a new alert.
type CreateInput struct {
	Type           string         `json:"type"`
	Module         string         `json:"module"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Severity       string         `json:"severity"`
	Status         string         `json:"status"`
	StationID      *int64         `json:"stationId"`
	TrainID        *int64         `json:"trainId"`
	PlatformNumber string         `json:"platformNumber"`
	CoachNumber    string         `json:"coachNumber"`
	ReportedBy     string         `json:"reportedBy"`
	AssignedTo     string         `json:"assignedTo"`
	Location       *Location      `json:"location"`
	Metadata       map[string]any `json:"metadata"`
}

func validSeverity(s string) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case StatusActive, StatusResolved, StatusDismissed:
		return true
	}
	return false
}
