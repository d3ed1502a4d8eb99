package types

import (
	"time"

	"github.com/google/uuid"
)

// AlertType classifies an alert for routing.
type AlertType string

// Alert type constants.
const (
	AlertInfo    AlertType = "info"
	AlertWarning AlertType = "warning"
	AlertError   AlertType = "error"
)

// Severity grades an alert or quality issue.
type Severity string

// Severity constants, lowest to highest.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is a structured notification emitted by the pipeline core.
// Delivery transports live behind the alert.Sink interface.
type Alert struct {
	ID        string         `json:"id"`
	Type      AlertType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Resolved  bool           `json:"resolved"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewAlert builds an alert with a fresh ID and the current timestamp.
func NewAlert(typ AlertType, sev Severity, title, message, source string) *Alert {
	return &Alert{
		ID:        uuid.New().String(),
		Type:      typ,
		Severity:  sev,
		Title:     title,
		Message:   message,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

// WithMetadata attaches metadata and returns the alert for chaining.
func (a *Alert) WithMetadata(md map[string]any) *Alert {
	a.Metadata = md
	return a
}
