package domain

import "time"

// Notification severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
	SeveritySuccess = "success"
)

// NotificationTypeHealthAlert marks notifications emitted by the monitor.
const NotificationTypeHealthAlert = "health_alert"

// Notification surfaces an event to operators. RelatedEntityID identifies
// but does not own the referenced entity.
type Notification struct {
	ID                string
	Type              string
	Title             string
	Message           string
	Severity          string
	RelatedEntityType string
	RelatedEntityID   string
	Read              bool
	Dismissed         bool
	CreatedAt         time.Time
}
