package monitor

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowwatch/flowwatch/internal/domain"
)

// alertThreshold is the consecutive-error count at which alerts re-fire.
const alertThreshold = 3

const unknownHealthError = "Unknown health check error"

// evaluateAlert decides whether a probe outcome warrants a notification.
// One fires on the healthy-to-unhealthy edge, and again on every unhealthy
// probe once the updated counter reaches the threshold. The repeat firing
// above threshold is intentional; do not dedupe here.
func evaluateAlert(previous, updated domain.DeploymentHealth, workflowName, errorMessage, deploymentID string, ts time.Time) *domain.Notification {
	if updated.Healthy {
		return nil
	}
	if !previous.Healthy && updated.ConsecutiveErrors < alertThreshold {
		return nil
	}
	message := errorMessage
	if message == "" {
		message = unknownHealthError
	}
	return &domain.Notification{
		ID:                uuid.NewString(),
		Type:              domain.NotificationTypeHealthAlert,
		Title:             "Health Check Failed: " + workflowName,
		Message:           message,
		Severity:          domain.SeverityError,
		RelatedEntityType: "deployment",
		RelatedEntityID:   deploymentID,
		Read:              false,
		Dismissed:         false,
		CreatedAt:         ts,
	}
}
