package monitor

import (
	"time"

	"github.com/flowwatch/flowwatch/internal/domain"
)

const errorTypeHealthCheckFailed = "health_check_failed"

// applyProbe computes the next health aggregate from the previous one and a
// probe outcome. The input is never mutated; the caller commits the result
// under the previous version.
func applyProbe(prev domain.DeploymentHealth, healthy bool, probe domain.ProbeResult, now time.Time) domain.DeploymentHealth {
	next := prev
	next.Errors = append([]domain.HealthError(nil), prev.Errors...)

	if healthy {
		next.ErrorCount = 0
		next.ConsecutiveErrors = 0
	} else {
		next.ErrorCount++
		next.ConsecutiveErrors++
		if probe.Error != "" {
			next.Errors = appendBounded(next.Errors, domain.HealthError{
				Timestamp: now,
				Message:   probe.Error,
				Type:      errorTypeHealthCheckFailed,
				Severity:  domain.SeverityError,
			})
		}
	}

	next.LastChecked = now
	next.Healthy = healthy
	if exec := probe.LastExecution; exec != nil {
		started := exec.StartedAt.UTC()
		next.LastExecutionTime = &started
		next.LastExecutionStatus = mapExecutionStatus(exec.Status)
	}
	next.Version = prev.Version + 1
	return next
}

// appendBounded pushes an entry and evicts from the front past the cap.
func appendBounded(entries []domain.HealthError, entry domain.HealthError) []domain.HealthError {
	entries = append(entries, entry)
	if len(entries) > domain.ErrorHistoryCap {
		entries = entries[len(entries)-domain.ErrorHistoryCap:]
	}
	return entries
}

func mapExecutionStatus(raw string) string {
	switch raw {
	case "success":
		return domain.ExecutionStatusSuccess
	case "error":
		return domain.ExecutionStatusError
	default:
		return domain.ExecutionStatusWarning
	}
}
