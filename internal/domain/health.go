package domain

import "time"

// Overall statuses for a health-check record.
const (
	HealthStatusHealthy = "healthy"
	HealthStatusWarning = "warning"
	HealthStatusError   = "error"
	HealthStatusUnknown = "unknown"
)

// Execution statuses retained on the aggregate.
const (
	ExecutionStatusSuccess = "success"
	ExecutionStatusError   = "error"
	ExecutionStatusWarning = "warning"
)

// CheckResults itemizes the booleans captured per probe. WorkflowExists and
// CredentialsValid are fixed true until the prober can distinguish those
// failure modes.
type CheckResults struct {
	WorkflowExists   bool `json:"workflow_exists"`
	WorkflowActive   bool `json:"workflow_active"`
	CredentialsValid bool `json:"credentials_valid"`
	RecentExecution  bool `json:"recent_execution"`
	NoErrors         bool `json:"no_errors"`
}

// ExecutionData carries workflow execution details attached to a record.
type ExecutionData struct {
	LastExecutionID     string    `json:"last_execution_id"`
	LastExecutionTime   time.Time `json:"last_execution_time"`
	LastExecutionStatus string    `json:"last_execution_status"`
	ErrorMessage        string    `json:"error_message,omitempty"`
}

// HealthCheck is an immutable record appended on every probe.
type HealthCheck struct {
	ID            string
	DeploymentID  string
	Timestamp     time.Time
	OverallStatus string
	Checks        CheckResults
	Details       string
	Execution     *ExecutionData
}

// ExecutionInfo is the execution slice of a probe result.
type ExecutionInfo struct {
	ID        string
	StartedAt time.Time
	Status    string
}

// ProbeDetails holds optional diagnostic fields supplied by the prober.
type ProbeDetails struct {
	WorkflowActive   bool
	RecentExecutions int
}

// ProbeResult is what the external prober hands to the recorder. Transport
// failures must already be folded into an unhealthy result with a
// descriptive Error before this point.
type ProbeResult struct {
	Error         string
	LastExecution *ExecutionInfo
	Details       *ProbeDetails
}
