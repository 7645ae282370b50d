package domain

import "time"

// Deployment statuses.
const (
	DeploymentStatusDeployed = "deployed"
	DeploymentStatusStopped  = "stopped"
	DeploymentStatusFailed   = "failed"
)

// ErrorHistoryCap bounds the per-deployment error buffer.
const ErrorHistoryCap = 10

// Deployment is one workflow instance running for a client.
type Deployment struct {
	ID           string
	ClientID     string
	WorkflowID   string
	WorkflowName string
	Status       string
	HealthURL    string
	Health       DeploymentHealth
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HealthError is one entry in the bounded error history.
type HealthError struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
}

// DeploymentHealth is the mutable aggregate embedded on the deployment.
// Version guards concurrent read-modify-write cycles: an update only
// applies when the stored version still matches the one that was read.
type DeploymentHealth struct {
	LastChecked         time.Time
	Healthy             bool
	ErrorCount          int
	ConsecutiveErrors   int
	Errors              []HealthError
	LastExecutionTime   *time.Time
	LastExecutionStatus string
	Version             int64
}
