package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"log/slog"

	"github.com/flowwatch/flowwatch/internal/domain"
)

// Prober checks the live status of one deployment. Implementations must
// fold transport failures into an unhealthy result with a descriptive
// error string; Record never sees raw network errors.
type Prober interface {
	Probe(ctx context.Context, deployment domain.Deployment) (bool, domain.ProbeResult)
}

// probePayload is the optional JSON body a deployment's health endpoint may
// return alongside its status code.
type probePayload struct {
	Active           *bool  `json:"active"`
	RecentExecutions *int   `json:"recent_executions"`
	Error            string `json:"error"`
	LastExecution    *struct {
		ID        string    `json:"id"`
		StartedAt time.Time `json:"started_at"`
		Status    string    `json:"status"`
	} `json:"last_execution"`
}

// HTTPProber probes deployments over their configured health endpoint.
type HTTPProber struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPProber returns a prober with the given per-probe timeout.
func NewHTTPProber(timeout time.Duration, logger *slog.Logger) *HTTPProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Probe issues a GET against the deployment's health endpoint.
func (p *HTTPProber) Probe(ctx context.Context, deployment domain.Deployment) (bool, domain.ProbeResult) {
	if deployment.HealthURL == "" {
		return false, domain.ProbeResult{Error: "no health endpoint configured"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, deployment.HealthURL, nil)
	if err != nil {
		return false, domain.ProbeResult{Error: fmt.Sprintf("build probe request: %v", err)}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, domain.ProbeResult{Error: fmt.Sprintf("probe request failed: %v", err)}
	}
	defer resp.Body.Close()

	var payload probePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		// a bare 200 with no body is still a valid healthy answer
		payload = probePayload{}
	}
	result := toProbeResult(payload)

	if resp.StatusCode >= 400 {
		if result.Error == "" {
			result.Error = fmt.Sprintf("health endpoint returned %s", resp.Status)
		}
		return false, result
	}
	if result.Error != "" {
		return false, result
	}
	return true, result
}

func toProbeResult(payload probePayload) domain.ProbeResult {
	result := domain.ProbeResult{Error: payload.Error}
	if payload.Active != nil || payload.RecentExecutions != nil {
		details := &domain.ProbeDetails{}
		if payload.Active != nil {
			details.WorkflowActive = *payload.Active
		}
		if payload.RecentExecutions != nil {
			details.RecentExecutions = *payload.RecentExecutions
		}
		result.Details = details
	}
	if payload.LastExecution != nil {
		result.LastExecution = &domain.ExecutionInfo{
			ID:        payload.LastExecution.ID,
			StartedAt: payload.LastExecution.StartedAt,
			Status:    payload.LastExecution.Status,
		}
	}
	return result
}
