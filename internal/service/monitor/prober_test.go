package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowwatch/flowwatch/internal/domain"
)

func TestHTTPProberHealthyEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"active": true, "recent_executions": 3, "last_execution": {"id": "exec-9", "started_at": "2026-08-01T10:00:00Z", "status": "success"}}`))
	}))
	defer server.Close()

	prober := NewHTTPProber(time.Second, discardLogger())
	healthy, result := prober.Probe(context.Background(), domain.Deployment{ID: "dep-1", HealthURL: server.URL})

	if !healthy {
		t.Fatalf("expected healthy, got error %q", result.Error)
	}
	if result.Details == nil || !result.Details.WorkflowActive || result.Details.RecentExecutions != 3 {
		t.Fatalf("unexpected details: %+v", result.Details)
	}
	if result.LastExecution == nil || result.LastExecution.ID != "exec-9" {
		t.Fatalf("unexpected execution: %+v", result.LastExecution)
	}
}

func TestHTTPProberBareOKIsHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	prober := NewHTTPProber(time.Second, discardLogger())
	healthy, result := prober.Probe(context.Background(), domain.Deployment{HealthURL: server.URL})

	if !healthy || result.Error != "" {
		t.Fatalf("expected healthy with no error, got healthy=%v error=%q", healthy, result.Error)
	}
}

func TestHTTPProberServerErrorIsUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	prober := NewHTTPProber(time.Second, discardLogger())
	healthy, result := prober.Probe(context.Background(), domain.Deployment{HealthURL: server.URL})

	if healthy {
		t.Fatal("expected unhealthy on 5xx")
	}
	if result.Error == "" {
		t.Fatal("expected a descriptive error")
	}
}

func TestHTTPProberBodyErrorWinsOverStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error": "workflow execution failed"}`))
	}))
	defer server.Close()

	prober := NewHTTPProber(time.Second, discardLogger())
	healthy, result := prober.Probe(context.Background(), domain.Deployment{HealthURL: server.URL})

	if healthy {
		t.Fatal("expected unhealthy when the body reports an error")
	}
	if result.Error != "workflow execution failed" {
		t.Fatalf("expected body error, got %q", result.Error)
	}
}

func TestHTTPProberUnreachableEndpoint(t *testing.T) {
	prober := NewHTTPProber(200*time.Millisecond, discardLogger())

	healthy, result := prober.Probe(context.Background(), domain.Deployment{HealthURL: "http://127.0.0.1:1/health"})
	if healthy {
		t.Fatal("expected unhealthy on transport failure")
	}
	if result.Error == "" {
		t.Fatal("transport failure must produce a descriptive error")
	}

	healthy, result = prober.Probe(context.Background(), domain.Deployment{})
	if healthy || result.Error != "no health endpoint configured" {
		t.Fatalf("expected missing-endpoint error, got healthy=%v error=%q", healthy, result.Error)
	}
}
