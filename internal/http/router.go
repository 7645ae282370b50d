package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/flowwatch/flowwatch/internal/domain"
	"github.com/flowwatch/flowwatch/internal/service/auth"
	"github.com/flowwatch/flowwatch/internal/service/credential"
	"github.com/flowwatch/flowwatch/internal/service/deploy"
	"github.com/flowwatch/flowwatch/internal/service/monitor"
	"github.com/flowwatch/flowwatch/internal/service/notification"
	"github.com/flowwatch/flowwatch/internal/ws"
	"github.com/flowwatch/flowwatch/pkg/vault"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux           *http.ServeMux
	logger        *slog.Logger
	auth          auth.Service
	deploy        deploy.Service
	monitor       monitor.Service
	notifications notification.Service
	credentials   credential.Service
	hub           *ws.Hub
	upgrader      websocket.Upgrader
	limiter       RateLimiter
	metrics       *routerMetrics
	dbHealth      func(context.Context) error
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitReveal    = 20
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, deploySvc deploy.Service, monitorSvc monitor.Service, notificationSvc notification.Service, credentialSvc credential.Service, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:           http.NewServeMux(),
		logger:        logger,
		auth:          authSvc,
		deploy:        deploySvc,
		monitor:       monitorSvc,
		notifications: notificationSvc,
		credentials:   credentialSvc,
		hub:           hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		metrics:  newRouterMetrics(),
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", r.metrics.handler())
	r.mux.HandleFunc("/auth/signup", r.instrument("/auth/signup", r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.instrument("/auth/login", r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/deployments", r.instrument("/deployments", r.handlerAuthRate("/deployments", rateLimitUserWrite, rateWindowDefault, r.handleDeployments)))
	r.mux.HandleFunc("/deployments/", r.instrument("/deployments/{id}", r.handlerAuthRate("/deployments/{id}", rateLimitUserRead, rateWindowDefault, r.handleDeploymentSubroutes)))
	r.mux.HandleFunc("/notifications", r.instrument("/notifications", r.handlerAuthRate("/notifications", rateLimitUserRead, rateWindowDefault, r.handleNotifications)))
	r.mux.HandleFunc("/notifications/", r.instrument("/notifications/{id}", r.handlerAuthRate("/notifications/{id}", rateLimitUserWrite, rateWindowDefault, r.handleNotificationSubroutes)))
	r.mux.HandleFunc("/credentials/", r.instrument("/credentials/{key}", r.handlerAuthRate("/credentials/{key}", rateLimitReveal, rateWindowDefault, r.handleCredentialSubroutes)))
	r.mux.HandleFunc("/ws/health", r.handlerAuthRate("/ws/health", rateLimitWebsocket, rateWindowRealtime, r.handleHealthWS))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Email) == "" || payload.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password required")
		return
	}
	user, tokens, err := r.auth.Signup(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.logger.Warn("signup failed", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse(user, tokens))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.logger.Warn("login failed", "error", err)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(user, tokens))
}

func tokenResponse(user *domain.User, tokens auth.TokenPair) map[string]any {
	return map[string]any{
		"user": map[string]any{
			"id":    user.ID,
			"email": user.Email,
		},
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_in":    int(tokens.ExpiresIn.Seconds()),
	}
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		deployments, err := r.deploy.ListByStatus(req.Context(), req.URL.Query().Get("status"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(deployments))
		for i := range deployments {
			payload = append(payload, deploymentPayload(&deployments[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"deployments": payload})
	case http.MethodPost:
		var payload struct {
			ClientID     string `json:"client_id"`
			WorkflowID   string `json:"workflow_id"`
			WorkflowName string `json:"workflow_name"`
			HealthURL    string `json:"health_url"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		deployment, err := r.deploy.Register(req.Context(), deploy.RegisterInput{
			ClientID:     payload.ClientID,
			WorkflowID:   payload.WorkflowID,
			WorkflowName: payload.WorkflowName,
			HealthURL:    payload.HealthURL,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, deploymentPayload(deployment))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/deployments/")
	parts := strings.Split(trimmed, "/")
	deploymentID := parts[0]
	if deploymentID == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		r.handleDeploymentGet(w, req, deploymentID)
	case len(parts) == 2 && parts[1] == "health":
		r.handleDeploymentHealth(w, req, deploymentID)
	case len(parts) == 3 && parts[1] == "health" && parts[2] == "history":
		r.handleHealthHistory(w, req, deploymentID)
	case len(parts) == 2 && parts[1] == "credentials":
		r.handleDeploymentCredentials(w, req, deploymentID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleDeploymentGet(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	deployment, err := r.deploy.Get(req.Context(), deploymentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deploymentPayload(deployment))
}

// handleDeploymentHealth serves the aggregate on GET and ingests an external
// probe result on POST.
func (r *Router) handleDeploymentHealth(w http.ResponseWriter, req *http.Request, deploymentID string) {
	switch req.Method {
	case http.MethodGet:
		deployment, err := r.deploy.Get(req.Context(), deploymentID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, healthPayload(deployment.Health))
	case http.MethodPost:
		var payload struct {
			Healthy       bool   `json:"healthy"`
			Error         string `json:"error"`
			LastExecution *struct {
				ID        string    `json:"id"`
				StartedAt time.Time `json:"started_at"`
				Status    string    `json:"status"`
			} `json:"last_execution"`
			Details *struct {
				WorkflowActive   bool `json:"workflow_active"`
				RecentExecutions int  `json:"recent_executions"`
			} `json:"details"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		probe := domain.ProbeResult{Error: payload.Error}
		if payload.LastExecution != nil {
			probe.LastExecution = &domain.ExecutionInfo{
				ID:        payload.LastExecution.ID,
				StartedAt: payload.LastExecution.StartedAt,
				Status:    payload.LastExecution.Status,
			}
		}
		if payload.Details != nil {
			probe.Details = &domain.ProbeDetails{
				WorkflowActive:   payload.Details.WorkflowActive,
				RecentExecutions: payload.Details.RecentExecutions,
			}
		}
		if err := r.monitor.Record(req.Context(), deploymentID, payload.Healthy, probe, time.Now().UTC()); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleHealthHistory(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	checks, err := r.monitor.HealthHistory(req.Context(), deploymentID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(checks))
	for i := range checks {
		payload = append(payload, checkPayload(&checks[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"checks": payload})
}

func (r *Router) handleDeploymentCredentials(w http.ResponseWriter, req *http.Request, deploymentID string) {
	switch req.Method {
	case http.MethodGet:
		credentials, err := r.credentials.ListByDeployment(req.Context(), deploymentID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(credentials))
		for i := range credentials {
			payload = append(payload, credentialPayload(&credentials[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"credentials": payload})
	case http.MethodPost:
		var payload struct {
			DisplayName         string     `json:"display_name"`
			Type                string     `json:"type"`
			Value               string     `json:"value"`
			ExternalReferenceID string     `json:"external_reference_id"`
			ExpiresAt           *time.Time `json:"expires_at"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		created, err := r.credentials.Create(req.Context(), credential.CreateInput{
			DeploymentID:        deploymentID,
			DisplayName:         payload.DisplayName,
			Type:                payload.Type,
			Value:               payload.Value,
			ExternalReferenceID: payload.ExternalReferenceID,
			ExpiresAt:           payload.ExpiresAt,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, credentialPayload(created))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleNotifications(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	unreadOnly := req.URL.Query().Get("unread") == "true"
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	notifications, err := r.notifications.List(req.Context(), unreadOnly, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(notifications))
	for i := range notifications {
		payload = append(payload, notificationPayload(&notifications[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": payload})
}

func (r *Router) handleNotificationSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/notifications/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	notificationID := parts[0]
	var err error
	switch parts[1] {
	case "read":
		err = r.notifications.MarkRead(req.Context(), notificationID)
	case "dismiss":
		err = r.notifications.Dismiss(req.Context(), notificationID)
	default:
		r.notFound(w)
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleCredentialSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/credentials/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	key := parts[0]
	switch parts[1] {
	case "reveal":
		r.handleCredentialReveal(w, req, key)
	case "rotate":
		r.handleCredentialRotate(w, req, key)
	case "status":
		r.handleCredentialStatus(w, req, key)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleCredentialReveal(w http.ResponseWriter, req *http.Request, key string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	value, err := r.credentials.Reveal(req.Context(), key)
	if err != nil {
		if errors.Is(err, vault.ErrDecrypt) {
			writeError(w, http.StatusUnprocessableEntity, "credential cannot be decrypted")
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"value": value})
}

func (r *Router) handleCredentialRotate(w http.ResponseWriter, req *http.Request, key string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := r.credentials.Rotate(req.Context(), key, payload.Value); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rotated"})
}

func (r *Router) handleCredentialStatus(w http.ResponseWriter, req *http.Request, key string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := r.credentials.UpdateStatus(req.Context(), key, payload.Status); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": payload.Status})
}

func (r *Router) handleHealthWS(w http.ResponseWriter, req *http.Request) {
	if _, ok := authInfoFromContext(req.Context()); !ok {
		r.logger.Error("auth context missing for health websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	deploymentID := req.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, "deployment_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(deploymentID, client)
	go func() {
		defer func() {
			r.hub.Unregister(deploymentID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func deploymentPayload(d *domain.Deployment) map[string]any {
	return map[string]any{
		"id":            d.ID,
		"client_id":     d.ClientID,
		"workflow_id":   d.WorkflowID,
		"workflow_name": d.WorkflowName,
		"status":        d.Status,
		"health_url":    d.HealthURL,
		"health":        healthPayload(d.Health),
		"created_at":    d.CreatedAt,
		"updated_at":    d.UpdatedAt,
	}
}

func healthPayload(h domain.DeploymentHealth) map[string]any {
	payload := map[string]any{
		"last_checked":       h.LastChecked,
		"healthy":            h.Healthy,
		"error_count":        h.ErrorCount,
		"consecutive_errors": h.ConsecutiveErrors,
		"errors":             h.Errors,
	}
	if h.LastExecutionTime != nil {
		payload["last_execution_time"] = *h.LastExecutionTime
		payload["last_execution_status"] = h.LastExecutionStatus
	}
	return payload
}

func checkPayload(c *domain.HealthCheck) map[string]any {
	payload := map[string]any{
		"id":             c.ID,
		"deployment_id":  c.DeploymentID,
		"timestamp":      c.Timestamp,
		"overall_status": c.OverallStatus,
		"checks":         c.Checks,
	}
	if c.Details != "" {
		payload["details"] = c.Details
	}
	if c.Execution != nil {
		payload["execution"] = c.Execution
	}
	return payload
}

func notificationPayload(n *domain.Notification) map[string]any {
	return map[string]any{
		"id":                  n.ID,
		"type":                n.Type,
		"title":               n.Title,
		"message":             n.Message,
		"severity":            n.Severity,
		"related_entity_type": n.RelatedEntityType,
		"related_entity_id":   n.RelatedEntityID,
		"read":                n.Read,
		"created_at":          n.CreatedAt,
	}
}

// credentialPayload never includes the stored value, encrypted or not.
func credentialPayload(c *domain.Credential) map[string]any {
	payload := map[string]any{
		"key":           c.Key,
		"deployment_id": c.DeploymentID,
		"display_name":  c.DisplayName,
		"type":          c.Type,
		"status":        c.Status,
		"created_at":    c.CreatedAt,
	}
	if c.ExternalReferenceID != "" {
		payload["external_reference_id"] = c.ExternalReferenceID
	}
	if c.UpdatedAt != nil {
		payload["updated_at"] = *c.UpdatedAt
	}
	if c.ExpiresAt != nil {
		payload["expires_at"] = *c.ExpiresAt
	}
	return payload
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
