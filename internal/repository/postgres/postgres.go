package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowwatch/flowwatch/internal/domain"
	"github.com/flowwatch/flowwatch/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository         = (*Repository)(nil)
	_ repository.DeploymentRepository   = (*Repository)(nil)
	_ repository.HealthCheckRepository  = (*Repository)(nil)
	_ repository.NotificationRepository = (*Repository)(nil)
	_ repository.CredentialRepository   = (*Repository)(nil)
)

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	return mapPgError(err)
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

const deploymentColumns = `id, client_id, workflow_id, workflow_name, status, health_url,
	last_checked, is_healthy, error_count, consecutive_errors, errors,
	last_execution_time, last_execution_status, health_version, created_at, updated_at`

// CreateDeployment inserts a deployment with a zeroed health aggregate.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, client_id, workflow_id, workflow_name, status, health_url,
			last_checked, is_healthy, error_count, consecutive_errors, errors,
			last_execution_time, last_execution_status, health_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	errorsJSON, err := marshalHealthErrors(deployment.Health.Errors)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, query,
		deployment.ID,
		deployment.ClientID,
		deployment.WorkflowID,
		deployment.WorkflowName,
		deployment.Status,
		deployment.HealthURL,
		nilTime(deployment.Health.LastChecked),
		deployment.Health.Healthy,
		deployment.Health.ErrorCount,
		deployment.Health.ConsecutiveErrors,
		errorsJSON,
		timePtrToNil(deployment.Health.LastExecutionTime),
		emptyToNil(deployment.Health.LastExecutionStatus),
		deployment.Health.Version,
		deployment.CreatedAt,
		deployment.UpdatedAt,
	)
	return mapPgError(err)
}

// GetDeploymentByID fetches a deployment with its health aggregate.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, deploymentID)
	deployment, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return deployment, nil
}

// ListDeploymentsByStatus returns deployments with a matching status.
func (r *Repository) ListDeploymentsByStatus(ctx context.Context, status string) ([]domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE status = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		deployment, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *deployment)
	}
	return deployments, rows.Err()
}

// CommitHealthResult applies one probe outcome atomically: the aggregate
// patch (guarded by ExpectedVersion), the health-check insert, and the
// optional notification. A lost version race yields ErrConflict.
func (r *Repository) CommitHealthResult(ctx context.Context, commit repository.HealthCommit) error {
	if commit.Check == nil {
		return fmt.Errorf("%w: health check required", repository.ErrInvalidArgument)
	}
	errorsJSON, err := marshalHealthErrors(commit.Health.Errors)
	if err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const patch = `UPDATE deployments
		SET last_checked = $2,
			is_healthy = $3,
			error_count = $4,
			consecutive_errors = $5,
			errors = $6,
			last_execution_time = $7,
			last_execution_status = $8,
			health_version = $9,
			updated_at = NOW()
		WHERE id = $1 AND health_version = $10`
	tag, err := tx.Exec(ctx, patch,
		commit.DeploymentID,
		nilTime(commit.Health.LastChecked),
		commit.Health.Healthy,
		commit.Health.ErrorCount,
		commit.Health.ConsecutiveErrors,
		errorsJSON,
		timePtrToNil(commit.Health.LastExecutionTime),
		emptyToNil(commit.Health.LastExecutionStatus),
		commit.Health.Version,
		commit.ExpectedVersion,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deployments WHERE id = $1)`, commit.DeploymentID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrConflict
	}

	check := commit.Check
	var execution any
	if check.Execution != nil {
		payload, err := json.Marshal(check.Execution)
		if err != nil {
			return err
		}
		execution = payload
	}
	const insertCheck = `INSERT INTO health_checks (id, deployment_id, checked_at, overall_status,
			workflow_exists, workflow_active, credentials_valid, recent_execution, no_errors,
			details, execution)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := tx.Exec(ctx, insertCheck,
		check.ID,
		check.DeploymentID,
		check.Timestamp,
		check.OverallStatus,
		check.Checks.WorkflowExists,
		check.Checks.WorkflowActive,
		check.Checks.CredentialsValid,
		check.Checks.RecentExecution,
		check.Checks.NoErrors,
		emptyToNil(check.Details),
		execution,
	); err != nil {
		return mapPgError(err)
	}

	if notification := commit.Notification; notification != nil {
		if err := insertNotification(ctx, tx, notification); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ListHealthChecks returns records for a deployment, most recent first.
func (r *Repository) ListHealthChecks(ctx context.Context, deploymentID string, limit int) ([]domain.HealthCheck, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, deployment_id, checked_at, overall_status,
			workflow_exists, workflow_active, credentials_valid, recent_execution, no_errors,
			details, execution
		FROM health_checks WHERE deployment_id = $1
		ORDER BY checked_at DESC, id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, deploymentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	checks := make([]domain.HealthCheck, 0)
	for rows.Next() {
		var (
			check     domain.HealthCheck
			details   sql.NullString
			execution []byte
		)
		if err := rows.Scan(
			&check.ID,
			&check.DeploymentID,
			&check.Timestamp,
			&check.OverallStatus,
			&check.Checks.WorkflowExists,
			&check.Checks.WorkflowActive,
			&check.Checks.CredentialsValid,
			&check.Checks.RecentExecution,
			&check.Checks.NoErrors,
			&details,
			&execution,
		); err != nil {
			return nil, err
		}
		if details.Valid {
			check.Details = details.String
		}
		if len(execution) > 0 {
			var data domain.ExecutionData
			if err := json.Unmarshal(execution, &data); err != nil {
				return nil, fmt.Errorf("decode execution data: %w", err)
			}
			check.Execution = &data
		}
		checks = append(checks, check)
	}
	return checks, rows.Err()
}

// CreateNotification inserts a notification.
func (r *Repository) CreateNotification(ctx context.Context, notification *domain.Notification) error {
	return insertNotification(ctx, r.pool, notification)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertNotification(ctx context.Context, db execer, notification *domain.Notification) error {
	const query = `INSERT INTO notifications (id, type, title, message, severity,
			related_entity_type, related_entity_id, read, dismissed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := db.Exec(ctx, query,
		notification.ID,
		notification.Type,
		notification.Title,
		notification.Message,
		notification.Severity,
		notification.RelatedEntityType,
		notification.RelatedEntityID,
		notification.Read,
		notification.Dismissed,
		notification.CreatedAt,
	)
	return mapPgError(err)
}

// ListNotifications returns recent notifications, newest first.
func (r *Repository) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, type, title, message, severity,
			related_entity_type, related_entity_id, read, dismissed, created_at
		FROM notifications
		WHERE dismissed = FALSE AND ($1 = FALSE OR read = FALSE)
		ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]domain.Notification, 0)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID,
			&n.Type,
			&n.Title,
			&n.Message,
			&n.Severity,
			&n.RelatedEntityType,
			&n.RelatedEntityID,
			&n.Read,
			&n.Dismissed,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead flags a notification as read.
func (r *Repository) MarkNotificationRead(ctx context.Context, notificationID string) error {
	const query = `UPDATE notifications SET read = TRUE WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, notificationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DismissNotification flags a notification as dismissed.
func (r *Repository) DismissNotification(ctx context.Context, notificationID string) error {
	const query = `UPDATE notifications SET dismissed = TRUE WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, notificationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

const credentialColumns = `key, deployment_id, external_reference_id, display_name, type, status,
	encrypted_value, created_at, updated_at, expires_at`

// CreateCredential inserts a credential record.
func (r *Repository) CreateCredential(ctx context.Context, credential *domain.Credential) error {
	const query = `INSERT INTO credentials (key, deployment_id, external_reference_id, display_name,
			type, status, encrypted_value, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		credential.Key,
		credential.DeploymentID,
		emptyToNil(credential.ExternalReferenceID),
		credential.DisplayName,
		credential.Type,
		credential.Status,
		credential.EncryptedValue,
		credential.CreatedAt,
		timePtrToNil(credential.UpdatedAt),
		timePtrToNil(credential.ExpiresAt),
	)
	return mapPgError(err)
}

// GetCredentialByKey fetches a credential record.
func (r *Repository) GetCredentialByKey(ctx context.Context, key string) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE key = $1`
	row := r.pool.QueryRow(ctx, query, key)
	credential, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return credential, nil
}

// ListCredentialsByDeployment returns credentials owned by a deployment.
func (r *Repository) ListCredentialsByDeployment(ctx context.Context, deploymentID string) ([]domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE deployment_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	credentials := make([]domain.Credential, 0)
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, *credential)
	}
	return credentials, rows.Err()
}

// UpdateCredentialStatus transitions a credential's status.
func (r *Repository) UpdateCredentialStatus(ctx context.Context, key, status string) error {
	const query = `UPDATE credentials SET status = $2, updated_at = NOW() WHERE key = $1`
	tag, err := r.pool.Exec(ctx, query, key, status)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateCredentialValue replaces the stored encrypted value.
func (r *Repository) UpdateCredentialValue(ctx context.Context, key, encryptedValue string) error {
	const query = `UPDATE credentials SET encrypted_value = $2, updated_at = NOW() WHERE key = $1`
	tag, err := r.pool.Exec(ctx, query, key, encryptedValue)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (*domain.Deployment, error) {
	var (
		d              domain.Deployment
		healthURL      sql.NullString
		lastChecked    sql.NullTime
		errorsJSON     []byte
		lastExecTime   sql.NullTime
		lastExecStatus sql.NullString
	)
	if err := row.Scan(
		&d.ID,
		&d.ClientID,
		&d.WorkflowID,
		&d.WorkflowName,
		&d.Status,
		&healthURL,
		&lastChecked,
		&d.Health.Healthy,
		&d.Health.ErrorCount,
		&d.Health.ConsecutiveErrors,
		&errorsJSON,
		&lastExecTime,
		&lastExecStatus,
		&d.Health.Version,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if healthURL.Valid {
		d.HealthURL = healthURL.String
	}
	if lastChecked.Valid {
		d.Health.LastChecked = lastChecked.Time.UTC()
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &d.Health.Errors); err != nil {
			return nil, fmt.Errorf("decode error history: %w", err)
		}
	}
	if lastExecTime.Valid {
		value := lastExecTime.Time.UTC()
		d.Health.LastExecutionTime = &value
	}
	if lastExecStatus.Valid {
		d.Health.LastExecutionStatus = lastExecStatus.String
	}
	return &d, nil
}

func scanCredential(row rowScanner) (*domain.Credential, error) {
	var (
		c           domain.Credential
		externalRef sql.NullString
		updatedAt   sql.NullTime
		expiresAt   sql.NullTime
	)
	if err := row.Scan(
		&c.Key,
		&c.DeploymentID,
		&externalRef,
		&c.DisplayName,
		&c.Type,
		&c.Status,
		&c.EncryptedValue,
		&c.CreatedAt,
		&updatedAt,
		&expiresAt,
	); err != nil {
		return nil, err
	}
	if externalRef.Valid {
		c.ExternalReferenceID = externalRef.String
	}
	if updatedAt.Valid {
		value := updatedAt.Time.UTC()
		c.UpdatedAt = &value
	}
	if expiresAt.Valid {
		value := expiresAt.Time.UTC()
		c.ExpiresAt = &value
	}
	return &c, nil
}

func marshalHealthErrors(entries []domain.HealthError) ([]byte, error) {
	if entries == nil {
		entries = []domain.HealthError{}
	}
	return json.Marshal(entries)
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23505", "23514", "22P02":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

func emptyToNil(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func timePtrToNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nilTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
