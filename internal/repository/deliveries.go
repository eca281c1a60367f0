package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/smoradi/webhook-notifier/internal/model"
)

// DeliveriesRepository defines persistence for the deliveries table. All
// status-changing statements carry `status IN ('pending','retrying')` so
// success and failed are immutable at the SQL layer, whatever the callers do.
type DeliveriesRepository interface {
	Insert(ctx context.Context, rec model.DeliveryRecord) error
	GetByID(ctx context.Context, tenantID, id string) (*model.DeliveryRecord, error)
	// Get loads a record regardless of tenant; used by the delivery loop.
	Get(ctx context.Context, id string) (*model.DeliveryRecord, error)
	ListByTenant(ctx context.Context, tenantID string, status model.DeliveryStatus, event model.EventType, limit int) ([]model.DeliveryRecord, error)
	// ListDue returns non-terminal records whose next_retry_at is unset or
	// has passed, oldest first, for the scanner.
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.DeliveryRecord, error)
	MarkSuccess(ctx context.Context, id string, attemptCount, responseStatus int, responseBody string, deliveredAt time.Time) error
	MarkRetrying(ctx context.Context, id string, attemptCount int, responseStatus *int, responseBody *string, lastErr string, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, id string, attemptCount int, responseStatus *int, responseBody *string, lastErr string) error
}

type DeliveriesRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeliveriesRepository(db *sqlx.DB) *DeliveriesRepositoryImpl {
	return &DeliveriesRepositoryImpl{db: db}
}

var _ DeliveriesRepository = (*DeliveriesRepositoryImpl)(nil)

const deliveryColumns = `
	id, endpoint_id, tenant_id, event_type, payload, status, attempt_count,
	max_attempts, last_response_status, last_response_body, last_error,
	next_retry_at, delivered_at, created_at, updated_at
`

func (r *DeliveriesRepositoryImpl) Insert(ctx context.Context, rec model.DeliveryRecord) error {
	const q = `
		INSERT INTO deliveries
		    (id, endpoint_id, tenant_id, event_type, payload, status, attempt_count, max_attempts, created_at, updated_at)
		VALUES
		    (?,  ?,           ?,         ?,          ?,       'pending', 0,          ?,            NOW(),      NOW())
	`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.EndpointID, rec.TenantID, rec.EventType.String(), rec.Payload, rec.MaxAttempts,
	)
	return err
}

func (r *DeliveriesRepositoryImpl) GetByID(ctx context.Context, tenantID, id string) (*model.DeliveryRecord, error) {
	var rec model.DeliveryRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT `+deliveryColumns+`
		  FROM deliveries
		 WHERE id = ? AND tenant_id = ? LIMIT 1
	`, id, tenantID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *DeliveriesRepositoryImpl) Get(ctx context.Context, id string) (*model.DeliveryRecord, error) {
	var rec model.DeliveryRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT `+deliveryColumns+`
		  FROM deliveries
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *DeliveriesRepositoryImpl) ListByTenant(ctx context.Context, tenantID string, status model.DeliveryStatus, event model.EventType, limit int) ([]model.DeliveryRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	q := `
		SELECT ` + deliveryColumns + `
		  FROM deliveries
		 WHERE tenant_id = ?
	`
	args := []any{tenantID}

	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}
	if event != "" {
		q += " AND event_type = ?"
		args = append(args, event.String())
	}

	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	var out []model.DeliveryRecord
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *DeliveriesRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]model.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.DeliveryRecord
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+deliveryColumns+`
		  FROM deliveries
		 WHERE status IN ('pending', 'retrying')
		   AND attempt_count < max_attempts
		   AND (next_retry_at IS NULL OR next_retry_at <= ?)
		 ORDER BY created_at
		 LIMIT ?
	`, now, limit)
	return out, err
}

func (r *DeliveriesRepositoryImpl) MarkSuccess(ctx context.Context, id string, attemptCount, responseStatus int, responseBody string, deliveredAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		   SET status = 'success',
		       attempt_count = ?,
		       last_response_status = ?,
		       last_response_body = ?,
		       last_error = NULL,
		       next_retry_at = NULL,
		       delivered_at = ?,
		       updated_at = NOW()
		 WHERE id = ? AND status IN ('pending', 'retrying')
	`, attemptCount, responseStatus, responseBody, deliveredAt, id)
	return err
}

func (r *DeliveriesRepositoryImpl) MarkRetrying(ctx context.Context, id string, attemptCount int, responseStatus *int, responseBody *string, lastErr string, nextRetryAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		   SET status = 'retrying',
		       attempt_count = ?,
		       last_response_status = ?,
		       last_response_body = ?,
		       last_error = ?,
		       next_retry_at = ?,
		       updated_at = NOW()
		 WHERE id = ? AND status IN ('pending', 'retrying')
	`, attemptCount, responseStatus, responseBody, lastErr, nextRetryAt, id)
	return err
}

func (r *DeliveriesRepositoryImpl) MarkFailed(ctx context.Context, id string, attemptCount int, responseStatus *int, responseBody *string, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		   SET status = 'failed',
		       attempt_count = ?,
		       last_response_status = ?,
		       last_response_body = ?,
		       last_error = ?,
		       next_retry_at = NULL,
		       updated_at = NOW()
		 WHERE id = ? AND status IN ('pending', 'retrying')
	`, attemptCount, responseStatus, responseBody, lastErr, id)
	return err
}
