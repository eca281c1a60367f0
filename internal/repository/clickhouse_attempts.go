package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/smoradi/webhook-notifier/internal/model"
)

// CHAttemptsRepository is the append-only delivery attempt audit log in
// ClickHouse. Writes are best-effort: the dispatcher logs and moves on when
// the sink is down, since MySQL remains the source of truth for state.
type CHAttemptsRepository interface {
	Insert(ctx context.Context, a model.DeliveryAttempt) error
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]model.DeliveryAttempt, error)
}

type chAttemptsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHAttemptsRepository(ch *sqlx.DB) CHAttemptsRepository {
	return &chAttemptsRepository{ch: ch}
}

func (r *chAttemptsRepository) Insert(ctx context.Context, a model.DeliveryAttempt) error {
	const q = `
		INSERT INTO webhooks.delivery_attempts
		    (delivery_id, tenant_id, endpoint_id, event_type, attempt_no, outcome, response_status, latency_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.ch.ExecContext(ctx, q,
		a.DeliveryID, a.TenantID, a.EndpointID, a.EventType,
		a.AttemptNo, a.Outcome, a.ResponseStatus, a.LatencyMs, a.Error, a.CreatedAt,
	)
	return err
}

func (r *chAttemptsRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]model.DeliveryAttempt, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var rows []model.DeliveryAttempt
	err := r.ch.SelectContext(ctx, &rows, `
		SELECT delivery_id, tenant_id, endpoint_id, event_type, attempt_no,
		       outcome, response_status, latency_ms, error, created_at
		  FROM webhooks.delivery_attempts
		 WHERE tenant_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
