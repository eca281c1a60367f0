package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// MarkersRepository is the notification dedup store. The unique key on
// (tenant_id, threshold, billing_cycle_start) is the only concurrency
// mechanism: two requests crossing a threshold at once both call Mark, one
// insert wins, and the no-op duplicate is not an error.
type MarkersRepository interface {
	Exists(ctx context.Context, tenantID string, threshold int, billingCycleStart string) (bool, error)
	Mark(ctx context.Context, tenantID string, threshold int, billingCycleStart string) error
}

type MarkersRepositoryImpl struct {
	db *sqlx.DB
}

func NewMarkersRepository(db *sqlx.DB) *MarkersRepositoryImpl {
	return &MarkersRepositoryImpl{db: db}
}

var _ MarkersRepository = (*MarkersRepositoryImpl)(nil)

func (r *MarkersRepositoryImpl) Exists(ctx context.Context, tenantID string, threshold int, billingCycleStart string) (bool, error) {
	var one int
	err := r.db.GetContext(ctx, &one, `
		SELECT 1
		  FROM notification_markers
		 WHERE tenant_id = ? AND threshold = ? AND billing_cycle_start = ?
		 LIMIT 1
	`, tenantID, threshold, billingCycleStart)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *MarkersRepositoryImpl) Mark(ctx context.Context, tenantID string, threshold int, billingCycleStart string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_markers (tenant_id, threshold, billing_cycle_start, notified_at)
		VALUES (?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE tenant_id = tenant_id
	`, tenantID, threshold, billingCycleStart)
	return err
}
