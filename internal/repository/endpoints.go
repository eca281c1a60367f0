package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/smoradi/webhook-notifier/internal/model"
)

// EndpointsRepository defines persistence for the webhook_endpoints table.
// Tenant scoping on mutations is enforced in the WHERE clause; reads used by
// the delivery path load by id alone (the record carries its tenant).
type EndpointsRepository interface {
	Insert(ctx context.Context, e model.EndpointConfig) error
	GetByID(ctx context.Context, id string) (*model.EndpointConfig, error)
	ListByTenant(ctx context.Context, tenantID string) ([]model.EndpointConfig, error)
	ListActiveForEvent(ctx context.Context, tenantID, eventType string) ([]model.EndpointConfig, error)
	Update(ctx context.Context, tenantID, id string, u model.EndpointUpdate) (bool, error)
	UpdateSecret(ctx context.Context, tenantID, id, secret string) (bool, error)
	Delete(ctx context.Context, tenantID, id string) (bool, error)
}

type EndpointsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEndpointsRepository(db *sqlx.DB) *EndpointsRepositoryImpl {
	return &EndpointsRepositoryImpl{db: db}
}

var _ EndpointsRepository = (*EndpointsRepositoryImpl)(nil)

const endpointColumns = `
	id, tenant_id, url, secret, enabled, subscribed_events, custom_headers,
	timeout_ms, created_by, created_at, updated_at
`

func (r *EndpointsRepositoryImpl) Insert(ctx context.Context, e model.EndpointConfig) error {
	const q = `
		INSERT INTO webhook_endpoints
		    (id, tenant_id, url, secret, enabled, subscribed_events, custom_headers, timeout_ms, created_by, created_at, updated_at)
		VALUES
		    (?,  ?,         ?,   ?,      ?,       ?,                 ?,              ?,          ?,          NOW(),      NOW())
	`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.TenantID, e.URL, e.Secret, e.Enabled,
		e.SubscribedEvents, e.CustomHeaders, e.TimeoutMs, e.CreatedBy,
	)
	return err
}

func (r *EndpointsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.EndpointConfig, error) {
	var e model.EndpointConfig
	err := r.db.GetContext(ctx, &e, `
		SELECT `+endpointColumns+`
		  FROM webhook_endpoints
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EndpointsRepositoryImpl) ListByTenant(ctx context.Context, tenantID string) ([]model.EndpointConfig, error) {
	var out []model.EndpointConfig
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+endpointColumns+`
		  FROM webhook_endpoints
		 WHERE tenant_id = ?
		 ORDER BY created_at DESC
	`, tenantID)
	return out, err
}

// ListActiveForEvent returns the enabled endpoints of a tenant subscribed to
// eventType; the fan-out at enqueue time is exactly this set.
func (r *EndpointsRepositoryImpl) ListActiveForEvent(ctx context.Context, tenantID, eventType string) ([]model.EndpointConfig, error) {
	var out []model.EndpointConfig
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+endpointColumns+`
		  FROM webhook_endpoints
		 WHERE tenant_id = ?
		   AND enabled = 1
		   AND JSON_CONTAINS(subscribed_events, JSON_QUOTE(?))
		 ORDER BY created_at
	`, tenantID, eventType)
	return out, err
}

// Update applies a partial update. The secret is never touched here; it only
// changes through UpdateSecret (rotation).
func (r *EndpointsRepositoryImpl) Update(ctx context.Context, tenantID, id string, u model.EndpointUpdate) (bool, error) {
	if u.Empty() {
		return r.exists(ctx, tenantID, id)
	}

	var sb strings.Builder
	args := make([]any, 0, 6)

	sb.WriteString("UPDATE webhook_endpoints SET updated_at = NOW()")
	if u.URL != nil {
		sb.WriteString(", url = ?")
		args = append(args, *u.URL)
	}
	if u.Enabled != nil {
		sb.WriteString(", enabled = ?")
		args = append(args, *u.Enabled)
	}
	if u.SubscribedEvents != nil {
		sb.WriteString(", subscribed_events = ?")
		args = append(args, u.SubscribedEvents)
	}
	if u.CustomHeaders != nil {
		sb.WriteString(", custom_headers = ?")
		args = append(args, u.CustomHeaders)
	}
	if u.TimeoutMs != nil {
		sb.WriteString(", timeout_ms = ?")
		args = append(args, *u.TimeoutMs)
	}
	sb.WriteString(" WHERE id = ? AND tenant_id = ?")
	args = append(args, id, tenantID)

	res, err := r.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	// zero rows can mean "no such endpoint" or "values unchanged"
	return r.exists(ctx, tenantID, id)
}

// UpdateSecret replaces the secret atomically. The delivery path reads the
// row fresh per attempt, so the old secret stops signing immediately.
func (r *EndpointsRepositoryImpl) UpdateSecret(ctx context.Context, tenantID, id, secret string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_endpoints
		   SET secret = ?, updated_at = NOW()
		 WHERE id = ? AND tenant_id = ?
	`, secret, id, tenantID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *EndpointsRepositoryImpl) Delete(ctx context.Context, tenantID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM webhook_endpoints WHERE id = ? AND tenant_id = ?
	`, id, tenantID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *EndpointsRepositoryImpl) exists(ctx context.Context, tenantID, id string) (bool, error) {
	var one int
	err := r.db.GetContext(ctx, &one, `
		SELECT 1 FROM webhook_endpoints WHERE id = ? AND tenant_id = ? LIMIT 1
	`, id, tenantID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
