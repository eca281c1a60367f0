package model

import "time"

// NotificationMarker records that a tenant was notified for a threshold
// within a billing cycle. The unique key on (tenant_id, threshold,
// billing_cycle_start) is what prevents double notification; rows are never
// updated and never deleted; a new cycle start yields a fresh triple.
type NotificationMarker struct {
	TenantID          string    `db:"tenant_id"`
	Threshold         int       `db:"threshold"`           // percent: 80 | 100
	BillingCycleStart string    `db:"billing_cycle_start"` // YYYY-MM-DD
	NotifiedAt        time.Time `db:"notified_at"`
}
