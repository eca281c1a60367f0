package model

import "time"

// DeliveryAttempt is one row of the append-only attempt audit log kept in
// ClickHouse. Unlike DeliveryRecord (which summarizes the latest state), an
// attempt row is written per HTTP call and never mutated.
type DeliveryAttempt struct {
	DeliveryID     string    `db:"delivery_id" json:"delivery_id"`
	TenantID       string    `db:"tenant_id" json:"tenant_id"`
	EndpointID     string    `db:"endpoint_id" json:"endpoint_id"`
	EventType      string    `db:"event_type" json:"event_type"`
	AttemptNo      int       `db:"attempt_no" json:"attempt_no"`
	Outcome        string    `db:"outcome" json:"outcome"`                 // success|retrying|failed
	ResponseStatus int32     `db:"response_status" json:"response_status"` // 0 when transport error
	LatencyMs      int64     `db:"latency_ms" json:"latency_ms"`
	Error          string    `db:"error" json:"error,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
