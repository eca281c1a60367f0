package model

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string {
	return string(s)
}

func (s DeliveryStatus) Valid() bool {
	return s == DeliveryPending || s == DeliveryRetrying || s == DeliverySuccess || s == DeliveryFailed
}

// Terminal reports whether the status admits no further attempts.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliverySuccess || s == DeliveryFailed
}

// DeliveryRecord is one (endpoint, event) delivery and its attempt history
// summary, persisted in the deliveries table. Rows are never deleted; they
// double as the audit trail.
type DeliveryRecord struct {
	ID                 string          `db:"id" json:"id"`
	EndpointID         string          `db:"endpoint_id" json:"endpoint_id"`
	TenantID           string          `db:"tenant_id" json:"tenant_id"`
	EventType          EventType       `db:"event_type" json:"event_type"`
	Payload            json.RawMessage `db:"payload" json:"payload"`
	Status             DeliveryStatus  `db:"status" json:"status"`
	AttemptCount       int             `db:"attempt_count" json:"attempt_count"`
	MaxAttempts        int             `db:"max_attempts" json:"max_attempts"`
	LastResponseStatus *int            `db:"last_response_status" json:"last_response_status,omitempty"`
	LastResponseBody   *string         `db:"last_response_body" json:"last_response_body,omitempty"`
	LastError          *string         `db:"last_error" json:"last_error,omitempty"`
	NextRetryAt        *time.Time      `db:"next_retry_at" json:"next_retry_at,omitempty"`
	DeliveredAt        *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}
