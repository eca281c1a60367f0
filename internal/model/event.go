package model

import "time"

type EventType string

const (
	EventThreshold80   EventType = "usage.threshold.80"
	EventThreshold100  EventType = "usage.threshold.100"
	EventQuotaExceeded EventType = "usage.quota.exceeded"
)

func (t EventType) String() string { return string(t) }

func (t EventType) Valid() bool {
	return t == EventThreshold80 || t == EventThreshold100 || t == EventQuotaExceeded
}

// EventTypes lists every event a webhook can subscribe to.
func EventTypes() []string {
	return []string{
		EventThreshold80.String(),
		EventThreshold100.String(),
		EventQuotaExceeded.String(),
	}
}

// UsageData is the "data" object of a delivered payload.
type UsageData struct {
	CurrentUsage      int64    `json:"current_usage"`
	Limit             int64    `json:"limit"`
	Percentage        *float64 `json:"percentage,omitempty"`
	Overage           *int64   `json:"overage,omitempty"`
	BillingCycleStart string   `json:"billing_cycle_start"` // YYYY-MM-DD
}

// Envelope is the JSON body POSTed to a tenant endpoint. The body is built
// once at enqueue time and stays byte-identical across retries; only the
// signature headers change per attempt.
type Envelope struct {
	Event     EventType `json:"event"`
	ClientID  string    `json:"client_id"`
	Threshold *int      `json:"threshold,omitempty"` // 80 | 100, absent for quota.exceeded
	Timestamp string    `json:"timestamp"`           // ISO-8601
	Data      UsageData `json:"data"`
}

// NewEnvelope stamps the envelope with the current time in RFC 3339.
func NewEnvelope(event EventType, tenantID string, threshold *int, data UsageData) Envelope {
	return Envelope{
		Event:     event,
		ClientID:  tenantID,
		Threshold: threshold,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
}
