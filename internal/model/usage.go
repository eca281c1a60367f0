package model

import (
	"errors"
	"time"
)

// UsageEvent is the envelope the metering collaborator hands us, either
// inline over HTTP or via the usage.metered Kafka topic, once per counted
// request after the counter increment is durable.
type UsageEvent struct {
	TenantID          string `json:"tenant_id"`
	CurrentUsage      int64  `json:"current_usage"`
	Limit             int64  `json:"limit"`
	BillingCycleStart string `json:"billing_cycle_start"` // YYYY-MM-DD
}

func (u UsageEvent) Validate() error {
	if u.TenantID == "" {
		return errors.New("missing tenant_id")
	}
	if u.CurrentUsage < 0 {
		return errors.New("negative current_usage")
	}
	if u.Limit <= 0 {
		return errors.New("non-positive limit")
	}
	if _, err := time.Parse("2006-01-02", u.BillingCycleStart); err != nil {
		return errors.New("billing_cycle_start must be YYYY-MM-DD")
	}
	return nil
}
