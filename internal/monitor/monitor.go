// Package monitor evaluates a tenant's usage after every metered request
// and raises threshold / quota-exceeded events at most once per billing
// cycle. Nothing here may fail the request that triggered the metering:
// every error path logs and degrades to "do not notify this time".
package monitor

import (
	"context"
	"encoding/json"

	"github.com/smoradi/webhook-notifier/internal/metrics"
	"github.com/smoradi/webhook-notifier/internal/model"
	"github.com/smoradi/webhook-notifier/internal/repository"
	"go.uber.org/zap"
)

const (
	Threshold80  = 80
	Threshold100 = 100
)

// Enqueuer is the slice of the delivery queue the monitor needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, tenantID string, event model.EventType, payload []byte) error
}

type Monitor struct {
	markers repository.MarkersRepository
	queue   Enqueuer
	log     *zap.Logger
}

func New(markers repository.MarkersRepository, queue Enqueuer, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{markers: markers, queue: queue, log: log}
}

// OnMeteredRequest runs the threshold check for one usage sample. It never
// returns an error: the metering caller must not block or fail on anything
// that happens here.
func (m *Monitor) OnMeteredRequest(ctx context.Context, u model.UsageEvent) {
	if err := u.Validate(); err != nil {
		m.log.Warn("dropping invalid usage event", zap.Error(err))
		return
	}

	percentage := float64(u.CurrentUsage) / float64(u.Limit) * 100

	switch {
	case percentage >= 100:
		m.notify100(ctx, u, percentage)
	case percentage >= 80:
		m.notify80(ctx, u, percentage)
	}
}

func (m *Monitor) notify80(ctx context.Context, u model.UsageEvent, percentage float64) {
	notified, err := m.markers.Exists(ctx, u.TenantID, Threshold80, u.BillingCycleStart)
	if err != nil {
		m.log.Error("dedup check failed, skipping notification",
			zap.String("tenant_id", u.TenantID), zap.Int("threshold", Threshold80), zap.Error(err))
		return
	}
	if notified {
		return
	}

	m.raise(ctx, u, model.EventThreshold80, thresholdPayload(u, Threshold80, percentage))

	if err := m.markers.Mark(ctx, u.TenantID, Threshold80, u.BillingCycleStart); err != nil {
		m.log.Error("mark notified failed",
			zap.String("tenant_id", u.TenantID), zap.Int("threshold", Threshold80), zap.Error(err))
	}
}

// notify100 gates both the 100% threshold event and quota.exceeded on the
// same marker: once the 100 marker exists, overage is not re-announced for
// the rest of the cycle.
func (m *Monitor) notify100(ctx context.Context, u model.UsageEvent, percentage float64) {
	notified, err := m.markers.Exists(ctx, u.TenantID, Threshold100, u.BillingCycleStart)
	if err != nil {
		m.log.Error("dedup check failed, skipping notification",
			zap.String("tenant_id", u.TenantID), zap.Int("threshold", Threshold100), zap.Error(err))
		return
	}
	if notified {
		return
	}

	m.raise(ctx, u, model.EventThreshold100, thresholdPayload(u, Threshold100, percentage))

	if u.CurrentUsage > u.Limit {
		overage := u.CurrentUsage - u.Limit
		m.raise(ctx, u, model.EventQuotaExceeded, model.NewEnvelope(
			model.EventQuotaExceeded, u.TenantID, nil, model.UsageData{
				CurrentUsage:      u.CurrentUsage,
				Limit:             u.Limit,
				Overage:           &overage,
				BillingCycleStart: u.BillingCycleStart,
			}))
	}

	if err := m.markers.Mark(ctx, u.TenantID, Threshold100, u.BillingCycleStart); err != nil {
		m.log.Error("mark notified failed",
			zap.String("tenant_id", u.TenantID), zap.Int("threshold", Threshold100), zap.Error(err))
	}
}

// raise hands the event to the delivery queue; enqueue errors are logged
// and swallowed.
func (m *Monitor) raise(ctx context.Context, u model.UsageEvent, event model.EventType, env model.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		m.log.Error("marshal event payload failed", zap.String("event", event.String()), zap.Error(err))
		return
	}

	if err := m.queue.Enqueue(ctx, u.TenantID, event, payload); err != nil {
		m.log.Error("enqueue failed",
			zap.String("tenant_id", u.TenantID), zap.String("event", event.String()), zap.Error(err))
		return
	}

	metrics.EventsRaisedTotal.WithLabelValues(event.String()).Inc()
	m.log.Info("event raised",
		zap.String("tenant_id", u.TenantID),
		zap.String("event", event.String()),
		zap.Int64("current_usage", u.CurrentUsage),
		zap.Int64("limit", u.Limit))
}

func thresholdPayload(u model.UsageEvent, threshold int, percentage float64) model.Envelope {
	return model.NewEnvelope(
		eventForThreshold(threshold), u.TenantID, &threshold, model.UsageData{
			CurrentUsage:      u.CurrentUsage,
			Limit:             u.Limit,
			Percentage:        &percentage,
			BillingCycleStart: u.BillingCycleStart,
		})
}

func eventForThreshold(threshold int) model.EventType {
	if threshold == Threshold100 {
		return model.EventThreshold100
	}
	return model.EventThreshold80
}
