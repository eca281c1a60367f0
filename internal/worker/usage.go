package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/smoradi/webhook-notifier/internal/kafka"
	"github.com/smoradi/webhook-notifier/internal/model"
	"github.com/smoradi/webhook-notifier/internal/monitor"
	"go.uber.org/zap"
)

// UsageConsumer feeds metered-usage envelopes from Kafka into the threshold
// monitor. Delivery is at-least-once: every message is committed, poison or
// not, since the dedup markers make redelivered crossings harmless.
type UsageConsumer struct {
	Consumer *kafka.Consumer
	Monitor  *monitor.Monitor
	Log      *zap.Logger
}

func NewUsageConsumer(consumer *kafka.Consumer, mon *monitor.Monitor, log *zap.Logger) *UsageConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &UsageConsumer{Consumer: consumer, Monitor: mon, Log: log}
}

// Run blocks until ctx is cancelled.
func (w *UsageConsumer) Run(ctx context.Context) error {
	w.Log.Info("usage consumer started")

	for {
		m, err := w.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.Log.Info("usage consumer stopped")
				return nil
			}
			w.Log.Warn("kafka fetch failed", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}

		var u model.UsageEvent
		if err := json.Unmarshal(m.Value, &u); err != nil {
			w.Log.Warn("bad usage envelope, skipping", zap.Error(err))
			_ = w.Consumer.Commit(ctx, m)
			continue
		}

		w.Monitor.OnMeteredRequest(ctx, u)

		if err := w.Consumer.Commit(ctx, m); err != nil {
			w.Log.Warn("kafka commit failed", zap.Error(err))
		}
	}
}
