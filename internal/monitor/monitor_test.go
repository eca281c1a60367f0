package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/smoradi/webhook-notifier/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarkers struct {
	set       map[string]bool
	existsErr error
	markErr   error
}

func newFakeMarkers() *fakeMarkers {
	return &fakeMarkers{set: make(map[string]bool)}
}

func markerKey(tenantID string, threshold int, cycle string) string {
	return fmt.Sprintf("%s|%d|%s", tenantID, threshold, cycle)
}

func (f *fakeMarkers) Exists(_ context.Context, tenantID string, threshold int, cycle string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.set[markerKey(tenantID, threshold, cycle)], nil
}

func (f *fakeMarkers) Mark(_ context.Context, tenantID string, threshold int, cycle string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.set[markerKey(tenantID, threshold, cycle)] = true
	return nil
}

type raised struct {
	tenantID string
	event    model.EventType
	payload  []byte
}

type fakeQueue struct {
	raised []raised
	err    error
}

func (f *fakeQueue) Enqueue(_ context.Context, tenantID string, event model.EventType, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.raised = append(f.raised, raised{tenantID: tenantID, event: event, payload: payload})
	return nil
}

func usage(current, limit int64) model.UsageEvent {
	return model.UsageEvent{
		TenantID:          "tenant-1",
		CurrentUsage:      current,
		Limit:             limit,
		BillingCycleStart: "2026-08-01",
	}
}

func TestFirstCrossingAt80RaisesOnce(t *testing.T) {
	markers := newFakeMarkers()
	queue := &fakeQueue{}
	m := New(markers, queue, nil)

	m.OnMeteredRequest(context.Background(), usage(8000, 10000))

	require.Len(t, queue.raised, 1)
	assert.Equal(t, model.EventThreshold80, queue.raised[0].event)
	assert.Equal(t, "tenant-1", queue.raised[0].tenantID)

	var env model.Envelope
	require.NoError(t, json.Unmarshal(queue.raised[0].payload, &env))
	assert.Equal(t, model.EventThreshold80, env.Event)
	assert.Equal(t, "tenant-1", env.ClientID)
	require.NotNil(t, env.Threshold)
	assert.Equal(t, 80, *env.Threshold)
	assert.Equal(t, int64(8000), env.Data.CurrentUsage)
	assert.Equal(t, int64(10000), env.Data.Limit)
	require.NotNil(t, env.Data.Percentage)
	assert.InDelta(t, 80.0, *env.Data.Percentage, 0.001)
	assert.Equal(t, "2026-08-01", env.Data.BillingCycleStart)
	assert.NotEmpty(t, env.Timestamp)
}

func TestRepeatedCrossingIsIdempotent(t *testing.T) {
	markers := newFakeMarkers()
	queue := &fakeQueue{}
	m := New(markers, queue, nil)

	m.OnMeteredRequest(context.Background(), usage(8000, 10000))
	m.OnMeteredRequest(context.Background(), usage(8001, 10000))
	m.OnMeteredRequest(context.Background(), usage(9500, 10000))

	assert.Len(t, queue.raised, 1)
}

func TestBelowThresholdRaisesNothing(t *testing.T) {
	markers := newFakeMarkers()
	queue := &fakeQueue{}
	m := New(markers, queue, nil)

	m.OnMeteredRequest(context.Background(), usage(7999, 10000))

	assert.Empty(t, queue.raised)
	assert.Empty(t, markers.set)
}

func TestOverageBundlesQuotaExceeded(t *testing.T) {
	markers := newFakeMarkers()
	queue := &fakeQueue{}
	m := New(markers, queue, nil)

	m.OnMeteredRequest(context.Background(), usage(10500, 10000))

	require.Len(t, queue.raised, 2)
	assert.Equal(t, model.EventThreshold100, queue.raised[0].event)
	assert.Equal(t, model.EventQuotaExceeded, queue.raised[1].event)

	var env model.Envelope
	require.NoError(t, json.Unmarshal(queue.raised[1].payload, &env))
	assert.Nil(t, env.Threshold)
	require.NotNil(t, env.Data.Overage)
	assert.Equal(t, int64(500), *env.Data.Overage)

	// the 100 marker gates both events: repeated overage is silent
	m.OnMeteredRequest(context.Background(), usage(12000, 10000))
	assert.Len(t, queue.raised, 2)
}

func TestExactlyAtLimitRaisesOnlyThreshold(t *testing.T) {
	markers := newFakeMarkers()
	queue := &fakeQueue{}
	m := New(markers, queue, nil)

	m.OnMeteredRequest(context.Background(), usage(10000, 10000))

	require.Len(t, queue.raised, 1)
	assert.Equal(t, model.EventThreshold100, queue.raised[0].event)
}

func TestNewBillingCycleFiresAgain(t *testing.T) {
	markers := newFakeMarkers()
	queue := &fakeQueue{}
	m := New(markers, queue, nil)

	u := usage(8000, 10000)
	m.OnMeteredRequest(context.Background(), u)

	u.BillingCycleStart = "2026-09-01"
	m.OnMeteredRequest(context.Background(), u)

	assert.Len(t, queue.raised, 2)
}

func TestDedupCheckErrorSkipsNotification(t *testing.T) {
	markers := newFakeMarkers()
	markers.existsErr = errors.New("db down")
	queue := &fakeQueue{}
	m := New(markers, queue, nil)

	m.OnMeteredRequest(context.Background(), usage(8000, 10000))

	assert.Empty(t, queue.raised)
}

func TestEnqueueErrorIsSwallowed(t *testing.T) {
	markers := newFakeMarkers()
	queue := &fakeQueue{err: errors.New("queue down")}
	m := New(markers, queue, nil)

	// must not panic and must not propagate
	m.OnMeteredRequest(context.Background(), usage(8000, 10000))

	assert.Empty(t, queue.raised)
	// the marker is still written: at most one notification pass per cycle
	assert.True(t, markers.set[markerKey("tenant-1", 80, "2026-08-01")])
}

func TestInvalidUsageEventDropped(t *testing.T) {
	markers := newFakeMarkers()
	queue := &fakeQueue{}
	m := New(markers, queue, nil)

	m.OnMeteredRequest(context.Background(), model.UsageEvent{TenantID: "", CurrentUsage: 1, Limit: 10, BillingCycleStart: "2026-08-01"})
	m.OnMeteredRequest(context.Background(), model.UsageEvent{TenantID: "t", CurrentUsage: 1, Limit: 0, BillingCycleStart: "2026-08-01"})
	m.OnMeteredRequest(context.Background(), model.UsageEvent{TenantID: "t", CurrentUsage: 1, Limit: 10, BillingCycleStart: "not-a-date"})

	assert.Empty(t, queue.raised)
}
