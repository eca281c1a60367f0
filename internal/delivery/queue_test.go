package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/smoradi/webhook-notifier/internal/model"
	"github.com/smoradi/webhook-notifier/internal/signature"
	"github.com/smoradi/webhook-notifier/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fakes ----

type fakeEndpoints struct {
	mu      sync.Mutex
	configs map[string]*model.EndpointConfig
}

func newFakeEndpoints(cfgs ...*model.EndpointConfig) *fakeEndpoints {
	f := &fakeEndpoints{configs: make(map[string]*model.EndpointConfig)}
	for _, c := range cfgs {
		f.configs[c.ID] = c
	}
	return f
}

func (f *fakeEndpoints) Insert(_ context.Context, e model.EndpointConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[e.ID] = &e
	return nil
}

func (f *fakeEndpoints) GetByID(_ context.Context, id string) (*model.EndpointConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.configs[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeEndpoints) ListByTenant(_ context.Context, tenantID string) ([]model.EndpointConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.EndpointConfig
	for _, c := range f.configs {
		if c.TenantID == tenantID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeEndpoints) ListActiveForEvent(_ context.Context, tenantID, eventType string) ([]model.EndpointConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.EndpointConfig
	for _, c := range f.configs {
		if c.TenantID == tenantID && c.Enabled && c.SubscribedEvents.Contains(eventType) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeEndpoints) Update(context.Context, string, string, model.EndpointUpdate) (bool, error) {
	return false, nil
}

func (f *fakeEndpoints) UpdateSecret(_ context.Context, _, id, secret string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.configs[id]
	if !ok {
		return false, nil
	}
	c.Secret = secret
	return true, nil
}

func (f *fakeEndpoints) Delete(_ context.Context, _, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.configs[id]
	delete(f.configs, id)
	return ok, nil
}

type fakeDeliveries struct {
	mu   sync.Mutex
	recs map[string]*model.DeliveryRecord
}

func newFakeDeliveries() *fakeDeliveries {
	return &fakeDeliveries{recs: make(map[string]*model.DeliveryRecord)}
}

func (f *fakeDeliveries) Insert(_ context.Context, rec model.DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.Status = model.DeliveryPending
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	f.recs[rec.ID] = &rec
	return nil
}

func (f *fakeDeliveries) Get(_ context.Context, id string) (*model.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeDeliveries) GetByID(_ context.Context, tenantID, id string) (*model.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok || r.TenantID != tenantID {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeDeliveries) ListByTenant(_ context.Context, tenantID string, status model.DeliveryStatus, event model.EventType, limit int) ([]model.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DeliveryRecord
	for _, r := range f.recs {
		if r.TenantID != tenantID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		if event != "" && r.EventType != event {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeDeliveries) ListDue(_ context.Context, now time.Time, limit int) ([]model.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DeliveryRecord
	for _, r := range f.recs {
		if r.Status.Terminal() || r.AttemptCount >= r.MaxAttempts {
			continue
		}
		if r.NextRetryAt != nil && r.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeDeliveries) MarkSuccess(_ context.Context, id string, attemptCount, responseStatus int, responseBody string, deliveredAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok || r.Status.Terminal() {
		return nil
	}
	r.Status = model.DeliverySuccess
	r.AttemptCount = attemptCount
	r.LastResponseStatus = &responseStatus
	r.LastResponseBody = &responseBody
	r.LastError = nil
	r.NextRetryAt = nil
	r.DeliveredAt = &deliveredAt
	r.UpdatedAt = time.Now()
	return nil
}

func (f *fakeDeliveries) MarkRetrying(_ context.Context, id string, attemptCount int, responseStatus *int, responseBody *string, lastErr string, nextRetryAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok || r.Status.Terminal() {
		return nil
	}
	r.Status = model.DeliveryRetrying
	r.AttemptCount = attemptCount
	r.LastResponseStatus = responseStatus
	r.LastResponseBody = responseBody
	r.LastError = &lastErr
	r.NextRetryAt = &nextRetryAt
	r.UpdatedAt = time.Now()
	return nil
}

func (f *fakeDeliveries) MarkFailed(_ context.Context, id string, attemptCount int, responseStatus *int, responseBody *string, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok || r.Status.Terminal() {
		return nil
	}
	r.Status = model.DeliveryFailed
	r.AttemptCount = attemptCount
	r.LastResponseStatus = responseStatus
	r.LastResponseBody = responseBody
	r.LastError = &lastErr
	r.NextRetryAt = nil
	r.UpdatedAt = time.Now()
	return nil
}

// ---- helpers ----

func testEndpoint(url, secret string) *model.EndpointConfig {
	return &model.EndpointConfig{
		ID:               util.NewID(),
		TenantID:         "tenant-1",
		URL:              url,
		Secret:           secret,
		Enabled:          true,
		SubscribedEvents: model.EventTypes(),
		TimeoutMs:        2000,
	}
}

func pendingRecord(cfg *model.EndpointConfig, payload []byte) model.DeliveryRecord {
	return model.DeliveryRecord{
		ID:          util.NewID(),
		EndpointID:  cfg.ID,
		TenantID:    cfg.TenantID,
		EventType:   model.EventThreshold80,
		Payload:     payload,
		Status:      model.DeliveryPending,
		MaxAttempts: 3,
	}
}

func newTestQueue(endpoints *fakeEndpoints, deliveries *fakeDeliveries) *Queue {
	return New(endpoints, deliveries, nil, nil, nil, Options{DefaultTimeout: 2 * time.Second})
}

// ---- tests ----

func TestEnqueueFansOutPerSubscribedEndpoint(t *testing.T) {
	secret, _ := signature.GenerateSecret()
	ep1 := testEndpoint("http://one.example/hook", secret)
	ep2 := testEndpoint("http://two.example/hook", secret)
	disabled := testEndpoint("http://three.example/hook", secret)
	disabled.Enabled = false
	otherEvent := testEndpoint("http://four.example/hook", secret)
	otherEvent.SubscribedEvents = model.StringList{model.EventQuotaExceeded.String()}

	endpoints := newFakeEndpoints(ep1, ep2, disabled, otherEvent)
	deliveries := newFakeDeliveries()
	q := newTestQueue(endpoints, deliveries)

	err := q.Enqueue(context.Background(), "tenant-1", model.EventThreshold80, []byte(`{"x":1}`))
	require.NoError(t, err)

	recs, err := deliveries.ListByTenant(context.Background(), "tenant-1", "", "", 100)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, model.DeliveryPending, r.Status)
		assert.Equal(t, 0, r.AttemptCount)
		assert.Equal(t, model.EventThreshold80, r.EventType)
	}
}

func TestAttemptSuccessRecordsResponse(t *testing.T) {
	secret, _ := signature.GenerateSecret()

	var gotBody []byte
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer srv.Close()

	cfg := testEndpoint(srv.URL, secret)
	cfg.CustomHeaders = model.HeaderMap{"X-Env": "staging"}
	endpoints := newFakeEndpoints(cfg)
	deliveries := newFakeDeliveries()
	q := newTestQueue(endpoints, deliveries)

	rec := pendingRecord(cfg, []byte(`{"event":"usage.threshold.80"}`))
	require.NoError(t, deliveries.Insert(context.Background(), rec))

	q.attempt(context.Background(), rec)

	got, err := deliveries.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.DeliverySuccess, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.LastResponseStatus)
	assert.Equal(t, http.StatusOK, *got.LastResponseStatus)
	require.NotNil(t, got.LastResponseBody)
	assert.Equal(t, `{"received":true}`, *got.LastResponseBody)
	require.NotNil(t, got.DeliveredAt)
	assert.Nil(t, got.NextRetryAt)

	// headers: signature verifies against the endpoint secret
	sig := gotHeaders.Get("X-Webhook-Signature")
	ts := gotHeaders.Get("X-Webhook-Timestamp")
	assert.True(t, signature.Verify(gotBody, sig, ts, secret, signature.DefaultTolerance))
	assert.Equal(t, "v1", gotHeaders.Get("X-Webhook-Signature-Version"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "webhook-notifier/1.0", gotHeaders.Get("User-Agent"))
	assert.Equal(t, "staging", gotHeaders.Get("X-Env"))
}

func TestRetryThenSuccess(t *testing.T) {
	secret, _ := signature.GenerateSecret()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testEndpoint(srv.URL, secret)
	endpoints := newFakeEndpoints(cfg)
	deliveries := newFakeDeliveries()
	q := newTestQueue(endpoints, deliveries)

	rec := pendingRecord(cfg, []byte(`{}`))
	require.NoError(t, deliveries.Insert(context.Background(), rec))

	q.attempt(context.Background(), rec)

	after1, _ := deliveries.Get(context.Background(), rec.ID)
	require.NotNil(t, after1)
	assert.Equal(t, model.DeliveryRetrying, after1.Status)
	assert.Equal(t, 1, after1.AttemptCount)
	require.NotNil(t, after1.NextRetryAt)
	assert.WithinDuration(t, time.Now().Add(Backoff(1)), *after1.NextRetryAt, 500*time.Millisecond)
	require.NotNil(t, after1.LastResponseStatus)
	assert.Equal(t, http.StatusInternalServerError, *after1.LastResponseStatus)

	q.attempt(context.Background(), *after1)

	after2, _ := deliveries.Get(context.Background(), rec.ID)
	require.NotNil(t, after2)
	assert.Equal(t, model.DeliverySuccess, after2.Status)
	assert.Equal(t, 2, after2.AttemptCount)
	assert.NotNil(t, after2.DeliveredAt)
}

func TestPermanentFailureAfterMaxAttempts(t *testing.T) {
	secret, _ := signature.GenerateSecret()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testEndpoint(srv.URL, secret)
	endpoints := newFakeEndpoints(cfg)
	deliveries := newFakeDeliveries()
	q := newTestQueue(endpoints, deliveries)

	rec := pendingRecord(cfg, []byte(`{}`))
	require.NoError(t, deliveries.Insert(context.Background(), rec))

	var prevRetry time.Time
	for i := 0; i < 3; i++ {
		cur, _ := deliveries.Get(context.Background(), rec.ID)
		require.NotNil(t, cur)
		q.attempt(context.Background(), *cur)

		// backoff schedule is non-decreasing while retrying
		got, _ := deliveries.Get(context.Background(), rec.ID)
		if got.NextRetryAt != nil {
			assert.False(t, got.NextRetryAt.Before(prevRetry))
			prevRetry = *got.NextRetryAt
		}
	}

	got, _ := deliveries.Get(context.Background(), rec.ID)
	require.NotNil(t, got)
	assert.Equal(t, model.DeliveryFailed, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Nil(t, got.DeliveredAt)
	assert.Nil(t, got.NextRetryAt)

	// terminal: a further nudge performs no attempt and no counter change
	q.attemptByID(context.Background(), rec.ID)
	after, _ := deliveries.Get(context.Background(), rec.ID)
	assert.Equal(t, 3, after.AttemptCount)
	assert.Equal(t, model.DeliveryFailed, after.Status)
}

func TestTimeoutCountsAsFailedAttempt(t *testing.T) {
	secret, _ := signature.GenerateSecret()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testEndpoint(srv.URL, secret)
	cfg.TimeoutMs = 50
	endpoints := newFakeEndpoints(cfg)
	deliveries := newFakeDeliveries()
	q := newTestQueue(endpoints, deliveries)

	rec := pendingRecord(cfg, []byte(`{}`))
	require.NoError(t, deliveries.Insert(context.Background(), rec))

	q.attempt(context.Background(), rec)

	got, _ := deliveries.Get(context.Background(), rec.ID)
	require.NotNil(t, got)
	assert.Equal(t, model.DeliveryRetrying, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Nil(t, got.LastResponseStatus)
	require.NotNil(t, got.LastError)
	assert.NotEmpty(t, *got.LastError)
}

func TestDeletedEndpointFailsDelivery(t *testing.T) {
	secret, _ := signature.GenerateSecret()
	cfg := testEndpoint("http://gone.example/hook", secret)
	endpoints := newFakeEndpoints(cfg)
	deliveries := newFakeDeliveries()
	q := newTestQueue(endpoints, deliveries)

	rec := pendingRecord(cfg, []byte(`{}`))
	require.NoError(t, deliveries.Insert(context.Background(), rec))

	_, err := endpoints.Delete(context.Background(), "tenant-1", cfg.ID)
	require.NoError(t, err)

	q.attempt(context.Background(), rec)

	got, _ := deliveries.Get(context.Background(), rec.ID)
	require.NotNil(t, got)
	assert.Equal(t, model.DeliveryFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "endpoint configuration deleted", *got.LastError)
}

func TestRotatedSecretSignsNextAttempt(t *testing.T) {
	oldSecret, _ := signature.GenerateSecret()
	newSecret, _ := signature.GenerateSecret()

	var gotBody []byte
	var gotSig, gotTs string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotTs = r.Header.Get("X-Webhook-Timestamp")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testEndpoint(srv.URL, oldSecret)
	endpoints := newFakeEndpoints(cfg)
	deliveries := newFakeDeliveries()
	q := newTestQueue(endpoints, deliveries)

	rec := pendingRecord(cfg, []byte(`{"v":1}`))
	require.NoError(t, deliveries.Insert(context.Background(), rec))

	// rotate before the attempt: the current secret must be loaded fresh
	_, err := endpoints.UpdateSecret(context.Background(), "tenant-1", cfg.ID, newSecret)
	require.NoError(t, err)

	q.attempt(context.Background(), rec)

	assert.False(t, signature.Verify(gotBody, gotSig, gotTs, oldSecret, signature.DefaultTolerance))
	assert.True(t, signature.Verify(gotBody, gotSig, gotTs, newSecret, signature.DefaultTolerance))
}

func TestSendTestDoesNotPersist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	endpoints := newFakeEndpoints()
	deliveries := newFakeDeliveries()
	q := newTestQueue(endpoints, deliveries)

	res, err := q.SendTest(context.Background(), srv.URL, []byte(`{"ping":true}`), "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", res.ResponseBody)
	assert.Len(t, res.SecretUsed, 64)
	assert.NotEmpty(t, res.HeadersSent["X-Webhook-Signature"])
	assert.Equal(t, "v1", res.HeadersSent["X-Webhook-Signature-Version"])

	recs, _ := deliveries.ListByTenant(context.Background(), "tenant-1", "", "", 100)
	assert.Empty(t, recs)
}

func TestRunDrainsImmediateAndScans(t *testing.T) {
	secret, _ := signature.GenerateSecret()

	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testEndpoint(srv.URL, secret)
	endpoints := newFakeEndpoints(cfg)
	deliveries := newFakeDeliveries()
	q := New(endpoints, deliveries, nil, nil, nil, Options{
		ScanInterval:   50 * time.Millisecond,
		DefaultTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()

	require.NoError(t, q.Enqueue(ctx, "tenant-1", model.EventThreshold80, []byte(`{}`)))

	require.Eventually(t, func() bool {
		recs, _ := deliveries.ListByTenant(context.Background(), "tenant-1", model.DeliverySuccess, "", 10)
		return len(recs) == 1
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}
