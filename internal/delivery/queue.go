// Package delivery owns the webhook delivery queue and retry engine: it
// creates delivery records when events are raised, performs the signed HTTP
// sends, and rescans the store for attempts that are due for retry.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smoradi/webhook-notifier/internal/metrics"
	"github.com/smoradi/webhook-notifier/internal/model"
	"github.com/smoradi/webhook-notifier/internal/repository"
	"github.com/smoradi/webhook-notifier/internal/signature"
	"github.com/smoradi/webhook-notifier/internal/util"
	"go.uber.org/zap"
)

const (
	headerTimestamp        = "X-Webhook-Timestamp"
	headerSignature        = "X-Webhook-Signature"
	headerSignatureVersion = "X-Webhook-Signature-Version"
	userAgent              = "webhook-notifier/1.0"
)

// releaseScript deletes the scanner lease only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options tunes the queue; zero values fall back to the defaults below.
type Options struct {
	ScanInterval      time.Duration
	ScanBatchSize     int
	QueueSize         int
	MaxAttempts       int
	DefaultTimeout    time.Duration
	ResponseBodyLimit int
	LeaseKey          string
	LeaseTTL          time.Duration
}

func (o *Options) applyDefaults() {
	if o.ScanInterval <= 0 {
		o.ScanInterval = 5 * time.Second
	}
	if o.ScanBatchSize <= 0 {
		o.ScanBatchSize = 100
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 5 * time.Second
	}
	if o.ResponseBodyLimit <= 0 {
		o.ResponseBodyLimit = 1024
	}
	if o.LeaseKey == "" {
		o.LeaseKey = "whn:delivery:scanner"
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 30 * time.Second
	}
}

// Queue is the delivery queue and retry engine. Attempts within one loop
// iteration run sequentially, so no two attempts for the same record can
// overlap as long as a single scanner is active; the Redis lease keeps it
// single across processes.
type Queue struct {
	endpoints  repository.EndpointsRepository
	deliveries repository.DeliveriesRepository
	attempts   repository.CHAttemptsRepository // optional audit sink
	rdb        *redis.Client                   // optional scanner lease
	client     *http.Client
	log        *zap.Logger
	opts       Options

	leaseToken string
	immediate  chan string
	scanning   atomic.Bool
	inFlight   sync.WaitGroup
}

func New(
	endpoints repository.EndpointsRepository,
	deliveries repository.DeliveriesRepository,
	attempts repository.CHAttemptsRepository,
	rdb *redis.Client,
	log *zap.Logger,
	opts Options,
) *Queue {
	opts.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		endpoints:  endpoints,
		deliveries: deliveries,
		attempts:   attempts,
		rdb:        rdb,
		client:     &http.Client{}, // per-attempt deadline comes from the request context
		log:        log,
		opts:       opts,
		leaseToken: util.NewID(),
		immediate:  make(chan string, opts.QueueSize),
	}
}

// Enqueue fans an event out to every enabled endpoint of the tenant that
// subscribes to it: one pending delivery record each, plus a nudge to send
// on the next loop iteration. The records are durable before the nudge, so
// a full channel only delays the send until the next periodic scan.
func (q *Queue) Enqueue(ctx context.Context, tenantID string, event model.EventType, payload []byte) error {
	configs, err := q.endpoints.ListActiveForEvent(ctx, tenantID, event.String())
	if err != nil {
		return fmt.Errorf("list endpoints for %s: %w", event, err)
	}

	for _, cfg := range configs {
		rec := model.DeliveryRecord{
			ID:          util.NewID(),
			EndpointID:  cfg.ID,
			TenantID:    tenantID,
			EventType:   event,
			Payload:     payload,
			MaxAttempts: q.opts.MaxAttempts,
		}
		if err := q.deliveries.Insert(ctx, rec); err != nil {
			return fmt.Errorf("insert delivery for endpoint %s: %w", cfg.ID, err)
		}

		select {
		case q.immediate <- rec.ID:
		default:
			q.log.Warn("immediate queue full, deferring to scanner",
				zap.String("delivery_id", rec.ID))
		}
	}
	return nil
}

// Run drives deliveries until ctx is cancelled: immediately-scheduled
// records as they arrive, and a periodic rescan of the store for due
// retries. The in-flight attempt is drained before Run returns.
func (q *Queue) Run(ctx context.Context) error {
	tick := time.NewTicker(q.opts.ScanInterval)
	defer tick.Stop()

	q.log.Info("delivery queue started",
		zap.Duration("scan_interval", q.opts.ScanInterval),
		zap.Int("max_attempts", q.opts.MaxAttempts))

	for {
		select {
		case <-ctx.Done():
			q.inFlight.Wait()
			q.log.Info("delivery queue stopped")
			return nil
		case id := <-q.immediate:
			q.attemptByID(ctx, id)
		case <-tick.C:
			q.scan(ctx)
		}
	}
}

// scan drains anything still sitting in the immediate channel, then works
// through due rows. The CAS guard keeps a slow scan from being re-entered.
func (q *Queue) scan(ctx context.Context) {
	if !q.scanning.CompareAndSwap(false, true) {
		return
	}
	defer q.scanning.Store(false)

	if q.rdb != nil {
		ok, err := q.rdb.SetNX(ctx, q.opts.LeaseKey, q.leaseToken, q.opts.LeaseTTL).Result()
		if err != nil {
			q.log.Warn("scanner lease check failed, skipping scan", zap.Error(err))
			return
		}
		if !ok {
			return // another process holds the lease
		}
		defer func() {
			if err := releaseScript.Run(ctx, q.rdb, []string{q.opts.LeaseKey}, q.leaseToken).Err(); err != nil && err != redis.Nil {
				q.log.Warn("scanner lease release failed", zap.Error(err))
			}
		}()
	}

	for {
		select {
		case id := <-q.immediate:
			q.attemptByID(ctx, id)
			continue
		default:
		}
		break
	}

	rows, err := q.deliveries.ListDue(ctx, time.Now(), q.opts.ScanBatchSize)
	if err != nil {
		q.log.Error("list due deliveries failed", zap.Error(err))
		return
	}
	metrics.ScanCyclesTotal.Inc()
	for i := range rows {
		if ctx.Err() != nil {
			return
		}
		q.attempt(ctx, rows[i])
	}
}

// attemptByID reloads the record before attempting so a nudge that raced a
// scan (or arrived after a state change) cannot double-send.
func (q *Queue) attemptByID(ctx context.Context, id string) {
	rec, err := q.deliveries.Get(ctx, id)
	if err != nil {
		q.log.Error("load delivery failed", zap.String("delivery_id", id), zap.Error(err))
		return
	}
	if rec == nil || rec.Status.Terminal() || rec.AttemptCount >= rec.MaxAttempts {
		return
	}
	if rec.NextRetryAt != nil && rec.NextRetryAt.After(time.Now()) {
		return
	}
	q.attempt(ctx, *rec)
}

func (q *Queue) attempt(ctx context.Context, rec model.DeliveryRecord) {
	q.inFlight.Add(1)
	defer q.inFlight.Done()

	attemptNo := rec.AttemptCount + 1

	cfg, err := q.endpoints.GetByID(ctx, rec.EndpointID)
	if err != nil {
		q.log.Error("load endpoint failed",
			zap.String("delivery_id", rec.ID), zap.Error(err))
		return // leave the record due; next scan retries the lookup
	}
	if cfg == nil || !cfg.Enabled {
		reason := "endpoint configuration deleted"
		if cfg != nil {
			reason = "endpoint disabled"
		}
		if err := q.deliveries.MarkFailed(ctx, rec.ID, attemptNo, nil, nil, reason); err != nil {
			q.log.Error("mark failed errored", zap.String("delivery_id", rec.ID), zap.Error(err))
		}
		q.recordAttempt(rec, attemptNo, model.DeliveryFailed.String(), 0, 0, reason)
		return
	}

	start := time.Now()
	status, body, sendErr := q.send(ctx, cfg.URL, cfg.Secret, cfg.CustomHeaders, rec.Payload, cfg.Timeout(q.opts.DefaultTimeout))
	elapsed := time.Since(start)
	metrics.DeliveryAttemptDuration.Observe(elapsed.Seconds())

	if sendErr == nil && status/100 == 2 {
		if err := q.deliveries.MarkSuccess(ctx, rec.ID, attemptNo, status, body, time.Now()); err != nil {
			q.log.Error("mark success errored", zap.String("delivery_id", rec.ID), zap.Error(err))
			return
		}
		metrics.DeliveryAttemptsTotal.WithLabelValues("success").Inc()
		q.recordAttempt(rec, attemptNo, model.DeliverySuccess.String(), status, elapsed, "")
		q.log.Info("delivery succeeded",
			zap.String("delivery_id", rec.ID),
			zap.Int("attempt", attemptNo),
			zap.Int("status", status))
		return
	}

	// non-2xx, timeout, or transport error: one attempt consumed
	var respStatus *int
	var respBody *string
	lastErr := ""
	if sendErr != nil {
		lastErr = sendErr.Error()
	} else {
		respStatus = &status
		respBody = &body
		lastErr = fmt.Sprintf("endpoint returned status %d", status)
	}

	if attemptNo < rec.MaxAttempts {
		next := time.Now().Add(Backoff(attemptNo))
		if err := q.deliveries.MarkRetrying(ctx, rec.ID, attemptNo, respStatus, respBody, lastErr, next); err != nil {
			q.log.Error("mark retrying errored", zap.String("delivery_id", rec.ID), zap.Error(err))
			return
		}
		metrics.DeliveryAttemptsTotal.WithLabelValues("retrying").Inc()
		q.recordAttempt(rec, attemptNo, model.DeliveryRetrying.String(), status, elapsed, lastErr)
		q.log.Warn("delivery attempt failed, will retry",
			zap.String("delivery_id", rec.ID),
			zap.Int("attempt", attemptNo),
			zap.Time("next_retry_at", next),
			zap.String("error", lastErr))
		return
	}

	if err := q.deliveries.MarkFailed(ctx, rec.ID, attemptNo, respStatus, respBody, lastErr); err != nil {
		q.log.Error("mark failed errored", zap.String("delivery_id", rec.ID), zap.Error(err))
		return
	}
	metrics.DeliveryAttemptsTotal.WithLabelValues("failed").Inc()
	q.recordAttempt(rec, attemptNo, model.DeliveryFailed.String(), status, elapsed, lastErr)
	q.log.Error("delivery failed permanently",
		zap.String("delivery_id", rec.ID),
		zap.Int("attempts", attemptNo),
		zap.String("error", lastErr))
}

// send performs one signed POST. A non-2xx response is not an error here;
// the caller classifies it.
func (q *Queue) send(ctx context.Context, url, secret string, custom model.HeaderMap, payload []byte, timeout time.Duration) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	applyHeaders(req, payload, secret, custom)

	res, err := q.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, int64(q.opts.ResponseBodyLimit)))
	return res.StatusCode, string(body), nil
}

// recordAttempt appends to the ClickHouse audit log, best effort.
func (q *Queue) recordAttempt(rec model.DeliveryRecord, attemptNo int, outcome string, status int, elapsed time.Duration, errMsg string) {
	if q.attempts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := q.attempts.Insert(ctx, model.DeliveryAttempt{
		DeliveryID:     rec.ID,
		TenantID:       rec.TenantID,
		EndpointID:     rec.EndpointID,
		EventType:      rec.EventType.String(),
		AttemptNo:      attemptNo,
		Outcome:        outcome,
		ResponseStatus: int32(status),
		LatencyMs:      elapsed.Milliseconds(),
		Error:          errMsg,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		q.log.Warn("attempt audit insert failed", zap.String("delivery_id", rec.ID), zap.Error(err))
	}
}

// TestResult is the synchronous outcome of SendTest.
type TestResult struct {
	StatusCode   int               `json:"status_code"`
	ResponseBody string            `json:"response_body"`
	SecretUsed   string            `json:"secret_used"`
	HeadersSent  map[string]string `json:"headers_sent"`
}

// SendTest signs and sends a one-off payload without touching any stored
// configuration or creating a delivery record. Tenants use it to validate
// their receiver's signature check before registering for real.
func (q *Queue) SendTest(ctx context.Context, url string, payload []byte, secret string) (TestResult, error) {
	if secret == "" {
		var err error
		secret, err = signature.GenerateSecret()
		if err != nil {
			return TestResult{}, fmt.Errorf("generate test secret: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, q.opts.DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return TestResult{}, err
	}
	applyHeaders(req, payload, secret, nil)

	sent := make(map[string]string, len(req.Header))
	for k := range req.Header {
		sent[k] = req.Header.Get(k)
	}

	res, err := q.client.Do(req)
	if err != nil {
		return TestResult{}, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, int64(q.opts.ResponseBodyLimit)))
	return TestResult{
		StatusCode:   res.StatusCode,
		ResponseBody: string(body),
		SecretUsed:   secret,
		HeadersSent:  sent,
	}, nil
}

// applyHeaders sets the signature, identity, and custom headers. Custom
// headers go on in sorted key order so requests are deterministic, and they
// cannot shadow the signature headers.
func applyHeaders(req *http.Request, payload []byte, secret string, custom model.HeaderMap) {
	keys := make([]string, 0, len(custom))
	for k := range custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if isReservedHeader(k) {
			continue
		}
		req.Header.Set(k, custom[k])
	}

	sig, ts := signature.Sign(payload, secret, time.Now())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, sig)
	req.Header.Set(headerSignatureVersion, signature.Version)
}

func isReservedHeader(k string) bool {
	switch strings.ToLower(k) {
	case "content-type", "user-agent",
		strings.ToLower(headerTimestamp),
		strings.ToLower(headerSignature),
		strings.ToLower(headerSignatureVersion):
		return true
	}
	return false
}
