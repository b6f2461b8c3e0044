package aiqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/collabforge/colabhub/pkg/cache"
	"github.com/collabforge/colabhub/pkg/logger"
	"github.com/collabforge/colabhub/pkg/metrics"
)

const (
	keyPending    = "ai:queue:pending"
	keyProcessing = "ai:queue:processing"
)

func rateLimitKey(userID string, minute int64) string {
	return fmt.Sprintf("ai:ratelimit:%s:%d", userID, minute)
}

func dedupKey(selectedText, prompt, userID string) string {
	return "ai:dedup:" + hash(selectedText, prompt, userID)
}

func cacheKey(selectedText, prompt string) string {
	return "ai:cache:" + hash(selectedText, prompt)
}

func resultKey(id string) string {
	return "ai:results:" + id
}

func hash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Config is the subset of process configuration AIQueue consumes.
type Config struct {
	MaxConcurrentRequests     int
	RequestTimeout            time.Duration
	RateLimitPerUserPerMinute int
	RetryDelay                time.Duration
	MaxRetries                int
	EnableRequestDeduplication bool
	EnableResponseCaching      bool
	CacheTTL                   time.Duration
}

// Queue is AIQueue.
type Queue struct {
	cache     cache.Cache
	completer AICompleter
	cfg       Config

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	inFlight int32

	completed              int64
	failed                 int64
	totalProcessingTimeMs  int64
	processedCount         int64
}

// New constructs an AIQueue. The worker pool is started lazily on the
// first successful Enqueue, per spec.md §4.6 step 7.
func New(c cache.Cache, completer AICompleter, cfg Config) *Queue {
	return &Queue{cache: c, completer: completer, cfg: cfg, stopCh: make(chan struct{})}
}

// Enqueue implements spec.md §4.6's seven-step enqueue contract.
func (q *Queue) Enqueue(ctx context.Context, req AIRequest, priority int) EnqueueResult {
	now := time.Now()

	// 1. Rate limit.
	minute := now.Unix() / 60
	rlKey := rateLimitKey(req.UserID, minute)
	count, err := q.cache.Incr(ctx, rlKey)
	if err != nil {
		logger.Warn("aiqueue: rate-limit check failed, falling open: %v", err)
	} else {
		if count == 1 {
			_ = q.cache.Expire(ctx, rlKey, 60*time.Second)
		}
		if int(count) > q.cfg.RateLimitPerUserPerMinute {
			secondsLeft := 60 - int(now.Unix()%60)
			return EnqueueResult{Success: false, Error: fmt.Sprintf("Rate limit exceeded, retry in %d seconds", secondsLeft)}
		}
	}

	// 2. Cache probe.
	if q.cfg.EnableResponseCaching {
		ck := cacheKey(req.SelectedText, req.Prompt)
		if result, err := q.cache.Get(ctx, ck); err == nil {
			id := uuid.NewString()
			ar := AIResult{
				QueuedRequest: QueuedRequest{AIRequest: req, Priority: priority, EnqueuedAt: now},
				Status:        StatusCompleted,
				Result:        result,
				CompletedAt:   now,
			}
			ar.ID = id
			q.writeResult(ctx, &ar, 24*time.Hour)
			return EnqueueResult{Success: true, Cached: true, ExistingRequestID: id}
		}
	}

	// 3. Dedup probe.
	dk := dedupKey(req.SelectedText, req.Prompt, req.UserID)
	if q.cfg.EnableRequestDeduplication {
		if existingID, err := q.cache.Get(ctx, dk); err == nil && existingID != "" {
			if q.stillQueued(ctx, existingID) {
				return EnqueueResult{Success: true, ExistingRequestID: existingID}
			}
			_ = q.cache.Del(ctx, dk)
		}
	}

	// Build the queued request.
	req.ID = uuid.NewString()
	qr := QueuedRequest{
		AIRequest:  req,
		Priority:   priority,
		EnqueuedAt: now,
		TimeoutAt:  now.Add(q.cfg.RequestTimeout),
		RetryCount: 0,
	}

	// 4. Register dedup key.
	if q.cfg.EnableRequestDeduplication {
		ttl := time.Duration(math.Ceil(q.cfg.RequestTimeout.Seconds())) * time.Second
		if err := q.cache.Set(ctx, dk, req.ID, ttl); err != nil {
			logger.Warn("aiqueue: dedup key write failed: %v", err)
		}
	}

	// 5/6. Priority score, push, rate-limit counter already incremented above.
	if err := q.push(ctx, qr); err != nil {
		return EnqueueResult{Success: false, Error: err.Error()}
	}

	// 7. Ensure the worker pool is running.
	q.Start()

	return EnqueueResult{Success: true, ExistingRequestID: req.ID}
}

func (q *Queue) stillQueued(ctx context.Context, id string) bool {
	fields, err := q.cache.HGetAll(ctx, keyProcessing)
	if err == nil {
		if _, ok := fields[id]; ok {
			return true
		}
	}
	// queue:pending is a sorted set of ids; ZCard doesn't let us probe by
	// member directly with this Cache interface, so track membership via
	// the processing hash above and a best-effort existence check against
	// the result key (absence of a terminal record implies still pending).
	if exists, err := q.cache.Exists(ctx, resultKey(id)); err == nil && exists {
		return false
	}
	return true
}

func (q *Queue) push(ctx context.Context, qr QueuedRequest) error {
	score := float64(qr.EnqueuedAt.UnixMilli()) - float64(qr.Priority)*1_000_000
	raw, err := json.Marshal(qr)
	if err != nil {
		return err
	}
	if err := q.cache.ZAdd(ctx, keyPending, score, qr.ID); err != nil {
		return err
	}
	// Stash the serialized body in a side-table hash next to the pending
	// sorted set (ai:queue:pending:body) so the worker can retrieve the full
	// QueuedRequest by id after ZPopMin returns only the member string; the
	// body moves into the processing hash when the item is dispatched.
	return q.cache.HSet(ctx, keyPending+":body", map[string]string{qr.ID: string(raw)})
}

// Start launches the worker pool if it is not already running.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	for i := 0; i < q.cfg.MaxConcurrentRequests; i++ {
		q.wg.Add(1)
		go q.workerLoop()
	}
}

// Stop signals every worker to exit and waits for in-flight work to drain.
// The wait has no deadline of its own; it lasts as long as the slowest
// in-flight request, whose completer call runs under a RequestTimeout
// context.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.mu.Unlock()

	close(q.stopCh)
	q.wg.Wait()
}

// idleWait is how long a worker backs off when the pending queue is empty
// or the in-flight cap is saturated, per spec.md §4.6 "bound polling waits
// (≈1-2s) when saturated or empty".
const idleWait = 1500 * time.Millisecond

func (q *Queue) workerLoop() {
	defer q.wg.Done()

	wait := time.NewTimer(0)
	defer wait.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-wait.C:
			if q.drainOnce() {
				wait.Reset(0)
			} else {
				wait.Reset(idleWait)
			}
		}
	}
}

// drainOnce pops and dispatches at most one item, respecting
// maxConcurrentRequests in-flight. It reports whether an item was
// dispatched, so the caller can poll again immediately while work remains.
func (q *Queue) drainOnce() bool {
	if atomic.LoadInt32(&q.inFlight) >= int32(q.cfg.MaxConcurrentRequests) {
		return false
	}

	ctx := context.Background()
	member, ok, err := q.cache.ZPopMin(ctx, keyPending)
	if err != nil || !ok {
		return false
	}

	fields, err := q.cache.HGetAll(ctx, keyPending+":body")
	var qr QueuedRequest
	if err == nil {
		if raw, ok := fields[member.Member]; ok {
			_ = json.Unmarshal([]byte(raw), &qr)
			_ = q.cache.HDel(ctx, keyPending+":body", member.Member)
		}
	}
	if qr.ID == "" {
		return true
	}

	if time.Now().After(qr.TimeoutAt) {
		logger.Warn("aiqueue: dropping expired request %s", qr.ID)
		return true
	}

	raw, _ := json.Marshal(qr)
	_ = q.cache.HSet(ctx, keyProcessing, map[string]string{qr.ID: string(raw)})

	atomic.AddInt32(&q.inFlight, 1)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer atomic.AddInt32(&q.inFlight, -1)
		q.process(qr)
	}()
	return true
}

// process runs a single request through the completer and records its
// terminal or retried state, per spec.md §4.6 "per-request processing".
func (q *Queue) process(qr QueuedRequest) {
	bg := context.Background()

	if len(qr.SelectedText) > MaxSelectedTextLen || len(qr.Prompt) > MaxPromptLen {
		result := AIResult{QueuedRequest: qr, Status: StatusFailed, Error: "oversize text/prompt", CompletedAt: time.Now()}
		q.writeResult(bg, &result, time.Hour)
		if q.cfg.EnableRequestDeduplication {
			_ = q.cache.Del(bg, dedupKey(qr.SelectedText, qr.Prompt, qr.UserID))
		}
		_ = q.cache.HDel(bg, keyProcessing, qr.ID)
		atomic.AddInt64(&q.failed, 1)
		atomic.AddInt64(&q.processedCount, 1)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	res, err := q.completer.Complete(ctx, qr.AIRequest)
	elapsed := time.Since(start)

	if err == nil && res.Success {
		result := AIResult{QueuedRequest: qr, Status: StatusCompleted, Result: res.Result, CompletedAt: time.Now()}
		q.writeResult(bg, &result, 24*time.Hour)

		if q.cfg.EnableResponseCaching {
			ck := cacheKey(qr.SelectedText, qr.Prompt)
			_ = q.cache.Set(bg, ck, res.Result, q.cfg.CacheTTL)
		}
		if q.cfg.EnableRequestDeduplication {
			_ = q.cache.Del(bg, dedupKey(qr.SelectedText, qr.Prompt, qr.UserID))
		}
		_ = q.cache.HDel(bg, keyProcessing, qr.ID)

		atomic.AddInt64(&q.completed, 1)
		atomic.AddInt64(&q.totalProcessingTimeMs, elapsed.Milliseconds())
		atomic.AddInt64(&q.processedCount, 1)
		metrics.AIRequestDuration.Observe(elapsed.Seconds())
		return
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	} else if res.Error != "" {
		errMsg = res.Error
	} else {
		errMsg = "AI completion failed"
	}

	if qr.RetryCount < q.cfg.MaxRetries {
		qr.RetryCount++
		delay := q.cfg.RetryDelay + time.Duration(qr.RetryCount)*10*time.Second
		qr.EnqueuedAt = time.Now().Add(delay)
		qr.TimeoutAt = time.Now().Add(delay + q.cfg.RequestTimeout)
		_ = q.cache.HDel(bg, keyProcessing, qr.ID)
		if pushErr := q.push(bg, qr); pushErr != nil {
			logger.Error("aiqueue: retry re-enqueue failed for %s: %v", qr.ID, pushErr)
		}
		return
	}

	result := AIResult{QueuedRequest: qr, Status: StatusFailed, Error: errMsg, CompletedAt: time.Now()}
	q.writeResult(bg, &result, time.Hour)
	if q.cfg.EnableRequestDeduplication {
		_ = q.cache.Del(bg, dedupKey(qr.SelectedText, qr.Prompt, qr.UserID))
	}
	_ = q.cache.HDel(bg, keyProcessing, qr.ID)

	atomic.AddInt64(&q.failed, 1)
	atomic.AddInt64(&q.totalProcessingTimeMs, elapsed.Milliseconds())
	atomic.AddInt64(&q.processedCount, 1)
	metrics.AIRequestDuration.Observe(elapsed.Seconds())
}

func (q *Queue) writeResult(ctx context.Context, result *AIResult, ttl time.Duration) {
	raw, err := json.Marshal(result)
	if err != nil {
		logger.Error("aiqueue: marshal result %s: %v", result.ID, err)
		return
	}
	if err := q.cache.Set(ctx, resultKey(result.ID), string(raw), ttl); err != nil {
		logger.Error("aiqueue: write result %s: %v", result.ID, err)
	}
}

// GetRequestResult is the fallback poll path AIIntegrator uses when it is
// not subscribed for push delivery.
func (q *Queue) GetRequestResult(ctx context.Context, id string) (*AIResult, bool) {
	raw, err := q.cache.Get(ctx, resultKey(id))
	if err != nil {
		return nil, false
	}
	var result AIResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		logger.Error("aiqueue: corrupt result record %s: %v", id, err)
		return nil, false
	}
	return &result, true
}

// Stats reports the live snapshot spec.md §4.6 names.
func (q *Queue) Stats(ctx context.Context) Stats {
	pending, _ := q.cache.ZCard(ctx, keyPending)
	processing := int64(atomic.LoadInt32(&q.inFlight))

	completed := atomic.LoadInt64(&q.completed)
	failed := atomic.LoadInt64(&q.failed)
	totalMs := atomic.LoadInt64(&q.totalProcessingTimeMs)
	count := atomic.LoadInt64(&q.processedCount)

	var avg float64
	if count > 0 {
		avg = float64(totalMs) / float64(count)
	}

	metrics.AIQueueDepth.WithLabelValues(string(StatusPending)).Set(float64(pending))
	metrics.AIQueueDepth.WithLabelValues(string(StatusProcessing)).Set(float64(processing))

	return Stats{
		Pending:                 pending,
		Processing:              processing,
		Completed:               completed,
		Failed:                  failed,
		AverageProcessingTimeMs: avg,
	}
}
