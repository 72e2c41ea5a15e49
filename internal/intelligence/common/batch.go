package common

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

var (
	// ErrShutdown is returned by Process after Shutdown has been called.
	ErrShutdown = stderrors.New("batch processor is shut down")

	// ErrCircuitOpen marks items rejected while the circuit breaker is open.
	ErrCircuitOpen = stderrors.New("circuit breaker is open")
)

// ProcessFunc handles a single item.
type ProcessFunc[T any, R any] func(ctx context.Context, item T) (R, error)

// BatchProcessor runs a ProcessFunc over a slice of items with bounded
// concurrency. Results come back in input order.
type BatchProcessor[T any, R any] interface {
	Process(ctx context.Context, items []T, fn ProcessFunc[T, R]) (*BatchResult[R], error)
	Shutdown(ctx context.Context) error
}

// ItemStatus is the final state of one item.
type ItemStatus int

const (
	ItemStatusSuccess ItemStatus = iota
	ItemStatusFailed
	ItemStatusTimeout
	ItemStatusCancelled
)

func (s ItemStatus) String() string {
	switch s {
	case ItemStatusSuccess:
		return "success"
	case ItemStatusFailed:
		return "failed"
	case ItemStatusTimeout:
		return "timeout"
	case ItemStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ItemResult carries the outcome of one item.
type ItemResult[R any] struct {
	Index      int
	Result     R
	Error      error
	Status     ItemStatus
	Attempts   int
	DurationMs float64
}

// BatchResult aggregates item results, sorted by Index.
type BatchResult[R any] struct {
	Results           []*ItemResult[R]
	TotalCount        int
	SuccessCount      int
	FailureCount      int
	TotalDurationMs   float64
	AvgItemDurationMs float64
}

// FirstError returns the error of the lowest-index failed item.
func (b *BatchResult[R]) FirstError() error {
	for _, r := range b.Results {
		if r.Error != nil {
			return fmt.Errorf("item %d: %w", r.Index, r.Error)
		}
	}
	return nil
}

// Values returns the item results in order. It fails if any item failed.
func (b *BatchResult[R]) Values() ([]R, error) {
	if err := b.FirstError(); err != nil {
		return nil, err
	}
	out := make([]R, len(b.Results))
	for i, r := range b.Results {
		out[i] = r.Result
	}
	return out, nil
}

// RetryPolicy controls per-item retries. Only errors accepted by Retryable
// are retried; a nil Retryable retries everything except context errors.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Retryable      func(error) bool
}

func shouldRetry(err error, p *RetryPolicy) bool {
	if err == nil || p == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

// calculateBackoff returns the delay before retry number attempt (0-based),
// with ±25% jitter.
func calculateBackoff(attempt int, p *RetryPolicy) time.Duration {
	if p == nil || p.InitialBackoff <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	jitter := d * 0.25 * (2*rand.Float64() - 1)
	return time.Duration(d + jitter)
}

type cbState int32

const (
	cbClosed cbState = iota
	cbOpen
	cbHalfOpen
)

func (s cbState) String() string {
	switch s {
	case cbClosed:
		return "closed"
	case cbOpen:
		return "open"
	default:
		return "half_open"
	}
}

// circuitBreaker opens after threshold consecutive failures and lets a probe
// through once resetTimeout has passed.
type circuitBreaker struct {
	threshold    int64
	resetTimeout time.Duration
	failures     atomic.Int64
	state        atomic.Int32
	openedAt     atomic.Int64
	onChange     func(from, to cbState)
}

func newCircuitBreaker(threshold int, resetTimeout time.Duration, onChange func(from, to cbState)) *circuitBreaker {
	return &circuitBreaker{threshold: int64(threshold), resetTimeout: resetTimeout, onChange: onChange}
}

func (cb *circuitBreaker) transition(from, to cbState) bool {
	if !cb.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if to == cbOpen {
		cb.openedAt.Store(time.Now().UnixNano())
	}
	if cb.onChange != nil {
		cb.onChange(from, to)
	}
	return true
}

func (cb *circuitBreaker) allow() bool {
	switch cbState(cb.state.Load()) {
	case cbClosed, cbHalfOpen:
		return true
	default:
		if time.Since(time.Unix(0, cb.openedAt.Load())) >= cb.resetTimeout {
			cb.transition(cbOpen, cbHalfOpen)
			return true
		}
		return false
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.failures.Store(0)
	cb.transition(cbHalfOpen, cbClosed)
}

func (cb *circuitBreaker) recordFailure() {
	if cbState(cb.state.Load()) == cbHalfOpen {
		cb.transition(cbHalfOpen, cbOpen)
		return
	}
	if cb.failures.Add(1) >= cb.threshold {
		cb.transition(cbClosed, cbOpen)
	}
}

type batchConfig struct {
	name           string
	maxConcurrency int
	itemTimeout    time.Duration
	batchTimeout   time.Duration
	retryPolicy    *RetryPolicy
	cbThreshold    int
	cbReset        time.Duration
	metrics        IntelligenceMetrics
	logger         logging.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*batchConfig)

// WithName labels metrics and logs.
func WithName(name string) BatchOption {
	return func(c *batchConfig) { c.name = name }
}

func WithMaxConcurrency(n int) BatchOption {
	return func(c *batchConfig) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

func WithItemTimeout(d time.Duration) BatchOption {
	return func(c *batchConfig) { c.itemTimeout = d }
}

func WithBatchTimeout(d time.Duration) BatchOption {
	return func(c *batchConfig) { c.batchTimeout = d }
}

func WithRetryPolicy(p *RetryPolicy) BatchOption {
	return func(c *batchConfig) { c.retryPolicy = p }
}

// WithCircuitBreaker enables the breaker. A threshold ≤ 0 disables it.
func WithCircuitBreaker(threshold int, resetTimeout time.Duration) BatchOption {
	return func(c *batchConfig) {
		c.cbThreshold = threshold
		c.cbReset = resetTimeout
	}
}

func WithBatchMetrics(m IntelligenceMetrics) BatchOption {
	return func(c *batchConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithBatchLogger(l logging.Logger) BatchOption {
	return func(c *batchConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

type batchProcessor[T any, R any] struct {
	cfg          batchConfig
	cb           *circuitBreaker
	isShutdown   atomic.Bool
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	activeWg     sync.WaitGroup
}

// NewBatchProcessor builds a processor. Defaults: concurrency 4, item
// timeout 5m, no batch timeout, no retries, no circuit breaker.
func NewBatchProcessor[T any, R any](opts ...BatchOption) (BatchProcessor[T, R], error) {
	cfg := batchConfig{
		name:           "batch",
		maxConcurrency: 4,
		itemTimeout:    5 * time.Minute,
		metrics:        NewNoopIntelligenceMetrics(),
		logger:         logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.itemTimeout <= 0 {
		return nil, errors.InvalidParam("item timeout must be positive")
	}
	if cfg.retryPolicy != nil && cfg.retryPolicy.MaxRetries < 0 {
		return nil, errors.InvalidParam("max retries must not be negative")
	}
	bp := &batchProcessor[T, R]{cfg: cfg, shutdownCh: make(chan struct{})}
	if cfg.cbThreshold > 0 {
		name := cfg.name
		bp.cb = newCircuitBreaker(cfg.cbThreshold, cfg.cbReset, func(from, to cbState) {
			cfg.logger.Warn("circuit breaker state change",
				logging.String("processor", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()))
			cfg.metrics.RecordCircuitBreakerStateChange(context.Background(), name, from.String(), to.String())
		})
	}
	return bp, nil
}

func (bp *batchProcessor[T, R]) Process(ctx context.Context, items []T, fn ProcessFunc[T, R]) (*BatchResult[R], error) {
	if bp.isShutdown.Load() {
		return nil, ErrShutdown
	}
	if fn == nil {
		return nil, errors.InvalidParam("process func is nil")
	}
	bp.activeWg.Add(1)
	defer bp.activeWg.Done()

	start := time.Now()
	batchCtx := ctx
	if bp.cfg.batchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, bp.cfg.batchTimeout)
		defer cancel()
	}

	results := make([]*ItemResult[R], len(items))
	sem := make(chan struct{}, bp.cfg.maxConcurrency)
	var wg sync.WaitGroup

dispatch:
	for i := range items {
		if err := batchCtx.Err(); err != nil {
			for j := i; j < len(items); j++ {
				results[j] = &ItemResult[R]{Index: j, Error: err, Status: classifyError(batchCtx, err)}
			}
			break
		}
		select {
		case sem <- struct{}{}:
		case <-batchCtx.Done():
			for j := i; j < len(items); j++ {
				results[j] = &ItemResult[R]{Index: j, Error: batchCtx.Err(), Status: classifyError(batchCtx, batchCtx.Err())}
			}
			break dispatch
		case <-bp.shutdownCh:
			for j := i; j < len(items); j++ {
				results[j] = &ItemResult[R]{Index: j, Error: ErrShutdown, Status: ItemStatusCancelled}
			}
			break dispatch
		}
		wg.Add(1)
		go func(idx int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = bp.processOne(batchCtx, idx, item, fn)
		}(i, items[i])
	}
	wg.Wait()

	br := buildBatchResult(results, time.Since(start))

	bp.cfg.metrics.RecordBatchProcessing(ctx, &BatchMetricParams{
		BatchName:       bp.cfg.name,
		TotalItems:      br.TotalCount,
		SuccessItems:    br.SuccessCount,
		FailedItems:     br.FailureCount,
		TotalDurationMs: br.TotalDurationMs,
		MaxConcurrency:  bp.cfg.maxConcurrency,
	})
	if br.FailureCount > 0 {
		bp.cfg.logger.Warn("batch finished with failures",
			logging.String("processor", bp.cfg.name),
			logging.Int("total", br.TotalCount),
			logging.Int("failed", br.FailureCount))
	}
	return br, nil
}

func (bp *batchProcessor[T, R]) Shutdown(ctx context.Context) error {
	bp.shutdownOnce.Do(func() {
		bp.isShutdown.Store(true)
		close(bp.shutdownCh)
	})
	done := make(chan struct{})
	go func() {
		bp.activeWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (bp *batchProcessor[T, R]) processOne(batchCtx context.Context, idx int, item T, fn ProcessFunc[T, R]) *ItemResult[R] {
	start := time.Now()
	if bp.cb != nil && !bp.cb.allow() {
		return &ItemResult[R]{Index: idx, Error: ErrCircuitOpen, Status: ItemStatusFailed, DurationMs: msSince(start)}
	}

	maxAttempts := 1
	if p := bp.cfg.retryPolicy; p != nil && p.MaxRetries > 0 {
		maxAttempts += p.MaxRetries
	}

	var lastErr error
	attempt := 0
	for ; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if delay := calculateBackoff(attempt-1, bp.cfg.retryPolicy); delay > 0 {
				select {
				case <-batchCtx.Done():
					return &ItemResult[R]{Index: idx, Error: batchCtx.Err(), Status: classifyError(batchCtx, batchCtx.Err()), Attempts: attempt, DurationMs: msSince(start)}
				case <-time.After(delay):
				}
			}
		}

		itemCtx, cancel := context.WithTimeout(batchCtx, bp.cfg.itemTimeout)
		res, err := fn(itemCtx, item)
		cancel()
		if err == nil {
			if bp.cb != nil {
				bp.cb.recordSuccess()
			}
			return &ItemResult[R]{Index: idx, Result: res, Status: ItemStatusSuccess, Attempts: attempt + 1, DurationMs: msSince(start)}
		}
		lastErr = err
		if bp.cb != nil {
			bp.cb.recordFailure()
		}
		if !shouldRetry(err, bp.cfg.retryPolicy) {
			attempt++
			break
		}
	}
	return &ItemResult[R]{Index: idx, Error: lastErr, Status: classifyError(batchCtx, lastErr), Attempts: attempt, DurationMs: msSince(start)}
}

func buildBatchResult[R any](results []*ItemResult[R], total time.Duration) *BatchResult[R] {
	br := &BatchResult[R]{
		Results:         results,
		TotalCount:      len(results),
		TotalDurationMs: float64(total.Microseconds()) / 1000.0,
	}
	var sum float64
	for _, r := range results {
		if r.Status == ItemStatusSuccess {
			br.SuccessCount++
		} else {
			br.FailureCount++
		}
		sum += r.DurationMs
	}
	if br.TotalCount > 0 {
		br.AvgItemDurationMs = sum / float64(br.TotalCount)
	}
	return br
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

func classifyError(batchCtx context.Context, err error) ItemStatus {
	switch {
	case err == nil:
		return ItemStatusSuccess
	case stderrors.Is(err, context.DeadlineExceeded):
		return ItemStatusTimeout
	case stderrors.Is(err, context.Canceled):
		return ItemStatusCancelled
	case stderrors.Is(batchCtx.Err(), context.DeadlineExceeded):
		return ItemStatusTimeout
	case stderrors.Is(batchCtx.Err(), context.Canceled):
		return ItemStatusCancelled
	}
	return ItemStatusFailed
}
