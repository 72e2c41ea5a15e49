package redis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

var (
	ErrLockNotAcquired = errors.New(errors.CodeBuildLocked, "build lock held by another worker")
	ErrLockNotHeld     = errors.New(errors.CodeConflict, "build lock not held by this owner")
)

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// LockOption configures a BuildLocker.
type LockOption func(*BuildLocker)

// WithRetry makes Acquire try count times, sleeping delay in between.
func WithRetry(count int, delay time.Duration) LockOption {
	return func(l *BuildLocker) {
		l.retryCount = count
		l.retryDelay = delay
	}
}

// WithWatchdog keeps held locks alive by extending them every interval.
// Zero uses a third of the TTL.
func WithWatchdog(interval time.Duration) LockOption {
	return func(l *BuildLocker) {
		l.watchdog = true
		l.watchdogInterval = interval
	}
}

// BuildLocker is a SET NX mutex per build key, owned by a random token and
// released only by its owner.
type BuildLocker struct {
	client           *Client
	logger           logging.Logger
	retryCount       int
	retryDelay       time.Duration
	watchdog         bool
	watchdogInterval time.Duration
}

// NewBuildLocker builds a locker on client. By default Acquire tries once.
func NewBuildLocker(client *Client, log logging.Logger, opts ...LockOption) *BuildLocker {
	if log == nil {
		log = logging.NewNopLogger()
	}
	l := &BuildLocker{
		client:     client,
		logger:     log.Named("build_lock"),
		retryCount: 1,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.retryCount < 1 {
		l.retryCount = 1
	}
	return l
}

var _ appHeatmap.BuildLocker = (*BuildLocker)(nil)

func (l *BuildLocker) lockKey(key string) string {
	return l.client.Key("lock", key)
}

// Acquire takes the lock for key. A zero ttl uses the client's lock TTL.
func (l *BuildLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if ttl <= 0 {
		ttl = l.client.LockTTL()
	}
	full := l.lockKey(key)
	token := uuid.NewString()
	rdb := l.client.Underlying()

	for i := 0; i < l.retryCount; i++ {
		ok, err := rdb.SetNX(ctx, full, token, ttl).Result()
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeCache, "acquire build lock").WithDetail(full)
		}
		if ok {
			h := &heldLock{locker: l, key: full, token: token}
			if l.watchdog {
				interval := l.watchdogInterval
				if interval <= 0 {
					interval = ttl / 3
				}
				h.startWatchdog(interval, ttl)
			}
			return h.release, nil
		}
		if i == l.retryCount-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
	return nil, ErrLockNotAcquired.WithDetail(key)
}

type heldLock struct {
	locker *BuildLocker
	key    string
	token  string

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *heldLock) startWatchdog(interval, ttl time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.runWatchdog(ctx, interval, ttl)
}

func (h *heldLock) runWatchdog(ctx context.Context, interval, ttl time.Duration) {
	defer close(h.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := extendScript.Run(ctx, h.locker.client.Underlying(), []string{h.key}, h.token, ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() == nil {
					h.locker.logger.Error("watchdog failed to extend lock", logging.String("key", h.key), logging.Err(err))
				}
				return
			}
			if res == 0 {
				h.locker.logger.Warn("watchdog lost lock", logging.String("key", h.key))
				return
			}
		}
	}
}

func (h *heldLock) release(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		if h.cancel != nil {
			h.cancel()
			<-h.done
		}
		var res int64
		res, err = unlockScript.Run(ctx, h.locker.client.Underlying(), []string{h.key}, h.token).Int64()
		if err != nil {
			err = errors.Wrap(err, errors.CodeCache, "release build lock").WithDetail(h.key)
			return
		}
		if res == 0 {
			err = ErrLockNotHeld.WithDetail(h.key)
		}
	})
	return err
}
