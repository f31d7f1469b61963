package lock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrNotAcquired means a quorum could not be reached within the retry
	// budget. It is transient and the caller may retry.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrLockLost means the lock is no longer held on a quorum of stores.
	ErrLockLost = errors.New("lock lost")
)

const (
	DefaultRetryCount   = 10
	DefaultRetryDelay   = 200 * time.Millisecond
	DefaultRetryJitter  = 100 * time.Millisecond
	DefaultDriftFactor  = 0.01
	DefaultStoreTimeout = 50 * time.Millisecond

	// added to the proportional drift to cover expiry granularity on the stores
	driftFloor = 2 * time.Millisecond

	renewalRatio       = 0.6
	maxRenewalFailures = 3
)

// Lock is a held lock. Token fences the holder: only the holder's token can
// release or extend the entries.
type Lock struct {
	Resource string
	Token    string
	TTL      time.Duration
	// Until is the end of the validity window, already reduced by the time
	// spent acquiring and the drift allowance.
	Until time.Time
}

// Valid reports whether the validity window is still open at now.
func (l *Lock) Valid(now time.Time) bool {
	return l != nil && now.Before(l.Until)
}

// RetryPolicy bounds how long Acquire keeps trying.
type RetryPolicy struct {
	Count  int
	Delay  time.Duration
	Jitter time.Duration
}

func (p RetryPolicy) wait(ctx context.Context) error {
	d := p.Delay
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Coordinator grants mutual exclusion over named resources by majority
// agreement across N independent stores.
type Coordinator struct {
	stores       []Store
	quorum       int
	retry        RetryPolicy
	driftFactor  float64
	storeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics
	registerer   prometheus.Registerer
	now          func() time.Time
}

type Option func(*Coordinator)

func WithRetry(policy RetryPolicy) Option {
	return func(c *Coordinator) {
		c.retry = policy
	}
}

func WithDriftFactor(factor float64) Option {
	return func(c *Coordinator) {
		c.driftFactor = factor
	}
}

// WithStoreTimeout bounds each call to a single store so a dead node cannot
// eat the validity window.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.storeTimeout = timeout
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Coordinator) {
		c.registerer = reg
	}
}

func NewCoordinator(stores []Store, opts ...Option) (*Coordinator, error) {
	if len(stores) == 0 {
		return nil, errors.New("lock coordinator needs at least one store")
	}
	c := &Coordinator{
		stores: stores,
		quorum: len(stores)/2 + 1,
		retry: RetryPolicy{
			Count:  DefaultRetryCount,
			Delay:  DefaultRetryDelay,
			Jitter: DefaultRetryJitter,
		},
		driftFactor:  DefaultDriftFactor,
		storeTimeout: DefaultStoreTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.retry.Count < 0 {
		c.retry.Count = 0
	}
	c.metrics = newMetrics(c.registerer)
	return c, nil
}

// Quorum is the number of stores that must agree.
func (c *Coordinator) Quorum() int {
	return c.quorum
}

// Acquire tries to take resource for ttl, retrying per the coordinator's
// policy unless overridden. It fails with ErrNotAcquired once the retries are
// spent.
func (c *Coordinator) Acquire(ctx context.Context, resource string, ttl time.Duration, policy ...RetryPolicy) (*Lock, error) {
	retry := c.retry
	if len(policy) > 0 {
		retry = policy[0]
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("invalid lock ttl %s", ttl)
	}

	start := c.now()
	for attempt := 0; ; attempt++ {
		lock, err := c.attempt(ctx, resource, ttl)
		if err != nil {
			return nil, err
		}
		if lock != nil {
			c.metrics.acquireDuration.Observe(c.now().Sub(start).Seconds())
			c.metrics.acquisitions.WithLabelValues("acquired").Inc()
			return lock, nil
		}
		if attempt >= retry.Count {
			break
		}
		if err := retry.wait(ctx); err != nil {
			c.metrics.acquisitions.WithLabelValues("cancelled").Inc()
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, resource, err)
		}
	}
	c.metrics.acquisitions.WithLabelValues("contended").Inc()
	return nil, fmt.Errorf("%w: %s", ErrNotAcquired, resource)
}

// TryAcquire makes a single attempt.
func (c *Coordinator) TryAcquire(ctx context.Context, resource string, ttl time.Duration) (*Lock, error) {
	return c.Acquire(ctx, resource, ttl, RetryPolicy{})
}

// attempt returns a nil lock when the quorum or validity check fails.
func (c *Coordinator) attempt(ctx context.Context, resource string, ttl time.Duration) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, resource, err)
	}

	token := uuid.NewString()
	start := c.now()
	agreed := c.each(ctx, func(ctx context.Context, s Store) (bool, error) {
		return s.Acquire(ctx, resource, token, ttl)
	})

	validity := c.validity(start, ttl)
	if agreed >= c.quorum && validity > 0 {
		return &Lock{
			Resource: resource,
			Token:    token,
			TTL:      ttl,
			Until:    start.Add(validity),
		}, nil
	}

	// undo partial grants so the minority entries do not block others until expiry
	c.releaseAll(ctx, resource, token)
	return nil, nil
}

func (c *Coordinator) validity(start time.Time, ttl time.Duration) time.Duration {
	drift := time.Duration(float64(ttl)*c.driftFactor) + driftFloor
	return ttl - c.now().Sub(start) - drift
}

// Release drops the lock on every store. It is best effort: failures are
// logged and the entries are left to expire. A release confirmed by fewer
// than a quorum means the lock lapsed while held and is logged as such.
func (c *Coordinator) Release(ctx context.Context, lock *Lock) {
	if lock == nil {
		return
	}
	released, failed := c.releaseAll(ctx, lock.Resource, lock.Token)
	if failed > 0 {
		c.metrics.releaseFailures.Add(float64(failed))
	}
	if released < c.quorum {
		// the entries expired or were taken over while held
		c.logger.Warn("lock released on fewer than a quorum of stores",
			"resource", lock.Resource,
			"released", released,
			"stores", len(c.stores),
		)
	}
}

// releaseAll reports how many stores confirmed the delete and how many errored.
func (c *Coordinator) releaseAll(ctx context.Context, resource, token string) (released, failed int) {
	// release must still run when the caller's context is already done
	ctx = context.WithoutCancel(ctx)
	var mu sync.Mutex
	released = c.each(ctx, func(ctx context.Context, s Store) (bool, error) {
		ok, err := s.Release(ctx, resource, token)
		if err != nil {
			c.logger.Warn("lock release failed", "resource", resource, "error", err)
			mu.Lock()
			failed++
			mu.Unlock()
		}
		return ok, err
	})
	return released, failed
}

// Extend resets the lock's expiry to ttl on every store still holding it.
// It fails with ErrLockLost if fewer than a quorum still hold the token.
func (c *Coordinator) Extend(ctx context.Context, lock *Lock, ttl time.Duration) (*Lock, error) {
	if lock == nil {
		return nil, ErrLockLost
	}
	start := c.now()
	agreed := c.each(ctx, func(ctx context.Context, s Store) (bool, error) {
		return s.Extend(ctx, lock.Resource, lock.Token, ttl)
	})
	validity := c.validity(start, ttl)
	if agreed < c.quorum || validity <= 0 {
		return nil, fmt.Errorf("%w: %s (%d/%d stores)", ErrLockLost, lock.Resource, agreed, len(c.stores))
	}
	return &Lock{
		Resource: lock.Resource,
		Token:    lock.Token,
		TTL:      ttl,
		Until:    start.Add(validity),
	}, nil
}

// each runs fn against every store concurrently and counts agreements.
func (c *Coordinator) each(ctx context.Context, fn func(context.Context, Store) (bool, error)) int {
	results := make(chan bool, len(c.stores))
	for _, s := range c.stores {
		go func(s Store) {
			sctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
			defer cancel()
			ok, err := fn(sctx, s)
			results <- ok && err == nil
		}(s)
	}
	agreed := 0
	for range c.stores {
		if <-results {
			agreed++
		}
	}
	return agreed
}

// WithLock runs fn while holding resource. The lock is renewed in the
// background at 60% of ttl; after three consecutive renewal failures renewal
// stops and the lock is left to lapse while fn keeps running. Acquisition
// failures wrap ErrNotAcquired, while errors from fn are returned unchanged.
func (c *Coordinator) WithLock(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock, err := c.Acquire(ctx, resource, ttl)
	if err != nil {
		return err
	}
	stop := c.renew(ctx, lock)
	defer func() {
		stop()
		c.Release(ctx, lock)
	}()
	return fn(ctx)
}

// renew starts the renewal loop and returns a function that stops it and
// waits for it to exit.
func (c *Coordinator) renew(ctx context.Context, lock *Lock) func() {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		interval := time.Duration(float64(lock.TTL) * renewalRatio)
		if interval <= 0 {
			interval = time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if _, err := c.Extend(ctx, lock, lock.TTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				c.metrics.renewals.WithLabelValues("failed").Inc()
				c.logger.Warn("lock renewal failed",
					"resource", lock.Resource,
					"attempt", failures,
					"error", err,
				)
				if failures >= maxRenewalFailures {
					c.logger.Error("lock renewal abandoned, lock will lapse", "resource", lock.Resource)
					return
				}
				continue
			}
			failures = 0
			c.metrics.renewals.WithLabelValues("renewed").Inc()
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

// Do is WithLock for functions that produce a value.
func Do[T any](ctx context.Context, c *Coordinator, resource string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := c.WithLock(ctx, resource, ttl, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}
