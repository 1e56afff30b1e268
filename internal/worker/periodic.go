package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one tick of a periodic worker.
type Job func(ctx context.Context) error

// Locker is a lease shared between replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Periodic runs a job on a fixed interval. A tick that starts while the
// previous one is still running is skipped, never queued.
type Periodic struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	job      Job
	locker   Locker
	log      *zap.Logger

	mu      sync.Mutex
	running bool
	ticks   sync.WaitGroup
}

type Option func(*Periodic)

// WithTimeout bounds the context given to each tick.
func WithTimeout(d time.Duration) Option {
	return func(p *Periodic) { p.timeout = d }
}

// WithLocker also requires a distributed lease before running a tick.
func WithLocker(l Locker) Option {
	return func(p *Periodic) { p.locker = l }
}

func New(name string, interval time.Duration, job Job, log *zap.Logger, opts ...Option) *Periodic {
	p := &Periodic{
		name:     name,
		interval: interval,
		job:      job,
		log:      log.With(zap.String("worker", name)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Periodic) Name() string {
	return p.name
}

func (p *Periodic) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// TryTick runs the job once unless a tick is already in progress.
// ran reports whether the job was invoked.
func (p *Periodic) TryTick(ctx context.Context) (ran bool, err error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.log.Debug("Previous tick still running, skipping")
		return false, nil
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if p.locker != nil {
		ttl := p.timeout
		if ttl <= 0 {
			ttl = p.interval
		}
		ok, err := p.locker.TryLock(ctx, p.name, ttl)
		if err != nil {
			p.log.Warn("Lease unavailable, running without it", zap.Error(err))
		} else if !ok {
			p.log.Debug("Lease held by another replica, skipping")
			return false, nil
		} else {
			defer func() {
				if err := p.locker.Unlock(context.WithoutCancel(ctx), p.name); err != nil {
					p.log.Warn("Failed to release lease", zap.Error(err))
				}
			}()
		}
	}

	start := time.Now()
	err = p.job(ctx)
	if err != nil {
		p.log.Error("Tick failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
	} else {
		p.log.Debug("Tick completed", zap.Duration("elapsed", time.Since(start)))
	}
	return true, err
}

// Run ticks until ctx is cancelled. It returns once the tick in flight, if
// any, has finished.
func (p *Periodic) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("Worker started", zap.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.ticks.Wait()
			p.log.Info("Worker stopped")
			return
		case <-ticker.C:
			// overlapping ticks hit the single-flight guard
			p.ticks.Add(1)
			go func() {
				defer p.ticks.Done()
				_, _ = p.TryTick(ctx)
			}()
		}
	}
}
