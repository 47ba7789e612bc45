package committer

import (
	"sync"
	"time"
)

var _ Committer = (*PeriodicCommitter)(nil)

type PeriodicCommitterConfig struct {
	MaxInterval time.Duration
	MaxCount    int

	now func() time.Time
}

type PeriodicCommitterOption func(*PeriodicCommitterConfig)

func WithMaxInterval(d time.Duration) PeriodicCommitterOption {
	return func(cfg *PeriodicCommitterConfig) {
		if d > 0 {
			cfg.MaxInterval = d
		}
	}
}

func WithMaxCount(c int) PeriodicCommitterOption {
	return func(cfg *PeriodicCommitterConfig) {
		if c > 0 {
			cfg.MaxCount = c
		}
	}
}

func WithClock(now func() time.Time) PeriodicCommitterOption {
	return func(cfg *PeriodicCommitterConfig) {
		cfg.now = now
	}
}

// PeriodicCommitter triggers once MaxCount records are pending or MaxInterval has
// passed since the last commit with at least one record pending. RecordProcessed
// should be called after every poll, including empty ones, so the interval can fire.
type PeriodicCommitter struct {
	mu         sync.Mutex
	c          PeriodicCommitterConfig
	count      int
	lastCommit time.Time
	channel    chan struct{}
	closed     bool
}

func NewPeriodicCommitter(opts ...PeriodicCommitterOption) *PeriodicCommitter {
	cfg := PeriodicCommitterConfig{
		MaxInterval: 5 * time.Second,
		MaxCount:    500,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &PeriodicCommitter{
		c:          cfg,
		count:      0,
		lastCommit: cfg.now(),
		channel:    make(chan struct{}, 1),
	}
}

func (p *PeriodicCommitter) RecordProcessed(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.count += count
	if p.count > 0 && (p.count >= p.c.MaxCount || p.c.now().Sub(p.lastCommit) >= p.c.MaxInterval) {
		select {
		case p.channel <- struct{}{}:
		default:
		}

		p.resetLocked()
	}
}

func (p *PeriodicCommitter) Committed() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetLocked()
	select {
	case <-p.channel:
	default:
	}
}

func (p *PeriodicCommitter) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.count
}

func (p *PeriodicCommitter) resetLocked() {
	p.count = 0
	p.lastCommit = p.c.now()
}

func (p *PeriodicCommitter) C() chan struct{} {
	return p.channel
}

func (p *PeriodicCommitter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.channel)
}
