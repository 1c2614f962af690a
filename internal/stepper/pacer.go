package stepper

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces the ticks of a continuous run. The interval is sampled by each
// Wait, so a new speed applies from the next tick on.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	limiter  *rate.Limiter
}

// NewPacer returns a pacer that allows one tick per interval. An interval of
// zero or less lets ticks run back to back.
func NewPacer(interval time.Duration) *Pacer {
	p := &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	p.SetInterval(interval)
	return p
}

func (p *Pacer) SetInterval(interval time.Duration) {
	if interval < 0 {
		interval = 0
	}
	p.mu.Lock()
	p.interval = interval
	p.mu.Unlock()
	p.limiter.SetLimit(limitFor(interval))
}

func (p *Pacer) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Wait blocks until the next tick is due or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.limiter.Wait(ctx)
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}
