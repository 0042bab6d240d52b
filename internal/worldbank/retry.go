package worldbank

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy is a bounded exponential backoff: after failed attempt n the
// delay is BaseDelay * Multiplier^(n-1), spread by +/- Jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Jitter      float64

	// Sleep and Rand are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   600 * time.Millisecond,
		Multiplier:  2,
	}
}

// Delay returns the wait that follows failed attempt n (1-based).
func (p Policy) Delay(n int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(n-1))
	if p.Jitter > 0 {
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		d *= 1 + p.Jitter*(2*r()-1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, returns a Permanent error, the context ends,
// or MaxAttempts is reached. It returns the number of attempts made and the
// last error. No delay follows the final attempt.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error) {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	for attempt := 1; ; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if cause, ok := isPermanent(err); ok {
			return attempt, cause
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if attempt >= limit {
			return attempt, err
		}
		if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
			return attempt, serr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
