package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// Policy bounds every language-model call made during a run.
type Policy struct {
	// RatePerSecond caps calls across all workers. Zero or negative disables the limiter.
	RatePerSecond float64
	// Burst is the limiter bucket size. Defaults to 1.
	Burst int
	// Timeout bounds a single attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
	// MaxAttempts is the total number of attempts on rate-limit signals. Defaults to 5.
	MaxAttempts int
	// BaseBackoff is the first retry delay, doubled per attempt. Defaults to 1s.
	BaseBackoff time.Duration
	// MaxBackoff caps a single retry delay. Defaults to 30s.
	MaxBackoff time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		RatePerSecond: 2,
		Burst:         1,
		Timeout:       60 * time.Second,
		MaxAttempts:   5,
		BaseBackoff:   time.Second,
		MaxBackoff:    30 * time.Second,
	}
}

// Compile-time check that Resilient implements Provider.
var _ Provider = (*Resilient)(nil)

// Resilient wraps a Provider with a shared rate limiter, a per-attempt
// timeout and exponential backoff on rate-limit responses. Errors other than
// rate limits are returned after the first attempt. One Resilient is shared by
// every worker of a run so the limiter is global.
type Resilient struct {
	next    Provider
	limiter *rate.Limiter
	policy  Policy
}

// NewResilient wraps next with the given policy. Zero fields take defaults.
func NewResilient(next Provider, p Policy) *Resilient {
	if p.Burst <= 0 {
		p.Burst = 1
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}

	r := &Resilient{next: next, policy: p}
	if p.RatePerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(p.RatePerSecond), p.Burst)
	}
	return r
}

func (r *Resilient) Chat(ctx context.Context, prompt string) (string, error) {
	b := retry.NewExponential(r.policy.BaseBackoff)
	b = retry.WithCappedDuration(r.policy.MaxBackoff, b)
	b = retry.WithMaxRetries(uint64(r.policy.MaxAttempts-1), b)

	var out string
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("waiting for rate limiter: %w", err)
			}
		}

		callCtx := ctx
		if r.policy.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
			defer cancel()
		}

		resp, err := r.next.Chat(callCtx, prompt)
		if err != nil {
			if IsRateLimit(err) {
				slog.Debug("llm: rate limited, backing off", "attempt", attempt, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		if IsRateLimit(err) {
			return "", fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		return "", err
	}
	return out, nil
}
