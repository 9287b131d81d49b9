package credential

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultLeadTime      = 5 * time.Minute
	DefaultRetryDelay    = 5 * time.Second
	DefaultMaxRetryDelay = time.Minute
)

type Option func(*Coordinator)

func WithLeadTime(d time.Duration) Option {
	return func(c *Coordinator) { c.lead = d }
}

func WithRetryDelay(initial, max time.Duration) Option {
	return func(c *Coordinator) {
		c.retryMin = initial
		c.retryMax = max
	}
}

type Coordinator struct {
	refresher Refresher
	lead      time.Duration
	retryMin  time.Duration
	retryMax  time.Duration

	mu          sync.RWMutex
	current     Credentials
	subscribers []func(Credentials)
	ready       chan struct{}
	readyOnce   sync.Once
}

func NewCoordinator(refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		refresher: refresher,
		lead:      DefaultLeadTime,
		retryMin:  DefaultRetryDelay,
		retryMax:  DefaultMaxRetryDelay,
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Subscribe(fn func(Credentials)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

func (c *Coordinator) Current() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Coordinator) CurrentCredentialsValid() bool {
	return c.Current().Valid(time.Now())
}

func (c *Coordinator) Wait(ctx context.Context) (Credentials, error) {
	select {
	case <-c.ready:
		return c.Current(), nil
	case <-ctx.Done():
		return Credentials{}, ctx.Err()
	}
}

func (c *Coordinator) Run(ctx context.Context) error {
	retry := c.retryMin
	for {
		var wait time.Duration
		creds, err := c.refresher.Refresh(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("credential refresh failed; retrying", "error", err, "retry_in", retry.String())
			wait, retry = retry, c.nextRetry(retry)
		case !c.rotated(creds):
			slog.Warn("credential refresh returned no newer expiry; retrying", "expires_at", creds.ExpiresAt, "retry_in", retry.String())
			wait, retry = retry, c.nextRetry(retry)
		default:
			retry = c.retryMin
			c.publish(creds)
			if creds.ExpiresAt.IsZero() {
				slog.Info("credentials do not expire; refresh schedule idle")
				<-ctx.Done()
				return ctx.Err()
			}
			wait = c.refreshDelay(creds, time.Now())
			slog.Info("credentials refreshed", "expires_at", creds.ExpiresAt, "next_refresh_in", wait.String())
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Coordinator) rotated(creds Credentials) bool {
	cur := c.Current()
	if cur.Token == "" || cur.ExpiresAt.IsZero() {
		return true
	}
	return creds.ExpiresAt.After(cur.ExpiresAt)
}

// refreshDelay schedules the next refresh lead before expiry. Tokens that
// live shorter than the lead are refreshed at half their remaining life.
func (c *Coordinator) refreshDelay(creds Credentials, now time.Time) time.Duration {
	remaining := creds.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return c.retryMin
	}
	if d := remaining - c.lead; d > 0 {
		return d
	}
	return remaining / 2
}

func (c *Coordinator) nextRetry(d time.Duration) time.Duration {
	d *= 2
	if d > c.retryMax {
		return c.retryMax
	}
	return d
}

func (c *Coordinator) publish(creds Credentials) {
	c.mu.Lock()
	c.current = creds
	subscribers := append([]func(Credentials){}, c.subscribers...)
	c.mu.Unlock()
	c.readyOnce.Do(func() { close(c.ready) })
	for _, fn := range subscribers {
		fn(creds)
	}
}
