package credential

import (
	"context"
	"time"
)

// Credentials is an access token and the instant it stops being accepted.
// A zero ExpiresAt means the token does not expire.
type Credentials struct {
	Token     string
	ExpiresAt time.Time
}

func (c Credentials) Valid(now time.Time) bool {
	if c.Token == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

type Refresher interface {
	Refresh(ctx context.Context) (Credentials, error)
}
