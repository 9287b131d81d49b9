package credential

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"
	"github.com/pbarone/meetingtranscribermacos/internal/credential"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// GoogleRefresher mints access tokens from a service account. The token
// cache treats a token as stale from expiry minus lead minus a minute and
// refreshes synchronously, so a refresh at expiry minus lead returns a new
// token instead of the cached one.
type GoogleRefresher struct {
	creds *auth.Credentials
}

func NewGoogleRefresher(credentialsJSON string, lead time.Duration) (*GoogleRefresher, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON:     []byte(credentialsJSON),
		Scopes:              []string{cloudPlatformScope},
		EarlyTokenRefresh:   lead + time.Minute,
		DisableAsyncRefresh: true,
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}
	return &GoogleRefresher{creds: creds}, nil
}

func (r *GoogleRefresher) Refresh(ctx context.Context) (credential.Credentials, error) {
	tok, err := r.creds.Token(ctx)
	if err != nil {
		return credential.Credentials{}, fmt.Errorf("fetch access token: %w", err)
	}
	return credential.Credentials{Token: tok.Value, ExpiresAt: tok.Expiry}, nil
}
