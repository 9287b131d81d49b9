package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pbarone/meetingtranscribermacos/internal/credential"
)

type tokenResponse struct {
	Token            string `json:"token"`
	ExpiresInSeconds int    `json:"expires_in_seconds,omitempty"`
}

type TokenEndpointRefresher struct {
	tokenURL string
	apiKey   string
	ttl      time.Duration
	client   *http.Client
	now      func() time.Time
}

func NewTokenEndpointRefresher(tokenURL, apiKey string, ttl time.Duration) *TokenEndpointRefresher {
	return &TokenEndpointRefresher{
		tokenURL: tokenURL,
		apiKey:   apiKey,
		ttl:      ttl,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

func (r *TokenEndpointRefresher) Refresh(ctx context.Context) (credential.Credentials, error) {
	u, err := url.Parse(r.tokenURL)
	if err != nil {
		return credential.Credentials{}, fmt.Errorf("invalid token url: %w", err)
	}
	q := u.Query()
	q.Set("expires_in_seconds", strconv.Itoa(int(r.ttl/time.Second)))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return credential.Credentials{}, err
	}
	req.Header.Set("Authorization", r.apiKey)
	requestedAt := r.now()
	resp, err := r.client.Do(req)
	if err != nil {
		return credential.Credentials{}, fmt.Errorf("request streaming token: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return credential.Credentials{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return credential.Credentials{}, fmt.Errorf("decode token response: %w", err)
	}
	if body.Token == "" {
		return credential.Credentials{}, fmt.Errorf("token endpoint returned an empty token")
	}
	ttl := r.ttl
	if body.ExpiresInSeconds > 0 {
		ttl = time.Duration(body.ExpiresInSeconds) * time.Second
	}
	return credential.Credentials{Token: body.Token, ExpiresAt: requestedAt.Add(ttl)}, nil
}
