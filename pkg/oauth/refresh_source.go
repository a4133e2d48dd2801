package oauth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"deskauth/pkg/logging"
)

// RefreshSource hands out a valid access token, refreshing it through the
// token endpoint when it nears expiry. Concurrent callers share a single
// in-flight refresh via singleflight, so a burst of requests against an
// expired token issues one network round trip.
type RefreshSource struct {
	client        *EndpointClient
	tokenEndpoint string
	creds         *ClientCredentials
	margin        time.Duration

	store    *Store
	storeKey string

	mu      sync.RWMutex
	current *AccessToken

	group singleflight.Group
}

// RefreshSourceOption configures a RefreshSource.
type RefreshSourceOption func(*RefreshSource)

// WithExpiryMargin sets how long before expiry a token is refreshed.
// Defaults to 30 seconds to absorb clock skew and network latency.
func WithExpiryMargin(margin time.Duration) RefreshSourceOption {
	return func(rs *RefreshSource) { rs.margin = margin }
}

// WithClientCredentials attaches confidential-client credentials to
// refresh requests.
func WithClientCredentials(creds *ClientCredentials) RefreshSourceOption {
	return func(rs *RefreshSource) { rs.creds = creds }
}

// WithStore persists refreshed tokens to the given store under key, so a
// restart resumes from the newest refresh token.
func WithStore(store *Store, key string) RefreshSourceOption {
	return func(rs *RefreshSource) {
		rs.store = store
		rs.storeKey = key
	}
}

// NewRefreshSource creates a source seeded with tok.
func NewRefreshSource(client *EndpointClient, tokenEndpoint string, tok *AccessToken, opts ...RefreshSourceOption) *RefreshSource {
	rs := &RefreshSource{
		client:        client,
		tokenEndpoint: tokenEndpoint,
		current:       tok,
		margin:        tokenExpiryMargin,
	}
	for _, opt := range opts {
		opt(rs)
	}
	return rs
}

// Token returns the current token, refreshing it first when it is within
// the expiry margin. Tokens without refresh material are returned as-is
// until they expire, after which ErrNotRefreshable surfaces.
func (rs *RefreshSource) Token(ctx context.Context) (*AccessToken, error) {
	rs.mu.RLock()
	current := rs.current
	rs.mu.RUnlock()

	if !current.IsExpired(rs.margin) {
		return current, nil
	}

	result, err, _ := rs.group.Do("refresh", func() (interface{}, error) {
		// Re-check: another caller may have refreshed while this one
		// waited on the singleflight slot.
		rs.mu.RLock()
		current := rs.current
		rs.mu.RUnlock()
		if !current.IsExpired(rs.margin) {
			return current, nil
		}

		refreshed, err := rs.client.Refresh(ctx, rs.tokenEndpoint, current, rs.creds)
		if err != nil {
			return nil, err
		}

		rs.mu.Lock()
		rs.current = refreshed
		rs.mu.Unlock()

		if rs.store != nil {
			if err := rs.store.Put(rs.storeKey, refreshed); err != nil {
				// The refreshed token is good for this process even if
				// persistence failed.
				logging.Warn("Token", "failed to persist refreshed token: %v", err)
			}
		}
		return refreshed, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*AccessToken), nil
}
