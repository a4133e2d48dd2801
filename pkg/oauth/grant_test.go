package oauth

import (
	"context"
	"crypto/sha256"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskauth/pkg/b64url"
)

func testGrantConfig() GrantConfig {
	return GrantConfig{
		AuthorizationEndpoint: "https://test.example.org/?param=1",
		TokenEndpoint:         "https://test.example.org/token",
		RedirectEndpoint:      "org.example.app:/api/callback",
		ClientID:              "org.example.app",
		Scope:                 []string{"scope1", "scope2"},
	}
}

// grantState returns the encoded state parameter of a grant, as the
// authorization server would echo it back.
func grantState(t *testing.T, g *Grant) string {
	t.Helper()
	authURL, err := g.AuthorizationURL()
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestNewGrant_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GrantConfig)
	}{
		{name: "missing client id", mutate: func(c *GrantConfig) { c.ClientID = "" }},
		{name: "relative authorization endpoint", mutate: func(c *GrantConfig) { c.AuthorizationEndpoint = "/authorize" }},
		{name: "relative token endpoint", mutate: func(c *GrantConfig) { c.TokenEndpoint = "relative" }},
		{name: "missing redirect endpoint", mutate: func(c *GrantConfig) { c.RedirectEndpoint = "" }},
		{name: "bogus pkce method", mutate: func(c *GrantConfig) { c.Method = "S512" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testGrantConfig()
			tc.mutate(&cfg)
			_, err := NewGrant(cfg)
			assert.Error(t, err)
		})
	}
}

func TestGrant_AuthorizationURL_S256(t *testing.T) {
	g, err := NewGrant(testGrantConfig())
	require.NoError(t, err)

	authURL, err := g.AuthorizationURL()
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "test.example.org", u.Host)
	assert.Equal(t, "/", u.Path)

	q := u.Query()
	assert.Equal(t, "1", q.Get("param"), "pre-existing query parameters are preserved")
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "org.example.app", q.Get("client_id"))
	assert.Equal(t, "org.example.app:/api/callback", q.Get("redirect_uri"))
	assert.Equal(t, "scope1 scope2", q.Get("scope"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))

	state := q.Get("state")
	require.NotEmpty(t, state)
	decoded, err := b64url.Decode(state)
	require.NoError(t, err, "state must be base64url without padding")
	assert.GreaterOrEqual(t, len(decoded), 32, "state carries at least 32 bytes of entropy")

	challenge := q.Get("code_challenge")
	require.NotEmpty(t, challenge)
	_, err = b64url.Decode(challenge)
	assert.NoError(t, err, "challenge must be base64url without padding")
}

func TestGrant_AuthorizationURL_PKCEVariants(t *testing.T) {
	t.Run("plain uses the verifier as challenge", func(t *testing.T) {
		cfg := testGrantConfig()
		cfg.Method = MethodPlain
		g, err := NewGrant(cfg)
		require.NoError(t, err)

		authURL, err := g.AuthorizationURL()
		require.NoError(t, err)
		u, _ := url.Parse(authURL)
		q := u.Query()

		assert.Equal(t, "plain", q.Get("code_challenge_method"))
		assert.Equal(t, g.verifierText(), q.Get("code_challenge"))
	})

	t.Run("s256 challenge is the hashed verifier", func(t *testing.T) {
		g, err := NewGrant(testGrantConfig())
		require.NoError(t, err)

		authURL, err := g.AuthorizationURL()
		require.NoError(t, err)
		u, _ := url.Parse(authURL)

		sum := sha256.Sum256([]byte(g.verifierText()))
		assert.Equal(t, b64url.Encode(sum[:]), u.Query().Get("code_challenge"))
	})

	t.Run("none omits both parameters", func(t *testing.T) {
		cfg := testGrantConfig()
		cfg.Method = MethodNone
		g, err := NewGrant(cfg)
		require.NoError(t, err)

		authURL, err := g.AuthorizationURL()
		require.NoError(t, err)
		u, _ := url.Parse(authURL)
		q := u.Query()

		assert.False(t, q.Has("code_challenge"))
		assert.False(t, q.Has("code_challenge_method"))
	})

	t.Run("scope omitted when nil", func(t *testing.T) {
		cfg := testGrantConfig()
		cfg.Scope = nil
		g, err := NewGrant(cfg)
		require.NoError(t, err)

		authURL, err := g.AuthorizationURL()
		require.NoError(t, err)
		u, _ := url.Parse(authURL)
		assert.False(t, u.Query().Has("scope"))
	})
}

func TestGrant_StatePrefix(t *testing.T) {
	cfg := testGrantConfig()
	cfg.StatePrefix = []byte("prefix:")
	g, err := NewGrant(cfg)
	require.NoError(t, err)

	decoded, err := b64url.Decode(grantState(t, g))
	require.NoError(t, err)
	assert.Equal(t, []byte("prefix:"), decoded[:7])
	assert.Len(t, decoded, 7+32)
}

func TestGrant_ValidateRedirect(t *testing.T) {
	t.Run("missing state", func(t *testing.T) {
		g, err := NewGrant(testGrantConfig())
		require.NoError(t, err)
		_, _ = g.AuthorizationURL()

		err = g.ValidateRedirect(url.Values{"code": {"abc"}})
		var missing *MissingParameterError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "state", missing.Name)
	})

	t.Run("wrong state raises InvalidState without touching the network", func(t *testing.T) {
		g, err := NewGrant(testGrantConfig())
		require.NoError(t, err)
		_, _ = g.AuthorizationURL()

		err = g.ValidateRedirect(url.Values{"state": {"WRONG"}, "code": {"abc"}})
		assert.ErrorIs(t, err, ErrInvalidState)

		// The grant is now failed; reuse is rejected.
		err = g.ValidateRedirect(url.Values{})
		assert.ErrorIs(t, err, ErrGrantConsumed)
	})

	t.Run("server error maps to grant error", func(t *testing.T) {
		g, err := NewGrant(testGrantConfig())
		require.NoError(t, err)
		state := grantState(t, g)

		err = g.ValidateRedirect(url.Values{
			"state":             {state},
			"error":             {"access_denied"},
			"error_description": {"user said no"},
			"error_uri":         {"https://test.example.org/errors"},
		})

		var grantErr *GrantError
		require.ErrorAs(t, err, &grantErr)
		assert.Equal(t, GrantErrAccessDenied, grantErr.Code)
		assert.Equal(t, "user said no", grantErr.Description)
		assert.Contains(t, grantErr.Error(), "access_denied")
		assert.Contains(t, grantErr.Error(), "user said no")
	})

	t.Run("unrecognized error code maps to unknown", func(t *testing.T) {
		g, err := NewGrant(testGrantConfig())
		require.NoError(t, err)
		state := grantState(t, g)

		err = g.ValidateRedirect(url.Values{"state": {state}, "error": {"weird_code"}})
		var grantErr *GrantError
		require.ErrorAs(t, err, &grantErr)
		assert.Equal(t, GrantErrUnknown, grantErr.Code)
	})

	t.Run("missing code", func(t *testing.T) {
		g, err := NewGrant(testGrantConfig())
		require.NoError(t, err)
		state := grantState(t, g)

		err = g.ValidateRedirect(url.Values{"state": {state}})
		var missing *MissingParameterError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "code", missing.Name)
	})

	t.Run("valid redirect accepted", func(t *testing.T) {
		g, err := NewGrant(testGrantConfig())
		require.NoError(t, err)
		state := grantState(t, g)

		err = g.ValidateRedirect(url.Values{"state": {state}, "code": {"abc"}})
		assert.NoError(t, err)
	})
}

func TestGrant_Exchange(t *testing.T) {
	var captured struct {
		contentType string
		accept      string
		form        url.Values
		basicUser   string
		basicPass   string
		hasBasic    bool
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.contentType = r.Header.Get("Content-Type")
		captured.accept = r.Header.Get("Accept")
		require.NoError(t, r.ParseForm())
		captured.form = r.PostForm
		captured.basicUser, captured.basicPass, captured.hasBasic = r.BasicAuth()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"granted","token_type":"bearer","expires_in":3600,"refresh_token":"rt"}`))
	}))
	defer server.Close()

	cfg := testGrantConfig()
	cfg.TokenEndpoint = server.URL
	cfg.ClientSecret = "hunter2"
	g, err := NewGrant(cfg)
	require.NoError(t, err)
	state := grantState(t, g)
	verifier := g.verifierText()

	client := NewEndpointClient()
	tok, err := g.Exchange(context.Background(), client, url.Values{
		"state": {state},
		"code":  {"auth-code-123"},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/x-www-form-urlencoded", captured.contentType)
	assert.Equal(t, "application/json", captured.accept)
	assert.Equal(t, "authorization_code", captured.form.Get("grant_type"))
	assert.Equal(t, "auth-code-123", captured.form.Get("code"))
	assert.Equal(t, "org.example.app:/api/callback", captured.form.Get("redirect_uri"))
	assert.Equal(t, "org.example.app", captured.form.Get("client_id"))
	assert.Equal(t, verifier, captured.form.Get("code_verifier"))
	assert.True(t, captured.hasBasic, "client secret enables pre-emptive basic auth")
	assert.Equal(t, "org.example.app", captured.basicUser)
	assert.Equal(t, "hunter2", captured.basicPass)

	assert.True(t, tok.Material().EqualBytes([]byte("granted")))
	assert.True(t, tok.IsRefreshable())
	assert.True(t, tok.Scope().Equal(NewScopeSet("scope1", "scope2")),
		"grant scope adopted when the response omits scope")

	t.Run("grant consumed after success", func(t *testing.T) {
		_, err := g.Exchange(context.Background(), client, url.Values{
			"state": {state},
			"code":  {"again"},
		})
		assert.ErrorIs(t, err, ErrGrantConsumed)
	})
}

func TestGrant_Exchange_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	}))
	defer server.Close()

	cfg := testGrantConfig()
	cfg.TokenEndpoint = server.URL
	g, err := NewGrant(cfg)
	require.NoError(t, err)
	state := grantState(t, g)

	client := NewEndpointClient()
	_, err = g.Exchange(context.Background(), client, url.Values{
		"state": {state},
		"code":  {"stale"},
	})

	var tokenErr *TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, TokenErrInvalidGrant, tokenErr.Code)
	assert.Equal(t, "code expired", tokenErr.Description)

	// A failed exchange invalidates the grant.
	_, err = g.Exchange(context.Background(), client, url.Values{"state": {state}, "code": {"x"}})
	assert.ErrorIs(t, err, ErrGrantConsumed)
}

func TestGrant_Exchange_NoPKCEOmitsVerifier(t *testing.T) {
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ok","token_type":"bearer"}`))
	}))
	defer server.Close()

	cfg := testGrantConfig()
	cfg.TokenEndpoint = server.URL
	cfg.Method = MethodNone
	g, err := NewGrant(cfg)
	require.NoError(t, err)
	state := grantState(t, g)

	_, err = g.Exchange(context.Background(), NewEndpointClient(), url.Values{
		"state": {state},
		"code":  {"abc"},
	})
	require.NoError(t, err)
	assert.False(t, form.Has("code_verifier"))
}
