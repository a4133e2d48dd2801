package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"deskauth/pkg/b64url"
	"deskauth/pkg/logging"
	"deskauth/pkg/secret"
)

// CodeChallengeMethod selects the PKCE transform (RFC 7636).
type CodeChallengeMethod string

const (
	// MethodNone disables PKCE. Only for servers that cannot handle it.
	MethodNone CodeChallengeMethod = "none"
	// MethodPlain sends the verifier itself as the challenge.
	MethodPlain CodeChallengeMethod = "plain"
	// MethodS256 sends base64url(SHA-256(verifier)). The default.
	MethodS256 CodeChallengeMethod = "S256"
)

// randomBytes is the entropy, in bytes, behind the state and the PKCE
// verifier. 32 bytes encodes to 43 base64url characters, satisfying
// servers that require a minimum of 32.
const randomBytes = 32

// GrantConfig configures an authorization grant.
type GrantConfig struct {
	// AuthorizationEndpoint is the absolute URL of the authorization
	// endpoint. Pre-existing query parameters are preserved.
	AuthorizationEndpoint string

	// TokenEndpoint is the absolute URL of the token endpoint.
	TokenEndpoint string

	// RedirectEndpoint is echoed bit-exact in both the authorization URL
	// and the token request. Typically the loopback listener's callback
	// URL, or a registered custom scheme.
	RedirectEndpoint string

	// ClientID is the opaque client identifier.
	ClientID string

	// ClientSecret is optional; when set, token requests carry
	// pre-emptive HTTP Basic auth.
	ClientSecret string

	// Scope is the ordered-for-transmission scope list, sent
	// space-joined. Nil omits the scope parameter.
	Scope []string

	// Method selects the PKCE transform. Empty defaults to S256.
	Method CodeChallengeMethod

	// StatePrefix is an optional caller prefix prepended to the random
	// state bytes. The state carries 32 bytes of fresh entropy
	// regardless of the prefix.
	StatePrefix []byte
}

type grantPhase int

const (
	phaseFresh grantPhase = iota
	phaseAwaitingRedirect
	phaseReadyToExchange
	phaseConsumed
	phaseFailed
)

// Grant drives one OAuth 2.0 authorization code flow with PKCE.
//
// A grant is single-use: the anti-CSRF state and the PKCE verifier are
// generated once at construction from a cryptographically strong source,
// consumed by a successful exchange, and invalidated by a failure. A
// consumed or failed grant rejects further use with ErrGrantConsumed;
// build a fresh grant to retry.
type Grant struct {
	cfg      GrantConfig
	state    *secret.Secret // prefix ++ 32 random bytes, raw
	verifier *secret.Secret // base64url text of 32 random bytes
	code     string

	mu    sync.Mutex
	phase grantPhase
}

// NewGrant creates a grant and derives its state and PKCE verifier.
func NewGrant(cfg GrantConfig) (*Grant, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client id must not be empty")
	}
	for _, ep := range []struct{ name, value string }{
		{"authorization endpoint", cfg.AuthorizationEndpoint},
		{"token endpoint", cfg.TokenEndpoint},
	} {
		u, err := url.Parse(ep.value)
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("%s must be an absolute URL", ep.name)
		}
	}
	if cfg.RedirectEndpoint == "" {
		return nil, errors.New("redirect endpoint must not be empty")
	}

	switch cfg.Method {
	case "":
		cfg.Method = MethodS256
	case MethodNone, MethodPlain, MethodS256:
	default:
		return nil, fmt.Errorf("unknown code challenge method %q", cfg.Method)
	}

	stateRaw := make([]byte, 0, len(cfg.StatePrefix)+randomBytes)
	stateRaw = append(stateRaw, cfg.StatePrefix...)
	entropy := make([]byte, randomBytes)
	if _, err := rand.Read(entropy); err != nil {
		return nil, fmt.Errorf("generating state: %w", err)
	}
	stateRaw = append(stateRaw, entropy...)

	verifierRaw := make([]byte, randomBytes)
	if _, err := rand.Read(verifierRaw); err != nil {
		return nil, fmt.Errorf("generating code verifier: %w", err)
	}

	g := &Grant{
		cfg:      cfg,
		state:    secret.New(stateRaw),
		verifier: secret.NewFromString(b64url.Encode(verifierRaw)),
	}
	wipe(stateRaw)
	wipe(verifierRaw)
	return g, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// AuthorizationURL builds the URL the user's browser should open.
// Query parameters already present on the authorization endpoint are
// preserved; the OAuth parameters overwrite on collision.
func (g *Grant) AuthorizationURL() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase == phaseConsumed || g.phase == phaseFailed {
		return "", ErrGrantConsumed
	}

	u, err := url.Parse(g.cfg.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	query := u.Query()
	query.Set("response_type", "code")
	query.Set("client_id", g.cfg.ClientID)
	query.Set("redirect_uri", g.cfg.RedirectEndpoint)
	if g.cfg.Scope != nil {
		query.Set("scope", strings.Join(g.cfg.Scope, " "))
	}
	query.Set("state", g.encodedState())

	switch g.cfg.Method {
	case MethodPlain:
		query.Set("code_challenge_method", "plain")
		query.Set("code_challenge", g.verifierText())
	case MethodS256:
		query.Set("code_challenge_method", "S256")
		var challenge string
		g.verifier.Reveal(func(b []byte) {
			sum := sha256.Sum256(b)
			challenge = b64url.Encode(sum[:])
		})
		query.Set("code_challenge", challenge)
	}

	u.RawQuery = query.Encode()
	g.phase = phaseAwaitingRedirect

	logging.Debug("Grant", "built authorization URL for client %s (pkce=%s)", g.cfg.ClientID, g.cfg.Method)
	return u.String(), nil
}

func (g *Grant) encodedState() string {
	var encoded string
	g.state.Reveal(func(b []byte) {
		encoded = b64url.Encode(b)
	})
	return encoded
}

func (g *Grant) verifierText() string {
	var text string
	g.verifier.Reveal(func(b []byte) {
		text = string(b)
	})
	return text
}

// ValidateRedirect checks the query parameters of the redirect the
// authorization server sent back. The checks run in order: state
// presence, state equality (constant-time over the decoded bytes),
// server-reported error, code presence. A state mismatch or a
// server-reported error invalidates the grant.
func (g *Grant) ValidateRedirect(params url.Values) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validateRedirectLocked(params)
}

func (g *Grant) validateRedirectLocked(params url.Values) error {
	if g.phase == phaseConsumed || g.phase == phaseFailed {
		return ErrGrantConsumed
	}

	if !params.Has("state") {
		return &MissingParameterError{Name: "state"}
	}
	received, err := b64url.Decode(params.Get("state"))
	if err != nil || !g.state.EqualBytes(received) {
		g.phase = phaseFailed
		logging.Warn("Grant", "state mismatch on redirect for client %s", g.cfg.ClientID)
		return ErrInvalidState
	}

	if params.Has("error") {
		g.phase = phaseFailed
		return &GrantError{
			Code:        grantErrorCode(params.Get("error")),
			Description: params.Get("error_description"),
			URI:         params.Get("error_uri"),
		}
	}

	if !params.Has("code") {
		return &MissingParameterError{Name: "code"}
	}

	g.code = params.Get("code")
	g.phase = phaseReadyToExchange
	return nil
}

// ValidateCallback is a convenience wrapper over ValidateRedirect for a
// full redirect URI, as delivered by the loopback listener's callback
// event.
func (g *Grant) ValidateCallback(uri *url.URL) error {
	return g.ValidateRedirect(uri.Query())
}

// Exchange validates the redirect parameters and exchanges the
// authorization code for an access token at the token endpoint. On
// success the grant is consumed and its state and verifier are wiped; on
// a transport or server error it is invalidated. Either way it cannot be
// used again.
func (g *Grant) Exchange(ctx context.Context, client *EndpointClient, params url.Values) (*AccessToken, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != phaseReadyToExchange {
		if err := g.validateRedirectLocked(params); err != nil {
			return nil, err
		}
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", g.code)
	form.Set("redirect_uri", g.cfg.RedirectEndpoint)
	form.Set("client_id", g.cfg.ClientID)
	if g.cfg.Method != MethodNone {
		form.Set("code_verifier", g.verifierText())
	}

	var creds *ClientCredentials
	if g.cfg.ClientSecret != "" {
		creds = &ClientCredentials{
			ID:     g.cfg.ClientID,
			Secret: secret.NewFromString(g.cfg.ClientSecret),
		}
	}

	req, err := client.newTokenRequest(ctx, g.cfg.TokenEndpoint, form, creds)
	if err != nil {
		return nil, err
	}

	tok, err := client.doTokenRequest(req, NewScopeSet(g.cfg.Scope...))
	if err != nil {
		g.phase = phaseFailed
		return nil, err
	}

	g.phase = phaseConsumed
	g.state.Zero()
	g.verifier.Zero()
	g.code = ""

	logging.Info("Grant", "authorization code exchanged for client %s", g.cfg.ClientID)
	return tok, nil
}
