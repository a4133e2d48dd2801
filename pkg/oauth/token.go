package oauth

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"deskauth/pkg/jsonval"
	"deskauth/pkg/secret"
)

// tokenExpiryMargin is the margin added when checking token expiration.
// This accounts for clock skew between systems and network latency.
const tokenExpiryMargin = 30 * time.Second

// maxExpiresIn caps the expires_in value a server may return. Anything
// larger cannot be represented as a time.Duration and is treated as
// "never expires".
const maxExpiresIn = int64(math.MaxInt64) / int64(time.Second)

// AccessToken is an immutable bearer token record.
//
// The token material and optional refresh material live in secret.Secret
// values and are wiped when the token is zeroed. The zero time serves as a
// sentinel in both timestamp fields: an unset AuthorizedAt means "unknown"
// and an unset ExpiresAt means "never expires".
//
// Two access tokens compare equal iff their material compares equal; the
// remaining fields are metadata.
type AccessToken struct {
	material     *secret.Secret
	refresh      *secret.Secret
	authorizedAt time.Time
	expiresAt    time.Time
	scope        ScopeSet
}

// TokenOption configures an AccessToken at construction.
type TokenOption func(*AccessToken)

// WithRefreshToken attaches refresh material to the token.
func WithRefreshToken(refreshToken string) TokenOption {
	return func(t *AccessToken) {
		if refreshToken != "" {
			t.refresh = secret.NewFromString(refreshToken)
		}
	}
}

// WithAuthorizedAt records when the user initially authorized the token.
func WithAuthorizedAt(at time.Time) TokenOption {
	return func(t *AccessToken) { t.authorizedAt = at }
}

// WithExpiresAt records when the token expires. The zero time means the
// token never expires.
func WithExpiresAt(at time.Time) TokenOption {
	return func(t *AccessToken) { t.expiresAt = at }
}

// WithScope records the granted scope set.
func WithScope(scope ScopeSet) TokenOption {
	return func(t *AccessToken) { t.scope = scope.Clone() }
}

// NewAccessToken constructs a token from raw material. The material must
// be non-empty, and ExpiresAt must not precede AuthorizedAt when both are
// set.
func NewAccessToken(material string, opts ...TokenOption) (*AccessToken, error) {
	if material == "" {
		return nil, errors.New("access token material must not be empty")
	}

	t := &AccessToken{material: secret.NewFromString(material)}
	for _, opt := range opts {
		opt(t)
	}

	if !t.authorizedAt.IsZero() && !t.expiresAt.IsZero() && t.expiresAt.Before(t.authorizedAt) {
		return nil, fmt.Errorf("token expires at %v, before its authorization at %v", t.expiresAt, t.authorizedAt)
	}
	return t, nil
}

// Material returns the bearer token material.
func (t *AccessToken) Material() *secret.Secret {
	return t.material
}

// RefreshToken returns the refresh material, or nil when the token is not
// refreshable.
func (t *AccessToken) RefreshToken() *secret.Secret {
	return t.refresh
}

// IsRefreshable reports whether the token carries refresh material.
func (t *AccessToken) IsRefreshable() bool {
	return t.refresh != nil && !t.refresh.IsEmpty()
}

// AuthorizedAt returns when the user initially authorized the token. The
// zero time means unknown.
func (t *AccessToken) AuthorizedAt() time.Time {
	return t.authorizedAt
}

// ExpiresAt returns when the token expires. The zero time means the token
// never expires.
func (t *AccessToken) ExpiresAt() time.Time {
	return t.expiresAt
}

// Scope returns the granted scope set, or nil when none was recorded.
func (t *AccessToken) Scope() ScopeSet {
	return t.scope
}

// IsExpired checks if the token has expired. Returns true if the token is
// expired or will expire within the given margin.
func (t *AccessToken) IsExpired(margin time.Duration) bool {
	if t.expiresAt.IsZero() {
		return false // Tokens without expiration don't expire
	}
	return time.Now().Add(margin).After(t.expiresAt)
}

// Equal compares two tokens by material in constant time.
func (t *AccessToken) Equal(other *AccessToken) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.material.Equal(other.material)
}

// AuthorizationHeader returns the value for an Authorization header,
// "Bearer " followed by the token material. Only bearer tokens are
// supported; other token types are rejected at parse time.
func (t *AccessToken) AuthorizationHeader() string {
	var header string
	t.material.Reveal(func(b []byte) {
		header = "Bearer " + string(b)
	})
	return header
}

// Authorize attaches the bearer Authorization header to an outgoing
// request.
func (t *AccessToken) Authorize(req *http.Request) {
	req.Header.Set("Authorization", t.AuthorizationHeader())
}

// Zero wipes the token and refresh material.
func (t *AccessToken) Zero() {
	t.material.Zero()
	t.refresh.Zero()
}

// String implements fmt.Stringer without exposing material.
func (t *AccessToken) String() string {
	return fmt.Sprintf("AccessToken{material: %s, refreshable: %t, expires: %s}",
		secret.Redacted, t.IsRefreshable(), t.expiryString())
}

func (t *AccessToken) expiryString() string {
	if t.expiresAt.IsZero() {
		return "never"
	}
	return t.expiresAt.Format(time.RFC3339)
}

// tokenFromResponse constructs an AccessToken from a parsed token
// response object. Extraction order: access_token, expires_in,
// refresh_token, scope. When the response omits scope and the caller
// supplied an expected scope set, the expected set is adopted (the server
// is permitted to grant the requested scope implicitly).
//
// The caller has already dispatched on token_type.
func tokenFromResponse(obj *jsonval.Object, now time.Time, expected ScopeSet) (*AccessToken, error) {
	material, err := requiredString(obj, "access_token")
	if err != nil {
		return nil, err
	}

	var opts []TokenOption
	opts = append(opts, WithAuthorizedAt(now))

	if v, ok := obj.Get("expires_in"); ok && !v.IsNull() {
		if v.Kind() != jsonval.KindInt {
			return nil, &ParameterTypeError{Name: "expires_in", Expected: "integer", Got: v.Kind().String()}
		}
		seconds := v.Int64()
		if seconds < 0 {
			return nil, &ParameterTypeError{Name: "expires_in", Expected: "non-negative integer", Got: fmt.Sprint(seconds)}
		}
		// Absurd lifetimes clamp to the never-expires sentinel instead of
		// overflowing the timestamp arithmetic.
		if seconds < maxExpiresIn {
			opts = append(opts, WithExpiresAt(now.Add(time.Duration(seconds)*time.Second)))
		}
	}

	if refreshToken, ok, err := optionalString(obj, "refresh_token"); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, WithRefreshToken(refreshToken))
	}

	if scopeStr, ok, err := optionalString(obj, "scope"); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, WithScope(ParseScopeSet(scopeStr)))
	} else if expected != nil {
		opts = append(opts, WithScope(expected))
	}

	return NewAccessToken(material, opts...)
}

// checkTokenType validates the token_type field of a response object.
// Only "bearer" is accepted, case-insensitively.
func checkTokenType(obj *jsonval.Object) error {
	tokenType, err := requiredString(obj, "token_type")
	if err != nil {
		return err
	}
	if !strings.EqualFold(tokenType, "bearer") {
		return &UnsupportedTokenTypeError{TokenType: tokenType}
	}
	return nil
}

func requiredString(obj *jsonval.Object, name string) (string, error) {
	v, ok := obj.Get(name)
	if !ok || v.IsNull() {
		return "", &MissingParameterError{Name: name}
	}
	if v.Kind() != jsonval.KindString {
		return "", &ParameterTypeError{Name: name, Expected: "string", Got: v.Kind().String()}
	}
	return v.Str(), nil
}

func optionalString(obj *jsonval.Object, name string) (string, bool, error) {
	v, ok := obj.Get(name)
	if !ok || v.IsNull() {
		return "", false, nil
	}
	if v.Kind() != jsonval.KindString {
		return "", false, &ParameterTypeError{Name: name, Expected: "string", Got: v.Kind().String()}
	}
	return v.Str(), true, nil
}
