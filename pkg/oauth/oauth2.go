package oauth

import (
	"golang.org/x/oauth2"
)

// OAuth2Token converts the token to a golang.org/x/oauth2 Token for use
// with libraries built on that package. The conversion necessarily
// exposes the raw material in plain strings; the result must be handled
// as confidential.
func (t *AccessToken) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		TokenType: "Bearer",
		Expiry:    t.expiresAt,
	}
	t.material.Reveal(func(b []byte) { tok.AccessToken = string(b) })
	if t.IsRefreshable() {
		t.refresh.Reveal(func(b []byte) { tok.RefreshToken = string(b) })
	}
	return tok
}

// FromOAuth2Token converts a golang.org/x/oauth2 Token into an
// AccessToken. Only bearer tokens are supported.
func FromOAuth2Token(tok *oauth2.Token) (*AccessToken, error) {
	if tok.Type() != "Bearer" {
		return nil, &UnsupportedTokenTypeError{TokenType: tok.TokenType}
	}

	opts := []TokenOption{}
	if tok.RefreshToken != "" {
		opts = append(opts, WithRefreshToken(tok.RefreshToken))
	}
	if !tok.Expiry.IsZero() {
		opts = append(opts, WithExpiresAt(tok.Expiry))
	}
	return NewAccessToken(tok.AccessToken, opts...)
}

// TokenSource returns a static oauth2.TokenSource serving this token.
// For a source that refreshes automatically, use RefreshSource.
func (t *AccessToken) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(t.OAuth2Token())
}
