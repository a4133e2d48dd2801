package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestOAuth2Token(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	tok, err := NewAccessToken("material",
		WithRefreshToken("refresh"),
		WithExpiresAt(expiry))
	require.NoError(t, err)

	converted := tok.OAuth2Token()
	assert.Equal(t, "material", converted.AccessToken)
	assert.Equal(t, "refresh", converted.RefreshToken)
	assert.Equal(t, "Bearer", converted.TokenType)
	assert.Equal(t, expiry, converted.Expiry)
	assert.True(t, converted.Valid())
}

func TestFromOAuth2Token(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	tok, err := FromOAuth2Token(&oauth2.Token{
		AccessToken:  "material",
		TokenType:    "bearer",
		RefreshToken: "refresh",
		Expiry:       expiry,
	})
	require.NoError(t, err)

	assert.True(t, tok.Material().EqualBytes([]byte("material")))
	assert.True(t, tok.IsRefreshable())
	assert.Equal(t, expiry, tok.ExpiresAt())
}

func TestFromOAuth2Token_UnsupportedType(t *testing.T) {
	_, err := FromOAuth2Token(&oauth2.Token{AccessToken: "m", TokenType: "mac"})
	var unsupported *UnsupportedTokenTypeError
	require.ErrorAs(t, err, &unsupported)
}

func TestTokenSource(t *testing.T) {
	tok, err := NewAccessToken("material")
	require.NoError(t, err)

	source := tok.TokenSource()
	got, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "material", got.AccessToken)
}
