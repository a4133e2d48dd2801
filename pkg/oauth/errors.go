package oauth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidState is returned when the state parameter on a redirect does
// not match the grant's state. The comparison runs in constant time.
var ErrInvalidState = errors.New("state parameter does not match")

// ErrGrantConsumed is returned when a grant is used after it has been
// consumed by a successful exchange or invalidated by a failure. The state
// and code verifier are single-use.
var ErrGrantConsumed = errors.New("authorization grant already consumed")

// ErrNotRefreshable is returned when a refresh is requested for a token
// that carries no refresh material.
var ErrNotRefreshable = errors.New("access token has no refresh token")

// GrantErrorCode identifies an authorization-endpoint error per
// RFC 6749 section 4.1.2.1.
type GrantErrorCode string

const (
	GrantErrInvalidRequest          GrantErrorCode = "invalid_request"
	GrantErrUnauthorizedClient      GrantErrorCode = "unauthorized_client"
	GrantErrAccessDenied            GrantErrorCode = "access_denied"
	GrantErrUnsupportedResponseType GrantErrorCode = "unsupported_response_type"
	GrantErrInvalidScope            GrantErrorCode = "invalid_scope"
	GrantErrServerError             GrantErrorCode = "server_error"
	GrantErrTemporarilyUnavailable  GrantErrorCode = "temporarily_unavailable"
	GrantErrUnknown                 GrantErrorCode = "unknown"
)

func grantErrorCode(raw string) GrantErrorCode {
	switch code := GrantErrorCode(raw); code {
	case GrantErrInvalidRequest, GrantErrUnauthorizedClient, GrantErrAccessDenied,
		GrantErrUnsupportedResponseType, GrantErrInvalidScope,
		GrantErrServerError, GrantErrTemporarilyUnavailable:
		return code
	}
	return GrantErrUnknown
}

// GrantError is an error reported by the authorization server on the
// redirect back to the client.
type GrantError struct {
	Code        GrantErrorCode
	Description string
	URI         string
}

func (e *GrantError) Error() string {
	return joinErrorParts("authorization failed: "+string(e.Code), e.Description, e.URI)
}

// TokenErrorCode identifies a token-endpoint error per RFC 6749
// section 5.2.
type TokenErrorCode string

const (
	TokenErrInvalidRequest       TokenErrorCode = "invalid_request"
	TokenErrInvalidClient        TokenErrorCode = "invalid_client"
	TokenErrInvalidGrant         TokenErrorCode = "invalid_grant"
	TokenErrUnauthorizedClient   TokenErrorCode = "unauthorized_client"
	TokenErrUnsupportedGrantType TokenErrorCode = "unsupported_grant_type"
	TokenErrInvalidScope         TokenErrorCode = "invalid_scope"
	TokenErrUnknown              TokenErrorCode = "unknown"
)

func tokenErrorCode(raw string) TokenErrorCode {
	switch code := TokenErrorCode(raw); code {
	case TokenErrInvalidRequest, TokenErrInvalidClient, TokenErrInvalidGrant,
		TokenErrUnauthorizedClient, TokenErrUnsupportedGrantType, TokenErrInvalidScope:
		return code
	}
	return TokenErrUnknown
}

// TokenError is an error response from the token endpoint (HTTP 400 with a
// JSON body per RFC 6749 section 5.2).
type TokenError struct {
	Code        TokenErrorCode
	Description string
	URI         string
}

func (e *TokenError) Error() string {
	return joinErrorParts("token request failed: "+string(e.Code), e.Description, e.URI)
}

// joinErrorParts joins the error code line with the server-provided
// description and URI, newline-separated, skipping absent parts.
func joinErrorParts(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n")
}

// MissingParameterError reports an expected response field that was not
// present.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing parameter %q", e.Name)
}

// ParameterTypeError reports a response field present with the wrong JSON
// type.
type ParameterTypeError struct {
	Name     string
	Expected string
	Got      string
}

func (e *ParameterTypeError) Error() string {
	return fmt.Sprintf("parameter %q must be %s, got %s", e.Name, e.Expected, e.Got)
}

// UnsupportedTokenTypeError reports a token_type other than "bearer".
type UnsupportedTokenTypeError struct {
	TokenType string
}

func (e *UnsupportedTokenTypeError) Error() string {
	return fmt.Sprintf("unsupported token type %q", e.TokenType)
}

// TransportError captures an HTTP or network failure that is not an
// RFC 6749 error response. The body is read best-effort and may be
// truncated or empty. Transport errors are not retried here; retry is a
// caller concern.
type TransportError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("transport error: status %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("transport error: status %d", e.StatusCode)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
