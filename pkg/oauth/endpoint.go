package oauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deskauth/pkg/jsonval"
	"deskauth/pkg/logging"
	"deskauth/pkg/secret"
)

// DefaultHTTPTimeout is the default timeout for token endpoint requests.
const DefaultHTTPTimeout = 30 * time.Second

// ClientCredentials are optional confidential-client credentials attached
// to token requests as HTTP Basic auth. The credentials are sent
// pre-emptively on the first request, without waiting for a 401 challenge.
type ClientCredentials struct {
	ID     string
	Secret *secret.Secret
}

// EndpointClient talks to an OAuth token endpoint. It performs the
// authorization-code exchange prepared by a Grant and token refreshes.
//
// Transport failures are not retried; retry is a caller concern. The
// caller's context is honored at every network read and write, and a
// fired context surfaces as context.Canceled or
// context.DeadlineExceeded in the error chain without leaving token
// material behind.
type EndpointClient struct {
	httpClient *http.Client
	userAgent  string
}

// EndpointOption configures the endpoint client.
type EndpointOption func(*EndpointClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) EndpointOption {
	return func(c *EndpointClient) {
		c.httpClient = httpClient
	}
}

// WithUserAgent overrides the User-Agent header sent on token requests.
func WithUserAgent(ua string) EndpointOption {
	return func(c *EndpointClient) {
		c.userAgent = ua
	}
}

// NewEndpointClient creates a token endpoint client.
func NewEndpointClient(opts ...EndpointOption) *EndpointClient {
	c := &EndpointClient{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		userAgent:  UserAgent(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh obtains a new access token using the refresh material of tok
// (RFC 6749 section 6). The request carries the token's scope so the
// server cannot silently widen it. When the response omits refresh_token,
// the old refresh token is carried forward: refresh tokens are not
// required to rotate.
func (c *EndpointClient) Refresh(ctx context.Context, tokenEndpoint string, tok *AccessToken, creds *ClientCredentials) (*AccessToken, error) {
	if !tok.IsRefreshable() {
		return nil, ErrNotRefreshable
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	tok.RefreshToken().Reveal(func(b []byte) {
		form.Set("refresh_token", string(b))
	})
	if tok.Scope() != nil {
		form.Set("scope", tok.Scope().String())
	}

	req, err := c.newTokenRequest(ctx, tokenEndpoint, form, creds)
	if err != nil {
		return nil, err
	}

	refreshed, err := c.doTokenRequest(req, tok.Scope())
	if err != nil {
		return nil, err
	}

	// Refresh tokens are not required to rotate; carry the old one
	// forward when the server stays silent.
	if !refreshed.IsRefreshable() {
		refreshed.refresh = tok.RefreshToken().Clone()
	}
	// The initial authorization time survives refreshes.
	refreshed.authorizedAt = tok.AuthorizedAt()

	logging.Debug("Token", "refreshed access token (expires: %s)", refreshed.expiryString())
	return refreshed, nil
}

// newTokenRequest builds a POST to the token endpoint with the standard
// headers and optional pre-emptive Basic auth.
func (c *EndpointClient) newTokenRequest(ctx context.Context, tokenEndpoint string, form url.Values, creds *ClientCredentials) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	if creds != nil {
		var clientSecret string
		if creds.Secret != nil {
			creds.Secret.Reveal(func(b []byte) { clientSecret = string(b) })
		}
		req.SetBasicAuth(creds.ID, clientSecret)
	}
	return req, nil
}

// doTokenRequest sends a prepared token request and parses the response
// into an AccessToken. An HTTP 400 body is parsed as an RFC 6749 error
// response and surfaced as a TokenError; any other failure becomes a
// TransportError with the body captured best-effort.
func (c *EndpointClient) doTokenRequest(req *http.Request, expected ScopeSet) (*AccessToken, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		// Body reads honor the request context; a fired cancellation
		// surfaces here with no token material constructed.
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode == http.StatusBadRequest {
		return nil, parseTokenError(body)
	}
	if resp.StatusCode != http.StatusOK {
		logging.Debug("Token", "token endpoint returned status %d", resp.StatusCode)
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Body:       body,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	v, err := jsonval.Parse(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if v.Kind() != jsonval.KindObject {
		return nil, &ParameterTypeError{Name: "token response", Expected: "object", Got: v.Kind().String()}
	}

	if err := checkTokenType(v.Obj()); err != nil {
		return nil, err
	}
	return tokenFromResponse(v.Obj(), time.Now(), expected)
}

// parseTokenError maps an HTTP 400 body to a TokenError. A body that is
// not a well-formed error response degrades to a TransportError so the
// caller still sees the status and payload.
func parseTokenError(body []byte) error {
	v, err := jsonval.Parse(string(body))
	if err != nil || v.Kind() != jsonval.KindObject {
		return &TransportError{
			StatusCode: http.StatusBadRequest,
			Body:       body,
			Err:        fmt.Errorf("malformed error response"),
		}
	}
	obj := v.Obj()

	code, err := requiredString(obj, "error")
	if err != nil {
		return &TransportError{StatusCode: http.StatusBadRequest, Body: body, Err: err}
	}

	tokenErr := &TokenError{Code: tokenErrorCode(code)}
	if description, ok, err := optionalString(obj, "error_description"); err == nil && ok {
		tokenErr.Description = description
	}
	if uri, ok, err := optionalString(obj, "error_uri"); err == nil && ok {
		tokenErr.URI = uri
	}
	return tokenErr
}
