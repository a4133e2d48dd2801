// Package oauth implements the client side of the OAuth 2.0
// Authorization Code Grant with PKCE (RFC 6749 section 4.1, RFC 7636)
// for native desktop applications, with bearer tokens (RFC 6750),
// transparent refresh (RFC 6749 section 6) and confidential at-rest
// persistence.
//
// A typical flow pairs a Grant with the loopback listener from
// pkg/callback:
//
//	grant, err := oauth.NewGrant(oauth.GrantConfig{
//		AuthorizationEndpoint: "https://as.example.org/authorize",
//		TokenEndpoint:         "https://as.example.org/token",
//		RedirectEndpoint:      listener.CallbackURL(),
//		ClientID:              "org.example.app",
//		Scope:                 []string{"profile", "offline_access"},
//	})
//	authURL, err := grant.AuthorizationURL()
//	// open authURL in the user's browser, wait for the listener's
//	// callback event carrying the redirect URI
//	token, err := grant.Exchange(ctx, client, redirectURI.Query())
//
// The resulting AccessToken authorizes requests via Authorize, persists
// through MarshalAtRest/Store, refreshes through EndpointClient.Refresh
// or a RefreshSource, and bridges to golang.org/x/oauth2 via
// OAuth2Token.
//
// The package does not discover server metadata, register clients, or
// implement device/implicit flows; endpoints are caller-provided.
package oauth
