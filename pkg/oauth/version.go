package oauth

// Version is the library version, overridable at build time through the
// main package.
var Version = "0.1.0"

// UserAgent returns the User-Agent header value sent on token requests.
func UserAgent() string {
	return "deskauth/" + Version
}
