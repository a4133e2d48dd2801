package callback

import (
	"fmt"
	"net/url"
)

// Request is the event object handed to a host's Handler. The host may
// populate the response for arbitrary paths via Respond; requests left
// unhandled fall through to the built-in routing.
type Request struct {
	// Method is the uppercased HTTP method, GET or POST.
	Method string

	// URI is the request target resolved against the listener's base
	// URL, so it is always absolute.
	URI *url.URL

	// Header holds the parsed request headers with canonicalized names.
	Header map[string]string

	status      int
	contentType string
	body        []byte
	handled     bool
}

// Respond populates the response with an HTTP 200, the given MIME type
// and body, and marks the request handled.
func (r *Request) Respond(contentType string, body []byte) {
	r.RespondStatus(200, contentType, body)
}

// RespondStatus populates the response with an explicit status code.
func (r *Request) RespondStatus(status int, contentType string, body []byte) {
	r.status = status
	r.contentType = contentType
	r.body = body
	r.handled = true
}

// Handled reports whether a handler populated the response.
func (r *Request) Handled() bool {
	return r.handled
}

// HTTPError is a listener-side protocol failure carrying the HTTP status
// to report to the client.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Message)
}
