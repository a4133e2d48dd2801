package callback

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"

	"deskauth/pkg/logging"
)

//go:embed assets/finished.html
var finishedHTML []byte

//go:embed assets/error.html
var errorHTMLSource string

//go:embed assets/script.js
var scriptJS []byte

//go:embed assets/style.css
var styleCSS []byte

//go:embed assets/favicon.ico
var faviconICO []byte

var errorTemplate = template.Must(template.New("error").Parse(errorHTMLSource))

const htmlContentType = "text/html; charset=UTF-8"

// route dispatches a parsed request. The host handler runs first, under
// a panic guard; when it leaves the request unhandled the built-in
// routing applies. Path matching is case-insensitive.
func (l *Listener) route(conn net.Conn, req *Request) (err error) {
	if l.cfg.Handler != nil {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("request handler panicked: %v", r)
			}
		}()
		l.cfg.Handler(req)
		if req.Handled() {
			return l.writeResponse(conn, req.status, req.contentType, req.body, nil)
		}
	}

	switch strings.ToLower(req.URI.Path) {
	case "/callback":
		l.emitCallback(req.URI)
		// Redirecting moves the browser away from the URL carrying the
		// authorization code, so the address bar no longer shows it and
		// a refresh cannot replay /callback.
		location := l.BaseURL() + "/finished"
		return l.writeResponse(conn, http.StatusMovedPermanently, htmlContentType, nil,
			map[string]string{"Location": location})
	case "/finished":
		return l.writeResponse(conn, http.StatusOK, htmlContentType, finishedHTML, nil)
	case "/script.js":
		return l.writeResponse(conn, http.StatusOK, "text/javascript", scriptJS, nil)
	case "/style.css":
		return l.writeResponse(conn, http.StatusOK, "text/css", styleCSS, nil)
	case "/favicon.ico":
		return l.writeResponse(conn, http.StatusOK, "image/x-icon", faviconICO, nil)
	default:
		return &HTTPError{Code: 404, Message: "page not found"}
	}
}

// emitCallback raises the callback event. The host hook runs
// synchronously and unwrapped; the event channel is drained by the host.
func (l *Listener) emitCallback(uri *url.URL) {
	logging.Info("Callback", "received redirect on %s", uri.Path)

	select {
	case l.events <- uri:
	default:
		logging.Warn("Callback", "event buffer full, dropping redirect event")
	}

	if l.cfg.Callback != nil {
		l.cfg.Callback(uri)
	}
}

// writeError converts a handler failure into an HTTP error response with
// a localized error page. Writing is best-effort: a failure to deliver
// the error page is logged and dropped.
func (l *Listener) writeError(conn net.Conn, cause error) {
	code := http.StatusInternalServerError
	var httpErr *HTTPError
	if errors.As(cause, &httpErr) {
		code = httpErr.Code
	}

	var page bytes.Buffer
	err := errorTemplate.Execute(&page, map[string]any{
		"Code":    code,
		"Status":  http.StatusText(code),
		"Message": cause.Error(),
	})
	if err != nil {
		page.Reset()
		page.WriteString(http.StatusText(code))
	}

	if err := l.writeResponse(conn, code, htmlContentType, page.Bytes(), nil); err != nil {
		logging.Debug("Callback", "failed to write error response: %v", err)
	}
}

// writeResponse writes a complete HTTP/1.0 response and closes the
// exchange.
func (l *Listener) writeResponse(conn net.Conn, status int, contentType string, body []byte, extra map[string]string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.0 %d %s\r\n", status, http.StatusText(status))
	if contentType != "" && len(body) > 0 {
		fmt.Fprintf(&sb, "Content-Type: %s\r\n", contentType)
	}
	fmt.Fprintf(&sb, "Content-Length: %d\r\n", len(body))
	sb.WriteString("Connection: close\r\n")
	for name, value := range extra {
		fmt.Fprintf(&sb, "%s: %s\r\n", name, value)
	}
	sb.WriteString("\r\n")

	if _, err := conn.Write([]byte(sb.String())); err != nil {
		return err
	}
	_, err := conn.Write(body)
	return err
}
