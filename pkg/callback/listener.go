package callback

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"deskauth/pkg/logging"
)

const (
	// maxHeaderBytes bounds the request head a client may send before the
	// connection is rejected, so a hostile local process cannot grow the
	// buffer without limit.
	maxHeaderBytes = 64 * 1024

	// connIOTimeout bounds each connection's read and write phases.
	connIOTimeout = 30 * time.Second

	// eventBuffer is the capacity of the callback event channel. One
	// successful authorization produces one event; the headroom absorbs
	// browser refresh replays until the host drains them.
	eventBuffer = 8
)

// Config configures a Listener.
type Config struct {
	// Address is the loopback IP to bind. Defaults to 127.0.0.1.
	Address string

	// Port is the TCP port to bind; 0 asks the OS to assign one.
	Port int

	// Callback, when set, is invoked synchronously for every request to
	// /callback with the absolute redirect URI. The listener does not
	// wrap the call: a blocking handler blocks only that connection.
	Callback func(uri *url.URL)

	// Handler, when set, is consulted for every request before the
	// built-in routing. A handler that populates the response via
	// Request.Respond pre-empts the default pages, including /finished.
	Handler func(req *Request)
}

// Listener is a minimal HTTP/1.0 server on a loopback address that
// receives the browser redirect finishing an authorization flow. It
// accepts exactly one meaningful request, the redirect to /callback, and
// additionally serves the small static surface the success page needs.
//
// Create it with NewListener (which binds the socket), then Start, then
// wait for the callback event. Stop terminates the accept loop; Close
// implies Stop.
type Listener struct {
	cfg Config

	ln      net.Listener
	baseURL *url.URL

	events chan *url.URL

	mu      sync.Mutex
	started bool
	stopped bool

	wg sync.WaitGroup
}

// NewListener binds a socket on the configured loopback address and
// returns the listener. The actual endpoint, with the OS-assigned port
// resolved, is available from Addr immediately.
func NewListener(cfg Config) (*Listener, error) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1"
	}
	ip := net.ParseIP(cfg.Address)
	if ip == nil || !ip.IsLoopback() {
		return nil, fmt.Errorf("address %q is not a loopback address", cfg.Address)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("binding callback listener: %w", err)
	}

	port := ln.Addr().(*net.TCPAddr).Port
	base := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(cfg.Address, strconv.Itoa(port)),
	}

	return &Listener{
		cfg:     cfg,
		ln:      ln,
		baseURL: base,
		events:  make(chan *url.URL, eventBuffer),
	}, nil
}

// Addr returns the bound endpoint.
func (l *Listener) Addr() *net.TCPAddr {
	return l.ln.Addr().(*net.TCPAddr)
}

// BaseURL returns the listener's root URL, http://<loopback>:<port>.
func (l *Listener) BaseURL() string {
	return l.baseURL.String()
}

// CallbackURL returns the redirect endpoint to register with the
// authorization server.
func (l *Listener) CallbackURL() string {
	return l.BaseURL() + "/callback"
}

// Events returns the channel on which redirect URIs are delivered. Every
// request to /callback raises its own event; the host is responsible for
// ignoring stale ones via the grant's state check.
func (l *Listener) Events() <-chan *url.URL {
	return l.events
}

// Start begins accepting connections on a background worker.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return errors.New("listener already stopped")
	}
	if l.started {
		return errors.New("listener already started")
	}
	l.started = true

	l.wg.Add(1)
	go l.acceptLoop()

	logging.Info("Callback", "listening on %s", l.BaseURL())
	return nil
}

// Stop terminates the accept loop by closing the socket and waits for
// in-flight connection handlers, which are bounded by per-connection
// deadlines.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	l.mu.Unlock()

	err := l.ln.Close()
	l.wg.Wait()
	return err
}

// Close stops the listener. It implements io.Closer.
func (l *Listener) Close() error {
	return l.Stop()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.mu.Lock()
			stopped := l.stopped
			l.mu.Unlock()
			if stopped || errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient accept failures must not take down the loop.
			logging.Warn("Callback", "accept failed: %v", err)
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(conn)
		}()
	}
}

// handleConn serves a single connection. Every failure path is converted
// into a best-effort HTTP error response; nothing propagates beyond the
// connection.
func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	_ = conn.SetDeadline(time.Now().Add(connIOTimeout))

	req, err := l.readRequest(conn)
	if err != nil {
		logging.Debug("Callback", "conn %s: %v", connID, err)
		l.writeError(conn, err)
		return
	}

	logging.Debug("Callback", "conn %s: %s %s", connID, req.Method, req.URI)

	if err := l.route(conn, req); err != nil {
		logging.Debug("Callback", "conn %s: handler failed: %v", connID, err)
		l.writeError(conn, err)
	}
}

// readRequest reads the request head byte by byte until the CRLF-CRLF
// terminator, tracking a 4-byte rolling window so the accumulated buffer
// is never rescanned, then parses the request line and headers and
// drains any declared body.
func (l *Listener) readRequest(conn net.Conn) (*Request, error) {
	reader := bufio.NewReader(conn)

	var (
		head   []byte
		window [4]byte
	)
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return nil, &HTTPError{Code: 400, Message: "truncated request head"}
		}
		head = append(head, b)
		if len(head) > maxHeaderBytes {
			return nil, &HTTPError{Code: 400, Message: "request head too large"}
		}

		window[0], window[1], window[2], window[3] = window[1], window[2], window[3], b
		if window == [4]byte{'\r', '\n', '\r', '\n'} {
			break
		}
	}

	req, contentLength, err := l.parseHead(string(head[:len(head)-4]))
	if err != nil {
		return nil, err
	}

	// The body is drained and discarded; only the target URI matters.
	if contentLength > 0 {
		if _, err := io.CopyN(io.Discard, reader, contentLength); err != nil {
			return nil, &HTTPError{Code: 400, Message: "truncated request body"}
		}
	}
	return req, nil
}

// parseHead parses the request line and header block (without the final
// CRLF-CRLF terminator).
func (l *Listener) parseHead(head string) (*Request, int64, error) {
	lines := strings.Split(head, "\r\n")

	parts := strings.Fields(lines[0])
	if len(parts) < 3 {
		return nil, 0, &HTTPError{Code: 400, Message: "malformed request line"}
	}
	method := strings.ToUpper(parts[0])
	if method != "GET" && method != "POST" {
		return nil, 0, &HTTPError{Code: 405, Message: "method not allowed"}
	}

	headers := parseHeaders(lines[1:])

	target, err := url.Parse(parts[1])
	if err != nil {
		return nil, 0, &HTTPError{Code: 400, Message: "malformed request target"}
	}
	uri := l.baseURL.ResolveReference(target)

	var contentLength int64
	if raw, ok := headers["Content-Length"]; ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && n >= 0 {
			contentLength = n
		}
	}

	return &Request{Method: method, URI: uri, Header: headers}, contentLength, nil
}

// parseHeaders splits "name: value" lines at the first colon. Folded
// continuation lines (starting with space or tab) append to the previous
// header with a single leading space; duplicate headers join with ",".
func parseHeaders(lines []string) map[string]string {
	headers := make(map[string]string)
	var lastName string

	for _, line := range lines {
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && lastName != "" {
			headers[lastName] += " " + strings.TrimSpace(line)
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = canonicalHeaderName(strings.TrimSpace(name))
		value = strings.TrimSpace(value)

		if existing, ok := headers[name]; ok {
			headers[name] = existing + "," + value
		} else {
			headers[name] = value
		}
		lastName = name
	}
	return headers
}

// canonicalHeaderName normalizes header names so lookups are
// case-insensitive ("content-length" and "Content-Length" collapse).
func canonicalHeaderName(name string) string {
	parts := strings.Split(strings.ToLower(name), "-")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}
