package callback

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startListener(t *testing.T, cfg Config) *Listener {
	t.Helper()
	l, err := NewListener(cfg)
	require.NoError(t, err)
	require.NoError(t, l.Start())
	t.Cleanup(func() { _ = l.Stop() })
	return l
}

// rawRequest writes raw bytes to the listener and returns the full
// response.
func rawRequest(t *testing.T, l *Listener, raw string) string {
	t.Helper()
	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(resp)
}

func TestListener_BindsLoopback(t *testing.T) {
	l := startListener(t, Config{})

	addr := l.Addr()
	assert.True(t, addr.IP.IsLoopback())
	assert.NotZero(t, addr.Port, "port 0 resolves to an OS-assigned port")
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", addr.Port), l.BaseURL())
	assert.Equal(t, l.BaseURL()+"/callback", l.CallbackURL())
}

func TestListener_RejectsNonLoopback(t *testing.T) {
	_, err := NewListener(Config{Address: "0.0.0.0"})
	assert.Error(t, err)

	_, err = NewListener(Config{Address: "not-an-ip"})
	assert.Error(t, err)
}

func TestListener_CallbackFlow(t *testing.T) {
	l := startListener(t, Config{})

	// POST with a body, query string preserved.
	body := "This is a test content."
	resp := rawRequest(t, l, fmt.Sprintf(
		"POST /callback?test123 HTTP/1.0\r\nContent-Length: %d\r\n\r\n%s", len(body), body))

	assert.Contains(t, resp, "301 Moved Permanently")
	assert.Contains(t, resp, "Location: "+l.BaseURL()+"/finished")

	select {
	case uri := <-l.Events():
		assert.Equal(t, l.BaseURL()+"/callback?test123", uri.String())
	case <-time.After(2 * time.Second):
		t.Fatal("expected a callback event")
	}
}

func TestListener_CallbackHook(t *testing.T) {
	events := make(chan *url.URL, 1)
	l := startListener(t, Config{Callback: func(uri *url.URL) { events <- uri }})

	resp, err := http.Get(l.CallbackURL() + "?code=abc&state=xyz")
	require.NoError(t, err)
	defer resp.Body.Close()

	select {
	case uri := <-events:
		assert.Equal(t, "abc", uri.Query().Get("code"))
		assert.Equal(t, "xyz", uri.Query().Get("state"))
	case <-time.After(2 * time.Second):
		t.Fatal("expected the callback hook to fire")
	}

	// The client followed the redirect to /finished.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=UTF-8", resp.Header.Get("Content-Type"))
}

func TestListener_StaticSurface(t *testing.T) {
	l := startListener(t, Config{})

	tests := []struct {
		path        string
		status      int
		contentType string
	}{
		{path: "/finished", status: 200, contentType: "text/html; charset=UTF-8"},
		{path: "/script.js", status: 200, contentType: "text/javascript"},
		{path: "/style.css", status: 200, contentType: "text/css"},
		{path: "/favicon.ico", status: 200, contentType: "image/x-icon"},
		{path: "/nonexisting", status: 404, contentType: "text/html; charset=UTF-8"},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := http.Get(l.BaseURL() + tc.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.contentType, resp.Header.Get("Content-Type"))

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.NotEmpty(t, body)
		})
	}
}

func TestListener_PathMatchingCaseInsensitive(t *testing.T) {
	l := startListener(t, Config{})

	resp, err := http.Get(l.BaseURL() + "/FiNiShEd")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw := rawRequest(t, l, "GET /CALLBACK?x=1 HTTP/1.0\r\n\r\n")
	assert.Contains(t, raw, "301 Moved Permanently")
}

func TestListener_MethodNotAllowed(t *testing.T) {
	l := startListener(t, Config{})

	for _, method := range []string{"PUT", "DELETE", "PATCH"} {
		resp := rawRequest(t, l, method+" /finished HTTP/1.0\r\n\r\n")
		assert.Contains(t, resp, "405", "method %s must be rejected", method)
	}

	// Lowercase methods are uppercased before the check.
	resp := rawRequest(t, l, "get /finished HTTP/1.0\r\n\r\n")
	assert.Contains(t, resp, "200 OK")
}

func TestListener_MalformedRequests(t *testing.T) {
	l := startListener(t, Config{})

	t.Run("short request line", func(t *testing.T) {
		resp := rawRequest(t, l, "GET\r\n\r\n")
		assert.Contains(t, resp, "400")
	})

	t.Run("listener survives malformed requests", func(t *testing.T) {
		_ = rawRequest(t, l, "\r\n\r\n")
		resp, err := http.Get(l.BaseURL() + "/finished")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestListener_FoldedAndDuplicateHeaders(t *testing.T) {
	headers := make(chan map[string]string, 1)
	l := startListener(t, Config{
		Handler: func(req *Request) {
			headers <- req.Header
			req.Respond("text/plain", []byte("ok"))
		},
	})

	rawRequest(t, l,
		"GET /anything HTTP/1.0\r\n"+
			"X-Folded: first\r\n"+
			" continued\r\n"+
			"X-Dup: one\r\n"+
			"X-Dup: two\r\n"+
			"\r\n")

	var captured map[string]string
	select {
	case captured = <-headers:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}

	assert.Equal(t, "first continued", captured["X-Folded"])
	assert.Equal(t, "one,two", captured["X-Dup"])
}

func TestListener_RequestHandlerExtension(t *testing.T) {
	l := startListener(t, Config{
		Handler: func(req *Request) {
			if strings.EqualFold(req.URI.Path, "/custom") {
				req.Respond("application/json", []byte(`{"injected":true}`))
			}
		},
	})

	t.Run("handler populates arbitrary path", func(t *testing.T) {
		resp, err := http.Get(l.BaseURL() + "/custom")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		body, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{"injected":true}`, string(body))
	})

	t.Run("unhandled requests fall through to defaults", func(t *testing.T) {
		resp, err := http.Get(l.BaseURL() + "/finished")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/html; charset=UTF-8", resp.Header.Get("Content-Type"))
	})
}

func TestListener_HandlerPanicBecomes500(t *testing.T) {
	l := startListener(t, Config{
		Handler: func(req *Request) {
			if strings.EqualFold(req.URI.Path, "/boom") {
				panic("handler exploded")
			}
		},
	})

	resp, err := http.Get(l.BaseURL() + "/boom")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// The listener keeps serving afterwards.
	resp2, err := http.Get(l.BaseURL() + "/finished")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestListener_BodyDrained(t *testing.T) {
	l := startListener(t, Config{})

	// Write head and body in two chunks; the listener must drain the body
	// and still answer.
	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("POST /callback HTTP/1.0\r\nContent-Length: 11\r\n\r\n"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = conn.Write([]byte("hello world"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, statusLine, "301")
}

func TestListener_MultipleCallbacksEachRaiseEvents(t *testing.T) {
	l := startListener(t, Config{})

	for i := 0; i < 3; i++ {
		resp := rawRequest(t, l, fmt.Sprintf("GET /callback?n=%d HTTP/1.0\r\n\r\n", i))
		assert.Contains(t, resp, "301")
	}

	seen := 0
	timeout := time.After(2 * time.Second)
	for seen < 3 {
		select {
		case <-l.Events():
			seen++
		case <-timeout:
			t.Fatalf("expected 3 events, got %d", seen)
		}
	}
}

func TestListener_StopClosesSocket(t *testing.T) {
	l, err := NewListener(Config{})
	require.NoError(t, err)
	require.NoError(t, l.Start())

	addr := l.Addr().String()
	require.NoError(t, l.Stop())

	_, err = net.DialTimeout("tcp", addr, 500*time.Millisecond)
	assert.Error(t, err, "stopped listener must not accept connections")

	// Stop is idempotent.
	assert.NoError(t, l.Stop())
}

func TestListener_FixedPort(t *testing.T) {
	// Grab a free port, release it, then ask the listener for it.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := probe.Addr().(*net.TCPAddr).Port
	require.NoError(t, probe.Close())

	l, err := NewListener(Config{Port: port})
	if err != nil {
		t.Skipf("port %d was reused before the test could bind it", port)
	}
	defer l.Stop()

	assert.Equal(t, port, l.Addr().Port)
}
