package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wsmon/internal/hub"
	"wsmon/pkg/config"
)

func testServer(t *testing.T, cfg *config.ServerConfig) (*Server, *hub.Registry) {
	t.Helper()
	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = filepath.Join(t.TempDir(), "static")
	}
	registry := hub.NewRegistry()
	return New(cfg, registry, zerolog.Nop()), registry
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + config.WSPath
}

func TestConfigEndpoint(t *testing.T) {
	s, _ := testServer(t, &config.ServerConfig{
		PublicHost: "example.com",
		PublicPort: 9000,
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/config.json")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %s", ct)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["wsUrl"] != "ws://example.com:9000/ws/metrics" {
		t.Errorf("wsUrl: got %q, want ws://example.com:9000/ws/metrics", body["wsUrl"])
	}
}

func TestConfigEndpoint_Secure(t *testing.T) {
	s, _ := testServer(t, &config.ServerConfig{
		PublicHost: "example.com",
		PublicPort: 443,
		UseWSS:     true,
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/config.json")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["wsUrl"] != "wss://example.com:443/ws/metrics" {
		t.Errorf("wsUrl: got %q, want wss://example.com:443/ws/metrics", body["wsUrl"])
	}
}

func TestRootIndex_Missing(t *testing.T) {
	s, _ := testServer(t, &config.ServerConfig{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "index.html not found" {
		t.Errorf("error body: got %q", body["error"])
	}
}

func TestRootIndex_Served(t *testing.T) {
	staticDir := t.TempDir()
	index := filepath.Join(staticDir, "index.html")
	if err := os.WriteFile(index, []byte("<html><body>metrics ui</body></html>"), 0644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	s, _ := testServer(t, &config.ServerConfig{StaticDir: staticDir})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestStaticMount(t *testing.T) {
	staticDir := t.TempDir()
	scriptsDir := filepath.Join(staticDir, "scripts")
	if err := os.MkdirAll(scriptsDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(scriptsDir, "app.js"), []byte("console.log('hi')"), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	s, _ := testServer(t, &config.ServerConfig{StaticDir: staticDir})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/scripts/app.js")
	if err != nil {
		t.Fatalf("get script: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}

	// Styles directory does not exist, so the route falls through to
	// the root handler's JSON 404.
	resp2, err := http.Get(ts.URL + "/styles/site.css")
	if err != nil {
		t.Fatalf("get style: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("unmounted dir status: got %d, want 404", resp2.StatusCode)
	}
}

func TestWebSocket_RegisterAndDeregister(t *testing.T) {
	s, registry := testServer(t, &config.ServerConfig{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return registry.Len() == 1
	}, "connection to register")

	// Peer close removes the subscriber even with zero broadcast ticks.
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitFor(t, time.Second, func() bool {
		return registry.Len() == 0
	}, "connection to deregister on peer close")
}

func TestWebSocket_InboundFramesDiscarded(t *testing.T) {
	s, registry := testServer(t, &config.ServerConfig{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, time.Second, func() bool {
		return registry.Len() == 1
	}, "connection to register")

	// Client frames are accepted and ignored; the connection stays up.
	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("ping?")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if registry.Len() != 1 {
		t.Errorf("registry after inbound frames: got %d, want 1", registry.Len())
	}
}

func TestWebSocket_OriginRejected(t *testing.T) {
	s, registry := testServer(t, &config.ServerConfig{
		AllowedOrigins: []string{"http://allowed.example.com"},
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err == nil {
		t.Fatal("expected handshake to fail for disallowed origin")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("handshake status: got %d, want 403", resp.StatusCode)
	}
	if registry.Len() != 0 {
		t.Errorf("registry: got %d, want 0", registry.Len())
	}
}

func TestWebSocket_OriginAllowed(t *testing.T) {
	s, registry := testServer(t, &config.ServerConfig{
		AllowedOrigins: []string{"http://allowed.example.com"},
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	header := http.Header{"Origin": []string{"http://allowed.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	defer conn.Close()

	waitFor(t, time.Second, func() bool {
		return registry.Len() == 1
	}, "connection to register")
}

func TestWebSocket_WildcardOrigin(t *testing.T) {
	s, registry := testServer(t, &config.ServerConfig{
		AllowedOrigins: []string{"*"},
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	header := http.Header{"Origin": []string{"http://anything.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err != nil {
		t.Fatalf("dial with wildcard allow-list: %v", err)
	}
	defer conn.Close()

	waitFor(t, time.Second, func() bool {
		return registry.Len() == 1
	}, "connection to register")
}

func TestCORSHeaders(t *testing.T) {
	s, _ := testServer(t, &config.ServerConfig{
		AllowedOrigins: []string{"http://app.example.com"},
		PublicHost:     "example.com",
		PublicPort:     8080,
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/config.json", nil)
	req.Header.Set("Origin", "http://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://app.example.com" {
		t.Errorf("allow-origin: got %q, want http://app.example.com", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("allow-credentials: got %q, want true", got)
	}

	// Disallowed origin gets no CORS headers.
	req2, _ := http.NewRequest(http.MethodGet, ts.URL+"/config.json", nil)
	req2.Header.Set("Origin", "http://evil.example.com")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp2.Body.Close()

	if got := resp2.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got allow-origin header %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := testServer(t, &config.ServerConfig{
		AllowedOrigins: []string{"http://app.example.com"},
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/config.json", nil)
	req.Header.Set("Origin", "http://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status: got %d, want 204", resp.StatusCode)
	}
}
