package proxy

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/HakAl/tokenwatch/internal/config"
	"github.com/HakAl/tokenwatch/internal/pricing"
	"github.com/HakAl/tokenwatch/internal/store"
)

// newTestProxy wires a proxy server to an httptest TLS upstream and a
// temp sqlite store. The returned server has its provider tag pinned to
// openai since the upstream host is a loopback address.
func newTestProxy(t *testing.T, upstream *httptest.Server) (*Server, store.Store) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	u, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatalf("failed to parse upstream URL: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Proxy.Upstream = u.Host

	table := pricing.NewTable()

	srv, err := New(ServerConfig{
		Config:    cfg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:     st,
		Pricing:   table,
		Forwarder: NewForwarderWithTransport(upstream.Client().Transport),
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	srv.tag = "openai"

	return srv, st
}

func doRequest(t *testing.T, srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func countCalls(t *testing.T, st store.Store) int {
	t.Helper()
	calls, err := st.ListCalls(context.Background(), store.CallFilter{})
	if err != nil {
		t.Fatalf("failed to list calls: %v", err)
	}
	return len(calls)
}

func TestProxyRecordsUsage(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"gpt-4o","usage":{"prompt_tokens":100,"completion_tokens":50}}`))
	}))
	defer upstream.Close()

	srv, st := newTestProxy(t, upstream)

	rec := doRequest(t, srv, http.MethodPost, "/v1/chat/completions", []byte(`{"model":"gpt-4o"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	calls, err := st.ListCalls(context.Background(), store.CallFilter{})
	if err != nil {
		t.Fatalf("failed to list calls: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}

	call := calls[0]
	if call.Provider != "openai" {
		t.Errorf("provider = %q, want openai", call.Provider)
	}
	if call.Model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", call.Model)
	}
	if call.InputTokens != 100 || call.OutputTokens != 50 {
		t.Errorf("tokens = %d/%d, want 100/50", call.InputTokens, call.OutputTokens)
	}
	// 100 * 2.50/1M + 50 * 10.00/1M
	if call.Cost != 0.00075 {
		t.Errorf("cost = %v, want 0.00075", call.Cost)
	}
	if call.Project != "default" {
		t.Errorf("project = %q, want default", call.Project)
	}
}

func TestProxyRelaysResponseVerbatim(t *testing.T) {
	respBody := []byte(`{"model":"gpt-4o","usage":{"prompt_tokens":10,"completion_tokens":5},"choices":[{"message":{"content":"hi"}}]}`)

	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", "req_123")
		w.Write(respBody)
	}))
	defer upstream.Close()

	srv, _ := newTestProxy(t, upstream)

	rec := doRequest(t, srv, http.MethodPost, "/v1/chat/completions", []byte(`{}`))

	if !bytes.Equal(rec.Body.Bytes(), respBody) {
		t.Errorf("body not relayed verbatim:\ngot  %q\nwant %q", rec.Body.Bytes(), respBody)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "req_123" {
		t.Errorf("X-Request-Id = %q, want req_123", got)
	}
	if got := rec.Header().Get("Content-Length"); got != strconv.Itoa(len(respBody)) {
		t.Errorf("Content-Length = %q, want %d", got, len(respBody))
	}
}

func TestProxyForwardsRequestBodyAndPath(t *testing.T) {
	var gotMethod, gotPath, gotQuery string
	var gotBody []byte
	var gotConnection string

	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		gotConnection = r.Header.Get("Keep-Alive")
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	srv, _ := newTestProxy(t, upstream)

	reqBody := []byte(`{"model":"gpt-4o","messages":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions?beta=true", bytes.NewReader(reqBody))
	req.Header.Set("Keep-Alive", "timeout=5")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q, want /v1/chat/completions", gotPath)
	}
	if gotQuery != "beta=true" {
		t.Errorf("query = %q, want beta=true", gotQuery)
	}
	if !bytes.Equal(gotBody, reqBody) {
		t.Errorf("body = %q, want %q", gotBody, reqBody)
	}
	if gotConnection != "" {
		t.Errorf("hop-by-hop Keep-Alive header forwarded: %q", gotConnection)
	}
}

func TestProxySkipsNonPOST(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"gpt-4o","usage":{"prompt_tokens":100,"completion_tokens":50}}`))
	}))
	defer upstream.Close()

	srv, st := newTestProxy(t, upstream)

	rec := doRequest(t, srv, http.MethodGet, "/v1/models", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if n := countCalls(t, st); n != 0 {
		t.Errorf("got %d calls, want 0", n)
	}
}

func TestProxySkipsNon2xx(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer upstream.Close()

	srv, st := newTestProxy(t, upstream)

	rec := doRequest(t, srv, http.MethodPost, "/v1/chat/completions", []byte(`{}`))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if n := countCalls(t, st); n != 0 {
		t.Errorf("got %d calls, want 0", n)
	}
}

func TestProxySkipsUndecodableBody(t *testing.T) {
	respBody := []byte("this is not valid json")

	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write(respBody)
	}))
	defer upstream.Close()

	srv, st := newTestProxy(t, upstream)

	rec := doRequest(t, srv, http.MethodPost, "/v1/chat/completions", []byte(`{}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), respBody) {
		t.Errorf("body not relayed verbatim: %q", rec.Body.Bytes())
	}
	if n := countCalls(t, st); n != 0 {
		t.Errorf("got %d calls, want 0", n)
	}
}

func TestProxySkipsZeroTokens(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"gpt-4o","usage":{"prompt_tokens":0,"completion_tokens":0}}`))
	}))
	defer upstream.Close()

	srv, st := newTestProxy(t, upstream)

	doRequest(t, srv, http.MethodPost, "/v1/chat/completions", []byte(`{}`))

	if n := countCalls(t, st); n != 0 {
		t.Errorf("got %d calls, want 0", n)
	}
}

func TestProxySkipsUnpricedModel(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"gpt-99-experimental","usage":{"prompt_tokens":100,"completion_tokens":50}}`))
	}))
	defer upstream.Close()

	srv, st := newTestProxy(t, upstream)

	rec := doRequest(t, srv, http.MethodPost, "/v1/chat/completions", []byte(`{}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if n := countCalls(t, st); n != 0 {
		t.Errorf("got %d calls, want 0", n)
	}
}

func TestProxyRecordsSSEUsage(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"model":"gpt-4o-mini","choices":[{"delta":{"content":"hi"}}]}`,
		``,
		`data: {"model":"gpt-4o-mini","usage":{"prompt_tokens":200,"completion_tokens":100}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sse))
	}))
	defer upstream.Close()

	srv, st := newTestProxy(t, upstream)

	rec := doRequest(t, srv, http.MethodPost, "/v1/chat/completions", []byte(`{"stream":true}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != sse {
		t.Errorf("SSE body not relayed verbatim")
	}

	calls, err := st.ListCalls(context.Background(), store.CallFilter{})
	if err != nil {
		t.Fatalf("failed to list calls: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].InputTokens != 200 || calls[0].OutputTokens != 100 {
		t.Errorf("tokens = %d/%d, want 200/100", calls[0].InputTokens, calls[0].OutputTokens)
	}
}

func TestProxyBadGatewayOnUpstreamFailure(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := upstream.Client()
	upstream.Close() // connection refused from here on

	srv, st := newTestProxyWithClosedUpstream(t, upstream, client)

	rec := doRequest(t, srv, http.MethodPost, "/v1/chat/completions", []byte(`{}`))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if n := countCalls(t, st); n != 0 {
		t.Errorf("got %d calls, want 0", n)
	}
}

func newTestProxyWithClosedUpstream(t *testing.T, upstream *httptest.Server, client *http.Client) (*Server, store.Store) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	u, _ := url.Parse(upstream.URL)
	cfg := config.DefaultConfig()
	cfg.Proxy.Upstream = u.Host

	table := pricing.NewTable()

	srv, err := New(ServerConfig{
		Config:    cfg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:     st,
		Pricing:   table,
		Forwarder: NewForwarderWithTransport(client.Transport),
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	srv.tag = "openai"
	return srv, st
}

func TestProxyRelaysBinaryBody(t *testing.T) {
	binary := []byte{0x00, 0xff, 0x1f, 0x8b, 0x42, 0x00, 0x7f}

	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(binary)
	}))
	defer upstream.Close()

	srv, st := newTestProxy(t, upstream)

	rec := doRequest(t, srv, http.MethodPost, "/v1/audio/speech", []byte(`{}`))

	if !bytes.Equal(rec.Body.Bytes(), binary) {
		t.Errorf("binary body not relayed byte-identical")
	}
	if n := countCalls(t, st); n != 0 {
		t.Errorf("got %d calls, want 0", n)
	}
}

func TestProxyUnknownProviderSkipsLogging(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"gpt-4o","usage":{"prompt_tokens":100,"completion_tokens":50}}`))
	}))
	defer upstream.Close()

	srv, st := newTestProxy(t, upstream)
	srv.tag = "unknown" // loopback host matches no known provider

	rec := doRequest(t, srv, http.MethodPost, "/v1/chat/completions", []byte(`{}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if n := countCalls(t, st); n != 0 {
		t.Errorf("got %d calls, want 0", n)
	}
}

func TestProxyOnCallCallback(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"gpt-4o-mini","usage":{"prompt_tokens":300,"completion_tokens":150}}`))
	}))
	defer upstream.Close()

	srv, _ := newTestProxy(t, upstream)

	done := make(chan *store.Call, 1)
	srv.onCall = func(c *store.Call) { done <- c }

	doRequest(t, srv, http.MethodPost, "/v1/chat/completions", []byte(`{}`))

	select {
	case call := <-done:
		if call.Model != "gpt-4o-mini" {
			t.Errorf("model = %q, want gpt-4o-mini", call.Model)
		}
	case <-time.After(time.Second):
		t.Fatal("onCall callback not invoked")
	}
}

func TestNewValidatesDependencies(t *testing.T) {
	table := pricing.NewTable()

	if _, err := New(ServerConfig{}); err == nil {
		t.Error("expected error for missing config")
	}
	if _, err := New(ServerConfig{Config: config.DefaultConfig()}); err == nil {
		t.Error("expected error for missing store")
	}

	cfg := config.DefaultConfig()
	cfg.Proxy.Upstream = ""
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()
	if _, err := New(ServerConfig{Config: cfg, Store: st, Pricing: table}); err == nil {
		t.Error("expected error for missing upstream")
	}
}

func TestProxyDecodesGzipUpstream(t *testing.T) {
	respJSON := []byte(`{"model":"gpt-4o","usage":{"prompt_tokens":100,"completion_tokens":50}}`)

	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			w.Header().Set("Content-Encoding", "gzip")
			gz := gzip.NewWriter(w)
			gz.Write(respJSON)
			gz.Close()
			return
		}
		w.Write(respJSON)
	}))
	defer upstream.Close()

	srv, st := newTestProxy(t, upstream)

	// SDK clients request gzip by default. The proxy must still relay
	// plaintext and record usage.
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), respJSON) {
		t.Errorf("body not decoded, got %q", rec.Body.String())
	}
	if ce := rec.Header().Get("Content-Encoding"); ce != "" {
		t.Errorf("Content-Encoding = %q, want empty", ce)
	}
	if got := countCalls(t, st); got != 1 {
		t.Errorf("recorded %d calls, want 1", got)
	}
}
