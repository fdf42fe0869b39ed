// Package proxy implements the transparent usage-logging proxy.
//
// The server forwards every inbound request verbatim to a fixed upstream
// LLM API host. Successful POST responses are inspected for token usage,
// priced, and recorded as a side effect; the logging path is best-effort
// and never alters the response relayed to the client.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/HakAl/tokenwatch/internal/config"
	"github.com/HakAl/tokenwatch/internal/pricing"
	"github.com/HakAl/tokenwatch/internal/provider"
	"github.com/HakAl/tokenwatch/internal/store"
)

// Server is the forwarding proxy. The upstream host is fixed per
// instance; there is no per-request host routing.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	forwarder *Forwarder
	pricing   *pricing.Table
	store     store.Store
	server    *http.Server

	upstream string // fixed upstream host
	tag      string // provider tag derived from upstream

	// onCall is invoked after a call record is written, for real-time
	// dashboard updates.
	onCall func(*store.Call)
}

// ServerConfig holds dependencies for creating a proxy server.
type ServerConfig struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   store.Store
	Pricing *pricing.Table
	OnCall  func(*store.Call)

	// Forwarder overrides the default forwarder. Tests use this to
	// reach an httptest upstream.
	Forwarder *Forwarder
}

// New creates a proxy server bound to the configured listen address and
// upstream host.
func New(cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Pricing == nil {
		return nil, fmt.Errorf("pricing table is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	forwarder := cfg.Forwarder
	if forwarder == nil {
		forwarder = NewForwarder()
	}

	upstream := cfg.Config.Proxy.Upstream
	if upstream == "" {
		return nil, fmt.Errorf("upstream host is required")
	}

	s := &Server{
		cfg:       cfg.Config,
		logger:    cfg.Logger,
		forwarder: forwarder,
		pricing:   cfg.Pricing,
		store:     cfg.Store,
		upstream:  upstream,
		tag:       ProviderTag(upstream),
		onCall:    cfg.OnCall,
	}

	s.server = &http.Server{
		Addr:        cfg.Config.Proxy.ListenAddr(),
		Handler:     s,
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Serve starts the proxy server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	// Shutdown goroutine
	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down proxy")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutdown error", "error", err)
		}
		s.forwarder.Close()
	}()

	s.logger.Info("proxy listening", "addr", s.server.Addr, "upstream", s.upstream, "provider", s.tag)
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}

	return nil
}

// ServeHTTP handles one inbound request: forward, best-effort log, relay.
// This implements the http.Handler interface; net/http gives each request
// its own goroutine, so in-flight requests never block each other.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Drain the full request body before forwarding. Usage extraction
	// needs the complete response anyway, so nothing streams.
	body, err := readAll(r)
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	// Sanitize inbound headers for the upstream hop
	outHeader := make(http.Header, len(r.Header))
	copyHeaders(outHeader, r.Header)
	removeHopByHopHeaders(outHeader)
	outHeader.Del("Host")
	// Strip Accept-Encoding so the transport negotiates compression
	// itself and hands back a decoded body. Usage parsing needs
	// plaintext, and relay sends the buffered bytes unencoded.
	outHeader.Del("Accept-Encoding")

	url := "https://" + s.upstream + r.URL.Path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	s.logger.Debug("forwarding request", "method", r.Method, "url", url)

	resp, err := s.forwarder.Forward(r.Context(), r.Method, url, outHeader, body)
	if err != nil {
		s.logger.Error("failed to forward request", "url", url, "error", err)
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}

	// Usage extraction only happens on call-submission requests. The
	// outcome never affects the relayed response.
	if r.Method == http.MethodPost && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.recordUsage(resp)
	}

	s.relay(w, resp)
}

// relay writes the upstream response back to the original client. The
// body is byte-identical to what the upstream returned; hop-by-hop and
// encoding headers are stripped and content-length recomputed, since the
// buffered body is sent unencoded.
func (s *Server) relay(w http.ResponseWriter, resp *UpstreamResponse) {
	copyHeaders(w.Header(), resp.Header)
	removeHopByHopHeaders(w.Header())
	w.Header().Del("Content-Encoding")
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))

	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		s.logger.Debug("error writing response", "error", err)
	}
}

// recordUsage parses token usage from a response body, prices it, and
// writes a call record. Every failure here is swallowed: decode errors,
// unknown providers, unpriced models, and store errors must never break
// the proxied response.
func (s *Server) recordUsage(resp *UpstreamResponse) {
	isSSE := strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")

	usage, err := provider.ParseUsage(s.tag, resp.Body, isSSE)
	if err != nil {
		// Not a decodable body; nothing to log.
		s.logger.Debug("skipping usage extraction", "provider", s.tag, "error", err)
		return
	}

	if usage.InputTokens <= 0 && usage.OutputTokens <= 0 {
		return
	}

	model := usage.Model
	if model == "" {
		model = "unknown"
	}

	cost, err := s.pricing.Cost(model, usage.InputTokens, usage.OutputTokens)
	if err != nil {
		s.logger.Debug("skipping unpriced model", "model", model)
		return
	}

	call := &store.Call{
		Provider:     s.tag,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Cost:         cost,
		Project:      s.cfg.DefaultProject,
	}

	// Not tied to the inbound request context: logging proceeds even if
	// the client has gone away.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.store.Insert(ctx, call); err != nil {
		s.logger.Error("failed to record call", "model", model, "error", err)
		return
	}

	s.logger.Info("recorded call",
		"provider", call.Provider,
		"model", call.Model,
		"input_tokens", call.InputTokens,
		"output_tokens", call.OutputTokens,
		"cost", call.Cost,
	)

	if s.onCall != nil {
		s.onCall(call)
	}
}

// readAll drains and returns the full request body.
func readAll(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// copyHeaders copies headers from src to dst.
func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}

// hopByHopHeaders are headers that should not be forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopByHopHeaders removes hop-by-hop headers from the header map.
func removeHopByHopHeaders(h http.Header) {
	// Get Connection header value before we delete it
	conn := h.Get("Connection")

	for _, header := range hopByHopHeaders {
		h.Del(header)
	}

	// Also remove headers listed in Connection header
	if conn != "" {
		for _, f := range strings.Split(conn, ",") {
			if f = strings.TrimSpace(f); f != "" {
				h.Del(f)
			}
		}
	}
}
