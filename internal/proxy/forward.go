package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"
)

// ForwardTimeout is the ceiling for a single upstream round trip.
// Generation responses can be slow, so it is generous.
const ForwardTimeout = 2 * time.Minute

// UpstreamResponse holds the verbatim result of one upstream request.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forwarder issues HTTPS requests to the upstream host. It owns a single
// long-lived client whose connection pool is shared by all in-flight
// proxied requests; it is safe for concurrent use.
type Forwarder struct {
	client *http.Client
}

// NewForwarder creates a Forwarder with a tuned transport.
func NewForwarder() *Forwarder {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: false,
		},
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		// Don't follow redirects - the original client handles them
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Timeout: ForwardTimeout,
	}

	return &Forwarder{client: client}
}

// NewForwarderWithTransport creates a Forwarder over a caller-supplied
// transport. Tests use this to reach an httptest TLS server.
func NewForwarderWithTransport(rt http.RoundTripper) *Forwarder {
	return &Forwarder{client: &http.Client{
		Transport: rt,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Timeout: ForwardTimeout,
	}}
}

// Forward performs a single request to the given fully-qualified URL and
// returns the upstream status, headers, and raw body bytes. The body is
// fully buffered; bytes are never transformed.
func (f *Forwarder) Forward(ctx context.Context, method, url string, header http.Header, body []byte) (*UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = header

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// Close releases idle connections held by the underlying transport.
func (f *Forwarder) Close() {
	f.client.CloseIdleConnections()
}
