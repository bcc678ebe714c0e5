// Package httputil provides shared HTTP clients and safe response handling
// for the detector and corpus backends.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize bounds how much of a response body we will ever read.
// Remote classifier and embedding backends should never come close to this.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// All tiers share one transport so TCP connections are reused across
// detector calls instead of being re-dialed per request.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// TimeoutTier categorizes outbound calls by how long they are allowed to run.
type TimeoutTier int

const (
	// TierFast for health checks and ticket lookups (5s)
	TierFast TimeoutTier = iota
	// TierMedium for embedding calls and standard API requests (30s)
	TierMedium
	// TierSlow for remote LLM classification (60s)
	TierSlow
)

var timeoutDurations = map[TimeoutTier]time.Duration{
	TierFast:   5 * time.Second,
	TierMedium: 30 * time.Second,
	TierSlow:   60 * time.Second,
}

var (
	clients    map[TimeoutTier]*http.Client
	clientOnce sync.Once
)

func initClients() {
	clients = make(map[TimeoutTier]*http.Client, len(timeoutDurations))
	for tier, d := range timeoutDurations {
		clients[tier] = &http.Client{
			Timeout:   d,
			Transport: sharedTransport,
		}
	}
}

// Client returns the shared HTTP client for the given timeout tier.
// Use these instead of constructing http.Client values per call site so
// every backend draws from the same connection pool.
func Client(tier TimeoutTier) *http.Client {
	clientOnce.Do(initClients)
	if c, ok := clients[tier]; ok {
		return c
	}
	return clients[TierMedium]
}

// FastClient returns the 5s-timeout client.
func FastClient() *http.Client {
	return Client(TierFast)
}

// MediumClient returns the 30s-timeout client.
func MediumClient() *http.Client {
	return Client(TierMedium)
}

// SlowClient returns the 60s-timeout client.
func SlowClient() *http.Client {
	return Client(TierSlow)
}

// ReadResponseBody reads a response body capped at maxSize bytes.
// A non-positive maxSize falls back to MaxResponseSize.
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadErrorBody reads a response body destined for an error message.
// Error payloads are capped at 1MB.
func ReadErrorBody(r io.Reader) ([]byte, error) {
	const maxErrorSize = 1 * 1024 * 1024
	return io.ReadAll(io.LimitReader(r, maxErrorSize))
}

// DrainAndClose drains and closes a response body so the underlying
// connection can return to the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
