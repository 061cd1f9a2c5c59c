package client

/*
crtshadow — certificate transparency hostname extractor
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

/*
Package client provides the HTTP client used to query the certificate transparency search service.

A single shared client is configured once per process and reused by every attempt of a fetch,
including the plain-HTTP fallback sequence, so keep-alive connections survive retries.
*/

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTP client-specific constants.
const (
	// DialTimeout is the maximum amount of time a dial will wait for a connect to complete.
	DialTimeout = 5 * time.Second
	// RequestTimeout bounds a single attempt, including reading the response body.
	RequestTimeout = 10 * time.Second
	// BrowserUserAgent is sent with every request.
	BrowserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.198 Safari/537.36"
)

var (
	defaultKeepAliveTimeout = 60 * time.Second
	defaultIdleConnTimeout  = 90 * time.Second
	defaultMaxIdleConns     = 4
	defaultTLSTimeout       = 10 * time.Second

	// sharedClient is the process-wide client. Lazily initialized on first use.
	sharedClient     *http.Client
	sharedClientLock sync.RWMutex
	// clientInitialized indicates whether sharedClient has been initialized.
	clientInitialized bool
)

// Config holds configuration parameters for the HTTP client.
// A zero-value Config results in default settings being used.
type Config struct {
	// DialTimeout is the maximum duration for establishing a new connection.
	DialTimeout time.Duration
	// KeepAliveTimeout specifies the keep-alive period for an active network connection.
	KeepAliveTimeout time.Duration
	// IdleConnTimeout is how long an idle keep-alive connection stays in the pool.
	IdleConnTimeout time.Duration
	// MaxIdleConns caps the idle pool. A single-host tool needs very few.
	MaxIdleConns int
	// TLSHandshakeTimeout bounds the TLS handshake of a new connection.
	TLSHandshakeTimeout time.Duration
	// RequestTimeout is the per-attempt timeout for the entire HTTP exchange.
	RequestTimeout time.Duration
}

// DefaultConfig returns a new Config populated with default settings.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:         DialTimeout,
		KeepAliveTimeout:    defaultKeepAliveTimeout,
		IdleConnTimeout:     defaultIdleConnTimeout,
		MaxIdleConns:        defaultMaxIdleConns,
		TLSHandshakeTimeout: defaultTLSTimeout,
		RequestTimeout:      RequestTimeout,
	}
}

// withDefaults fills zero fields of c from DefaultConfig.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.DialTimeout <= 0 {
		out.DialTimeout = d.DialTimeout
	}
	if out.KeepAliveTimeout <= 0 {
		out.KeepAliveTimeout = d.KeepAliveTimeout
	}
	if out.IdleConnTimeout <= 0 {
		out.IdleConnTimeout = d.IdleConnTimeout
	}
	if out.MaxIdleConns <= 0 {
		out.MaxIdleConns = d.MaxIdleConns
	}
	if out.TLSHandshakeTimeout <= 0 {
		out.TLSHandshakeTimeout = d.TLSHandshakeTimeout
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = d.RequestTimeout
	}
	return &out
}

// NewHTTPClient builds a standalone client from config. Zero fields take defaults.
func NewHTTPClient(config *Config) *http.Client {
	config = config.withDefaults()

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment, // Respect standard proxy environment variables.
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAliveTimeout,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConns,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.RequestTimeout,
	}
}

// InitHTTPClient initializes or reconfigures the shared client.
// A nil config uses DefaultConfig(). Safe for concurrent use.
func InitHTTPClient(config *Config) {
	sharedClientLock.Lock()
	defer sharedClientLock.Unlock()

	// Close idle connections on the old transport so reconfiguring doesn't leak them.
	if sharedClient != nil {
		if oldTransport, ok := sharedClient.Transport.(*http.Transport); ok && oldTransport != nil {
			oldTransport.CloseIdleConnections()
		}
	}

	sharedClient = NewHTTPClient(config)
	clientInitialized = true
}

// GetHTTPClient returns the shared client, initializing it with defaults if needed.
func GetHTTPClient() *http.Client {
	sharedClientLock.RLock()
	if !clientInitialized {
		sharedClientLock.RUnlock()
		InitHTTPClient(nil)
		sharedClientLock.RLock()
	}
	c := sharedClient
	sharedClientLock.RUnlock()
	return c
}
