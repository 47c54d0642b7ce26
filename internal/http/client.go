// Package http builds the HTTP clients RecBridge uses for byte streams.
// API calls (JSON, short-lived) use retryablehttp clients owned by the rec
// package; the clients here carry file bytes and are tuned for that.
package http

import (
	"net"
	nethttp "net/http"

	"github.com/reclabs/recbridge/internal/constants"
	"golang.org/x/net/http2"
)

// NewStreamClient creates an HTTP client for long-running byte streams:
// ranged downloads, WebDAV PUTs and upload-ticket chunk PUTs.
//
// The client has no total-request timeout. A transfer may legitimately stay
// open for hours, and a paused stream must not synthesize a failure, so only
// the connect, TLS and response-header phases are bounded. Retries are not
// handled here either - the worker retry loop owns them, because a retried
// stream has to reposition its byte cursor first.
func NewStreamClient() *nethttp.Client {
	tr := &nethttp.Transport{
		Proxy: nethttp.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,

		// Connection pooling sized for MaxConcurrentTransfers tasks with a
		// handful of workers each
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     constants.HTTPIdleConnTimeout,

		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ResponseHeaderTimeout: constants.HTTPResponseHeaderTimeout,

		// File payloads are often already compressed; skip transparent gzip
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
	}

	// HTTP/2 multiplexes parallel chunk requests over fewer connections
	_ = http2.ConfigureTransport(tr)

	return &nethttp.Client{Transport: tr}
}

// NewStreamTransport returns just the transport from NewStreamClient, for
// libraries that accept an http.RoundTripper instead of a client.
func NewStreamTransport() nethttp.RoundTripper {
	return NewStreamClient().Transport
}
