// Package exchange provides the generic network-execution capability the
// capture and replay layers are built on. Any implementation of Exchanger
// can stand in for the real HTTP client.
package exchange

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request describes one outbound exchange to perform.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
	// Timeout overrides the client default when positive.
	Timeout time.Duration
}

// Response is the outcome of a successful exchange.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Elapsed    time.Duration
}

// Exchanger executes HTTP exchanges. Implementations must be safe for
// concurrent use.
type Exchanger interface {
	Exchange(ctx context.Context, req *Request) (*Response, error)
}

// Options tunes the underlying HTTP transport.
type Options struct {
	Timeout               time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	ResponseHeaderTimeout time.Duration
	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	TLSInsecureSkipVerify bool
}

// HTTPExchanger is the production Exchanger backed by net/http.
type HTTPExchanger struct {
	client *http.Client
}

// NewHTTPExchanger creates an exchanger with a tuned transport.
func NewHTTPExchanger(opts Options) *HTTPExchanger {
	transport := &http.Transport{
		MaxIdleConns:          positiveOrDefault(opts.MaxIdleConns, 200),
		MaxIdleConnsPerHost:   positiveOrDefault(opts.MaxIdleConnsPerHost, 50),
		MaxConnsPerHost:       positiveOrDefault(opts.MaxConnsPerHost, 100),
		IdleConnTimeout:       durationOrDefault(opts.IdleConnTimeout, 90*time.Second),
		ResponseHeaderTimeout: durationOrDefault(opts.ResponseHeaderTimeout, 15*time.Second),
		TLSHandshakeTimeout:   durationOrDefault(opts.TLSHandshakeTimeout, 10*time.Second),
		ExpectContinueTimeout: durationOrDefault(opts.ExpectContinueTimeout, time.Second),
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.TLSInsecureSkipVerify,
		},
	}

	return &HTTPExchanger{
		client: &http.Client{
			Timeout:   durationOrDefault(opts.Timeout, 30*time.Second),
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

// Exchange performs the HTTP exchange and reads the full response body.
func (e *HTTPExchanger) Exchange(ctx context.Context, req *Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range req.Headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       responseBody,
		Elapsed:    elapsed,
	}, nil
}

// CloseIdleConnections releases pooled connections.
func (e *HTTPExchanger) CloseIdleConnections() {
	if transport, ok := e.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

func positiveOrDefault(value, def int) int {
	if value > 0 {
		return value
	}
	return def
}

func durationOrDefault(value, def time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return def
}
