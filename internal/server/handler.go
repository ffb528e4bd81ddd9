package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/funnyzak/reqplay/internal/config"
	"github.com/funnyzak/reqplay/internal/exchange"
	"github.com/funnyzak/reqplay/internal/logger"
)

// hop-by-hop headers are connection-scoped and must not travel upstream.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Handler forwards inbound requests to their upstream target through the
// given exchanger, so the capture interceptor sees real traffic.
type Handler struct {
	cfg       *config.ServerConfig
	exchanger exchange.Exchanger
	logger    logger.Logger
}

// NewHandler creates the forwarding handler.
func NewHandler(cfg *config.ServerConfig, exchanger exchange.Exchanger, log logger.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		exchanger: exchanger,
		logger:    log,
	}
}

// shouldHandlePath reports whether the URL path falls under the forward base.
func (h *Handler) shouldHandlePath(p string) bool {
	base := h.cfg.Path
	if base == "" || base == "/" {
		return true
	}
	return p == base || strings.HasPrefix(p, base+"/")
}

// ServeHTTP relays the request upstream and writes the upstream response back.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := h.resolveTarget(r)
	if err != nil {
		h.logger.Warn("No forward target", "path", r.URL.Path, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	body, err := h.readBody(r)
	if err != nil {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	req := &exchange.Request{
		Method:  r.Method,
		URL:     h.upstreamURL(target, r),
		Headers: h.forwardHeaders(r),
		Body:    body,
	}

	resp, err := h.exchangeWithRetry(r.Context(), req)
	if err != nil {
		h.logger.Error("Upstream exchange failed",
			"method", req.Method,
			"url", req.URL,
			"error", err,
		)
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
		return
	}

	for name, values := range resp.Headers {
		if hopByHopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

// exchangeWithRetry retries transport failures with exponential backoff.
// HTTP error statuses are valid responses and are never retried.
func (h *Handler) exchangeWithRetry(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	var resp *exchange.Response

	operation := func() error {
		var err error
		resp, err = h.exchanger.Exchange(ctx, req)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newRetryBackOff(), uint64(h.maxRetries())),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		h.logger.Warn("Retrying upstream request",
			"url", req.URL,
			"wait", wait.String(),
			"error", err,
		)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *Handler) maxRetries() int {
	if h.cfg.MaxRetries < 0 {
		return 0
	}
	return h.cfg.MaxRetries
}

func newRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 3 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// resolveTarget picks the upstream base URL from the target header or the
// configured default.
func (h *Handler) resolveTarget(r *http.Request) (*url.URL, error) {
	raw := strings.TrimSpace(r.Header.Get(h.cfg.TargetHeader))
	if raw == "" {
		raw = strings.TrimSpace(h.cfg.DefaultTarget)
	}
	if raw == "" {
		return nil, errors.New("no forward target configured")
	}

	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid forward target: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("unsupported target scheme: %s", target.Scheme)
	}
	if target.Host == "" {
		return nil, errors.New("forward target has no host")
	}
	return target, nil
}

// upstreamURL joins the target base with the inbound path, stripped of the
// forward base prefix.
func (h *Handler) upstreamURL(target *url.URL, r *http.Request) string {
	p := r.URL.Path
	if base := h.cfg.Path; base != "" && base != "/" {
		p = strings.TrimPrefix(p, base)
	}
	if p == "" {
		p = "/"
	}

	upstream := *target
	upstream.Path = strings.TrimRight(upstream.Path, "/") + p
	upstream.RawQuery = r.URL.RawQuery
	return upstream.String()
}

func (h *Handler) forwardHeaders(r *http.Request) http.Header {
	headers := make(http.Header, len(r.Header))
	for name, values := range r.Header {
		canonical := http.CanonicalHeaderKey(name)
		if hopByHopHeaders[canonical] || strings.EqualFold(name, h.cfg.TargetHeader) {
			continue
		}
		headers[canonical] = append([]string(nil), values...)
	}
	return headers
}

func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	reader := io.Reader(r.Body)
	if h.cfg.MaxBodyBytes > 0 {
		reader = io.LimitReader(r.Body, h.cfg.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if h.cfg.MaxBodyBytes > 0 && int64(len(body)) > h.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", h.cfg.MaxBodyBytes)
	}
	return body, nil
}
