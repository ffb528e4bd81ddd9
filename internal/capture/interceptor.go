package capture

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/funnyzak/reqplay/internal/exchange"
	"github.com/funnyzak/reqplay/internal/logger"
	"github.com/funnyzak/reqplay/pkg/capture"
)

// MonitorConfig controls what the interceptor records while enabled.
type MonitorConfig struct {
	MaxRequests         int      `json:"max_requests,omitempty"`
	CaptureRequestBody  bool     `json:"capture_request_body"`
	CaptureResponseBody bool     `json:"capture_response_body"`
	MaxBodyBytes        int64    `json:"max_body_bytes,omitempty"`
	// Domains and Methods are allow-lists: when non-empty, traffic not
	// matching them is never recorded at all.
	Domains []string `json:"domains,omitempty"`
	Methods []string `json:"methods,omitempty"`
}

// Observer receives each finalized capture record.
type Observer func(*capture.Record)

// Interceptor decorates an Exchanger and records every exchange it carries
// while monitoring is enabled.
type Interceptor struct {
	next  exchange.Exchanger
	store *Store
	log   logger.Logger

	mu       sync.RWMutex
	enabled  bool
	cfg      MonitorConfig
	observer Observer
}

// NewInterceptor wraps next so its traffic lands in store.
func NewInterceptor(next exchange.Exchanger, store *Store, log logger.Logger) *Interceptor {
	return &Interceptor{next: next, store: store, log: log}
}

// SetObserver registers a callback invoked for each finalized record.
func (i *Interceptor) SetObserver(fn Observer) {
	i.mu.Lock()
	i.observer = fn
	i.mu.Unlock()
}

// Start enables capture with the given config and clears prior history.
func (i *Interceptor) Start(cfg MonitorConfig) {
	i.mu.Lock()
	i.cfg = cfg
	i.enabled = true
	i.mu.Unlock()

	i.store.Reset(cfg.MaxRequests)
	i.log.Info("Traffic monitoring started",
		"max_requests", cfg.MaxRequests,
		"domains", cfg.Domains,
		"methods", cfg.Methods,
	)
}

// Stop disables capture. Exchanges already in flight are still finalized.
func (i *Interceptor) Stop() {
	i.mu.Lock()
	i.enabled = false
	i.mu.Unlock()
	i.log.Info("Traffic monitoring stopped")
}

// Enabled reports whether capture is active.
func (i *Interceptor) Enabled() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.enabled
}

// Exchange performs the exchange through the wrapped Exchanger and, when
// monitoring is on and the allow-lists admit the request, records it.
func (i *Interceptor) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	i.mu.RLock()
	capturing := i.enabled && i.admits(req)
	cfg := i.cfg
	observer := i.observer
	i.mu.RUnlock()

	if !capturing {
		return i.next.Exchange(ctx, req)
	}

	record := &capture.Record{
		ID:             i.store.NextID(),
		URL:            req.URL,
		Method:         strings.ToUpper(req.Method),
		RequestHeaders: req.Headers.Clone(),
		StartTime:      time.Now(),
	}
	if cfg.CaptureRequestBody {
		record.RequestBody = clampBody(req.Body, cfg.MaxBodyBytes)
	}

	resp, err := i.next.Exchange(ctx, req)

	record.EndTime = time.Now()
	record.Duration = record.EndTime.Sub(record.StartTime).Milliseconds()
	if err != nil {
		record.Error = err.Error()
	} else {
		record.StatusCode = resp.StatusCode
		record.ResponseHeaders = resp.Headers.Clone()
		record.Size = int64(len(resp.Body))
		if cfg.CaptureResponseBody {
			record.ResponseBody = clampBody(resp.Body, cfg.MaxBodyBytes)
		}
	}

	i.store.Put(record)
	i.log.Debug("Exchange captured",
		"request_id", record.ID,
		"method", record.Method,
		"url", record.URL,
		"status", record.StatusCode,
		"duration_ms", record.Duration,
	)
	if observer != nil {
		observer(record.Clone())
	}

	return resp, err
}

// admits applies the domain/method allow-lists. Empty lists admit everything.
func (i *Interceptor) admits(req *exchange.Request) bool {
	if len(i.cfg.Methods) > 0 {
		found := false
		for _, m := range i.cfg.Methods {
			if strings.EqualFold(m, req.Method) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(i.cfg.Domains) > 0 {
		host := (&capture.Record{URL: req.URL}).Domain()
		found := false
		for _, d := range i.cfg.Domains {
			if strings.Contains(strings.ToLower(host), strings.ToLower(d)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

func clampBody(body []byte, max int64) []byte {
	if body == nil {
		return nil
	}
	if max > 0 && int64(len(body)) > max {
		body = body[:max]
	}
	return append([]byte(nil), body...)
}
