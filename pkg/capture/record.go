package capture

import (
	"net/http"
	"strings"
	"time"
)

// Record represents one observed outbound HTTP exchange.
// A Record is immutable once finalized; the interceptor builds the request
// half, then replaces the whole value when the response (or error) arrives.
type Record struct {
	ID              string      `json:"id"`
	URL             string      `json:"url"`
	Method          string      `json:"method"`
	RequestHeaders  http.Header `json:"request_headers"`
	RequestBody     []byte      `json:"request_body,omitempty"`
	StatusCode      int         `json:"status_code"`
	ResponseHeaders http.Header `json:"response_headers,omitempty"`
	ResponseBody    []byte      `json:"response_body,omitempty"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         time.Time   `json:"end_time"`
	Duration        int64       `json:"duration_ms"`
	Size            int64       `json:"size"`
	Error           string      `json:"error,omitempty"`
}

// Domain returns the host portion of the record URL, without port.
func (r *Record) Domain() string {
	rest := r.URL
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexAny(rest, "/?#"); idx >= 0 {
		rest = rest[:idx]
	}
	if idx := strings.LastIndex(rest, ":"); idx >= 0 && !strings.Contains(rest[idx:], "]") {
		rest = rest[:idx]
	}
	return strings.TrimSuffix(rest, "]")
}

// IsHTTPS reports whether the exchange used TLS.
func (r *Record) IsHTTPS() bool {
	return strings.HasPrefix(strings.ToLower(r.URL), "https://")
}

// Clone returns a deep copy so callers can never mutate a stored record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	dup := *r
	dup.RequestHeaders = r.RequestHeaders.Clone()
	dup.ResponseHeaders = r.ResponseHeaders.Clone()
	dup.RequestBody = append([]byte(nil), r.RequestBody...)
	dup.ResponseBody = append([]byte(nil), r.ResponseBody...)
	return &dup
}

// Filter selects records from the store. Zero-value fields are ignored.
type Filter struct {
	Domain     string `json:"domain,omitempty"`
	Method     string `json:"method,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	MinMs      int64  `json:"min_duration_ms,omitempty"`
	MaxMs      int64  `json:"max_duration_ms,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// Matches reports whether the record satisfies every supplied predicate.
func (f Filter) Matches(r *Record) bool {
	if f.Domain != "" && !strings.Contains(strings.ToLower(r.Domain()), strings.ToLower(f.Domain)) {
		return false
	}
	if f.Method != "" && !strings.EqualFold(f.Method, r.Method) {
		return false
	}
	if f.StatusCode != 0 && r.StatusCode != f.StatusCode {
		return false
	}
	if f.MinMs > 0 && r.Duration < f.MinMs {
		return false
	}
	if f.MaxMs > 0 && r.Duration > f.MaxMs {
		return false
	}
	return true
}
