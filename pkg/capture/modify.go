package capture

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/http/httpguts"
)

// Modifications is a patch applied to a captured record before replay.
// Nil/empty fields leave the original value untouched.
type Modifications struct {
	URL           string            `json:"url,omitempty"`
	Method        string            `json:"method,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	RemoveHeaders []string          `json:"remove_headers,omitempty"`
	Body          []byte            `json:"body,omitempty"`
	Timeout       time.Duration     `json:"timeout,omitempty"`
}

// Validate rejects malformed header names/values before any network work.
func (m *Modifications) Validate() error {
	if m == nil {
		return nil
	}
	for name, value := range m.Headers {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("invalid header name %q", name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return fmt.Errorf("invalid value for header %q", name)
		}
	}
	for _, name := range m.RemoveHeaders {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("invalid header name %q", name)
		}
	}
	return nil
}

// Apply produces the effective request parameters for a replay.
// Order matters: removals first, then additions (additions win on
// collision), then URL/method/body overrides.
func (m *Modifications) Apply(r *Record) (method, url string, headers http.Header, body []byte) {
	method = r.Method
	url = r.URL
	headers = r.RequestHeaders.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	body = append([]byte(nil), r.RequestBody...)

	if m == nil {
		return method, url, headers, body
	}

	for _, name := range m.RemoveHeaders {
		headers.Del(name)
	}
	for name, value := range m.Headers {
		headers.Set(name, value)
	}
	if m.URL != "" {
		url = m.URL
	}
	if m.Method != "" {
		method = m.Method
	}
	if m.Body != nil {
		body = append([]byte(nil), m.Body...)
	}
	return method, url, headers, body
}
