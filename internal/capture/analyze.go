package capture

import (
	"sort"
	"strings"

	"github.com/funnyzak/reqplay/pkg/capture"
)

// PerformanceMetrics is the timing/bandwidth breakdown of one exchange.
type PerformanceMetrics struct {
	DurationMs    int64   `json:"duration_ms"`
	RequestBytes  int64   `json:"request_bytes"`
	ResponseBytes int64   `json:"response_bytes"`
	TotalBytes    int64   `json:"total_bytes"`
	BandwidthKBps float64 `json:"bandwidth_kbps"`
}

// SecurityMetrics flags transport security and credential-bearing headers.
type SecurityMetrics struct {
	IsHTTPS          bool     `json:"is_https"`
	HasAuthHeader    bool     `json:"has_auth_header"`
	HasCookies       bool     `json:"has_cookies"`
	SensitiveHeaders []string `json:"sensitive_headers,omitempty"`
}

// Analysis pairs a capture record with derived metrics.
type Analysis struct {
	Record      *capture.Record    `json:"record"`
	Performance PerformanceMetrics `json:"performance"`
	Security    SecurityMetrics    `json:"security"`
}

// Header names that typically carry credentials or session material.
var sensitiveHeaderNames = map[string]bool{
	"authorization":   true,
	"cookie":          true,
	"set-cookie":      true,
	"x-api-key":       true,
	"x-auth-token":    true,
	"x-csrf-token":    true,
	"x-session-token": true,
}

// Analyze derives performance and security metrics from a record.
func Analyze(record *capture.Record) *Analysis {
	reqBytes := int64(len(record.RequestBody))
	respBytes := record.Size
	if respBytes == 0 {
		respBytes = int64(len(record.ResponseBody))
	}
	total := reqBytes + respBytes

	var bandwidth float64
	if record.Duration > 0 {
		bandwidth = float64(total) / float64(record.Duration) // bytes per ms == KB/s
	}

	var sensitive []string
	hasAuth := false
	hasCookies := false
	for name := range record.RequestHeaders {
		lower := strings.ToLower(name)
		if !sensitiveHeaderNames[lower] && !strings.Contains(lower, "token") {
			continue
		}
		sensitive = append(sensitive, name)
		switch lower {
		case "authorization":
			hasAuth = true
		case "cookie":
			hasCookies = true
		}
	}
	sort.Strings(sensitive)

	return &Analysis{
		Record: record,
		Performance: PerformanceMetrics{
			DurationMs:    record.Duration,
			RequestBytes:  reqBytes,
			ResponseBytes: respBytes,
			TotalBytes:    total,
			BandwidthKBps: bandwidth,
		},
		Security: SecurityMetrics{
			IsHTTPS:          record.IsHTTPS(),
			HasAuthHeader:    hasAuth,
			HasCookies:       hasCookies,
			SensitiveHeaders: sensitive,
		},
	}
}
