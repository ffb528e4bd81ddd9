package capture

import (
	"net/http"
	"testing"

	"github.com/funnyzak/reqplay/pkg/capture"
)

func TestAnalyzePerformance(t *testing.T) {
	record := &capture.Record{
		URL:         "https://api.example.com/v1",
		RequestBody: []byte("12345"),
		Size:        95,
		Duration:    50,
	}

	analysis := Analyze(record)

	perf := analysis.Performance
	if perf.RequestBytes != 5 || perf.ResponseBytes != 95 || perf.TotalBytes != 100 {
		t.Fatalf("unexpected byte counts: %+v", perf)
	}
	// 100 bytes over 50ms is 2 KB/s
	if perf.BandwidthKBps != 2 {
		t.Fatalf("expected bandwidth 2 KB/s, got %f", perf.BandwidthKBps)
	}
}

func TestAnalyzeSecurity(t *testing.T) {
	record := &capture.Record{
		URL: "https://api.example.com/v1",
		RequestHeaders: http.Header{
			"Authorization":   {"Bearer x"},
			"Cookie":          {"session=1"},
			"X-Refresh-Token": {"abc"},
			"Accept":          {"application/json"},
		},
	}

	analysis := Analyze(record)

	sec := analysis.Security
	if !sec.IsHTTPS {
		t.Fatal("expected https detected")
	}
	if !sec.HasAuthHeader || !sec.HasCookies {
		t.Fatalf("expected auth and cookie flags, got %+v", sec)
	}
	if len(sec.SensitiveHeaders) != 3 {
		t.Fatalf("expected 3 sensitive headers, got %v", sec.SensitiveHeaders)
	}
}

func TestAnalyzeZeroDuration(t *testing.T) {
	analysis := Analyze(&capture.Record{URL: "http://example.com"})
	if analysis.Performance.BandwidthKBps != 0 {
		t.Fatal("zero duration must yield zero bandwidth")
	}
	if analysis.Security.IsHTTPS {
		t.Fatal("plain http must not be flagged https")
	}
}
