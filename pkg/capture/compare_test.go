package capture

import (
	"net/http"
	"strings"
	"testing"
)

func TestCompareIdentical(t *testing.T) {
	original := &Record{
		StatusCode:      200,
		ResponseHeaders: http.Header{"Content-Type": {"application/json"}},
		ResponseBody:    []byte(`{"ok":true}`),
		Size:            11,
		Duration:        40,
	}
	replay := original.Clone()

	cmp := Compare(original, replay)

	if !cmp.StatusCodeMatch || !cmp.HeadersMatch || !cmp.BodyMatch {
		t.Fatalf("expected full match, got %+v", cmp)
	}
	if cmp.SizeChange != 0 {
		t.Fatalf("expected zero size change, got %d", cmp.SizeChange)
	}
	if len(cmp.Differences) != 0 {
		t.Fatalf("expected no differences, got %v", cmp.Differences)
	}
}

func TestCompareDifferences(t *testing.T) {
	original := &Record{
		StatusCode:      200,
		ResponseHeaders: http.Header{"Content-Type": {"application/json"}},
		ResponseBody:    []byte("hello"),
		Size:            100,
		Duration:        40,
	}
	replay := &Record{
		StatusCode:      503,
		ResponseHeaders: http.Header{"Content-Type": {"text/html"}},
		ResponseBody:    []byte("service unavailable"),
		Size:            150,
		Duration:        25,
	}

	cmp := Compare(original, replay)

	if cmp.StatusCodeMatch || cmp.HeadersMatch || cmp.BodyMatch {
		t.Fatalf("expected mismatches, got %+v", cmp)
	}
	// Deltas are signed: replay minus original
	if cmp.SizeChange != 50 {
		t.Fatalf("expected size change +50, got %d", cmp.SizeChange)
	}
	if cmp.TimingChange != -15 {
		t.Fatalf("expected timing change -15, got %d", cmp.TimingChange)
	}
	if len(cmp.Differences) == 0 {
		t.Fatal("expected recorded differences")
	}

	var foundStatus bool
	for _, diff := range cmp.Differences {
		if strings.Contains(diff, "200") && strings.Contains(diff, "503") {
			foundStatus = true
		}
	}
	if !foundStatus {
		t.Fatalf("expected status diff mentioning both codes, got %v", cmp.Differences)
	}
}
