package capture

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Comparison describes how a replay response differs from the original.
type Comparison struct {
	StatusCodeMatch bool     `json:"status_code_match"`
	HeadersMatch    bool     `json:"headers_match"`
	BodyMatch       bool     `json:"body_match"`
	SizeChange      int64    `json:"size_change"`
	TimingChange    int64    `json:"timing_change_ms"`
	Differences     []string `json:"differences,omitempty"`
}

// Compare computes the structural diff between an original capture and its
// replay. Deltas are signed: replay minus original.
func Compare(original, replay *Record) *Comparison {
	cmp := &Comparison{
		StatusCodeMatch: original.StatusCode == replay.StatusCode,
		HeadersMatch:    headersEqual(original.ResponseHeaders, replay.ResponseHeaders),
		BodyMatch:       bytes.Equal(original.ResponseBody, replay.ResponseBody),
		SizeChange:      replay.Size - original.Size,
		TimingChange:    replay.Duration - original.Duration,
	}

	if !cmp.StatusCodeMatch {
		cmp.Differences = append(cmp.Differences,
			fmt.Sprintf("status code changed: %d -> %d", original.StatusCode, replay.StatusCode))
	}
	if !cmp.HeadersMatch {
		cmp.Differences = append(cmp.Differences, describeHeaderDiff(original.ResponseHeaders, replay.ResponseHeaders))
	}
	if !cmp.BodyMatch {
		cmp.Differences = append(cmp.Differences,
			fmt.Sprintf("response body changed: %d bytes -> %d bytes", len(original.ResponseBody), len(replay.ResponseBody)))
	}
	return cmp
}

func headersEqual(a, b http.Header) bool {
	if len(a) != len(b) {
		return false
	}
	for key, values := range a {
		other, ok := b[key]
		if !ok || len(other) != len(values) {
			return false
		}
		for i, v := range values {
			if other[i] != v {
				return false
			}
		}
	}
	return true
}

func describeHeaderDiff(original, replay http.Header) string {
	var missing, added []string
	for key := range original {
		if _, ok := replay[key]; !ok {
			missing = append(missing, key)
		}
	}
	for key := range replay {
		if _, ok := original[key]; !ok {
			added = append(added, key)
		}
	}
	sort.Strings(missing)
	sort.Strings(added)

	parts := []string{"response headers changed"}
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(added) > 0 {
		parts = append(parts, "added: "+strings.Join(added, ", "))
	}
	return strings.Join(parts, "; ")
}
