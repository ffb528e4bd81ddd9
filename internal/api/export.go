package api

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/funnyzak/reqplay/pkg/capture"
)

// ExportRecords serializes captured records into the desired format.
// It returns the payload, content type, and file extension.
func ExportRecords(records []*capture.Record, format string) ([]byte, string, string, error) {
	switch strings.ToLower(format) {
	case "json":
		buf, err := json.MarshalIndent(records, "", "  ")
		return buf, "application/json", "json", err
	case "csv":
		return exportCSV(records)
	default:
		return nil, "", "", fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportCSV(records []*capture.Record) ([]byte, string, string, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	headers := []string{
		"id", "start_time", "method", "url", "domain", "status_code",
		"duration_ms", "size", "error", "request_headers", "request_body_base64",
	}
	if err := writer.Write(headers); err != nil {
		return nil, "", "", err
	}

	for _, item := range records {
		headersJSON, _ := json.Marshal(item.RequestHeaders)
		line := []string{
			item.ID,
			item.StartTime.Format(time.RFC3339),
			item.Method,
			item.URL,
			item.Domain(),
			fmt.Sprintf("%d", item.StatusCode),
			fmt.Sprintf("%d", item.Duration),
			fmt.Sprintf("%d", item.Size),
			item.Error,
			string(headersJSON),
			base64.StdEncoding.EncodeToString(item.RequestBody),
		}
		if err := writer.Write(line); err != nil {
			return nil, "", "", err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", "", err
	}

	return buf.Bytes(), "text/csv", "csv", nil
}

// AllowedFormats normalizes configured export formats.
func AllowedFormats(formats []string) []string {
	set := make(map[string]struct{})
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		set[f] = struct{}{}
	}

	result := make([]string, 0, len(set))
	for f := range set {
		result = append(result, f)
	}
	sort.Strings(result)
	return result
}
