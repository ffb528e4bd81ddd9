package replay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/funnyzak/reqplay/internal/exchange"
	"github.com/funnyzak/reqplay/pkg/capture"
)

// noopLogger implements logger.Logger for tests
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Fatal(string, ...interface{}) {}

// fakeExchanger returns canned responses; fail makes every exchange error,
// and failFor fails only selected URLs.
type fakeExchanger struct {
	mu       sync.Mutex
	requests []*exchange.Request
	fail     bool
	failFor  map[string]bool
	delay    time.Duration
	resp     *exchange.Response
}

func (f *fakeExchanger) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	shouldFail := f.fail || f.failFor[req.URL]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if shouldFail {
		return nil, errors.New("connection refused")
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &exchange.Response{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(`{"ok":true}`),
		Elapsed:    5 * time.Millisecond,
	}, nil
}

func (f *fakeExchanger) sent() []*exchange.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*exchange.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func capturedRecord(id, url string) *capture.Record {
	return &capture.Record{
		ID:              id,
		URL:             url,
		Method:          "GET",
		RequestHeaders:  http.Header{"Accept": {"application/json"}},
		StatusCode:      200,
		ResponseHeaders: http.Header{"Content-Type": {"application/json"}},
		ResponseBody:    []byte(`{"ok":true}`),
		Size:            11,
		Duration:        40,
		StartTime:       time.Now(),
	}
}

func TestReplaySuccess(t *testing.T) {
	fake := &fakeExchanger{}
	executor := NewExecutor(fake, noopLogger{}, ExecutorOptions{MarkerHeader: true})

	record := capturedRecord("req_1", "https://api.example.com/v1")
	result, err := executor.Replay(context.Background(), record, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Replay == nil || result.Replay.ID != "rpl_1" {
		t.Fatalf("expected replay record rpl_1, got %+v", result.Replay)
	}
	if result.Comparison == nil {
		t.Fatal("expected comparison on success")
	}
	if !result.Comparison.StatusCodeMatch || !result.Comparison.BodyMatch {
		t.Fatalf("expected matching comparison, got %+v", result.Comparison)
	}

	sent := fake.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one exchange, got %d", len(sent))
	}
	if sent[0].Headers.Get("X-ReqPlay-Replay") != "true" {
		t.Fatal("expected replay marker header")
	}
	if sent[0].Headers.Get("X-ReqPlay-Original-ID") != "req_1" {
		t.Fatal("expected original id marker header")
	}
}

func TestReplayAppliesModifications(t *testing.T) {
	fake := &fakeExchanger{}
	executor := NewExecutor(fake, noopLogger{}, ExecutorOptions{})

	record := capturedRecord("req_1", "https://api.example.com/v1")
	record.RequestHeaders.Set("Authorization", "Bearer secret")

	mods := &capture.Modifications{
		URL:           "https://staging.example.com/v1",
		Headers:       map[string]string{"X-Debug": "1"},
		RemoveHeaders: []string{"Authorization"},
		Timeout:       2 * time.Second,
	}

	if _, err := executor.Replay(context.Background(), record, mods); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := fake.sent()[0]
	if sent.URL != "https://staging.example.com/v1" {
		t.Fatalf("expected modified url, got %s", sent.URL)
	}
	if sent.Headers.Get("Authorization") != "" {
		t.Fatal("expected Authorization removed")
	}
	if sent.Headers.Get("X-Debug") != "1" {
		t.Fatal("expected X-Debug added")
	}
	if sent.Timeout != 2*time.Second {
		t.Fatalf("expected modified timeout, got %v", sent.Timeout)
	}
}

func TestReplayTransportFailureIsData(t *testing.T) {
	fake := &fakeExchanger{fail: true}
	executor := NewExecutor(fake, noopLogger{}, ExecutorOptions{})

	result, err := executor.Replay(context.Background(), capturedRecord("req_1", "https://api.example.com"), nil)
	if err != nil {
		t.Fatalf("transport failure must not surface as error, got %v", err)
	}
	if result.Success {
		t.Fatal("expected failed result")
	}
	if result.Error == "" || result.Replay.Error == "" {
		t.Fatalf("expected error recorded, got %+v", result)
	}
	if result.Comparison != nil {
		t.Fatal("failed replay must carry no comparison")
	}
}

func TestReplayMalformedInput(t *testing.T) {
	executor := NewExecutor(&fakeExchanger{}, noopLogger{}, ExecutorOptions{})

	if _, err := executor.Replay(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for nil record")
	}

	bad := &capture.Modifications{Headers: map[string]string{"Bad Header": "v"}}
	if _, err := executor.Replay(context.Background(), capturedRecord("req_1", "https://x.test"), bad); err == nil {
		t.Fatal("expected error for invalid modifications")
	}
}
