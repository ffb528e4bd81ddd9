package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	monitor "github.com/funnyzak/reqplay/internal/capture"
	"github.com/funnyzak/reqplay/internal/config"
	"github.com/funnyzak/reqplay/internal/exchange"
	"github.com/funnyzak/reqplay/internal/replay"
	"github.com/funnyzak/reqplay/internal/session"
	"github.com/funnyzak/reqplay/pkg/capture"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Fatal(string, ...interface{}) {}

type stubExchanger struct {
	mu    sync.Mutex
	calls int
	fail  bool
	delay time.Duration
}

func (s *stubExchanger) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	s.mu.Lock()
	s.calls++
	shouldFail := s.fail
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if shouldFail {
		return nil, errors.New("connection refused")
	}
	return &exchange.Response{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(`{"ok":true}`),
		Elapsed:    2 * time.Millisecond,
	}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.API.Enable = true
	cfg.API.Path = "/api"
	cfg.API.ExportFormats = []string{"json", "csv"}
	cfg.Capture.MaxRequests = 100
	cfg.Batch.DefaultConcurrency = 5
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config, exchanger exchange.Exchanger) (*Service, *mux.Router, *monitor.Store) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}

	store := monitor.NewStore(cfg.Capture.MaxRequests)
	interceptor := monitor.NewInterceptor(exchanger, store, noopLogger{})
	executor := replay.NewExecutor(exchanger, noopLogger{}, replay.ExecutorOptions{})
	runner := replay.NewRunner(executor, noopLogger{}, replay.RunnerOptions{
		GracePeriod: 5 * time.Second,
	})
	sessions := session.NewRegistry(noopLogger{})

	svc := NewService(cfg, noopLogger{}, store, interceptor, runner, sessions, nil)
	t.Cleanup(svc.Close)

	router := mux.NewRouter()
	svc.RegisterRoutes(router)
	return svc, router, store
}

func seedRecords(store *monitor.Store, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := store.NextID()
		store.Put(&capture.Record{
			ID:              id,
			StartTime:       time.Now().Add(time.Duration(i) * time.Millisecond),
			Method:          "GET",
			URL:             fmt.Sprintf("https://api.example.com/item/%d", i+1),
			RequestHeaders:  http.Header{"Accept": {"application/json"}},
			StatusCode:      200,
			ResponseHeaders: http.Header{"Content-Type": {"application/json"}},
			ResponseBody:    []byte(`{"ok":true}`),
			Size:            11,
			Duration:        20,
		})
		ids = append(ids, id)
	}
	return ids
}

func doJSON(router *mux.Router, method, path string, payload interface{}) *httptest.ResponseRecorder {
	var body *bytes.Buffer
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewBuffer(data)
	} else {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func waitForTerminal(t *testing.T, router *mux.Router, sessionID string) session.Session {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(router, http.MethodGet, "/api/sessions/"+sessionID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get session: status %d", rec.Code)
		}
		var sess session.Session
		decodeBody(t, rec, &sess)
		if sess.Status.Terminal() {
			return sess
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached a terminal status", sessionID)
	return session.Session{}
}

func TestServiceAuthRejectsMissingToken(t *testing.T) {
	cfg := testConfig()
	cfg.API.AuthToken = "secret"
	_, router, _ := newTestService(t, cfg, &stubExchanger{})

	rec := doJSON(router, http.MethodGet, "/api/monitor/status", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/monitor/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	authed := httptest.NewRecorder()
	router.ServeHTTP(authed, req)
	if authed.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", authed.Code)
	}
}

func TestServiceMonitorLifecycle(t *testing.T) {
	_, router, store := newTestService(t, nil, &stubExchanger{})

	rec := doJSON(router, http.MethodGet, "/api/monitor/status", nil)
	var status struct {
		Enabled  bool `json:"enabled"`
		Captured int  `json:"captured"`
	}
	decodeBody(t, rec, &status)
	if status.Enabled {
		t.Fatal("monitor must start disabled")
	}

	rec = doJSON(router, http.MethodPost, "/api/monitor/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: status %d", rec.Code)
	}

	rec = doJSON(router, http.MethodGet, "/api/monitor/status", nil)
	decodeBody(t, rec, &status)
	if !status.Enabled {
		t.Fatal("expected monitor enabled after start")
	}

	seedRecords(store, 2)
	rec = doJSON(router, http.MethodPost, "/api/monitor/stop", nil)
	var stopped struct {
		Enabled  bool `json:"enabled"`
		Captured int  `json:"captured"`
	}
	decodeBody(t, rec, &stopped)
	if stopped.Enabled {
		t.Fatal("expected monitor disabled after stop")
	}
	if stopped.Captured != 2 {
		t.Fatalf("expected captured count 2, got %d", stopped.Captured)
	}
}

func TestServiceListRequests(t *testing.T) {
	_, router, store := newTestService(t, nil, &stubExchanger{})
	seedRecords(store, 3)

	rec := doJSON(router, http.MethodGet, "/api/requests", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	var listed struct {
		Data  []*capture.Record `json:"data"`
		Count int               `json:"count"`
		Total int               `json:"total"`
	}
	decodeBody(t, rec, &listed)
	if listed.Count != 3 || listed.Total != 3 {
		t.Fatalf("expected 3 records, got count=%d total=%d", listed.Count, listed.Total)
	}
	if listed.Data[0].ID != "req_3" {
		t.Fatalf("expected newest first, got %s", listed.Data[0].ID)
	}

	rec = doJSON(router, http.MethodGet, "/api/requests?method=POST", nil)
	decodeBody(t, rec, &listed)
	if listed.Count != 0 {
		t.Fatalf("method filter leaked %d records", listed.Count)
	}
}

func TestServiceGetRequest(t *testing.T) {
	_, router, store := newTestService(t, nil, &stubExchanger{})
	ids := seedRecords(store, 1)

	rec := doJSON(router, http.MethodGet, "/api/requests/"+ids[0], nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	var record capture.Record
	decodeBody(t, rec, &record)
	if record.ID != ids[0] {
		t.Fatalf("unexpected record %s", record.ID)
	}

	rec = doJSON(router, http.MethodGet, "/api/requests/req_999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rec.Code)
	}
}

func TestServiceAnalyzeRequest(t *testing.T) {
	_, router, store := newTestService(t, nil, &stubExchanger{})
	ids := seedRecords(store, 1)

	rec := doJSON(router, http.MethodGet, "/api/requests/"+ids[0]+"/analyze", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze: status %d", rec.Code)
	}
	var analysis map[string]interface{}
	decodeBody(t, rec, &analysis)
	if len(analysis) == 0 {
		t.Fatal("expected analysis payload")
	}
}

func TestServiceReplaySync(t *testing.T) {
	fake := &stubExchanger{}
	_, router, store := newTestService(t, nil, fake)
	ids := seedRecords(store, 1)

	rec := doJSON(router, http.MethodPost, "/api/replay", map[string]interface{}{
		"request_id": ids[0],
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("replay: status %d body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		SessionID string                `json:"session_id"`
		Result    *capture.ReplayResult `json:"result"`
	}
	decodeBody(t, rec, &resp)
	if resp.SessionID == "" {
		t.Fatal("expected session id")
	}
	if resp.Result == nil || !resp.Result.Success {
		t.Fatalf("expected successful replay, got %+v", resp.Result)
	}

	sess := waitForTerminal(t, router, resp.SessionID)
	if sess.Status != session.StatusCompleted {
		t.Fatalf("expected COMPLETED session, got %s", sess.Status)
	}
	if fake.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", fake.calls)
	}
}

func TestServiceReplayUnknownRequest(t *testing.T) {
	_, router, _ := newTestService(t, nil, &stubExchanger{})

	rec := doJSON(router, http.MethodPost, "/api/replay", map[string]interface{}{
		"request_id": "req_404",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServiceBatchReplayAsync(t *testing.T) {
	_, router, store := newTestService(t, nil, &stubExchanger{})
	ids := seedRecords(store, 3)

	rec := doJSON(router, http.MethodPost, "/api/replay/batch", map[string]interface{}{
		"request_ids": ids,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("batch: status %d body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		SessionID string `json:"session_id"`
		Total     int    `json:"total"`
	}
	decodeBody(t, rec, &resp)
	if resp.Total != 3 {
		t.Fatalf("expected total 3, got %d", resp.Total)
	}

	sess := waitForTerminal(t, router, resp.SessionID)
	if sess.Status != session.StatusCompleted {
		t.Fatalf("expected COMPLETED session, got %s", sess.Status)
	}
}

func TestServiceBatchReplayEmptyIDs(t *testing.T) {
	_, router, _ := newTestService(t, nil, &stubExchanger{})

	rec := doJSON(router, http.MethodPost, "/api/replay/batch", map[string]interface{}{
		"request_ids": []string{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestServiceLoadTestAsync(t *testing.T) {
	_, router, store := newTestService(t, nil, &stubExchanger{})
	ids := seedRecords(store, 1)

	rec := doJSON(router, http.MethodPost, "/api/loadtest", map[string]interface{}{
		"request_id":          ids[0],
		"requests_per_second": 100,
		"total_requests":      5,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("loadtest: status %d body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, rec, &resp)

	sess := waitForTerminal(t, router, resp.SessionID)
	if sess.Status != session.StatusCompleted {
		t.Fatalf("expected COMPLETED session, got %s", sess.Status)
	}
}

func TestServiceCancelSession(t *testing.T) {
	fake := &stubExchanger{delay: 200 * time.Millisecond}
	_, router, store := newTestService(t, nil, fake)
	ids := seedRecords(store, 1)

	rec := doJSON(router, http.MethodPost, "/api/loadtest", map[string]interface{}{
		"request_id":          ids[0],
		"requests_per_second": 1,
		"total_requests":      100,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("loadtest: status %d", rec.Code)
	}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, rec, &resp)

	rec = doJSON(router, http.MethodPost, "/api/sessions/"+resp.SessionID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status %d", rec.Code)
	}
	var cancelResp struct {
		Cancelled bool            `json:"cancelled"`
		Session   session.Session `json:"session"`
	}
	decodeBody(t, rec, &cancelResp)
	if !cancelResp.Cancelled {
		t.Fatal("expected cancellation to take effect")
	}
	if cancelResp.Session.Status != session.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelResp.Session.Status)
	}

	rec = doJSON(router, http.MethodPost, "/api/sessions/"+resp.SessionID+"/cancel", nil)
	decodeBody(t, rec, &cancelResp)
	if cancelResp.Cancelled {
		t.Fatal("second cancel must be a no-op")
	}
}

func TestServiceCancelUnknownSession(t *testing.T) {
	_, router, _ := newTestService(t, nil, &stubExchanger{})

	rec := doJSON(router, http.MethodPost, "/api/sessions/sess_999/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServiceListSessions(t *testing.T) {
	_, router, store := newTestService(t, nil, &stubExchanger{})
	ids := seedRecords(store, 1)

	doJSON(router, http.MethodPost, "/api/replay", map[string]interface{}{"request_id": ids[0]})

	rec := doJSON(router, http.MethodGet, "/api/sessions", nil)
	var listed struct {
		Data  []*session.Session `json:"data"`
		Count int                `json:"count"`
	}
	decodeBody(t, rec, &listed)
	if listed.Count != 1 {
		t.Fatalf("expected 1 session, got %d", listed.Count)
	}
}

func TestServiceExport(t *testing.T) {
	_, router, store := newTestService(t, nil, &stubExchanger{})
	seedRecords(store, 2)

	rec := doJSON(router, http.MethodGet, "/api/export?format=json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if disp := rec.Header().Get("Content-Disposition"); !strings.Contains(disp, "attachment") {
		t.Fatalf("expected attachment disposition, got %q", disp)
	}
	var exported []*capture.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &exported); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(exported) != 2 {
		t.Fatalf("expected 2 exported records, got %d", len(exported))
	}

	rec = doJSON(router, http.MethodGet, "/api/export?format=csv", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csv export: status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("unexpected content type %q", ct)
	}

	rec = doJSON(router, http.MethodGet, "/api/export?format=xml", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported format, got %d", rec.Code)
	}
}

func TestServiceReportsDisabled(t *testing.T) {
	_, router, _ := newTestService(t, nil, &stubExchanger{})

	rec := doJSON(router, http.MethodGet, "/api/reports", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when archive disabled, got %d", rec.Code)
	}
}

func TestServiceRoutesDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.API.Enable = false
	_, router, _ := newTestService(t, cfg, &stubExchanger{})

	rec := doJSON(router, http.MethodGet, "/api/monitor/status", nil)
	if rec.Code == http.StatusOK {
		t.Fatal("disabled API must not register routes")
	}
}
