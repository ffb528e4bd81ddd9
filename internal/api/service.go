// Package api exposes the capture, replay, and session machinery over a
// JSON admin API with a websocket live feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/funnyzak/reqplay/internal/archive"
	monitor "github.com/funnyzak/reqplay/internal/capture"
	"github.com/funnyzak/reqplay/internal/config"
	"github.com/funnyzak/reqplay/internal/logger"
	"github.com/funnyzak/reqplay/internal/replay"
	"github.com/funnyzak/reqplay/internal/report"
	"github.com/funnyzak/reqplay/internal/session"
	"github.com/funnyzak/reqplay/pkg/capture"
)

const (
	contentTypeJSON  = "application/json"
	defaultListLimit = 100
	maxListLimit     = 500
)

// Service bundles the admin API handlers and their collaborators.
type Service struct {
	cfg         *config.Config
	logger      logger.Logger
	store       *monitor.Store
	interceptor *monitor.Interceptor
	runner      *replay.Runner
	sessions    *session.Registry
	reports     archive.Store
	reporter    report.Reporter
	auth        *tokenAuth
	hub         *Hub
	formats     []string
}

// SetReporter attaches a reporter that receives finished results.
func (s *Service) SetReporter(r report.Reporter) {
	s.reporter = r
}

// NewService builds a Service. reports may be nil when archiving is disabled.
func NewService(
	cfg *config.Config,
	log logger.Logger,
	store *monitor.Store,
	interceptor *monitor.Interceptor,
	runner *replay.Runner,
	sessions *session.Registry,
	reports archive.Store,
) *Service {
	svc := &Service{
		cfg:         cfg,
		logger:      log,
		store:       store,
		interceptor: interceptor,
		runner:      runner,
		sessions:    sessions,
		reports:     reports,
		auth:        newTokenAuth(cfg.API.AuthToken),
		hub:         NewHub(log),
		formats:     AllowedFormats(cfg.API.ExportFormats),
	}

	interceptor.SetObserver(func(record *capture.Record) {
		svc.hub.Broadcast(Event{Type: EventCaptured, Data: record})
	})

	return svc
}

// RegisterRoutes wires the API routes into the provided router.
func (s *Service) RegisterRoutes(router *mux.Router) {
	if s == nil || !s.cfg.API.Enable {
		return
	}

	base := normalizePath(s.cfg.API.Path)
	api := router.PathPrefix(base).Subrouter()
	api.Use(cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler)
	api.Use(s.auth.Middleware)

	api.HandleFunc("/monitor/start", s.handleMonitorStart).Methods(http.MethodPost)
	api.HandleFunc("/monitor/stop", s.handleMonitorStop).Methods(http.MethodPost)
	api.HandleFunc("/monitor/status", s.handleMonitorStatus).Methods(http.MethodGet)

	api.HandleFunc("/requests", s.handleListRequests).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/analyze", s.handleAnalyzeRequest).Methods(http.MethodGet)

	api.HandleFunc("/replay", s.handleReplay).Methods(http.MethodPost)
	api.HandleFunc("/replay/batch", s.handleBatchReplay).Methods(http.MethodPost)
	api.HandleFunc("/loadtest", s.handleLoadTest).Methods(http.MethodPost)

	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/cancel", s.handleCancelSession).Methods(http.MethodPost)

	api.HandleFunc("/reports", s.handleListReports).Methods(http.MethodGet)
	api.HandleFunc("/reports/{id}", s.handleGetReport).Methods(http.MethodGet)

	api.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.handleWebsocket).Methods(http.MethodGet)
}

// Close releases websocket resources.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.hub.Close()
}

// --- monitor ---

func (s *Service) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	cfg := monitor.MonitorConfig{
		MaxRequests:         s.cfg.Capture.MaxRequests,
		CaptureRequestBody:  s.cfg.Capture.CaptureRequestBody,
		CaptureResponseBody: s.cfg.Capture.CaptureResponseBody,
		MaxBodyBytes:        s.cfg.Capture.MaxBodyBytes,
		Domains:             s.cfg.Capture.Domains,
		Methods:             s.cfg.Capture.Methods,
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid monitor config: %w", err))
			return
		}
	}

	s.interceptor.Start(cfg)
	s.hub.Broadcast(Event{Type: EventMonitorChanged, Data: map[string]bool{"enabled": true}})
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"enabled": true, "max_requests": cfg.MaxRequests})
}

func (s *Service) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	s.interceptor.Stop()
	s.hub.Broadcast(Event{Type: EventMonitorChanged, Data: map[string]bool{"enabled": false}})
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"enabled": false, "captured": s.store.Len()})
}

func (s *Service) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":  s.interceptor.Enabled(),
		"captured": s.store.Len(),
	})
}

// --- captured requests ---

func (s *Service) handleListRequests(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := parseIntDefault(query.Get("limit"), defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}

	filter := capture.Filter{
		Domain:     query.Get("domain"),
		Method:     query.Get("method"),
		StatusCode: parseIntDefault(query.Get("status_code"), 0),
		MinMs:      int64(parseIntDefault(query.Get("min_duration_ms"), 0)),
		MaxMs:      int64(parseIntDefault(query.Get("max_duration_ms"), 0)),
		Limit:      limit,
	}

	items := s.store.Query(filter)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":  items,
		"count": len(items),
		"total": s.store.Len(),
	})
}

func (s *Service) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	record, ok := s.store.Get(mux.Vars(r)["id"])
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("request not found"))
		return
	}
	s.respondJSON(w, http.StatusOK, record)
}

func (s *Service) handleAnalyzeRequest(w http.ResponseWriter, r *http.Request) {
	record, ok := s.store.Get(mux.Vars(r)["id"])
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("request not found"))
		return
	}
	s.respondJSON(w, http.StatusOK, monitor.Analyze(record))
}

// --- replay ---

type replayRequest struct {
	RequestID     string                 `json:"request_id"`
	Modifications *capture.Modifications `json:"modifications,omitempty"`
	TimeoutMs     int64                  `json:"timeout_ms,omitempty"`
}

func (s *Service) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}

	record, ok := s.store.Get(req.RequestID)
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("request not found"))
		return
	}

	mods := req.Modifications
	if req.TimeoutMs > 0 {
		if mods == nil {
			mods = &capture.Modifications{}
		}
		mods.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	sessionID := s.sessions.Register(session.KindSingle)
	result, err := s.runner.Executor().Replay(r.Context(), record, mods)
	if err != nil {
		s.finishSession(sessionID, session.StatusFailed)
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	status := session.StatusCompleted
	if !result.Success {
		status = session.StatusFailed
	}
	s.finishSession(sessionID, status)
	s.archiveReplay(sessionID, result)
	if s.reporter != nil {
		s.reporter.ReplayCompleted(result)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"result":     result,
	})
}

type batchReplayRequest struct {
	RequestIDs    []string                          `json:"request_ids"`
	Concurrency   int                               `json:"concurrency,omitempty"`
	DelayMs       int64                             `json:"delay_ms,omitempty"`
	FailFast      bool                              `json:"fail_fast,omitempty"`
	TimeoutMs     int64                             `json:"timeout_ms,omitempty"`
	Modifications map[string]*capture.Modifications `json:"modifications,omitempty"`
}

func (s *Service) handleBatchReplay(w http.ResponseWriter, r *http.Request) {
	var req batchReplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	if len(req.RequestIDs) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("request_ids cannot be empty"))
		return
	}

	records := make([]*capture.Record, 0, len(req.RequestIDs))
	for _, id := range req.RequestIDs {
		record, ok := s.store.Get(id)
		if !ok {
			s.respondError(w, http.StatusNotFound, fmt.Errorf("request %s not found", id))
			return
		}
		records = append(records, record)
	}

	cfg := replay.BatchConfig{
		Concurrency:          req.Concurrency,
		DelayBetweenRequests: time.Duration(req.DelayMs) * time.Millisecond,
		FailFast:             req.FailFast,
		TimeoutPerRequest:    time.Duration(req.TimeoutMs) * time.Millisecond,
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = s.cfg.Batch.DefaultConcurrency
	}

	sessionID := s.sessions.Register(session.KindBatch)
	ctx, cancel := context.WithCancel(context.Background())
	s.sessions.BindCancel(sessionID, cancel)

	go func() {
		defer cancel()
		result, err := s.runner.BatchReplay(ctx, records, cfg, req.Modifications)
		if err != nil {
			status := session.StatusFailed
			if errors.Is(err, context.Canceled) {
				status = session.StatusCancelled
			}
			s.finishSession(sessionID, status)
			s.logger.Error("Batch replay failed", "session_id", sessionID, "error", err)
			return
		}
		s.finishSession(sessionID, session.StatusCompleted)
		s.archiveBatch(sessionID, result)
		if s.reporter != nil {
			s.reporter.BatchCompleted(result)
		}
	}()

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"session_id": sessionID,
		"total":      len(records),
	})
}

type loadTestRequest struct {
	RequestID         string                 `json:"request_id"`
	RequestsPerSecond int                    `json:"requests_per_second"`
	TotalRequests     int                    `json:"total_requests"`
	DurationMs        int64                  `json:"duration_ms,omitempty"`
	Concurrency       int                    `json:"concurrency,omitempty"`
	RampUpMs          int64                  `json:"ramp_up_ms,omitempty"`
	Modifications     *capture.Modifications `json:"modifications,omitempty"`
}

func (s *Service) handleLoadTest(w http.ResponseWriter, r *http.Request) {
	var req loadTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}

	record, ok := s.store.Get(req.RequestID)
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("request not found"))
		return
	}

	cfg := replay.LoadTestConfig{
		RequestsPerSecond: req.RequestsPerSecond,
		TotalRequests:     req.TotalRequests,
		Duration:          time.Duration(req.DurationMs) * time.Millisecond,
		Concurrency:       req.Concurrency,
		RampUpTime:        time.Duration(req.RampUpMs) * time.Millisecond,
	}

	sessionID := s.sessions.Register(session.KindLoadTest)
	ctx, cancel := context.WithCancel(context.Background())
	s.sessions.BindCancel(sessionID, cancel)

	go func() {
		defer cancel()
		result, err := s.runner.LoadTest(ctx, record, cfg, req.Modifications)
		if err != nil {
			status := session.StatusFailed
			if errors.Is(err, context.Canceled) {
				status = session.StatusCancelled
			}
			s.finishSession(sessionID, status)
			s.logger.Error("Load test failed", "session_id", sessionID, "error", err)
			return
		}
		s.finishSession(sessionID, session.StatusCompleted)
		s.archiveLoadTest(sessionID, result)
		if s.reporter != nil {
			s.reporter.LoadTestCompleted(result)
		}
	}()

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"session_id": sessionID,
	})
}

// --- sessions ---

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":  sessions,
		"count": len(sessions),
	})
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(mux.Vars(r)["id"])
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

func (s *Service) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cancelled := s.sessions.Cancel(id)
	sess, ok := s.sessions.Get(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}

	s.hub.Broadcast(Event{Type: EventSessionUpdate, Data: sess})
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cancelled": cancelled,
		"session":   sess,
	})
}

// --- reports ---

func (s *Service) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		s.respondError(w, http.StatusNotFound, errors.New("archive disabled"))
		return
	}

	query := r.URL.Query()
	limit := parseIntDefault(query.Get("limit"), defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}

	items, total, err := s.reports.List(archive.ListOptions{
		Kind:   query.Get("kind"),
		Limit:  limit,
		Offset: parseIntDefault(query.Get("offset"), 0),
	})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":  items,
		"total": total,
	})
}

func (s *Service) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		s.respondError(w, http.StatusNotFound, errors.New("archive disabled"))
		return
	}

	report, err := s.reports.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if report == nil {
		s.respondError(w, http.StatusNotFound, errors.New("report not found"))
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// --- export ---

func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "json"
	}
	if !containsFormat(s.formats, format) {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported export format: %s", format))
		return
	}

	items := s.store.Query(capture.Filter{Limit: s.store.Len()})
	data, contentType, ext, err := ExportRecords(items, format)
	if err != nil {
		s.logger.Error("Export failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, errors.New("failed to export data"))
		return
	}

	filename := fmt.Sprintf("reqplay_requests_%d.%s", time.Now().Unix(), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if _, err := s.hub.Upgrade(w, r); err != nil {
		s.logger.Error("Failed to upgrade websocket", "error", err)
	}
}

// --- helpers ---

func (s *Service) finishSession(id string, status session.Status) {
	if err := s.sessions.SetStatus(id, status); err != nil {
		s.logger.Warn("Failed to update session", "session_id", id, "error", err)
	}
	if sess, ok := s.sessions.Get(id); ok {
		s.hub.Broadcast(Event{Type: EventSessionUpdate, Data: sess})
	}
}

func (s *Service) archiveReplay(sessionID string, result *capture.ReplayResult) {
	succeeded, failed := 0, 1
	if result.Success {
		succeeded, failed = 1, 0
	}
	var durationMs int64
	if result.Replay != nil {
		durationMs = result.Replay.Duration
	}
	s.saveReport(&archive.Report{
		SessionID:  sessionID,
		Kind:       string(session.KindSingle),
		Total:      1,
		Succeeded:  succeeded,
		Failed:     failed,
		DurationMs: durationMs,
	}, result)
}

func (s *Service) archiveBatch(sessionID string, result *capture.BatchResult) {
	s.saveReport(&archive.Report{
		SessionID:  sessionID,
		Kind:       string(session.KindBatch),
		Total:      result.Total,
		Succeeded:  result.Succeeded,
		Failed:     result.Failed,
		DurationMs: result.Duration.Milliseconds(),
	}, result)
}

func (s *Service) archiveLoadTest(sessionID string, result *capture.LoadTestResult) {
	s.saveReport(&archive.Report{
		SessionID:  sessionID,
		Kind:       string(session.KindLoadTest),
		Total:      result.Total,
		Succeeded:  result.Succeeded,
		Failed:     result.Failed,
		DurationMs: result.Duration.Milliseconds(),
	}, result)
}

func (s *Service) saveReport(report *archive.Report, payload interface{}) {
	if s.reports == nil {
		return
	}
	if data, err := json.Marshal(payload); err == nil {
		report.Payload = data
	}
	if err := s.reports.Save(report); err != nil {
		s.logger.Error("Failed to archive report", "session_id", report.SessionID, "error", err)
	}
}

func (s *Service) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Service) respondError(w http.ResponseWriter, status int, err error) {
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return def
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func containsFormat(formats []string, target string) bool {
	for _, f := range formats {
		if f == target {
			return true
		}
	}
	return false
}
