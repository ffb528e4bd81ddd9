// Package server hosts the forwarding endpoint and the admin API on one
// HTTP listener.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/funnyzak/reqplay/internal/api"
	"github.com/funnyzak/reqplay/internal/archive"
	monitor "github.com/funnyzak/reqplay/internal/capture"
	"github.com/funnyzak/reqplay/internal/config"
	"github.com/funnyzak/reqplay/internal/exchange"
	"github.com/funnyzak/reqplay/internal/logger"
	"github.com/funnyzak/reqplay/internal/replay"
	"github.com/funnyzak/reqplay/internal/report"
	"github.com/funnyzak/reqplay/internal/session"
	"github.com/funnyzak/reqplay/pkg/i18n"
)

// Server wires the capture, replay, and API machinery onto an HTTP listener.
type Server struct {
	config      *config.Config
	logger      logger.Logger
	exchanger   *exchange.HTTPExchanger
	store       *monitor.Store
	interceptor *monitor.Interceptor
	handler     *Handler
	api         *api.Service
	reports     archive.Store
	httpSrv     *http.Server
}

// New assembles a server instance from configuration.
func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	exchanger := exchange.NewHTTPExchanger(exchangeOptions(&cfg.Exchange))
	store := monitor.NewStore(cfg.Capture.MaxRequests)
	interceptor := monitor.NewInterceptor(exchanger, store, log)

	executor := replay.NewExecutor(exchanger, log, replay.ExecutorOptions{
		DefaultTimeout: time.Duration(cfg.Replay.Timeout) * time.Second,
		MarkerHeader:   cfg.Replay.MarkerHeader,
	})
	runner := replay.NewRunner(executor, log, replay.RunnerOptions{
		BatchMaxConcurrency:    cfg.Batch.MaxConcurrency,
		LoadTestMaxConcurrency: cfg.LoadTest.MaxConcurrency,
		LoadTestMaxRequests:    cfg.LoadTest.MaxRequests,
		GracePeriod:            time.Duration(cfg.LoadTest.GracePeriod) * time.Second,
	})
	sessions := session.NewRegistry(log)

	var reports archive.Store
	if cfg.Archive.Enable {
		var err error
		reports, err = archive.New(&cfg.Archive, log)
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
	}

	apiSvc := api.NewService(cfg, log, store, interceptor, runner, sessions, reports)

	translator, err := i18n.NewTranslator("en")
	if err != nil {
		return nil, fmt.Errorf("init translator: %w", err)
	}
	apiSvc.SetReporter(report.New(&cfg.Output, log, translator))

	return &Server{
		config:      cfg,
		logger:      log,
		exchanger:   exchanger,
		store:       store,
		interceptor: interceptor,
		handler:     NewHandler(&cfg.Server, interceptor, log),
		api:         apiSvc,
		reports:     reports,
	}, nil
}

// Start runs the server and blocks until a shutdown signal arrives.
func (s *Server) Start() error {
	// Capture begins immediately with the configured defaults; the API can
	// stop and restart it at runtime.
	s.interceptor.Start(monitor.MonitorConfig{
		MaxRequests:         s.config.Capture.MaxRequests,
		CaptureRequestBody:  s.config.Capture.CaptureRequestBody,
		CaptureResponseBody: s.config.Capture.CaptureResponseBody,
		MaxBodyBytes:        s.config.Capture.MaxBodyBytes,
		Domains:             s.config.Capture.Domains,
		Methods:             s.config.Capture.Methods,
	})

	router := mux.NewRouter()
	s.api.RegisterRoutes(router)
	router.PathPrefix("/").HandlerFunc(s.handleRequest)

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP server",
		"addr", s.httpSrv.Addr,
		"forward_path", s.config.Server.Path,
		"api", s.config.API.Enable,
	)

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("Server failed to start", "error", err)
		}
	}()

	s.waitForShutdown()
	return nil
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if s.config.Server.Path != "/" && !s.handler.shouldHandlePath(r.URL.Path) {
		http.NotFound(w, r)
		return
	}
	s.handler.ServeHTTP(w, r)
}

func (s *Server) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("Server forced to shutdown", "error", err)
	}

	s.close()
	s.logger.Info("Server exited")
}

// Stop shuts the server down without waiting for a signal.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		s.close()
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := s.httpSrv.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	s.interceptor.Stop()
	s.api.Close()
	s.exchanger.CloseIdleConnections()
	if s.reports != nil {
		if err := s.reports.Close(); err != nil {
			s.logger.Error("Failed to close archive", "error", err)
		}
	}
}

func exchangeOptions(cfg *config.ExchangeConfig) exchange.Options {
	return exchange.Options{
		Timeout:               time.Duration(cfg.Timeout) * time.Second,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       time.Duration(cfg.IdleConnTimeout) * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.ResponseHeaderTimeout) * time.Second,
		TLSHandshakeTimeout:   time.Duration(cfg.TLSHandshakeTimeout) * time.Second,
		ExpectContinueTimeout: time.Duration(cfg.ExpectContinueTimeout) * time.Second,
		TLSInsecureSkipVerify: cfg.TLSInsecureSkipVerify,
	}
}
