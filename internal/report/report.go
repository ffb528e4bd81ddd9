// Package report renders finished replay, batch, and load test results for
// humans (colorized console) or machines (JSON lines).
package report

import (
	"github.com/funnyzak/reqplay/internal/config"
	"github.com/funnyzak/reqplay/internal/logger"
	"github.com/funnyzak/reqplay/pkg/capture"
	"github.com/funnyzak/reqplay/pkg/i18n"
)

// Reporter receives finished results.
type Reporter interface {
	ReplayCompleted(result *capture.ReplayResult)
	BatchCompleted(result *capture.BatchResult)
	LoadTestCompleted(result *capture.LoadTestResult)
}

// New creates a Reporter for the configured output mode.
// Silence yields a no-op reporter.
func New(cfg *config.OutputConfig, log logger.Logger, translator *i18n.Translator) Reporter {
	if cfg == nil {
		cfg = &config.OutputConfig{}
	}
	if cfg.Silence {
		return nopReporter{}
	}
	switch cfg.Mode {
	case "json":
		return NewJSONReporter(log)
	default:
		return NewConsoleReporter(log, translator, cfg.Locale)
	}
}

type nopReporter struct{}

func (nopReporter) ReplayCompleted(*capture.ReplayResult)     {}
func (nopReporter) BatchCompleted(*capture.BatchResult)       {}
func (nopReporter) LoadTestCompleted(*capture.LoadTestResult) {}
