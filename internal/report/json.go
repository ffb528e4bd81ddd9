package report

import (
	"encoding/json"
	"io"
	"os"

	"github.com/funnyzak/reqplay/internal/logger"
	"github.com/funnyzak/reqplay/pkg/capture"
)

// JSONReporter emits one JSON line per finished result.
type JSONReporter struct {
	encoder *json.Encoder
	logger  logger.Logger
	out     io.Writer
}

// NewJSONReporter creates a JSON-line reporter writing to stdout.
func NewJSONReporter(log logger.Logger) *JSONReporter {
	out := os.Stdout
	encoder := json.NewEncoder(out)
	encoder.SetEscapeHTML(false)
	return &JSONReporter{encoder: encoder, logger: log, out: out}
}

// SetOutput replaces the output target, for tests.
func (p *JSONReporter) SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	p.out = w
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	p.encoder = encoder
}

type jsonEnvelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (p *JSONReporter) emit(kind string, data interface{}) {
	if err := p.encoder.Encode(jsonEnvelope{Type: kind, Data: data}); err != nil {
		if p.logger != nil {
			p.logger.Error("Failed to encode result JSON", "type", kind, "error", err)
		}
	}
}

// ReplayCompleted emits a replay result line.
func (p *JSONReporter) ReplayCompleted(result *capture.ReplayResult) {
	p.emit("replay", result)
}

// BatchCompleted emits a batch result line.
func (p *JSONReporter) BatchCompleted(result *capture.BatchResult) {
	p.emit("batch", result)
}

// LoadTestCompleted emits a load test result line.
func (p *JSONReporter) LoadTestCompleted(result *capture.LoadTestResult) {
	p.emit("load_test", result)
}
