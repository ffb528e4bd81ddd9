// Package archive persists finished session reports (single replays,
// batches, load tests) so they survive beyond the in-memory registries.
// Captured traffic itself is never persisted.
package archive

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/funnyzak/reqplay/internal/config"
	"github.com/funnyzak/reqplay/internal/logger"
)

// ErrUnsupportedDriver indicates the configured driver is not available.
var ErrUnsupportedDriver = errors.New("unsupported archive driver")

// Report is one archived session outcome. Payload holds the full result
// object (BatchResult, LoadTestResult, or ReplayResult) as JSON.
type Report struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Kind       string          `json:"kind"`
	CreatedAt  time.Time       `json:"created_at"`
	Total      int             `json:"total"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	DurationMs int64           `json:"duration_ms"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ListOptions controls filtering and pagination when fetching reports.
type ListOptions struct {
	Kind   string
	Limit  int
	Offset int
}

// Store is the persistence contract for session reports.
type Store interface {
	Save(*Report) error
	List(ListOptions) ([]*Report, int, error)
	Get(id string) (*Report, error)
	Close() error
}

// New instantiates a Store based on configuration.
func New(cfg *config.ArchiveConfig, log logger.Logger) (Store, error) {
	if cfg == nil {
		return nil, errors.New("archive config is nil")
	}
	switch cfg.Driver {
	case "", "sqlite", "sqlite3":
		return newSQLiteStore(cfg, log)
	default:
		return nil, ErrUnsupportedDriver
	}
}
