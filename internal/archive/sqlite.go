package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/funnyzak/reqplay/internal/config"
	"github.com/funnyzak/reqplay/internal/logger"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

type sqliteStore struct {
	db  *sql.DB
	cfg *config.ArchiveConfig
	log logger.Logger
}

func newSQLiteStore(cfg *config.ArchiveConfig, log logger.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("prepare sqlite directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(absPath))
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %s: %w", stmt, err)
		}
	}

	store := &sqliteStore{db: db, cfg: cfg, log: log}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    created_ns INTEGER NOT NULL,
    total INTEGER NOT NULL,
    succeeded INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    payload_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_ns DESC);
CREATE INDEX IF NOT EXISTS idx_reports_kind_created ON reports(kind, created_ns DESC);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteStore) Save(report *Report) error {
	if report == nil {
		return fmt.Errorf("report is nil")
	}
	if strings.TrimSpace(report.ID) == "" {
		report.ID = fmt.Sprintf("rep_%d", time.Now().UnixNano())
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	insertSQL := `INSERT INTO reports (
        id, session_id, kind, created_ns, total, succeeded, failed, duration_ms, payload_json
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, insertSQL,
		report.ID,
		report.SessionID,
		report.Kind,
		report.CreatedAt.UTC().UnixNano(),
		report.Total,
		report.Succeeded,
		report.Failed,
		report.DurationMs,
		string(report.Payload),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}

	if err = s.prune(ctx, tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqliteStore) prune(ctx context.Context, tx *sql.Tx) error {
	if s.cfg.Retention > 0 {
		cutoff := time.Now().Add(-s.cfg.Retention).UTC().UnixNano()
		if _, err := tx.ExecContext(ctx, "DELETE FROM reports WHERE created_ns < ?", cutoff); err != nil {
			return fmt.Errorf("prune by retention: %w", err)
		}
	}
	if s.cfg.MaxRecords > 0 {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM reports").Scan(&count); err != nil {
			return fmt.Errorf("count reports: %w", err)
		}
		if excess := count - s.cfg.MaxRecords; excess > 0 {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM reports WHERE id IN (SELECT id FROM reports ORDER BY created_ns ASC LIMIT ?)", excess); err != nil {
				return fmt.Errorf("prune max records: %w", err)
			}
		}
	}
	return nil
}

func (s *sqliteStore) List(opts ListOptions) ([]*Report, int, error) {
	ctx := context.Background()
	where, args := buildFilters(opts)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM reports "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := strings.Builder{}
	query.WriteString("SELECT id, session_id, kind, created_ns, total, succeeded, failed, duration_ms, payload_json FROM reports ")
	query.WriteString(where)
	query.WriteString(" ORDER BY created_ns DESC")

	listArgs := append([]interface{}{}, args...)
	if opts.Limit > 0 {
		offset := opts.Offset
		if offset < 0 {
			offset = 0
		}
		query.WriteString(" LIMIT ? OFFSET ?")
		listArgs = append(listArgs, opts.Limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, report)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (s *sqliteStore) Get(id string) (*Report, error) {
	ctx := context.Background()
	row := s.db.QueryRowContext(ctx,
		"SELECT id, session_id, kind, created_ns, total, succeeded, failed, duration_ms, payload_json FROM reports WHERE id = ?", id)
	report, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanReport(scanner interface {
	Scan(dest ...interface{}) error
}) (*Report, error) {
	var (
		id         string
		sessionID  string
		kind       string
		createdNs  int64
		total      int
		succeeded  int
		failed     int
		durationMs int64
		payload    sql.NullString
	)

	if err := scanner.Scan(&id, &sessionID, &kind, &createdNs, &total, &succeeded, &failed, &durationMs, &payload); err != nil {
		return nil, err
	}

	report := &Report{
		ID:         id,
		SessionID:  sessionID,
		Kind:       kind,
		CreatedAt:  time.Unix(0, createdNs).UTC(),
		Total:      total,
		Succeeded:  succeeded,
		Failed:     failed,
		DurationMs: durationMs,
	}
	if payload.Valid && payload.String != "" {
		report.Payload = []byte(payload.String)
	}
	return report, nil
}

func buildFilters(opts ListOptions) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if kind := strings.TrimSpace(opts.Kind); kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, kind)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}
