package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/findings"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Schema creates the tables used by the store. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS scan_runs (
    id           UUID PRIMARY KEY,
    tool_version TEXT NOT NULL,
    started_at   TIMESTAMPTZ NOT NULL,
    finished_at  TIMESTAMPTZ NOT NULL,
    units        INTEGER NOT NULL,
    findings     INTEGER NOT NULL,
    failed       INTEGER NOT NULL,
    degraded     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS scan_units (
    run_id  UUID NOT NULL REFERENCES scan_runs (id) ON DELETE CASCADE,
    unit_id TEXT NOT NULL,
    status  TEXT NOT NULL,
    error   TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, unit_id)
);
CREATE TABLE IF NOT EXISTS findings (
    id          UUID PRIMARY KEY,
    run_id      UUID NOT NULL REFERENCES scan_runs (id) ON DELETE CASCADE,
    unit_id     TEXT NOT NULL,
    rule_id     TEXT NOT NULL,
    severity    TEXT NOT NULL,
    confidence  TEXT NOT NULL,
    message     TEXT NOT NULL,
    span_start  INTEGER NOT NULL,
    span_end    INTEGER NOT NULL,
    line        INTEGER NOT NULL,
    col         INTEGER NOT NULL,
    end_line    INTEGER NOT NULL,
    end_col     INTEGER NOT NULL,
    snippet     TEXT NOT NULL,
    remediation TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS findings_run_unit_idx ON findings (run_id, unit_id, span_start);
`

var findingColumns = []string{
	"id", "run_id", "unit_id", "rule_id", "severity", "confidence", "message",
	"span_start", "span_end", "line", "col", "end_line", "end_col", "snippet", "remediation",
}

// Run is one persisted batch scan.
type Run struct {
	ID          string
	ToolVersion string
	StartedAt   time.Time
	FinishedAt  time.Time
	Results     []core.ScanResult
}

// RunSummary is the scan_runs row of a run.
type RunSummary struct {
	ID          string
	ToolVersion string
	StartedAt   time.Time
	FinishedAt  time.Time
	Units       int
	Findings    int
	Failed      int
	Degraded    int
}

// Store persists scan runs to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the store's tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveRun writes the run, its unit statuses and its findings in one transaction.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	if _, err := uuid.Parse(run.ID); err != nil {
		return fmt.Errorf("run id %q is not a UUID: %w", run.ID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful Commit reports ErrTxClosed, which is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	summary := findings.Summarize(run.Results)
	if _, err := tx.Exec(ctx, sqlInsertRun,
		run.ID, run.ToolVersion, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		summary.Units, summary.Total, summary.Failed, summary.Degraded,
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if err := s.persistUnits(ctx, tx, run.ID, run.Results); err != nil {
		return err
	}
	if summary.Total > 0 {
		if err := s.persistFindings(ctx, tx, run.ID, run.Results, summary.Total); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Scan run persisted.",
		zap.String("run_id", run.ID),
		zap.Int("units", summary.Units),
		zap.Int("findings", summary.Total),
	)
	return nil
}

const sqlInsertRun = `
        INSERT INTO scan_runs (id, tool_version, started_at, finished_at, units, findings, failed, degraded)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `

const sqlInsertUnit = `
        INSERT INTO scan_units (run_id, unit_id, status, error)
        VALUES ($1, $2, $3, $4);
    `

func (s *Store) persistUnits(ctx context.Context, tx pgx.Tx, runID string, results []core.ScanResult) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		batch.Queue(sqlInsertUnit, runID, r.UnitID, string(r.Status), errText)
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	defer func() {
		_ = br.Close()
	}()

	for i := range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert unit %s (index %d): %w", results[i].UnitID, i, err)
		}
	}
	return nil
}

func (s *Store) persistFindings(ctx context.Context, tx pgx.Tx, runID string, results []core.ScanResult, total int) error {
	rows := make([][]interface{}, 0, total)
	for _, r := range results {
		for _, f := range r.Findings {
			loc := f.Location
			rows = append(rows, []interface{}{
				uuid.NewString(), runID, r.UnitID, f.RuleID,
				f.Severity.String(), string(f.Confidence), f.Message,
				f.Span.Start, f.Span.End,
				loc.Line, loc.Column, loc.EndLine, loc.EndColumn,
				loc.Snippet, f.Remediation,
			})
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"findings"}, findingColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}

const sqlSelectUnits = `
        SELECT unit_id, status, error
        FROM scan_units
        WHERE run_id = $1
        ORDER BY unit_id ASC;
    `

const sqlSelectFindings = `
        SELECT unit_id, rule_id, severity, confidence, message, span_start, span_end, line, col, end_line, end_col, snippet, remediation
        FROM findings
        WHERE run_id = $1
        ORDER BY unit_id ASC, span_start ASC, rule_id ASC, span_end ASC, message ASC;
    `

// FindingsByRun loads the results of a persisted run, one per unit in unit id order.
// Unit errors come back as plain text.
func (s *Store) FindingsByRun(ctx context.Context, runID string) ([]core.ScanResult, error) {
	unitRows, err := s.pool.Query(ctx, sqlSelectUnits, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	var results []core.ScanResult
	index := make(map[string]int)
	for unitRows.Next() {
		var unitID, status, errText string
		if err := unitRows.Scan(&unitID, &status, &errText); err != nil {
			unitRows.Close()
			return nil, fmt.Errorf("failed to scan unit row: %w", err)
		}
		res := core.ScanResult{UnitID: unitID, Status: core.Status(status), Findings: []core.Finding{}}
		if errText != "" {
			res.Err = errors.New(errText)
		}
		index[unitID] = len(results)
		results = append(results, res)
	}
	unitRows.Close()
	if err := unitRows.Err(); err != nil {
		return nil, fmt.Errorf("error during unit iteration: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}

	rows, err := s.pool.Query(ctx, sqlSelectFindings, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			unitID, severity, confidence string
			f                            core.Finding
		)
		err := rows.Scan(
			&unitID, &f.RuleID, &severity, &confidence, &f.Message,
			&f.Span.Start, &f.Span.End,
			&f.Location.Line, &f.Location.Column, &f.Location.EndLine, &f.Location.EndColumn,
			&f.Location.Snippet, &f.Remediation,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		if f.Severity, err = core.ParseSeverity(severity); err != nil {
			return nil, fmt.Errorf("finding of unit %s: %w", unitID, err)
		}
		f.Confidence = core.Confidence(confidence)

		i, ok := index[unitID]
		if !ok {
			s.log.Warn("Finding references an unknown unit; skipping.", zap.String("unit", unitID))
			continue
		}
		results[i].Findings = append(results[i].Findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return results, nil
}

const sqlSelectRuns = `
        SELECT id, tool_version, started_at, finished_at, units, findings, failed, degraded
        FROM scan_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `

// Runs lists the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, sqlSelectRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.ToolVersion, &r.StartedAt, &r.FinishedAt, &r.Units, &r.Findings, &r.Failed, &r.Degraded); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// ErrRunNotFound is returned when a run id has no stored units.
var ErrRunNotFound = errors.New("scan run not found")
