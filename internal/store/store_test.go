package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// utcTime accepts any timestamp already converted to UTC.
var utcTime = ArgumentMatcherFunc(func(v interface{}) bool {
	ts, ok := v.(time.Time)
	return ok && ts.Location() == time.UTC
})

func newTestStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	store, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return store, mockPool
}

func sampleRun() Run {
	loc, _ := time.LoadLocation("America/New_York")
	if loc == nil {
		loc = time.FixedZone("EST", -5*3600)
	}
	started := time.Date(2026, 10, 19, 10, 0, 0, 0, loc)
	return Run{
		ID:          uuid.NewString(),
		ToolVersion: "v1.0.0-test",
		StartedAt:   started,
		FinishedAt:  started.Add(3 * time.Second),
		Results: []core.ScanResult{
			{
				UnitID: "web/app.js",
				Status: core.StatusOK,
				Findings: []core.Finding{
					{RuleID: "DomSinkRule", Severity: core.SeverityHigh, Message: "m1", Span: core.Span{Start: 1, End: 9}, Confidence: core.ConfidenceHigh},
					{RuleID: "DynamicEvalRule", Severity: core.SeverityCritical, Message: "m2", Span: core.Span{Start: 20, End: 27}, Confidence: core.ConfidenceHigh},
				},
			},
			{
				UnitID:   "web/bad.js",
				Status:   core.StatusInvalidInput,
				Findings: []core.Finding{},
				Err:      fmt.Errorf("%w: not valid UTF-8", core.ErrInvalidInput),
			},
		},
	}
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	store, mockPool := newTestStore(t, zap.NewNop())
	mockPool.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS scan_runs")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func expectRunInsert(mockPool pgxmock.PgxPoolIface, run Run, units, findings, failed, degraded int) {
	mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
		WithArgs(run.ID, run.ToolVersion, utcTime, utcTime, units, findings, failed, degraded).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestSaveRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist a run successfully without rollback errors", func(t *testing.T) {
		// -- Setup --
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		store, mockPool := newTestStore(t, zap.New(observedZapCore))
		run := sampleRun()

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, run, 2, 2, 1, 0)

		batchExp := mockPool.ExpectBatch()
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertUnit)).
			WithArgs(run.ID, "web/app.js", "ok", "").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertUnit)).
			WithArgs(run.ID, "web/bad.js", "invalid_input", "invalid input: not valid UTF-8").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		mockPool.ExpectCopyFrom(pgx.Identifier{"findings"}, findingColumns).
			WillReturnResult(2)

		// Expect Commit AND the subsequent Rollback (which returns ErrTxClosed)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		// -- Execution --
		err := store.SaveRun(ctx, run)

		// -- Assertions --
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should skip the copy when there are no findings", func(t *testing.T) {
		store, mockPool := newTestStore(t, zap.NewNop())
		run := sampleRun()
		run.Results = run.Results[1:]

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, run, 1, 0, 1, 0)
		mockPool.ExpectBatch().ExpectExec(flexibleSQLMatcher(sqlInsertUnit)).
			WithArgs(run.ID, "web/bad.js", "invalid_input", "invalid input: not valid UTF-8").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, store.SaveRun(ctx, run))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject a run id that is not a UUID", func(t *testing.T) {
		store, mockPool := newTestStore(t, zap.NewNop())
		run := sampleRun()
		run.ID = "run-1"

		err := store.SaveRun(ctx, run)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a UUID")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should handle transaction begin failure", func(t *testing.T) {
		store, mockPool := newTestStore(t, zap.NewNop())

		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err := store.SaveRun(ctx, sampleRun())
		require.Error(t, err)
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if inserting a unit fails", func(t *testing.T) {
		store, mockPool := newTestStore(t, zap.NewNop())
		run := sampleRun()
		run.Results = run.Results[:1]
		batchErr := errors.New("duplicate key")

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, run, 1, 2, 0, 0)
		mockPool.ExpectBatch().ExpectExec(flexibleSQLMatcher(sqlInsertUnit)).
			WithArgs(run.ID, "web/app.js", "ok", "").
			WillReturnError(batchErr)
		mockPool.ExpectRollback()

		err := store.SaveRun(ctx, run)
		require.Error(t, err)
		assert.ErrorIs(t, err, batchErr)
		assert.Contains(t, err.Error(), "failed to insert unit web/app.js")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if copying findings fails", func(t *testing.T) {
		store, mockPool := newTestStore(t, zap.NewNop())
		run := sampleRun()
		copyErr := errors.New("copy from failed")

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, run, 2, 2, 1, 0)
		batchExp := mockPool.ExpectBatch()
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertUnit)).WithArgs(run.ID, "web/app.js", "ok", "").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertUnit)).WithArgs(run.ID, "web/bad.js", "invalid_input", "invalid input: not valid UTF-8").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"findings"}, findingColumns).
			WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err := store.SaveRun(ctx, run)
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should detect a short copy", func(t *testing.T) {
		store, mockPool := newTestStore(t, zap.NewNop())
		run := sampleRun()

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, run, 2, 2, 1, 0)
		batchExp := mockPool.ExpectBatch()
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertUnit)).WithArgs(run.ID, "web/app.js", "ok", "").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertUnit)).WithArgs(run.ID, "web/bad.js", "invalid_input", "invalid input: not valid UTF-8").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"findings"}, findingColumns).
			WillReturnResult(1)
		mockPool.ExpectRollback()

		err := store.SaveRun(ctx, run)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch in copied findings count: expected 2, got 1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestFindingsByRun(t *testing.T) {
	ctx := context.Background()
	unitColumns := []string{"unit_id", "status", "error"}
	columns := []string{"unit_id", "rule_id", "severity", "confidence", "message", "span_start", "span_end", "line", "col", "end_line", "end_col", "snippet", "remediation"}

	t.Run("should rebuild results per unit", func(t *testing.T) {
		store, mockPool := newTestStore(t, zap.NewNop())
		runID := uuid.NewString()

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectUnits)).
			WithArgs(runID).
			WillReturnRows(pgxmock.NewRows(unitColumns).
				AddRow("web/app.js", "ok", "").
				AddRow("web/bad.js", "invalid_input", "invalid input: not valid UTF-8"))
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectFindings)).
			WithArgs(runID).
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow("web/app.js", "DomSinkRule", "high", "high", "m1", 1, 9, 1, 1, 1, 9, "el.innerHTML = x;", "Use textContent.").
				AddRow("web/app.js", "DynamicEvalRule", "critical", "high", "m2", 20, 27, 2, 0, 2, 7, "eval(x);", ""))

		results, err := store.FindingsByRun(ctx, runID)
		require.NoError(t, err)
		require.Len(t, results, 2)

		app := results[0]
		assert.Equal(t, "web/app.js", app.UnitID)
		assert.Equal(t, core.StatusOK, app.Status)
		assert.NoError(t, app.Err)
		require.Len(t, app.Findings, 2)
		assert.Equal(t, core.SeverityHigh, app.Findings[0].Severity)
		assert.Equal(t, core.Span{Start: 1, End: 9}, app.Findings[0].Span)
		assert.Equal(t, core.Location{Line: 1, Column: 1, EndLine: 1, EndColumn: 9, Snippet: "el.innerHTML = x;"}, app.Findings[0].Location)
		assert.Equal(t, core.SeverityCritical, app.Findings[1].Severity)

		bad := results[1]
		assert.Equal(t, core.StatusInvalidInput, bad.Status)
		assert.NotNil(t, bad.Findings)
		assert.Empty(t, bad.Findings)
		require.Error(t, bad.Err)
		assert.Equal(t, "invalid input: not valid UTF-8", bad.Err.Error())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report an unknown run", func(t *testing.T) {
		store, mockPool := newTestStore(t, zap.NewNop())
		runID := uuid.NewString()
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectUnits)).
			WithArgs(runID).
			WillReturnRows(pgxmock.NewRows(unitColumns))

		_, err := store.FindingsByRun(ctx, runID)
		assert.ErrorIs(t, err, ErrRunNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject a stored severity it cannot parse", func(t *testing.T) {
		store, mockPool := newTestStore(t, zap.NewNop())
		runID := uuid.NewString()
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectUnits)).
			WithArgs(runID).
			WillReturnRows(pgxmock.NewRows(unitColumns).AddRow("a.js", "ok", ""))
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectFindings)).
			WithArgs(runID).
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow("a.js", "DomSinkRule", "severe", "high", "m", 0, 1, 1, 0, 1, 1, "", ""))

		_, err := store.FindingsByRun(ctx, runID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown severity")
	})
}

func TestRuns(t *testing.T) {
	store, mockPool := newTestStore(t, zap.NewNop())
	started := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)
	id := uuid.NewString()

	mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectRuns)).
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tool_version", "started_at", "finished_at", "units", "findings", "failed", "degraded"}).
			AddRow(id, "v1", started, started.Add(time.Second), 3, 5, 1, 0))

	runs, err := store.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunSummary{
		ID: id, ToolVersion: "v1", StartedAt: started, FinishedAt: started.Add(time.Second),
		Units: 3, Findings: 5, Failed: 1,
	}, runs[0])
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
