// Package sqlsurface implements C15: an ad hoc read-only SQL evaluator
// over the evidence graph store, hardened per spec so a client-supplied
// query string can never mutate the database, escape into another file,
// or run unbounded. Each call opens its own independent read-only
// connection (see store.DB.Writer's doc comment) rather than sharing the
// store's pool, so a runaway query's progress handler only ever aborts
// that one connection.
package sqlsurface

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/lyra-research/lyra/internal/lyraerr"
)

const (
	DefaultWallClockBudget  = 300 * time.Millisecond
	MaxWallClockBudget      = 2000 * time.Millisecond
	DefaultInstructionBudget = 500_000
	MaxInstructionBudget     = 5_000_000
	DefaultRowLimit          = 50
	MaxRowLimit              = 200

	// progressHandlerInterval is the VM-instruction interval at which
	// SQLite invokes the progress callback; also the unit the
	// instruction budget is measured in.
	progressHandlerInterval = 1000
)

// Options bounds a single query_sql/query_view call. Zero values fill in
// the defaults; out-of-range values clamp to the max.
type Options struct {
	WallClockBudget   time.Duration
	InstructionBudget int
	RowLimit          int
}

func (o Options) filled() Options {
	if o.WallClockBudget <= 0 {
		o.WallClockBudget = DefaultWallClockBudget
	}
	if o.WallClockBudget > MaxWallClockBudget {
		o.WallClockBudget = MaxWallClockBudget
	}
	if o.InstructionBudget <= 0 {
		o.InstructionBudget = DefaultInstructionBudget
	}
	if o.InstructionBudget > MaxInstructionBudget {
		o.InstructionBudget = MaxInstructionBudget
	}
	if o.RowLimit <= 0 {
		o.RowLimit = DefaultRowLimit
	}
	if o.RowLimit > MaxRowLimit {
		o.RowLimit = MaxRowLimit
	}
	return o
}

// Result is the bounded output of a query_sql/query_view call.
type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
}

// Surface executes hardened, read-only SQL against the database at DBPath.
type Surface struct {
	DBPath string
}

// New returns a Surface reading the database at dbPath.
func New(dbPath string) *Surface {
	return &Surface{DBPath: dbPath}
}

// Query runs a single SELECT statement with the hardening rules of C15:
// a read-only connection, a default-deny authorizer, a wall-clock and VM
// instruction execution budget, and a bounded row count.
func (s *Surface) Query(ctx context.Context, query string, opt Options) (Result, error) {
	if err := requireSingleStatement(query); err != nil {
		return Result{}, err
	}
	return s.run(ctx, query, nil, opt.filled())
}

// requireSingleStatement rejects input containing any ';' other than a
// lone trailing one, per spec.
func requireSingleStatement(query string) error {
	trimmed := strings.TrimSpace(query)
	trimmed = strings.TrimSuffix(trimmed, ";")
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("%w: input must be a single statement", lyraerr.ErrForbiddenSQL)
	}
	return nil
}

func (s *Surface) run(ctx context.Context, query string, args []driver.Value, opt Options) (Result, error) {
	rawConn, err := (&sqlite3.SQLiteDriver{}).Open(s.DBPath + "?mode=ro&_query_only=true&_busy_timeout=5000")
	if err != nil {
		return Result{}, fmt.Errorf("sqlsurface: open: %w", err)
	}
	conn, ok := rawConn.(*sqlite3.SQLiteConn)
	if !ok {
		rawConn.Close()
		return Result{}, fmt.Errorf("sqlsurface: unexpected driver connection type %T", rawConn)
	}
	defer conn.Close()

	conn.RegisterAuthorizer(authorize)

	deadline := time.Now().Add(opt.WallClockBudget)
	executed := 0
	conn.RegisterProgressHandler(progressHandlerInterval, func() bool {
		executed += progressHandlerInterval
		if time.Now().After(deadline) {
			return true
		}
		return executed > opt.InstructionBudget
	})

	stmt, err := conn.Prepare(query)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", lyraerr.ErrForbiddenSQL, err)
	}
	defer stmt.Close()

	rows, err := stmt.Query(args)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, classifyExecError(err)
	}
	defer rows.Close()

	return collectRows(rows, opt.RowLimit)
}

// classifyExecError maps a SQLite execution error to the budget or
// forbidden-SQL sentinel it actually signals, falling back to a wrapped
// forbidden-SQL error for anything else (most non-SELECT statements fail
// at the authorizer, which surfaces here as a generic driver error).
func classifyExecError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "interrupt") {
		return fmt.Errorf("%w: %v", lyraerr.ErrExecutionBudgetExceeded, err)
	}
	return fmt.Errorf("%w: %v", lyraerr.ErrForbiddenSQL, err)
}

func collectRows(rows driver.Rows, limit int) (Result, error) {
	cols := rows.Columns()
	out := Result{Columns: cols}
	vals := make([]driver.Value, len(cols))
	for len(out.Rows) < limit {
		if err := rows.Next(vals); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return Result{}, classifyExecError(err)
		}
		row := make([]any, len(cols))
		copy(row, vals)
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Next(vals); err == nil {
		out.Truncated = true
	} else if err != io.EOF {
		return Result{}, classifyExecError(err)
	}
	return out, nil
}

// authorize is the default-deny SQLite authorizer: only read-side action
// codes are permitted. DDL, DML, ATTACH/DETACH, transactions/savepoints,
// extension loading, and PRAGMA are all denied — the schema snapshot the
// spec carves out is served separately, via Schema, not through PRAGMA.
func authorize(action int, arg1, arg2, arg3 string) int {
	switch action {
	case sqlite3.SQLITE_SELECT, sqlite3.SQLITE_READ, sqlite3.SQLITE_FUNCTION, sqlite3.SQLITE_RECURSIVE:
		return sqlite3.SQLITE_OK
	default:
		return sqlite3.SQLITE_DENY
	}
}

// Schema returns a safe snapshot of the table and view definitions,
// served outside the authorizer's PRAGMA denial via a plain SELECT
// against sqlite_master.
func (s *Surface) Schema(ctx context.Context) (Result, error) {
	return s.run(ctx, `SELECT type, name, sql FROM sqlite_master WHERE type IN ('table','view') AND name NOT LIKE 'sqlite_%' ORDER BY name`, nil, Options{RowLimit: MaxRowLimit}.filled())
}
