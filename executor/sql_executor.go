package executor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	// Registers the "pgx" database/sql driver and backs Open's
	// notice-capturing config path. This is the one concrete driver wired
	// end to end; everything above *sql.DB stays driver-agnostic.
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/queryhub/qbridge/log"
)

// NoticeBuffer collects backend-reported NOTICE/WARNING messages, keyed by
// the originating connection's backend process ID — the only correlation
// handle pgx's OnNotice callback hands back, since it fires independently
// of whichever Execute call happens to be borrowing that connection at the
// time. Execute/ExecuteBatch drain the entry for the connection they hold
// once their statement completes, so it ends up on the right Result.
type NoticeBuffer struct {
	mu    sync.Mutex
	byPID map[uint32][]string
}

func newNoticeBuffer() *NoticeBuffer {
	return &NoticeBuffer{byPID: make(map[uint32][]string)}
}

func (b *NoticeBuffer) record(pid uint32, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byPID[pid] = append(b.byPID[pid], msg)
}

// Drain returns and clears every notice recorded for pid since the last
// drain.
func (b *NoticeBuffer) Drain(pid uint32) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.byPID[pid]
	delete(b.byPID, pid)
	return msgs
}

// Open opens a pooled *sql.DB for driver/dsn and applies pool limits. driver
// is the database/sql driver name registered by an imported driver package
// ("pgx" for the bundled postgres category). For "pgx", the returned
// NoticeBuffer captures every backend NOTICE/WARNING reported on a
// connection from this pool (spec.md §4.5's "capture and log backend
// warnings"); it is nil for any other driver, which has no equivalent
// mechanism wired.
func Open(driver, dsn string, maxOpen, maxIdle int) (*sql.DB, *NoticeBuffer, error) {
	db, warnings, err := openDriver(driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	return db, warnings, nil
}

func openDriver(driver, dsn string) (*sql.DB, *NoticeBuffer, error) {
	if driver != "pgx" {
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("executor: open %s: %w", driver, err)
		}
		return db, nil, nil
	}

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("executor: parse pgx config: %w", err)
	}
	warnings := newNoticeBuffer()
	cfg.OnNotice = func(c *pgconn.PgConn, n *pgconn.Notice) {
		msg := fmt.Sprintf("%s: %s", n.Severity, n.Message)
		warnings.record(c.PID(), msg)
		log.Debugf("executor: backend notice (pid %d): %s", c.PID(), msg)
	}
	return stdlib.OpenDB(*cfg), warnings, nil
}

// SQLExecutor is the database/sql-backed Executor implementation.
type SQLExecutor struct {
	db       *sql.DB
	warnings *NoticeBuffer
}

// NewSQLExecutor wraps an already-opened, already-pooled *sql.DB. warnings
// may be nil for a driver with no notice-capturing mechanism, in which case
// every Result this executor produces simply carries no Warnings.
func NewSQLExecutor(db *sql.DB, warnings *NoticeBuffer) *SQLExecutor {
	return &SQLExecutor{db: db, warnings: warnings}
}

// pid returns the backend process ID conn is bound to, or 0 if the driver
// doesn't expose one (anything but pgx).
func (e *SQLExecutor) pid(conn *sql.Conn) uint32 {
	if e.warnings == nil {
		return 0
	}
	var pid uint32
	_ = conn.Raw(func(driverConn interface{}) error {
		if c, ok := driverConn.(*stdlib.Conn); ok {
			pid = c.Conn().PgConn().PID()
		}
		return nil
	})
	return pid
}

// drainWarnings collects and logs whatever notices accumulated on pid since
// the last drain, returning them for attachment to a live Result.
func (e *SQLExecutor) drainWarnings(query string, pid uint32) []string {
	if e.warnings == nil || pid == 0 {
		return nil
	}
	msgs := e.warnings.Drain(pid)
	if len(msgs) > 0 {
		log.Infof("executor: %d backend warning(s) for query %q", len(msgs), query)
	}
	return msgs
}

func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

// pinTenant scopes conn to the tenant carried on ctx (set by
// executor.WithTenant), so row-level-security policies or other
// tenant-aware backend configuration can key off it (spec.md §4.5). A
// request with no tenant (the common single-backend case) is a no-op.
func (e *SQLExecutor) pinTenant(ctx context.Context, conn *sql.Conn) error {
	tenant := TenantFromContext(ctx)
	if tenant == "" {
		return nil
	}
	_, err := conn.ExecContext(ctx, "SELECT set_config('app.current_tenant', $1, false)", tenant)
	return err
}

// Execute runs query, returning a *Result for SELECT-shaped statements or
// an update-count-only *Result for everything else. BATCH mode goes through
// ExecuteBatch instead, so this method only ever sees a single statement.
func (e *SQLExecutor) Execute(ctx context.Context, query string, txid string) (*Result, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, &BackendError{Query: query, Err: fmt.Errorf("acquire connection: %w", err)}
	}
	if err := e.pinTenant(ctx, conn); err != nil {
		conn.Close()
		return nil, &BackendError{Query: query, Tenant: TenantFromContext(ctx), Err: fmt.Errorf("pin tenant: %w", err)}
	}
	pid := e.pid(conn)

	if !looksLikeQuery(query) {
		res, err := conn.ExecContext(ctx, query)
		if err != nil {
			conn.Close()
			return nil, &BackendError{Query: query, Err: err}
		}
		n, _ := res.RowsAffected()
		warnings := e.drainWarnings(query, pid)
		conn.Close()
		return &Result{RowsAffected: n, HasRows: false, Warnings: warnings}, nil
	}

	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		conn.Close()
		return nil, &BackendError{Query: query, Err: fmt.Errorf("prepare: %w", err)}
	}

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		stmt.Close()
		conn.Close()
		return nil, &BackendError{Query: query, Err: fmt.Errorf("query: %w", err)}
	}

	columns, err := columnsFromRows(rows)
	if err != nil {
		rows.Close()
		stmt.Close()
		conn.Close()
		return nil, &BackendError{Query: query, Err: err}
	}

	res := NewResult(rows, stmt, conn, columns)
	res.Warnings = e.drainWarnings(query, pid)
	return res, nil
}

// ExecuteBatch implements the Executor.ExecuteBatch contract: every
// statement but the last runs to completion and has its result set (if
// any) discarded on the same borrowed connection; only the final
// statement's Result stays open, owning that connection.
func (e *SQLExecutor) ExecuteBatch(ctx context.Context, statements []string, txid string) (*Result, error) {
	if len(statements) == 0 {
		return nil, &BackendError{Err: fmt.Errorf("empty batch")}
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, &BackendError{Err: fmt.Errorf("acquire connection: %w", err)}
	}
	if err := e.pinTenant(ctx, conn); err != nil {
		conn.Close()
		return nil, &BackendError{Tenant: TenantFromContext(ctx), Err: fmt.Errorf("pin tenant: %w", err)}
	}
	pid := e.pid(conn)

	for i, stmt := range statements[:len(statements)-1] {
		if err := e.execDiscard(ctx, conn, stmt, pid); err != nil {
			conn.Close()
			return nil, &BackendError{Query: stmt, Err: fmt.Errorf("batch statement %d: %w", i+1, err)}
		}
	}

	last := statements[len(statements)-1]

	if !looksLikeQuery(last) {
		res, err := conn.ExecContext(ctx, last)
		if err != nil {
			conn.Close()
			return nil, &BackendError{Query: last, Err: err}
		}
		n, _ := res.RowsAffected()
		warnings := e.drainWarnings(last, pid)
		conn.Close()
		return &Result{RowsAffected: n, HasRows: false, Warnings: warnings}, nil
	}

	stmt, err := conn.PrepareContext(ctx, last)
	if err != nil {
		conn.Close()
		return nil, &BackendError{Query: last, Err: fmt.Errorf("prepare: %w", err)}
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		stmt.Close()
		conn.Close()
		return nil, &BackendError{Query: last, Err: fmt.Errorf("query: %w", err)}
	}
	columns, err := columnsFromRows(rows)
	if err != nil {
		rows.Close()
		stmt.Close()
		conn.Close()
		return nil, &BackendError{Query: last, Err: err}
	}
	res := NewResult(rows, stmt, conn, columns)
	res.Warnings = e.drainWarnings(last, pid)
	return res, nil
}

// execDiscard runs stmt to completion on conn, draining and closing any
// result set it produces, per spec.md §4.6's "intermediate result-sets are
// closed and discarded". Any backend warning the statement raised is still
// captured and logged, per spec.md §4.5 — just never attached to a Result,
// since the statement that raised it never produces one a client sees.
func (e *SQLExecutor) execDiscard(ctx context.Context, conn *sql.Conn, stmt string, pid uint32) error {
	if !looksLikeQuery(stmt) {
		_, err := conn.ExecContext(ctx, stmt)
		e.drainWarnings(stmt, pid)
		return err
	}
	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	err = rows.Err()
	e.drainWarnings(stmt, pid)
	return err
}

func looksLikeQuery(query string) bool {
	trimmed := strings.TrimSpace(query)
	upper := strings.ToUpper(trimmed)
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "SHOW") || strings.HasPrefix(upper, "WITH")
}

func columnsFromRows(rows *sql.Rows) ([]Column, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	columns := make([]Column, len(types))
	for i, t := range types {
		columns[i] = Column{Name: t.Name(), Type: jdbcTypeFromColumnType(t)}
	}
	return columns, nil
}

func jdbcTypeFromColumnType(t *sql.ColumnType) JDBCType {
	nullable, _ := t.Nullable()
	precision, scale, hasPrecision := t.DecimalSize()
	kind := kindFromDBTypeName(t.DatabaseTypeName())
	jt := JDBCType{
		Name:     t.DatabaseTypeName(),
		Kind:     kind,
		Nullable: nullable,
		Signed:   kind != KindBigDecimal,
	}
	if hasPrecision {
		jt.Precision = int(precision)
		jt.Scale = int(scale)
	}
	return jt
}

func kindFromDBTypeName(name string) Kind {
	switch strings.ToUpper(name) {
	case "BOOL", "BOOLEAN":
		return KindBool
	case "INT2", "SMALLINT":
		return KindInt16
	case "INT4", "INTEGER", "INT":
		return KindInt32
	case "INT8", "BIGINT":
		return KindInt64
	case "FLOAT4", "REAL":
		return KindFloat32
	case "FLOAT8", "DOUBLE PRECISION":
		return KindFloat64
	case "NUMERIC", "DECIMAL":
		return KindBigDecimal
	case "DATE":
		return KindDate
	case "TIME":
		return KindTime
	case "TIMESTAMP", "TIMESTAMPTZ":
		return KindTimestamp
	case "BYTEA":
		return KindBinary
	default:
		return KindString
	}
}
