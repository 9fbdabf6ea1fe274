package executor

import (
	"database/sql"
	"errors"
	"sync/atomic"
	"time"
)

// ErrInactive is the error for a Result whose active flag has already been
// cleared by a previous drain. Result's own methods do not return it.
var ErrInactive = errors.New("executor: result is no longer active")

// Result bundles the three backend handles a live query owns: the cursor,
// the statement it was prepared from (nil for ad-hoc exec), and the
// connection borrowed from the pool. Query Cache eviction closes all three
// unless active is true, in which case close is deferred to whichever
// Response Writer is currently draining it (spec.md §3 invariants).
type Result struct {
	Rows    *sql.Rows
	Stmt    *sql.Stmt
	Conn    *sql.Conn
	Columns []Column

	// RowsAffected is set instead of Rows for statements with no result set
	// (MUTATION mode, or any exec that returns an update count).
	RowsAffected int64
	HasRows      bool

	Warnings []string

	active atomic.Bool
	closed atomic.Bool
}

// NewResult wraps rows (nil for update-count-only results) plus the handles
// it was produced from. The Result starts inactive; callers that intend to
// stream it set Acquire() before handing it to a Response Writer.
func NewResult(rows *sql.Rows, stmt *sql.Stmt, conn *sql.Conn, columns []Column) *Result {
	return &Result{Rows: rows, Stmt: stmt, Conn: conn, Columns: columns, HasRows: rows != nil}
}

// Acquire marks the result as actively being streamed. Returns false if it
// was already active (a second consumer tried to drain the same result,
// which the design treats as a 204 per spec.md's open question).
func (r *Result) Acquire() bool {
	return r.active.CompareAndSwap(false, true)
}

// Release clears the active flag once a streamer is done, then closes the
// owned handles.
func (r *Result) Release() error {
	r.active.Store(false)
	return r.Close()
}

// Active reports whether a writer currently owns this result.
func (r *Result) Active() bool {
	return r.active.Load()
}

// Done clears the active flag without closing the underlying handles,
// leaving the actual Close to whoever removes this result from the Query
// Cache next (so the cache's own evict-unless-active logic performs the
// single real close instead of this method racing it).
func (r *Result) Done() {
	r.active.Store(false)
}

// Close releases the cursor, statement, and connection, in that order. Safe
// to call more than once; only the first call does anything. Eviction calls
// this directly only when Active() is false.
func (r *Result) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if r.Rows != nil {
		if err := r.Rows.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.Stmt != nil {
		if err := r.Stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.Conn != nil {
		if err := r.Conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Next advances the cursor and decodes the current row into vals, mirroring
// a pull-based row iterator over *sql.Rows (spec.md §9). Returns false at
// end of stream or on error; callers should check Rows.Err() afterward.
func (r *Result) Next(vals []Value) (bool, error) {
	if r.Rows == nil {
		return false, nil
	}
	if !r.Rows.Next() {
		return false, r.Rows.Err()
	}
	raw := make([]interface{}, len(vals))
	ptrs := make([]interface{}, len(vals))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := r.Rows.Scan(ptrs...); err != nil {
		return false, err
	}
	for i, v := range raw {
		vals[i] = fromDriverValue(v, r.columnKind(i))
	}
	return true, nil
}

func (r *Result) columnKind(i int) Kind {
	if i < len(r.Columns) {
		return r.Columns[i].Type.Kind
	}
	return KindString
}

func fromDriverValue(raw interface{}, kind Kind) Value {
	if raw == nil {
		return NullValue
	}
	switch v := raw.(type) {
	case bool:
		return Value{Kind: KindBool, Bool: v}
	case int64:
		return Value{Kind: KindInt64, Int64: v}
	case float64:
		return Value{Kind: KindFloat64, Float64: v}
	case []byte:
		if kind == KindBinary {
			return Value{Kind: KindBinary, Binary: v}
		}
		return Value{Kind: KindString, String: string(v)}
	case string:
		return Value{Kind: KindString, String: v}
	case time.Time:
		return Value{Kind: KindTimestamp, Time: v}
	default:
		return Value{Kind: KindString, String: ""}
	}
}
