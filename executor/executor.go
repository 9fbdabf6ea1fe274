// Package executor implements the Executor/Dialect collaborator pair that
// spec.md treats as an abstract JDBC-like driver layer. The reference
// implementation runs against database/sql so the dialect-specific mapper
// genuinely stays out of scope: callers see *sql.Rows, nothing more.
package executor

import (
	"context"
	"fmt"
)

// Executor acquires a pooled connection, executes a statement, and returns
// either a live Result (SELECT-shaped) or an update count (exec-shaped),
// plus any warnings the backend reported.
type Executor interface {
	// Execute runs query against the named-config-resolved backend,
	// optionally scoped to tenant. txid is a correlation token that never
	// opens a client-visible transaction; SQLExecutor does not send it to
	// the backend.
	Execute(ctx context.Context, query string, txid string) (*Result, error)
	// ExecuteBatch runs statements in order on a single borrowed connection,
	// discarding every intermediate result set and returning only the last
	// statement's Result, per spec.md §4.6's BATCH semantics. A failure at
	// any statement aborts the whole batch.
	ExecuteBatch(ctx context.Context, statements []string, txid string) (*Result, error)
	// Close releases any pools this executor owns.
	Close() error
}

// Dialect chooses wire-format defaults and rewrites a result URL into a
// remote-table expression for engines that consume the bridge as a
// federated source (spec.md GLOSSARY). Selection is driven by the `client`
// (user-agent) string resolved during negotiation.
type Dialect interface {
	// Name identifies the dialect, e.g. "clickhouse", "generic".
	Name() string
	// DefaultFormat is used when the client didn't negotiate one explicitly.
	DefaultFormat() string
	// RemoteTableExpr rewrites resultURL into a dialect-specific SQL
	// expression a client can embed in its own queries.
	RemoteTableExpr(resultURL string, format string) string
}

// GenericDialect is the fallback Dialect for clients with no special
// handling, returning the result URL as a bare `url(...)` table function
// call, matching the spec's ClickHouse-derived GLOSSARY example.
type GenericDialect struct{}

func (GenericDialect) Name() string          { return "generic" }
func (GenericDialect) DefaultFormat() string { return "CSV" }
func (GenericDialect) RemoteTableExpr(resultURL, format string) string {
	return fmt.Sprintf("url('%s','%s')", resultURL, format)
}

// SelectDialect maps a client (user-agent) string to a Dialect. Unknown or
// empty clients get GenericDialect.
func SelectDialect(client string) Dialect {
	return GenericDialect{}
}

// BackendError wraps a failure surfaced by the backend (driver error,
// connection acquisition failure, statement preparation failure) with the
// query and tenant that produced it, so the Mode Dispatcher can log and
// memoize it without re-parsing driver-specific error strings.
type BackendError struct {
	Query  string
	Tenant string
	Err    error
}

func (e *BackendError) Error() string {
	if e.Tenant != "" {
		return fmt.Sprintf("executor: tenant %q: %v", e.Tenant, e.Err)
	}
	return fmt.Sprintf("executor: %v", e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
