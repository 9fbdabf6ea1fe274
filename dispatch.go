package main

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/queryhub/qbridge/cache"
	"github.com/queryhub/qbridge/executor"
	"github.com/queryhub/qbridge/log"
)

// ExecutorResolver resolves the backend Executor a query should run
// against, keyed by tenant (empty string selects the server's default
// backend). Construction of the underlying *sql.DB pools is the bridge's
// own bootstrap concern (server.go); the Mode Dispatcher only ever sees
// this narrow seam, keeping the concrete driver layer out of scope per
// spec.md §1.
type ExecutorResolver func(tenant string) (executor.Executor, error)

// Dispatcher implements the five+one execution modes from spec.md §4.6 on
// top of the Query Cache, Error Cache, and Executor collaborators.
type Dispatcher struct {
	queryCache   *cache.QueryCache
	errorCache   cache.ErrorCache
	response     *ResponseWriter
	resolveExec  ExecutorResolver
	serverURL    string
	context      string
	queryTimeout time.Duration
}

// NewDispatcher builds a Dispatcher. serverURL/ctx are used to build the
// result URLs returned by SUBMIT/REDIRECT/ASYNC; queryTimeout upper-bounds
// a single backend execution (spec.md §5), zero disables the bound.
func NewDispatcher(qc *cache.QueryCache, ec cache.ErrorCache, rw *ResponseWriter, resolve ExecutorResolver, serverURL, ctx string, queryTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		queryCache:   qc,
		errorCache:   ec,
		response:     rw,
		resolveExec:  resolve,
		serverURL:    serverURL,
		context:      ctx,
		queryTimeout: queryTimeout,
	}
}

// Dispatch routes req to the handler for its Mode and writes the HTTP
// response, returning the status code written for metrics/logging.
func (d *Dispatcher) Dispatch(w http.ResponseWriter, req *Request) int {
	switch req.Mode {
	case ModeSubmit:
		return d.submit(w, req)
	case ModeRedirect:
		return d.redirect(w, req)
	case ModeAsync:
		return d.async(w, req)
	case ModeDirect:
		return d.directOrMutation(w, req, false)
	case ModeMutation:
		return d.directOrMutation(w, req, true)
	case ModeBatch:
		return d.batch(w, req)
	default:
		return d.fail(w, badRequest("unknown mode: "+string(req.Mode), nil))
	}
}

func (d *Dispatcher) fail(w http.ResponseWriter, err *bridgeError) int {
	writeError(w, err)
	return err.Kind.StatusCode()
}

// resultURL builds the externally visible URL a client replays to fetch
// qi's result, e.g. "http://host/<qid>.csv.gz".
func (d *Dispatcher) resultURL(qi QueryInfo) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(d.serverURL, "/"))
	ctx := d.context
	if ctx == "" {
		ctx = "/"
	}
	if !strings.HasPrefix(ctx, "/") {
		b.WriteByte('/')
	}
	b.WriteString(strings.TrimSuffix(ctx, "/"))
	b.WriteByte('/')
	b.WriteString(qi.Qid)
	if ext := qi.Format.Ext(); ext != "" {
		b.WriteByte('.')
		b.WriteString(ext)
	}
	if qi.Compression != "" && qi.Compression != "NONE" {
		if ext := qi.Compression.Ext(); ext != "" {
			b.WriteByte('.')
			b.WriteString(ext)
		}
	}
	return b.String()
}

// submit puts a result-less placeholder into the Query Cache and returns
// its URL as a plain-text body (spec.md §4.6 SUBMIT row).
func (d *Dispatcher) submit(w http.ResponseWriter, req *Request) int {
	qi := req.QueryInfo
	d.queryCache.Put(qi.Qid, &qi)
	writePlainText(w, http.StatusOK, d.resultBody(req, qi)+"\n")
	return http.StatusOK
}

// resultBody formats qi's result URL for a SUBMIT/ASYNC response body. A
// client that passes "remote_table" gets the URL rewritten into its
// dialect's remote-table expression (spec.md GLOSSARY's "federated source"
// use case); everyone else gets the bare URL. REDIRECT never goes through
// here — its Location header must stay a literal, directly-followable URL.
func (d *Dispatcher) resultBody(req *Request, qi QueryInfo) string {
	url := d.resultURL(qi)
	if req.Dialect == nil || len(req.RawParams["remote_table"]) == 0 {
		return url
	}
	return req.Dialect.RemoteTableExpr(url, string(qi.Format))
}

// redirect is identical to submit except the response is a 302 pointing
// at the result URL instead of a 200 body carrying it.
func (d *Dispatcher) redirect(w http.ResponseWriter, req *Request) int {
	qi := req.QueryInfo
	d.queryCache.Put(qi.Qid, &qi)
	w.Header().Set("Location", d.resultURL(qi))
	w.WriteHeader(http.StatusFound)
	return http.StatusFound
}

// async executes immediately, stashes the live result into the Query
// Cache for a later DIRECT pickup, and returns its URL (spec.md §4.6
// ASYNC row). Failures are memoized into the Error Cache, per spec.md
// §4.4/§7.
func (d *Dispatcher) async(w http.ResponseWriter, req *Request) int {
	qi := req.QueryInfo

	exec, err := d.resolveExec(qi.Tenant)
	if err != nil {
		return d.fail(w, backendError(err))
	}

	ctx, cancel := d.execContext(qi.Tenant)
	defer cancel()

	res, err := exec.Execute(ctx, qi.Query, qi.Txid)
	if err != nil {
		recordBackendError(ModeAsync)
		d.errorCache.Put(qi.Qid, err.Error())
		return d.fail(w, backendError(err))
	}

	qi.Result = res
	d.queryCache.Put(qi.Qid, &qi)
	writePlainText(w, http.StatusOK, d.resultBody(req, qi)+"\n")
	return http.StatusOK
}

// directOrMutation implements spec.md §4.6's DIRECT and MUTATION rows,
// which share every rule except how the final result is encoded.
func (d *Dispatcher) directOrMutation(w http.ResponseWriter, req *Request, mutation bool) int {
	qid := req.QueryInfo.Qid

	qi, cameFromCache := d.lookup(qid, req)

	if qi.Result != nil {
		return d.drainCached(w, qid, qi, cameFromCache, mutation)
	}

	if qi.Query == "" {
		return d.fail(w, notFound("no live or pending query for qid "+qid))
	}

	return d.executeNow(w, qid, qi, cameFromCache, mutation)
}

// lookup resolves qid against the Query Cache, falling back to the
// QueryInfo the current request itself carries (an inline DIRECT/MUTATION
// call that never went through SUBMIT/ASYNC) when there's no hit.
func (d *Dispatcher) lookup(qid string, req *Request) (*QueryInfo, bool) {
	if cached, ok := d.queryCache.Get(qid); ok {
		if qi, ok := cached.(*QueryInfo); ok {
			return qi, true
		}
	}
	qi := req.QueryInfo
	return &qi, false
}

// drainCached streams an already-live result (state = 1 in spec.md
// §4.6), gating concurrent drains behind Result.Acquire and replying 204
// to a consumer that loses the race.
func (d *Dispatcher) drainCached(w http.ResponseWriter, qid string, qi *QueryInfo, cameFromCache, mutation bool) int {
	if !qi.Result.Acquire() {
		w.WriteHeader(http.StatusNoContent)
		return http.StatusNoContent
	}
	cacheHitsTotal.Inc()
	defer d.finishDrain(qid, qi, cameFromCache)
	return d.stream(w, qi, mutation)
}

// executeNow runs qi.Query against the backend (state = 0 in spec.md
// §4.6), re-putting the now-live result into the cache when it came from
// one, and streams the result once acquired.
func (d *Dispatcher) executeNow(w http.ResponseWriter, qid string, qi *QueryInfo, cameFromCache, mutation bool) int {
	cacheMissesTotal.Inc()

	exec, err := d.resolveExec(qi.Tenant)
	if err != nil {
		return d.fail(w, backendError(err))
	}

	ctx, cancel := d.execContext(qi.Tenant)
	defer cancel()

	mode := ModeDirect
	if mutation {
		mode = ModeMutation
	}

	res, err := exec.Execute(ctx, qi.Query, qi.Txid)
	if err != nil {
		recordBackendError(mode)
		if cameFromCache {
			d.queryCache.Invalidate(qid)
		}
		return d.fail(w, backendError(err))
	}

	res.Acquire()
	qi.Result = res
	if cameFromCache {
		d.queryCache.Put(qid, qi)
	}

	defer d.finishDrain(qid, qi, cameFromCache)
	return d.stream(w, qi, mutation)
}

func (d *Dispatcher) stream(w http.ResponseWriter, qi *QueryInfo, mutation bool) int {
	var err error
	if mutation {
		err = d.response.WriteUpdateCount(w, qi.Result)
	} else {
		err = d.response.WriteResult(w, qi.Format, qi.Compression, qi.Result)
	}
	if err != nil {
		// Apart from a format with no registered Serde, headers are already
		// flushed by this point; the connection was truncated, not switched
		// to a 500 (spec.md §4.7).
		return http.StatusOK
	}
	return http.StatusOK
}

// finishDrain clears the active flag and releases qi.Result, handing the
// actual Close to the Query Cache's own evict-unless-active path when the
// entry lives there, or closing directly for a pure inline call that was
// never cached.
func (d *Dispatcher) finishDrain(qid string, qi *QueryInfo, cameFromCache bool) {
	qi.Result.Done()
	if cameFromCache {
		d.queryCache.Invalidate(qid)
		return
	}
	if err := qi.Result.Close(); err != nil {
		log.Errorf("dispatch: closing uncached result for %q: %s", qid, err)
	}
}

// batchDelimiter matches a "--;; <name>" line introducing one batch
// statement, per spec.md §4.6.
var batchDelimiter = regexp.MustCompile(`(?m)^--;;\s*(\S+)\s*$`)

type batchStatement struct {
	name string
	sql  string
}

// splitBatchStatements splits a BATCH request body into its named
// statements. A body with no delimiter at all is treated as a single
// unnamed statement.
func splitBatchStatements(body string) []batchStatement {
	locs := batchDelimiter.FindAllStringSubmatchIndex(body, -1)
	if len(locs) == 0 {
		if s := strings.TrimSpace(body); s != "" {
			return []batchStatement{{sql: s}}
		}
		return nil
	}

	stmts := make([]batchStatement, 0, len(locs))
	for i, loc := range locs {
		name := body[loc[2]:loc[3]]
		start := loc[1]
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sql := strings.TrimSpace(body[start:end])
		if sql == "" {
			continue
		}
		stmts = append(stmts, batchStatement{name: name, sql: sql})
	}
	return stmts
}

// batch implements spec.md §4.6's BATCH row: every statement but the last
// runs and is discarded; only the last statement's result streams back.
func (d *Dispatcher) batch(w http.ResponseWriter, req *Request) int {
	qi := req.QueryInfo

	stmts := splitBatchStatements(qi.Query)
	if len(stmts) == 0 {
		return d.fail(w, badRequest("empty batch body", nil))
	}

	exec, err := d.resolveExec(qi.Tenant)
	if err != nil {
		return d.fail(w, backendError(err))
	}

	ctx, cancel := d.execContext(qi.Tenant)
	defer cancel()

	sql := make([]string, len(stmts))
	for i, s := range stmts {
		sql[i] = s.sql
	}

	res, err := exec.ExecuteBatch(ctx, sql, qi.Txid)
	if err != nil {
		recordBackendError(ModeBatch)
		return d.fail(w, backendError(err))
	}

	res.Acquire()
	defer func() {
		res.Done()
		if cerr := res.Close(); cerr != nil {
			log.Errorf("dispatch: closing batch result: %s", cerr)
		}
	}()

	if err := d.response.WriteResult(w, qi.Format, qi.Compression, res); err != nil {
		return http.StatusOK
	}
	return http.StatusOK
}

func (d *Dispatcher) execContext(tenant string) (context.Context, context.CancelFunc) {
	ctx := executor.WithTenant(context.Background(), tenant)
	if d.queryTimeout > 0 {
		return context.WithTimeout(ctx, d.queryTimeout)
	}
	return context.WithCancel(ctx)
}
