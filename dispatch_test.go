package main

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/queryhub/qbridge/cache"
	"github.com/queryhub/qbridge/executor"
	"github.com/queryhub/qbridge/serde"
	"github.com/queryhub/qbridge/wire"
)

// fakeExecutor is a scripted executor.Executor for dispatcher tests, the
// same hand-rolled-fake-over-interface style the teacher's own tests use
// for its upstream client (proxy_test.go's fakeTransport).
type fakeExecutor struct {
	executeCalls int
	batchCalls   int
	result       *executor.Result
	err          error
}

func (f *fakeExecutor) Execute(ctx context.Context, query, txid string) (*executor.Result, error) {
	f.executeCalls++
	return f.result, f.err
}

func (f *fakeExecutor) ExecuteBatch(ctx context.Context, statements []string, txid string) (*executor.Result, error) {
	f.batchCalls++
	return f.result, f.err
}

func (f *fakeExecutor) Close() error { return nil }

func newTestDispatcher(exec executor.Executor) (*Dispatcher, *cache.QueryCache) {
	qc := cache.NewQueryCache(100, time.Minute)
	ec := cache.NewInMemoryErrorCache(100, time.Minute)
	rw := NewResponseWriter(serde.NewRegistry())
	resolve := func(tenant string) (executor.Executor, error) { return exec, nil }
	d := NewDispatcher(qc, ec, rw, resolve, "http://bridge.local", "/", 0)
	return d, qc
}

func updateCountResult(n int64) *executor.Result {
	return &executor.Result{RowsAffected: n}
}

func baseRequest(mode Mode, qid, query string) *Request {
	return &Request{
		Mode: mode,
		QueryInfo: QueryInfo{
			Qid:         qid,
			Query:       query,
			Format:      wire.FormatCSV,
			Compression: wire.CompressionNone,
		},
	}
}

func TestDispatchSubmitReturnsResultURL(t *testing.T) {
	d, qc := newTestDispatcher(&fakeExecutor{})
	defer qc.Close()

	w := httptest.NewRecorder()
	status := d.Dispatch(w, baseRequest(ModeSubmit, "q1", "SELECT 1"))

	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if _, ok := qc.Get("q1"); !ok {
		t.Errorf("expected q1 to be placed in the query cache")
	}
	if body := w.Body.String(); body == "" {
		t.Errorf("expected a non-empty result URL body")
	}
}

func TestDispatchRedirectReturns302(t *testing.T) {
	d, qc := newTestDispatcher(&fakeExecutor{})
	defer qc.Close()

	w := httptest.NewRecorder()
	status := d.Dispatch(w, baseRequest(ModeRedirect, "q1", "SELECT 1"))

	if status != 302 {
		t.Fatalf("status = %d, want 302", status)
	}
	if loc := w.Header().Get("Location"); loc == "" {
		t.Errorf("expected a Location header")
	}
}

func TestDispatchAsyncExecutesAndCaches(t *testing.T) {
	exec := &fakeExecutor{result: updateCountResult(0)}
	d, qc := newTestDispatcher(exec)
	defer qc.Close()

	w := httptest.NewRecorder()
	status := d.Dispatch(w, baseRequest(ModeAsync, "q1", "SELECT 1"))

	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if exec.executeCalls != 1 {
		t.Errorf("expected Execute to be called once, got %d", exec.executeCalls)
	}
	entry, ok := qc.Get("q1")
	if !ok {
		t.Fatalf("expected q1 to be cached after ASYNC")
	}
	if entry.(*QueryInfo).Result == nil {
		t.Errorf("expected the cached entry to carry a live result")
	}
}

func TestDispatchAsyncBackendErrorMemoizesErrorCache(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("connection refused")}
	d, qc := newTestDispatcher(exec)
	defer qc.Close()

	w := httptest.NewRecorder()
	status := d.Dispatch(w, baseRequest(ModeAsync, "q1", "SELECT 1"))

	if status != 500 {
		t.Fatalf("status = %d, want 500", status)
	}
	if msg, err := d.errorCache.Get("q1"); err != nil || msg != "connection refused" {
		t.Errorf("error cache for q1 = %q, %v; want %q", msg, err, "connection refused")
	}
}

func TestDispatchDirectInlineExecutesImmediately(t *testing.T) {
	exec := &fakeExecutor{result: updateCountResult(0)}
	d, qc := newTestDispatcher(exec)
	defer qc.Close()

	w := httptest.NewRecorder()
	status := d.Dispatch(w, baseRequest(ModeDirect, "q1", "SELECT 1"))

	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if exec.executeCalls != 1 {
		t.Errorf("expected Execute to run for an inline DIRECT call, got %d calls", exec.executeCalls)
	}
	if _, ok := qc.Get("q1"); ok {
		t.Errorf("expected an inline (never-cached) DIRECT result not to linger in the query cache")
	}
}

func TestDispatchDirectNoPendingQueryIs404(t *testing.T) {
	d, qc := newTestDispatcher(&fakeExecutor{})
	defer qc.Close()

	w := httptest.NewRecorder()
	req := baseRequest(ModeDirect, "ghost", "")
	status := d.Dispatch(w, req)

	if status != 404 {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestDispatchDirectDrainsSubmittedQueryThenInvalidates(t *testing.T) {
	exec := &fakeExecutor{result: updateCountResult(0)}
	d, qc := newTestDispatcher(exec)
	defer qc.Close()

	submit := baseRequest(ModeSubmit, "q1", "SELECT 1")
	submitStatus := d.Dispatch(httptest.NewRecorder(), submit)
	if submitStatus != 200 {
		t.Fatalf("submit status = %d, want 200", submitStatus)
	}

	direct := baseRequest(ModeDirect, "q1", "")
	status := d.Dispatch(httptest.NewRecorder(), direct)
	if status != 200 {
		t.Fatalf("direct status = %d, want 200", status)
	}

	// A second DIRECT for the same qid now finds nothing: the entry was
	// invalidated after the drain (spec.md §8).
	status2 := d.Dispatch(httptest.NewRecorder(), baseRequest(ModeDirect, "q1", ""))
	if status2 != 404 {
		t.Fatalf("second direct status = %d, want 404 (qid should be gone after drain)", status2)
	}
}

func TestDispatchConcurrentDrainLosesRaceGets204(t *testing.T) {
	res := updateCountResult(0)
	res.Acquire() // simulate another consumer already draining this result

	d, qc := newTestDispatcher(&fakeExecutor{})
	defer qc.Close()

	qi := &QueryInfo{Qid: "q1", Result: res}
	qc.Put("q1", qi)

	w := httptest.NewRecorder()
	status := d.Dispatch(w, baseRequest(ModeDirect, "q1", ""))

	if status != 204 {
		t.Fatalf("status = %d, want 204 for a result someone else is already draining", status)
	}
}

func TestDispatchMutationWritesPlainUpdateCount(t *testing.T) {
	exec := &fakeExecutor{result: updateCountResult(7)}
	d, qc := newTestDispatcher(exec)
	defer qc.Close()

	w := httptest.NewRecorder()
	status := d.Dispatch(w, baseRequest(ModeMutation, "q1", "UPDATE t SET x = 1"))

	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if w.Body.String() != "7\n" {
		t.Errorf("body = %q, want %q", w.Body.String(), "7\n")
	}
}

func TestDispatchBatchRunsAllStatementsReturnsLastResult(t *testing.T) {
	exec := &fakeExecutor{result: updateCountResult(0)}
	d, qc := newTestDispatcher(exec)
	defer qc.Close()

	body := "--;; first\nSELECT 1\n--;; second\nSELECT 2"
	w := httptest.NewRecorder()
	status := d.Dispatch(w, baseRequest(ModeBatch, "q1", body))

	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if exec.batchCalls != 1 {
		t.Errorf("expected ExecuteBatch to be called once, got %d", exec.batchCalls)
	}
}

func TestDispatchBatchEmptyBodyIsBadRequest(t *testing.T) {
	d, qc := newTestDispatcher(&fakeExecutor{})
	defer qc.Close()

	w := httptest.NewRecorder()
	status := d.Dispatch(w, baseRequest(ModeBatch, "q1", "   "))

	if status != 400 {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestSplitBatchStatementsParsesDelimiters(t *testing.T) {
	body := "--;; a\nSELECT 1\n--;; b\nSELECT 2\n"
	stmts := splitBatchStatements(body)
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(stmts))
	}
	if stmts[0].name != "a" || stmts[0].sql != "SELECT 1" {
		t.Errorf("stmt[0] = %+v", stmts[0])
	}
	if stmts[1].name != "b" || stmts[1].sql != "SELECT 2" {
		t.Errorf("stmt[1] = %+v", stmts[1])
	}
}

func TestSplitBatchStatementsNoDelimiterIsOneStatement(t *testing.T) {
	stmts := splitBatchStatements("SELECT 1")
	if len(stmts) != 1 || stmts[0].sql != "SELECT 1" {
		t.Fatalf("got %+v, want one bare statement", stmts)
	}
}

func TestDispatchUnknownModeIsBadRequest(t *testing.T) {
	d, qc := newTestDispatcher(&fakeExecutor{})
	defer qc.Close()

	w := httptest.NewRecorder()
	status := d.Dispatch(w, baseRequest(Mode("BOGUS"), "q1", ""))

	if status != 400 {
		t.Fatalf("status = %d, want 400", status)
	}
}
