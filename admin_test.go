package main

import (
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/queryhub/qbridge/cache"
	"github.com/queryhub/qbridge/namedconfig"
)

// fakeManager is a scripted namedconfig.Manager, the admin-test analogue of
// dispatch_test.go's fakeExecutor.
type fakeManager struct {
	entries       []namedconfig.Entry
	encryptCalls  []string
	decryptCalls  []string
	registerCalls map[string]map[string]string
	encryptErr    error
	registerErr   error
}

func (f *fakeManager) GetAllIDs(category string) []namedconfig.Entry {
	var out []namedconfig.Entry
	for _, e := range f.entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeManager) HasConfig(category, id string) bool {
	for _, e := range f.entries {
		if e.Category == category && e.ID == id {
			return true
		}
	}
	return false
}

func (f *fakeManager) GetConfig(category, id, tag, tenant string) (map[string]string, error) {
	for _, e := range f.entries {
		if e.Category == category && e.ID == id {
			return e.Properties, nil
		}
	}
	return nil, namedconfig.ErrNotFound
}

func (f *fakeManager) VerifyToken(audience, token string) *namedconfig.Claims {
	return nil
}

func (f *fakeManager) Encrypt(value, tenant string) (string, error) {
	f.encryptCalls = append(f.encryptCalls, value)
	if f.encryptErr != nil {
		return "", f.encryptErr
	}
	return "enc:" + value, nil
}

func (f *fakeManager) Decrypt(value, tenant string) (string, error) {
	f.decryptCalls = append(f.decryptCalls, value)
	return strings.TrimPrefix(value, "enc:"), nil
}

func (f *fakeManager) Register(tenant string, properties map[string]string) error {
	if f.registerErr != nil {
		return f.registerErr
	}
	if f.registerCalls == nil {
		f.registerCalls = make(map[string]map[string]string)
	}
	f.registerCalls[tenant] = properties
	return nil
}

func newTestAdmin(mgr namedconfig.Manager, ec cache.ErrorCache) *AdminEndpoints {
	probe := func(driver, dsn string) (*sql.DB, error) { return nil, nil }
	return NewAdminEndpoints(mgr, ec, "http://bridge.local", "/", true, "CSV", "NONE", probe)
}

func TestServeConfigReportsServerProperties(t *testing.T) {
	a := newTestAdmin(&fakeManager{}, cache.NewInMemoryErrorCache(10, time.Minute))
	w := httptest.NewRecorder()
	a.ServeConfig(w, httptest.NewRequest("GET", "/config", nil))

	body := w.Body.String()
	for _, want := range []string{"serverUrl = http://bridge.local", "auth = true", "format = CSV"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q: %q", want, body)
		}
	}
}

func TestServeConfigListReturnsEntriesForCategory(t *testing.T) {
	mgr := &fakeManager{entries: []namedconfig.Entry{
		{Category: "sql", ID: "main", Description: "primary warehouse"},
		{Category: "sql", ID: "replica", Description: "read replica"},
		{Category: "cache", ID: "redis1", Description: "not a sql entry"},
	}}
	a := newTestAdmin(mgr, cache.NewInMemoryErrorCache(10, time.Minute))

	w := httptest.NewRecorder()
	a.ServeConfigList(w, httptest.NewRequest("GET", "/config/sql", nil), "sql")

	var out []configListEntry
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d entries, want 2", len(out))
	}
}

func TestServeConfigEntryUnknownIsNotFound(t *testing.T) {
	a := newTestAdmin(&fakeManager{}, cache.NewInMemoryErrorCache(10, time.Minute))
	w := httptest.NewRecorder()
	a.ServeConfigEntry(w, httptest.NewRequest("GET", "/config/sql/ghost", nil), "sql", "ghost")
	if w.Code != 404 {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestServeConfigEntryKnownReturnsDetail(t *testing.T) {
	mgr := &fakeManager{entries: []namedconfig.Entry{
		{Category: "sql", ID: "main", Aliases: []string{"primary"}, Description: "primary warehouse"},
	}}
	a := newTestAdmin(mgr, cache.NewInMemoryErrorCache(10, time.Minute))

	w := httptest.NewRecorder()
	a.ServeConfigEntry(w, httptest.NewRequest("GET", "/config/sql/main", nil), "sql", "main")
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var detail configDetail
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if detail.ID != "main" || detail.Description != "primary warehouse" {
		t.Errorf("detail = %+v", detail)
	}
}

func TestServeConfigDetailPropertyReturnsValue(t *testing.T) {
	mgr := &fakeManager{entries: []namedconfig.Entry{
		{Category: "sql", ID: "main", Properties: map[string]string{"host": "db.internal"}},
	}}
	a := newTestAdmin(mgr, cache.NewInMemoryErrorCache(10, time.Minute))

	w := httptest.NewRecorder()
	a.ServeConfigDetailProperty(w, httptest.NewRequest("GET", "/config/sql/main/host", nil), "sql", "main", "host")
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["host"] != "db.internal" {
		t.Errorf("out = %+v", out)
	}
}

func TestServeConfigDetailPropertyUnknownIsNotFound(t *testing.T) {
	mgr := &fakeManager{entries: []namedconfig.Entry{
		{Category: "sql", ID: "main", Properties: map[string]string{"host": "db.internal"}},
	}}
	a := newTestAdmin(mgr, cache.NewInMemoryErrorCache(10, time.Minute))

	w := httptest.NewRecorder()
	a.ServeConfigDetailProperty(w, httptest.NewRequest("GET", "/config/sql/main/missing", nil), "sql", "main", "missing")
	if w.Code != 404 {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestServeEncryptEncryptsEveryValue(t *testing.T) {
	mgr := &fakeManager{}
	a := newTestAdmin(mgr, cache.NewInMemoryErrorCache(10, time.Minute))

	body := strings.NewReader(`{"password":"s3cret"}`)
	w := httptest.NewRecorder()
	a.ServeEncrypt(w, httptest.NewRequest("POST", "/encrypt", body), "tenant-a")

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["password_encrypted"] != "enc:s3cret" {
		t.Errorf("out = %+v", out)
	}
}

func TestServeEncryptRequiresTenant(t *testing.T) {
	a := newTestAdmin(&fakeManager{}, cache.NewInMemoryErrorCache(10, time.Minute))
	w := httptest.NewRecorder()
	a.ServeEncrypt(w, httptest.NewRequest("POST", "/encrypt", strings.NewReader(`{}`)), "")
	if w.Code != 400 {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestServeRegisterDecryptsAndRegisters(t *testing.T) {
	mgr := &fakeManager{}
	a := newTestAdmin(mgr, cache.NewInMemoryErrorCache(10, time.Minute))

	body := strings.NewReader(`{"password_encrypted":"enc:s3cret"}`)
	w := httptest.NewRecorder()
	a.ServeRegister(w, httptest.NewRequest("POST", "/register", body), "tenant-a")

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	got, ok := mgr.registerCalls["tenant-a"]
	if !ok {
		t.Fatalf("expected Register to be called for tenant-a")
	}
	if got["password"] != "s3cret" {
		t.Errorf("registered properties = %+v", got)
	}
}

func TestServeErrorReturnsMemoizedMessage(t *testing.T) {
	ec := cache.NewInMemoryErrorCache(10, time.Minute)
	defer ec.Close()
	ec.Put("q1", "connection refused")

	a := newTestAdmin(&fakeManager{}, ec)
	w := httptest.NewRecorder()
	a.ServeError(w, httptest.NewRequest("GET", "/error/q1", nil), "q1")

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "connection refused") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestServeErrorUnknownQidIsNotFound(t *testing.T) {
	ec := cache.NewInMemoryErrorCache(10, time.Minute)
	defer ec.Close()

	a := newTestAdmin(&fakeManager{}, ec)
	w := httptest.NewRecorder()
	a.ServeError(w, httptest.NewRequest("GET", "/error/ghost", nil), "ghost")

	if w.Code != 404 {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
