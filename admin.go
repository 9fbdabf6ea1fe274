package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/queryhub/qbridge/cache"
	"github.com/queryhub/qbridge/log"
	"github.com/queryhub/qbridge/namedconfig"
)

// dbLikeCategories are the NamedConfig categories that get probed for
// product/currentDB/catalogs detail, per spec.md §4.8's
// "only if extension is a database-style one (e.g. db, sql)".
var dbLikeCategories = map[string]bool{
	"db":       true,
	"sql":      true,
	"postgres": true,
}

// AdminEndpoints implements the `config`, `metrics`, `encrypt`, `register`,
// and `error/<qid>` admin surface from spec.md §4.8.
type AdminEndpoints struct {
	manager    namedconfig.Manager
	errorCache cache.ErrorCache
	serverURL  string
	context    string
	auth       bool
	defaultFmt string
	defaultCmp string

	// probeDriver opens a short-lived connection for the db-style detail
	// endpoint's product/currentDB/catalogs fields. nil disables probing
	// (detail comes back with those fields empty).
	probeDriver func(driver, dsn string) (*sql.DB, error)
}

// NewAdminEndpoints builds an AdminEndpoints bound to manager/errorCache
// and the server's own negotiation defaults (echoed by `config`).
func NewAdminEndpoints(manager namedconfig.Manager, errorCache cache.ErrorCache, serverURL, ctx string, auth bool, defaultFmt, defaultCmp string, probeDriver func(string, string) (*sql.DB, error)) *AdminEndpoints {
	return &AdminEndpoints{
		manager:     manager,
		errorCache:  errorCache,
		serverURL:   serverURL,
		context:     ctx,
		auth:        auth,
		defaultFmt:  defaultFmt,
		defaultCmp:  defaultCmp,
		probeDriver: probeDriver,
	}
}

// ServeConfig handles `GET {ctx}config`: plain-text server properties.
func (a *AdminEndpoints) ServeConfig(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	fmt.Fprintf(&b, "serverUrl = %s\n", a.serverURL)
	fmt.Fprintf(&b, "auth = %t\n", a.auth)
	fmt.Fprintf(&b, "context = %s\n", a.context)
	fmt.Fprintf(&b, "format = %s\n", a.defaultFmt)
	fmt.Fprintf(&b, "compression = %s\n", a.defaultCmp)
	writePlainText(w, http.StatusOK, b.String())
}

type configListEntry struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// ServeConfigList handles `GET {ctx}config/<extension>`.
func (a *AdminEndpoints) ServeConfigList(w http.ResponseWriter, r *http.Request, extension string) {
	entries := a.manager.GetAllIDs(extension)
	out := make([]configListEntry, len(entries))
	for i, e := range entries {
		out[i] = configListEntry{ID: e.ID, Description: e.Description}
	}
	writeJSON(w, http.StatusOK, out)
}

type configDetail struct {
	Type        string   `json:"type"`
	ID          string   `json:"id"`
	Aliases     []string `json:"aliases"`
	Description string   `json:"description"`
	Product     string   `json:"product,omitempty"`
	CurrentDB   string   `json:"currentDB,omitempty"`
	Catalogs    []string `json:"catalogs,omitempty"`
}

// ServeConfigEntry handles `GET {ctx}config/<ext>/<id>`.
func (a *AdminEndpoints) ServeConfigEntry(w http.ResponseWriter, r *http.Request, extension, id string) {
	if !a.manager.HasConfig(extension, id) {
		writeError(w, notFound("no such config: "+extension+"/"+id))
		return
	}
	entries := a.manager.GetAllIDs(extension)
	var entry namedconfig.Entry
	for _, e := range entries {
		if e.ID == id {
			entry = e
			break
		}
	}

	detail := configDetail{
		Type:        extension,
		ID:          entry.ID,
		Aliases:     entry.Aliases,
		Description: entry.Description,
	}

	if dbLikeCategories[strings.ToLower(extension)] {
		a.probeDatabase(&detail, entry)
	}

	writeJSON(w, http.StatusOK, detail)
}

func (a *AdminEndpoints) probeDatabase(detail *configDetail, entry namedconfig.Entry) {
	if a.probeDriver == nil || entry.Driver == "" || entry.DSN == "" {
		return
	}
	db, err := a.probeDriver(entry.Driver, entry.DSN)
	if err != nil {
		log.Errorf("admin: probe %s/%s: %s", detail.Type, detail.ID, err)
		return
	}
	defer db.Close()

	ctx := context.Background()
	if v, err := probeScalar(ctx, db, "SELECT version()"); err == nil {
		detail.Product = v
	}
	if v, err := probeScalar(ctx, db, "SELECT current_database()"); err == nil {
		detail.CurrentDB = v
		detail.Catalogs = []string{v}
	}
}

func probeScalar(ctx context.Context, db *sql.DB, query string) (string, error) {
	var v string
	err := db.QueryRowContext(ctx, query).Scan(&v)
	return v, err
}

// ServeConfigDetailProperty handles `GET {ctx}config/<ext>/<id>/<detail>`:
// a single property value looked up from the entry's property bag.
func (a *AdminEndpoints) ServeConfigDetailProperty(w http.ResponseWriter, r *http.Request, extension, id, detail string) {
	props, err := a.manager.GetConfig(extension, id, "", "")
	if err != nil {
		writeError(w, notFound("no such config: "+extension+"/"+id))
		return
	}
	v, ok := props[detail]
	if !ok {
		writeError(w, notFound("no such property: "+detail))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{detail: v})
}

// ServeEncrypt handles `POST {ctx}encrypt`: every value in the JSON body
// is replaced by its tenant-scoped encrypted form, keyed
// "<key><encryptedSuffix>" per spec.md §4.8.
const encryptedSuffix = "_encrypted"

func (a *AdminEndpoints) ServeEncrypt(w http.ResponseWriter, r *http.Request, tenant string) {
	if tenant == "" {
		writeError(w, badRequest("encrypt requires a tenant", nil))
		return
	}
	var secrets map[string]string
	if err := json.NewDecoder(r.Body).Decode(&secrets); err != nil {
		writeError(w, badRequest("malformed JSON body", err))
		return
	}

	out := make(map[string]string, len(secrets))
	for k, v := range secrets {
		enc, err := a.manager.Encrypt(v, tenant)
		if err != nil {
			writeError(w, backendError(err))
			return
		}
		out[k+encryptedSuffix] = enc
	}
	writeJSON(w, http.StatusOK, out)
}

// ServeRegister handles `POST {ctx}register`: the JSON body's values are
// already-encrypted secrets; decrypt and forward to Manager.Register.
func (a *AdminEndpoints) ServeRegister(w http.ResponseWriter, r *http.Request, tenant string) {
	if tenant == "" {
		writeError(w, badRequest("register requires a tenant", nil))
		return
	}
	var secrets map[string]string
	if err := json.NewDecoder(r.Body).Decode(&secrets); err != nil {
		writeError(w, badRequest("malformed JSON body", err))
		return
	}

	plain := make(map[string]string, len(secrets))
	for k, v := range secrets {
		key := strings.TrimSuffix(k, encryptedSuffix)
		dec, err := a.manager.Decrypt(v, tenant)
		if err != nil {
			writeError(w, backendError(err))
			return
		}
		plain[key] = dec
	}

	if err := a.manager.Register(tenant, plain); err != nil {
		writeError(w, backendError(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ServeError handles `GET {ctx}error/<qid>` (spec.md §4.4).
func (a *AdminEndpoints) ServeError(w http.ResponseWriter, r *http.Request, qid string) {
	msg, err := a.errorCache.Get(qid)
	if err != nil {
		writeError(w, notFound("no memoized error for qid "+qid))
		return
	}
	writePlainText(w, http.StatusOK, msg+"\n")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("admin: encode JSON response: %s", err)
	}
}
