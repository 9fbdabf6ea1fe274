package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/queryhub/qbridge/cache"
	"github.com/queryhub/qbridge/config"
	"github.com/queryhub/qbridge/executor"
	"github.com/queryhub/qbridge/log"
	"github.com/queryhub/qbridge/namedconfig"
	"github.com/queryhub/qbridge/serde"
	"github.com/queryhub/qbridge/wire"
)

// Server wires every core collaborator (Negotiation, ACL Cache, Query
// Cache, Error Cache, Mode Dispatcher, Response Writer, Admin Endpoints)
// into a single http.Handler, the way the teacher's reverseProxy wires
// scope/cache/proxyretry under one ServeHTTP. Constructed once at startup
// by main.go; a SIGHUP-triggered reload goes through ApplyConfig, which
// refreshes the config-derived policy and keeps the caches running.
type Server struct {
	mu sync.RWMutex

	cfg *config.Config

	negotiator *Negotiator
	acl        *AclCache
	dispatcher *Dispatcher
	admin      *AdminEndpoints
	metrics    http.Handler

	queryCache *cache.QueryCache
	errorCache cache.ErrorCache
	manager    namedconfig.Manager
}

// NewServer builds a Server from cfg. manager is the NamedConfig
// collaborator (spec.md treats its persistent backend as out of scope;
// the bridge boots an in-memory one from cfg.Backends — see main.go).
// resolve is the Mode Dispatcher's executor seam; probeDriver backs the
// admin config/<ext>/<id> detail endpoint's database probe.
func NewServer(cfg *config.Config, manager namedconfig.Manager, resolve ExecutorResolver, probeDriver func(string, string) (*sql.DB, error)) *Server {
	defaultFormat := wire.Format(strings.ToUpper(cfg.Server.DefaultFormat))
	if !defaultFormat.Valid() {
		defaultFormat = wire.FormatCSV
	}
	defaultCompression := wire.Compression(strings.ToUpper(cfg.Server.DefaultCompression))
	if !defaultCompression.Valid() {
		defaultCompression = wire.CompressionNone
	}

	queryCache := cache.NewQueryCache(cfg.Server.QueryCacheSize, time.Duration(cfg.Server.RequestTimeout))
	errorCache := newErrorCache(cfg)
	responseWriter := NewResponseWriter(serde.NewRegistry())

	s := &Server{
		cfg:        cfg,
		negotiator: NewNegotiator(cfg.Server.Context, defaultFormat, defaultCompression),
		acl:        NewAclCache(manager, cfg.Server.ACLCacheSize, cfg.Auth, cfg.Server.ServerURL),
		dispatcher: NewDispatcher(queryCache, errorCache, responseWriter, resolve, cfg.Server.ServerURL, cfg.Server.Context, time.Duration(cfg.Server.QueryTimeout)),
		admin: NewAdminEndpoints(manager, errorCache, cfg.Server.ServerURL, cfg.Server.Context, cfg.Auth,
			string(defaultFormat), string(defaultCompression), probeDriver),
		metrics:    promhttp.HandlerFor(initMetrics(), promhttp.HandlerOpts{}),
		queryCache: queryCache,
		errorCache: errorCache,
		manager:    manager,
	}
	return s
}

func newErrorCache(cfg *config.Config) cache.ErrorCache {
	ttl := time.Duration(cfg.Server.RequestTimeout)
	if cfg.Server.ErrorCacheRedis == nil {
		return cache.NewInMemoryErrorCache(cfg.Server.ErrorCacheSize, ttl)
	}
	client := newRedisClient(cfg.Server.ErrorCacheRedis)
	return cache.NewRedisErrorCache(client, ttl)
}

// newRedisClient builds a redis.UniversalClient from a RedisConfig,
// grounded on the teacher's cache/redis_cache.go client construction:
// a ClusterClient when multiple addresses are configured, a plain Client
// otherwise.
func newRedisClient(rc *config.RedisConfig) redis.UniversalClient {
	if len(rc.Addresses) > 1 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    rc.Addresses,
			Username: rc.Username,
			Password: rc.Password,
		})
	}
	addr := "127.0.0.1:6379"
	if len(rc.Addresses) == 1 {
		addr = rc.Addresses[0]
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: rc.Username,
		Password: rc.Password,
	})
}

// Close releases the caches' background goroutines and any owned
// resources. Call once on process shutdown.
func (s *Server) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.queryCache.Close()
	if err := s.errorCache.Close(); err != nil {
		log.Errorf("server: closing error cache: %s", err)
	}
}

// ServeHTTP is the single entry point for every route in spec.md §6.1:
// it splits admin paths (config/metrics/encrypt/register/error) from the
// query-mode surface Negotiation/Dispatch own.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	ctx := cfg.Server.Context
	if ctx == "" {
		ctx = "/"
	}
	rest, ok := strings.CutPrefix(r.URL.Path, ctx)
	if !ok {
		writeError(w, badRequest("path does not start with configured context", nil))
		return
	}
	rest = strings.TrimPrefix(rest, "/")
	segments := strings.SplitN(rest, "/", 4)

	switch segments[0] {
	case "metrics":
		s.metrics.ServeHTTP(w, r)
		return
	case "config":
		s.routeConfig(w, r, segments[1:])
		return
	case "encrypt":
		if !s.authorize(r) {
			writeError(w, unauthorized("encrypt requires an authorized token"))
			return
		}
		s.admin.ServeEncrypt(w, r, r.URL.Query().Get("tenant"))
		return
	case "register":
		if !s.authorize(r) {
			writeError(w, unauthorized("register requires an authorized token"))
			return
		}
		s.admin.ServeRegister(w, r, r.URL.Query().Get("tenant"))
		return
	case "error":
		if len(segments) < 2 || segments[1] == "" {
			writeError(w, badRequest("missing qid", nil))
			return
		}
		s.admin.ServeError(w, r, segments[1])
		return
	}

	s.serveQuery(w, r)
}

func (s *Server) routeConfig(w http.ResponseWriter, r *http.Request, rest []string) {
	switch len(rest) {
	case 0, 1:
		if len(rest) == 0 || rest[0] == "" {
			s.admin.ServeConfig(w, r)
			return
		}
		s.admin.ServeConfigList(w, r, rest[0])
	case 2:
		s.admin.ServeConfigEntry(w, r, rest[0], rest[1])
	case 3:
		s.admin.ServeConfigDetailProperty(w, r, rest[0], rest[1], rest[2])
	default:
		writeError(w, badRequest("too many config path segments", nil))
	}
}

// authorize extracts and verifies the bearer token for an admin endpoint
// marked "(auth'd)" in spec.md §4.8.
func (s *Server) authorize(r *http.Request) bool {
	token := decodeAuthorization(r.Header.Get("Authorization"))
	return s.acl.Authorize(token, r.RemoteAddr)
}

// serveQuery is the Negotiation -> ACL Cache -> Mode Dispatcher pipeline
// for every non-admin path (spec.md §2's data flow diagram).
func (s *Server) serveQuery(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	negotiator, acl, dispatcher := s.negotiator, s.acl, s.dispatcher
	s.mu.RUnlock()

	req, err := negotiator.Negotiate(r, r.RemoteAddr)
	if err != nil {
		be := asBridgeError(err)
		writeError(w, be)
		return
	}

	if req.Mode.RequiresAuth() && !acl.Authorize(req.QueryInfo.Token, req.Peer) {
		be := unauthorized("peer " + req.Peer + " not authorized for this token")
		writeError(w, be)
		recordRequest(req.Mode, be.Kind.StatusCode())
		return
	}

	status := dispatcher.Dispatch(w, req)
	recordRequest(req.Mode, status)
}

// ApplyConfig swaps the negotiation defaults, ACL policy, and admin
// settings for a SIGHUP-triggered reload, the way the teacher's
// reverseProxy.ApplyConfig rebuilds its routing tables without dropping
// in-flight requests. The Query/Error Cache and any already-open
// executors are left running; only config-derived policy is refreshed.
func (s *Server) ApplyConfig(cfg *config.Config, manager namedconfig.Manager, resolve ExecutorResolver, probeDriver func(string, string) (*sql.DB, error)) {
	defaultFormat := wire.Format(strings.ToUpper(cfg.Server.DefaultFormat))
	if !defaultFormat.Valid() {
		defaultFormat = wire.FormatCSV
	}
	defaultCompression := wire.Compression(strings.ToUpper(cfg.Server.DefaultCompression))
	if !defaultCompression.Valid() {
		defaultCompression = wire.CompressionNone
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.manager = manager
	s.negotiator = NewNegotiator(cfg.Server.Context, defaultFormat, defaultCompression)
	s.acl = NewAclCache(manager, cfg.Server.ACLCacheSize, cfg.Auth, cfg.Server.ServerURL)
	s.dispatcher = NewDispatcher(s.queryCache, s.errorCache, NewResponseWriter(serde.NewRegistry()), resolve,
		cfg.Server.ServerURL, cfg.Server.Context, time.Duration(cfg.Server.QueryTimeout))
	s.admin = NewAdminEndpoints(manager, s.errorCache, cfg.Server.ServerURL, cfg.Server.Context, cfg.Auth,
		string(defaultFormat), string(defaultCompression), probeDriver)
}

// ExecutorSet holds one pooled executor.Executor per "sql"-category
// NamedConfig entry, keyed by entry ID (used as tenant), plus a default it
// falls back to when a request carries no tenant. Closing these executors
// is the caller's responsibility via Close(), called once on shutdown.
type ExecutorSet struct {
	mu        sync.Mutex
	byTenant  map[string]executor.Executor
	def       executor.Executor
	defDriver string
	defDSN    string
}

// NewExecutorSet opens pooled executors for every "sql" category entry in
// manager, using cfg.ConnectionPool's limits, grounded on the teacher's
// per-target http.Client pooling (config.ConnectionPool -> per-host
// transport limits) generalized to per-backend *sql.DB pools.
func NewExecutorSet(manager namedconfig.Manager, cp config.ConnectionPool) (*ExecutorSet, error) {
	es := &ExecutorSet{byTenant: make(map[string]executor.Executor)}

	for _, e := range manager.GetAllIDs("sql") {
		if e.Driver == "" || e.DSN == "" {
			continue
		}
		db, warnings, err := executor.Open(e.Driver, e.DSN, cp.MaxOpenConns, cp.MaxIdleConns)
		if err != nil {
			es.Close()
			return nil, fmt.Errorf("executor set: open %s/%s: %w", e.Category, e.ID, err)
		}
		exec := executor.NewSQLExecutor(db, warnings)
		es.byTenant[e.ID] = exec
		if es.def == nil {
			es.def = exec
			es.defDriver, es.defDSN = e.Driver, e.DSN
		}
	}
	return es, nil
}

// Resolve implements ExecutorResolver: an empty or unmapped tenant falls
// back to the first registered backend.
func (es *ExecutorSet) Resolve(tenant string) (executor.Executor, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if tenant != "" {
		if e, ok := es.byTenant[tenant]; ok {
			return e, nil
		}
	}
	if es.def != nil {
		return es.def, nil
	}
	return nil, fmt.Errorf("executor set: no backend configured")
}

// ProbeDriver opens a short-lived *sql.DB for the admin config detail
// endpoint's database probe (spec.md §4.8), independent of the pooled
// executors above.
func (es *ExecutorSet) ProbeDriver(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

// Close releases every pooled executor this set opened.
func (es *ExecutorSet) Close() {
	es.mu.Lock()
	defer es.mu.Unlock()
	seen := make(map[executor.Executor]bool)
	for _, e := range es.byTenant {
		if seen[e] {
			continue
		}
		seen[e] = true
		if err := e.Close(); err != nil {
			log.Errorf("executor set: close: %s", err)
		}
	}
}
