// Package config describes the bridge server's YAML configuration.
//
// The persistent backend for named configurations (file tree vs. database)
// is explicitly out of scope for the core (see spec.md §1); this package
// only describes the server's own ambient settings plus an optional
// bootstrap list of named configs used to seed the in-memory
// namedconfig.Manager at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v2"
)

var (
	defaultServer = Server{
		ListenAddr:         ":9090",
		Context:            "/",
		RequestTimeout:     Duration(10 * time.Second),
		QueryTimeout:       Duration(30 * time.Second),
		QueryCacheSize:     10000,
		ErrorCacheSize:     10000,
		ACLCacheSize:       4096,
		MaxErrorReasonSize: ByteSize(64 * 1024),
	}

	defaultConnectionPool = ConnectionPool{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 2,
	}
)

// Config is the top-level server configuration.
type Config struct {
	Server Server `yaml:"server,omitempty"`

	// Auth enables bearer-token verification through NamedConfig.VerifyToken.
	// When false the ACL cache always authorizes (spec.md §4.2 fast path).
	Auth bool `yaml:"auth,omitempty"`

	// LogDebug toggles debug-level logging.
	LogDebug bool `yaml:"log_debug,omitempty"`

	ConnectionPool ConnectionPool `yaml:"connection_pool,omitempty"`

	// Networks restricts which peers may even open a TCP connection to
	// the listener, independent of the per-token ACL.
	Networks Networks `yaml:"allowed_networks,omitempty"`

	// Backends seeds the in-memory NamedConfig manager. category/id pairs
	// are addressed at runtime as {ctx}config/<category>/<id>.
	Backends []Backend `yaml:"backends,omitempty"`

	// Proxy controls trusted-proxy peer IP resolution (middleware.ProxyMiddleware).
	Proxy Proxy `yaml:"proxy,omitempty"`

	// Catches all undefined fields.
	XXX map[string]interface{} `yaml:",inline"`
}

// Server holds the ambient request-lifecycle knobs named in spec.md §5.
type Server struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// Context is the URL context prefix stripped by Negotiation (spec.md §4.1).
	Context string `yaml:"context,omitempty"`

	// ServerURL is the externally visible base URL used to build result
	// URLs for SUBMIT/ASYNC/REDIRECT responses.
	ServerURL string `yaml:"server_url,omitempty"`

	// DefaultFormat/DefaultCompression are the negotiation fallbacks
	// when no header, param, or path extension picks one.
	DefaultFormat      string `yaml:"default_format,omitempty"`
	DefaultCompression string `yaml:"default_compression,omitempty"`

	// RequestTimeout is the Query Cache TTL (spec.md §4.3).
	RequestTimeout Duration `yaml:"request_timeout,omitempty"`

	// QueryTimeout upper-bounds a single backend execution (spec.md §5).
	QueryTimeout Duration `yaml:"query_timeout,omitempty"`

	// QueryCacheSize/ErrorCacheSize/ACLCacheSize are maxEntries for the
	// three bounded caches (spec.md §4.3, §4.4, §4.2).
	QueryCacheSize int `yaml:"query_cache_size,omitempty"`
	ErrorCacheSize int `yaml:"error_cache_size,omitempty"`
	ACLCacheSize   int `yaml:"acl_cache_size,omitempty"`

	// MaxErrorReasonSize bounds how much of a failed backend response is
	// captured into the error cache / error body.
	MaxErrorReasonSize ByteSize `yaml:"max_error_reason_size,omitempty"`

	// ErrorCacheRedis, when non-nil, backs the Error Cache with Redis
	// instead of the in-memory map (spec.md §4.4 is silent on backing
	// store; grounded on the teacher's AsyncCache redis mode).
	ErrorCacheRedis *RedisConfig `yaml:"error_cache_redis,omitempty"`
}

// ConnectionPool configures the executor's per-backend database/sql pool.
type ConnectionPool struct {
	MaxIdleConns        int      `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost int      `yaml:"max_idle_conns_per_host,omitempty"`
	MaxOpenConns        int      `yaml:"max_open_conns,omitempty"`
	ConnMaxLifetime     Duration `yaml:"conn_max_lifetime,omitempty"`
}

// RedisConfig describes a Redis connection, grounded on the teacher's
// config.RedisCacheConfig.
type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username,omitempty"`
	Password  string   `yaml:"password,omitempty"`
}

// Backend is a bootstrap entry for namedconfig.Manager: category/id index
// a property bag (driver DSN, aliases, description).
type Backend struct {
	Category    string            `yaml:"category"`
	ID          string            `yaml:"id"`
	Driver      string            `yaml:"driver,omitempty"`
	DSN         string            `yaml:"dsn,omitempty"`
	Aliases     []string          `yaml:"aliases,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Properties  map[string]string `yaml:"properties,omitempty"`
}

// Proxy mirrors the teacher's middleware.ProxyMiddleware configuration.
type Proxy struct {
	Enable bool   `yaml:"enable,omitempty"`
	Header string `yaml:"header,omitempty"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface, applying
// defaults the way the teacher's Config.UnmarshalYAML does.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Config
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	c.Server = mergeServerDefaults(c.Server)
	if c.ConnectionPool.MaxIdleConns == 0 && c.ConnectionPool.MaxIdleConnsPerHost == 0 {
		c.ConnectionPool = defaultConnectionPool
	}

	return checkOverflow(c.XXX, "config")
}

func mergeServerDefaults(s Server) Server {
	if s.ListenAddr == "" {
		s.ListenAddr = defaultServer.ListenAddr
	}
	if s.Context == "" {
		s.Context = defaultServer.Context
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = defaultServer.RequestTimeout
	}
	if s.QueryTimeout == 0 {
		s.QueryTimeout = defaultServer.QueryTimeout
	}
	if s.QueryCacheSize == 0 {
		s.QueryCacheSize = defaultServer.QueryCacheSize
	}
	if s.ErrorCacheSize == 0 {
		s.ErrorCacheSize = defaultServer.ErrorCacheSize
	}
	if s.ACLCacheSize == 0 {
		s.ACLCacheSize = defaultServer.ACLCacheSize
	}
	if s.MaxErrorReasonSize == 0 {
		s.MaxErrorReasonSize = defaultServer.MaxErrorReasonSize
	}
	return s
}

// LoadFile reads and parses the config at path, the way the teacher's
// config.LoadFile does.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %q: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config %q: %w", path, err)
	}
	return cfg, nil
}

// String renders the config with secrets redacted, matching the teacher's
// Config.String/withoutSensitiveInfo pair.
func (c *Config) String() string {
	b, err := yaml.Marshal(withoutSensitiveInfo(c))
	if err != nil {
		panic(err)
	}
	return string(b)
}

func withoutSensitiveInfo(c *Config) *Config {
	const placeholder = "XXX"

	cp, ok := deepcopy.Copy(c).(*Config)
	if !ok {
		return c
	}
	if cp.Server.ErrorCacheRedis != nil && cp.Server.ErrorCacheRedis.Password != "" {
		cp.Server.ErrorCacheRedis.Password = placeholder
	}
	for i := range cp.Backends {
		if cp.Backends[i].DSN != "" {
			cp.Backends[i].DSN = placeholder
		}
	}
	return cp
}
