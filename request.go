package main

import (
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/queryhub/qbridge/aclmath"
	"github.com/queryhub/qbridge/executor"
	"github.com/queryhub/qbridge/wire"
)

// Mode is one of the five+one query execution modes (spec.md §4.6).
type Mode string

const (
	ModeSubmit   Mode = "SUBMIT"
	ModeRedirect Mode = "REDIRECT"
	ModeAsync    Mode = "ASYNC"
	ModeDirect   Mode = "DIRECT"
	ModeMutation Mode = "MUTATION"
	ModeBatch    Mode = "BATCH"
)

// modeTags maps the single-letter path segment to its Mode, per spec.md
// §6.1's HTTP surface table.
var modeTags = map[string]Mode{
	"s": ModeSubmit,
	"r": ModeRedirect,
	"a": ModeAsync,
	"d": ModeDirect,
	"m": ModeMutation,
	"b": ModeBatch,
}

// RequiresAuth reports whether m's row in spec.md §6's HTTP surface table
// is marked "(auth'd)": ASYNC, DIRECT, MUTATION, and BATCH go through the
// ACL Cache; SUBMIT and REDIRECT never call the backend so they don't.
func (m Mode) RequiresAuth() bool {
	switch m {
	case ModeAsync, ModeDirect, ModeMutation, ModeBatch:
		return true
	default:
		return false
	}
}

// QueryInfo is the central entity: one per live or pending query
// (spec.md §3).
type QueryInfo struct {
	Qid         string
	Query       string
	Txid        string
	Format      wire.Format
	Compression wire.Compression
	Token       string
	Tenant      string
	User        string
	Client      string
	CreatedAt   time.Time

	// Result and Err are mutually exclusive, per spec.md §3's invariants.
	Result *executor.Result
	Err    string
}

// Close releases q's owned result, if any. Satisfies cache.Evictable.
func (q *QueryInfo) Close() error {
	if q.Result == nil {
		return nil
	}
	return q.Result.Close()
}

// Active reports whether q's result is currently being streamed. Satisfies
// cache.Evictable.
func (q *QueryInfo) Active() bool {
	return q.Result != nil && q.Result.Active()
}

// newQid generates an opaque qid when the client didn't supply one.
func newQid() string {
	return uuid.NewString()
}

// Request is the transient per-HTTP-call value built by Negotiation
// (spec.md §3).
type Request struct {
	Method         string
	Mode           Mode
	RawParams      map[string][]string
	HasExplicitQid bool
	QueryInfo      QueryInfo
	Dialect        executor.Dialect

	// Peer is the resolved client address used for ACL checks, after
	// middleware.ProxyMiddleware has unwound any proxy headers.
	Peer string

	// FormatExplicit distinguishes "negotiated from a real signal"
	// from "fell through to the server default", used only for
	// diagnostics.
	FormatExplicit bool

	// SerdeProps carries any `jdbcx_`-prefixed header forwarded to the
	// Serde as configuration, per spec.md §6.1 (prefix stripped, "_"
	// mapped to ".").
	SerdeProps map[string]string
}

// ServerAcl is one per authenticated token (spec.md §3).
type ServerAcl struct {
	AllowedHosts []string
	AllowedIPs   []aclmath.Range
	AllowAll     bool
}

// IsValid implements the authorization algorithm from spec.md §4.2.
func (a *ServerAcl) IsValid(peer string) bool {
	if a.AllowAll {
		return true
	}

	host, _, err := net.SplitHostPort(peer)
	if err != nil {
		host = peer
	}
	ip := net.ParseIP(host)
	if ip != nil && aclmath.AnyContains(a.AllowedIPs, ip) {
		return true
	}

	if len(a.AllowedHosts) == 0 {
		return false
	}
	return a.matchesHost(host)
}

func (a *ServerAcl) matchesHost(host string) bool {
	names, err := net.LookupAddr(host)
	if err != nil {
		return false
	}
	for _, n := range names {
		for _, allowed := range a.AllowedHosts {
			if strings.EqualFold(trimTrailingDot(n), trimTrailingDot(allowed)) {
				return true
			}
		}
	}
	return false
}

func trimTrailingDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}
