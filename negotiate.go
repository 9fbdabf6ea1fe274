package main

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/queryhub/qbridge/executor"
	"github.com/queryhub/qbridge/log"
	"github.com/queryhub/qbridge/wire"
)

// Negotiator parses an inbound HTTP request into a dispatch-ready Request,
// grounded on the teacher's scope.go:decorateRequest (header/param
// precedence cascade) and utils.go:getAuth/getFullQuery (credential and
// body extraction), per spec.md §4.1.
type Negotiator struct {
	context            string
	defaultFormat      wire.Format
	defaultCompression wire.Compression
}

// NewNegotiator builds a Negotiator. ctx is the configured URL context
// prefix (e.g. "/"); defaultFormat/defaultCompression are the server-wide
// negotiation fallbacks.
func NewNegotiator(ctx string, defaultFormat wire.Format, defaultCompression wire.Compression) *Negotiator {
	if ctx == "" {
		ctx = "/"
	}
	return &Negotiator{context: ctx, defaultFormat: defaultFormat, defaultCompression: defaultCompression}
}

// Negotiate implements spec.md §4.1's numbered algorithm.
func (n *Negotiator) Negotiate(r *http.Request, peer string) (*Request, error) {
	path := r.URL.Path

	rest, ok := strings.CutPrefix(path, n.context)
	if !ok {
		return nil, badRequest("path does not start with configured context", nil)
	}
	rest = strings.TrimPrefix(rest, "/")

	segments := splitNonEmpty(rest, '/')

	var mode Mode
	var modeExplicit bool
	if len(segments) > 0 {
		if m, ok := modeTags[segments[0]]; ok {
			mode = m
			modeExplicit = true
			segments = segments[1:]
		} else if len(segments[0]) == 1 {
			return nil, badRequest("unrecognized mode tag: "+segments[0], nil)
		}
	}

	var qid string
	format := wire.FormatUnknown
	compression := wire.CompressionNone
	compressionExplicit := false
	hasExplicitQid := false

	if len(segments) > 0 {
		last := segments[len(segments)-1]
		qid, format, compression, hasExplicitQid = parseTrailingSegment(last)
		if compression != wire.CompressionNone {
			compressionExplicit = true
		}
	}

	// Only the URL query string is consumed here; the POST body is read
	// separately by readBodyQuery so it remains available as the raw query
	// text, mirroring the teacher's getFullQuery (body read once, read
	// whole).
	params := r.URL.Query()

	if c := params.Get("c"); c != "" {
		if parsed, ok := parseCompressionToken(c); ok {
			compression = parsed
			compressionExplicit = true
		}
	}
	if f := params.Get("f"); f != "" {
		if parsed, ok := parseFormatToken(f); ok {
			format = parsed
		}
	}

	formatExplicit := format != wire.FormatUnknown

	if accept := r.Header.Get("Accept"); accept != "" {
		if f, ok := wire.ParseAccept(accept); ok {
			format = f
			formatExplicit = true
		}
	}
	if ae := r.Header.Get("Accept-Encoding"); ae != "" {
		compression = wire.ParseAcceptEncoding(ae)
		compressionExplicit = true
	}

	if format == wire.FormatUnknown {
		format = n.defaultFormat
	}
	// Only fall through to the server-wide default when nothing along the
	// cascade (path extension, "c" param, Accept-Encoding) picked a
	// compression explicitly; CompressionNone is itself Valid(), so a plain
	// Valid() check never reaches this fallback.
	if !compressionExplicit {
		compression = n.defaultCompression
	}

	if qidParam := params.Get("qid"); qidParam != "" {
		qid = qidParam
		hasExplicitQid = true
	}
	txid := params.Get("txid")
	user := params.Get("u")
	tenant := params.Get("tenant")
	client := r.Header.Get("User-Agent")
	query := params.Get("q")
	if query == "" {
		query = readBodyQuery(r)
	}

	if modeParam := params.Get("m"); modeParam != "" {
		if m, ok := parseModeToken(modeParam); ok {
			mode = m
			modeExplicit = true
		}
	}

	if qid != "" && isReservedModeTag(qid) {
		log.Debugf("negotiate: qid %q begins with a reserved mode-tag letter", qid)
	}

	token := decodeAuthorization(r.Header.Get("Authorization"))

	if !modeExplicit {
		if hasExplicitQid {
			mode = ModeDirect
		} else {
			mode = ModeSubmit
		}
	}

	if qid == "" {
		qid = newQid()
	}

	// The per-client Dialect's own default (spec.md GLOSSARY: "chooses wire
	// format defaults") takes precedence over the bare server-wide default
	// applied above, but only when the client never negotiated a format
	// explicitly — an engine-specific policy, not a replacement for the
	// explicit cascade.
	dialect := executor.SelectDialect(client)
	if !formatExplicit {
		if f := wire.Format(strings.ToUpper(dialect.DefaultFormat())); f.Valid() {
			format = f
		}
	}

	rawParams := make(map[string][]string, len(params))
	for k, v := range params {
		rawParams[k] = v
	}

	req := &Request{
		Method:         r.Method,
		Mode:           mode,
		RawParams:      rawParams,
		HasExplicitQid: hasExplicitQid,
		Peer:           peer,
		FormatExplicit: formatExplicit,
		SerdeProps:     serdeProps(r.Header),
		QueryInfo: QueryInfo{
			Qid:         qid,
			Query:       query,
			Txid:        txid,
			Format:      format,
			Compression: compression,
			Token:       token,
			Tenant:      tenant,
			User:        user,
			Client:      client,
			CreatedAt:   time.Now(),
		},
	}
	req.Dialect = dialect
	return req, nil
}

// serdeProps collects every "jdbcx_"-prefixed header into the Serde
// config map the spec's §6.1 describes: prefix stripped, "_" mapped to
// ".".
func serdeProps(h http.Header) map[string]string {
	const prefix = "Jdbcx_"
	var props map[string]string
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		canon := http.CanonicalHeaderKey(name)
		if !strings.HasPrefix(canon, prefix) {
			continue
		}
		if props == nil {
			props = make(map[string]string)
		}
		key := strings.ReplaceAll(strings.TrimPrefix(canon, prefix), "_", ".")
		props[strings.ToLower(key)] = values[0]
	}
	return props
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	for _, part := range strings.Split(s, string(sep)) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseTrailingSegment implements step 3: split the trailing path segment
// on "." into (qid, format, compression).
func parseTrailingSegment(seg string) (qid string, format wire.Format, compression wire.Compression, explicit bool) {
	parts := strings.Split(seg, ".")
	switch {
	case len(parts) >= 3:
		qid = parts[0]
		if f, ok := wire.FormatByExt(parts[1]); ok {
			format = f
		}
		if c, ok := wire.CompressionByExt(parts[2]); ok {
			compression = c
		}
		explicit = true
	case len(parts) == 2:
		qid = parts[0]
		if c, ok := wire.CompressionByExt(parts[1]); ok {
			compression = c
		} else if f, ok := wire.FormatByExt(parts[1]); ok {
			format = f
		}
		explicit = true
	default:
		qid = seg
		explicit = seg != ""
	}
	return qid, format, compression, explicit
}

func parseFormatToken(s string) (wire.Format, bool) {
	f := wire.Format(strings.ToUpper(s))
	if f.Valid() {
		return f, true
	}
	return wire.FormatByExt(s)
}

func parseCompressionToken(s string) (wire.Compression, bool) {
	c := wire.Compression(strings.ToUpper(s))
	if c.Valid() {
		return c, true
	}
	return wire.CompressionByExt(s)
}

func parseModeToken(s string) (Mode, bool) {
	if m, ok := modeTags[strings.ToLower(s)]; ok {
		return m, true
	}
	m := Mode(strings.ToUpper(s))
	switch m {
	case ModeSubmit, ModeRedirect, ModeAsync, ModeDirect, ModeMutation, ModeBatch:
		return m, true
	}
	return "", false
}

func isReservedModeTag(qid string) bool {
	if qid == "" {
		return false
	}
	_, ok := modeTags[strings.ToLower(qid[:1])]
	return ok
}

// decodeAuthorization decodes "Bearer <base64>" into the raw opaque token.
// A decode failure is logged and the header value is kept opaque rather
// than rejecting the request (spec.md §4.1 error conditions).
func decodeAuthorization(header string) string {
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	raw := header
	if strings.HasPrefix(header, prefix) {
		raw = header[len(prefix):]
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		log.Debugf("negotiate: failed to base64-decode Authorization header: %s", err)
		return raw
	}
	return string(decoded)
}

// readBodyQuery returns the raw POST body as query text, the way the
// teacher's getFullQuery falls back to reading the body for non-GET
// requests.
func readBodyQuery(r *http.Request) string {
	if r.Body == nil || r.Method != http.MethodPost {
		return ""
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		log.Errorf("negotiate: reading request body: %s", err)
		return ""
	}
	return string(data)
}
