// Package wire implements the negotiable wire-format and compression
// catalogs described in spec.md §6.2: enums with a MIME type, a file
// extension, and (for compression) an encoding token and codec.
//
// This mirrors the teacher's config-driven enum idiom (config.ByteSize,
// config.Networks — small types that parse themselves from a string and
// expose a handful of lookup helpers) but the tables themselves are new
// domain vocabulary the teacher doesn't have any use for.
package wire

import "strings"

// Format identifies a wire serialization format.
type Format string

const (
	FormatCSV      Format = "CSV"
	FormatTSV      Format = "TSV"
	FormatJSONL    Format = "JSONL"
	FormatNDJSON   Format = "NDJSON"
	FormatJSONSeq  Format = "JSONSeq"
	FormatJSON     Format = "JSON"
	FormatXML      Format = "XML"
	FormatValues   Format = "Values"
	FormatArrow    Format = "Arrow"
	FormatParquet  Format = "Parquet"
	FormatAvro     Format = "Avro"
	FormatBSON     Format = "BSON"
	FormatUnknown  Format = ""
)

type formatInfo struct {
	format Format
	mime   string
	ext    string
}

// formatTable is ordered so extension/MIME probing is deterministic.
var formatTable = []formatInfo{
	{FormatCSV, "text/csv", "csv"},
	{FormatTSV, "text/tab-separated-values", "tsv"},
	{FormatJSONL, "application/jsonl", "jsonl"},
	{FormatNDJSON, "application/x-ndjson", "ndjson"},
	{FormatJSONSeq, "application/json-seq", "json-seq"},
	{FormatJSON, "application/json", "json"},
	{FormatXML, "application/xml", "xml"},
	{FormatValues, "text/values", "values"},
	{FormatArrow, "application/vnd.apache.arrow.stream", "arrow"},
	{FormatParquet, "application/vnd.apache.parquet", "parquet"},
	{FormatAvro, "application/avro", "avro"},
	{FormatBSON, "application/bson", "bson"},
}

// MimeType returns the canonical MIME type for f, or "" if unknown.
func (f Format) MimeType() string {
	for _, fi := range formatTable {
		if fi.format == f {
			return fi.mime
		}
	}
	return ""
}

// Ext returns the canonical file extension for f (without the leading dot).
func (f Format) Ext() string {
	for _, fi := range formatTable {
		if fi.format == f {
			return fi.ext
		}
	}
	return ""
}

// Valid reports whether f is a recognized format.
func (f Format) Valid() bool {
	return f.MimeType() != ""
}

// FormatByExt resolves a bare file extension (no leading dot, case
// insensitive) to a Format. ok is false if no format matches.
func FormatByExt(ext string) (Format, bool) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, fi := range formatTable {
		if fi.ext == ext {
			return fi.format, true
		}
	}
	return FormatUnknown, false
}

// FormatByMime resolves an Accept header MIME type to a Format, supporting
// the wildcard form "type/*". "*/*" and an empty type resolve to nothing,
// so they never count as an explicit format. The first registered format
// matching a "type/*" wildcard wins, matching the spec's "probe table"
// language.
func FormatByMime(mime string) (Format, bool) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if semi := strings.IndexByte(mime, ';'); semi >= 0 {
		mime = strings.TrimSpace(mime[:semi])
	}
	if mime == "*/*" || mime == "" {
		return FormatUnknown, false
	}
	for _, fi := range formatTable {
		if fi.mime == mime {
			return fi.format, true
		}
	}
	if strings.HasSuffix(mime, "/*") {
		prefix := strings.TrimSuffix(mime, "*")
		for _, fi := range formatTable {
			if strings.HasPrefix(fi.mime, prefix) {
				return fi.format, true
			}
		}
	}
	return FormatUnknown, false
}

// ParseAccept picks the best format out of a comma-separated Accept header
// value, skipping entries that don't map to a known format (e.g. "*/*" when
// no default is registered for it).
func ParseAccept(accept string) (Format, bool) {
	for _, part := range strings.Split(accept, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if f, ok := FormatByMime(part); ok {
			return f, true
		}
	}
	return FormatUnknown, false
}
