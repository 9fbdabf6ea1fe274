package main

import (
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/queryhub/qbridge/wire"
)

func newNegotiator() *Negotiator {
	return NewNegotiator("/", wire.FormatCSV, wire.CompressionNone)
}

func TestNegotiateHeaderWinsOverParamOverPathOverDefault(t *testing.T) {
	n := newNegotiator()

	r := httptest.NewRequest("GET", "/q1.tsv?f=json", nil)
	r.Header.Set("Accept", "application/jsonl")

	req, err := n.Negotiate(r, "127.0.0.1:1234")
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if req.QueryInfo.Format != wire.FormatJSONL {
		t.Errorf("Format = %v, want JSONL (header should win)", req.QueryInfo.Format)
	}
}

func TestNegotiateParamWinsOverPathExtension(t *testing.T) {
	n := newNegotiator()

	r := httptest.NewRequest("GET", "/q1.tsv?f=json", nil)
	req, err := n.Negotiate(r, "127.0.0.1:1234")
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if req.QueryInfo.Format != wire.FormatJSON {
		t.Errorf("Format = %v, want JSON (param should win over path ext)", req.QueryInfo.Format)
	}
}

func TestNegotiatePathExtensionWinsOverDefault(t *testing.T) {
	n := newNegotiator()

	r := httptest.NewRequest("GET", "/q1.tsv", nil)
	req, err := n.Negotiate(r, "127.0.0.1:1234")
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if req.QueryInfo.Format != wire.FormatTSV {
		t.Errorf("Format = %v, want TSV (path ext should win over default)", req.QueryInfo.Format)
	}
}

func TestNegotiateFallsBackToDefault(t *testing.T) {
	n := newNegotiator()

	r := httptest.NewRequest("GET", "/", nil)
	req, err := n.Negotiate(r, "127.0.0.1:1234")
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if req.QueryInfo.Format != wire.FormatCSV {
		t.Errorf("Format = %v, want server default CSV", req.QueryInfo.Format)
	}
}

func TestNegotiateModeTagConsumed(t *testing.T) {
	n := newNegotiator()

	r := httptest.NewRequest("GET", "/a/q1", nil)
	req, err := n.Negotiate(r, "127.0.0.1:1234")
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if req.Mode != ModeAsync {
		t.Errorf("Mode = %v, want ASYNC", req.Mode)
	}
	if req.QueryInfo.Qid != "q1" {
		t.Errorf("Qid = %q, want q1", req.QueryInfo.Qid)
	}
}

func TestNegotiateUnrecognizedModeTagIsBadRequest(t *testing.T) {
	n := newNegotiator()

	r := httptest.NewRequest("GET", "/z/q1", nil)
	_, err := n.Negotiate(r, "127.0.0.1:1234")
	if err == nil {
		t.Fatal("expected error for unrecognized single-letter mode tag")
	}
	be := asBridgeError(err)
	if be.Kind != KindBadRequest {
		t.Errorf("Kind = %v, want KindBadRequest", be.Kind)
	}
}

func TestNegotiateDefaultsToSubmitWithoutExplicitQid(t *testing.T) {
	n := newNegotiator()

	r := httptest.NewRequest("GET", "/", nil)
	req, err := n.Negotiate(r, "127.0.0.1:1234")
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if req.Mode != ModeSubmit {
		t.Errorf("Mode = %v, want SUBMIT", req.Mode)
	}
	if req.QueryInfo.Qid == "" {
		t.Error("expected a generated qid")
	}
}

func TestNegotiateDefaultsToDirectWithExplicitQid(t *testing.T) {
	n := newNegotiator()

	r := httptest.NewRequest("GET", "/q1", nil)
	req, err := n.Negotiate(r, "127.0.0.1:1234")
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if req.Mode != ModeDirect {
		t.Errorf("Mode = %v, want DIRECT", req.Mode)
	}
}

func TestNegotiateContextPrefixMismatchIsBadRequest(t *testing.T) {
	n := NewNegotiator("/bridge", wire.FormatCSV, wire.CompressionNone)

	r := httptest.NewRequest("GET", "/elsewhere/q1", nil)
	_, err := n.Negotiate(r, "127.0.0.1:1234")
	if err == nil {
		t.Fatal("expected error for path outside configured context")
	}
}

func TestNegotiatePostBodyIsQueryWhenNoParam(t *testing.T) {
	n := newNegotiator()

	body := strings.NewReader("SELECT 1")
	r := httptest.NewRequest("POST", "/q1", body)
	req, err := n.Negotiate(r, "127.0.0.1:1234")
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if req.QueryInfo.Query != "SELECT 1" {
		t.Errorf("Query = %q, want %q", req.QueryInfo.Query, "SELECT 1")
	}
}

func TestDecodeAuthorizationRoundTrips(t *testing.T) {
	for _, s := range []string{"simple-token", "unicode-🎉-token", ""} {
		encoded := base64.StdEncoding.EncodeToString([]byte(s))
		got := decodeAuthorization("Bearer " + encoded)
		if got != s {
			t.Errorf("decodeAuthorization round trip for %q: got %q", s, got)
		}
	}
}

func TestDecodeAuthorizationInvalidBase64KeptOpaque(t *testing.T) {
	got := decodeAuthorization("Bearer not-valid-base64!!!")
	if got != "not-valid-base64!!!" {
		t.Errorf("decodeAuthorization = %q, want raw value preserved", got)
	}
}

func TestDecodeAuthorizationWithoutBearerPrefix(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("token-value"))
	got := decodeAuthorization(encoded)
	if got != "token-value" {
		t.Errorf("decodeAuthorization = %q, want %q", got, "token-value")
	}
}

func TestParseTrailingSegmentVariants(t *testing.T) {
	cases := []struct {
		seg             string
		wantQid         string
		wantFormat      wire.Format
		wantCompression wire.Compression
		wantExplicit    bool
	}{
		{"q1", "q1", wire.FormatUnknown, wire.CompressionNone, true},
		{"q1.csv", "q1", wire.FormatCSV, wire.CompressionNone, true},
		{"q1.gz", "q1", wire.FormatUnknown, wire.CompressionGzip, true},
		{"q1.csv.gz", "q1", wire.FormatCSV, wire.CompressionGzip, true},
		{"", "", wire.FormatUnknown, wire.CompressionNone, false},
	}
	for _, c := range cases {
		qid, format, compression, explicit := parseTrailingSegment(c.seg)
		if qid != c.wantQid || format != c.wantFormat || compression != c.wantCompression || explicit != c.wantExplicit {
			t.Errorf("parseTrailingSegment(%q) = (%q, %v, %v, %v), want (%q, %v, %v, %v)",
				c.seg, qid, format, compression, explicit,
				c.wantQid, c.wantFormat, c.wantCompression, c.wantExplicit)
		}
	}
}
