package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/queryhub/qbridge/executor"
	"github.com/queryhub/qbridge/log"
	"github.com/queryhub/qbridge/serde"
	"github.com/queryhub/qbridge/wire"
)

// ResponseWriter implements the Response Writer collaborator from
// spec.md §4.7: header sequencing, compression wrapping, and the
// partial-failure policy, grounded on the teacher's
// io.go:RespondWithData/statResponseWriter (header latching before the
// first byte) and cachedWriter.go (has-the-stream-been-opened tracking).
type ResponseWriter struct {
	serdes *serde.Registry
}

// NewResponseWriter builds a ResponseWriter bound to reg.
func NewResponseWriter(reg *serde.Registry) *ResponseWriter {
	return &ResponseWriter{serdes: reg}
}

// WriteResult streams res through w, encoded per format/compression. By
// the time this is called the caller already knows res is a live,
// successfully-acquired result. A format with no registered Serde is
// reported before any header is written; every later failure comes after
// the 200 header and therefore truncates the connection rather than
// switching to a 500, per spec.md §4.7's partial-failure policy.
func (rw *ResponseWriter) WriteResult(w http.ResponseWriter, format wire.Format, compression wire.Compression, res *executor.Result) error {
	sd, ok := rw.serdes.Get(format)
	if !ok {
		return transportError(fmt.Errorf("no serde registered for format %s", format))
	}

	rw.writeHeaders(w, format, compression)

	wrapped, err := wire.NewWriter(compression, w)
	if err != nil {
		return transportError(err)
	}

	activeStreams.Inc()
	defer activeStreams.Dec()

	_, encErr := sd.Encode(wrapped, res)
	closeErr := wrapped.Close()
	if encErr != nil {
		log.Errorf("response writer: encode: %s (stream truncated)", encErr)
		return transportError(encErr)
	}
	if closeErr != nil {
		log.Errorf("response writer: close compressor: %s (stream truncated)", closeErr)
		return transportError(closeErr)
	}
	return nil
}

// WriteUpdateCount writes a MUTATION result's affected-row count as a
// plain-text body; update counts have no column schema for Serde to
// encode against, so they bypass the Serde registry entirely (spec.md
// §4.6 MUTATION response, decided in DESIGN.md since the source format is
// silent on the exact encoding of a bare integer).
func (rw *ResponseWriter) WriteUpdateCount(w http.ResponseWriter, res *executor.Result) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Accept-Ranges", "none")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	_, err := fmt.Fprintf(w, "%d\n", res.RowsAffected)
	if err != nil {
		log.Errorf("response writer: write update count: %s", err)
		return transportError(err)
	}
	return nil
}

func (rw *ResponseWriter) writeHeaders(w http.ResponseWriter, format wire.Format, compression wire.Compression) {
	h := w.Header()
	h.Set("Content-Type", format.MimeType())
	if compression != wire.CompressionNone {
		h.Set("Content-Encoding", compression.Encoding())
	}
	h.Set("Accept-Ranges", "none")
	h.Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
}

// writePlainText writes a text/plain body with the given status, used by
// SUBMIT/ASYNC (result URL), writeError, and the admin `config`/`error`
// endpoints.
func writePlainText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// writeError renders a bridgeError as a plain-text body with the Kind's
// status code, for the "failure before the stream opened" branch of
// spec.md §4.7/§7.
func writeError(w http.ResponseWriter, err *bridgeError) {
	if err.Kind == KindConflict {
		w.WriteHeader(err.Kind.StatusCode())
		return
	}
	writePlainText(w, err.Kind.StatusCode(), err.Error()+"\n")
}
