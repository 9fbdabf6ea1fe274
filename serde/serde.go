// Package serde implements the Serde collaborator spec.md treats as an
// external codec layer: encode(result, stream) / decode(stream) -> result
// for each wire.Format. Only the formats with a genuine open-source codec
// anywhere in the retrieved example pack get a real implementation; the
// rest are registered so format negotiation still resolves them, but
// Encode/Decode return ErrUnsupportedFormat.
package serde

import (
	"errors"
	"io"

	"github.com/queryhub/qbridge/executor"
	"github.com/queryhub/qbridge/wire"
)

// ErrUnsupportedFormat is returned by Encode/Decode for formats registered
// only for MIME/extension negotiation purposes.
var ErrUnsupportedFormat = errors.New("serde: unsupported wire format")

// Serde encodes a live Result to a stream, or decodes a stream back into
// row values (used by the few Serde implementations that also accept
// request bodies, e.g. VALUES for MUTATION parameter lists).
type Serde interface {
	// Encode writes every row of res to w, including a header/footer as the
	// format requires. Returns the row count written.
	Encode(w io.Writer, res *executor.Result) (int64, error)
	// Decode parses r into rows of the given column types.
	Decode(r io.Reader, columns []executor.Column) ([][]executor.Value, error)
}

// Registry maps a wire.Format to its Serde constructor, the direct
// analogue of the source's service-loader-discovered Serialization
// collaborator (spec.md §9).
type Registry struct {
	constructors map[wire.Format]func() Serde
}

// NewRegistry returns a Registry pre-populated with every format named in
// the wire format table; unsupported ones resolve to unsupportedSerde.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[wire.Format]func() Serde)}
	r.Register(wire.FormatCSV, func() Serde { return NewDelimited(',') })
	r.Register(wire.FormatTSV, func() Serde { return NewDelimited('\t') })
	r.Register(wire.FormatJSONL, func() Serde { return jsonlSerde{} })
	r.Register(wire.FormatNDJSON, func() Serde { return jsonlSerde{} })
	r.Register(wire.FormatJSON, func() Serde { return jsonSerde{} })
	r.Register(wire.FormatValues, func() Serde { return valuesSerde{} })
	for _, f := range []wire.Format{wire.FormatJSONSeq, wire.FormatXML, wire.FormatArrow, wire.FormatParquet, wire.FormatAvro, wire.FormatBSON} {
		r.Register(f, func() Serde { return unsupportedSerde{} })
	}
	return r
}

// Register binds format to a constructor, overwriting any existing entry.
func (r *Registry) Register(format wire.Format, ctor func() Serde) {
	r.constructors[format] = ctor
}

// Get constructs the Serde for format. ok is false for a format with no
// registered constructor at all (as opposed to one registered-unsupported,
// which still returns a usable Serde whose methods return
// ErrUnsupportedFormat).
func (r *Registry) Get(format wire.Format) (Serde, bool) {
	ctor, ok := r.constructors[format]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

type unsupportedSerde struct{}

func (unsupportedSerde) Encode(w io.Writer, res *executor.Result) (int64, error) {
	return 0, ErrUnsupportedFormat
}

func (unsupportedSerde) Decode(r io.Reader, columns []executor.Column) ([][]executor.Value, error) {
	return nil, ErrUnsupportedFormat
}
