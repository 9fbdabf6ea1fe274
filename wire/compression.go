package wire

import (
	"bytes"
	"compress/bzip2"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
)

// Compression identifies a wire-level content-coding.
type Compression string

const (
	CompressionNone    Compression = "NONE"
	CompressionGzip    Compression = "GZIP"
	CompressionDeflate Compression = "DEFLATE"
	CompressionBzip2   Compression = "BZIP2"
	CompressionXZ      Compression = "XZ"
	CompressionLZ4     Compression = "LZ4"
	CompressionZstd    Compression = "ZSTD"
	CompressionSnappy  Compression = "SNAPPY"
	CompressionBrotli  Compression = "BROTLI"
)

// ErrUnsupportedCompression is returned by NewWriter/NewReader for XZ and
// BROTLI, which are registered only for negotiation/detection purposes (no
// encoder/decoder library was found anywhere in the retrieved example pack
// for these two codecs — see DESIGN.md), and by NewWriter for BZIP2, which
// can be decoded but not encoded.
var ErrUnsupportedCompression = errors.New("wire: unsupported compression codec")

type compressionInfo struct {
	compression Compression
	mime        string
	encoding    string
	ext         string
	magic       []byte
}

var compressionTable = []compressionInfo{
	{CompressionNone, "", "identity", "", nil},
	{CompressionGzip, "application/gzip", "gzip", "gz", []byte{0x1f, 0x8b}},
	{CompressionDeflate, "application/zlib", "deflate", "zz", nil},
	{CompressionBzip2, "application/x-bzip2", "bzip2", "bz2", []byte{'B', 'Z', 'h'}},
	{CompressionXZ, "application/x-xz", "xz", "xz", []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{CompressionLZ4, "application/x-lz4", "lz4", "lz4", []byte{0x04, 0x22, 0x4d, 0x18}},
	{CompressionZstd, "application/zstd", "zstd", "zst", []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{CompressionSnappy, "application/x-snappy", "snappy", "sz", nil},
	{CompressionBrotli, "application/x-brotli", "br", "br", nil},
}

func (c Compression) MimeType() string {
	for _, ci := range compressionTable {
		if ci.compression == c {
			return ci.mime
		}
	}
	return ""
}

// Encoding returns the Content-Encoding / Accept-Encoding token for c.
func (c Compression) Encoding() string {
	for _, ci := range compressionTable {
		if ci.compression == c {
			return ci.encoding
		}
	}
	return ""
}

func (c Compression) Ext() string {
	for _, ci := range compressionTable {
		if ci.compression == c {
			return ci.ext
		}
	}
	return ""
}

func (c Compression) Valid() bool {
	for _, ci := range compressionTable {
		if ci.compression == c {
			return true
		}
	}
	return false
}

// CompressionByExt resolves a bare file extension to a Compression.
func CompressionByExt(ext string) (Compression, bool) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, ci := range compressionTable {
		if ci.ext != "" && ci.ext == ext {
			return ci.compression, true
		}
	}
	return CompressionNone, false
}

// CompressionByEncoding resolves a single Accept-Encoding/Content-Encoding
// token (no quality suffix) to a Compression.
func CompressionByEncoding(token string) (Compression, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "identity" {
		return CompressionNone, true
	}
	for _, ci := range compressionTable {
		if ci.encoding == token {
			return ci.compression, true
		}
	}
	return CompressionNone, false
}

// ByMagic sniffs the compression of data by its leading magic bytes.
func ByMagic(data []byte) (Compression, bool) {
	for _, ci := range compressionTable {
		if len(ci.magic) > 0 && bytes.HasPrefix(data, ci.magic) {
			return ci.compression, true
		}
	}
	return CompressionNone, false
}

type qValue struct {
	token   string
	quality float64
}

// ParseAcceptEncoding picks the highest-quality compression from an
// Accept-Encoding header, defaulting to GZIP when the wildcard "*" is the
// best-quality entry (spec.md §6.2), or NONE for "identity" or an empty
// header.
func ParseAcceptEncoding(header string) Compression {
	header = strings.TrimSpace(header)
	if header == "" {
		return CompressionNone
	}

	values := make([]qValue, 0, 4)
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		token := part
		quality := 1.0
		if semi := strings.IndexByte(part, ';'); semi >= 0 {
			token = strings.TrimSpace(part[:semi])
			params := part[semi+1:]
			for _, p := range strings.Split(params, ";") {
				p = strings.TrimSpace(p)
				if q, ok := strings.CutPrefix(p, "q="); ok {
					if v, err := strconv.ParseFloat(strings.TrimSpace(q), 64); err == nil {
						quality = v
					}
				}
			}
		}
		values = append(values, qValue{token: strings.ToLower(token), quality: quality})
	}

	sort.SliceStable(values, func(i, j int) bool { return values[i].quality > values[j].quality })

	for _, v := range values {
		if v.quality <= 0 {
			continue
		}
		if v.token == "identity" {
			return CompressionNone
		}
		if v.token == "*" {
			return CompressionGzip
		}
		if c, ok := CompressionByEncoding(v.token); ok {
			return c
		}
	}
	return CompressionNone
}

// NewWriter wraps w so that bytes written through it are compressed
// according to c. Every codec runs at its library's default level.
func NewWriter(c Compression, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionNone, "":
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionDeflate:
		return flate.NewWriter(w, flate.DefaultCompression)
	case CompressionZstd:
		return zstd.NewWriter(w)
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionSnappy:
		return snappy.NewBufferedWriter(w), nil
	case CompressionBzip2, CompressionXZ, CompressionBrotli:
		return nil, ErrUnsupportedCompression
	default:
		return nil, ErrUnsupportedCompression
	}
}

// NewReader wraps r so that bytes read through it are decompressed
// according to c.
func NewReader(c Compression, r io.Reader) (io.Reader, error) {
	switch c {
	case CompressionNone, "":
		return r, nil
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionDeflate:
		return flate.NewReader(r), nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case CompressionLZ4:
		return lz4.NewReader(r), nil
	case CompressionSnappy:
		return snappy.NewReader(r), nil
	case CompressionBzip2:
		return bzip2.NewReader(r), nil
	case CompressionXZ, CompressionBrotli:
		return nil, ErrUnsupportedCompression
	default:
		return nil, ErrUnsupportedCompression
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
