// Package compression encodes payloads with a selectable codec. Every codec
// produces a self-describing stream format, so files written with it can be
// read back by the codec's standard command line tools.
//
//	c, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Zstd,
//	    Level:     compression.Better,
//	})
//	packed, err := c.Compress(data)
//	name := "batch-00001.csv" + c.Extension()
package compression

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/pool"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None stores data as is
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents framed snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2}

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

// Compressor compresses and decompresses whole payloads. Implementations are
// safe for concurrent use.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	// Extension is the file name suffix for compressed output, e.g. ".zst".
	Extension() string
	// ContentEncoding names the encoding for object metadata.
	ContentEncoding() string
	Algorithm() Algorithm
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm `yaml:"algorithm"`
	Level     Level     `yaml:"level"`
}

// DefaultConfig returns gzip at the default level.
func DefaultConfig() *Config {
	return &Config{Algorithm: Gzip, Level: Default}
}

// Valid reports whether a is a supported algorithm. The empty string means
// None.
func Valid(a Algorithm) bool {
	if a == "" {
		return true
	}
	for _, known := range Algorithms {
		if a == known {
			return true
		}
	}
	return false
}

// NewCompressor creates a compressor for config. A nil config selects
// DefaultConfig.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Algorithm {
	case None, "":
		return noneCompressor{}, nil
	case Gzip:
		return newGzipCompressor(config.Level), nil
	case Snappy:
		return streamCompressor{
			algorithm: Snappy,
			ext:       ".sz",
			writer:    func(w io.Writer) io.WriteCloser { return snappy.NewBufferedWriter(w) },
			reader:    func(r io.Reader) (io.Reader, error) { return snappy.NewReader(r), nil },
		}, nil
	case S2:
		return streamCompressor{
			algorithm: S2,
			ext:       ".s2",
			writer:    func(w io.Writer) io.WriteCloser { return s2.NewWriter(w) },
			reader:    func(r io.Reader) (io.Reader, error) { return s2.NewReader(r), nil },
		}, nil
	case LZ4:
		level := mapLZ4Level(config.Level)
		return streamCompressor{
			algorithm: LZ4,
			ext:       ".lz4",
			writer: func(w io.Writer) io.WriteCloser {
				zw := lz4.NewWriter(w)
				_ = zw.Apply(lz4.CompressionLevelOption(level))
				return zw
			},
			reader: func(r io.Reader) (io.Reader, error) { return lz4.NewReader(r), nil },
		}, nil
	case Zstd:
		return newZstdCompressor(config.Level)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", config.Algorithm)
	}
}

type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noneCompressor) Extension() string                      { return "" }
func (noneCompressor) ContentEncoding() string                { return "" }
func (noneCompressor) Algorithm() Algorithm                   { return None }

// Gzip compressor
type gzipCompressor struct {
	writers *pool.Pool[*gzip.Writer]
}

func newGzipCompressor(level Level) *gzipCompressor {
	gzLevel := mapGzipLevel(level)
	return &gzipCompressor{
		writers: pool.New(
			func() *gzip.Writer {
				w, _ := gzip.NewWriterLevel(io.Discard, gzLevel)
				return w
			},
			func(w *gzip.Writer) { w.Reset(io.Discard) },
		),
	}
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gc.writers.Get()
	defer gc.writers.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (gc *gzipCompressor) Extension() string       { return ".gz" }
func (gc *gzipCompressor) ContentEncoding() string { return "gzip" }
func (gc *gzipCompressor) Algorithm() Algorithm    { return Gzip }

// streamCompressor adapts codecs that only offer framed stream writers.
type streamCompressor struct {
	algorithm Algorithm
	ext       string
	writer    func(io.Writer) io.WriteCloser
	reader    func(io.Reader) (io.Reader, error)
}

func (sc streamCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := sc.writer(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (sc streamCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := sc.reader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (sc streamCompressor) Extension() string       { return sc.ext }
func (sc streamCompressor) ContentEncoding() string { return string(sc.algorithm) }
func (sc streamCompressor) Algorithm() Algorithm    { return sc.algorithm }

// Zstd compressor. EncodeAll and DecodeAll are safe for concurrent use, so
// one encoder and one decoder serve every caller.
type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCompressor(level Level) (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(mapZstdLevel(level)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create zstd decoder")
	}
	return &zstdCompressor{encoder: enc, decoder: dec}, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return zc.encoder.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	return zc.decoder.DecodeAll(data, nil)
}

func (zc *zstdCompressor) Extension() string       { return ".zst" }
func (zc *zstdCompressor) ContentEncoding() string { return "zstd" }
func (zc *zstdCompressor) Algorithm() Algorithm    { return Zstd }

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
