package archive

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names, matching the configuration values
const (
	None = "none"
	Gzip = "gzip"
	LZ4  = "lz4"
	Zstd = "zstd"
)

// Codec streams data through one compression algorithm
type Codec interface {
	Name() string
	// Extension is appended to artifact names, without the leading dot. Empty for None.
	Extension() string
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
	DefaultLevel() int
	MinLevel() int
	MaxLevel() int
}

// Registry holds the codecs available for artifacts
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry creates a registry with every supported codec
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	for _, c := range []Codec{noneCodec{}, gzipCodec{}, lz4Codec{}, zstdCodec{}} {
		r.codecs[c.Name()] = c
	}
	return r
}

var defaultRegistry = NewRegistry()

// Lookup returns the codec registered under name
func Lookup(name string) (Codec, error) {
	return defaultRegistry.Get(name)
}

// FromExtension returns the codec whose extension ends the file name, or None
func FromExtension(filename string) Codec {
	return defaultRegistry.FromExtension(filename)
}

// Get returns the codec registered under name
func (r *Registry) Get(name string) (Codec, error) {
	if name == "" {
		name = None
	}
	c, ok := r.codecs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", name)
	}
	return c, nil
}

// FromExtension returns the codec whose extension ends the file name, or None
func (r *Registry) FromExtension(filename string) Codec {
	for _, c := range r.codecs {
		if ext := c.Extension(); ext != "" && strings.HasSuffix(filename, "."+ext) {
			return c
		}
	}
	return r.codecs[None]
}

func clampLevel(c Codec, level int) int {
	if level < c.MinLevel() || level > c.MaxLevel() {
		return c.DefaultLevel()
	}
	return level
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type noneCodec struct{}

func (noneCodec) Name() string      { return None }
func (noneCodec) Extension() string { return "" }
func (noneCodec) DefaultLevel() int { return 0 }
func (noneCodec) MinLevel() int     { return 0 }
func (noneCodec) MaxLevel() int     { return 0 }

func (noneCodec) NewWriter(w io.Writer, _ int) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noneCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type gzipCodec struct{}

func (gzipCodec) Name() string      { return Gzip }
func (gzipCodec) Extension() string { return "gz" }
func (gzipCodec) DefaultLevel() int { return gzip.DefaultCompression }
func (gzipCodec) MinLevel() int     { return gzip.BestSpeed }
func (gzipCodec) MaxLevel() int     { return gzip.BestCompression }

func (c gzipCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	gw, err := gzip.NewWriterLevel(w, clampLevel(c, level))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	return gw, nil
}

func (gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return gr, nil
}

type lz4Codec struct{}

func (lz4Codec) Name() string      { return LZ4 }
func (lz4Codec) Extension() string { return "lz4" }
func (lz4Codec) DefaultLevel() int { return 1 }
func (lz4Codec) MinLevel() int     { return 1 }
func (lz4Codec) MaxLevel() int     { return 9 }

func (c lz4Codec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	lw := lz4.NewWriter(w)
	if lvl, ok := lz4Levels[clampLevel(c, level)]; ok {
		if err := lw.Apply(lz4.CompressionLevelOption(lvl)); err != nil {
			return nil, fmt.Errorf("failed to set lz4 level: %w", err)
		}
	}
	return lw, nil
}

// level 1 keeps the fast default
var lz4Levels = map[int]lz4.CompressionLevel{
	2: lz4.Level2,
	3: lz4.Level3,
	4: lz4.Level4,
	5: lz4.Level5,
	6: lz4.Level6,
	7: lz4.Level7,
	8: lz4.Level8,
	9: lz4.Level9,
}

func (lz4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

type zstdCodec struct{}

func (zstdCodec) Name() string      { return Zstd }
func (zstdCodec) Extension() string { return "zst" }
func (zstdCodec) DefaultLevel() int { return 3 }
func (zstdCodec) MinLevel() int     { return 1 }
func (zstdCodec) MaxLevel() int     { return 22 }

func (c zstdCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(clampLevel(c, level))))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return enc, nil
}

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return dec.IOReadCloser(), nil
}
