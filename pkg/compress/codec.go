package compress

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec is a whole-buffer compression format.
type Codec interface {
	Name() string
	// Suffix is appended to a source path to name its compressed artifact.
	Suffix() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// NewCodec returns the codec registered under name. Level is interpreted
// per codec: gzip 1-9, zstd 1-22, brotli 0-11. Out-of-range levels are
// clamped for zstd and brotli; gzip rejects them.
func NewCodec(name string, level int) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "gzip":
		if level == 0 {
			level = gzip.DefaultCompression
		}
		if level != gzip.DefaultCompression && (level < gzip.BestSpeed || level > gzip.BestCompression) {
			return nil, fmt.Errorf("gzip level must be 1-9, got %d", level)
		}
		return gzipCodec{level: level}, nil
	case "zstd":
		return zstdCodec{level: zstd.EncoderLevelFromZstd(level)}, nil
	case "brotli":
		return brotliCodec{level: clamp(level, brotli.BestSpeed, brotli.BestCompression)}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// CodecForPath picks a codec from a file suffix, for reading artifacts
// produced with any configured codec.
func CodecForPath(path string) (Codec, bool) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return gzipCodec{level: gzip.DefaultCompression}, true
	case strings.HasSuffix(path, ".zst"):
		return zstdCodec{level: zstd.SpeedDefault}, true
	case strings.HasSuffix(path, ".br"):
		return brotliCodec{level: brotli.DefaultCompression}, true
	}
	return nil, false
}

type gzipCodec struct{ level int }

func (gzipCodec) Name() string   { return "gzip" }
func (gzipCodec) Suffix() string { return ".gz" }

func (c gzipCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decode(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type zstdCodec struct{ level zstd.EncoderLevel }

func (zstdCodec) Name() string   { return "zstd" }
func (zstdCodec) Suffix() string { return ".zst" }

func (c zstdCodec) Encode(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

func (zstdCodec) Decode(src []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(src, nil)
}

type brotliCodec struct{ level int }

func (brotliCodec) Name() string   { return "brotli" }
func (brotliCodec) Suffix() string { return ".br" }

func (c brotliCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, c.level)
	if _, err := w.Write(src); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (brotliCodec) Decode(src []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(src)))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
