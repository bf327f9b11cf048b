// Package compress produces compressed copies of log artifacts and manages
// their lifetime on disk.
package compress

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/qa-agent/logexplain/pkg/config"
	"github.com/qa-agent/logexplain/pkg/models"
)

// Compressor compresses text with a single configured codec.
type Compressor struct {
	codec Codec
	log   *zap.Logger
}

// New builds a Compressor from configuration.
func New(cfg config.CompressConfig, log *zap.Logger) (*Compressor, error) {
	codec, err := NewCodec(cfg.Codec, cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Compressor{codec: codec, log: log}, nil
}

// NewWithCodec builds a Compressor around an existing codec.
func NewWithCodec(codec Codec, log *zap.Logger) *Compressor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compressor{codec: codec, log: log}
}

// Codec returns the codec in use.
func (c *Compressor) Codec() Codec { return c.codec }

// Compress encodes text.
func (c *Compressor) Compress(text string) ([]byte, error) {
	out, err := c.codec.Encode([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("%s compress: %w", c.codec.Name(), err)
	}
	return out, nil
}

// Decompress decodes data produced by Compress. Invalid input yields
// models.ErrDecode.
func (c *Compressor) Decompress(data []byte) (string, error) {
	out, err := c.codec.Decode(data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", models.ErrDecode, c.codec.Name(), err)
	}
	return string(out), nil
}

// CompressAndSave writes the compressed form of text to path.
func (c *Compressor) CompressAndSave(text, path string) error {
	data, err := c.Compress(text)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", models.ErrIO, path, err)
	}
	return nil
}

// ReadAndDecompress reads path and decodes its contents.
func (c *Compressor) ReadAndDecompress(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", models.ErrIO, path, err)
	}
	return c.Decompress(data)
}
