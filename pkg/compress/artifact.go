package compress

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/qa-agent/logexplain/pkg/models"
)

// Artifact is a compressed copy of a source file that exists on disk until
// Release is called.
type Artifact struct {
	Path string
	Size int64

	once sync.Once
	err  error
}

// Acquire compresses text and writes it to sourcePath plus the codec suffix.
// An existing file at that name is left alone and the artifact gets a unique
// sibling name instead. Nothing is left on disk when Acquire fails.
func (c *Compressor) Acquire(text, sourcePath string) (*Artifact, error) {
	data, err := c.Compress(text)
	if err != nil {
		return nil, err
	}
	f, err := createArtifact(sourcePath, c.codec.Suffix())
	if err != nil {
		return nil, fmt.Errorf("%w: create artifact for %s: %v", models.ErrIO, sourcePath, err)
	}
	path := f.Name()
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: write %s: %v", models.ErrIO, path, err)
	}
	c.log.Debug("compressed artifact created",
		zap.String("path", path),
		zap.Int("original_bytes", len(text)),
		zap.Int("compressed_bytes", len(data)))
	return &Artifact{Path: path, Size: int64(len(data))}, nil
}

// createArtifact creates sourcePath+suffix, falling back to
// "<base>.<random><suffix>" in the same directory when that name is taken.
func createArtifact(sourcePath, suffix string) (*os.File, error) {
	f, err := os.OpenFile(sourcePath+suffix, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil || !errors.Is(err, fs.ErrExist) {
		return f, err
	}
	return os.CreateTemp(filepath.Dir(sourcePath), filepath.Base(sourcePath)+".*"+suffix)
}

// Release removes the artifact. It is safe to call more than once and
// succeeds when the file is already gone.
func (a *Artifact) Release() error {
	if a == nil {
		return nil
	}
	a.once.Do(func() {
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.err = fmt.Errorf("%w: remove %s: %v", models.ErrIO, a.Path, err)
		}
	})
	return a.err
}

// With acquires an artifact, runs fn, and releases the artifact on every
// exit path, including a panic in fn. fn's error takes precedence over a
// release failure, which is only logged.
func (c *Compressor) With(text, sourcePath string, fn func(*Artifact) error) error {
	a, err := c.Acquire(text, sourcePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Release(); err != nil {
			c.log.Warn("failed to release compressed artifact", zap.String("path", a.Path), zap.Error(err))
		} else {
			c.log.Debug("compressed artifact released", zap.String("path", a.Path))
		}
	}()
	return fn(a)
}
