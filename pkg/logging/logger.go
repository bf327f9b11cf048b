package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/qa-agent/logexplain/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// stderr is swapped in tests.
var stderr = func() io.Writer { return os.Stderr }

// New builds a zap logger from cfg. Every message and string field passes
// through Sanitize before it reaches a sink.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	var enc zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "console", "":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	case "json":
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", cfg.Format)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(stderr())), level)}
	if cfg.File != "" {
		sink, _, err := zap.Open(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", cfg.File, err)
		}
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEnc, sink, level))
	}

	return zap.New(WrapCore(zapcore.NewTee(cores...)), zap.AddCaller()).
		With(zap.String("component", "logexplain")), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// WrapCore returns a core that sanitizes entries before delegating to core.
func WrapCore(core zapcore.Core) zapcore.Core {
	return sanitizingCore{Core: core}
}

type sanitizingCore struct {
	zapcore.Core
}

func (c sanitizingCore) With(fields []zapcore.Field) zapcore.Core {
	return sanitizingCore{Core: c.Core.With(sanitizeFields(fields))}
}

func (c sanitizingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c sanitizingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = Sanitize(ent.Message)
	ent.Stack = Sanitize(ent.Stack)
	return c.Core.Write(ent, sanitizeFields(fields))
}

func sanitizeFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			f.String = Sanitize(f.String)
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok && err != nil {
				f = zap.String(f.Key, Sanitize(err.Error()))
			}
		case zapcore.StringerType:
			if s, ok := f.Interface.(fmt.Stringer); ok && s != nil {
				f = zap.String(f.Key, Sanitize(s.String()))
			}
		}
		out[i] = f
	}
	return out
}
