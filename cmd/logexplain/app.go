package main

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/qa-agent/logexplain/pkg/cache"
	"github.com/qa-agent/logexplain/pkg/cache/file"
	cachesqlite "github.com/qa-agent/logexplain/pkg/cache/sqlite"
	"github.com/qa-agent/logexplain/pkg/cache/valkey"
	"github.com/qa-agent/logexplain/pkg/config"
	"github.com/qa-agent/logexplain/pkg/interaction"
	"github.com/qa-agent/logexplain/pkg/logging"
	"github.com/qa-agent/logexplain/pkg/metrics"
	"github.com/qa-agent/logexplain/pkg/runlog"
)

// app holds the long-lived collaborators of a command. Close releases them
// in reverse order of opening.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Recorder
	closers []func() error
}

func newApp(opts *rootOptions) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewRecorder(prometheus.NewRegistry()),
	}
	a.onClose(func() error {
		_ = log.Sync()
		return nil
	})
	return a, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStore builds the persistent cache tier selected by cache.backend.
func openStore(cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case "", "file":
		return file.New(cfg.Dir)
	case "sqlite":
		return cachesqlite.New(cfg.DBPath)
	case "valkey":
		return valkey.New(cfg.Valkey)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func (a *app) openCache() (*cache.Cache, error) {
	store, err := openStore(a.cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", a.cfg.Cache.Backend, err)
	}
	c, err := cache.New(store,
		cache.WithLogger(a.log.Named("cache")),
		cache.WithMetrics(a.metrics),
		cache.WithDefaultTTL(a.cfg.Gateway.CacheTTL),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.onClose(c.Close)
	return c, nil
}

func (a *app) openRepository() (*interaction.SQLRepository, error) {
	repo, err := interaction.Open(a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open interaction store: %w", err)
	}
	a.onClose(repo.Close)
	return repo, nil
}

// openJournal returns nil when the run journal is disabled.
func (a *app) openJournal() (*runlog.Journal, error) {
	if !a.cfg.RunLog.Enabled {
		return nil, nil
	}
	j, err := runlog.New(a.cfg.RunLog)
	if err != nil {
		return nil, fmt.Errorf("open run journal: %w", err)
	}
	a.onClose(j.Close)
	return j, nil
}
