package config

import (
	"fmt"

	"github.com/deepnoodle-ai/reflow"
	"github.com/deepnoodle-ai/reflow/cache"
	"github.com/deepnoodle-ai/reflow/controller"
	"github.com/deepnoodle-ai/reflow/journal"
	"github.com/deepnoodle-ai/reflow/log"
)

// BuildLogger creates the logger described by the configuration
func (c *Config) BuildLogger() log.Logger {
	return log.New(log.LevelFromString(c.LogLevel))
}

// BuildCache creates the result cache described by the configuration. It
// returns nil when caching is disabled.
func (c *Config) BuildCache(logger log.Logger) (*cache.Cache, error) {
	if !c.Cache.Enabled {
		return nil, nil
	}
	var store cache.EntryStore
	switch c.Cache.Backend {
	case "", "memory":
		store = cache.NewMemoryStore()
	case "file":
		store = cache.NewFileStore(c.Cache.Path)
	case "sqlite":
		s, err := cache.NewSQLiteStore(c.Cache.Path, cache.SQLiteStoreOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to open cache database: %w", err)
		}
		store = s
	default:
		return nil, fmt.Errorf("invalid cache backend: %s", c.Cache.Backend)
	}
	if c.Cache.LRUSize > 0 {
		wrapped, err := cache.NewLRUStore(store, c.Cache.LRUSize)
		if err != nil {
			return nil, err
		}
		store = wrapped
	}
	return cache.New(cache.Options{Store: store, Logger: logger})
}

// RetryOptions returns the transport retry options described by the
// configuration. Unset fields keep the runner's own defaults.
func (c *Config) RetryOptions() []controller.RetryOption {
	var opts []controller.RetryOption
	if c.Transport.MaxRetries > 0 {
		opts = append(opts, controller.WithMaxRetries(c.Transport.MaxRetries))
	}
	if c.Transport.BaseWait > 0 {
		opts = append(opts, controller.WithBaseWait(c.Transport.BaseWait))
	}
	if c.Transport.MaxWait > 0 {
		opts = append(opts, controller.WithMaxWait(c.Transport.MaxWait))
	}
	return opts
}

// BuildRunner wraps a runner with the configured transport retry behavior
func (c *Config) BuildRunner(inner reflow.Runner, logger log.Logger) *controller.RetryingRunner {
	opts := c.RetryOptions()
	if logger != nil {
		opts = append(opts, controller.WithRetryLogger(logger))
	}
	return controller.NewRetryingRunner(inner, opts...)
}

// BuildControllerOptions assembles controller options for one work item from
// the configuration: retry budget, transport-wrapped runner, cache, journal,
// and logger.
func (c *Config) BuildControllerOptions(item *reflow.WorkItem, runner reflow.Runner, handlers *controller.Registry) (controller.Options, error) {
	logger := c.BuildLogger()
	resultCache, err := c.BuildCache(logger)
	if err != nil {
		return controller.Options{}, err
	}
	store, err := c.BuildJournal()
	if err != nil {
		return controller.Options{}, err
	}
	return controller.Options{
		Item:       item,
		Runner:     c.BuildRunner(runner, logger),
		Handlers:   handlers,
		MaxRetries: c.MaxRetries,
		Cache:      resultCache,
		Journal:    store,
		Logger:     logger,
	}, nil
}

// BuildSweepOptions assembles sweep options from the configuration. The
// configured concurrency bounds the worker pool and every item shares the
// configured cache and journal.
func (c *Config) BuildSweepOptions(items []*reflow.WorkItem, runner reflow.Runner, handlers *controller.Registry) (controller.SweepOptions, error) {
	logger := c.BuildLogger()
	resultCache, err := c.BuildCache(logger)
	if err != nil {
		return controller.SweepOptions{}, err
	}
	store, err := c.BuildJournal()
	if err != nil {
		return controller.SweepOptions{}, err
	}
	return controller.SweepOptions{
		Items:       items,
		Runner:      c.BuildRunner(runner, logger),
		Handlers:    handlers,
		MaxRetries:  c.MaxRetries,
		Concurrency: c.Concurrency,
		Cache:       resultCache,
		Journal:     store,
		Logger:      logger,
	}, nil
}

// BuildJournal creates the run journal store described by the configuration
func (c *Config) BuildJournal() (journal.Store, error) {
	switch c.Journal.Backend {
	case "", "null":
		return journal.NewNullStore(), nil
	case "file":
		return journal.NewFileStore(c.Journal.Path), nil
	case "sqlite":
		store, err := journal.NewSQLiteStore(c.Journal.Path, journal.SQLiteStoreOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to open journal database: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("invalid journal backend: %s", c.Journal.Backend)
	}
}
