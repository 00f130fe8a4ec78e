package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deepnoodle-ai/reflow"
	"github.com/deepnoodle-ai/reflow/controller"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, 5, c.MaxRetries)
	require.Equal(t, "info", c.LogLevel)
	require.True(t, c.Cache.Enabled)
	require.Equal(t, "memory", c.Cache.Backend)
	require.Equal(t, "file", c.Journal.Backend)
	require.NotEmpty(t, c.Journal.Path)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reflow.yaml")
	content := `
max_retries: 3
log_level: debug
transport:
  max_retries: 2
  base_wait: 500ms
cache:
  enabled: true
  backend: sqlite
  path: /tmp/cache.db
journal:
  backend: "null"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, c.MaxRetries)
	require.Equal(t, "debug", c.LogLevel)
	require.Equal(t, 2, c.Transport.MaxRetries)
	require.Equal(t, 500*time.Millisecond, c.Transport.BaseWait)
	require.Equal(t, "sqlite", c.Cache.Backend)
	require.Equal(t, "/tmp/cache.db", c.Cache.Path)
	require.Equal(t, "null", c.Journal.Backend)

	// Unset fields keep their defaults
	require.Equal(t, 4, c.Concurrency)
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reflow.json")
	content := `{"max_retries": 7, "log_level": "warn"}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, c.MaxRetries)
	require.Equal(t, "warn", c.LogLevel)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reflow.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported file extension")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "negative max retries",
			mutate:  func(c *Config) { c.MaxRetries = -1 },
			wantErr: "max_retries",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad cache backend",
			mutate:  func(c *Config) { c.Cache.Backend = "redis" },
			wantErr: "invalid cache backend",
		},
		{
			name:    "file cache without path",
			mutate:  func(c *Config) { c.Cache.Backend = "file"; c.Cache.Path = "" },
			wantErr: "requires a path",
		},
		{
			name:    "bad journal backend",
			mutate:  func(c *Config) { c.Journal.Backend = "kafka" },
			wantErr: "invalid journal backend",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")

	c := Default()
	c.MaxRetries = 9
	c.Cache.Backend = "file"
	c.Cache.Path = filepath.Join(dir, "cache")
	require.NoError(t, c.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9, loaded.MaxRetries)
	require.Equal(t, "file", loaded.Cache.Backend)
}

func TestBuildCacheDisabled(t *testing.T) {
	c := Default()
	c.Cache.Enabled = false
	built, err := c.BuildCache(nil)
	require.NoError(t, err)
	require.Nil(t, built)
}

func TestBuildJournalNull(t *testing.T) {
	c := Default()
	c.Journal.Backend = "null"
	store, err := c.BuildJournal()
	require.NoError(t, err)
	require.NotNil(t, store)
}

func TestBuildRunnerAppliesTransportConfig(t *testing.T) {
	c := Default()
	c.Transport.MaxRetries = 2
	c.Transport.BaseWait = time.Millisecond
	c.Transport.MaxWait = 2 * time.Millisecond

	calls := 0
	inner := reflow.RunnerFunc(func(ctx context.Context, item *reflow.WorkItem) (*reflow.TerminationSignal, error) {
		calls++
		return nil, &reflow.TransportError{Err: fmt.Errorf("scheduler unreachable")}
	})

	runner := c.BuildRunner(inner, nil)
	_, err := runner.Run(context.Background(), &reflow.WorkItem{
		Name:   "relax-si",
		Inputs: map[string]any{"kpoints": 8},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, reflow.ErrTransportExhausted)
	require.Equal(t, 2, calls, "configured transport budget must bound the attempts")
}

func TestRetryOptionsSkipUnsetFields(t *testing.T) {
	c := Default()
	c.Transport = TransportConfig{}
	require.Empty(t, c.RetryOptions())

	c.Transport.MaxRetries = 4
	require.Len(t, c.RetryOptions(), 1)
}

func TestBuildControllerOptions(t *testing.T) {
	c := Default()
	c.MaxRetries = 9
	c.LogLevel = "error"
	c.Cache.Backend = "memory"
	c.Journal.Backend = "null"

	item := &reflow.WorkItem{Name: "relax-si", Inputs: map[string]any{"kpoints": 8}}
	runner := reflow.RunnerFunc(func(ctx context.Context, item *reflow.WorkItem) (*reflow.TerminationSignal, error) {
		return &reflow.TerminationSignal{Status: reflow.StatusOK}, nil
	})
	handlers := controller.NewRegistry()

	opts, err := c.BuildControllerOptions(item, runner, handlers)
	require.NoError(t, err)
	require.Equal(t, item, opts.Item)
	require.Equal(t, 9, opts.MaxRetries)
	require.Same(t, handlers, opts.Handlers)
	require.NotNil(t, opts.Cache)
	require.NotNil(t, opts.Journal)
	require.NotNil(t, opts.Logger)
	require.IsType(t, &controller.RetryingRunner{}, opts.Runner)

	ctrl, err := controller.New(opts)
	require.NoError(t, err)
	signal, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	require.True(t, signal.OK())
}

func TestBuildSweepOptions(t *testing.T) {
	c := Default()
	c.MaxRetries = 2
	c.Concurrency = 3
	c.LogLevel = "error"
	c.Cache.Backend = "memory"
	c.Journal.Backend = "null"

	items := []*reflow.WorkItem{
		{Name: "eos-1", Inputs: map[string]any{"scale": 0.98}},
		{Name: "eos-2", Inputs: map[string]any{"scale": 1.02}},
	}
	runner := reflow.RunnerFunc(func(ctx context.Context, item *reflow.WorkItem) (*reflow.TerminationSignal, error) {
		return &reflow.TerminationSignal{Status: reflow.StatusOK}, nil
	})

	opts, err := c.BuildSweepOptions(items, runner, controller.NewRegistry())
	require.NoError(t, err)
	require.Equal(t, 2, opts.MaxRetries)
	require.Equal(t, 3, opts.Concurrency)
	require.NotNil(t, opts.Cache)

	result, err := controller.RunSweep(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, result.Signals, 2)
	require.Empty(t, result.Errors)
}
