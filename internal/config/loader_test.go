package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/cochange/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".cochange.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultSourceKind, cfg.Source.Kind)
	assert.Equal(t, config.DefaultSourcePath, cfg.Source.Path)
	assert.Equal(t, config.DefaultSourceTimeout, cfg.Source.Timeout)
	assert.Equal(t, config.DefaultWeighting, cfg.Build.Weighting)
	assert.Equal(t, config.DefaultFetchWorkers, cfg.Build.FetchWorkers)
	assert.True(t, cfg.Build.SkipVendored)
	assert.Empty(t, cfg.Build.Include)
	assert.Equal(t, config.DefaultOutputPath, cfg.Output.Path)
	assert.Equal(t, config.DefaultOutputFormat, cfg.Output.Format)
	assert.Equal(t, config.DefaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, config.DefaultServerWorkers, cfg.Server.Workers)
	assert.Equal(t, config.DefaultServerWriteTimeout, cfg.Server.WriteTimeout)
	assert.InDelta(t, config.DefaultSampleRatio, cfg.Telemetry.SampleRatio, 1e-9)
	assert.Empty(t, cfg.Source.Token)
}

func TestLoadConfig_FileValues(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")

	cfg, err := config.LoadConfig(writeConfig(t, `source:
  kind: github
  repo: acme/widgets
  state: all
  detail: commits
  max_changesets: 500
  timeout: 1m
build:
  weighting: subchange
  fetch_workers: 8
  max_changeset_files: 300
  include: ["**/*.go"]
  exclude: ["vendor/**"]
output:
  path: out/graph.yaml.lz4
  format: yaml
  compress: true
  sqlite: out/graph.db
server:
  workers: 2
  read_timeout: 3s
logging:
  level: debug
  json: true
telemetry:
  otlp_endpoint: localhost:4317
  sample_ratio: 0.25
`))
	require.NoError(t, err)

	assert.Equal(t, "github", cfg.Source.Kind)
	assert.Equal(t, "acme/widgets", cfg.Source.Repo)
	assert.Equal(t, "commits", cfg.Source.Detail)
	assert.Equal(t, 500, cfg.Source.MaxChangeSets)
	assert.Equal(t, time.Minute, cfg.Source.Timeout)
	assert.Equal(t, "subchange", cfg.Build.Weighting)
	assert.Equal(t, 8, cfg.Build.FetchWorkers)
	assert.Equal(t, 300, cfg.Build.MaxChangeSetFiles)
	assert.Equal(t, []string{"**/*.go"}, cfg.Build.Include)
	assert.Equal(t, []string{"vendor/**"}, cfg.Build.Exclude)
	assert.True(t, cfg.Output.Compress)
	assert.Equal(t, "out/graph.db", cfg.Output.SQLite)
	assert.Equal(t, 2, cfg.Server.Workers)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.InDelta(t, 0.25, cfg.Telemetry.SampleRatio, 1e-9)

	level, err := cfg.Logging.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("COCHANGE_BUILD_FETCH_WORKERS", "16")
	t.Setenv("COCHANGE_OUTPUT_PATH", "env.json")
	t.Setenv("GITHUB_TOKEN", "from-github-env")

	cfg, err := config.LoadConfig(writeConfig(t, "build:\n  fetch_workers: 2\n"))
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Build.FetchWorkers)
	assert.Equal(t, "env.json", cfg.Output.Path)
	assert.Equal(t, "from-github-env", cfg.Source.Token)
}

func TestLoadConfig_PrefixedTokenWins(t *testing.T) {
	t.Setenv("COCHANGE_SOURCE_TOKEN", "prefixed")
	t.Setenv("GITHUB_TOKEN", "plain")

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "prefixed", cfg.Source.Token)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "build: [unclosed\n"))
	require.Error(t, err)
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "build:\n  weighting: commits\n"))
	require.ErrorIs(t, err, config.ErrInvalidWeighting)
}
