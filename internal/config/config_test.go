package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakwood-commons/unifind/internal/entity"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://127.0.0.1:8000", cfg.Backend.URL)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Search.QuietWindow.Std())
	assert.InDelta(t, 0.92, cfg.Search.Similarity, 1e-6)
	assert.Equal(t, 10, cfg.Server.Limit)
	assert.NotEmpty(t, DefaultConfigYAML())

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, entity.DefaultRegistry().Kinds(), reg.Kinds())
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := writeFile(t, "config.yaml", `
backend:
  url: https://feedback.example.com
  token: secret
search:
  quiet_window: 100ms
kinds:
  - kind: person
    label: Staff
    row: 'c.name + "!"'
  - kind: campus
    parent: institution
    parent_param: university_id
    search_path: /api/search/campus/
    create_path: /api/add/campus/
    result_key: campuses
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://feedback.example.com", cfg.Backend.URL)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout.Std(), "unset keys keep the default")
	assert.Equal(t, 100*time.Millisecond, cfg.Search.QuietWindow.Std())
	assert.Equal(t, "Bearer secret", sessionHeader(cfg))

	reg, err := cfg.Registry()
	require.NoError(t, err)
	person, ok := reg.Spec(entity.Person)
	require.True(t, ok)
	assert.Equal(t, "Staff", person.Label)
	assert.Equal(t, "/api/search/lecturer/", person.SearchPath)
	assert.Contains(t, reg.Children(entity.Institution), entity.Kind("campus"))
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[backend]
url = "http://localhost:9000"
timeout = "2s"

[ui]
no_color = true

[[kinds]]
kind = "course"
label = "Unit"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.Backend.URL)
	assert.Equal(t, 2*time.Second, cfg.Backend.Timeout.Std())
	assert.True(t, cfg.UI.NoColor)
	assert.Equal(t, 8, cfg.UI.MaxRows)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	course, _ := reg.Spec(entity.Course)
	assert.Equal(t, "Unit", course.Label)
	assert.Equal(t, entity.SubSubUnit, course.Parent)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown key", file: "c.yaml", body: "backend:\n  colour: red\n"},
		{name: "bad duration", file: "c.yaml", body: "search:\n  quiet_window: soon\n"},
		{name: "bad url", file: "c.yaml", body: "backend:\n  url: localhost\n"},
		{name: "negative pool", file: "c.yaml", body: "search:\n  pool_size: -1\n"},
		{name: "similarity range", file: "c.yaml", body: "search:\n  similarity: 2\n"},
		{name: "bad row", file: "c.yaml", body: "kinds:\n  - kind: person\n    row: 'c.name +'\n"},
		{name: "orphan kind", file: "c.yaml", body: "kinds:\n  - kind: campus\n    parent: galaxy\n    parent_param: galaxy_id\n"},
		{name: "incomplete kind", file: "c.yaml", body: "kinds:\n  - kind: campus\n"},
		{name: "bad toml", file: "c.toml", body: "[backend\n"},
		{name: "unknown toml key", file: "c.toml", body: "[server]\nport = 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8000", cfg.Server.Addr)
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Equal(t, "/explicit.yaml", ResolvePath("/explicit.yaml"))
	assert.Empty(t, ResolvePath(""))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "unifind"), 0o755))
	path := filepath.Join(dir, "unifind", "config.toml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	assert.Equal(t, path, ResolvePath(""))
}

func TestDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "unifind"), cfg.DataDir())
	cfg.Server.DataDir = "/srv/catalog"
	assert.Equal(t, "/srv/catalog", cfg.DataDir())
}

func sessionHeader(cfg *Config) string {
	s := cfg.Session()
	return s.Scheme + " " + s.Token
}
