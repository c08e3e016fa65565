// Package config loads the unifind configuration: an embedded default merged
// with an optional YAML or TOML user file.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/oakwood-commons/unifind/internal/entity"
	"github.com/oakwood-commons/unifind/internal/render"
	"github.com/oakwood-commons/unifind/pkg/settings"
)

//go:embed default_config.yaml
var embeddedDefaultConfig []byte

// DefaultConfigYAML returns a copy of the embedded default config.
func DefaultConfigYAML() []byte {
	return append([]byte(nil), embeddedDefaultConfig...)
}

// Duration is a time.Duration written as "250ms" in both YAML and TOML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText implements encoding.TextUnmarshaler (used by go-toml).
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error { return d.UnmarshalText([]byte(n.Value)) }

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

type BackendConfig struct {
	URL        string   `yaml:"url" toml:"url"`
	Timeout    Duration `yaml:"timeout" toml:"timeout"`
	Token      string   `yaml:"token" toml:"token"`
	AuthScheme string   `yaml:"auth_scheme" toml:"auth_scheme"`
}

type SearchConfig struct {
	QuietWindow Duration `yaml:"quiet_window" toml:"quiet_window"`
	PoolSize    int      `yaml:"pool_size" toml:"pool_size"`
	Similarity  float32  `yaml:"similarity" toml:"similarity"`
}

type UIConfig struct {
	NoColor bool `yaml:"no_color" toml:"no_color"`
	MaxRows int  `yaml:"max_rows" toml:"max_rows"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	DataDir  string `yaml:"data_dir" toml:"data_dir"`
	InMemory bool   `yaml:"in_memory" toml:"in_memory"`
	Limit    int    `yaml:"limit" toml:"limit"`
}

// Config is the merged configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend" toml:"backend"`
	Search  SearchConfig  `yaml:"search" toml:"search"`
	UI      UIConfig      `yaml:"ui" toml:"ui"`
	Server  ServerConfig  `yaml:"server" toml:"server"`
	// Kinds overrides the built-in kind table entry by entry.
	Kinds []entity.Spec `yaml:"kinds" toml:"kinds"`
}

// Default returns the embedded configuration.
func Default() (*Config, error) {
	if len(embeddedDefaultConfig) == 0 {
		return nil, errors.New("embedded default config is empty")
	}
	var cfg Config
	if err := yaml.Unmarshal(embeddedDefaultConfig, &cfg); err != nil {
		return nil, fmt.Errorf("decode default config: %w", err)
	}
	return &cfg, nil
}

// Load returns the default config with the file at path merged on top. An
// empty path returns the defaults. Files ending in .toml are decoded as TOML,
// everything else as YAML.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.merge(data, strings.EqualFold(filepath.Ext(path), ".toml")); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// merge decodes data over c. Scalars the file omits keep their value; kind
// entries are merged by kind.
func (c *Config) merge(data []byte, isTOML bool) error {
	base := c.Kinds
	overlay := *c
	overlay.Kinds = nil
	if isTOML {
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&overlay); err != nil {
			return fmt.Errorf("decode toml: %w", err)
		}
	} else if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&overlay); err != nil {
			return fmt.Errorf("decode yaml: %w", err)
		}
	}
	overlay.Kinds = mergeSpecs(base, overlay.Kinds)
	*c = overlay
	return nil
}

// mergeSpecs overlays non-empty fields of over onto base, matching on Kind.
// Unmatched entries are appended.
func mergeSpecs(base, over []entity.Spec) []entity.Spec {
	out := append([]entity.Spec(nil), base...)
	for _, o := range over {
		i := indexOf(out, o.Kind)
		if i < 0 {
			out = append(out, o)
			continue
		}
		out[i] = overlaySpec(out[i], o)
	}
	return out
}

func overlaySpec(b, o entity.Spec) entity.Spec {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&b.Label, o.Label)
	if o.Parent != "" {
		b.Parent = o.Parent
	}
	set(&b.ParentParam, o.ParentParam)
	set(&b.Discriminator, o.Discriminator)
	set(&b.SearchPath, o.SearchPath)
	set(&b.CreatePath, o.CreatePath)
	set(&b.ResultKey, o.ResultKey)
	set(&b.Row, o.Row)
	return b
}

func indexOf(specs []entity.Spec, k entity.Kind) int {
	for i, s := range specs {
		if s.Kind == k {
			return i
		}
	}
	return -1
}

// Specs returns the built-in kind table with the configured overrides.
func (c *Config) Specs() []entity.Spec {
	return mergeSpecs(entity.DefaultSpecs(), c.Kinds)
}

// Registry builds the kind table.
func (c *Config) Registry() (*entity.Registry, error) {
	return entity.NewRegistry(c.Specs()...)
}

// Session returns the credentials sent to the backend.
func (c *Config) Session() settings.Session {
	return settings.Session{Token: c.Backend.Token, Scheme: c.Backend.AuthScheme}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("backend.url %q must be an http(s) url", c.Backend.URL)
	}
	if c.Backend.Timeout < 0 {
		return errors.New("backend.timeout must not be negative")
	}
	if c.Search.QuietWindow < 0 {
		return errors.New("search.quiet_window must not be negative")
	}
	if c.Search.PoolSize < 0 {
		return errors.New("search.pool_size must not be negative")
	}
	if c.Search.Similarity < 0 || c.Search.Similarity > 1 {
		return errors.New("search.similarity must be between 0 and 1")
	}
	if c.Server.Limit <= 0 {
		return errors.New("server.limit must be positive")
	}
	specs := c.Specs()
	if _, err := entity.NewRegistry(specs...); err != nil {
		return err
	}
	for _, s := range specs {
		if s.SearchPath == "" || s.CreatePath == "" || s.ResultKey == "" {
			return fmt.Errorf("kind %q needs search_path, create_path and result_key", s.Kind)
		}
		if s.Row == "" {
			continue
		}
		if err := render.Check(s.Row); err != nil {
			return fmt.Errorf("kind %q row: %w", s.Kind, err)
		}
	}
	return nil
}

// DataDir returns the configured catalog directory, defaulting to
// $XDG_DATA_HOME/unifind or ~/.local/share/unifind.
func (c *Config) DataDir() string {
	if c.Server.DataDir != "" {
		return c.Server.DataDir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, settings.CliBinaryName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", settings.CliBinaryName)
	}
	return filepath.Join(os.TempDir(), settings.CliBinaryName)
}

// ResolvePath returns explicit if set, otherwise the first existing of
// $XDG_CONFIG_HOME/unifind/config.{yaml,toml} (or ~/.config/unifind/...).
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	dir := ""
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dir = filepath.Join(xdg, settings.CliBinaryName)
	} else if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".config", settings.CliBinaryName)
	}
	if dir == "" {
		return ""
	}
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		candidate := filepath.Join(dir, name)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate
		}
	}
	return ""
}
