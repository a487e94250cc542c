// Package config loads the runtime configuration from YAML or TOML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/diel/internal/remote"
)

// DefaultShipWorkers is the shipment pool size when none is configured.
const DefaultShipWorkers = 4

// Config is the runtime configuration.
type Config struct {
	// Program is the path to the DIEL program. Relative paths resolve
	// against the configuration file's directory.
	Program string `yaml:"program" toml:"program"`

	// Strict returns user and internal errors to the caller; otherwise
	// they are logged and the affected relation is skipped.
	Strict bool `yaml:"strict" toml:"strict"`

	// CheckConstraints runs view constraint queries after every input.
	CheckConstraints bool `yaml:"checkConstraints" toml:"checkConstraints"`

	// OwnerPolicy picks where derived relations are evaluated: "max"
	// (default) or "majority".
	OwnerPolicy string `yaml:"ownerPolicy" toml:"ownerPolicy"`

	// ShipWorkers bounds concurrent shipments to remote engines.
	ShipWorkers int `yaml:"shipWorkers" toml:"shipWorkers"`

	Materialization Materialization `yaml:"materialization" toml:"materialization"`
	Local           Local           `yaml:"local" toml:"local"`

	// Remotes are numbered from 2 in the order listed.
	Remotes []remote.Spec `yaml:"remotes" toml:"remotes"`

	Log    Log              `yaml:"log" toml:"log"`
	Scales map[string]Scale `yaml:"scales" toml:"scales"`
	Export Export           `yaml:"export" toml:"export"`
}

// Materialization tunes the materialization and async passes.
type Materialization struct {
	Disabled         bool `yaml:"disabled" toml:"disabled"`
	IncrementalScope bool `yaml:"incrementalScope" toml:"incrementalScope"`
	DisableAsync     bool `yaml:"disableAsync" toml:"disableAsync"`
}

// Local configures the local engine.
type Local struct {
	// Path is the SQLite file; empty keeps the database in memory.
	Path string `yaml:"path" toml:"path"`
}

// Scale names the columns a chart of an output plots.
type Scale struct {
	X string `yaml:"x" toml:"x" json:"x"`
	Y string `yaml:"y,omitempty" toml:"y" json:"y,omitempty"`
	Z string `yaml:"z,omitempty" toml:"z" json:"z,omitempty"`
}

// Export configures where Export writes the local database.
type Export struct {
	// URI is a file path or s3://bucket/key.
	URI    string `yaml:"uri" toml:"uri"`
	Region string `yaml:"region" toml:"region"`
	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	// Setting it also selects path-style addressing.
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Strict:      true,
		OwnerPolicy: "max",
		ShipWorkers: DefaultShipWorkers,
		Log:         Log{Level: "info"},
	}
}

// Load reads the file at path, choosing the format by extension:
// .toml is TOML, anything else YAML. Unknown keys are errors in both.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg *Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		cfg, err = ParseTOML(data)
	} else {
		cfg, err = ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Program != "" && !filepath.IsAbs(cfg.Program) {
		cfg.Program = filepath.Join(filepath.Dir(path), cfg.Program)
	}
	return cfg, nil
}

// ParseYAML decodes YAML over the defaults.
func ParseYAML(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseTOML decodes TOML over the defaults.
func ParseTOML(data []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("failed to parse TOML: unknown keys %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the decoders cannot.
func (c *Config) Validate() error {
	var errs []error
	switch c.OwnerPolicy {
	case "", "max", "majority":
	default:
		errs = append(errs, fmt.Errorf("ownerPolicy: unknown policy %q", c.OwnerPolicy))
	}
	if c.ShipWorkers < 1 {
		errs = append(errs, fmt.Errorf("shipWorkers: must be at least 1, got %d", c.ShipWorkers))
	}
	for i, r := range c.Remotes {
		field := fmt.Sprintf("remotes[%d]", i)
		switch r.Kind {
		case remote.KindWorker:
		case remote.KindSocket:
			if r.URL == "" || r.DBName == "" {
				errs = append(errs, fmt.Errorf("%s: socket remotes need url and dbName", field))
			}
		case remote.KindPostgres, remote.KindMySQL:
			if r.DSN == "" {
				errs = append(errs, fmt.Errorf("%s: %s remotes need dsn", field, r.Kind))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown kind %q", field, r.Kind))
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}
