// Package config loads the service configuration: defaults, then an
// optional YAML file, then environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Index     IndexConfig     `yaml:"index"`
	Engine    EngineConfig    `yaml:"engine"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr" validate:"required,hostname_port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes" validate:"gt=0"`
	Debug          bool   `yaml:"debug"`
	CORSOrigin     string `yaml:"cors_origin" validate:"required"`
}

type WorkspaceConfig struct {
	Root              string `yaml:"root" validate:"required"`
	MaxConcurrentRuns int64  `yaml:"max_concurrent_runs" validate:"gte=1,lte=64"`
	MaxEntries        int    `yaml:"max_entries" validate:"gte=0"`
}

type IndexConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=file badger memory"`
	BadgerPath string `yaml:"badger_path" validate:"required_if=Backend badger"`
}

type EngineConfig struct {
	Kind      string   `yaml:"kind" validate:"oneof=kicad"`
	PowerNets []string `yaml:"power_nets"`
}

type ResolverConfig struct {
	DefaultImpedance float64 `yaml:"default_impedance" validate:"gt=0"`
	StrictImpedance  bool    `yaml:"strict_impedance"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           "127.0.0.1:5001",
			MaxUploadBytes: 1 << 30,
			CORSOrigin:     "*",
		},
		Workspace: WorkspaceConfig{
			Root:              "output",
			MaxConcurrentRuns: 4,
		},
		Index: IndexConfig{
			Backend:    "file",
			BadgerPath: "output/.index",
		},
		Engine:   EngineConfig{Kind: "kicad"},
		Resolver: ResolverConfig{DefaultImpedance: 50},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

var validate = validator.New()

// Load builds the configuration. An empty path, or a path that does not
// exist, leaves the defaults in place.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"OTEDB_ADDR":          &cfg.Server.Addr,
		"OTEDB_WORKSPACE":     &cfg.Workspace.Root,
		"OTEDB_LOG_LEVEL":     &cfg.Logging.Level,
		"OTEDB_LOG_FORMAT":    &cfg.Logging.Format,
		"OTEDB_INDEX_BACKEND": &cfg.Index.Backend,
		"OTEDB_BADGER_PATH":   &cfg.Index.BadgerPath,
		"CORS_ALLOWED_ORIGIN": &cfg.Server.CORSOrigin,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("OTEDB_MAX_RUNS"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: OTEDB_MAX_RUNS: %w", err)
		}
		cfg.Workspace.MaxConcurrentRuns = n
	}
	if v, ok := lookup("OTEDB_STRICT_IMPEDANCE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: OTEDB_STRICT_IMPEDANCE: %w", err)
		}
		cfg.Resolver.StrictImpedance = b
	}
	return nil
}
