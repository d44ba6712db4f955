// Package config holds the validated configuration record the engine
// façade consumes (spec.md §4.5: "the engine consumes a validated
// configuration record"). It follows the teacher's pkg/config in shape —
// a sectioned struct, a Validate() pass, YAML-loadable — scaled down from
// environment-variable loading to file-based loading appropriate for an
// embedded library with one store per file rather than one server process.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/vectordb/pkg/similarity"
	"github.com/orneryd/vectordb/pkg/vblog"
)

const (
	// MinDimension and MaxDimension bound a store's vector dimension, per
	// spec.md §4.5 and the testable property at spec.md §8 ("dimension = 1
	// works; dimension = 4096 works; dimension = 0 or 4097 is rejected").
	MinDimension = 1
	MaxDimension = 4096
)

// LoggingConfig controls the engine's vblog.Logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
}

// EncryptionConfig controls pkg/atrest's optional payload encryption.
type EncryptionConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Passphrase    string `yaml:"passphrase"`
	KeyRotationID uint32 `yaml:"key_rotation_id"`
}

// HNSWConfig carries optional overrides of the HNSW index's tuning
// constants; a zero value means "use the package default".
type HNSWConfig struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`
}

// Config is the validated record spec.md §4.5 describes: name, path,
// dimension, metric, optional max-vector bound, plus the ambient sections
// this expansion adds.
type Config struct {
	Name       string `yaml:"name"`
	Path       string `yaml:"path"`
	Dimension  int    `yaml:"dimension"`
	Metric     string `yaml:"metric"`
	MaxVectors int    `yaml:"max_vectors,omitempty"` // 0 = unbounded

	Logging    LoggingConfig    `yaml:"logging"`
	Encryption EncryptionConfig `yaml:"encryption"`
	HNSW       HNSWConfig       `yaml:"hnsw"`
}

// Validate enforces spec.md §4.5's invariants: dimension in [1, 4096], a
// known metric, a non-empty path. Rejecting an already-existing file at
// create time is the engine's concern (a filesystem check, not a config
// shape check) and is not performed here.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: name must not be empty")
	}
	if c.Path == "" {
		return fmt.Errorf("config: path must not be empty")
	}
	if c.Dimension < MinDimension || c.Dimension > MaxDimension {
		return fmt.Errorf("config: dimension %d out of range [%d, %d]", c.Dimension, MinDimension, MaxDimension)
	}
	if _, ok := similarity.ParseMetric(c.Metric); !ok {
		return fmt.Errorf("config: unknown metric %q", c.Metric)
	}
	if c.MaxVectors < 0 {
		return fmt.Errorf("config: max_vectors must not be negative")
	}
	return nil
}

// ParsedMetric returns the validated metric as a similarity.Metric.
// Validate should be called first; an unparseable metric yields
// similarity.Cosine.
func (c *Config) ParsedMetric() similarity.Metric {
	m, ok := similarity.ParseMetric(c.Metric)
	if !ok {
		return similarity.Cosine
	}
	return m
}

// LogLevel returns the configured log level, defaulting to Info when
// unset.
func (c *Config) LogLevel() vblog.Level {
	if c.Logging.Level == "" {
		return vblog.LevelInfo
	}
	return vblog.ParseLevel(c.Logging.Level)
}

// LoadFile reads a YAML configuration file from disk. It does not call
// Validate; callers should validate before use.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &c, nil
}

// Save writes the configuration back out as YAML, for diagnostic or
// operator-editable purposes.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
