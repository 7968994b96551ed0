// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Compression struct {
	MinSize int `json:"min_size" toml:"min_size"`
	Level   int `json:"level" toml:"level"`
}

type Config struct {
	Server struct {
		Host string `json:"host" toml:"host"`
		Port int    `json:"port" toml:"port"`
	} `json:"server" toml:"server"`

	Database struct {
		Path     string `json:"path" toml:"path"`
		InMemory bool   `json:"in_memory" toml:"in_memory"`
	} `json:"database" toml:"database"`

	Store struct {
		CacheSize   int         `json:"cache_size" toml:"cache_size"` // 0 scales with the memory limit
		Codec       string      `json:"codec" toml:"codec"`           // cbor, json
		Compression Compression `json:"compression" toml:"compression"`
	} `json:"store" toml:"store"`

	Tree struct {
		NormalizationThreshold int `json:"normalization_threshold" toml:"normalization_threshold"`
		SplitThreshold         int `json:"split_threshold" toml:"split_threshold"`
	} `json:"tree" toml:"tree"`

	Environment string `json:"environment" toml:"environment"` // dev, prod
	LogLevel    string `json:"log_level" toml:"log_level"`     // debug, info, warn, error
}

// Default returns a configuration with every field populated.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8734
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		c.Database.Path = filepath.Join(".geotig", "db")
	}
	if c.Store.Codec == "" {
		c.Store.Codec = "cbor"
	}
	if c.Store.Compression.MinSize == 0 {
		c.Store.Compression.MinSize = 1024
	}
	if c.Store.Compression.Level == 0 {
		c.Store.Compression.Level = 2
	}
	if c.Tree.NormalizationThreshold == 0 {
		c.Tree.NormalizationThreshold = 512
	}
	if c.Tree.SplitThreshold == 0 {
		c.Tree.SplitThreshold = 32768
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the tree thresholds keep their required ordering.
func (c *Config) Validate() error {
	if c.Tree.NormalizationThreshold < 1 {
		return fmt.Errorf("tree.normalization_threshold must be positive")
	}
	if c.Tree.SplitThreshold <= c.Tree.NormalizationThreshold {
		return fmt.Errorf("tree.split_threshold (%d) must exceed tree.normalization_threshold (%d)",
			c.Tree.SplitThreshold, c.Tree.NormalizationThreshold)
	}
	switch c.Store.Codec {
	case "cbor", "json":
	default:
		return fmt.Errorf("unknown store.codec %q", c.Store.Codec)
	}
	return nil
}

// EnvPath returns config/config.<env>.json for the GEOTIG_ENV environment.
func EnvPath() string {
	env := os.Getenv("GEOTIG_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

// Load reads a JSON or TOML (by extension) config file and fills defaults.
func Load(path string) (*Config, error) {
	var config Config

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &config); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadOrDefault loads path if it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Save writes cfg as TOML or indented JSON, by extension.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		if err := toml.NewEncoder(file).Encode(cfg); err != nil {
			return fmt.Errorf("encoding %s: %w", path, err)
		}
		return nil
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
