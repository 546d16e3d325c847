// Package config loads ralphmem's on-disk YAML configuration, following
// internal/aider/config.go's LoadConfig/DefaultConfig/Validate shape.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP + embedded event-bus listen settings.
type ServerConfig struct {
	Port     int `yaml:"port" json:"port"`
	NATSPort int `yaml:"nats_port" json:"nats_port"`
}

// EmbeddingConfig points at the external embedding service (spec §6's
// embed_text contract). ralphmem never hosts or trains the model itself.
type EmbeddingConfig struct {
	URL       string `yaml:"url" json:"url"`
	Model     string `yaml:"model" json:"model"`
	Dimension int    `yaml:"dimension" json:"dimension"`
}

// RecallConfig holds the recall index's HNSW-equivalent search defaults
// from spec §4.6.
type RecallConfig struct {
	MinScore      float64 `yaml:"min_score" json:"min_score"`
	MaxResults    int     `yaml:"max_results" json:"max_results"`
	HNSWM         int     `yaml:"hnsw_m" json:"hnsw_m"`
	HNSWEfConstr  int     `yaml:"hnsw_ef_construct" json:"hnsw_ef_construct"`
	SearchEf      int     `yaml:"search_ef" json:"search_ef"`
}

// LearningConfig holds the learning curator's cap.
type LearningConfig struct {
	MaxLearnings int `yaml:"max_learnings" json:"max_learnings"`
}

// Config is the root configuration for ralphmem.
type Config struct {
	ProjectPath string          `yaml:"project_path" json:"project_path"`
	DataDir     string          `yaml:"data_dir" json:"data_dir"`
	Server      ServerConfig    `yaml:"server" json:"server"`
	Embedding   EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Recall      RecallConfig    `yaml:"recall" json:"recall"`
	Learning    LearningConfig  `yaml:"learning" json:"learning"`
	Stack       int             `yaml:"stack" json:"stack"`
}

// DefaultConfig returns sensible ralphmem defaults.
func DefaultConfig() *Config {
	return &Config{
		ProjectPath: ".",
		DataDir:     ".ralph",
		Server: ServerConfig{
			Port:     3101,
			NATSPort: 4233,
		},
		Embedding: EmbeddingConfig{
			URL:       "http://localhost:1234/v1",
			Model:     "nomic-embed-text",
			Dimension: 768,
		},
		Recall: RecallConfig{
			MinScore:     0.4,
			MaxResults:   20,
			HNSWM:        64,
			HNSWEfConstr: 512,
			SearchEf:     128,
		},
		Learning: LearningConfig{
			MaxLearnings: 50,
		},
		Stack: 2,
	}
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks if the config is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.NATSPort <= 0 || c.Server.NATSPort > 65535 {
		return fmt.Errorf("invalid NATS port: %d", c.Server.NATSPort)
	}
	if c.Embedding.URL == "" {
		return fmt.Errorf("embedding URL is required")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding model is required")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	if c.Learning.MaxLearnings <= 0 {
		return fmt.Errorf("learning.max_learnings must be positive")
	}
	return nil
}
