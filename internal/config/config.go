package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Providers  []ProviderConfig `json:"providers"`
	Generation GenerationConfig `json:"generation"`
	Database   DatabaseConfig   `json:"database"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Limits     LimitsConfig     `json:"limits"`
}

type ServerConfig struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Port      int    `json:"port"`
	LogLevel  string `json:"log_level"`
	Transport string `json:"transport"` // stdio|http
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// GenerationConfig shapes prompts sent to the language model.
type GenerationConfig struct {
	Model                string  `json:"model"`
	MaxTokens            int     `json:"max_tokens"`
	ReasoningTemperature float64 `json:"reasoning_temperature"`
	CreativeTemperature  float64 `json:"creative_temperature"`
	MaxContextLength     int     `json:"max_context_length"`
	Persona              string  `json:"persona"`
	SystemPrompt         string  `json:"system_prompt"`
	// Provider is the default provider id; empty keeps the first registered.
	Provider  string            `json:"provider"`
	Bindings  map[string]string `json:"bindings"` // purpose -> provider id
	Fallbacks []string          `json:"fallbacks"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn"`
	Migrations string `json:"migrations"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL         string `json:"url"`
	Prefix      string `json:"prefix"`
	CacheTTLSec int    `json:"cache_ttl"`
}

// CacheTTL returns the configured snapshot TTL, one hour when unset.
func (r RedisConfig) CacheTTL() time.Duration {
	if r.CacheTTLSec <= 0 {
		return time.Hour
	}
	return time.Duration(r.CacheTTLSec) * time.Second
}

type QdrantConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	Collections []string `json:"collections"`
	MinScore    float32  `json:"min_score"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // api|local
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
	BatchSize int    `json:"batch_size"`
}

// LimitsConfig bounds inbound call volume and telemetry retention.
type LimitsConfig struct {
	RateLimitRequests  int `json:"rate_limit_requests"`
	RateLimitWindowSec int `json:"rate_limit_window"`
	TelemetrySamples   int `json:"telemetry_samples"`
}

// RateLimitWindow returns the window as a duration.
func (l LimitsConfig) RateLimitWindow() time.Duration {
	return time.Duration(l.RateLimitWindowSec) * time.Second
}

// Default returns a configuration that runs entirely in-process.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:      "digital-twin-advanced",
			Version:   "2.0.0",
			Port:      8080,
			LogLevel:  "info",
			Transport: "stdio",
		},
		Generation: GenerationConfig{
			Model:                "llama-3.1-8b-instant",
			MaxTokens:            1000,
			ReasoningTemperature: 0.7,
			CreativeTemperature:  0.9,
			MaxContextLength:     8000,
			Persona:              "DIGI-EARL",
			SystemPrompt:         "You are DIGI-EARL, an advanced AI digital twin with enhanced reasoning capabilities.",
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{Migrations: "migrations"},
			Redis:    RedisConfig{Prefix: "digitwin", CacheTTLSec: 3600},
			Qdrant:   QdrantConfig{Port: 6334, Collections: []string{"profile", "knowledge_base"}},
		},
		Limits: LimitsConfig{
			RateLimitRequests:  100,
			RateLimitWindowSec: 60,
			TelemetrySamples:   10000,
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file over the defaults and substitutes environment
// variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw JSON config bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})

	cfg := Default()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Server.Transport != "stdio" && cfg.Server.Transport != "http" {
		return nil, fmt.Errorf("unsupported transport %q", cfg.Server.Transport)
	}
	return cfg, nil
}
