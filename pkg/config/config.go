// Package config holds the environment-driven settings for every Kaizen
// component. All options are read from KAIZEN_* variables (PHOENIX_* for the
// trace-store connection), optionally seeded from a .env file.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Backend selection values.
const (
	BackendQdrant     = "qdrant"
	BackendFilesystem = "filesystem"
)

// Config is the root configuration.
type Config struct {
	// Backend selects the entity store: "qdrant" or "filesystem".
	Backend string `koanf:"backend"`

	// NamespaceID is the default namespace used by the tool-protocol
	// surface and the sync worker.
	NamespaceID string `koanf:"namespace_id"`

	// ClusteringThreshold is the cosine similarity threshold for tip
	// clustering (inclusive).
	ClusteringThreshold float64 `koanf:"clustering_threshold"`

	// HTTPAddr is the listen address for the HTTP/MCP server.
	HTTPAddr string `koanf:"http_addr"`

	LLM        LLMConfig        `koanf:"-"`
	Embedder   EmbedderConfig   `koanf:"-"`
	Filesystem FilesystemConfig `koanf:"-"`
	Qdrant     QdrantConfig     `koanf:"-"`
	Phoenix    PhoenixConfig    `koanf:"-"`
}

// LLMConfig configures the gateway used for tip generation and conflict
// resolution.
type LLMConfig struct {
	// TipsModel is the model id used for tip generation and consolidation.
	TipsModel string `koanf:"tips_model"`

	// ConflictResolutionModel is the model id used for entity diffing.
	ConflictResolutionModel string `koanf:"conflict_resolution_model"`

	// CustomProvider is an optional provider tag forwarded with each call
	// (litellm-style routing on OpenAI-compatible proxies).
	CustomProvider string `koanf:"custom_llm_provider"`

	// BaseURL is the OpenAI-compatible endpoint root.
	BaseURL string `koanf:"llm_base_url"`

	APIKey string `koanf:"llm_api_key"`

	// Timeout is the per-call timeout in seconds.
	Timeout int `koanf:"llm_timeout"`

	// MaxRetries bounds transport-level retries (429/5xx). Model-output
	// retries are the caller's responsibility, never the gateway's.
	MaxRetries int `koanf:"llm_max_retries"`

	// SupportsResponseSchema enables schema-constrained decoding when the
	// provider advertises response_format with JSON schema validation.
	SupportsResponseSchema *bool `koanf:"llm_supports_response_schema"`
}

// SchemaConstrained reports whether the gateway should pass a response
// schema. Defaults to true for OpenAI-compatible providers.
func (c *LLMConfig) SchemaConstrained() bool {
	if c.SupportsResponseSchema == nil {
		return true
	}
	return *c.SupportsResponseSchema
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Type      string `koanf:"embedder_type"` // "openai" or "ollama"
	Model     string `koanf:"embedder_model"`
	Host      string `koanf:"embedder_host"`
	APIKey    string `koanf:"embedder_api_key"`
	Dimension int    `koanf:"embedder_dimension"`
	Timeout   int    `koanf:"embedder_timeout"`
}

// FilesystemConfig configures the JSON-file backend.
type FilesystemConfig struct {
	DataDir string `koanf:"data_dir"`
}

// QdrantConfig configures the vector backend and its sqlite side database.
type QdrantConfig struct {
	Host       string `koanf:"qdrant_host"`
	Port       int    `koanf:"qdrant_port"`
	APIKey     string `koanf:"qdrant_api_key"`
	UseTLS     bool   `koanf:"qdrant_use_tls"`
	SQLitePath string `koanf:"sqlite_path"`
}

// PhoenixConfig configures the external trace store the sync worker pulls
// spans from.
type PhoenixConfig struct {
	URL     string `koanf:"url"`
	Project string `koanf:"project"`
	Timeout int    `koanf:"timeout"`
}

// SetDefaults fills unset fields with working defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendQdrant
	}
	if c.NamespaceID == "" {
		c.NamespaceID = "kaizen"
	}
	if c.ClusteringThreshold == 0 {
		c.ClusteringThreshold = 0.80
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LLM.TipsModel == "" {
		c.LLM.TipsModel = "gpt-4o"
	}
	if c.LLM.ConflictResolutionModel == "" {
		c.LLM.ConflictResolutionModel = "gpt-4o"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 120
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.Embedder.Type == "" {
		c.Embedder.Type = "ollama"
	}
	if c.Embedder.Model == "" {
		c.Embedder.Model = "nomic-embed-text"
	}
	if c.Embedder.Host == "" {
		if c.Embedder.Type == "openai" {
			c.Embedder.Host = "https://api.openai.com/v1"
		} else {
			c.Embedder.Host = "http://localhost:11434"
		}
	}
	if c.Embedder.Dimension == 0 {
		c.Embedder.Dimension = 768
	}
	if c.Embedder.Timeout == 0 {
		c.Embedder.Timeout = 30
	}
	if c.Filesystem.DataDir == "" {
		c.Filesystem.DataDir = "kaizen_data"
	}
	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Qdrant.SQLitePath == "" {
		c.Qdrant.SQLitePath = "entities.sqlite.db"
	}
	if c.Phoenix.URL == "" {
		c.Phoenix.URL = "http://localhost:6006"
	}
	if c.Phoenix.Project == "" {
		c.Phoenix.Project = "default"
	}
	if c.Phoenix.Timeout == 0 {
		c.Phoenix.Timeout = 30
	}
}

// Validate rejects configurations no component can act on.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendQdrant, BackendFilesystem:
	default:
		return fmt.Errorf("unsupported backend %q (supported: %s, %s)",
			c.Backend, BackendQdrant, BackendFilesystem)
	}
	if c.ClusteringThreshold < 0 || c.ClusteringThreshold > 1 {
		return fmt.Errorf("clustering threshold must be in [0,1], got %v", c.ClusteringThreshold)
	}
	switch c.Embedder.Type {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unsupported embedder type %q", c.Embedder.Type)
	}
	return nil
}

// Load reads configuration from the process environment. An optional .env
// file is applied first without overriding variables already set.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		// Best effort: a .env in the working directory is common in dev.
		_ = godotenv.Load()
	}

	k := koanf.New(".")
	if err := k.Load(env.Provider("KAIZEN_", ".", func(key string) string {
		return strings.ToLower(strings.TrimPrefix(key, "KAIZEN_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load KAIZEN_ environment: %w", err)
	}

	cfg := &Config{}
	// KAIZEN_* names are flat, so each section unmarshals from the same
	// key set using its own tags.
	for _, target := range []any{cfg, &cfg.LLM, &cfg.Embedder, &cfg.Filesystem, &cfg.Qdrant} {
		if err := k.Unmarshal("", target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	kp := koanf.New(".")
	if err := kp.Load(env.Provider("PHOENIX_", ".", func(key string) string {
		return strings.ToLower(strings.TrimPrefix(key, "PHOENIX_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load PHOENIX_ environment: %w", err)
	}
	if err := kp.Unmarshal("", &cfg.Phoenix); err != nil {
		return nil, fmt.Errorf("failed to unmarshal phoenix config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
