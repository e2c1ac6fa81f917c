package config

import (
	"os"
	"path/filepath"
	"time"
)

// ModelKey is a logical identifier for a region of BOLT's brain.
// Keys map to concrete model names through Config.Models.
type ModelKey string

const (
	ModelRouter      ModelKey = "router"
	ModelCompanion   ModelKey = "companion"
	ModelFastCode    ModelKey = "fast_code"
	ModelWorkerLight ModelKey = "worker_light"
	ModelWorkerHeavy ModelKey = "worker_heavy"
	ModelBeast       ModelKey = "beast"
	ModelCloud       ModelKey = "cloud"
)

// Config is the full BOLT configuration. Zero values are filled by Default();
// a JSON5 file and env vars overlay on top (see Load).
type Config struct {
	// OllamaURL is the base URL of the local inference server.
	OllamaURL string `json:"ollama_url"`

	// Models maps logical model keys to concrete model names.
	Models map[ModelKey]string `json:"models"`

	// DataDir holds bolt.db and the custom_tools/ plugin directory.
	DataDir string `json:"data_dir"`

	// MaxContextTokens is the context assembly budget per turn. Token
	// estimates are store.EstimateTokens, which fixes the chars-per-token
	// divisor so persisted estimates stay comparable across restarts.
	MaxContextTokens int `json:"max_context_tokens"`

	// MaxToolLoops bounds inference calls per turn.
	MaxToolLoops int `json:"max_tool_loops"`
	// ToolTimeoutSeconds bounds a single tool invocation.
	ToolTimeoutSeconds int `json:"tool_timeout_seconds"`

	// SummaryInterval is the unsummarized-message count that triggers
	// auto-summarization.
	SummaryInterval int `json:"summary_interval"`
	// ProfileInterval is the number of turns between profile learning passes.
	ProfileInterval int `json:"profile_interval"`

	Cloud CloudConfig `json:"cloud"`
}

// CloudConfig holds the remote provider settings. The key normally comes from
// the BOLT_CLOUD_KEY env var; the provider is auto-detected from its prefix.
type CloudConfig struct {
	APIKey string `json:"api_key,omitempty"`
	Model  string `json:"model,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Default returns a Config with the stock model roster and limits.
func Default() *Config {
	return &Config{
		OllamaURL: "http://localhost:11434",
		Models: map[ModelKey]string{
			ModelRouter:      "qwen2.5:1.5b",
			ModelCompanion:   "qwen2.5:7b",
			ModelFastCode:    "qwen2.5-coder:3b",
			ModelWorkerLight: "qwen2.5-coder:7b",
			ModelWorkerHeavy: "qwen2.5-coder:14b",
			ModelBeast:       "qwen2.5-coder:32b-instruct-q3_K_M",
			ModelCloud:       "cloud",
		},
		DataDir:            filepath.Join(homeDir(), ".bolt"),
		MaxContextTokens:   2000,
		MaxToolLoops:       25,
		ToolTimeoutSeconds: 120,
		SummaryInterval:    20,
		ProfileInterval:    5,
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// Model resolves a logical key to its concrete model name.
func (c *Config) Model(key ModelKey) string {
	return c.Models[key]
}

// ToolTimeout is ToolTimeoutSeconds as a duration.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSeconds) * time.Second
}

// DBPath is the location of the embedded store.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "bolt.db")
}

// PluginDir is the drop-in custom tool directory.
func (c *Config) PluginDir() string {
	return filepath.Join(c.DataDir, "custom_tools")
}

// CompanionModels are the keys kept loaded during companion mode.
// The router always stays resident; build mode unloads everything else.
func (c *Config) CompanionModels() []ModelKey {
	return []ModelKey{ModelRouter, ModelCompanion}
}
