package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error — defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("BOLT_OLLAMA_URL", &c.OllamaURL)
	envStr("BOLT_DATA_DIR", &c.DataDir)
	envStr("BOLT_CLOUD_KEY", &c.Cloud.APIKey)
	envStr("BOLT_CLOUD_MODEL", &c.Cloud.Model)
	envStr("BOLT_CLOUD_URL", &c.Cloud.URL)

	// Backward compat: ANTHROPIC_API_KEY works if BOLT_CLOUD_KEY isn't set.
	if c.Cloud.APIKey == "" {
		c.Cloud.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}
