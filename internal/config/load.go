package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, starting from DefaultConfig so
// that any key the file omits keeps its default, then validates the result.
// A missing path is not an error — callers get DefaultConfig back untouched,
// the way the broker runs fine with zero configuration for local testing.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ResolveConfig layers environment overrides on top of a loaded Config.
// CLI flags are applied by the caller afterward (cobra already owns flag
// precedence): defaults < file < env < CLI.
func ResolveConfig(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed after env overrides: %w", err)
	}

	return cfg, nil
}
