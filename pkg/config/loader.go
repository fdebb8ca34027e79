// Package config provides simple configuration loading
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads a configuration from a YAML file. Unset fields keep their
// defaults. Values of the form ${VAR} or ${VAR:-default} are substituted
// from the environment before parsing.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller and validated
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves a configuration to a YAML file
func Save(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} references
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := content[start+2 : end]
		name, fallback := expr, ""
		if idx := strings.Index(expr, ":-"); idx != -1 {
			name, fallback = expr[:idx], expr[idx+2:]
		}

		value, ok := os.LookupEnv(name)
		if !ok {
			value = fallback
		}
		content = content[:start] + value + content[end+1:]
	}
	return content
}
