// Package config loads the declarative pod list: which pods a project wants,
// where they come from, and per-pod load options.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the project pod declaration file.
const DefaultPath = "pods.yaml"

// Config is the full declaration file.
type Config struct {
	Pods []PodConf `yaml:"pods"`
	API  APIConfig `yaml:"api,omitempty"`
}

// PodConf declares one pod. Exactly one of Version (registry coordinate in
// Name) or Path (local binary) must be set.
type PodConf struct {
	Name    string   `yaml:"name"`
	Version string   `yaml:"version,omitempty"`
	Path    string   `yaml:"path,omitempty"`
	Cache   string   `yaml:"cache,omitempty"`
	Opts    *PodOpts `yaml:"opts,omitempty"`
}

// PodOpts are per-pod load options.
type PodOpts struct {
	Transport string `yaml:"transport,omitempty"` // stdio | socket
	Force     bool   `yaml:"force,omitempty"`
}

// APIConfig enables the optional status API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8115",
		},
	}
}

// Load reads and validates a declaration file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the declaration rules.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, p := range c.Pods {
		if p.Name == "" {
			return fmt.Errorf("pods[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("pods[%d]: duplicate pod %q", i, p.Name)
		}
		seen[p.Name] = true

		hasVersion := p.Version != ""
		hasPath := p.Path != ""
		if hasVersion == hasPath {
			return fmt.Errorf("pods[%d] (%s): exactly one of version or path must be set", i, p.Name)
		}
		if p.Opts != nil {
			switch p.Opts.Transport {
			case "", "stdio", "socket":
			default:
				return fmt.Errorf("pods[%d] (%s): invalid transport %q", i, p.Name, p.Opts.Transport)
			}
		}
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the api is enabled")
	}
	return nil
}

// Select filters the pod list by name. With no selectors, every pod is
// returned.
func (c *Config) Select(names ...string) []PodConf {
	if len(names) == 0 {
		return c.Pods
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []PodConf
	for _, p := range c.Pods {
		if want[p.Name] {
			out = append(out, p)
		}
	}
	return out
}
