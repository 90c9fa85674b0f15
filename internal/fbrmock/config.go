package fbrmock

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls the emulator.
type Config struct {
	Port            int           `yaml:"port"`
	Token           string        `yaml:"token"`
	Latency         time.Duration `yaml:"-"`
	RejectScenarios []string      `yaml:"reject_scenarios"`
}

type fileConfig struct {
	Config  `yaml:",inline"`
	Latency string `yaml:"latency"`
}

// LoadConfig reads an emulator configuration from a YAML file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML emulator configuration.
func ParseConfig(data []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := fc.Config
	if fc.Latency != "" {
		d, err := time.ParseDuration(fc.Latency)
		if err != nil {
			return Config{}, fmt.Errorf("invalid latency: %w", err)
		}
		cfg.Latency = d
	}
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return cfg, nil
}
