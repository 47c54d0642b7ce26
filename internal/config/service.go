package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Service holds the HTTP service configuration, loaded from YAML.
type Service struct {
	// Host is the listen address. Empty means all interfaces.
	Host string `yaml:"host"`
	// Port on which the service listens.
	Port int `yaml:"port"`
	// MaxConnections caps concurrent client connections at the listener.
	MaxConnections int `yaml:"maxConnections"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`

	// RecBaseURL is the Rec API endpoint.
	RecBaseURL string `yaml:"recBaseUrl"`
	// WebDAVURL is the PanDav endpoint users authenticate against.
	WebDAVURL string `yaml:"webdavUrl"`

	// Workers overrides the per-task worker pool sizes. Zero keeps defaults.
	Workers WorkerConfig `yaml:"workers"`
}

// WorkerConfig overrides worker pool sizes per transfer type.
type WorkerConfig struct {
	Transfer int `yaml:"transfer"`
	Download int `yaml:"download"`
	Upload   int `yaml:"upload"`
}

// DefaultService returns the built-in service defaults.
func DefaultService() Service {
	return Service{
		Host:           "",
		Port:           8045,
		MaxConnections: 100,
		LogLevel:       "info",
		RecBaseURL:     "https://recapi.ustc.edu.cn/api/v3",
		WebDAVURL:      "",
	}
}

// ReadService parses YAML config data over the defaults. Environment
// variables of the form ${ENV_VAR} are expanded before parsing.
func ReadService(data []byte) (Service, error) {
	data = []byte(os.ExpandEnv(string(data)))

	cfg := DefaultService()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("couldn't parse configuration data: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadService reads the service config from a file. An empty path yields
// the defaults.
func LoadService(path string) (Service, error) {
	if path == "" {
		return DefaultService(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultService(), fmt.Errorf("couldn't read config file %s: %w", path, err)
	}
	return ReadService(data)
}

// Validate checks the service parameters.
func (s Service) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 0-65535)", s.Port)
	}
	if s.MaxConnections <= 0 {
		return fmt.Errorf("invalid maxConnections: %d (must be positive)", s.MaxConnections)
	}
	if s.RecBaseURL == "" {
		return fmt.Errorf("recBaseUrl must be set")
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logLevel: %q", s.LogLevel)
	}
	if s.Workers.Transfer < 0 || s.Workers.Download < 0 || s.Workers.Upload < 0 {
		return fmt.Errorf("worker counts must be non-negative")
	}
	return nil
}
