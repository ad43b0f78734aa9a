package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
)

// Config represents the application configuration
type Config struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	Output      string   `json:"output"`
	Content     bool     `json:"content"`  // Also capture response bodies
	Agent       string   `json:"agent"`    // User agent string or device preset name
	Grace       int      `json:"grace"`    // Delay in milliseconds after the load event
	Timeout     int      `json:"timeout"`  // Per URL budget in milliseconds, 0 = none
	Parallel    int      `json:"parallel"` // URLs loaded concurrently
	Headers     []string `json:"headers"`  // "Name: value" request headers
	Launch      bool     `json:"launch"`   // Start a local headless Chrome
	ChromePath  string   `json:"chromePath"`
	MetricsPath string   `json:"metrics"`
}

const (
	DefaultHost     = "localhost"
	DefaultPort     = 9222
	DefaultParallel = 1
)

// LoadConfig loads configuration from a file. An empty path or a missing
// file yields an empty configuration.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config, json.MatchCaseInsensitiveNames(true)); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &config, nil
}

// Validate sets defaults and checks the configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	} else if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if c.Parallel == 0 {
		c.Parallel = DefaultParallel
	} else if c.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1")
	}

	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("width and height must not be negative")
	}
	if c.Grace < 0 {
		return fmt.Errorf("grace must not be negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	for _, h := range c.Headers {
		if idx := strings.Index(h, ":"); idx <= 0 || strings.TrimSpace(h[:idx]) == "" {
			return fmt.Errorf("header %q is not in \"Name: value\" form", h)
		}
	}
	return nil
}

// GraceDuration returns the grace delay.
func (c *Config) GraceDuration() time.Duration {
	return time.Duration(c.Grace) * time.Millisecond
}

// TimeoutDuration returns the per URL timeout, zero when unlimited.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}
