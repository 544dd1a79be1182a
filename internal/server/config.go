package server

import (
	"fmt"
	"time"

	"github.com/inferloop/tabsynth/pkg/constants"
)

// Config holds HTTP server settings
type Config struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	MaxRequestBytes int64         `json:"max_request_bytes" mapstructure:"max_request_bytes"`
	MaxRows         int           `json:"max_rows" mapstructure:"max_rows"`
	// EnableDebug exposes /debug/stats and /debug/routes
	EnableDebug bool `json:"enable_debug" mapstructure:"enable_debug"`
}

func getDefaultConfig() *Config {
	return &Config{
		Host:            constants.DefaultHost,
		Port:            constants.DefaultPort,
		ReadTimeout:     constants.DefaultReadTimeout,
		WriteTimeout:    constants.DefaultWriteTimeout,
		IdleTimeout:     constants.DefaultIdleTimeout,
		MaxRequestBytes: constants.MaxUploadSize,
		MaxRows:         constants.MaxGenerationRows,
	}
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return getDefaultConfig()
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}

	if c.MaxRequestBytes <= 0 {
		return fmt.Errorf("max request size must be positive")
	}

	if c.MaxRows < 0 {
		return fmt.Errorf("max rows must not be negative")
	}

	return nil
}

// GetAddress returns the server address
func (c *Config) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
