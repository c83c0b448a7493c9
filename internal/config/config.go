package config

import (
	"errors"
	"fmt"
)

// Config carries everything the application needs at startup. Values are
// populated from flags and WORDASSOC_* environment variables by the
// command entrypoint.
type Config struct {
	Bind          string
	Port          int
	DatabasePath  string
	AdminPassword string

	// PublicURL is the externally reachable base URL, used to build the
	// participant join link and its QR code. Falls back to the bind
	// address when unset.
	PublicURL string

	// RateLimit caps requests per client per minute on the HTTP API.
	RateLimit int

	Verbose bool
}

// Default returns the configuration used when no flags are set.
func Default() *Config {
	return &Config{
		Bind:         "0.0.0.0",
		Port:         3000,
		DatabasePath: "wordassoc.db",
		RateLimit:    100,
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.AdminPassword == "" {
		return errors.New("admin password must be set")
	}
	if c.RateLimit < 1 {
		return fmt.Errorf("invalid rate limit: %d", c.RateLimit)
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// BaseURL returns the address participants should be pointed at.
func (c *Config) BaseURL() string {
	if c.PublicURL != "" {
		return c.PublicURL
	}
	return fmt.Sprintf("http://%s", c.Addr())
}
