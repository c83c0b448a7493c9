package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValidWithPassword(t *testing.T) {
	cfg := Default()
	cfg.AdminPassword = "secret"

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing password", func(c *Config) { c.AdminPassword = "" }, "admin password"},
		{"port too low", func(c *Config) { c.Port = 0 }, "invalid port"},
		{"port too high", func(c *Config) { c.Port = 70000 }, "invalid port"},
		{"empty database path", func(c *Config) { c.DatabasePath = "" }, "database path"},
		{"zero rate limit", func(c *Config) { c.RateLimit = 0 }, "rate limit"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.AdminPassword = "secret"
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestBaseURL(t *testing.T) {
	cfg := Default()
	if got := cfg.BaseURL(); got != "http://0.0.0.0:3000" {
		t.Errorf("unexpected default base URL %q", got)
	}

	cfg.PublicURL = "https://quiz.example.edu"
	if got := cfg.BaseURL(); got != "https://quiz.example.edu" {
		t.Errorf("expected public URL override, got %q", got)
	}
}
