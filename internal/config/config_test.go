package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default mode is api",
			check:  func(c *Config) bool { return c.Mode == "api" },
			expect: "api",
		},
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default issuer is hubex",
			check:  func(c *Config) bool { return c.JWTIssuer == "hubex" },
			expect: "hubex",
		},
		{
			name:   "caps enforcement defaults off",
			check:  func(c *Config) bool { return !c.CapsEnforce },
			expect: "false",
		},
		{
			name:   "telemetry rate default",
			check:  func(c *Config) bool { return c.TelemetryRatePerMin == 60 },
			expect: "60",
		},
		{
			name:   "ws cap default",
			check:  func(c *Config) bool { return c.WSMaxConnections == 200 },
			expect: "200",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestAccessTokenTTL(t *testing.T) {
	cfg := &Config{AccessTokenExpireMinutes: 90}
	if got := cfg.AccessTokenTTL().Minutes(); got != 90 {
		t.Errorf("AccessTokenTTL() = %v minutes, want 90", got)
	}
}
