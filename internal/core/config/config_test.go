package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/solatis/cepwarden/internal/types"
)

const (
	secretA = "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"
	secretB = "fedcba9876543210fedcba9876543210:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cepwarden.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHMACSecrets(t *testing.T) {
	t.Run("none configured", func(t *testing.T) {
		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets() error = %v, want nil", err)
		}
		if len(secrets) != 0 {
			t.Errorf("expected no secrets, got %d", len(secrets))
		}
	})

	t.Run("single secret", func(t *testing.T) {
		t.Setenv("CW_HMAC_SECRET", secretA)

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets() error = %v, want nil", err)
		}
		if _, ok := secrets["0123456789abcdef0123456789abcdef"]; !ok || len(secrets) != 1 {
			t.Errorf("secrets = %v, want the single secret_id", secrets)
		}
	})

	t.Run("numbered secrets for rotation", func(t *testing.T) {
		t.Setenv("CW_HMAC_SECRET_1", secretA)
		t.Setenv("CW_HMAC_SECRET_2", secretB)

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets() error = %v, want nil", err)
		}
		if len(secrets) != 2 {
			t.Errorf("expected 2 secrets, got %d", len(secrets))
		}
	})

	t.Run("duplicate secret_id", func(t *testing.T) {
		t.Setenv("CW_HMAC_SECRET", secretA)
		t.Setenv("CW_HMAC_SECRET_1", secretA)

		if _, err := HMACSecrets(); err == nil {
			t.Error("expected error for duplicate secret_id")
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		t.Setenv("CW_HMAC_SECRET", "invalid_format")

		if _, err := HMACSecrets(); err == nil {
			t.Error("expected error for invalid format")
		}
	})
}

func TestParseHMACSecretWithID(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid", secretA, false},
		{"missing colon", "0123456789abcdef0123456789abcdef", true},
		{"short secret_id", "tooshort:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w", true},
		{"non-hex secret_id", "0123456789abcdefGHIJKLMNOPQRSTUV:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w", true},
		{"uppercase secret_id", "0123456789ABCDEF0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w", true},
		{"invalid base64", "0123456789abcdef0123456789abcdef:not-valid-base64!!!", true},
		{"secret too short", "0123456789abcdef0123456789abcdef:c2hvcnQ=", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, secret, err := ParseHMACSecretWithID(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHMACSecretWithID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (id != "0123456789abcdef0123456789abcdef" || len(secret) < 32) {
				t.Errorf("ParseHMACSecretWithID() = %q, %d bytes", id, len(secret))
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig() error = %v, want nil", err)
		}
		if !cfg.Storage.SortStorage || !cfg.Storage.PrioritizeSortingByTimestamp {
			t.Errorf("storage flags = %+v, want sorting enabled", cfg.Storage)
		}
		if cfg.Storage.CleanUpInterval != 10 {
			t.Errorf("expected clean_up_interval 10, got %d", cfg.Storage.CleanUpInterval)
		}
		if cfg.Server.Port != 50061 || cfg.Server.MetricsPort != 9090 {
			t.Errorf("expected ports 50061/9090, got %d/%d", cfg.Server.Port, cfg.Server.MetricsPort)
		}
		if cfg.Server.RequestTimeout != 30*time.Second {
			t.Errorf("expected timeout 30s, got %v", cfg.Server.RequestTimeout)
		}
		if cfg.Server.MaxBatchSize != 1000 {
			t.Errorf("expected max_batch_size 1000, got %d", cfg.Server.MaxBatchSize)
		}
		if cfg.Database.URL != "" {
			t.Errorf("expected no database, got %q", cfg.Database.URL)
		}
	})

	t.Run("config file", func(t *testing.T) {
		path := writeConfig(t, `engine:
  storage:
    sort_storage: false
    clean_up_interval: 3
    attributes_priorities:
      a.price: 5
      b: 2
server:
  port: 6000
  metrics_port: 0
database:
  url: sqlite://matches.db
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v, want nil", err)
		}
		if cfg.Storage.SortStorage {
			t.Error("expected sort_storage false")
		}
		if cfg.Storage.CleanUpInterval != 3 {
			t.Errorf("expected clean_up_interval 3, got %d", cfg.Storage.CleanUpInterval)
		}
		if cfg.Storage.AttributesPriorities["a.price"] != 5 || cfg.Storage.AttributesPriorities["b"] != 2 {
			t.Errorf("attributes_priorities = %v", cfg.Storage.AttributesPriorities)
		}
		if cfg.Server.Port != 6000 || cfg.Server.MetricsPort != 0 {
			t.Errorf("expected ports 6000/0, got %d/%d", cfg.Server.Port, cfg.Server.MetricsPort)
		}
		if cfg.Database.URL != "sqlite://matches.db" {
			t.Errorf("expected database url, got %q", cfg.Database.URL)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("CW_SERVER_PORT", "8080")
		t.Setenv("CW_SERVER_HOST", "127.0.0.1")
		path := writeConfig(t, "server:\n  port: 9999\n")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v, want nil", err)
		}
		if cfg.Server.Port != 8080 || cfg.Server.Host != "127.0.0.1" {
			t.Errorf("expected 127.0.0.1:8080, got %s:%d", cfg.Server.Host, cfg.Server.Port)
		}
	})

	t.Run("secret in config file rejected", func(t *testing.T) {
		path := writeConfig(t, "server:\n  hmac_secret: should_be_rejected\n")

		_, err := LoadConfig(path)
		if err == nil || err.Error() != "HMAC secrets not allowed in config files (use CW_HMAC_SECRET environment variable)" {
			t.Fatalf("LoadConfig() error = %v, want secret rejection", err)
		}
	})

	t.Run("invalid clean_up_interval", func(t *testing.T) {
		t.Setenv("CW_ENGINE_STORAGE_CLEAN_UP_INTERVAL", "0")

		_, err := LoadConfig("")
		if !errors.Is(err, types.ErrInvalidCleanUpInterval) {
			t.Errorf("LoadConfig() error = %v, want ErrInvalidCleanUpInterval", err)
		}
	})

	t.Run("invalid port range", func(t *testing.T) {
		t.Setenv("CW_SERVER_PORT", "70000")

		if _, err := LoadConfig(""); err == nil {
			t.Error("expected error for port > 65535")
		}
	})

	t.Run("invalid priorities", func(t *testing.T) {
		path := writeConfig(t, "engine:\n  storage:\n    attributes_priorities:\n      a: high\n")

		if _, err := LoadConfig(path); err == nil {
			t.Error("expected error for non-integer priority")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing config file")
		}
	})
}
