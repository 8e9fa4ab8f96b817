// Package config provides configuration management for cepwarden services.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/solatis/cepwarden/internal/tree"
)

const (
	envHMACSecret = "CW_HMAC_SECRET"
	minSecretLen  = 32
)

// Config is the complete service configuration.
type Config struct {
	Storage  tree.StorageParameters
	Server   ServerConfig
	Database DatabaseConfig
}

// ServerConfig holds configuration for the gRPC ingest service.
type ServerConfig struct {
	Host           string
	Port           int
	MetricsPort    int // 0 disables the /metrics listener
	MaxConnections int
	RequestTimeout time.Duration
	MaxBatchSize   int
}

// DatabaseConfig selects the optional match store.
type DatabaseConfig struct {
	URL string // empty disables persistence
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Storage: tree.DefaultStorageParameters(),
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           50061,
			MetricsPort:    9090,
			MaxConnections: 1000,
			RequestTimeout: 30 * time.Second,
			MaxBatchSize:   1000,
		},
	}
}

// HMACSecrets reads ingest key secrets from CW_HMAC_SECRET and
// CW_HMAC_SECRET_1, CW_HMAC_SECRET_2, ... (stopping at the first gap).
// Several keys may be active at once for rotation.
// Returns map of secret_id -> decoded secret bytes.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)
	add := func(name, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("%s: duplicate secret_id '%s' (check CW_HMAC_SECRET and CW_HMAC_SECRET_* for conflicts)", name, secretID)
		}
		secrets[secretID] = decoded
		return nil
	}

	if val := os.Getenv(envHMACSecret); val != "" {
		if err := add(envHMACSecret, val); err != nil {
			return nil, err
		}
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s_%d", envHMACSecret, i)
		val := os.Getenv(name)
		if val == "" {
			break
		}
		if err := add(name, val); err != nil {
			return nil, err
		}
	}
	return secrets, nil
}

// ParseHMACSecretWithID parses <secret_id>:<base64_secret>. The ID is 32
// lowercase hex chars and the decoded secret at least 32 bytes.
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	secretID, encoded, ok := strings.Cut(strings.TrimSpace(envValue), ":")
	if !ok {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars")
	}
	if _, err := hex.DecodeString(secretID); err != nil || strings.ToLower(secretID) != secretID {
		return "", nil, fmt.Errorf("secret_id must be lowercase hex chars only")
	}

	secret, err = base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(secret) < minSecretLen {
		return "", nil, fmt.Errorf("secret must be at least %d bytes, got %d", minSecretLen, len(secret))
	}
	return secretID, secret, nil
}
