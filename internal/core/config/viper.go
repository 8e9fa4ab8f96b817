package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("engine.storage.sort_storage", d.Storage.SortStorage)
	v.SetDefault("engine.storage.clean_up_interval", d.Storage.CleanUpInterval)
	v.SetDefault("engine.storage.prioritize_sorting_by_timestamp", d.Storage.PrioritizeSortingByTimestamp)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.metrics_port", d.Server.MetricsPort)
	v.SetDefault("server.max_connections", d.Server.MaxConnections)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("server.max_batch_size", d.Server.MaxBatchSize)
	v.SetDefault("database.url", "")

	// Bind environment variables with CW_ prefix
	v.SetEnvPrefix("CW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets must be environment-only
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	priorities, err := flattenPriorities("", v.Get("engine.storage.attributes_priorities"))
	if err != nil {
		return nil, fmt.Errorf("engine.storage.attributes_priorities: %w", err)
	}

	cfg := &Config{}
	cfg.Storage.SortStorage = v.GetBool("engine.storage.sort_storage")
	cfg.Storage.CleanUpInterval = v.GetInt("engine.storage.clean_up_interval")
	cfg.Storage.PrioritizeSortingByTimestamp = v.GetBool("engine.storage.prioritize_sorting_by_timestamp")
	cfg.Storage.AttributesPriorities = priorities
	cfg.Server = ServerConfig{
		Host:           v.GetString("server.host"),
		Port:           v.GetInt("server.port"),
		MetricsPort:    v.GetInt("server.metrics_port"),
		MaxConnections: v.GetInt("server.max_connections"),
		RequestTimeout: v.GetDuration("server.request_timeout"),
		MaxBatchSize:   v.GetInt("server.max_batch_size"),
	}
	cfg.Database.URL = v.GetString("database.url")

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flattenPriorities turns the attributes_priorities map back into dotted
// attribute references; viper splits "a.price" keys into nested maps.
func flattenPriorities(prefix string, raw any) (map[string]int, error) {
	out := map[string]int{}
	if raw == nil {
		return out, nil
	}
	m, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, err
	}
	for k, val := range m {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			sub, err := flattenPriorities(name, nested)
			if err != nil {
				return nil, err
			}
			for sk, sv := range sub {
				out[sk] = sv
			}
			continue
		}
		p, err := cast.ToIntE(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

// validateConfig checks port ranges and positive limits.
func validateConfig(cfg *Config) error {
	if err := cfg.Storage.Validate(); err != nil {
		return err
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port must be between 0 and 65535, got %d", cfg.Server.MetricsPort)
	}
	if cfg.Server.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", cfg.Server.MaxConnections)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive, got %d", cfg.Server.MaxBatchSize)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.IsSet("hmac_secret") || v.IsSet("server.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use CW_HMAC_SECRET environment variable)")
	}
	return nil
}
