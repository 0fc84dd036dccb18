package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and, if present, a
// config.yaml in the working directory. Environment variables take
// precedence over file values and use the READINGS_ prefix with underscores
// for nesting (e.g. READINGS_DATABASE_URL, READINGS_LIMITER_ACCOUNT_RPM).
// Returns a populated Config or an error if loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("READINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without defaults must be bound explicitly or Unmarshal never
	// consults their environment variables.
	for _, key := range []string{
		"database.url",
		"generation.gemini_api_key",
		"generation.media_api_base_url",
		"generation.media_api_key",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers defaults for everything that has a sane one.
// Credentials and the database URL deliberately have no default.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.poll_interval_ms", 2000)
	v.SetDefault("worker.reclaim_interval_ms", 60000)

	v.SetDefault("limiter.account_rpm", 24)
	v.SetDefault("limiter.expected_processes", 2)
	v.SetDefault("limiter.default_cooldown_s", 30)
	v.SetDefault("limiter.max_cooldown_s", 600)

	v.SetDefault("generation.model_name", "gemini-2.0-flash")
}
