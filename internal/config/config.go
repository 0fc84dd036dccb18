package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"   validate:"required"`
	Worker     WorkerConfig     `mapstructure:"worker"     validate:"required"`
	Limiter    LimiterConfig    `mapstructure:"limiter"    validate:"required"`
	Generation GenerationConfig `mapstructure:"generation" validate:"required"`
}

// ServerConfig contains all HTTP-server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// WorkerConfig tunes the task executor loop and the lease reclaimer.
type WorkerConfig struct {
	// Count is how many claim-execute-report loops run in this process.
	Count int `mapstructure:"count" validate:"required,gt=0"`

	// PollIntervalMs is the idle delay between claim attempts when no
	// task is available.
	PollIntervalMs int `mapstructure:"poll_interval_ms" validate:"required,gt=0"`

	// ReclaimIntervalMs is how often the reclaimer sweeps for tasks whose
	// worker stopped heartbeating.
	ReclaimIntervalMs int `mapstructure:"reclaim_interval_ms" validate:"required,gt=0"`
}

// LimiterConfig sizes the outbound call limiter. The per-process pacing
// interval is derived as 60s / (account_rpm / expected_processes).
type LimiterConfig struct {
	AccountRPM        int `mapstructure:"account_rpm"         validate:"required,gt=0"`
	ExpectedProcesses int `mapstructure:"expected_processes"  validate:"required,gt=0"`
	DefaultCooldownS  int `mapstructure:"default_cooldown_s"  validate:"required,gt=0"`
	MaxCooldownS      int `mapstructure:"max_cooldown_s"      validate:"required,gt=0"`
}

// GenerationConfig contains settings for the external generation APIs.
type GenerationConfig struct {
	// GeminiAPIKey authenticates the text-generation client.
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`

	// ModelName selects the text model.
	ModelName string `mapstructure:"model_name" validate:"required"`

	// MediaAPIBaseURL is the base URL of the media rendering API
	// (document/audio/song stages).
	MediaAPIBaseURL string `mapstructure:"media_api_base_url" validate:"required,url"`

	// MediaAPIKey authenticates calls to the media rendering API.
	MediaAPIKey string `mapstructure:"media_api_key" validate:"required"`
}
