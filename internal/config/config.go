// Package config loads and validates process configuration. It keeps the
// flat Config struct shape the teacher's cmd/server/main.go used, but reads
// it through viper (environment variables, an optional YAML file, and a
// .env file) instead of a hand-rolled getEnv/getEnvInt pair.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every tunable named in spec.md §6.
type Config struct {
	Port string `mapstructure:"port"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	MaxConcurrentRequests     int           `mapstructure:"max_concurrent_requests"`
	RequestTimeout            time.Duration `mapstructure:"request_timeout_ms"`
	RateLimitPerUserPerMinute int           `mapstructure:"rate_limit_per_user_per_minute"`
	RetryDelay                time.Duration `mapstructure:"retry_delay_ms"`
	CompleterRetryDelay       time.Duration `mapstructure:"completer_retry_delay_ms"`
	MaxRetries                int           `mapstructure:"max_retries"`
	EnableRequestDeduplication bool         `mapstructure:"enable_request_deduplication"`
	EnableResponseCaching      bool         `mapstructure:"enable_response_caching"`
	CacheTTL                   time.Duration `mapstructure:"cache_ttl_seconds"`

	MaxOperationHistory int           `mapstructure:"max_operation_history"`
	SessionTimeout      time.Duration `mapstructure:"session_timeout_seconds"`
	MaxProcessingTime   time.Duration `mapstructure:"max_processing_time_ms"`

	EnableStatusTracking    bool `mapstructure:"enable_status_tracking"`
	EnableUserNotifications bool `mapstructure:"enable_user_notifications"`

	DocumentTTL         time.Duration `mapstructure:"document_ttl_seconds"`
	BroadcastBufferSize int           `mapstructure:"broadcast_buffer_size"`
	WSReadTimeout       time.Duration `mapstructure:"ws_read_timeout_minutes"`
	WSWriteTimeout      time.Duration `mapstructure:"ws_write_timeout_seconds"`
	MaxDocumentSize     int           `mapstructure:"max_document_size_kb"`

	SweepInterval time.Duration `mapstructure:"sweep_interval_seconds"`

	AICompleterEndpoint string `mapstructure:"ai_completer_endpoint"`
	AICompleterAPIKey   string `mapstructure:"ai_completer_api_key"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// Load reads configuration from the environment (COLABHUB_ prefix), a
// .env file (if present) and optionally a YAML file at configPath, falling
// back to spec.md §6 defaults for anything unset.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence is not an error

	v := viper.New()
	v.SetEnvPrefix("COLABHUB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	cfg := &Config{
		Port:                       v.GetString("port"),
		RedisAddr:                  v.GetString("redis_addr"),
		RedisPassword:              v.GetString("redis_password"),
		RedisDB:                    v.GetInt("redis_db"),
		MaxConcurrentRequests:      v.GetInt("max_concurrent_requests"),
		RequestTimeout:             time.Duration(v.GetInt("request_timeout_ms")) * time.Millisecond,
		RateLimitPerUserPerMinute:  v.GetInt("rate_limit_per_user_per_minute"),
		RetryDelay:                 time.Duration(v.GetInt("retry_delay_ms")) * time.Millisecond,
		CompleterRetryDelay:        time.Duration(v.GetInt("completer_retry_delay_ms")) * time.Millisecond,
		MaxRetries:                 v.GetInt("max_retries"),
		EnableRequestDeduplication: v.GetBool("enable_request_deduplication"),
		EnableResponseCaching:      v.GetBool("enable_response_caching"),
		CacheTTL:                   time.Duration(v.GetInt("cache_ttl_seconds")) * time.Second,
		MaxOperationHistory:        v.GetInt("max_operation_history"),
		SessionTimeout:             time.Duration(v.GetInt("session_timeout_seconds")) * time.Second,
		MaxProcessingTime:          time.Duration(v.GetInt("max_processing_time_ms")) * time.Millisecond,
		EnableStatusTracking:       v.GetBool("enable_status_tracking"),
		EnableUserNotifications:    v.GetBool("enable_user_notifications"),
		DocumentTTL:                time.Duration(v.GetInt("document_ttl_seconds")) * time.Second,
		BroadcastBufferSize:        v.GetInt("broadcast_buffer_size"),
		WSReadTimeout:              time.Duration(v.GetInt("ws_read_timeout_minutes")) * time.Minute,
		WSWriteTimeout:             time.Duration(v.GetInt("ws_write_timeout_seconds")) * time.Second,
		MaxDocumentSize:            v.GetInt("max_document_size_kb") * 1024,
		SweepInterval:              time.Duration(v.GetInt("sweep_interval_seconds")) * time.Second,
		AICompleterEndpoint:        v.GetString("ai_completer_endpoint"),
		AICompleterAPIKey:          v.GetString("ai_completer_api_key"),
		LogLevel:                   v.GetString("log_level"),
		LogFile:                    v.GetString("log_file"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "3030")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("max_concurrent_requests", 5)
	v.SetDefault("request_timeout_ms", 60000)
	v.SetDefault("rate_limit_per_user_per_minute", 10)
	v.SetDefault("retry_delay_ms", 5000)
	v.SetDefault("completer_retry_delay_ms", 1000)
	v.SetDefault("max_retries", 3)
	v.SetDefault("enable_request_deduplication", true)
	v.SetDefault("enable_response_caching", true)
	v.SetDefault("cache_ttl_seconds", 3600)

	v.SetDefault("max_operation_history", 1000)
	v.SetDefault("session_timeout_seconds", 3600)
	v.SetDefault("max_processing_time_ms", 60000)

	v.SetDefault("enable_status_tracking", true)
	v.SetDefault("enable_user_notifications", true)

	v.SetDefault("document_ttl_seconds", 3600)
	v.SetDefault("broadcast_buffer_size", 16)
	v.SetDefault("ws_read_timeout_minutes", 30)
	v.SetDefault("ws_write_timeout_seconds", 10)
	v.SetDefault("max_document_size_kb", 256)

	v.SetDefault("sweep_interval_seconds", 60)

	v.SetDefault("ai_completer_endpoint", "")
	v.SetDefault("ai_completer_api_key", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
}
