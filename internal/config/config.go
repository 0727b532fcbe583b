package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Separator SeparatorConfig
	Fetcher   FetcherConfig
	Encoder   EncoderConfig
	R2        R2Config
	Sync      SyncConfig
	Monitor   MonitorConfig
	Stream    StreamConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	UploadPerHour int
	RemotePerHour int
	ExportPerHour int
	MixerPerMin   int
}

type StorageConfig struct {
	DataDir    string
	QuotaBytes int64 // 0 = unlimited
}

type SeparatorConfig struct {
	Engine     string // "http" or "demucs"
	ServiceURL string
	Timeout    int // seconds
	DemucsBin  string
}

type FetcherConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

type EncoderConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type SyncConfig struct {
	IntervalMs  int
	ThresholdMs int
	StaleMs     int
}

type MonitorConfig struct {
	Enabled bool
}

type StreamConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = viper.BindEnv("ratelimit.remote_per_hour", "RATELIMIT_REMOTE_PER_HOUR")
	_ = viper.BindEnv("ratelimit.export_per_hour", "RATELIMIT_EXPORT_PER_HOUR")
	_ = viper.BindEnv("ratelimit.mixer_per_min", "RATELIMIT_MIXER_PER_MIN")
	_ = viper.BindEnv("storage.data_dir", "STORAGE_DATA_DIR")
	_ = viper.BindEnv("storage.quota_bytes", "STORAGE_QUOTA_BYTES")
	_ = viper.BindEnv("separator.engine", "SEPARATOR_ENGINE")
	_ = viper.BindEnv("separator.service_url", "SEPARATOR_SERVICE_URL")
	_ = viper.BindEnv("separator.timeout", "SEPARATOR_TIMEOUT")
	_ = viper.BindEnv("separator.demucs_bin", "SEPARATOR_DEMUCS_BIN")
	_ = viper.BindEnv("fetcher.service_url", "FETCHER_SERVICE_URL")
	_ = viper.BindEnv("fetcher.timeout", "FETCHER_TIMEOUT")
	_ = viper.BindEnv("encoder.service_url", "ENCODER_SERVICE_URL")
	_ = viper.BindEnv("encoder.timeout", "ENCODER_TIMEOUT")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("sync.interval_ms", "SYNC_INTERVAL_MS")
	_ = viper.BindEnv("sync.threshold_ms", "SYNC_THRESHOLD_MS")
	_ = viper.BindEnv("sync.stale_ms", "SYNC_STALE_MS")
	_ = viper.BindEnv("monitor.enabled", "MONITOR_ENABLED")
	_ = viper.BindEnv("stream.enabled", "STREAM_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.upload_per_hour", 20)
	viper.SetDefault("ratelimit.remote_per_hour", 10)
	viper.SetDefault("ratelimit.export_per_hour", 20)
	viper.SetDefault("ratelimit.mixer_per_min", 120)

	// Storage defaults
	viper.SetDefault("storage.data_dir", "./data")
	viper.SetDefault("storage.quota_bytes", 0)

	// Separation engine defaults
	viper.SetDefault("separator.engine", "http")
	viper.SetDefault("separator.service_url", "http://localhost:8084")
	viper.SetDefault("separator.timeout", 600)
	viper.SetDefault("separator.demucs_bin", "demucs")

	// Fetcher defaults
	viper.SetDefault("fetcher.service_url", "")
	viper.SetDefault("fetcher.timeout", 300)

	// Encoder defaults
	viper.SetDefault("encoder.service_url", "")
	viper.SetDefault("encoder.timeout", 120)

	// Sync defaults
	viper.SetDefault("sync.interval_ms", 250)
	viper.SetDefault("sync.threshold_ms", 50)
	viper.SetDefault("sync.stale_ms", 2000)

	// Monitor / stream defaults
	viper.SetDefault("monitor.enabled", false)
	viper.SetDefault("stream.enabled", true)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour: viper.GetInt("ratelimit.upload_per_hour"),
			RemotePerHour: viper.GetInt("ratelimit.remote_per_hour"),
			ExportPerHour: viper.GetInt("ratelimit.export_per_hour"),
			MixerPerMin:   viper.GetInt("ratelimit.mixer_per_min"),
		},
		Storage: StorageConfig{
			DataDir:    viper.GetString("storage.data_dir"),
			QuotaBytes: viper.GetInt64("storage.quota_bytes"),
		},
		Separator: SeparatorConfig{
			Engine:     viper.GetString("separator.engine"),
			ServiceURL: viper.GetString("separator.service_url"),
			Timeout:    viper.GetInt("separator.timeout"),
			DemucsBin:  viper.GetString("separator.demucs_bin"),
		},
		Fetcher: FetcherConfig{
			ServiceURL: viper.GetString("fetcher.service_url"),
			Timeout:    viper.GetInt("fetcher.timeout"),
		},
		Encoder: EncoderConfig{
			ServiceURL: viper.GetString("encoder.service_url"),
			Timeout:    viper.GetInt("encoder.timeout"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Sync: SyncConfig{
			IntervalMs:  viper.GetInt("sync.interval_ms"),
			ThresholdMs: viper.GetInt("sync.threshold_ms"),
			StaleMs:     viper.GetInt("sync.stale_ms"),
		},
		Monitor: MonitorConfig{
			Enabled: viper.GetBool("monitor.enabled"),
		},
		Stream: StreamConfig{
			Enabled: viper.GetBool("stream.enabled"),
		},
	}

	return cfg, nil
}
