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
	Email     EmailConfig
	Zitadel   ZitadelConfig
	Gateway   GatewayConfig
	Render    RenderConfig
	Retention RetentionConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
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
	SubmitPerHour int
	StatusPerMin  int
}

// StorageConfig configures the artifact bucket (S3-compatible, R2 in
// production).
type StorageConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UploadRetries   int
}

type EmailConfig struct {
	ServiceURL string
	FromName   string
	Timeout    int // seconds
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

// RenderConfig bounds and tooling for the render pipeline. Duration limits
// are per plan and deliberately configuration, not constants.
type RenderConfig struct {
	MaxAttempts           int
	AttemptTimeoutSec     int
	MaxDurationFreeSec    int
	MaxDurationPremiumSec int
	MaxInputBytes         int64
	WorkDir               string
	BrowserBin            string
	VisualizerURL         string
	FFmpegBin             string
	FFprobeBin            string
	VideoCRF              int
	VideoPreset           string
	FrameRate             int
	Width                 int
	Height                int
	Concurrency           int
}

type RetentionConfig struct {
	RecordTTLHours  int
	ArtifactTTLDays int
	SignedURLTTLMin int
	SweepSpec       string // asynq scheduler cron/interval spec
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("STORAGE_ACCOUNT_ID")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

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
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("storage.account_id", "STORAGE_ACCOUNT_ID")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = viper.BindEnv("storage.upload_retries", "STORAGE_UPLOAD_RETRIES")
	_ = viper.BindEnv("email.service_url", "EMAIL_SERVICE_URL")
	_ = viper.BindEnv("email.from_name", "EMAIL_FROM_NAME")
	_ = viper.BindEnv("email.timeout", "EMAIL_SERVICE_TIMEOUT")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("render.max_attempts", "RENDER_MAX_ATTEMPTS")
	_ = viper.BindEnv("render.attempt_timeout_sec", "RENDER_ATTEMPT_TIMEOUT")
	_ = viper.BindEnv("render.max_duration_free_sec", "RENDER_MAX_DURATION_FREE")
	_ = viper.BindEnv("render.max_duration_premium_sec", "RENDER_MAX_DURATION_PREMIUM")
	_ = viper.BindEnv("render.max_input_bytes", "RENDER_MAX_INPUT_BYTES")
	_ = viper.BindEnv("render.work_dir", "RENDER_WORK_DIR")
	_ = viper.BindEnv("render.browser_bin", "RENDER_BROWSER_BIN")
	_ = viper.BindEnv("render.visualizer_url", "RENDER_VISUALIZER_URL")
	_ = viper.BindEnv("render.ffmpeg_bin", "FFMPEG_BIN")
	_ = viper.BindEnv("render.ffprobe_bin", "FFPROBE_BIN")
	_ = viper.BindEnv("render.video_crf", "RENDER_VIDEO_CRF")
	_ = viper.BindEnv("render.video_preset", "RENDER_VIDEO_PRESET")
	_ = viper.BindEnv("render.frame_rate", "RENDER_FRAME_RATE")
	_ = viper.BindEnv("render.width", "RENDER_WIDTH")
	_ = viper.BindEnv("render.height", "RENDER_HEIGHT")
	_ = viper.BindEnv("render.concurrency", "RENDER_CONCURRENCY")
	_ = viper.BindEnv("retention.record_ttl_hours", "RETENTION_RECORD_TTL_HOURS")
	_ = viper.BindEnv("retention.artifact_ttl_days", "RETENTION_ARTIFACT_TTL_DAYS")
	_ = viper.BindEnv("retention.signed_url_ttl_min", "RETENTION_SIGNED_URL_TTL_MIN")
	_ = viper.BindEnv("retention.sweep_spec", "RETENTION_SWEEP_SPEC")
	_ = viper.BindEnv("ratelimit.submit_per_hour", "RATELIMIT_SUBMIT_PER_HOUR")
	_ = viper.BindEnv("ratelimit.status_per_min", "RATELIMIT_STATUS_PER_MIN")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.submit_per_hour", 10)
	viper.SetDefault("ratelimit.status_per_min", 120)

	// Storage defaults
	viper.SetDefault("storage.upload_retries", 3)

	// Email defaults
	viper.SetDefault("email.from_name", "Oriel FX")
	viper.SetDefault("email.timeout", 30)

	// Render defaults. Duration limits follow the product tiers: 30s free,
	// 60s premium.
	viper.SetDefault("render.max_attempts", 3)
	viper.SetDefault("render.attempt_timeout_sec", 600)
	viper.SetDefault("render.max_duration_free_sec", 30)
	viper.SetDefault("render.max_duration_premium_sec", 60)
	viper.SetDefault("render.max_input_bytes", 50*1024*1024)
	viper.SetDefault("render.work_dir", os.TempDir())
	viper.SetDefault("render.browser_bin", "chromium")
	viper.SetDefault("render.visualizer_url", "http://localhost:3000/render")
	viper.SetDefault("render.ffmpeg_bin", "ffmpeg")
	viper.SetDefault("render.ffprobe_bin", "ffprobe")
	viper.SetDefault("render.video_crf", 23)
	viper.SetDefault("render.video_preset", "medium")
	viper.SetDefault("render.frame_rate", 30)
	viper.SetDefault("render.width", 1280)
	viper.SetDefault("render.height", 720)
	viper.SetDefault("render.concurrency", 2)

	// Retention defaults
	viper.SetDefault("retention.record_ttl_hours", 72)
	viper.SetDefault("retention.artifact_ttl_days", 7)
	viper.SetDefault("retention.signed_url_ttl_min", 60)
	viper.SetDefault("retention.sweep_spec", "@every 1h")

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
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
			SubmitPerHour: viper.GetInt("ratelimit.submit_per_hour"),
			StatusPerMin:  viper.GetInt("ratelimit.status_per_min"),
		},
		Storage: StorageConfig{
			AccountID:       viper.GetString("storage.account_id"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			BucketName:      viper.GetString("storage.bucket_name"),
			UploadRetries:   viper.GetInt("storage.upload_retries"),
		},
		Email: EmailConfig{
			ServiceURL: viper.GetString("email.service_url"),
			FromName:   viper.GetString("email.from_name"),
			Timeout:    viper.GetInt("email.timeout"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		Render: RenderConfig{
			MaxAttempts:           viper.GetInt("render.max_attempts"),
			AttemptTimeoutSec:     viper.GetInt("render.attempt_timeout_sec"),
			MaxDurationFreeSec:    viper.GetInt("render.max_duration_free_sec"),
			MaxDurationPremiumSec: viper.GetInt("render.max_duration_premium_sec"),
			MaxInputBytes:         viper.GetInt64("render.max_input_bytes"),
			WorkDir:               viper.GetString("render.work_dir"),
			BrowserBin:            viper.GetString("render.browser_bin"),
			VisualizerURL:         viper.GetString("render.visualizer_url"),
			FFmpegBin:             viper.GetString("render.ffmpeg_bin"),
			FFprobeBin:            viper.GetString("render.ffprobe_bin"),
			VideoCRF:              viper.GetInt("render.video_crf"),
			VideoPreset:           viper.GetString("render.video_preset"),
			FrameRate:             viper.GetInt("render.frame_rate"),
			Width:                 viper.GetInt("render.width"),
			Height:                viper.GetInt("render.height"),
			Concurrency:           viper.GetInt("render.concurrency"),
		},
		Retention: RetentionConfig{
			RecordTTLHours:  viper.GetInt("retention.record_ttl_hours"),
			ArtifactTTLDays: viper.GetInt("retention.artifact_ttl_days"),
			SignedURLTTLMin: viper.GetInt("retention.signed_url_ttl_min"),
			SweepSpec:       viper.GetString("retention.sweep_spec"),
		},
	}

	return cfg, nil
}

// MaxDurationFor returns the maximum accepted input duration in seconds for
// a plan.
func (c *RenderConfig) MaxDurationFor(plan string) int {
	if plan == "premium" {
		return c.MaxDurationPremiumSec
	}
	return c.MaxDurationFreeSec
}
