package config

import (
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "KIRKPROXY"

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type APIConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	FaviconPath     string        `mapstructure:"favicon_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type UpstreamConfig struct {
	FaceURL          string        `mapstructure:"face_url" validate:"required,url"`
	TransformURL     string        `mapstructure:"transform_url" validate:"required,url"`
	FaceTimeout      time.Duration `mapstructure:"face_timeout" validate:"gt=0"`
	TransformTimeout time.Duration `mapstructure:"transform_timeout" validate:"gt=0"`
	SourceImagePath  string        `mapstructure:"source_image_path" validate:"required"`
}

type QueueConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisAddr     string        `mapstructure:"redis_addr" validate:"required_if=Enabled true"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0,lte=15"`
	Name          string        `mapstructure:"name" validate:"required"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int    `mapstructure:"concurrency" validate:"gte=1"`
	MaxActiveJobs int    `mapstructure:"max_active_jobs" validate:"gte=1"`
	MetricsAddr   string `mapstructure:"metrics_addr"`
}

type StorageConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=local minio"`
	LocalDir  string `mapstructure:"local_dir" validate:"required_if=Backend local"`
	Endpoint  string `mapstructure:"endpoint" validate:"required_if=Backend minio"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket" validate:"required_if=Backend minio"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory postgres"`
	DSN    string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
}

type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	RedisAddr string        `mapstructure:"redis_addr" validate:"required_if=Enabled true"`
	Capacity  int           `mapstructure:"capacity" validate:"gte=1"`
	Window    time.Duration `mapstructure:"window" validate:"gt=0"`
}

type WebhookConfig struct {
	SigningSecret  string        `mapstructure:"signing_secret"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" validate:"gtefield=InitialBackoff"`
}

type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name" validate:"required"`
	Exporter     string  `mapstructure:"exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" validate:"required_if=Exporter otlp"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.addr", ":8000")
	v.SetDefault("api.favicon_path", "favicon.png")
	v.SetDefault("api.shutdown_timeout", 10*time.Second)

	v.SetDefault("upstream.face_url", "https://thispersondoesnotexist.com/")
	v.SetDefault("upstream.transform_url", "https://kirkify.wtf/api/kirkify")
	v.SetDefault("upstream.face_timeout", 15*time.Second)
	v.SetDefault("upstream.transform_timeout", 60*time.Second)
	v.SetDefault("upstream.source_image_path", "source.png")

	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.name", "default")
	v.SetDefault("queue.task_timeout", 3*time.Minute)

	v.SetDefault("worker.concurrency", max(2, runtime.NumCPU()))
	v.SetDefault("worker.max_active_jobs", max(1, runtime.NumCPU()/2))
	v.SetDefault("worker.metrics_addr", ":9091")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "./.kirkproxy-data")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.access_key", "minioadmin")
	v.SetDefault("storage.secret_key", "minioadmin")
	v.SetDefault("storage.bucket", "kirkproxy")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.use_ssl", false)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.redis_addr", "localhost:6379")
	v.SetDefault("ratelimit.capacity", 30)
	v.SetDefault("ratelimit.window", time.Minute)

	v.SetDefault("webhook.signing_secret", "")
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.initial_backoff", time.Second)
	v.SetDefault("webhook.max_backoff", 10*time.Second)

	v.SetDefault("tracing.service_name", "kirkproxy")
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.otlp_insecure", false)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from defaults, an optional config.toml in the
// working directory (or path when set), an optional .env file and KIRKPROXY_*
// environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Tracing.Exporter = strings.ToLower(strings.TrimSpace(c.Tracing.Exporter))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}
