package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	StorageBackendDisk = "disk"
	StorageBackendS3   = "s3"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the reconcile queue. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Backend string
	Root    string

	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

type UploadConfig struct {
	MaxFileBytes    int64
	MaxRequestBytes int64
}

type WorkerConfig struct {
	Stream        string
	Group         string
	Consumer      string
	ClaimInterval time.Duration
	OrphanGrace   time.Duration
	SweepSchedule string
}

type LoggingConfig struct {
	Level string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Upload           UploadConfig
	Worker           WorkerConfig
	Logging          LoggingConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("IMAGEDROP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate reports settings the api and worker cannot start without.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		return errors.New("postgres dsn is required (IMAGEDROP_POSTGRES_DSN or DATABASE_URL)")
	}
	switch c.Storage.Backend {
	case StorageBackendDisk:
		if strings.TrimSpace(c.Storage.Root) == "" {
			return errors.New("storage root is required for the disk backend")
		}
	case StorageBackendS3:
		if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
			return errors.New("storage endpoint and bucket are required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Upload.MaxFileBytes <= 0 || c.Upload.MaxRequestBytes < c.Upload.MaxFileBytes {
		return fmt.Errorf("invalid upload limits: file %d, request %d", c.Upload.MaxFileBytes, c.Upload.MaxRequestBytes)
	}
	return nil
}

func (c *AppConfig) QueueEnabled() bool {
	return strings.TrimSpace(c.Redis.Addr) != ""
}

// bindLegacyEnv keeps DATABASE_URL and UPLOAD_DIR working for existing deployments.
func bindLegacyEnv(v *viper.Viper) error {
	if err := v.BindEnv("postgres.dsn", "IMAGEDROP_POSTGRES_DSN", "DATABASE_URL"); err != nil {
		return fmt.Errorf("bind postgres dsn: %w", err)
	}
	if err := v.BindEnv("storage.root", "IMAGEDROP_STORAGE_ROOT", "UPLOAD_DIR"); err != nil {
		return fmt.Errorf("bind storage root: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 7070)
	v.SetDefault("http.readtimeout", "30s")
	v.SetDefault("http.writetimeout", "60s")
	v.SetDefault("http.idletimeout", "120s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 2)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.backend", StorageBackendDisk)
	v.SetDefault("storage.root", "./uploads")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucket", "imagedrop")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("upload.maxfilebytes", 2<<20)
	v.SetDefault("upload.maxrequestbytes", 5<<20)

	v.SetDefault("worker.stream", "images:reconcile")
	v.SetDefault("worker.group", "image-reapers")
	v.SetDefault("worker.consumer", "")
	v.SetDefault("worker.claiminterval", "30s")
	v.SetDefault("worker.orphangrace", "1h")
	v.SetDefault("worker.sweepschedule", "0 */15 * * * *")

	v.SetDefault("logging.level", "")

	v.SetDefault("allowcorsorigins", []string{})
}
