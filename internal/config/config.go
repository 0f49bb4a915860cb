package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port             int           `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	AppVersion       string        `env:"APP_VERSION" envDefault:"dev"`
	PublicBaseURL    string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080" validate:"url"`
	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	WMSHost               string        `env:"WMS_HOST" envDefault:"localhost" validate:"required"`
	WMSPort               string        `env:"WMS_PORT"`
	WMSTimeout            time.Duration `env:"WMS_TIMEOUT" envDefault:"30s"`
	WMSInsecureSkipVerify bool          `env:"WMS_INSECURE_SKIP_VERIFY" envDefault:"true"`
	RefererURL            string        `env:"PROXYWMS_REFERER_URL" envDefault:"https://proxywms.geo.admin.ch"`

	DefaultMode string `env:"DEFAULT_MODE" envDefault:"default" validate:"oneof=default preview check-expiration"`

	EnableCaching     bool          `env:"ENABLE_S3_CACHING" envDefault:"false"`
	WriteMode         string        `env:"S3_WRITE_MODE" envDefault:"on_close" validate:"oneof=sync async on_close"`
	CacheBackend      string        `env:"CACHE_BACKEND" envDefault:"http" validate:"oneof=http s3 redis memcache file memory disabled"`
	CacheReadTimeout  time.Duration `env:"CACHE_READ_TIMEOUT" envDefault:"500ms"`
	CacheWriteTimeout time.Duration `env:"CACHE_WRITE_TIMEOUT" envDefault:"5s"`
	AsyncWriteWorkers int           `env:"ASYNC_WRITE_WORKERS" envDefault:"4" validate:"min=1"`
	AsyncWriteQueue   int           `env:"ASYNC_WRITE_QUEUE" envDefault:"1024" validate:"min=0"`

	BucketName     string `env:"AWS_S3_BUCKET_NAME"`
	BucketRegion   string `env:"AWS_S3_REGION_NAME" envDefault:"eu-west-1"`
	BucketEndpoint string `env:"AWS_S3_ENDPOINT_URL"`

	RedisAddr        string   `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword    string   `env:"REDIS_PASSWORD"`
	RedisDB          int      `env:"REDIS_DB" envDefault:"0" validate:"min=0"`
	MemcacheServers  []string `env:"MEMCACHE_SERVERS" envSeparator:","`
	CacheFileDir     string   `env:"CACHE_FILE_DIR" envDefault:"/tmp/wmts-cache"`
	CacheMemoryTiles int      `env:"CACHE_MEMORY_TILES" envDefault:"2000" validate:"min=1"`

	DBHost           string        `env:"BOD_DB_HOST" envDefault:"localhost"`
	DBPort           int           `env:"BOD_DB_PORT" envDefault:"5432"`
	DBName           string        `env:"BOD_DB_NAME" envDefault:"bod_master"`
	DBUser           string        `env:"BOD_DB_USER" envDefault:"www-data"`
	DBPassword       string        `env:"BOD_DB_PASSWD"`
	DBConnectRetries int           `env:"BOD_DB_CONNECT_RETRIES" envDefault:"3" validate:"min=0"`
	DBConnectTimeout time.Duration `env:"BOD_DB_CONNECT_TIMEOUT" envDefault:"5s"`

	RestrictionsFile string `env:"RESTRICTIONS_FILE"`
	ReloadToken      string `env:"RELOAD_TOKEN"`

	VipsMaxCacheMB  int `env:"VIPS_MAX_CACHE_MB" envDefault:"256"`
	VipsConcurrency int `env:"VIPS_CONCURRENCY" envDefault:"1"`
}

// Load reads the optional env file named by ENV_FILE (default .env) and then
// the environment. Variables already set win over the file.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if !c.EnableCaching {
		return nil
	}
	switch c.CacheBackend {
	case "http", "s3":
		if c.BucketName == "" && c.BucketEndpoint == "" {
			return fmt.Errorf("invalid configuration: AWS_S3_BUCKET_NAME is required for cache backend %s", c.CacheBackend)
		}
	case "memcache":
		if len(c.MemcacheServers) == 0 {
			return errors.New("invalid configuration: MEMCACHE_SERVERS is required for cache backend memcache")
		}
	}
	return nil
}

// WMSBackendURL is the mapserver endpoint all GetMap requests go to.
func (c *Config) WMSBackendURL() string {
	host := c.WMSHost
	if c.WMSPort != "" {
		host += ":" + c.WMSPort
	}
	return "http://" + host + "/mapserv"
}

// UsesDatabase reports whether restrictions come from the BOD database.
func (c *Config) UsesDatabase() bool {
	return strings.TrimSpace(c.RestrictionsFile) == ""
}

func (c *Config) IsReloadEnabled() bool {
	return strings.TrimSpace(c.ReloadToken) != ""
}
