package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage backends selectable with STORAGE_BACKEND
const (
	BackendMinio  = "minio"
	BackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort    string `mapstructure:"SERVICE_PORT"`
	ServiceName    string `mapstructure:"SERVICE_NAME"`
	ChunkSizeKB    int    `mapstructure:"CHUNK_SIZE_KB"`
	StorageBackend string `mapstructure:"STORAGE_BACKEND"`
	MaxUploadMB    int64  `mapstructure:"MAX_UPLOAD_MB"`

	HTTPReadTimeout  time.Duration `mapstructure:"HTTP_READ_TIMEOUT"`
	HTTPWriteTimeout time.Duration `mapstructure:"HTTP_WRITE_TIMEOUT"`
	CleanupTimeout   time.Duration `mapstructure:"CLEANUP_TIMEOUT"`
	ViewTimeout      time.Duration `mapstructure:"VIEW_TIMEOUT"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// MinIO configuration
	MinIOEndpoint   string `mapstructure:"MINIO_ENDPOINT"`
	MinIOAccessKey  string `mapstructure:"MINIO_ACCESS_KEY"`
	MinIOSecretKey  string `mapstructure:"MINIO_SECRET_KEY"`
	MinIOBucketName string `mapstructure:"MINIO_BUCKET_NAME"`
	MinIOUseSSL     bool   `mapstructure:"MINIO_USE_SSL"`

	// TiDB configuration
	TiDBHost     string `mapstructure:"TIDB_HOST"`
	TiDBPort     string `mapstructure:"TIDB_PORT"`
	TiDBUser     string `mapstructure:"TIDB_USER"`
	TiDBPassword string `mapstructure:"TIDB_PASSWORD"`
	TiDBDatabase string `mapstructure:"TIDB_DATABASE"`

	// Redis configuration
	CacheEnabled  bool   `mapstructure:"CACHE_ENABLED"`
	RedisHost     string `mapstructure:"REDIS_HOST"`
	RedisPort     string `mapstructure:"REDIS_PORT"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Tracing configuration
	TracingEnabled   bool    `mapstructure:"TRACING_ENABLED"`
	JaegerEndpoint   string  `mapstructure:"JAEGER_ENDPOINT"`
	TraceSampleRatio float64 `mapstructure:"TRACE_SAMPLE_RATIO"`
}

var defaults = map[string]any{
	"SERVICE_PORT":       "8080",
	"SERVICE_NAME":       "mediastream",
	"CHUNK_SIZE_KB":      256,
	"STORAGE_BACKEND":    BackendMinio,
	"MAX_UPLOAD_MB":      4096,
	"HTTP_READ_TIMEOUT":  30 * time.Minute,
	"HTTP_WRITE_TIMEOUT": time.Duration(0),
	"CLEANUP_TIMEOUT":    30 * time.Second,
	"VIEW_TIMEOUT":       5 * time.Second,
	"LOG_LEVEL":          "info",
	"LOG_FORMAT":         "text",

	"MINIO_ENDPOINT":    "localhost:9000",
	"MINIO_ACCESS_KEY":  "minioadmin",
	"MINIO_SECRET_KEY":  "minioadmin",
	"MINIO_BUCKET_NAME": "mediastream",
	"MINIO_USE_SSL":     false,

	"TIDB_HOST":     "localhost",
	"TIDB_PORT":     "4000",
	"TIDB_USER":     "root",
	"TIDB_PASSWORD": "",
	"TIDB_DATABASE": "mediastream",

	"CACHE_ENABLED":  true,
	"REDIS_HOST":     "localhost",
	"REDIS_PORT":     "6379",
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,

	"TRACING_ENABLED":    true,
	"JAEGER_ENDPOINT":    "http://localhost:4318",
	"TRACE_SAMPLE_RATIO": 1.0,
}

// LoadConfig reads the environment, after an optional .env file, over the defaults
func LoadConfig() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.ChunkSizeKB <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE_KB must be positive, got %d", c.ChunkSizeKB))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB))
	}
	if c.StorageBackend != BackendMinio && c.StorageBackend != BackendMemory {
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", BackendMinio, BackendMemory, c.StorageBackend))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("TRACE_SAMPLE_RATIO must be within [0, 1], got %v", c.TraceSampleRatio))
	}
	if c.ServicePort == "" {
		errs = append(errs, errors.New("SERVICE_PORT must be set"))
	}
	return errors.Join(errs...)
}

// GetDSN returns the TiDB connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.TiDBUser,
		c.TiDBPassword,
		c.TiDBHost,
		c.TiDBPort,
		c.TiDBDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetChunkSizeBytes returns chunk size in bytes
func (c *Config) GetChunkSizeBytes() int64 {
	return int64(c.ChunkSizeKB) * 1024
}

// GetMaxUploadBytes returns the upload body limit in bytes
func (c *Config) GetMaxUploadBytes() int64 {
	return c.MaxUploadMB * 1024 * 1024
}

// String renders the configuration with secrets masked
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  ServiceName: %s\n", c.ServiceName)
	fmt.Fprintf(&sb, "  ServicePort: %s\n", c.ServicePort)
	fmt.Fprintf(&sb, "  StorageBackend: %s\n", c.StorageBackend)
	fmt.Fprintf(&sb, "  ChunkSizeKB: %d\n", c.ChunkSizeKB)
	fmt.Fprintf(&sb, "  MaxUploadMB: %d\n", c.MaxUploadMB)
	fmt.Fprintf(&sb, "  MinIOEndpoint: %s\n", c.MinIOEndpoint)
	fmt.Fprintf(&sb, "  MinIOBucketName: %s\n", c.MinIOBucketName)
	fmt.Fprintf(&sb, "  MinIOAccessKey: %s\n", mask(c.MinIOAccessKey))
	fmt.Fprintf(&sb, "  MinIOSecretKey: %s\n", mask(c.MinIOSecretKey))
	fmt.Fprintf(&sb, "  TiDB: %s@%s:%s/%s\n", c.TiDBUser, c.TiDBHost, c.TiDBPort, c.TiDBDatabase)
	fmt.Fprintf(&sb, "  TiDBPassword: %s\n", mask(c.TiDBPassword))
	fmt.Fprintf(&sb, "  CacheEnabled: %v\n", c.CacheEnabled)
	fmt.Fprintf(&sb, "  Redis: %s db=%d\n", c.GetRedisAddr(), c.RedisDB)
	fmt.Fprintf(&sb, "  RedisPassword: %s\n", mask(c.RedisPassword))
	fmt.Fprintf(&sb, "  Tracing: %v %s ratio=%v\n", c.TracingEnabled, c.JaegerEndpoint, c.TraceSampleRatio)
	return sb.String()
}

func mask(secret string) string {
	if secret == "" {
		return "(empty)"
	}
	return "********"
}
