// Package config loads pipeline settings from defaults, an optional YAML
// file and the environment.
package config

import (
	"os"
	"path/filepath"
	"time"

	"hotelpipe/internal/etl"
)

// Config is the whole pipeline configuration.
type Config struct {
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Storage   StorageConfig   `koanf:"storage"`
	Database  DatabaseConfig  `koanf:"database"`
	Staging   StagingConfig   `koanf:"staging"`
	State     StateConfig     `koanf:"state"`
	Server    ServerConfig    `koanf:"server"`
	Schedule  ScheduleConfig  `koanf:"schedule"`
	Features  FeaturesConfig  `koanf:"features"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// TelemetryConfig covers the ingestion service, both directions.
type TelemetryConfig struct {
	URL         string   `koanf:"url"`
	DeviceToken string   `koanf:"device_token"`
	DeviceID    string   `koanf:"device_id"`
	Username    string   `koanf:"username"`
	Password    string   `koanf:"password"`
	Keys        []string `koanf:"keys"`

	PublishDelay time.Duration `koanf:"publish_delay"`
	MaxRows      int           `koanf:"max_rows"` // 0 publishes every row
	RetryMax     int           `koanf:"retry_max"`
	RetryWaitMin time.Duration `koanf:"retry_wait_min"`
	RetryWaitMax time.Duration `koanf:"retry_wait_max"`
	Timeout      time.Duration `koanf:"timeout"`

	Alignment  string        `koanf:"alignment"` // index | timestamp
	QueryLimit int           `koanf:"query_limit"`
	Window     time.Duration `koanf:"window"`

	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig tunes the circuit breaker around telemetry queries.
type BreakerConfig struct {
	MaxRequests      uint32        `koanf:"max_requests"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Backend   string `koanf:"backend"` // s3 | filesystem | memory
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Region    string `koanf:"region"`
	UseSSL    bool   `koanf:"use_ssl"`
	Directory string `koanf:"directory"`
	Bucket    string `koanf:"bucket"`
	Object    string `koanf:"object"`
}

// DatabaseConfig configures the relational sink.
type DatabaseConfig struct {
	URL        string                `koanf:"url"`
	Table      string                `koanf:"table"`
	Mode       string                `koanf:"mode"` // replace | swap
	BatchSize  int                   `koanf:"batch_size"`
	Transforms []etl.TransformConfig `koanf:"transforms"`
}

// StagingConfig locates the scratch directory for files in transit.
type StagingConfig struct {
	Dir string `koanf:"dir"`
}

// StateConfig locates the local state database.
type StateConfig struct {
	Path string `koanf:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string        `koanf:"addr"`
	MaxUploadBytes int64         `koanf:"max_upload_bytes"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
}

// ScheduleConfig configures background triggers in serve mode.
type ScheduleConfig struct {
	SyncCron     string `koanf:"sync_cron"`
	WatchUploads bool   `koanf:"watch_uploads"`
}

// FeaturesConfig configures the feature builder.
type FeaturesConfig struct {
	PartitionKey      string   `koanf:"partition_key"`
	Partitions        []string `koanf:"partitions"`
	Label             string   `koanf:"label"`
	Drop              []string `koanf:"drop"`
	DistinctThreshold int      `koanf:"distinct_threshold"`
	TestFraction      float64  `koanf:"test_fraction"`
	Seed              int64    `koanf:"seed"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Dataset returns where the booking table lives in each store.
func (c *Config) Dataset() etl.Dataset {
	return etl.Dataset{Bucket: c.Storage.Bucket, Object: c.Storage.Object, Table: c.Database.Table}
}

// StatePath resolves the state database path, defaulting under the home directory.
func (c *Config) StatePath() string {
	if c.State.Path != "" {
		return c.State.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(c.Staging.Dir, "state.db")
	}
	return filepath.Join(home, ".hotelpipe", "state.db")
}

func defaultConfig() *Config {
	return &Config{
		Telemetry: TelemetryConfig{
			URL:          "http://localhost:8080",
			PublishDelay: 50 * time.Millisecond,
			RetryWaitMin: 200 * time.Millisecond,
			RetryWaitMax: 5 * time.Second,
			Timeout:      30 * time.Second,
			Alignment:    "index",
			QueryLimit:   100000,
			Window:       24 * time.Hour,
			Breaker: BreakerConfig{
				MaxRequests:      1,
				Interval:         time.Minute,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
		},
		Storage: StorageConfig{
			Backend:  "s3",
			Endpoint: "localhost:9000",
			Bucket:   "hotel-bookings",
			Object:   "hotel_bookings.csv",
		},
		Database: DatabaseConfig{
			Table:     "hotel_bookings",
			Mode:      string(etl.ModeReplace),
			BatchSize: 500,
		},
		Staging: StagingConfig{Dir: filepath.Join(os.TempDir(), "hotelpipe")},
		Server: ServerConfig{
			Addr:           ":8000",
			MaxUploadBytes: 256 << 20,
			ReadTimeout:    time.Minute,
			WriteTimeout:   5 * time.Minute,
		},
		Features: FeaturesConfig{
			PartitionKey:      "hotel",
			Partitions:        []string{"Resort Hotel", "City Hotel"},
			Label:             "is_canceled",
			Drop:              []string{"reservation_status", "reservation_status_date"},
			DistinctThreshold: 20,
			TestFraction:      0.25,
			Seed:              42,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}
