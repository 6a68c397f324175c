// Package config provides the configuration structures of lubatch and the loader that fills them
// from the embedded defaults, an optional file, .env and the process environment.
package config

import (
	dbconfig "github.com/jiawu-lu/lubatch/pkg/batch/adapter/database/config"
	storageconfig "github.com/jiawu-lu/lubatch/pkg/batch/adapter/storage/config"
)

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// ItemRetryConfig holds item-level retry configuration.
type ItemRetryConfig struct {
	MaxAttempts         int      `yaml:"max_attempts"`         // MaxAttempts is the maximum number of attempts for an item or chunk write.
	InitialInterval     int      `yaml:"initial_interval"`     // InitialInterval is the initial backoff interval in milliseconds.
	MaxInterval         int      `yaml:"max_interval"`         // MaxInterval caps the backoff interval, in milliseconds.
	Factor              float64  `yaml:"factor"`               // Factor is the backoff multiplier.
	RetryableExceptions []string `yaml:"retryable_exceptions"` // RetryableExceptions is a list of retryable exception names.
}

// ItemSkipConfig holds item-level skip configuration.
type ItemSkipConfig struct {
	SkipLimit           int      `yaml:"skip_limit"`           // SkipLimit is the number of skippable errors tolerated per step.
	SkippableExceptions []string `yaml:"skippable_exceptions"` // SkippableExceptions is a list of skippable exception names.
	NoSkipExceptions    []string `yaml:"no_skip_exceptions"`   // NoSkipExceptions are never skipped.
}

// InputConfig describes the delimited input file of the default job.
type InputConfig struct {
	Path        string   `yaml:"path"`
	Delimiter   string   `yaml:"delimiter"`
	Quote       string   `yaml:"quote"`
	Fields      []string `yaml:"fields"`
	LinesToSkip int      `yaml:"lines_to_skip"`
	Comment     string   `yaml:"comment"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys is a list of keys in JobParameters whose values should be masked in logs.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// BatchConfig holds configuration specific to the batch processing engine.
type BatchConfig struct {
	// JobName is the job run by the CLI when none is given.
	JobName string `yaml:"job_name"`
	// JobFile is an optional job definition file replacing the embedded one.
	JobFile string `yaml:"job_file"`
	// ChunkSize is the default chunk size for chunk-oriented steps.
	ChunkSize int `yaml:"chunk_size"`
	// ItemRetry is the item-level retry configuration.
	ItemRetry ItemRetryConfig `yaml:"item_retry"`
	// ItemSkip is the item-level skip configuration.
	ItemSkip ItemSkipConfig `yaml:"item_skip"`
	// Input is the input file of the default job.
	Input InputConfig `yaml:"input"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// JobRepositoryConfig selects the execution metadata store.
type JobRepositoryConfig struct {
	// Type is "sql" (GORM over Database) or "memory".
	Type string `yaml:"type"`
	// AutoMigrate applies the schema migrations when the repository is opened.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// InfrastructureConfig holds the settings of external resources.
type InfrastructureConfig struct {
	JobRepository JobRepositoryConfig         `yaml:"job_repository"`
	Database      dbconfig.DatabaseConfig     `yaml:"database"`
	Storage       storageconfig.StorageConfig `yaml:"storage"`
	Mongo         MongoConfig                 `yaml:"mongo"`
}

// MongoConfig points the mongo writer at a collection.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend is "prometheus" or "otel".
	Backend string `yaml:"backend"`
	// TextfilePath, when set, receives the Prometheus registry in text format after each run.
	TextfilePath string `yaml:"textfile_path"`
	// PushgatewayURL, when set, receives the Prometheus registry after each run.
	PushgatewayURL string `yaml:"pushgateway_url"`
	// Endpoint is the OTLP endpoint of the otel backend.
	Endpoint string `yaml:"endpoint"`
	// Protocol is "grpc" or "http".
	Protocol string `yaml:"protocol"`
	Insecure bool   `yaml:"insecure"`
	// Async records through a buffered queue drained by a background goroutine.
	Async           bool `yaml:"async"`
	AsyncBufferSize int  `yaml:"async_buffer_size"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
	// Protocol is "grpc" or "http".
	Protocol string `yaml:"protocol"`
	Insecure bool   `yaml:"insecure"`
}

// LubatchConfig holds all configuration under the "lubatch" top-level key.
type LubatchConfig struct {
	Batch          BatchConfig          `yaml:"batch"`
	System         SystemConfig         `yaml:"system"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	Security       SecurityConfig       `yaml:"security"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Tracing        TracingConfig        `yaml:"tracing"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Lubatch LubatchConfig `yaml:"lubatch"`
}

// MaskedParameterKeys returns the JobParameters keys whose values are masked in logs.
func (c *Config) MaskedParameterKeys() []string {
	return c.Lubatch.Security.MaskedParameterKeys
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		Lubatch: LubatchConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Batch: BatchConfig{
				JobName:   "importUserJob",
				ChunkSize: 10,
				ItemRetry: ItemRetryConfig{
					MaxAttempts:     3,
					InitialInterval: 100,
					MaxInterval:     2000,
					Factor:          2.0,
					RetryableExceptions: []string{
						"context.DeadlineExceeded",
					},
				},
				ItemSkip: ItemSkipConfig{
					SkipLimit:           0,
					SkippableExceptions: []string{"MappingError"},
				},
				Input: InputConfig{
					Path:      "log.txt",
					Delimiter: ",",
					Quote:     `"`,
					Fields:    []string{"firstName", "lastName"},
				},
			},
			Infrastructure: InfrastructureConfig{
				JobRepository: JobRepositoryConfig{Type: "sql", AutoMigrate: true},
				Database:      dbconfig.DatabaseConfig{Type: "sqlite", Path: "lubatch.db"},
				Storage:       storageconfig.StorageConfig{Type: "local"},
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "api_key", "secret"},
			},
			Metrics: MetricsConfig{Backend: "prometheus", Protocol: "grpc"},
			Tracing: TracingConfig{ServiceName: "lubatch", Protocol: "grpc"},
		},
	}
}
