package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// LoadOptions selects the optional sources layered over the embedded configuration.
type LoadOptions struct {
	// ConfigFile is a YAML file merged over the embedded configuration.
	ConfigFile string
	// EnvFile is the .env file to load. Empty loads ".env" from the working directory when present.
	EnvFile string
	// Expander expands placeholders in YAML sources. Defaults to OsEnvironmentExpander.
	Expander EnvironmentExpander
}

// Load builds the configuration in this order: NewConfig defaults, the embedded YAML,
// opts.ConfigFile, then LUBATCH_* environment variables (after loading the .env file).
// ${VAR} placeholders in YAML are expanded before decoding. The result is validated
// and the logger level is set from it.
func Load(embedded EmbeddedConfig, opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, exception.NewConfigurationError(fmt.Sprintf("failed to load env file %s", opts.EnvFile), err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}
	expander := opts.Expander
	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}

	cfg := NewConfig()
	if err := decodeYAML(cfg, embedded, expander); err != nil {
		return nil, exception.NewConfigurationError("failed to decode embedded configuration", err)
	}
	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, exception.NewConfigurationError(fmt.Sprintf("failed to read configuration file %s", opts.ConfigFile), err)
		}
		if err := decodeYAML(cfg, data, expander); err != nil {
			return nil, exception.NewConfigurationError(fmt.Sprintf("failed to decode configuration file %s", opts.ConfigFile), err)
		}
	}
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewConfigurationError("failed to load config from environment variables", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Lubatch.System.Logging.Level)
	logger.Debugf("Log level set to: %s", cfg.Lubatch.System.Logging.Level)
	return cfg, nil
}

// decodeYAML decodes data over cfg. Keys absent from data keep their current values;
// unknown keys are rejected.
func decodeYAML(cfg *Config, data []byte, expander EnvironmentExpander) error {
	expanded, err := expander.Expand(data)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the settings that cannot be corrected at run time.
func (c *Config) Validate() error {
	b := c.Lubatch.Batch
	if b.ChunkSize < 1 {
		return exception.NewConfigurationError(fmt.Sprintf("chunk_size must be at least 1, got %d", b.ChunkSize), nil)
	}
	if b.ItemSkip.SkipLimit < 0 {
		return exception.NewConfigurationError(fmt.Sprintf("skip_limit must not be negative, got %d", b.ItemSkip.SkipLimit), nil)
	}
	if b.ItemRetry.MaxAttempts < 0 {
		return exception.NewConfigurationError(fmt.Sprintf("max_attempts must not be negative, got %d", b.ItemRetry.MaxAttempts), nil)
	}
	for configType, names := range map[string][]string{
		"item_retry.retryable_exceptions": b.ItemRetry.RetryableExceptions,
		"item_skip.skippable_exceptions":  b.ItemSkip.SkippableExceptions,
		"item_skip.no_skip_exceptions":    b.ItemSkip.NoSkipExceptions,
	} {
		if err := checkExceptionClasses(names, configType); err != nil {
			return err
		}
	}

	infra := c.Lubatch.Infrastructure
	switch infra.JobRepository.Type {
	case "memory":
	case "sql":
		switch infra.Database.Type {
		case "sqlite", "sqlite3":
			if infra.Database.Path == "" {
				return exception.NewConfigurationError("database.path is required for sqlite", nil)
			}
		case "mysql", "postgres":
			if infra.Database.Host == "" || infra.Database.Database == "" {
				return exception.NewConfigurationError(fmt.Sprintf("database.host and database.database are required for %s", infra.Database.Type), nil)
			}
		default:
			return exception.NewConfigurationError(fmt.Sprintf("unsupported database type %q", infra.Database.Type), nil)
		}
	default:
		return exception.NewConfigurationError(fmt.Sprintf("unsupported job_repository type %q", infra.JobRepository.Type), nil)
	}
	switch infra.Storage.Type {
	case "local", "":
	case "gcs":
		if infra.Storage.BucketName == "" {
			return exception.NewConfigurationError("storage.bucket_name is required for gcs", nil)
		}
	default:
		return exception.NewConfigurationError(fmt.Sprintf("unsupported storage type %q", infra.Storage.Type), nil)
	}

	m := c.Lubatch.Metrics
	if m.Enabled && m.Backend != "prometheus" && m.Backend != "otel" {
		return exception.NewConfigurationError(fmt.Sprintf("unsupported metrics backend %q", m.Backend), nil)
	}
	if m.Enabled && m.Backend == "otel" && !validProtocol(m.Protocol) {
		return exception.NewConfigurationError(fmt.Sprintf("unsupported metrics protocol %q", m.Protocol), nil)
	}
	if tr := c.Lubatch.Tracing; tr.Enabled && !validProtocol(tr.Protocol) {
		return exception.NewConfigurationError(fmt.Sprintf("unsupported tracing protocol %q", tr.Protocol), nil)
	}
	if _, ok := logger.ParseLevel(c.Lubatch.System.Logging.Level); !ok {
		return exception.NewConfigurationError(fmt.Sprintf("unknown log level %q", c.Lubatch.System.Logging.Level), nil)
	}
	return nil
}

func validProtocol(p string) bool {
	return p == "" || p == "grpc" || p == "http"
}

// checkExceptionClasses validates that all exception class names in the provided list
// are registered in the exception registry.
func checkExceptionClasses(classNames []string, configType string) error {
	for _, name := range classNames {
		if !exception.IsErrorTypeRegistered(name) {
			return exception.NewConfigurationError(fmt.Sprintf("%s references unknown exception class '%s'", configType, name), nil)
		}
	}
	return nil
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// The variable name is the upper-cased path of yaml tags joined by "_", e.g. LUBATCH_BATCH_CHUNK_SIZE.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag, _, _ := strings.Cut(fieldType.Tag.Get("yaml"), ",")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// setField sets the value of a reflect.Value field based on its kind.
// Slices of strings are read as comma-separated lists.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
