// Package config loads the runtime's application configuration and
// pipeline definition files.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration of the runtime.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Executor       ExecutorConfig       `yaml:"executor"`
	Store          StoreConfig          `yaml:"store"`
	Logging        LoggingConfig        `yaml:"logging"`
	ContentService ContentServiceConfig `yaml:"content_service"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address         string        `yaml:"address" env:"CP_SERVER_ADDRESS"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"CP_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"CP_SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"CP_SERVER_SHUTDOWN_TIMEOUT"`
	BodyLimit       int           `yaml:"body_limit" env:"CP_SERVER_BODY_LIMIT"`
	EnableCORS      bool          `yaml:"enable_cors" env:"CP_SERVER_ENABLE_CORS"`
}

// ExecutorConfig tunes job execution.
type ExecutorConfig struct {
	// MaxConcurrency is the default in-flight task limit per job.
	MaxConcurrency int `yaml:"max_concurrency" env:"CP_EXECUTOR_MAX_CONCURRENCY"`
	// GlobalLimit bounds task invocations across all jobs (0 = unbounded).
	GlobalLimit int `yaml:"global_limit" env:"CP_EXECUTOR_GLOBAL_LIMIT"`
	// DeadlineFactor scales estimated durations into soft deadlines.
	DeadlineFactor float64 `yaml:"deadline_factor" env:"CP_EXECUTOR_DEADLINE_FACTOR"`
	// DefaultTaskTimeout applies to tasks without an estimated duration.
	DefaultTaskTimeout time.Duration `yaml:"default_task_timeout" env:"CP_EXECUTOR_DEFAULT_TASK_TIMEOUT"`
}

// StoreConfig selects and configures the job store backend.
type StoreConfig struct {
	// Backend is one of "memory", "file", "sql", "redis".
	Backend string           `yaml:"backend" env:"CP_STORE_BACKEND"`
	File    FileStoreConfig  `yaml:"file"`
	SQL     SQLStoreConfig   `yaml:"sql"`
	Redis   RedisStoreConfig `yaml:"redis"`
}

// FileStoreConfig configures the file backend.
type FileStoreConfig struct {
	Dir string `yaml:"dir" env:"CP_STORE_FILE_DIR"`
}

// SQLStoreConfig configures the SQL backend.
type SQLStoreConfig struct {
	Driver          string        `yaml:"driver" env:"CP_STORE_SQL_DRIVER"`
	DSN             string        `yaml:"dsn" env:"CP_STORE_SQL_DSN"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"CP_STORE_SQL_MAX_IDLE_CONNS"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"CP_STORE_SQL_MAX_OPEN_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CP_STORE_SQL_CONN_MAX_LIFETIME"`
	LogLevel        string        `yaml:"log_level" env:"CP_STORE_SQL_LOG_LEVEL"`
}

// RedisStoreConfig configures the Redis backend.
type RedisStoreConfig struct {
	Addr     string `yaml:"addr" env:"CP_STORE_REDIS_ADDR"`
	Password string `yaml:"password" env:"CP_STORE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"CP_STORE_REDIS_DB"`
	Prefix   string `yaml:"prefix" env:"CP_STORE_REDIS_PREFIX"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"CP_LOG_LEVEL"`
	Format     string `yaml:"format" env:"CP_LOG_FORMAT"`
	Output     string `yaml:"output" env:"CP_LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"CP_LOG_FILE_PATH"`
	MaxSize    int    `yaml:"max_size" env:"CP_LOG_MAX_SIZE"`
	MaxBackups int    `yaml:"max_backups" env:"CP_LOG_MAX_BACKUPS"`
	MaxAge     int    `yaml:"max_age" env:"CP_LOG_MAX_AGE"`
}

// ContentServiceConfig points the built-in tasks at the external content service.
type ContentServiceConfig struct {
	BaseURL    string        `yaml:"base_url" env:"CP_CONTENT_BASE_URL"`
	APIKey     string        `yaml:"api_key" env:"CP_CONTENT_API_KEY"`
	Timeout    time.Duration `yaml:"timeout" env:"CP_CONTENT_TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" env:"CP_CONTENT_MAX_RETRIES"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			BodyLimit:       4 * 1024 * 1024, // 4MB
		},
		Executor: ExecutorConfig{
			MaxConcurrency:     4,
			DeadlineFactor:     2,
			DefaultTaskTimeout: 10 * time.Minute,
		},
		Store: StoreConfig{
			Backend: "memory",
			File:    FileStoreConfig{Dir: "./data"},
			SQL:     SQLStoreConfig{Driver: "sqlite", DSN: "pipeline.db", LogLevel: "silent"},
			Redis:   RedisStoreConfig{Addr: "localhost:6379", Prefix: "pipeline:"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		ContentService: ContentServiceConfig{
			BaseURL:    "http://localhost:8000",
			Timeout:    5 * time.Minute,
			MaxRetries: 3,
		},
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "file", "sql", "redis":
	default:
		return fmt.Errorf("store.backend %q: %w", c.Store.Backend, ErrUnknownStoreBackend)
	}
	if c.Executor.MaxConcurrency < 1 {
		return fmt.Errorf("executor.max_concurrency must be >= 1: %w", ErrInvalidValue)
	}
	if c.Executor.GlobalLimit < 0 {
		return fmt.Errorf("executor.global_limit must be >= 0: %w", ErrInvalidValue)
	}
	if c.Executor.DeadlineFactor <= 0 {
		return fmt.Errorf("executor.deadline_factor must be > 0: %w", ErrInvalidValue)
	}
	if c.Store.Backend == "file" && strings.TrimSpace(c.Store.File.Dir) == "" {
		return fmt.Errorf("store.file.dir is required: %w", ErrInvalidValue)
	}
	if c.ContentService.MaxRetries < 0 {
		return fmt.Errorf("content_service.max_retries must be >= 0: %w", ErrInvalidValue)
	}
	return nil
}

// Serialize encodes the configuration as YAML.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig decodes YAML over the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	overrides  map[string]string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		overrides: make(map[string]string),
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithOverrides sets dot-notation overrides such as "server.address".
func (l *Loader) WithOverrides(overrides map[string]string) *Loader {
	l.overrides = overrides
	return l
}

// WithEnvLookup replaces os.LookupEnv, mainly for tests.
func (l *Loader) WithEnvLookup(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < overrides
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	for key, value := range l.overrides {
		if err := setConfigValue(cfg, key, value); err != nil {
			return nil, fmt.Errorf("apply override %s: %w", key, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile loads configuration from a YAML file. A missing file is not
// an error; defaults apply.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", l.configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", l.configPath, err)
	}
	return nil
}

// applyEnvToStruct recursively applies env-tagged environment variables.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue, ok := l.lookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("%s -> %s: %w", envTag, fieldType.Name, err)
		}
	}
	return nil
}

// setConfigValue sets a value by dot-notation path of yaml keys.
func setConfigValue(cfg *Config, path, value string) error {
	v := reflect.ValueOf(cfg).Elem()
	parts := strings.Split(path, ".")

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("unknown config path %q: %w", path, ErrInvalidValue)
		}
		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("%s is not a section: %w", part, ErrInvalidValue)
		}
		v = field
	}
	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field is not settable: %w", ErrInvalidValue)
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", value, err)
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q: %w", value, err)
		}
		field.SetInt(n)

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float %q: %w", value, err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool %q: %w", value, err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field kind %s: %w", field.Kind(), ErrInvalidValue)
	}
	return nil
}
