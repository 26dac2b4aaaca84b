// Package config provides configuration management for the dbslice tool.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Source      DatabaseConfig    `mapstructure:"source"`
	Destination DatabaseConfig    `mapstructure:"destination"`
	Output      OutputConfig      `mapstructure:"output"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Log         LogConfig         `mapstructure:"log"`
}

// DatabaseConfig holds a Postgres connection configuration. Source is read
// during dump, Destination is written during restore; a single process
// only ever populates one of the two, but both share the same shape.
type DatabaseConfig struct {
	// Type selects the GORM dialect for the coordinator session:
	// "postgres" (default) or "mysql". The raw COPY/snapshot/ctid
	// extraction path internal/pgsession implements is Postgres-only
	// regardless of this setting.
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int    `mapstructure:"max_conns"`
}

// OutputConfig holds segment sink configuration, shared by dump (write)
// and restore (read).
type OutputConfig struct {
	Type      string `mapstructure:"type"` // "dir", "cos" or "sql"
	Path      string `mapstructure:"path"` // for "dir" and "sql"
	Compress  string `mapstructure:"compress"` // "none", "gzip" or "zstd"
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`
	Scheme    string `mapstructure:"scheme"`
}

// SchedulerConfig controls the concurrency of the dump frontier pool and
// the restore DAG pool.
type SchedulerConfig struct {
	WorkerCount  int `mapstructure:"worker_count"`
	QueryTimeout int `mapstructure:"query_timeout"` // in seconds
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"` // json or text
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Determine config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dbslice")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Check if it's a "file not found" error (either viper's type or os error)
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
			fmt.Println("Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			// File specified but doesn't exist, use defaults
			fmt.Printf("Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Allow environment variables to override config
	v.SetEnvPrefix("DBSLICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from raw bytes (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Source/destination defaults
	v.SetDefault("source.type", "postgres")
	v.SetDefault("source.port", 5432)
	v.SetDefault("source.ssl_mode", "prefer")
	v.SetDefault("source.max_conns", 10)
	v.SetDefault("destination.type", "postgres")
	v.SetDefault("destination.port", 5432)
	v.SetDefault("destination.ssl_mode", "prefer")
	v.SetDefault("destination.max_conns", 10)

	// Output defaults
	v.SetDefault("output.type", "dir")
	v.SetDefault("output.path", "./slice")
	v.SetDefault("output.compress", "zstd")

	// Scheduler defaults
	v.SetDefault("scheduler.worker_count", 5)
	v.SetDefault("scheduler.query_timeout", 300)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")
	v.SetDefault("log.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Scheduler.WorkerCount < 1 {
		return fmt.Errorf("scheduler worker count must be at least 1")
	}

	switch c.Output.Type {
	case "dir", "cos", "sql":
	default:
		return fmt.Errorf("unsupported output type: %s", c.Output.Type)
	}

	if c.Output.Type == "cos" {
		if c.Output.Bucket == "" || c.Output.Region == "" {
			return fmt.Errorf("cos output requires bucket and region")
		}
		if c.Output.SecretID == "" || c.Output.SecretKey == "" {
			return fmt.Errorf("cos output requires credentials")
		}
	}

	if (c.Output.Type == "dir" || c.Output.Type == "sql") && c.Output.Path == "" {
		return fmt.Errorf("%s output requires a path", c.Output.Type)
	}

	switch c.Output.Compress {
	case "", "none", "gzip", "zstd":
	default:
		return fmt.Errorf("unsupported compression: %s", c.Output.Compress)
	}

	return nil
}

// EnsureOutputDir creates the output directory if it doesn't exist.
func (c *Config) EnsureOutputDir() error {
	if c.Output.Path == "" {
		return nil
	}
	return os.MkdirAll(c.Output.Path, 0755)
}

// SegmentPath returns the filesystem path for a segment file under a dir
// output (<path>/segments/<table_id>/<index>), keyed by table id and
// segment index.
func (c *Config) SegmentPath(tableID string, index int) string {
	return filepath.Join(c.Output.Path, "segments", tableID, fmt.Sprintf("%d", index))
}

// DSN builds a libpq-style connection string for the given database config.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Database, d.User, d.Password, d.SSLMode)
}

// DialectType returns the configured GORM dialect, defaulting to postgres.
func (d *DatabaseConfig) DialectType() string {
	if d.Type == "" {
		return "postgres"
	}
	return d.Type
}
