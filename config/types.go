// Package config provides configuration management for the troupe runtime
package config

import (
	"strings"
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// Config represents the complete troupe configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Actor runtime configuration
	Actor ActorConfig `yaml:"actor" json:"actor"`

	// Pending-request (ask) configuration
	Correlation CorrelationConfig `yaml:"correlation" json:"correlation"`

	// Event and dead-letter journal configuration
	Journal JournalConfig `yaml:"journal" json:"journal"`

	// Custom configurations (for user-defined components)
	Custom map[string]interface{} `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`

	// Application description
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Application metadata
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, console)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable colored output for the console format
	Color bool `yaml:"color" json:"color"`

	// Log rotation configuration, applied to file outputs
	Rotation LogRotationConfig `yaml:"rotation" json:"rotation"`

	// Fields to include in every log entry
	Fields map[string]interface{} `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// LogRotationConfig contains log rotation settings
type LogRotationConfig struct {
	// Enable log rotation
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Maximum file size in MB
	MaxSize int `yaml:"max_size" json:"max_size"`

	// Maximum number of old files to retain
	MaxBackups int `yaml:"max_backups" json:"max_backups"`

	// Maximum age in days
	MaxAge int `yaml:"max_age" json:"max_age"`

	// Compress old files
	Compress bool `yaml:"compress" json:"compress"`
}

// ActorConfig contains per-actor runtime settings
type ActorConfig struct {
	// Default mailbox capacity
	MailboxSize int `yaml:"mailbox_size" json:"mailbox_size"`

	// Upper bound on a single handler invocation
	ProcessTimeout time.Duration `yaml:"process_timeout" json:"process_timeout"`

	// Upper bound on stopping the whole system
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// CorrelationConfig contains pending-request settings
type CorrelationConfig struct {
	// Timeout applied when an ask does not specify one
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`

	// Ceiling on simultaneously pending asks
	MaxPending int `yaml:"max_pending" json:"max_pending"`

	// Prefix for generated correlation ids
	IDPrefix string `yaml:"id_prefix" json:"id_prefix"`
}

// JournalConfig contains event journal settings
type JournalConfig struct {
	// Entries retained per ring (events and dead letters)
	Capacity int `yaml:"capacity" json:"capacity"`

	// Export encoding (json, cbor)
	Format string `yaml:"format" json:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "troupe-app",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Debug:       true,
			Description: "troupe application",
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "console",
			Output: "stdout",
			Color:  true,
			Rotation: LogRotationConfig{
				Enabled:    false,
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     7,
				Compress:   true,
			},
		},
		Actor: ActorConfig{
			MailboxSize:     1024,
			ProcessTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Correlation: CorrelationConfig{
			DefaultTimeout: 30 * time.Second,
			MaxPending:     1024,
			IDPrefix:       "ask",
		},
		Journal: JournalConfig{
			Capacity: 256,
			Format:   "json",
		},
		Custom: make(map[string]interface{}),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}

	if c.Actor.MailboxSize <= 0 {
		return ErrInvalidMailboxSize
	}
	if c.Actor.ProcessTimeout <= 0 || c.Actor.ShutdownTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.Correlation.DefaultTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Correlation.MaxPending <= 0 {
		return ErrInvalidMaxPending
	}

	if c.Journal.Capacity <= 0 {
		return ErrInvalidJournalCapacity
	}
	switch strings.ToLower(c.Journal.Format) {
	case "", "json", "cbor":
	default:
		return ErrInvalidJournalFormat
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}
