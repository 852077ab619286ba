package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		searchPaths: []string{
			".",
			"./config",
			"./configs",
			"/etc/troupe",
			os.Getenv("HOME") + "/.troupe",
		},
		envPrefix:     "TROUPE",
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	return l.loadFromFile(filename)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.finish(config)
}

// AutoLoad discovers a configuration file in the search paths and loads
// it. When no file exists, the defaults plus environment overrides are
// used.
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, _, err := l.findConfigFile()
	if err != nil {
		if err == ErrConfigFileNotFound {
			config := l.defaults()
			return l.applyEnvAndValidate(config)
		}
		return nil, err
	}
	return l.loadFromFile(configFile)
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, ConfigFormat, error) {
	filenames := []string{
		"troupe.yaml", "troupe.yml",
		"config.yaml", "config.yml",
		"troupe.json", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				switch strings.ToLower(filepath.Ext(filename)) {
				case ".yaml", ".yml":
					return fullPath, FormatYAML, nil
				case ".json":
					return fullPath, FormatJSON, nil
				}
			}
		}
	}

	return "", "", ErrConfigFileNotFound
}

// loadFromFile loads configuration from a file
func (l *Loader) loadFromFile(filename string) (*Config, error) {
	var format ConfigFormat
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".json":
		format = FormatJSON
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return l.finish(config)
}

// finish merges a parsed user config over the defaults, applies
// environment overrides and validates the result.
func (l *Loader) finish(userConfig *Config) (*Config, error) {
	config := l.mergeConfig(l.defaults(), userConfig)
	return l.applyEnvAndValidate(config)
}

func (l *Loader) applyEnvAndValidate(config *Config) (*Config, error) {
	l.loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// defaults returns a copy of the default config, so merging and env
// overrides never write into the loader's shared instance.
func (l *Loader) defaults() *Config {
	base := l.defaultConfig
	if base == nil {
		base = DefaultConfig()
	}
	out := *base
	return &out
}

// parseConfig parses configuration data based on format
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := &Config{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	return config, nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) {
	// App configuration
	if val := os.Getenv(l.envPrefix + "_APP_NAME"); val != "" {
		config.App.Name = val
	}
	if val := os.Getenv(l.envPrefix + "_APP_VERSION"); val != "" {
		config.App.Version = val
	}
	if val := os.Getenv(l.envPrefix + "_APP_ENVIRONMENT"); val != "" {
		config.App.Environment = Environment(val)
	}
	if val := os.Getenv(l.envPrefix + "_APP_DEBUG"); val != "" {
		config.App.Debug = strings.ToLower(val) == "true"
	}

	// Log configuration
	if val := os.Getenv(l.envPrefix + "_LOG_LEVEL"); val != "" {
		config.Log.Level = LogLevel(val)
	}
	if val := os.Getenv(l.envPrefix + "_LOG_FORMAT"); val != "" {
		config.Log.Format = val
	}
	if val := os.Getenv(l.envPrefix + "_LOG_OUTPUT"); val != "" {
		config.Log.Output = val
	}

	// Actor configuration
	if val := os.Getenv(l.envPrefix + "_ACTOR_MAILBOX_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			config.Actor.MailboxSize = n
		}
	}
	if val := os.Getenv(l.envPrefix + "_ACTOR_PROCESS_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			config.Actor.ProcessTimeout = d
		}
	}
	if val := os.Getenv(l.envPrefix + "_ACTOR_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			config.Actor.ShutdownTimeout = d
		}
	}

	// Pending-request configuration
	if val := os.Getenv(l.envPrefix + "_ASK_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			config.Correlation.DefaultTimeout = d
		}
	}
	if val := os.Getenv(l.envPrefix + "_ASK_MAX_PENDING"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			config.Correlation.MaxPending = n
		}
	}
	if val := os.Getenv(l.envPrefix + "_ASK_ID_PREFIX"); val != "" {
		config.Correlation.IDPrefix = val
	}

	// Journal configuration
	if val := os.Getenv(l.envPrefix + "_JOURNAL_CAPACITY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			config.Journal.Capacity = n
		}
	}
	if val := os.Getenv(l.envPrefix + "_JOURNAL_FORMAT"); val != "" {
		config.Journal.Format = val
	}
}

// mergeConfig merges user config with default config
func (l *Loader) mergeConfig(defaultConfig, userConfig *Config) *Config {
	merged := *defaultConfig

	// App config
	if userConfig.App.Name != "" {
		merged.App.Name = userConfig.App.Name
	}
	if userConfig.App.Version != "" {
		merged.App.Version = userConfig.App.Version
	}
	if userConfig.App.Environment != "" {
		merged.App.Environment = userConfig.App.Environment
	}
	if userConfig.App.Description != "" {
		merged.App.Description = userConfig.App.Description
	}
	merged.App.Debug = userConfig.App.Debug
	if userConfig.App.Metadata != nil {
		merged.App.Metadata = userConfig.App.Metadata
	}

	// Log config
	if userConfig.Log.Level != "" {
		merged.Log.Level = userConfig.Log.Level
	}
	if userConfig.Log.Format != "" {
		merged.Log.Format = userConfig.Log.Format
	}
	if userConfig.Log.Output != "" {
		merged.Log.Output = userConfig.Log.Output
	}
	merged.Log.Color = userConfig.Log.Color
	if userConfig.Log.Rotation.Enabled {
		merged.Log.Rotation = userConfig.Log.Rotation
	}
	if userConfig.Log.Fields != nil {
		merged.Log.Fields = userConfig.Log.Fields
	}

	// Actor config
	if userConfig.Actor.MailboxSize != 0 {
		merged.Actor.MailboxSize = userConfig.Actor.MailboxSize
	}
	if userConfig.Actor.ProcessTimeout != 0 {
		merged.Actor.ProcessTimeout = userConfig.Actor.ProcessTimeout
	}
	if userConfig.Actor.ShutdownTimeout != 0 {
		merged.Actor.ShutdownTimeout = userConfig.Actor.ShutdownTimeout
	}

	// Pending-request config
	if userConfig.Correlation.DefaultTimeout != 0 {
		merged.Correlation.DefaultTimeout = userConfig.Correlation.DefaultTimeout
	}
	if userConfig.Correlation.MaxPending != 0 {
		merged.Correlation.MaxPending = userConfig.Correlation.MaxPending
	}
	if userConfig.Correlation.IDPrefix != "" {
		merged.Correlation.IDPrefix = userConfig.Correlation.IDPrefix
	}

	// Journal config
	if userConfig.Journal.Capacity != 0 {
		merged.Journal.Capacity = userConfig.Journal.Capacity
	}
	if userConfig.Journal.Format != "" {
		merged.Journal.Format = userConfig.Journal.Format
	}

	// Custom fields are merged into a fresh map; the default's map is
	// shared and must not be written to.
	if userConfig.Custom != nil {
		custom := make(map[string]interface{}, len(merged.Custom)+len(userConfig.Custom))
		for k, v := range merged.Custom {
			custom[k] = v
		}
		for k, v := range userConfig.Custom {
			custom[k] = v
		}
		merged.Custom = custom
	}

	return &merged
}
