package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Client      ClientConfig      `mapstructure:"client"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Compression CompressionConfig `mapstructure:"compression"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig contains settings for the compression server
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	MaxUploadMB  int           `mapstructure:"max_upload_mb"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	AllowOrigin  string        `mapstructure:"allow_origin"`
}

// ClientConfig contains settings for talking to a compression server
type ClientConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"` // 0 means no client-side timeout
}

// FetchConfig contains settings for downloading remote images
type FetchConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxSizeMB int           `mapstructure:"max_size_mb"`
	UserAgent string        `mapstructure:"user_agent"`
}

// CompressionConfig contains default compression parameters
type CompressionConfig struct {
	Percent int    `mapstructure:"percent"`
	Quality int    `mapstructure:"quality"`
	Filter  string `mapstructure:"filter"`

	// MaxPixels caps width*height of decoded inputs.
	MaxPixels int64 `mapstructure:"max_pixels"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// validFilters are the resampling filters understood by the compressor.
var validFilters = map[string]bool{
	"nearest":    true,
	"box":        true,
	"linear":     true,
	"catmullrom": true,
	"lanczos":    true,
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         5000,
			MaxUploadMB:  20,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			AllowOrigin:  "*",
		},
		Client: ClientConfig{
			Endpoint: "http://localhost:5000/compress",
		},
		Fetch: FetchConfig{
			Timeout:   30 * time.Second,
			MaxSizeMB: 20,
			UserAgent: "image-compressor/1.0",
		},
		Compression: CompressionConfig{
			Percent:   100,
			Quality:   80,
			Filter:    "lanczos",
			MaxPixels: 100_000_000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.image-compressor")
		v.AddConfigPath("/etc/image-compressor")
	}

	v.SetEnvPrefix("IMAGE_COMPRESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, config)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindDefaults registers every key so AutomaticEnv can override keys that are
// absent from the config file.
func bindDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.max_upload_mb", c.Server.MaxUploadMB)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.allow_origin", c.Server.AllowOrigin)
	v.SetDefault("client.endpoint", c.Client.Endpoint)
	v.SetDefault("client.timeout", c.Client.Timeout)
	v.SetDefault("fetch.timeout", c.Fetch.Timeout)
	v.SetDefault("fetch.max_size_mb", c.Fetch.MaxSizeMB)
	v.SetDefault("fetch.user_agent", c.Fetch.UserAgent)
	v.SetDefault("compression.percent", c.Compression.Percent)
	v.SetDefault("compression.quality", c.Compression.Quality)
	v.SetDefault("compression.filter", c.Compression.Filter)
	v.SetDefault("compression.max_pixels", c.Compression.MaxPixels)
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 20
	}
	if c.Fetch.MaxSizeMB <= 0 {
		c.Fetch.MaxSizeMB = 20
	}

	if c.Client.Endpoint == "" {
		return fmt.Errorf("client endpoint is required")
	}
	u, err := url.Parse(c.Client.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid client endpoint: %s", c.Client.Endpoint)
	}

	if c.Compression.Percent < 1 || c.Compression.Percent > 100 {
		return fmt.Errorf("invalid default percent: %d (valid: 1-100)", c.Compression.Percent)
	}
	if c.Compression.Quality < 0 || c.Compression.Quality > 100 {
		return fmt.Errorf("invalid default quality: %d (valid: 0-100)", c.Compression.Quality)
	}

	if c.Compression.MaxPixels <= 0 {
		c.Compression.MaxPixels = 100_000_000
	}

	c.Compression.Filter = strings.ToLower(c.Compression.Filter)
	if c.Compression.Filter == "" {
		c.Compression.Filter = "lanczos"
	}
	if !validFilters[c.Compression.Filter] {
		return fmt.Errorf("invalid resampling filter: %s (valid: nearest, box, linear, catmullrom, lanczos)",
			c.Compression.Filter)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// MaxUploadBytes returns the request body limit for POST /compress.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// MaxFetchBytes returns the size limit for downloaded images.
func (c *Config) MaxFetchBytes() int64 {
	return int64(c.Fetch.MaxSizeMB) << 20
}
