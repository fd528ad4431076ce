// Package config provides configuration management for the OData connector.
// It handles loading and parsing the YAML configuration file, applying
// environment overrides and defaults, and validating the OAuth2 client settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tunable defaults.
const (
	DefaultPageSize        = 15000
	DefaultCallbackTimeout = 60 * time.Second
	DefaultPollInterval    = 250 * time.Millisecond
	DefaultStartupGrace    = 500 * time.Millisecond
	DefaultRequestTimeout  = 30 * time.Second
	DefaultLogsMaxSizeMB   = 50
)

// Environment variables that override file values.
const (
	EnvClientID     = "ODATALINK_CLIENT_ID"
	EnvClientSecret = "ODATALINK_CLIENT_SECRET"
	EnvProxyURL     = "ODATALINK_PROXY_URL"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile writes logs to a rotating file in LogDir instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory for log files when LoggingToFile is enabled.
	LogDir string `yaml:"log-dir" json:"log-dir"`

	// LogsMaxSizeMB is the size at which the log file is rotated.
	LogsMaxSizeMB int `yaml:"logs-max-size-mb" json:"logs-max-size-mb"`

	// LogsMaxTotalSizeMB caps the total size of LogDir. Oldest files are removed first; 0 disables the cap.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// RequestLog dumps every OData exchange to a file under LogDir.
	RequestLog bool `yaml:"request-log" json:"request-log"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// AuthDir is the directory where token files are written after a login.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`

	// RequestTimeout bounds every outbound HTTP call.
	RequestTimeout time.Duration `yaml:"request-timeout" json:"request-timeout"`

	OAuth2 OAuth2Config `yaml:"oauth2" json:"oauth2"`
	ODP    ODPConfig    `yaml:"odp" json:"odp"`
}

// ODPConfig holds delta-extraction settings.
type ODPConfig struct {
	// PageSize is sent as odata.maxpagesize. <= 0 falls back to DefaultPageSize.
	PageSize int `yaml:"page-size" json:"page-size"`
	// UseV4 switches request headers to OData 4.0.
	UseV4 bool `yaml:"use-v4" json:"use-v4"`
	// JSONFormat controls whether $format=json is enforced. Defaults to true.
	JSONFormat *bool `yaml:"json-format,omitempty" json:"json-format,omitempty"`
	// Headers are added to every ODP request unless the protocol already sets them (e.g. sap-client).
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// WantsJSON reports whether $format=json should be enforced.
func (c ODPConfig) WantsJSON() bool {
	return c.JSONFormat == nil || *c.JSONFormat
}

// LoadConfig reads and parses the YAML configuration file.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads the configuration file. When optional is true a
// missing file yields a default configuration instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(configFile)
	if err != nil {
		if !optional || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = nil
	}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := lookupEnv(EnvClientID); ok {
		c.OAuth2.ClientID = v
	}
	if v, ok := lookupEnv(EnvClientSecret); ok {
		c.OAuth2.ClientSecret = v
	}
	if v, ok := lookupEnv(EnvProxyURL); ok {
		c.ProxyURL = v
	}
}

// ApplyDefaults fills zero values with the package defaults.
func (c *Config) ApplyDefaults() {
	if c.LogsMaxSizeMB <= 0 {
		c.LogsMaxSizeMB = DefaultLogsMaxSizeMB
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ODP.PageSize <= 0 {
		c.ODP.PageSize = DefaultPageSize
	}
	c.OAuth2.ApplyDefaults()
}

func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}
