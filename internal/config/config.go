// Package config provides configuration management for sheetjobs.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/rescale/sheetjobs/internal/constants"
)

// Config is the merged client configuration.
//
// Config file location: ~/.config/sheetjobs/config.ini
//
// INI format:
//
//	[server]
//	base_url = http://localhost:8000
//	request_timeout_seconds = 300
//	max_requests_per_second = 0
//
//	[polling]
//	status_interval_ms = 1500
//	roster_interval_seconds = 5
//
//	[proxy]
//	mode = no-proxy
//	host = proxy.corp
//	port = 8080
//	user = jdoe
//	no_proxy = localhost,127.0.0.1
//	warmup = false
//
//	[download]
//	output = .
//	max_retries = 3
//
//	[s3]
//	region = us-east-1
//	endpoint =
//	access_key_id =
//
//	[log]
//	level = info
//	file = false
type Config struct {
	// Processing backend
	APIBaseURL           string
	RequestTimeout       time.Duration
	MaxRequestsPerSecond float64 // 0 disables client-side throttling

	// Timer cadence
	StatusPollInterval    time.Duration
	RosterRefreshInterval time.Duration

	// Proxy settings
	ProxyMode     string // "no-proxy", "system", "basic", "ntlm"
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string // environment only, never written to disk
	NoProxy       string // Comma-separated list of hosts to bypass proxy
	ProxyWarmup   bool

	// Download settings
	DownloadOutput     string
	DownloadMaxRetries int

	// S3 sink settings; credentials fall back to the AWS default chain
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string // environment only

	// Logging
	LogLevel string
	LogFile  bool
}

// Environment variables read by MergeWithEnvironment
const (
	EnvAPIURL            = "SHEETJOBS_API_URL"
	EnvProxyPassword     = "SHEETJOBS_PROXY_PASSWORD"
	EnvS3SecretAccessKey = "SHEETJOBS_S3_SECRET_ACCESS_KEY"
)

// Validation errors
var (
	ErrMissingBaseURL        = errors.New("base_url is required")
	ErrInvalidBaseURL        = errors.New("base_url must be an absolute http or https URL")
	ErrInvalidPollInterval   = errors.New("status_interval_ms must be between 250 and 60000")
	ErrInvalidRosterInterval = errors.New("roster_interval_seconds must be between 1 and 3600")
	ErrInvalidProxyMode      = errors.New("proxy mode must be one of no-proxy, system, basic, ntlm")
	ErrInvalidRetries        = errors.New("max_retries must not be negative")
	ErrInvalidRateLimit      = errors.New("max_requests_per_second must not be negative")
)

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		APIBaseURL:            constants.DefaultAPIBaseURL,
		RequestTimeout:        constants.HTTPRequestTimeout,
		StatusPollInterval:    constants.DefaultStatusPollInterval,
		RosterRefreshInterval: constants.DefaultRosterRefreshInterval,
		ProxyMode:             "no-proxy",
		ProxyPort:             constants.DefaultProxyPort,
		DownloadOutput:        ".",
		DownloadMaxRetries:    constants.DefaultDownloadRetries,
		LogLevel:              "info",
	}
}

// DefaultConfigPath returns the default path for the config file.
// - Windows: %USERPROFILE%\.config\sheetjobs\config.ini
// - Unix: ~/.config/sheetjobs/config.ini
func DefaultConfigPath() (string, error) {
	var home string
	if runtime.GOOS == "windows" {
		home = os.Getenv("USERPROFILE")
		if home == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
	} else {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
	}
	return filepath.Join(home, ".config", constants.AppName, "config.ini"), nil
}

// LoadConfig loads configuration from an INI file.
// If the file doesn't exist, returns a config with default values and no error.
// If the file exists but is invalid, returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil // Return defaults if we can't determine path
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	server := iniFile.Section("server")
	cfg.APIBaseURL = server.Key("base_url").MustString(cfg.APIBaseURL)
	cfg.RequestTimeout = time.Duration(server.Key("request_timeout_seconds").MustInt(int(cfg.RequestTimeout/time.Second))) * time.Second
	cfg.MaxRequestsPerSecond = server.Key("max_requests_per_second").MustFloat64(0)

	polling := iniFile.Section("polling")
	cfg.StatusPollInterval = time.Duration(polling.Key("status_interval_ms").MustInt(int(cfg.StatusPollInterval/time.Millisecond))) * time.Millisecond
	cfg.RosterRefreshInterval = time.Duration(polling.Key("roster_interval_seconds").MustInt(int(cfg.RosterRefreshInterval/time.Second))) * time.Second

	proxy := iniFile.Section("proxy")
	cfg.ProxyMode = proxy.Key("mode").MustString(cfg.ProxyMode)
	cfg.ProxyHost = proxy.Key("host").String()
	cfg.ProxyPort = proxy.Key("port").MustInt(cfg.ProxyPort)
	cfg.ProxyUser = proxy.Key("user").String()
	cfg.NoProxy = proxy.Key("no_proxy").String()
	cfg.ProxyWarmup = proxy.Key("warmup").MustBool(false)
	// SECURITY: a password key in the file is ignored; use SHEETJOBS_PROXY_PASSWORD

	download := iniFile.Section("download")
	cfg.DownloadOutput = download.Key("output").MustString(cfg.DownloadOutput)
	cfg.DownloadMaxRetries = download.Key("max_retries").MustInt(cfg.DownloadMaxRetries)

	s3 := iniFile.Section("s3")
	cfg.S3Region = s3.Key("region").String()
	cfg.S3Endpoint = s3.Key("endpoint").String()
	cfg.S3AccessKeyID = s3.Key("access_key_id").String()

	logSection := iniFile.Section("log")
	cfg.LogLevel = logSection.Key("level").MustString(cfg.LogLevel)
	cfg.LogFile = logSection.Key("file").MustBool(false)

	return cfg, nil
}

// SaveConfig saves configuration to an INI file.
// Creates parent directories if they don't exist. Secrets are never written.
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	sections := []struct {
		name   string
		values [][2]string
	}{
		{"server", [][2]string{
			{"base_url", cfg.APIBaseURL},
			{"request_timeout_seconds", fmt.Sprintf("%d", int(cfg.RequestTimeout/time.Second))},
			{"max_requests_per_second", strconv.FormatFloat(cfg.MaxRequestsPerSecond, 'f', -1, 64)},
		}},
		{"polling", [][2]string{
			{"status_interval_ms", fmt.Sprintf("%d", int(cfg.StatusPollInterval/time.Millisecond))},
			{"roster_interval_seconds", fmt.Sprintf("%d", int(cfg.RosterRefreshInterval/time.Second))},
		}},
		{"proxy", [][2]string{
			{"mode", cfg.ProxyMode},
			{"host", cfg.ProxyHost},
			{"port", fmt.Sprintf("%d", cfg.ProxyPort)},
			{"user", cfg.ProxyUser},
			{"no_proxy", cfg.NoProxy},
			{"warmup", fmt.Sprintf("%t", cfg.ProxyWarmup)},
		}},
		{"download", [][2]string{
			{"output", cfg.DownloadOutput},
			{"max_retries", fmt.Sprintf("%d", cfg.DownloadMaxRetries)},
		}},
		{"s3", [][2]string{
			{"region", cfg.S3Region},
			{"endpoint", cfg.S3Endpoint},
			{"access_key_id", cfg.S3AccessKeyID},
		}},
		{"log", [][2]string{
			{"level", cfg.LogLevel},
			{"file", fmt.Sprintf("%t", cfg.LogFile)},
		}},
	}

	for _, s := range sections {
		section, err := iniFile.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		for _, kv := range s.values {
			section.Key(kv[0]).SetValue(kv[1])
		}
	}

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// MergeWithEnvironment applies SHEETJOBS_* environment overrides.
func (cfg *Config) MergeWithEnvironment() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv(EnvProxyPassword); v != "" {
		cfg.ProxyPassword = v
	}
	if v := os.Getenv(EnvS3SecretAccessKey); v != "" {
		cfg.S3SecretAccessKey = v
	}
}

// MergeWithFlags applies command-line overrides. Empty values are ignored.
// Priority: flags > environment > config file > defaults
func (cfg *Config) MergeWithFlags(apiURL string) {
	if apiURL != "" {
		cfg.APIBaseURL = apiURL
	}
}

// Validate checks if the configuration is usable.
func (cfg *Config) Validate() error {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		return ErrMissingBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidBaseURL
	}

	if cfg.MaxRequestsPerSecond < 0 {
		return ErrInvalidRateLimit
	}

	if cfg.StatusPollInterval < constants.MinStatusPollInterval || cfg.StatusPollInterval > constants.MaxStatusPollInterval {
		return ErrInvalidPollInterval
	}
	if cfg.RosterRefreshInterval < constants.MinRosterRefreshInterval || cfg.RosterRefreshInterval > constants.MaxRosterRefreshInterval {
		return ErrInvalidRosterInterval
	}

	switch strings.ToLower(cfg.ProxyMode) {
	case "", "no-proxy", "system", "basic", "ntlm":
	default:
		return ErrInvalidProxyMode
	}

	if cfg.DownloadMaxRetries < 0 {
		return ErrInvalidRetries
	}

	return nil
}

// NeedsProxyPassword returns true if the proxy configuration requires a password
// but one has not been provided. Used by CLI to determine if interactive prompt is needed.
func (cfg *Config) NeedsProxyPassword() bool {
	mode := strings.ToLower(cfg.ProxyMode)
	if mode != "basic" && mode != "ntlm" {
		return false
	}
	return cfg.ProxyUser != "" && cfg.ProxyPassword == ""
}
