package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const appName = "sessionbridge"

// Environment variables that override file settings
const (
	EnvHostURL   = "SESSIONBRIDGE_HOST_URL"
	EnvStreamURL = "SESSIONBRIDGE_STREAM_URL"
	EnvToken     = "SESSIONBRIDGE_TOKEN"
	EnvLogLevel  = "SESSIONBRIDGE_LOG_LEVEL"
	EnvLogPath   = "SESSIONBRIDGE_LOG_PATH"
)

const (
	defaultHostURL        = "http://localhost:8940"
	defaultRequestTimeout = 30
	defaultHistoryLimit   = 10000
)

// OutputConfig controls the in-memory output history
type OutputConfig struct {
	// HistoryLimit caps retained lines; 0 keeps everything
	HistoryLimit int `json:"history_limit"`
}

// Config holds application configuration
type Config struct {
	HostURL               string       `json:"host_url"`
	StreamURL             string       `json:"stream_url,omitempty"` // Derived from host_url when empty
	AuthToken             string       `json:"auth_token,omitempty"`
	RequestTimeoutSeconds int          `json:"request_timeout_seconds"`
	Output                OutputConfig `json:"output"`
	LogLevel              string       `json:"log_level"` // debug, info, warn, error, none
	LogPath               string       `json:"log_path"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", appName)
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", appName)
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", appName)
	default:
		return defaultConfigDir()
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		HostURL:               defaultHostURL,
		RequestTimeoutSeconds: defaultRequestTimeout,
		Output:                OutputConfig{HistoryLimit: defaultHistoryLimit},
		LogLevel:              "info",
		LogPath:               filepath.Join(defaultStateDir(), appName+".log"),
	}
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if config.HostURL == "" {
		config.HostURL = defaultHostURL
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogPath == "" {
		config.LogPath = filepath.Join(defaultStateDir(), appName+".log")
	}
	if config.RequestTimeoutSeconds < 0 {
		config.RequestTimeoutSeconds = 0
	}

	return config, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// The file may hold a token
	return os.WriteFile(path, append(data, '\n'), 0600)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// DevHostLockPath returns where a running dev-host records itself
func DevHostLockPath() string {
	return filepath.Join(defaultStateDir(), "dev-host.lock")
}

// ApplyEnv overlays the SESSIONBRIDGE_* environment variables
func (c *Config) ApplyEnv() {
	c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvHostURL); ok && strings.TrimSpace(v) != "" {
		c.HostURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvStreamURL); ok && strings.TrimSpace(v) != "" {
		c.StreamURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvToken); ok {
		c.AuthToken = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		c.LogLevel = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogPath); ok && strings.TrimSpace(v) != "" {
		c.LogPath = strings.TrimSpace(v)
	}
}

// ResolvedStreamURL returns the stream base URL, deriving it from the host
// URL when not set: http becomes ws, https becomes wss, and /stream is appended.
func (c *Config) ResolvedStreamURL() (string, error) {
	if c.StreamURL != "" {
		return strings.TrimRight(c.StreamURL, "/"), nil
	}

	u, err := url.Parse(c.HostURL)
	if err != nil {
		return "", fmt.Errorf("invalid host_url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid host_url %q: scheme must be http or https", c.HostURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/stream"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// RequestTimeout is the per-request HTTP timeout; zero disables it
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Validate checks URLs and numeric limits
func (c *Config) Validate() error {
	var errs []error

	if err := checkURL("host_url", c.HostURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if c.StreamURL != "" {
		if err := checkURL("stream_url", c.StreamURL, "ws", "wss"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.RequestTimeoutSeconds < 0 {
		errs = append(errs, errors.New("request_timeout_seconds must not be negative"))
	}
	if c.Output.HistoryLimit < 0 {
		errs = append(errs, errors.New("output.history_limit must not be negative"))
	}

	return errors.Join(errs...)
}

func checkURL(field, raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			if u.Host == "" {
				return fmt.Errorf("%s %q has no host", field, raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%s %q: scheme must be one of %s", field, raw, strings.Join(schemes, ", "))
}
