// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ConfigPathEnv names the optional TOML file read before environment overrides.
const ConfigPathEnv = "AGENTDEMO_CONFIG"

const (
	envConnString = "AZURE_FOUNDRY_PROJECT_CONNSTRING"
	envModel      = "AZURE_FOUNDRY_GPT_MODEL"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	StateFile   string
	SessionTTL  time.Duration

	Foundry FoundryConfig
	Flow    FlowConfig

	MaxUploadBytes     int64
	RateLimitPerMinute int
	GRPCHealthAddr     string
}

// FoundryConfig locates the agent service.
type FoundryConfig struct {
	ConnString string
	Model      string
	APIKey     string
	APIVersion string
}

// FlowConfig tunes the orchestration flows.
type FlowConfig struct {
	ImageDir          string
	UploadDir         string
	ImagePollTimeout  time.Duration
	ImagePollInterval time.Duration
	RunPollInterval   time.Duration
	DeleteThreads     bool
}

// fileConfig mirrors Config in TOML. Durations are Go duration strings.
type fileConfig struct {
	Port               string `toml:"port"`
	FrontendURL        string `toml:"frontend_url"`
	DBPath             string `toml:"db_path"`
	StateFile          string `toml:"state_file"`
	SessionTTL         string `toml:"session_ttl"`
	MaxUploadBytes     int64  `toml:"max_upload_bytes"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	GRPCHealthAddr     string `toml:"grpc_health_addr"`

	Foundry struct {
		ConnString string `toml:"connection_string"`
		Model      string `toml:"model"`
		APIKey     string `toml:"api_key"`
		APIVersion string `toml:"api_version"`
	} `toml:"foundry"`

	Flow struct {
		ImageDir          string `toml:"image_dir"`
		UploadDir         string `toml:"upload_dir"`
		ImagePollTimeout  string `toml:"image_poll_timeout"`
		ImagePollInterval string `toml:"image_poll_interval"`
		RunPollInterval   string `toml:"run_poll_interval"`
		DeleteThreads     *bool  `toml:"delete_threads"`
	} `toml:"flow"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:       "8080",
		DBPath:     "./data/agentdemo.db",
		StateFile:  ".session_state.json",
		SessionTTL: 60 * time.Minute,
		Foundry: FoundryConfig{
			APIVersion: "2024-12-01-preview",
		},
		Flow: FlowConfig{
			ImageDir:          "./data/images",
			UploadDir:         os.TempDir(),
			ImagePollTimeout:  30 * time.Second,
			ImagePollInterval: time.Second,
			RunPollInterval:   time.Second,
		},
		MaxUploadBytes:     20 << 20,
		RateLimitPerMinute: 10,
	}
}

// Load reads the file named by AGENTDEMO_CONFIG, if any, then environment variables.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigPathEnv))
}

// LoadFile reads path (when non-empty) and applies environment overrides on top.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Port, fc.Port)
	setString(&c.FrontendURL, fc.FrontendURL)
	setString(&c.DBPath, fc.DBPath)
	setString(&c.StateFile, fc.StateFile)
	setString(&c.GRPCHealthAddr, fc.GRPCHealthAddr)
	setString(&c.Foundry.ConnString, fc.Foundry.ConnString)
	setString(&c.Foundry.Model, fc.Foundry.Model)
	setString(&c.Foundry.APIKey, fc.Foundry.APIKey)
	setString(&c.Foundry.APIVersion, fc.Foundry.APIVersion)
	setString(&c.Flow.ImageDir, fc.Flow.ImageDir)
	setString(&c.Flow.UploadDir, fc.Flow.UploadDir)
	if fc.MaxUploadBytes != 0 {
		c.MaxUploadBytes = fc.MaxUploadBytes
	}
	if fc.RateLimitPerMinute != 0 {
		c.RateLimitPerMinute = fc.RateLimitPerMinute
	}
	if fc.Flow.DeleteThreads != nil {
		c.Flow.DeleteThreads = *fc.Flow.DeleteThreads
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"session_ttl", fc.SessionTTL, &c.SessionTTL},
		{"flow.image_poll_timeout", fc.Flow.ImagePollTimeout, &c.Flow.ImagePollTimeout},
		{"flow.image_poll_interval", fc.Flow.ImagePollInterval, &c.Flow.ImagePollInterval},
		{"flow.run_poll_interval", fc.Flow.RunPollInterval, &c.Flow.RunPollInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := parseDuration(d.value)
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.StateFile = getEnv("STATE_FILE", c.StateFile)
	c.GRPCHealthAddr = getEnv("GRPC_HEALTH_ADDR", c.GRPCHealthAddr)

	c.Foundry.ConnString = getEnv(envConnString, c.Foundry.ConnString)
	c.Foundry.Model = getEnv(envModel, c.Foundry.Model)
	c.Foundry.APIKey = getEnv("AZURE_FOUNDRY_API_KEY", c.Foundry.APIKey)
	c.Foundry.APIVersion = getEnv("AZURE_FOUNDRY_API_VERSION", c.Foundry.APIVersion)

	c.Flow.ImageDir = getEnv("IMAGE_DIR", c.Flow.ImageDir)
	c.Flow.UploadDir = getEnv("UPLOAD_DIR", c.Flow.UploadDir)
	c.Flow.DeleteThreads = getEnvBool("DELETE_THREADS", c.Flow.DeleteThreads)

	c.MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes)))
	c.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute)

	var err error
	if c.SessionTTL, err = getEnvDuration("SESSION_TTL", c.SessionTTL); err != nil {
		return err
	}
	if c.Flow.ImagePollTimeout, err = getEnvDuration("IMAGE_POLL_TIMEOUT", c.Flow.ImagePollTimeout); err != nil {
		return err
	}
	if c.Flow.ImagePollInterval, err = getEnvDuration("IMAGE_POLL_INTERVAL", c.Flow.ImagePollInterval); err != nil {
		return err
	}
	if c.Flow.RunPollInterval, err = getEnvDuration("RUN_POLL_INTERVAL", c.Flow.RunPollInterval); err != nil {
		return err
	}
	return nil
}

// Validate checks that all required configuration fields are set.
// Missing agent service settings are reported by Missing instead.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.StateFile == "" {
		return errors.New("STATE_FILE cannot be empty")
	}
	if c.Flow.ImageDir == "" {
		return errors.New("IMAGE_DIR cannot be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.RateLimitPerMinute < 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be >= 0")
	}
	if c.Flow.ImagePollTimeout <= 0 || c.Flow.ImagePollInterval <= 0 {
		return errors.New("IMAGE_POLL_TIMEOUT and IMAGE_POLL_INTERVAL must be > 0")
	}
	if c.Flow.RunPollInterval <= 0 {
		return errors.New("RUN_POLL_INTERVAL must be > 0")
	}
	return nil
}

// Missing lists the names of required agent service settings that are unset.
func (c *Config) Missing() []string {
	var missing []string
	if c.Foundry.ConnString == "" {
		missing = append(missing, envConnString)
	}
	if c.Foundry.Model == "" {
		missing = append(missing, envModel)
	}
	return missing
}

// Configured reports whether the agent service can be reached.
func (c *Config) Configured() bool {
	return len(c.Missing()) == 0
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	d, err := parseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// parseDuration accepts Go durations ("1m30s") or a bare number of seconds.
func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(value)
}
