// Package config handles configuration loading, validation, and persistence
// for the tracker.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gge-tracker/gge-tracker-sub003/internal/directory"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5080
)

// Config is the root configuration structure for the tracker.
type Config struct {
	mu   sync.RWMutex
	path string

	TrackerData     TrackerData     `json:"tracker_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// TrackerData contains game network specific configuration.
type TrackerData struct {
	Variants []directory.Variant `json:"variants"`
	Accounts map[string]Account  `json:"accounts"`
}

// Account holds login material for one zone. Rows are seeded into the
// account database at startup.
type Account struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ServerID int    `json:"server_id"`
}

// ApplicationData contains tracker application configuration.
type ApplicationData struct {
	APIPort  int            `json:"api_port"`
	Database DatabaseConfig `json:"database"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// DatabaseConfig holds account database settings.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TrackerData: TrackerData{
			Accounts: make(map[string]Account),
		},
		ApplicationData: ApplicationData{
			APIPort: DefaultAPIPort,
			Database: DatabaseConfig{
				Path: "config/accounts.db",
			},
			MQTT: MQTTConfig{
				Port:        8883,
				UseTLS:      true,
				TopicPrefix: "gge-tracker",
			},
			Security: SecurityConfig{
				RateLimitRPS: 100,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetTrackerData returns a copy of the tracker data configuration.
func (c *Config) GetTrackerData() TrackerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TrackerData
}

// SetTrackerData updates the tracker data configuration.
func (c *Config) SetTrackerData(data TrackerData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TrackerData = data
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}
