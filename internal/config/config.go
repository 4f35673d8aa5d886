package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"flexphone/internal/models"
)

// Config is the full softphone configuration loaded from YAML.
type Config struct {
	SIP      SIPConfig   `yaml:"sip"`
	Calls    CallsConfig `yaml:"calls"`
	API      APIConfig   `yaml:"api"`
	Redis    RedisConfig `yaml:"redis"`
	Contacts []Contact   `yaml:"contacts"`
	Log      LogConfig   `yaml:"log"`
}

type SIPConfig struct {
	// ListenAddr is the local signaling address, e.g. "0.0.0.0:5060".
	ListenAddr  string `yaml:"listen_addr"`
	Provider    string `yaml:"provider"`
	Server      string `yaml:"server"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DisplayName string `yaml:"display_name"`
	Transport   string `yaml:"transport"`
	// AutoConnect registers at startup using the credentials above.
	AutoConnect bool `yaml:"auto_connect"`
}

// ConnectConfig maps the static SIP section onto a connect request.
func (s SIPConfig) ConnectConfig() models.ConnectConfig {
	return models.ConnectConfig{
		Provider:    s.Provider,
		Server:      s.Server,
		Port:        s.Port,
		Username:    s.Username,
		Password:    s.Password,
		DisplayName: s.DisplayName,
		Transport:   s.Transport,
	}
}

type CallsConfig struct {
	MaxConcurrent      int `yaml:"max_concurrent"`
	RingTimeoutSeconds int `yaml:"ring_timeout_seconds"`
	DTMFSpacingMillis  int `yaml:"dtmf_spacing_millis"`
}

type APIConfig struct {
	Addr          string `yaml:"addr"`
	JWTSecret     string `yaml:"jwt_secret"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	LoginAttempts int    `yaml:"login_attempts"`
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Contact struct {
	Number string `yaml:"number"`
	Name   string `yaml:"name"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		SIP: SIPConfig{
			ListenAddr: "0.0.0.0:5060",
			Provider:   "flexpbx",
		},
		Calls: CallsConfig{
			MaxConcurrent:      1,
			RingTimeoutSeconds: 30,
			DTMFSpacingMillis:  100,
		},
		API: APIConfig{
			Addr:          ":8080",
			LoginAttempts: 5,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads and parses the configuration file, applying defaults for
// anything left unset.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration values.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.SIP.ListenAddr) == "" {
		return fmt.Errorf("sip listen address cannot be empty")
	}
	if cfg.SIP.Port < 0 || cfg.SIP.Port > 65535 {
		return fmt.Errorf("invalid sip port: %d (must be 0-65535)", cfg.SIP.Port)
	}
	if cfg.SIP.AutoConnect {
		if strings.TrimSpace(cfg.SIP.Username) == "" || cfg.SIP.Password == "" {
			return fmt.Errorf("auto_connect requires sip username and password")
		}
	}

	if cfg.Calls.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", cfg.Calls.MaxConcurrent)
	}
	if cfg.Calls.RingTimeoutSeconds < 1 {
		return fmt.Errorf("ring_timeout_seconds too short: %d (minimum 1)", cfg.Calls.RingTimeoutSeconds)
	}
	if cfg.Calls.DTMFSpacingMillis < 0 {
		return fmt.Errorf("dtmf_spacing_millis cannot be negative")
	}

	if strings.TrimSpace(cfg.API.Addr) == "" {
		return fmt.Errorf("api address cannot be empty")
	}
	if cfg.API.Username != "" && cfg.API.JWTSecret == "" {
		return fmt.Errorf("api auth requires a jwt_secret")
	}

	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return fmt.Errorf("redis address cannot be empty when redis is enabled")
	}

	for i, c := range cfg.Contacts {
		if strings.TrimSpace(c.Number) == "" {
			return fmt.Errorf("contact %d has no number", i)
		}
	}
	return nil
}
