package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port          int           `yaml:"port"`
	HTTPAddr      string        `yaml:"http_addr"`
	DBPath        string        `yaml:"db_path"`
	FilesDir      string        `yaml:"files_dir"`
	ControlSocket string        `yaml:"control_socket"`
	HubName       string        `yaml:"hub_name"`
	HubStatus     string        `yaml:"hub_status"`
	HubAvatar     string        `yaml:"hub_avatar"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"` // 0 keeps silent peers forever
	ExitGrace     time.Duration `yaml:"exit_grace"`
	RetentionDays int           `yaml:"retention_days"`
	LogLevel      string        `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		Port:          5555,
		HTTPAddr:      "127.0.0.1:5000",
		DBPath:        "messages.db",
		FilesDir:      "received_files",
		ControlSocket: "/tmp/lnmsg.sock",
		HubName:       "Serveur",
		HubStatus:     "Available",
		HubAvatar:     "🖥️",
		WriteTimeout:  10 * time.Second,
		ExitGrace:     time.Second,
		LogLevel:      "info",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then LNM_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if portStr := os.Getenv("LNM_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if v, ok := os.LookupEnv("LNM_HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}

	if dbPath := os.Getenv("LNM_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if dir := os.Getenv("LNM_FILES_DIR"); dir != "" {
		cfg.FilesDir = dir
	}

	if v, ok := os.LookupEnv("LNM_CONTROL_SOCKET"); ok {
		cfg.ControlSocket = v
	}

	if name := os.Getenv("LNM_HUB_NAME"); name != "" {
		cfg.HubName = name
	}

	if timeoutStr := os.Getenv("LNM_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = time.Duration(timeout) * time.Second
		}
	}

	if timeoutStr := os.Getenv("LNM_IDLE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.IdleTimeout = time.Duration(timeout) * time.Second
		}
	}

	if graceStr := os.Getenv("LNM_EXIT_GRACE_MS"); graceStr != "" {
		if grace, err := strconv.Atoi(graceStr); err == nil {
			cfg.ExitGrace = time.Duration(grace) * time.Millisecond
		}
	}

	if daysStr := os.Getenv("LNM_RETENTION_DAYS"); daysStr != "" {
		if days, err := strconv.Atoi(daysStr); err == nil {
			cfg.RetentionDays = days
		}
	}

	if level := os.Getenv("LNM_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
}

// Validate rejects values the hub cannot run with.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	if c.FilesDir == "" {
		return fmt.Errorf("config: files_dir is required")
	}
	if c.HubName == "" {
		c.HubName = "Serveur"
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("config: write_timeout must be positive")
	}
	if c.IdleTimeout < 0 || c.ExitGrace < 0 || c.RetentionDays < 0 {
		return fmt.Errorf("config: durations and retention must not be negative")
	}
	return nil
}
