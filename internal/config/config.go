// Package config loads the daemon configuration: a YAML file with
// environment overrides for the secrets. The .env file is loaded by
// main before this package runs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	CityName    string `yaml:"city_name"`
	DBPath      string `yaml:"db_path"`
	CatalogPath string `yaml:"catalog_path"`
	HumanName   string `yaml:"human_name"`

	API struct {
		Port        int      `yaml:"port"`
		AdminKey    string   `yaml:"admin_key"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"api"`

	LLM struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"llm"`

	Scheduler SchedulerConfig `yaml:"scheduler"`

	LogLevel string `yaml:"log_level"`
}

// SchedulerConfig holds the tick cadences. Values are written as Go
// duration strings ("30s", "1m", "1h") in the YAML file.
type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"-"`
	PlanInterval time.Duration `yaml:"-"`
}

// UnmarshalYAML parses the duration strings, keeping the defaults for
// absent keys.
func (s *SchedulerConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		TickInterval string `yaml:"tick_interval"`
		PlanInterval string `yaml:"plan_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.TickInterval != "" {
		d, err := time.ParseDuration(raw.TickInterval)
		if err != nil {
			return fmt.Errorf("parse tick_interval: %w", err)
		}
		s.TickInterval = d
	}
	if raw.PlanInterval != "" {
		d, err := time.ParseDuration(raw.PlanInterval)
		if err != nil {
			return fmt.Errorf("parse plan_interval: %w", err)
		}
		s.PlanInterval = d
	}
	return nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var c Config
	c.CityName = "agora"
	c.DBPath = "data/agora.db"
	c.HumanName = "mayor"
	c.API.Port = 8080
	c.Scheduler.TickInterval = time.Minute
	c.Scheduler.PlanInterval = time.Hour
	c.LogLevel = "info"
	return c
}

// Load reads the config file (a missing file falls back to defaults),
// then applies environment overrides: ANTHROPIC_API_KEY,
// AGORA_ADMIN_KEY, AGORA_DB_PATH, AGORA_LOG_LEVEL.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &c); err != nil {
				return c, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("AGORA_ADMIN_KEY"); v != "" {
		c.API.AdminKey = v
	}
	if v := os.Getenv("AGORA_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("AGORA_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	if c.Scheduler.TickInterval <= 0 {
		c.Scheduler.TickInterval = time.Minute
	}
	if c.Scheduler.PlanInterval <= 0 {
		c.Scheduler.PlanInterval = time.Hour
	}
	return c, nil
}
