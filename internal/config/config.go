package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models labflow.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name,omitempty"`
	} `yaml:"project" json:"project"`
	Board struct {
		Columns []BoardColumn `yaml:"columns" json:"columns"`
	} `yaml:"board" json:"board"`
	Calendar struct {
		HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
	} `yaml:"calendar" json:"calendar"`
	Retry struct {
		MaxAttempts      int `yaml:"max_attempts" json:"max_attempts"`
		BaseDelayMS      int `yaml:"base_delay_ms" json:"base_delay_ms"`
		FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
		CooldownSeconds  int `yaml:"cooldown_seconds" json:"cooldown_seconds"`
	} `yaml:"retry" json:"retry"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type BoardColumn struct {
	Status string `yaml:"status" json:"status"`
	Title  string `yaml:"title" json:"title"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url" json:"url"`
	Events []string `yaml:"events" json:"events,omitempty"`
}

var validStatuses = map[string]bool{
	"not_started": true,
	"in_progress": true,
	"done":        true,
	"canceled":    true,
}

// ValidStatus reports whether s is a recognized task status.
func ValidStatus(s string) bool { return validStatuses[s] }

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if len(c.Board.Columns) == 0 {
		return fmt.Errorf("config.board.columns is required")
	}
	for _, col := range c.Board.Columns {
		if col.Status == "" {
			return fmt.Errorf("board column with empty status")
		}
		if !ValidStatus(col.Status) {
			return fmt.Errorf("board column references unknown status %s", col.Status)
		}
	}
	if c.Calendar.HorizonDays < 0 {
		return fmt.Errorf("config.calendar.horizon_days must not be negative")
	}
	if c.Retry.MaxAttempts < 0 || c.Retry.BaseDelayMS < 0 || c.Retry.FailureThreshold < 0 || c.Retry.CooldownSeconds < 0 {
		return fmt.Errorf("config.retry values must not be negative")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "labflow.yml")
}

// Load reads and validates config from a workspace directory.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with lf project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  name: Laboratory

board:
  columns:
    - status: not_started
      title: "Not Started"
    - status: in_progress
      title: "In Progress"
    - status: done
      title: "Done"

calendar:
  horizon_days: 90

retry:
  max_attempts: 4
  base_delay_ms: 1000
  failure_threshold: 1
  cooldown_seconds: 30
`
