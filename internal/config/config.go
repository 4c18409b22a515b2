package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"stageboard/internal/status"
)

// Config models stageboard.yml.
type Config struct {
	Board struct {
		UrgentWindowHours int `yaml:"urgent_window_hours"`
	} `yaml:"board"`
	Commission CommissionConfig      `yaml:"commission"`
	Roles      map[string]RoleConfig `yaml:"roles"`
	Pipelines  []PipelineSeed        `yaml:"pipelines"`
	Webhooks   []WebhookConfig       `yaml:"webhooks"`
}

// CommissionConfig holds the three-tier commission formula. Thresholds are
// multipliers against a product's reference sell price; tiers are the payout
// amounts; Default applies when an item's product cannot be resolved.
type CommissionConfig struct {
	Default    float64 `yaml:"default"`
	Thresholds struct {
		High float64 `yaml:"high"`
		Mid  float64 `yaml:"mid"`
	} `yaml:"thresholds"`
	Tiers struct {
		High float64 `yaml:"high"`
		Mid  float64 `yaml:"mid"`
		Low  float64 `yaml:"low"`
	} `yaml:"tiers"`
}

// RoleConfig restricts which target stages a role may move items to.
// Unrestricted roles bypass the allow-list entirely.
type RoleConfig struct {
	Description  string   `yaml:"description"`
	Unrestricted bool     `yaml:"unrestricted"`
	Targets      []string `yaml:"targets"`
}

// PipelineSeed describes a pipeline created on first run.
type PipelineSeed struct {
	Name    string      `yaml:"name"`
	Color   string      `yaml:"color"`
	Default bool        `yaml:"default"`
	Stages  []StageSeed `yaml:"stages"`
}

type StageSeed struct {
	ID     string `yaml:"id"`
	Color  string `yaml:"color"`
	Status string `yaml:"status"`
	Locked bool   `yaml:"locked"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// UrgentWindow returns the reporter-urgency window as a duration.
func (c *Config) UrgentWindow() time.Duration {
	hours := c.Board.UrgentWindowHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// AllowedTargets resolves the union of permitted target stages for a set of
// roles. unrestricted is true when any role bypasses the allow-list. Unknown
// roles contribute nothing.
func (c *Config) AllowedTargets(roles []string) (targets []string, unrestricted bool) {
	for _, name := range roles {
		role, ok := c.Roles[name]
		if !ok {
			continue
		}
		if role.Unrestricted {
			return nil, true
		}
		targets = append(targets, role.Targets...)
	}
	return targets, false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Board.UrgentWindowHours < 0 {
		return fmt.Errorf("config.board.urgent_window_hours must not be negative")
	}
	th := c.Commission.Thresholds
	if th.High <= 0 || th.Mid <= 0 {
		return fmt.Errorf("config.commission.thresholds must be positive")
	}
	if th.High <= th.Mid {
		return fmt.Errorf("config.commission.thresholds.high must exceed mid")
	}
	tiers := c.Commission.Tiers
	if tiers.High < 0 || tiers.Mid < 0 || tiers.Low < 0 || c.Commission.Default < 0 {
		return fmt.Errorf("config.commission amounts must not be negative")
	}
	if len(c.Roles) == 0 {
		return fmt.Errorf("config.roles is required")
	}
	if _, ok := c.Roles["admin"]; !ok {
		return fmt.Errorf("config.roles must include admin")
	}
	for name, role := range c.Roles {
		if name == "" {
			return fmt.Errorf("config.roles contains empty role name")
		}
		if !role.Unrestricted && len(role.Targets) == 0 {
			return fmt.Errorf("role %s needs targets or unrestricted: true", name)
		}
		for _, target := range role.Targets {
			if target == "" {
				return fmt.Errorf("role %s has empty target stage", name)
			}
		}
	}
	for _, p := range c.Pipelines {
		if p.Name == "" {
			return fmt.Errorf("config.pipelines contains pipeline without name")
		}
		for _, s := range p.Stages {
			if s.ID == "" {
				return fmt.Errorf("pipeline %s has stage without id", p.Name)
			}
			if s.Status != "" && !status.Valid(s.Status) {
				return fmt.Errorf("pipeline %s stage %s has unknown status %s", p.Name, s.ID, s.Status)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d] missing url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stageboard.yml")
}

// Load reads and validates config from the workspace file.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sb config import --file <path>", path)
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

// ToYAML serializes the config for storage.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Default returns the built-in config used when none is imported.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

const defaultTemplate = `board:
  urgent_window_hours: 24

commission:
  default: 8
  thresholds:
    high: 1.5
    mid: 1.0
  tiers:
    high: 15
    mid: 12
    low: 8

roles:
  admin:
    description: "Back-office administrator, unrestricted moves"
    unrestricted: true
  confirmation:
    description: "Confirmation desk employee"
    targets: [Reporter, "Confirmé"]
  livreur:
    description: "Delivery driver"
    targets: ["Livré", "Annulé"]

pipelines:
  - name: Ammex
    color: "#6366f1"
    default: true
    stages:
      - {id: "En attente", status: pending, color: "#f59e0b", locked: true}
      - {id: "Confirmé", status: confirmed, color: "#10b981", locked: true}
      - {id: "Reporter", status: postponed, color: "#f97316"}
      - {id: "Packaging", status: packaging, color: "#8b5cf6"}
      - {id: "Livré", status: delivered, color: "#22c55e", locked: true}
      - {id: "Annulé", status: cancelled, color: "#ef4444"}
  - name: Agadir
    color: "#0ea5e9"
    stages:
      - {id: "En attente-AG", status: pending, color: "#f59e0b", locked: true}
      - {id: "Confirmé-AG", status: confirmed, color: "#10b981", locked: true}
      - {id: "Reporter-AG", status: postponed, color: "#f97316"}
      - {id: "Packaging-AG", status: packaging, color: "#8b5cf6"}
      - {id: "Livré-AG", status: delivered, color: "#22c55e", locked: true}
      - {id: "Annulé-AG", status: cancelled, color: "#ef4444"}

webhooks: []
`
