package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"boardline/internal/domain"
)

// Config models boardline.yml. It supplies the column layout and policy
// defaults a new board is initialized with, plus the legacy-schema mapping
// tables the migrator applies on read.
type Config struct {
	Board struct {
		Columns  []ColumnSpec `yaml:"columns"`
		Settings struct {
			StaleHours        int `yaml:"stale_hours"`
			WIPHeartbeatHours int `yaml:"wip_heartbeat_hours"`
		} `yaml:"settings"`
	} `yaml:"board"`
	Migration  MigrationRules `yaml:"migration"`
	Refinement struct {
		// BigTypes are preferred when pulling backlog items into refinement.
		BigTypes []string `yaml:"big_types"`
	} `yaml:"refinement"`
	Webhooks []WebhookSpec `yaml:"webhooks"`
}

// WebhookSpec configures one journal delivery target. An empty Events list
// subscribes to everything.
type WebhookSpec struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// ColumnSpec configures one column of a freshly initialized board.
type ColumnSpec struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	WIPLimit *int   `yaml:"wip_limit"`
	AutoPull bool   `yaml:"auto_pull"`
}

// MigrationRules are the legacy-vocabulary mapping tables. They are
// configuration so the mapping can evolve without code changes.
type MigrationRules struct {
	Types    map[string]string `yaml:"types"`
	Statuses map[string]string `yaml:"statuses"`
}

// Default returns the stock configuration.
func Default() *Config {
	c := &Config{}
	c.Board.Columns = []ColumnSpec{
		{ID: domain.StatusBacklog, Name: "Backlog"},
		{ID: domain.StatusReady, Name: "Ready", WIPLimit: intPtr(5), AutoPull: true},
		{ID: domain.StatusInProgress, Name: "In Progress", WIPLimit: intPtr(2)},
		{ID: domain.StatusReview, Name: "Review", WIPLimit: intPtr(3)},
		{ID: domain.StatusDone, Name: "Done"},
	}
	c.Board.Settings.StaleHours = 24
	c.Board.Settings.WIPHeartbeatHours = 4
	c.Migration = MigrationRules{
		Types: map[string]string{
			"epic":     domain.TypeFeature,
			"story":    domain.TypeFeature,
			"task":     domain.TypeChore,
			"bug":      domain.TypeBugfix,
			"idea":     domain.TypeExperiment,
			"research": domain.TypeExperiment,
		},
		Statuses: map[string]string{
			"blocked": domain.StatusBacklog,
		},
	}
	c.Refinement.BigTypes = []string{domain.TypeFeature}
	return c
}

// FromYAML parses a config document and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the optional per-workspace config location.
func Path(workspace string) string {
	return filepath.Join(workspace, "boardline.yml")
}

// Load reads the workspace config, falling back to Default when absent.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Board.Columns) == 0 {
		return fmt.Errorf("config.board.columns is required")
	}
	seen := map[string]bool{}
	for _, col := range c.Board.Columns {
		if !domain.ValidStatus(col.ID) {
			return fmt.Errorf("config.board.columns: unknown status %q", col.ID)
		}
		if seen[col.ID] {
			return fmt.Errorf("config.board.columns: duplicate column %q", col.ID)
		}
		seen[col.ID] = true
		if col.WIPLimit != nil && *col.WIPLimit < 1 {
			return fmt.Errorf("config.board.columns: column %q wip_limit must be >= 1", col.ID)
		}
	}
	if !seen[domain.StatusBacklog] {
		return fmt.Errorf("config.board.columns must include %q", domain.StatusBacklog)
	}
	if !seen[domain.StatusDone] {
		return fmt.Errorf("config.board.columns must include %q", domain.StatusDone)
	}
	for legacy, current := range c.Migration.Types {
		if legacy == "" {
			return fmt.Errorf("config.migration.types contains empty legacy type")
		}
		if !domain.ValidType(current) {
			return fmt.Errorf("config.migration.types maps %q to unknown type %q", legacy, current)
		}
	}
	for legacy, current := range c.Migration.Statuses {
		if legacy == "" {
			return fmt.Errorf("config.migration.statuses contains empty legacy status")
		}
		if !domain.ValidStatus(current) {
			return fmt.Errorf("config.migration.statuses maps %q to unknown status %q", legacy, current)
		}
	}
	for _, t := range c.Refinement.BigTypes {
		if !domain.ValidType(t) {
			return fmt.Errorf("config.refinement.big_types: unknown type %q", t)
		}
	}
	if c.Board.Settings.StaleHours < 0 {
		return fmt.Errorf("config.board.settings.stale_hours must be >= 0")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

func intPtr(v int) *int { return &v }
