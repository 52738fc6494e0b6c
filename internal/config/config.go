package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models trustline.yml.
type Config struct {
	Service struct {
		ID string `yaml:"id"`
	} `yaml:"service"`
	Seed struct {
		Manager    string `yaml:"manager"`
		Identifier string `yaml:"identifier"`
	} `yaml:"seed"`
	Credentials struct {
		Threshold int64 `yaml:"threshold"`
	} `yaml:"credentials"`
	Roles struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"roles"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.ID == "" {
		return fmt.Errorf("config.service.id is required")
	}
	if c.Seed.Manager == "" {
		return fmt.Errorf("config.seed.manager is required")
	}
	if c.Credentials.Threshold <= 0 {
		return fmt.Errorf("config.credentials.threshold must be positive")
	}
	for roleID, role := range c.Roles.Catalog {
		if roleID == "" {
			return fmt.Errorf("config.roles.catalog contains empty role id")
		}
		if role.Description == "" {
			return fmt.Errorf("role %s has empty description", roleID)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
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
	return filepath.Join(workspace, "trustline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(serviceID, manager string) string {
	return fmt.Sprintf(defaultTemplate, serviceID, manager, manager)
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

// Default returns the default Config struct for a service.
func Default(serviceID, manager string) *Config {
	var cfg Config
	cfg.Service.ID = serviceID
	cfg.Seed.Manager = manager
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(serviceID, manager))).Decode(&cfg)
	return &cfg
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

const defaultTemplate = `service:
  id: %s

seed:
  manager: %s
  identifier: did:trustline:%s

credentials:
  threshold: 300

roles:
  catalog:
    manager:
      description: "Privileged role: assigns roles, issues credentials, manages tasks"
    engineer:
      description: "Builds and completes assigned tasks"
    auditor:
      description: "Reviews the audit trail and verifies credentials"
`
