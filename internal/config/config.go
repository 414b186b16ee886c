package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"drawdown/internal/domain"
)

// Config models drawdown.yml.
type Config struct {
	Server struct {
		Addr            string `yaml:"addr"`
		BasePath        string `yaml:"base_path"`
		JWTSecret       string `yaml:"jwt_secret"`
		AllowDevHeaders bool   `yaml:"allow_dev_headers"`
	} `yaml:"server"`
	Database struct {
		Driver    string `yaml:"driver"`
		DSN       string `yaml:"dsn"`
		Workspace string `yaml:"workspace"`
	} `yaml:"database"`
	Workflow WorkflowConfig `yaml:"workflow"`
	RBAC     struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Storage struct {
		Kind string `yaml:"kind"`
		Dir  string `yaml:"dir"`
		S3   struct {
			Bucket   string `yaml:"bucket"`
			Region   string `yaml:"region"`
			Endpoint string `yaml:"endpoint"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"s3"`
	} `yaml:"storage"`
	Notify struct {
		Log   bool `yaml:"log"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Stream   string `yaml:"stream"`
		} `yaml:"redis"`
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notify"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type WorkflowConfig struct {
	DefaultLockMinutes int  `yaml:"default_lock_minutes"`
	MaxLockMinutes     int  `yaml:"max_lock_minutes"`
	RequireAttachments bool `yaml:"require_attachments"`
}

func (w WorkflowConfig) DefaultLock() time.Duration {
	return time.Duration(w.DefaultLockMinutes) * time.Minute
}

func (w WorkflowConfig) MaxLock() time.Duration {
	return time.Duration(w.MaxLockMinutes) * time.Minute
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Secret  string   `yaml:"secret"`
	Events  []string `yaml:"events"`
	Enabled *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with drawdown config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
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
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("config.database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Workflow.DefaultLockMinutes <= 0 {
		return fmt.Errorf("config.workflow.default_lock_minutes must be positive")
	}
	if c.Workflow.MaxLockMinutes < c.Workflow.DefaultLockMinutes {
		return fmt.Errorf("config.workflow.max_lock_minutes must be >= default_lock_minutes")
	}
	if len(c.RBAC.Roles) == 0 {
		return fmt.Errorf("config.rbac.roles is required")
	}
	known := map[string]bool{}
	for _, a := range domain.Actions {
		known[string(a)] = true
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
			if !known[perm] {
				return fmt.Errorf("role %s references unknown permission %s", roleID, perm)
			}
		}
	}
	switch c.Storage.Kind {
	case "fs":
		if c.Storage.Dir == "" {
			return fmt.Errorf("config.storage.dir is required for fs storage")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("config.storage.s3.bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("config.storage.kind must be fs or s3, got %q", c.Storage.Kind)
	}
	for i, hook := range c.Notify.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "drawdown.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /v1
  jwt_secret: ""
  allow_dev_headers: false

database:
  driver: sqlite
  dsn: ""
  workspace: .

workflow:
  default_lock_minutes: 120
  max_lock_minutes: 1440
  require_attachments: true

rbac:
  roles:
    RM:
      description: "Relationship manager; files site-visit reports"
      permissions: [report.create, report.submit, report.resubmit, report.comment, report.read]
    QS:
      description: "Quantity surveyor; reviews and decides reports"
      permissions: [report.lock, report.release, report.return, report.approve, report.reject, report.comment, report.read]
    Admin:
      description: "Read-only oversight"
      permissions: [report.read, report.comment]

storage:
  kind: fs
  dir: .drawdown/blobs

notify:
  log: true
  redis:
    addr: ""
    stream: drawdown:notifications
  webhooks: []

log:
  level: info
  format: json
`
