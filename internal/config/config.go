package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	coreerrors "whitelistd/internal/core/errors"
	"whitelistd/internal/logging"
)

// Enforcement modes for whitelist.enforce
const (
	EnforceAccept  = "accept"
	EnforceRequest = "request"
	EnforceOff     = "off"
)

// Storage backends for storage.type
const (
	StorageFile   = "file"
	StorageEtcd   = "etcd"
	StorageConsul = "consul"
	StorageMemory = "memory"
)

// DefaultWhitelistFile is the persisted whitelist name inside the store.
const DefaultWhitelistFile = "whitelist.cfg"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Admin     AdminConfig     `yaml:"admin"`
	Whitelist WhitelistConfig `yaml:"whitelist"`
	Storage   StorageConfig   `yaml:"storage"`
}

// ServerConfig represents the guarded server in front of the upstream
type ServerConfig struct {
	Listen        string `yaml:"listen"`
	Upstream      string `yaml:"upstream"`
	ReadTimeout   string `yaml:"readTimeout"`
	WriteTimeout  string `yaml:"writeTimeout"`
	IdleTimeout   string `yaml:"idleTimeout"`
	EnableLogging bool   `yaml:"enableLogging"`
}

// AdminConfig represents the operator surfaces
type AdminConfig struct {
	Listen    string          `yaml:"listen"`
	Console   bool            `yaml:"console"`
	RateLimit *RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig throttles mutating management API calls. Defaults apply
// only when the block is absent; requestsPerSecond 0 disables throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// WhitelistConfig represents whitelist enforcement and persistence naming
type WhitelistConfig struct {
	Enforce string `yaml:"enforce"`
	File    string `yaml:"file"`
	// ReloadInterval re-reads the store periodically; empty or "0s" disables.
	ReloadInterval string `yaml:"reloadInterval"`
}

// Reload returns the parsed reload interval, zero when disabled.
func (w WhitelistConfig) Reload() time.Duration {
	d, _ := time.ParseDuration(w.ReloadInterval)
	return d
}

// StorageConfig selects where the whitelist file lives
type StorageConfig struct {
	Type   string       `yaml:"type"`
	Dir    string       `yaml:"dir"`
	Etcd   EtcdConfig   `yaml:"etcd"`
	Consul ConsulConfig `yaml:"consul"`
}

// EtcdConfig holds etcd v3 client settings
type EtcdConfig struct {
	Endpoints   []string `yaml:"endpoints"`
	Prefix      string   `yaml:"prefix"`
	DialTimeout string   `yaml:"dialTimeout"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
}

// ConsulConfig holds Consul KV settings
type ConsulConfig struct {
	Address    string `yaml:"address"`
	Prefix     string `yaml:"prefix"`
	Token      string `yaml:"token"`
	Datacenter string `yaml:"datacenter"`
}

// DefaultConfig is written on first run when no config file exists.
var DefaultConfig = `server:
  listen: ":8080"
  upstream: "http://localhost:9000"
  readTimeout: "10s"
  writeTimeout: "10s"
  idleTimeout: "60s"
  enableLogging: true
admin:
  listen: "127.0.0.1:8081"
  console: true
  rateLimit:
    requestsPerSecond: 5
    burst: 10
whitelist:
  enforce: "accept"
  file: "whitelist.cfg"
  reloadInterval: "0s"
storage:
  type: "file"
  dir: "data"
`

// ApplyDefaults fills zero values with their defaults
func (c *Config) ApplyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Admin.RateLimit == nil {
		c.Admin.RateLimit = &RateLimitConfig{RequestsPerSecond: 5, Burst: 10}
	}
	if c.Whitelist.Enforce == "" {
		c.Whitelist.Enforce = EnforceAccept
	}
	if c.Whitelist.File == "" {
		c.Whitelist.File = DefaultWhitelistFile
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageFile
	}
	if c.Storage.Type == StorageFile && c.Storage.Dir == "" {
		c.Storage.Dir = "data"
	}
	if c.Storage.Etcd.Prefix == "" {
		c.Storage.Etcd.Prefix = "/whitelistd"
	}
	if c.Storage.Consul.Prefix == "" {
		c.Storage.Consul.Prefix = "whitelistd"
	}
}

// Durations returns the parsed server timeouts. Empty values are zero.
func (s ServerConfig) Durations() (read, write, idle time.Duration) {
	read, _ = time.ParseDuration(s.ReadTimeout)
	write, _ = time.ParseDuration(s.WriteTimeout)
	idle, _ = time.ParseDuration(s.IdleTimeout)
	return read, write, idle
}

// Provider defines the interface for configuration providers
type Provider interface {
	Load() (*Config, error)
	Save(*Config) error
}

// FileProvider implements configuration loading from a YAML file
type FileProvider struct {
	configPath string
	logger     *logging.Logger
}

// NewFileProvider creates a new file-based configuration provider
func NewFileProvider(configPath string, logger *logging.Logger) *FileProvider {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FileProvider{
		configPath: configPath,
		logger:     logger,
	}
}

// Load loads configuration from the file
func (p *FileProvider) Load() (*Config, error) {
	configData, err := os.ReadFile(p.configPath)
	if err != nil {
		return nil, coreerrors.NewConfigError("failed to read config file", err)
	}

	cfg, err := Parse(configData)
	if err != nil {
		p.logger.LogConfigLoad(p.configPath, err)
		return nil, err
	}

	p.logger.LogConfigLoad(p.configPath, nil)
	return cfg, nil
}

// Save saves configuration to the file
func (p *FileProvider) Save(cfg *Config) error {
	// Validate before saving
	validator := NewConfigValidator()
	if err := validator.Validate(cfg); err != nil {
		return err
	}

	configData, err := yaml.Marshal(cfg)
	if err != nil {
		return coreerrors.NewConfigError("failed to marshal config", err)
	}

	if err := os.WriteFile(p.configPath, configData, 0644); err != nil {
		return coreerrors.NewConfigError("failed to write config file", err)
	}

	p.logger.Info("Configuration saved successfully", logging.String("path", p.configPath))
	return nil
}

// Parse decodes, defaults and validates a YAML document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, coreerrors.ErrInvalidConfig.WithError(err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads configuration from the specified path
func LoadConfig(configPath string, logger *logging.Logger) (*Config, error) {
	provider := NewFileProvider(configPath, logger)
	return provider.Load()
}

// SaveConfig saves configuration to the specified path
func SaveConfig(cfg *Config, configPath string, logger *logging.Logger) error {
	provider := NewFileProvider(configPath, logger)
	return provider.Save(cfg)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validator := NewConfigValidator()
	return validator.Validate(c)
}
