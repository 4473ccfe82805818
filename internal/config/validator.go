package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"time"

	"whitelistd/internal/core/errors"
)

// ValidationRule defines a configuration validation rule
type ValidationRule interface {
	Validate(cfg *Config) error
}

// ConfigValidator validates configuration using a set of rules
type ConfigValidator struct {
	rules []ValidationRule
}

// NewConfigValidator creates a new validator with default rules
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{
		rules: []ValidationRule{
			&ServerConfigRule{},
			&AdminConfigRule{},
			&WhitelistConfigRule{},
			&StorageConfigRule{},
		},
	}
}

// AddRule adds a custom validation rule
func (v *ConfigValidator) AddRule(rule ValidationRule) {
	v.rules = append(v.rules, rule)
}

// Validate validates the configuration using all rules
func (v *ConfigValidator) Validate(cfg *Config) error {
	for _, rule := range v.rules {
		if err := rule.Validate(cfg); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// ServerConfigRule validates server configuration
type ServerConfigRule struct{}

func (r *ServerConfigRule) Validate(cfg *Config) error {
	if err := validateListen("server.listen", cfg.Server.Listen, true); err != nil {
		return err
	}

	if cfg.Server.Upstream != "" {
		u, err := url.Parse(cfg.Server.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.NewValidationError("server.upstream", "invalid upstream URL")
		}
	}

	durations := map[string]string{
		"server.readTimeout":  cfg.Server.ReadTimeout,
		"server.writeTimeout": cfg.Server.WriteTimeout,
		"server.idleTimeout":  cfg.Server.IdleTimeout,
	}
	for field, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return errors.NewValidationError(field, "invalid duration format")
		}
	}

	return nil
}

// AdminConfigRule validates the operator surfaces
type AdminConfigRule struct{}

func (r *AdminConfigRule) Validate(cfg *Config) error {
	if err := validateListen("admin.listen", cfg.Admin.Listen, false); err != nil {
		return err
	}
	if cfg.Admin.Listen != "" && cfg.Admin.Listen == cfg.Server.Listen {
		return errors.NewValidationError("admin.listen", "must differ from server.listen")
	}
	if rl := cfg.Admin.RateLimit; rl != nil {
		if rl.RequestsPerSecond < 0 {
			return errors.NewValidationError("admin.rateLimit.requestsPerSecond", "rate limit must not be negative")
		}
		if rl.Burst < 0 {
			return errors.NewValidationError("admin.rateLimit.burst", "burst must not be negative")
		}
	}
	return nil
}

// WhitelistConfigRule validates whitelist enforcement settings
type WhitelistConfigRule struct{}

func (r *WhitelistConfigRule) Validate(cfg *Config) error {
	switch cfg.Whitelist.Enforce {
	case EnforceAccept, EnforceRequest, EnforceOff:
	default:
		return errors.NewValidationError("whitelist.enforce", fmt.Sprintf("unsupported mode: %s", cfg.Whitelist.Enforce))
	}

	if cfg.Whitelist.File == "" {
		return errors.NewValidationError("whitelist.file", "file name is required")
	}
	if filepath.Base(cfg.Whitelist.File) != cfg.Whitelist.File {
		return errors.NewValidationError("whitelist.file", "file name must not contain a directory")
	}
	if cfg.Whitelist.ReloadInterval != "" {
		d, err := time.ParseDuration(cfg.Whitelist.ReloadInterval)
		if err != nil || d < 0 {
			return errors.NewValidationError("whitelist.reloadInterval", fmt.Sprintf("invalid duration: %s", cfg.Whitelist.ReloadInterval))
		}
	}
	return nil
}

// StorageConfigRule validates the persistence backend
type StorageConfigRule struct{}

func (r *StorageConfigRule) Validate(cfg *Config) error {
	switch cfg.Storage.Type {
	case StorageFile:
		if cfg.Storage.Dir == "" {
			return errors.NewValidationError("storage.dir", "directory is required for file storage")
		}
	case StorageEtcd:
		if len(cfg.Storage.Etcd.Endpoints) == 0 {
			return errors.NewValidationError("storage.etcd.endpoints", "at least one endpoint is required")
		}
		if cfg.Storage.Etcd.DialTimeout != "" {
			if _, err := time.ParseDuration(cfg.Storage.Etcd.DialTimeout); err != nil {
				return errors.NewValidationError("storage.etcd.dialTimeout", "invalid duration format")
			}
		}
	case StorageConsul:
		// An empty address falls back to the Consul client defaults.
	case StorageMemory:
	default:
		return errors.NewValidationError("storage.type", fmt.Sprintf("unsupported storage type: %s", cfg.Storage.Type))
	}
	return nil
}

func validateListen(field, addr string, required bool) error {
	if addr == "" {
		if required {
			return errors.NewValidationError(field, "listen address is required")
		}
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return errors.NewValidationError(field, "listen address must be host:port")
	}
	return nil
}
