// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-ndnkeychain.
//
// go-ndnkeychain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the ndnkeychain configuration from a YAML file with
// NDNKEYCHAIN_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/algorithm"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NDNKEYCHAIN_"

// TPM backends.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendVault  = "vault"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config represents the complete keychain configuration
type Config struct {
	PIB      PIBConfig      `yaml:"pib" envPrefix:"PIB_"`
	TPM      TPMConfig      `yaml:"tpm" envPrefix:"TPM_"`
	KeyChain KeyChainConfig `yaml:"keychain" envPrefix:"KEYCHAIN_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
}

// PIBConfig locates the PIB database file.
type PIBConfig struct {
	Path string `yaml:"path" env:"PATH"`
	// ReadOnly opens the PIB without persisting changes.
	ReadOnly bool `yaml:"read_only" env:"READ_ONLY"`
}

// TPMConfig selects where private key files live
type TPMConfig struct {
	Backend    string `yaml:"backend" env:"BACKEND"`
	Path       string `yaml:"path" env:"PATH"`
	Passphrase string `yaml:"passphrase" env:"PASSPHRASE"`
	// PassphraseFile is read when Passphrase is empty.
	PassphraseFile string      `yaml:"passphrase_file" env:"PASSPHRASE_FILE"`
	ReadOnly       bool        `yaml:"read_only" env:"READ_ONLY"`
	Vault          VaultConfig `yaml:"vault" envPrefix:"VAULT_"`
}

// VaultConfig contains HashiCorp Vault settings for the vault backend
type VaultConfig struct {
	Address       string `yaml:"address" env:"ADDR"`
	Token         string `yaml:"token" env:"TOKEN"`
	Mount         string `yaml:"mount" env:"MOUNT"`
	Prefix        string `yaml:"prefix" env:"PREFIX"`
	Namespace     string `yaml:"namespace" env:"NAMESPACE"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify" env:"TLS_SKIP_VERIFY"`
}

// KeyChainConfig holds key generation defaults
type KeyChainConfig struct {
	DefaultAlgorithm string        `yaml:"default_algorithm" env:"DEFAULT_ALGORITHM"`
	RSAKeySize       int           `yaml:"rsa_key_size" env:"RSA_KEY_SIZE"`
	Validity         time.Duration `yaml:"validity" env:"VALIDITY"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// MetricsConfig controls metrics collection
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// Default returns the ndn-cxx locations under $HOME/.ndn.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return DefaultIn(filepath.Join(home, ".ndn"))
}

// DefaultIn returns the default configuration rooted at dir.
func DefaultIn(dir string) *Config {
	return &Config{
		PIB: PIBConfig{
			Path: filepath.Join(dir, storage.PIBKey),
		},
		TPM: TPMConfig{
			Backend: BackendFile,
			Path:    filepath.Join(dir, storage.KeyFileDir),
			Vault: VaultConfig{
				Mount:  "secret",
				Prefix: "ndnkeychain",
			},
		},
		KeyChain: KeyChainConfig{
			DefaultAlgorithm: "ecdsa",
			RSAKeySize:       algorithm.DefaultRSAKeySize,
			Validity:         20 * 365 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		// #nosec G304 - Config file path is provided by the user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any NDNKEYCHAIN_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PIB.Path == "" {
		return fmt.Errorf("%w: pib.path is required", ErrInvalidConfig)
	}

	switch c.TPM.Backend {
	case BackendFile:
		if c.TPM.Path == "" {
			return fmt.Errorf("%w: tpm.path is required for the file backend", ErrInvalidConfig)
		}
	case BackendMemory:
	case BackendVault:
		if c.TPM.Vault.Address == "" {
			return fmt.Errorf("%w: tpm.vault.address is required for the vault backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown tpm backend %q (must be file, memory or vault)", ErrInvalidConfig, c.TPM.Backend)
	}

	if _, err := c.Algorithm(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.KeyChain.RSAKeySize != 0 && c.KeyChain.RSAKeySize < algorithm.DefaultRSAKeySize {
		return fmt.Errorf("%w: rsa_key_size must be at least %d", ErrInvalidConfig, algorithm.DefaultRSAKeySize)
	}
	if c.KeyChain.Validity < 0 {
		return fmt.Errorf("%w: validity must not be negative", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: invalid log level %q (must be debug, info, warn or error)", ErrInvalidConfig, c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: invalid log format %q (must be text or json)", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// Algorithm returns the configured default key algorithm.
func (c *Config) Algorithm() (algorithm.Algorithm, error) {
	return algorithm.Parse(c.KeyChain.DefaultAlgorithm)
}
