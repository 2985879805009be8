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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/algorithm"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	t.Setenv("HOME", "/home/alice")

	cfg := Default()
	assert.Equal(t, "/home/alice/.ndn/pib.db", cfg.PIB.Path)
	assert.Equal(t, BackendFile, cfg.TPM.Backend)
	assert.Equal(t, "/home/alice/.ndn/ndnsec-key-file", cfg.TPM.Path)
	assert.Equal(t, "ecdsa", cfg.KeyChain.DefaultAlgorithm)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Success(t *testing.T) {
	path := writeConfig(t, `
pib:
  path: /var/lib/ndn/pib.db
tpm:
  backend: vault
  passphrase: hunter2
  vault:
    address: https://vault.example.com:8200
    token: s.abc
    mount: kv
keychain:
  default_algorithm: rsa
  rsa_key_size: 4096
  validity: 24h
logging:
  level: debug
  format: json
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/ndn/pib.db", cfg.PIB.Path)
	assert.Equal(t, BackendVault, cfg.TPM.Backend)
	assert.Equal(t, "hunter2", cfg.TPM.Passphrase)
	assert.Equal(t, "https://vault.example.com:8200", cfg.TPM.Vault.Address)
	assert.Equal(t, "kv", cfg.TPM.Vault.Mount)
	// Unset fields keep their defaults.
	assert.Equal(t, "ndnkeychain", cfg.TPM.Vault.Prefix)
	assert.Equal(t, 4096, cfg.KeyChain.RSAKeySize)
	assert.Equal(t, 24*time.Hour, cfg.KeyChain.Validity)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)

	alg, err := cfg.Algorithm()
	require.NoError(t, err)
	assert.Equal(t, algorithm.RSA, alg)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "pib: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = Load(writeConfig(t, "tpm:\n  backend: pkcs11\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
tpm:
  backend: file
  path: /from/file
logging:
  level: info
`)
	t.Setenv("NDNKEYCHAIN_TPM_PATH", "/from/env")
	t.Setenv("NDNKEYCHAIN_TPM_READ_ONLY", "true")
	t.Setenv("NDNKEYCHAIN_PIB_PATH", "/env/pib.db")
	t.Setenv("NDNKEYCHAIN_KEYCHAIN_DEFAULT_ALGORITHM", "RSA")
	t.Setenv("NDNKEYCHAIN_KEYCHAIN_VALIDITY", "72h")
	t.Setenv("NDNKEYCHAIN_LOG_LEVEL", "warn")
	t.Setenv("NDNKEYCHAIN_TPM_VAULT_ADDR", "http://127.0.0.1:8200")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.TPM.Path)
	assert.True(t, cfg.TPM.ReadOnly)
	assert.Equal(t, "/env/pib.db", cfg.PIB.Path)
	assert.Equal(t, "RSA", cfg.KeyChain.DefaultAlgorithm)
	assert.Equal(t, 72*time.Hour, cfg.KeyChain.Validity)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "http://127.0.0.1:8200", cfg.TPM.Vault.Address)
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NDNKEYCHAIN_TPM_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.TPM.Backend)
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	t.Setenv("NDNKEYCHAIN_KEYCHAIN_RSA_KEY_SIZE", "big")
	err := ApplyEnv(DefaultIn(t.TempDir()))
	assert.ErrorContains(t, err, "parse env")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"memory backend", func(c *Config) { c.TPM.Backend = BackendMemory; c.TPM.Path = "" }, ""},
		{"missing pib path", func(c *Config) { c.PIB.Path = "" }, "pib.path"},
		{"missing tpm path", func(c *Config) { c.TPM.Path = "" }, "tpm.path"},
		{"unknown backend", func(c *Config) { c.TPM.Backend = "tpm2" }, "unknown tpm backend"},
		{"vault without address", func(c *Config) { c.TPM.Backend = BackendVault }, "tpm.vault.address"},
		{"vault", func(c *Config) { c.TPM.Backend = BackendVault; c.TPM.Vault.Address = "http://vault:8200" }, ""},
		{"unknown algorithm", func(c *Config) { c.KeyChain.DefaultAlgorithm = "ed25519" }, "unsupported algorithm"},
		{"small rsa", func(c *Config) { c.KeyChain.RSAKeySize = 1024 }, "rsa_key_size"},
		{"negative validity", func(c *Config) { c.KeyChain.Validity = -time.Second }, "validity"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "console" }, "log format"},
		{"uppercase level", func(c *Config) { c.Logging.Level = "DEBUG" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultIn("/tmp/ndn")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
