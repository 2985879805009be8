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

// Package vaultkv stores keychain bytes as secrets in a HashiCorp Vault
// KV version 2 mount.
package vaultkv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	vault "github.com/hashicorp/vault/api"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/storage"
)

const (
	// DefaultMount is the KV v2 mount used when none is configured.
	DefaultMount = "secret"
	// DefaultPrefix is the secret path prefix used when none is configured.
	DefaultPrefix = "ndnkeychain"

	valueField = "value"
)

// Config holds the Vault connection settings.
type Config struct {
	// Address is the Vault server address (e.g., "http://127.0.0.1:8200")
	Address string

	// Token is the Vault authentication token
	Token string

	// Mount is the KV v2 mount path (default: "secret")
	Mount string

	// Prefix is prepended to every secret path (default: "ndnkeychain")
	Prefix string

	// Namespace is the Vault namespace (Enterprise feature, optional)
	Namespace string

	// TLSSkipVerify disables TLS certificate verification
	TLSSkipVerify bool
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("vault address is required")
	}
	if c.Token == "" {
		return fmt.Errorf("vault token is required")
	}
	if c.Mount == "" {
		c.Mount = DefaultMount
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	c.Mount = strings.Trim(c.Mount, "/")
	c.Prefix = strings.Trim(c.Prefix, "/")
	return nil
}

// Logical is the subset of the Vault logical client used by the backend.
// *vault.Logical satisfies it.
type Logical interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
	WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*vault.Secret, error)
	DeleteWithContext(ctx context.Context, path string) (*vault.Secret, error)
	ListWithContext(ctx context.Context, path string) (*vault.Secret, error)
}

// Backend is a storage.Backend over a KV v2 mount. Values are stored
// base64-encoded in the "value" field of each secret.
type Backend struct {
	config  *Config
	logical Logical
}

// New connects to Vault with config.
func New(config *Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = config.Address
	if config.TLSSkipVerify {
		if err := vaultConfig.ConfigureTLS(&vault.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("vaultkv: failed to create client: %w", err)
	}
	client.SetToken(config.Token)
	if config.Namespace != "" {
		client.SetNamespace(config.Namespace)
	}
	return &Backend{config: config, logical: client.Logical()}, nil
}

// NewWithLogical creates a backend over an existing logical client.
func NewWithLogical(config *Config, logical Logical) (*Backend, error) {
	if config.Address == "" {
		config.Address = "unused"
	}
	if config.Token == "" {
		config.Token = "unused"
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &Backend{config: config, logical: logical}, nil
}

func (b *Backend) secretPath(kind, key string) (string, error) {
	key = strings.Trim(key, "/")
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidKey, key)
	}
	return path.Join(b.config.Mount, kind, b.config.Prefix, key), nil
}

// Get implements storage.Backend.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := b.secretPath("data", key)
	if err != nil {
		return nil, err
	}
	secret, err := b.logical.ReadWithContext(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("vaultkv: read %s: %w", key, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		// Deleted versions keep metadata but carry no data.
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	encoded, ok := data[valueField].(string)
	if !ok {
		return nil, fmt.Errorf("vaultkv: secret %s has no %q field", key, valueField)
	}
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vaultkv: decode %s: %w", key, err)
	}
	return value, nil
}

// Put implements storage.Backend.
func (b *Backend) Put(ctx context.Context, key string, value []byte) error {
	p, err := b.secretPath("data", key)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			valueField: base64.StdEncoding.EncodeToString(value),
		},
	}
	if _, err := b.logical.WriteWithContext(ctx, p, payload); err != nil {
		return fmt.Errorf("vaultkv: write %s: %w", key, err)
	}
	return nil
}

// Delete implements storage.Backend. All versions of the secret are removed.
func (b *Backend) Delete(ctx context.Context, key string) error {
	exists, err := b.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	p, err := b.secretPath("metadata", key)
	if err != nil {
		return err
	}
	if _, err := b.logical.DeleteWithContext(ctx, p); err != nil {
		return fmt.Errorf("vaultkv: delete %s: %w", key, err)
	}
	return nil
}

// List implements storage.Backend, walking nested folders.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	if err := b.walk(ctx, "", &keys); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (b *Backend) walk(ctx context.Context, dir string, keys *[]string) error {
	p := path.Join(b.config.Mount, "metadata", b.config.Prefix, dir)
	secret, err := b.logical.ListWithContext(ctx, p)
	if err != nil {
		return fmt.Errorf("vaultkv: list %s: %w", dir, err)
	}
	if secret == nil || secret.Data == nil {
		return nil
	}
	entries, _ := secret.Data["keys"].([]interface{})
	for _, e := range entries {
		entry, ok := e.(string)
		if !ok {
			continue
		}
		if strings.HasSuffix(entry, "/") {
			if err := b.walk(ctx, dir+entry, keys); err != nil {
				return err
			}
			continue
		}
		*keys = append(*keys, dir+entry)
	}
	return nil
}

// Exists implements storage.Backend.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.Get(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Close implements storage.Backend.
func (b *Backend) Close() error {
	return nil
}

var _ storage.Backend = (*Backend)(nil)
