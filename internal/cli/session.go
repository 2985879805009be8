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

package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/jeremyhahn/go-ndnkeychain/internal/config"
	"github.com/jeremyhahn/go-ndnkeychain/internal/password"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/keychain"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/logging"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/metrics"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/storage"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/storage/file"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/storage/vaultkv"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/tpm"
)

// session is an open keychain together with the storage behind it.
type session struct {
	kc      *keychain.PIBKeyChain
	closers []func() error
}

func (s *session) Close() error {
	errs := []error{s.kc.Close()}
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// loadConfig loads the config file and applies flag overrides.
func (o *Options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return nil, err
	}
	if o.PIBPath != "" {
		cfg.PIB.Path = o.PIBPath
	}
	if o.TPMBackend != "" {
		cfg.TPM.Backend = o.TPMBackend
	}
	if o.TPMPath != "" {
		cfg.TPM.Path = o.TPMPath
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// open loads the PIB and wires the configured private key backend.
func (o *Options) open(ctx context.Context) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: o.stderr,
	})
	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	s := &session{}
	keys, err := o.keyBackend(cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, keys.Close)

	pibStore, err := file.New(filepath.Dir(cfg.PIB.Path))
	if err != nil {
		_ = keys.Close()
		return nil, fmt.Errorf("failed to open PIB directory: %w", err)
	}
	pibKey := filepath.Base(cfg.PIB.Path)
	o.printVerbose("PIB: %s, TPM backend: %s", cfg.PIB.Path, cfg.TPM.Backend)

	snapshot, err := pibStore.Get(ctx, pibKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		_ = keys.Close()
		return nil, fmt.Errorf("failed to read PIB: %w", err)
	}

	vaultOpts := []tpm.Option{tpm.WithLogger(logger)}
	if cfg.TPM.ReadOnly {
		vaultOpts = append(vaultOpts, tpm.WithReadOnlyBackend(keys))
	} else {
		vaultOpts = append(vaultOpts, tpm.WithBackend(keys))
	}
	passphrase, err := password.Resolve(cfg.TPM.Passphrase, cfg.TPM.PassphraseFile)
	if err != nil {
		_ = keys.Close()
		return nil, err
	}
	if passphrase != nil {
		secret, err := passphrase.Bytes()
		if err != nil {
			_ = keys.Close()
			return nil, err
		}
		vaultOpts = append(vaultOpts, tpm.WithPassphrase(secret))
		s.closers = append(s.closers, func() error {
			passphrase.Clear()
			return nil
		})
	}

	alg, err := cfg.Algorithm()
	if err != nil {
		_ = keys.Close()
		return nil, err
	}

	kcConfig := &keychain.Config{
		Snapshot:   snapshot,
		Vault:      tpm.New(vaultOpts...),
		Logger:     logger,
		Backend:    cfg.TPM.Backend,
		Algorithm:  alg,
		RSAKeySize: cfg.KeyChain.RSAKeySize,
		Validity:   cfg.KeyChain.Validity,
		Clock:      o.Now,
	}
	if !cfg.PIB.ReadOnly {
		kcConfig.Persist = func(ctx context.Context, snapshot []byte) error {
			return pibStore.Put(ctx, pibKey, snapshot)
		}
	}

	s.kc, err = keychain.New(ctx, kcConfig)
	if err != nil {
		_ = keys.Close()
		return nil, err
	}
	return s, nil
}

// keyBackend returns the storage holding private key files.
func (o *Options) keyBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.TPM.Backend {
	case config.BackendFile:
		backend, err := file.New(cfg.TPM.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage backend: %w", err)
		}
		return backend, nil
	case config.BackendMemory:
		return storage.Namespace(storage.NewMemory(), storage.KeyFileDir), nil
	case config.BackendVault:
		backend, err := vaultkv.New(&vaultkv.Config{
			Address:       cfg.TPM.Vault.Address,
			Token:         cfg.TPM.Vault.Token,
			Mount:         cfg.TPM.Vault.Mount,
			Prefix:        cfg.TPM.Vault.Prefix,
			Namespace:     cfg.TPM.Vault.Namespace,
			TLSSkipVerify: cfg.TPM.Vault.TLSSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create vault backend: %w", err)
		}
		return storage.Namespace(backend, storage.KeyFileDir), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.TPM.Backend)
	}
}

// withSession opens the keychain, runs fn and closes it.
func (o *Options) withSession(ctx context.Context, fn func(*session) error) error {
	s, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(s)
}
