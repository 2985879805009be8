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

package keychain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/algorithm"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/certificate"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/correlation"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/logging"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/metrics"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/name"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/pib"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/tpm"
)

// DefaultValidity is the validity period of generated self-signed certificates.
const DefaultValidity = 20 * 365 * 24 * time.Hour

// KeyChain is the capability set over identities, keys and certificates.
type KeyChain interface {
	ListIdentities(ctx context.Context) ([]name.Name, error)
	ListKeys(ctx context.Context, prefix name.Name) ([]name.Name, error)
	ListCerts(ctx context.Context, prefix name.Name) ([]name.Name, error)
	GetCert(ctx context.Context, certName name.Name) (*certificate.Certificate, error)
	GetKeyPair(ctx context.Context, keyName name.Name) (*algorithm.KeyPair, error)
	InsertKey(ctx context.Context, keyName name.Name, stored *StoredKey) error
	InsertCert(ctx context.Context, cert *certificate.Certificate) error
	DeleteKey(ctx context.Context, keyName name.Name) error
	DeleteCert(ctx context.Context, certName name.Name) error
	DeleteIdentity(ctx context.Context, identity name.Name) error
	GenerateKey(ctx context.Context, identity name.Name, opts ...GenerateOption) (*certificate.Certificate, error)
	DefaultIdentity(ctx context.Context) (name.Name, error)
	SetDefaultIdentity(ctx context.Context, identity name.Name) error
	ExportSnapshot(ctx context.Context) ([]byte, error)
	Close() error
}

// PersistFunc durably stores a full PIB snapshot. It is called after every
// successful mutation and is the durability boundary of the keychain.
type PersistFunc func(ctx context.Context, snapshot []byte) error

// StoredKey is key material as it arrives for insertion.
type StoredKey struct {
	// Private is the vault-native private key: PKCS#8, a JWK, or traditional
	// DER. It is written to the vault as given.
	Private []byte
	// Public is the SPKI public key recorded in the PIB.
	Public []byte
}

// NewStoredKey encodes kp as PKCS#8 and SPKI.
func NewStoredKey(kp *algorithm.KeyPair) (*StoredKey, error) {
	private, err := kp.PKCS8()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &StoredKey{Private: private, Public: kp.SPKI}, nil
}

// Config configures a PIBKeyChain.
type Config struct {
	// Snapshot is the PIB to load. Empty creates a new PIB.
	Snapshot []byte

	// Vault holds private keys. Nil means no read or write capability.
	Vault *tpm.Vault

	// Persist receives the snapshot after each mutation. Nil makes the
	// keychain read-only.
	Persist PersistFunc

	// Resolver determines the algorithm of stored keys. Defaults to
	// algorithm.NewResolver with the keychain logger.
	Resolver *algorithm.Resolver

	// Logger defaults to a discarding logger.
	Logger *logging.Logger

	// Backend labels metrics, e.g. "file", "memory" or "vault".
	Backend string

	// Algorithm of generated keys. Defaults to ECDSA.
	Algorithm algorithm.Algorithm

	// RSAKeySize of generated RSA keys. Defaults to algorithm.DefaultRSAKeySize.
	RSAKeySize int

	// Validity of generated certificates. Defaults to DefaultValidity.
	Validity time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// PIBKeyChain is a KeyChain over an ndn-cxx PIB snapshot and a private key
// vault.
//
// Mutations are serialized. Each runs as a transaction that updates the
// working PIB, exports it and hands the snapshot to the persistence
// callback; if any step fails the working PIB is restored to the last
// persisted snapshot. Vault writes are not undone.
//
// Reads do not wait for vault or persistence I/O. A read that overlaps a
// transaction's persist call sees the uncommitted mutation; if persist then
// fails, later reads see the restored snapshot again.
type PIBKeyChain struct {
	store    *pib.Store
	vault    *tpm.Vault
	persist  PersistFunc
	resolver *algorithm.Resolver
	logger   *logging.Logger
	backend  string
	gen      generateOptions
	clock    func() time.Time

	// writeMu serializes transactions; tables guards the PIB against reads
	// of a half-applied transaction.
	writeMu   sync.Mutex
	tables    sync.RWMutex
	committed []byte
	closed    atomic.Bool
}

var _ KeyChain = (*PIBKeyChain)(nil)

// New loads the PIB snapshot and returns a keychain over it.
func New(ctx context.Context, config *Config) (*PIBKeyChain, error) {
	if config == nil {
		config = &Config{}
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	vault := config.Vault
	if vault == nil {
		vault = tpm.New()
	}
	resolver := config.Resolver
	if resolver == nil {
		resolver = algorithm.NewResolver(algorithm.WithLogger(logger))
	}
	backend := config.Backend
	if backend == "" {
		backend = "unknown"
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}

	gen := generateOptions{
		algorithm:  config.Algorithm,
		rsaKeySize: config.RSAKeySize,
		validity:   config.Validity,
	}
	if gen.algorithm == algorithm.Unknown {
		gen.algorithm = algorithm.ECDSA
	}
	if gen.validity == 0 {
		gen.validity = DefaultValidity
	}

	store, err := pib.Open(ctx, config.Snapshot, pib.WithLogger(logger))
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	committed, err := store.Export(ctx)
	if err != nil {
		_ = store.Close()
		return nil, &Error{Op: "open", Err: err}
	}

	kc := &PIBKeyChain{
		store:     store,
		vault:     vault,
		persist:   config.Persist,
		resolver:  resolver,
		logger:    logger,
		backend:   backend,
		gen:       gen,
		clock:     clock,
		committed: committed,
	}
	kc.recordRows(ctx)
	return kc, nil
}

// Close releases the working PIB.
func (kc *PIBKeyChain) Close() error {
	if !kc.closed.CompareAndSwap(false, true) {
		return nil
	}
	kc.writeMu.Lock()
	defer kc.writeMu.Unlock()
	return kc.store.Close()
}

// CanWrite reports whether mutations other than key insertion can succeed.
func (kc *PIBKeyChain) CanWrite() bool {
	return kc.persist != nil
}

// ListIdentities returns every identity in insertion order.
func (kc *PIBKeyChain) ListIdentities(ctx context.Context) ([]name.Name, error) {
	start := time.Now()
	names, err := kc.read(ctx, func(ctx context.Context) ([]name.Name, error) {
		return kc.store.ListIdentities(ctx)
	})
	return names, kc.observe(metrics.OpListIdentities, nil, start, err)
}

// ListKeys returns the keys under prefix, or every key for an empty prefix.
func (kc *PIBKeyChain) ListKeys(ctx context.Context, prefix name.Name) ([]name.Name, error) {
	start := time.Now()
	names, err := kc.read(ctx, func(ctx context.Context) ([]name.Name, error) {
		return kc.store.ListKeys(ctx, prefix)
	})
	return names, kc.observe(metrics.OpListKeys, prefix, start, err)
}

// ListCerts returns the certificates under prefix, or every certificate for
// an empty prefix.
func (kc *PIBKeyChain) ListCerts(ctx context.Context, prefix name.Name) ([]name.Name, error) {
	start := time.Now()
	names, err := kc.read(ctx, func(ctx context.Context) ([]name.Name, error) {
		return kc.store.ListCertificates(ctx, prefix)
	})
	return names, kc.observe(metrics.OpListCerts, prefix, start, err)
}

// GetCert returns the decoded certificate. A missing certificate is
// ErrNotFound, never an empty certificate.
func (kc *PIBKeyChain) GetCert(ctx context.Context, certName name.Name) (*certificate.Certificate, error) {
	start := time.Now()
	cert, err := kc.getCert(ctx, certName)
	return cert, kc.observe(metrics.OpGetCert, certName, start, err)
}

func (kc *PIBKeyChain) getCert(ctx context.Context, certName name.Name) (*certificate.Certificate, error) {
	if err := kc.check(); err != nil {
		return nil, err
	}
	kc.tables.RLock()
	wire, err := kc.store.GetCertificate(ctx, certName)
	kc.tables.RUnlock()
	if err != nil {
		return nil, err
	}
	cert, err := certificate.Decode(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedStore, err)
	}
	return cert, nil
}

// GetKeyPair reads the private key from the vault and resolves its
// algorithm against the public key in the PIB.
func (kc *PIBKeyChain) GetKeyPair(ctx context.Context, keyName name.Name) (*algorithm.KeyPair, error) {
	start := time.Now()
	kp, err := kc.getKeyPair(ctx, keyName)
	return kp, kc.observe(metrics.OpGetKeyPair, keyName, start, err)
}

func (kc *PIBKeyChain) getKeyPair(ctx context.Context, keyName name.Name) (*algorithm.KeyPair, error) {
	if err := kc.check(); err != nil {
		return nil, err
	}
	if !kc.vault.CanRead() {
		return nil, fmt.Errorf("%w: no read capability", ErrReadOnlyVault)
	}

	kc.tables.RLock()
	spki, err := kc.store.GetKeyBits(ctx, keyName)
	kc.tables.RUnlock()
	if err != nil {
		return nil, err
	}

	private, err := kc.vault.ReadKey(ctx, keyName)
	if err != nil {
		if errors.Is(err, tpm.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, err
	}
	return kc.resolver.Resolve(private, spki)
}

// InsertKey writes the private key to the vault, creates the identity row
// if absent, inserts or replaces the key row and persists.
func (kc *PIBKeyChain) InsertKey(ctx context.Context, keyName name.Name, stored *StoredKey) error {
	start := time.Now()
	err := kc.insertKey(ctx, keyName, stored)
	return kc.observe(metrics.OpInsertKey, keyName, start, err)
}

func (kc *PIBKeyChain) insertKey(ctx context.Context, keyName name.Name, stored *StoredKey) error {
	if stored == nil || len(stored.Public) == 0 {
		return fmt.Errorf("%w: public key is required", ErrInvalidKey)
	}
	return kc.insertKeyWith(ctx, metrics.OpInsertKey, keyName, stored.Public, false, func(ctx context.Context) error {
		return kc.vault.WriteKey(ctx, keyName, stored.Private)
	})
}

// insertKeyWith writes the vault and the key row in one transaction. With
// exclusive set an existing key row fails with ErrKeyExists before the
// vault is touched.
func (kc *PIBKeyChain) insertKeyWith(ctx context.Context, op string, keyName name.Name, spki []byte, exclusive bool, writeVault func(context.Context) error) error {
	if !certificate.IsKeyName(keyName) {
		return fmt.Errorf("%w: %s is not a key name", ErrInvalidName, keyName)
	}
	if err := kc.checkWritable(true); err != nil {
		return err
	}

	kc.writeMu.Lock()
	defer kc.writeMu.Unlock()

	if exclusive {
		if err := kc.checkKeyAbsent(ctx, keyName); err != nil {
			return err
		}
	}

	return kc.transact(ctx, op, keyName, writeVault, func(ctx context.Context) error {
		identity := certificate.ToIdentityName(keyName)
		exists, err := kc.store.HasIdentity(ctx, identity)
		if err != nil {
			return err
		}
		if !exists {
			if err := kc.store.InsertIdentity(ctx, identity); err != nil {
				return err
			}
		}
		return kc.store.InsertKey(ctx, keyName, spki)
	})
}

// InsertCert inserts or replaces a certificate row under its key and persists.
func (kc *PIBKeyChain) InsertCert(ctx context.Context, cert *certificate.Certificate) error {
	start := time.Now()
	var certName name.Name
	if cert != nil {
		certName = cert.Name
	}
	err := kc.insertCert(ctx, cert)
	return kc.observe(metrics.OpInsertCert, certName, start, err)
}

func (kc *PIBKeyChain) insertCert(ctx context.Context, cert *certificate.Certificate) error {
	if cert == nil {
		return fmt.Errorf("%w: certificate is required", ErrInvalidKey)
	}
	if err := kc.checkWritable(false); err != nil {
		return err
	}

	kc.writeMu.Lock()
	defer kc.writeMu.Unlock()

	return kc.transact(ctx, metrics.OpInsertCert, cert.Name, nil, func(ctx context.Context) error {
		return kc.store.InsertCertificate(ctx, cert.Name, cert.Wire())
	})
}

// DeleteKey removes the key row. Its certificates and vault file remain.
func (kc *PIBKeyChain) DeleteKey(ctx context.Context, keyName name.Name) error {
	return kc.delete(ctx, metrics.OpDeleteKey, keyName, kc.store.DeleteKey)
}

// DeleteCert removes the certificate row.
func (kc *PIBKeyChain) DeleteCert(ctx context.Context, certName name.Name) error {
	return kc.delete(ctx, metrics.OpDeleteCert, certName, kc.store.DeleteCertificate)
}

// DeleteIdentity removes the identity row. Its keys remain.
func (kc *PIBKeyChain) DeleteIdentity(ctx context.Context, identity name.Name) error {
	return kc.delete(ctx, metrics.OpDeleteIdentity, identity, kc.store.DeleteIdentity)
}

func (kc *PIBKeyChain) delete(ctx context.Context, op string, n name.Name, fn func(context.Context, name.Name) error) error {
	start := time.Now()
	err := kc.checkWritable(false)
	if err == nil {
		kc.writeMu.Lock()
		err = kc.transact(ctx, op, n, nil, func(ctx context.Context) error {
			return fn(ctx, n)
		})
		kc.writeMu.Unlock()
	}
	return kc.observe(op, n, start, err)
}

// DefaultIdentity returns the default identity.
func (kc *PIBKeyChain) DefaultIdentity(ctx context.Context) (name.Name, error) {
	start := time.Now()
	var identity name.Name
	err := kc.check()
	if err == nil {
		kc.tables.RLock()
		identity, err = kc.store.DefaultIdentity(ctx)
		kc.tables.RUnlock()
	}
	return identity, kc.observe(metrics.OpDefaultIdentity, nil, start, err)
}

// SetDefaultIdentity makes identity the default and persists.
func (kc *PIBKeyChain) SetDefaultIdentity(ctx context.Context, identity name.Name) error {
	start := time.Now()
	err := kc.checkWritable(false)
	if err == nil {
		kc.writeMu.Lock()
		err = kc.transact(ctx, metrics.OpSetDefault, identity, nil, func(ctx context.Context) error {
			return kc.store.SetDefaultIdentity(ctx, identity)
		})
		kc.writeMu.Unlock()
	}
	return kc.observe(metrics.OpSetDefault, identity, start, err)
}

// ExportSnapshot returns the current PIB snapshot.
func (kc *PIBKeyChain) ExportSnapshot(ctx context.Context) ([]byte, error) {
	start := time.Now()
	var snapshot []byte
	err := kc.check()
	if err == nil {
		kc.tables.RLock()
		snapshot, err = kc.store.Export(ctx)
		kc.tables.RUnlock()
	}
	return snapshot, kc.observe(metrics.OpExport, nil, start, err)
}

// TPMLocator returns the TPM locator recorded in the PIB.
func (kc *PIBKeyChain) TPMLocator(ctx context.Context) (string, error) {
	if err := kc.check(); err != nil {
		return "", &Error{Op: "tpm_locator", Err: err}
	}
	kc.tables.RLock()
	defer kc.tables.RUnlock()
	locator, err := kc.store.TPMLocator(ctx)
	if err != nil {
		return "", &Error{Op: "tpm_locator", Err: err}
	}
	return locator, nil
}

func (kc *PIBKeyChain) read(ctx context.Context, fn func(context.Context) ([]name.Name, error)) ([]name.Name, error) {
	if err := kc.check(); err != nil {
		return nil, err
	}
	kc.tables.RLock()
	defer kc.tables.RUnlock()
	return fn(ctx)
}

func (kc *PIBKeyChain) checkKeyAbsent(ctx context.Context, keyName name.Name) error {
	kc.tables.RLock()
	exists, err := kc.store.HasKey(ctx, keyName)
	kc.tables.RUnlock()
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrKeyExists, keyName)
	}
	return nil
}

func (kc *PIBKeyChain) check() error {
	if kc.closed.Load() {
		return ErrClosed
	}
	return nil
}

// checkWritable verifies capabilities before anything is touched.
func (kc *PIBKeyChain) checkWritable(needVault bool) error {
	if err := kc.check(); err != nil {
		return err
	}
	if needVault && !kc.vault.CanWrite() {
		return fmt.Errorf("%w: no write capability", ErrReadOnlyVault)
	}
	if kc.persist == nil {
		return fmt.Errorf("%w: no persistence callback", ErrReadOnlyStore)
	}
	return nil
}

// transact runs one mutation. Callers hold writeMu. vaultFn, if set, runs
// first and outside the table lock; mutate runs under it. On success the
// exported snapshot is persisted and becomes the committed snapshot. On any
// failure after vaultFn the tables are restored from the committed snapshot.
func (kc *PIBKeyChain) transact(ctx context.Context, op string, n name.Name, vaultFn, mutate func(context.Context) error) error {
	ctx, id := correlation.Ensure(ctx)
	log := kc.logger.With("correlation_id", id, "op", op, "name", n.String())
	log.Debug("transaction started")

	if vaultFn != nil {
		if err := vaultFn(ctx); err != nil {
			log.Debug("vault write failed", "error", err)
			return err
		}
	}

	kc.tables.Lock()
	err := mutate(ctx)
	var snapshot []byte
	if err == nil {
		snapshot, err = kc.store.Export(ctx)
	}
	kc.tables.Unlock()

	if err == nil {
		persistStart := time.Now()
		err = kc.persist(ctx, snapshot)
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
			err = fmt.Errorf("persist snapshot: %w", err)
		}
		metrics.RecordOperation(metrics.OpPersist, kc.backend, status, time.Since(persistStart).Seconds())
	}

	if err != nil {
		kc.rollback(ctx, log)
		log.Debug("transaction aborted", "error", err)
		return err
	}

	kc.committed = snapshot
	metrics.SetSnapshotBytes(len(snapshot))
	kc.recordRows(ctx)
	log.Info("transaction committed", "snapshot_bytes", len(snapshot))
	return nil
}

func (kc *PIBKeyChain) rollback(ctx context.Context, log *logging.Logger) {
	kc.tables.Lock()
	defer kc.tables.Unlock()
	if err := kc.store.Restore(context.WithoutCancel(ctx), kc.committed); err != nil {
		log.Error(fmt.Errorf("restore committed snapshot: %w", err))
	}
}

func (kc *PIBKeyChain) recordRows(ctx context.Context) {
	if !metrics.IsEnabled() {
		return
	}
	kc.tables.RLock()
	defer kc.tables.RUnlock()
	ids, err1 := kc.store.ListIdentities(ctx)
	keys, err2 := kc.store.ListKeys(ctx, nil)
	certs, err3 := kc.store.ListCertificates(ctx, nil)
	if err1 != nil || err2 != nil || err3 != nil {
		return
	}
	metrics.SetRows(len(ids), len(keys), len(certs))
}

// observe records metrics for op and wraps err in *Error.
func (kc *PIBKeyChain) observe(op string, n name.Name, start time.Time, err error) error {
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		metrics.RecordError(op, kc.backend, errorType(err))
		err = &Error{Op: op, Name: n, Err: err}
	}
	metrics.RecordOperation(op, kc.backend, status, time.Since(start).Seconds())
	return err
}
