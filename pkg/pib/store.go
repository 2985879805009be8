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

// Package pib implements the Public Information Base: the identities, keys
// and certificates tables of an ndn-cxx pib.db, held in a private SQLite
// database that is loaded from and exported to a snapshot byte image.
//
// The store performs no persistence of its own. Callers export the snapshot
// after a successful mutation and write it wherever the PIB lives.
package pib

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/certificate"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/logging"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/name"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/pib/schema"
)

// DefaultTPMLocator is stamped into new stores. It names the ndn-cxx file TPM.
const DefaultTPMLocator = "tpm-file:"

type serializer interface {
	Serialize() ([]byte, error)
}

// Store is the relational store accessor over a single SQLite database.
// The database lives in a private scratch file created from the snapshot
// and removed on Close; the snapshot is the only durable form of the PIB.
// All statements run on one pinned connection and are serialized by mu.
type Store struct {
	mu     sync.Mutex
	db     *scratchDB
	conn   *sql.Conn
	logger *logging.Logger
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open loads snapshot into a new store. An empty snapshot creates a new PIB
// with the ndn-cxx schema.
func Open(ctx context.Context, snapshot []byte, opts ...Option) (*Store, error) {
	s := &Store{logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}

	db, err := openScratch(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	s.db, s.conn = db, db.conn
	return s, nil
}

// Close releases the database. The store cannot be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// scratchDB is a SQLite database file holding one loaded snapshot.
type scratchDB struct {
	path string
	db   *sql.DB
	conn *sql.Conn
}

// openScratch stages snapshot in a temporary file and opens it. Reading a
// file database never rewrites it, so exporting before any mutation returns
// snapshot unchanged.
func openScratch(ctx context.Context, snapshot []byte) (*scratchDB, error) {
	f, err := os.CreateTemp("", "pib-*.db")
	if err != nil {
		return nil, fmt.Errorf("pib: create scratch db: %w", err)
	}
	sdb := &scratchDB{path: f.Name()}

	_, err = f.Write(snapshot)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("pib: stage snapshot: %w", err)
	}

	if sdb.db, err = sql.Open("sqlite", sdb.path); err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("pib: open sqlite db: %w", err)
	}
	if sdb.conn, err = sdb.db.Conn(ctx); err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("pib: acquire connection: %w", err)
	}
	if err := load(ctx, sdb.conn, len(snapshot) == 0); err != nil {
		_ = sdb.Close()
		return nil, err
	}
	return sdb, nil
}

// Close closes the connection and removes the scratch file along with any
// journal SQLite left beside it.
func (d *scratchDB) Close() error {
	var err error
	if d.conn != nil {
		err = d.conn.Close()
	}
	if d.db != nil {
		if dbErr := d.db.Close(); err == nil {
			err = dbErr
		}
	}
	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		if rmErr := os.Remove(d.path + suffix); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}
	return err
}

func load(ctx context.Context, conn *sql.Conn, empty bool) error {
	if empty {
		if _, err := conn.ExecContext(ctx, schema.PIB); err != nil {
			return fmt.Errorf("pib: create schema: %w", err)
		}
		if _, err := conn.ExecContext(ctx, "INSERT INTO tpmInfo (tpm_locator) VALUES (?)", []byte(DefaultTPMLocator)); err != nil {
			return fmt.Errorf("pib: stamp tpm locator: %w", err)
		}
		return disableForeignKeys(ctx, conn)
	}
	if err := validate(ctx, conn); err != nil {
		return err
	}
	return disableForeignKeys(ctx, conn)
}

// The ndn-cxx schema declares cascading foreign keys. Deletes here never
// cascade, so enforcement stays off.
func disableForeignKeys(ctx context.Context, conn *sql.Conn) error {
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("pib: configure connection: %w", err)
	}
	return nil
}

func validate(ctx context.Context, conn *sql.Conn) error {
	rows, err := conn.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table'")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedStore, err)
	}
	defer rows.Close()

	found := make(map[string]bool)
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedStore, err)
		}
		found[strings.ToLower(table)] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedStore, err)
	}
	for _, table := range schema.Tables {
		if !found[strings.ToLower(table)] {
			return fmt.Errorf("%w: missing table %s", ErrMalformedStore, table)
		}
	}
	return nil
}

// Export serializes the whole database. Exporting a freshly opened store
// returns the snapshot it was opened from.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var snapshot []byte
	err := s.conn.Raw(func(driverConn any) error {
		ser, ok := driverConn.(serializer)
		if !ok {
			return fmt.Errorf("sqlite driver does not support serialize")
		}
		var err error
		snapshot, err = ser.Serialize()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pib: export snapshot: %w", err)
	}
	return snapshot, nil
}

// Restore replaces the contents of the store with snapshot. The snapshot is
// loaded into a fresh database; on failure the current contents are kept.
func (s *Store) Restore(ctx context.Context, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if len(snapshot) == 0 {
		return fmt.Errorf("%w: empty snapshot", ErrMalformedStore)
	}

	db, err := openScratch(ctx, snapshot)
	if err != nil {
		return err
	}
	old := s.db
	s.db, s.conn = db, db.conn
	if err := old.Close(); err != nil {
		s.logger.Warn("close replaced database", "error", err)
	}
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// ListIdentities returns every identity in insertion order.
func (s *Store) ListIdentities(ctx context.Context) ([]name.Name, error) {
	return s.listNames(ctx, "SELECT identity FROM identities ORDER BY id", nil)
}

// ListKeys returns the keys whose names start with prefix. An empty prefix
// matches every key.
func (s *Store) ListKeys(ctx context.Context, prefix name.Name) ([]name.Name, error) {
	return s.listNames(ctx, "SELECT key_name FROM keys ORDER BY id", prefix)
}

// ListCertificates returns the certificates whose names start with prefix.
func (s *Store) ListCertificates(ctx context.Context, prefix name.Name) ([]name.Name, error) {
	return s.listNames(ctx, "SELECT certificate_name FROM certificates ORDER BY id", prefix)
}

func (s *Store) listNames(ctx context.Context, query string, prefix name.Name) ([]name.Name, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pib: query: %w", err)
	}
	defer rows.Close()

	names := make([]name.Name, 0)
	for rows.Next() {
		var wire []byte
		if err := rows.Scan(&wire); err != nil {
			return nil, fmt.Errorf("pib: scan: %w", err)
		}
		n, err := name.Decode(wire)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedStore, err)
		}
		if prefix.IsPrefixOf(n) {
			names = append(names, n)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pib: iterate: %w", err)
	}
	return names, nil
}

// GetCertificate returns the wire encoding of the named certificate.
func (s *Store) GetCertificate(ctx context.Context, certName name.Name) ([]byte, error) {
	return s.getBlob(ctx, "SELECT certificate_data FROM certificates WHERE certificate_name=?", certName)
}

// GetKeyBits returns the SPKI public key of the named key.
func (s *Store) GetKeyBits(ctx context.Context, keyName name.Name) ([]byte, error) {
	return s.getBlob(ctx, "SELECT key_bits FROM keys WHERE key_name=?", keyName)
}

func (s *Store) getBlob(ctx context.Context, query string, n name.Name) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var blob []byte
	err := s.conn.QueryRowContext(ctx, query, n.Encode()).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, n)
	}
	if err != nil {
		return nil, fmt.Errorf("pib: query %s: %w", n, err)
	}
	return blob, nil
}

// HasIdentity reports whether the identity row exists.
func (s *Store) HasIdentity(ctx context.Context, identity name.Name) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	_, err := s.rowID(ctx, "SELECT id FROM identities WHERE identity=?", identity)
	return exists(err)
}

// HasKey reports whether the key row exists.
func (s *Store) HasKey(ctx context.Context, keyName name.Name) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	_, err := s.rowID(ctx, "SELECT id FROM keys WHERE key_name=?", keyName)
	return exists(err)
}

// HasCertificate reports whether the certificate row exists.
func (s *Store) HasCertificate(ctx context.Context, certName name.Name) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	_, err := s.rowID(ctx, "SELECT id FROM certificates WHERE certificate_name=?", certName)
	return exists(err)
}

func exists(err error) (bool, error) {
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) rowID(ctx context.Context, query string, n name.Name) (int64, error) {
	var id int64
	err := s.conn.QueryRowContext(ctx, query, n.Encode()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, n)
	}
	if err != nil {
		return 0, fmt.Errorf("pib: query %s: %w", n, err)
	}
	return id, nil
}

// InsertIdentity adds an identity row. Inserting an existing identity is a no-op.
func (s *Store) InsertIdentity(ctx context.Context, identity name.Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	_, err := s.conn.ExecContext(ctx, "INSERT INTO identities (identity) VALUES (?)", identity.Encode())
	if isUniqueViolation(err) {
		s.logger.Debug("identity already present", "identity", identity.String())
		return nil
	}
	if err != nil {
		return fmt.Errorf("pib: insert identity %s: %w", identity, err)
	}
	return nil
}

// InsertKey adds a key row under its identity, or replaces the key bits of an
// existing row. The identity, keyName minus its last two components, must exist.
func (s *Store) InsertKey(ctx context.Context, keyName name.Name, keyBits []byte) error {
	if !certificate.IsKeyName(keyName) {
		return fmt.Errorf("%w: %s is not a key name", ErrInvalidName, keyName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	identity := certificate.ToIdentityName(keyName)
	identityID, err := s.rowID(ctx, "SELECT id FROM identities WHERE identity=?", identity)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: identity %s of key %s", ErrDanglingReference, identity, keyName)
	}
	if err != nil {
		return err
	}

	res, err := s.conn.ExecContext(ctx, "UPDATE keys SET key_bits=? WHERE key_name=?", keyBits, keyName.Encode())
	if err != nil {
		return fmt.Errorf("pib: update key %s: %w", keyName, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.conn.ExecContext(ctx,
		"INSERT INTO keys (identity_id, key_name, key_bits) VALUES (?, ?, ?)",
		identityID, keyName.Encode(), keyBits); err != nil {
		return fmt.Errorf("pib: insert key %s: %w", keyName, err)
	}
	return nil
}

// InsertCertificate adds a certificate row under its key, or replaces the
// data of an existing row. The key, certName minus its last two components,
// must exist.
func (s *Store) InsertCertificate(ctx context.Context, certName name.Name, data []byte) error {
	if !certificate.IsCertName(certName) {
		return fmt.Errorf("%w: %s is not a certificate name", ErrInvalidName, certName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	keyName := certificate.ToKeyName(certName)
	keyID, err := s.rowID(ctx, "SELECT id FROM keys WHERE key_name=?", keyName)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: key %s of certificate %s", ErrDanglingReference, keyName, certName)
	}
	if err != nil {
		return err
	}

	res, err := s.conn.ExecContext(ctx,
		"UPDATE certificates SET certificate_data=? WHERE certificate_name=?", data, certName.Encode())
	if err != nil {
		return fmt.Errorf("pib: update certificate %s: %w", certName, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.conn.ExecContext(ctx,
		"INSERT INTO certificates (key_id, certificate_name, certificate_data) VALUES (?, ?, ?)",
		keyID, certName.Encode(), data); err != nil {
		return fmt.Errorf("pib: insert certificate %s: %w", certName, err)
	}
	return nil
}

// DeleteIdentity removes the identity row only. Its keys stay in the store.
func (s *Store) DeleteIdentity(ctx context.Context, identity name.Name) error {
	return s.delete(ctx, "DELETE FROM identities WHERE identity=?", identity)
}

// DeleteKey removes the key row only. Its certificates stay in the store.
func (s *Store) DeleteKey(ctx context.Context, keyName name.Name) error {
	return s.delete(ctx, "DELETE FROM keys WHERE key_name=?", keyName)
}

// DeleteCertificate removes the certificate row.
func (s *Store) DeleteCertificate(ctx context.Context, certName name.Name) error {
	return s.delete(ctx, "DELETE FROM certificates WHERE certificate_name=?", certName)
}

func (s *Store) delete(ctx context.Context, query string, n name.Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx, query, n.Encode()); err != nil {
		return fmt.Errorf("pib: delete %s: %w", n, err)
	}
	return nil
}

// DefaultIdentity returns the identity flagged is_default.
func (s *Store) DefaultIdentity(ctx context.Context) (name.Name, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var wire []byte
	err := s.conn.QueryRowContext(ctx, "SELECT identity FROM identities WHERE is_default=1").Scan(&wire)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: default identity", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pib: query default identity: %w", err)
	}
	n, err := name.Decode(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStore, err)
	}
	return n, nil
}

// SetDefaultIdentity flags identity as the default. The schema triggers
// clear the flag on every other identity.
func (s *Store) SetDefaultIdentity(ctx context.Context, identity name.Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	res, err := s.conn.ExecContext(ctx, "UPDATE identities SET is_default=1 WHERE identity=?", identity.Encode())
	if err != nil {
		return fmt.Errorf("pib: set default identity %s: %w", identity, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	return nil
}

// TPMLocator returns the locator of the TPM holding the private keys.
func (s *Store) TPMLocator(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return "", err
	}

	var locator []byte
	err := s.conn.QueryRowContext(ctx, "SELECT tpm_locator FROM tpmInfo").Scan(&locator)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: tpm locator", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("pib: query tpm locator: %w", err)
	}
	return string(locator), nil
}

// SetTPMLocator records the TPM locator.
func (s *Store) SetTPMLocator(ctx context.Context, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	res, err := s.conn.ExecContext(ctx, "UPDATE tpmInfo SET tpm_locator=?", []byte(locator))
	if err != nil {
		return fmt.Errorf("pib: update tpm locator: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.conn.ExecContext(ctx, "INSERT INTO tpmInfo (tpm_locator) VALUES (?)", []byte(locator)); err != nil {
		return fmt.Errorf("pib: insert tpm locator: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
