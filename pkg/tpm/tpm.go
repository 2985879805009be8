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

// Package tpm is the bridge to the private key vault: the file TPM of
// ndn-cxx, or any store reachable through injected read and write functions.
//
// Each private key lives in its own file named after the SHA-256 of the
// key's wire-encoded name, so the PIB and the vault agree on addressing
// without a shared index.
package tpm

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"

	"github.com/youmark/pkcs8"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/algorithm"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/logging"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/name"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/storage"
)

// FileSuffix is appended to the hex digest to form a vault file name.
const FileSuffix = ".privkey"

// lineWidth is the base64 line length of ndn-cxx key files.
const lineWidth = 64

var (
	// ErrReadOnlyVault is returned when the vault lacks the read or write
	// capability an operation needs.
	ErrReadOnlyVault = errors.New("tpm: vault is read-only")

	// ErrKeyNotFound is returned when no vault file exists for a key.
	ErrKeyNotFound = errors.New("tpm: private key not found")

	// ErrInvalidKey is returned when private key bytes cannot be encoded for
	// the vault.
	ErrInvalidKey = errors.New("tpm: invalid private key")
)

// ReadFunc reads a vault file. It should return an error matching
// fs.ErrNotExist or storage.ErrNotFound for a missing file.
type ReadFunc func(ctx context.Context, filename string) ([]byte, error)

// WriteFunc writes a vault file, replacing any previous content.
type WriteFunc func(ctx context.Context, filename string, data []byte) error

// FileName returns the vault file name of keyName:
// hex(sha256(wire-encoded name)) followed by FileSuffix.
func FileName(keyName name.Name) string {
	digest := sha256.Sum256(keyName.Encode())
	return hex.EncodeToString(digest[:]) + FileSuffix
}

// Vault reads and writes private key files through injected functions.
// Either function may be absent; the read and write capabilities are
// independent.
type Vault struct {
	read       ReadFunc
	write      WriteFunc
	passphrase []byte
	converter  algorithm.Converter
	logger     *logging.Logger
}

// Option configures a Vault.
type Option func(*Vault)

// WithReader sets the read function.
func WithReader(fn ReadFunc) Option {
	return func(v *Vault) {
		v.read = fn
	}
}

// WithWriter sets the write function.
func WithWriter(fn WriteFunc) Option {
	return func(v *Vault) {
		v.write = fn
	}
}

// WithBackend reads and writes vault files in backend.
func WithBackend(backend storage.Backend) Option {
	return func(v *Vault) {
		v.read = backend.Get
		v.write = backend.Put
	}
}

// WithReadOnlyBackend reads vault files from backend and never writes.
func WithReadOnlyBackend(backend storage.Backend) Option {
	return func(v *Vault) {
		v.read = backend.Get
		v.write = nil
	}
}

// WithPassphrase stores keys as encrypted PKCS#8 under passphrase. Files
// written this way are not readable by ndn-cxx.
func WithPassphrase(passphrase []byte) Option {
	return func(v *Vault) {
		v.passphrase = bytes.Clone(passphrase)
	}
}

// WithConverter sets the converter used to normalize foreign private key
// encodings before encryption.
func WithConverter(c algorithm.Converter) Option {
	return func(v *Vault) {
		v.converter = c
	}
}

// WithLogger sets the vault logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Vault) {
		v.logger = l
	}
}

// New creates a vault. Without WithReader or WithBackend it cannot read;
// without WithWriter or WithBackend it cannot write.
func New(opts ...Option) *Vault {
	v := &Vault{
		converter: algorithm.DERConverter{},
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// CanRead reports whether a read function was supplied.
func (v *Vault) CanRead() bool {
	return v.read != nil
}

// CanWrite reports whether a write function was supplied.
func (v *Vault) CanWrite() bool {
	return v.write != nil
}

// ReadKey returns the private key bytes of keyName: traditional DER for
// files written by ndn-cxx, PKCS#8 for passphrase-protected files, or the
// stored bytes unchanged when they are not base64.
func (v *Vault) ReadKey(ctx context.Context, keyName name.Name) ([]byte, error) {
	if !v.CanRead() {
		return nil, fmt.Errorf("%w: no read capability", ErrReadOnlyVault)
	}

	filename := FileName(keyName)
	data, err := v.read(ctx, filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s (%s)", ErrKeyNotFound, keyName, filename)
		}
		return nil, fmt.Errorf("tpm: read %s: %w", filename, err)
	}

	der := decodeFile(data)
	if len(v.passphrase) == 0 {
		return der, nil
	}

	key, err := pkcs8.ParsePKCS8PrivateKey(der, v.passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt %s: %v", ErrInvalidKey, keyName, err)
	}
	plain, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKey, keyName, err)
	}
	return plain, nil
}

// WriteKey stores private key bytes for keyName. Without a passphrase the
// bytes are stored as given; with one they must decode as a supported key
// and are stored encrypted.
func (v *Vault) WriteKey(ctx context.Context, keyName name.Name, private []byte) error {
	if !v.CanWrite() {
		return fmt.Errorf("%w: no write capability", ErrReadOnlyVault)
	}

	der := private
	if len(v.passphrase) > 0 {
		_, key, err := algorithm.DecodePrivateKey(private, v.converter)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidKey, keyName, err)
		}
		if der, err = v.encrypt(key); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidKey, keyName, err)
		}
	}
	return v.put(ctx, keyName, der)
}

// WriteSigner stores key for keyName in the ndn-cxx file TPM layout, or as
// encrypted PKCS#8 when a passphrase is set.
func (v *Vault) WriteSigner(ctx context.Context, keyName name.Name, key crypto.Signer) error {
	if !v.CanWrite() {
		return fmt.Errorf("%w: no write capability", ErrReadOnlyVault)
	}

	var der []byte
	var err error
	if len(v.passphrase) > 0 {
		der, err = v.encrypt(key)
	} else {
		der, err = algorithm.MarshalTraditional(key)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidKey, keyName, err)
	}
	return v.put(ctx, keyName, der)
}

func (v *Vault) encrypt(key crypto.Signer) ([]byte, error) {
	return pkcs8.MarshalPrivateKey(key, v.passphrase, nil)
}

func (v *Vault) put(ctx context.Context, keyName name.Name, der []byte) error {
	filename := FileName(keyName)
	if err := v.write(ctx, filename, encodeFile(der)); err != nil {
		return fmt.Errorf("tpm: write %s: %w", filename, err)
	}
	v.logger.Debug("wrote private key", "key", keyName.String(), "file", filename)
	return nil
}

// encodeFile base64-encodes der in 64-column lines.
func encodeFile(der []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(der)
	var buf bytes.Buffer
	for len(encoded) > lineWidth {
		buf.WriteString(encoded[:lineWidth])
		buf.WriteByte('\n')
		encoded = encoded[lineWidth:]
	}
	buf.WriteString(encoded)
	buf.WriteByte('\n')
	return buf.Bytes()
}

// decodeFile reverses encodeFile. Content that is not base64 is returned
// unchanged.
func decodeFile(data []byte) []byte {
	compact := bytes.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, data)
	der, err := base64.StdEncoding.DecodeString(string(compact))
	if err != nil || len(der) == 0 {
		return data
	}
	return der
}
