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
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/algorithm"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/name"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/pib"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/tpm"
)

// Error kinds returned by keychain operations. Match them with errors.Is.
var (
	// ErrNotFound indicates the identity, key, certificate or private key
	// file does not exist.
	ErrNotFound = pib.ErrNotFound

	// ErrDanglingReference indicates an insert whose parent row does not exist.
	ErrDanglingReference = pib.ErrDanglingReference

	// ErrMalformedStore indicates the PIB snapshot or a stored record cannot
	// be decoded.
	ErrMalformedStore = pib.ErrMalformedStore

	// ErrUnsupportedAlgorithm indicates no supported algorithm imports the
	// key material.
	ErrUnsupportedAlgorithm = algorithm.ErrUnsupportedAlgorithm

	// ErrReadOnly is matched by both ErrReadOnlyVault and ErrReadOnlyStore.
	ErrReadOnly = errors.New("keychain: read-only")

	// ErrReadOnlyVault indicates the vault lacks the read or write function
	// an operation needs.
	ErrReadOnlyVault = tpm.ErrReadOnlyVault

	// ErrReadOnlyStore indicates the keychain was created without a
	// persistence callback and cannot be mutated.
	ErrReadOnlyStore = errors.New("keychain: store is read-only")

	// ErrInvalidName indicates a name lacks the KEY structure the operation requires.
	ErrInvalidName = errors.New("keychain: invalid name")

	// ErrKeyExists indicates a generated key would replace a key already in
	// the PIB.
	ErrKeyExists = errors.New("keychain: key already exists")

	// ErrInvalidKey indicates missing or unusable key material.
	ErrInvalidKey = errors.New("keychain: invalid key material")

	// ErrClosed indicates the keychain has been closed.
	ErrClosed = pib.ErrClosed
)

// Error describes a failed keychain operation. Name is nil for operations
// that do not address a single record.
type Error struct {
	Op   string
	Name name.Name
	Err  error
}

func (e *Error) Error() string {
	if e.Name == nil {
		return fmt.Sprintf("keychain: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("keychain: %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports ErrReadOnly for either read-only kind.
func (e *Error) Is(target error) bool {
	if target != ErrReadOnly {
		return false
	}
	return errors.Is(e.Err, ErrReadOnlyVault) || errors.Is(e.Err, ErrReadOnlyStore)
}

// errorType labels err for the errors_total metric.
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, tpm.ErrKeyNotFound):
		return "not_found"
	case errors.Is(err, ErrReadOnlyVault):
		return "read_only_vault"
	case errors.Is(err, ErrReadOnlyStore):
		return "read_only_store"
	case errors.Is(err, ErrDanglingReference):
		return "dangling_reference"
	case errors.Is(err, ErrUnsupportedAlgorithm):
		return "unsupported_algorithm"
	case errors.Is(err, ErrMalformedStore):
		return "malformed_store"
	case errors.Is(err, ErrInvalidName), errors.Is(err, pib.ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrKeyExists):
		return "key_exists"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "internal"
	}
}
