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

// Package keychain provides the KeyChain: list, get, insert and delete over
// the identities, keys and certificates of an ndn-cxx compatible PIB, with
// private keys held in a separate vault.
//
// # Overview
//
// A PIBKeyChain composes three parts:
//
//   - pib.Store, the identities, keys and certificates tables held in a
//     private scratch SQLite database loaded from a snapshot
//   - tpm.Vault, the private key files addressed by a digest of the key name
//   - algorithm.Resolver, which recovers the algorithm of a stored key pair
//
// # Transactions
//
// Every mutation is a short transaction: check capabilities, write the
// vault, update the tables, export the whole PIB and pass the snapshot to
// the PersistFunc. The callback is invoked only after a consistent mutation
// and never on failure, so the persisted PIB always reflects the last
// successful transaction. Readers are not held back while the callback
// runs, so a concurrent list may briefly see a row whose transaction is
// later rolled back by a failed persist. Deletes do not cascade: removing an identity
// leaves its keys, and removing a key leaves its certificates and vault file.
//
// # Basic Usage
//
//	backend, err := file.New(filepath.Join(home, ".ndn"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	snapshot, err := backend.Get(ctx, storage.PIBKey)
//	if err != nil && !errors.Is(err, storage.ErrNotFound) {
//	    log.Fatal(err)
//	}
//
//	kc, err := keychain.New(ctx, &keychain.Config{
//	    Snapshot: snapshot,
//	    Vault:    tpm.New(tpm.WithBackend(storage.Namespace(backend, storage.KeyFileDir))),
//	    Persist: func(ctx context.Context, b []byte) error {
//	        return backend.Put(ctx, storage.PIBKey, b)
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer kc.Close()
//
//	cert, err := kc.GenerateKey(ctx, name.MustParse("/alice"))
//
// # Errors
//
// Operations return *Error carrying the operation and the offending name.
// It unwraps to one of ErrNotFound, ErrDanglingReference, ErrMalformedStore,
// ErrUnsupportedAlgorithm, ErrReadOnlyVault or ErrReadOnlyStore; both
// read-only kinds also match ErrReadOnly.
package keychain
