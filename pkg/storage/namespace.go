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

package storage

import (
	"context"
	"path"
	"strings"
)

// Well-known keys in a keychain home directory, matching the ndn-cxx layout
// under ~/.ndn.
const (
	// PIBKey holds the PIB snapshot.
	PIBKey = "pib.db"
	// KeyFileDir holds the file TPM private key files.
	KeyFileDir = "ndnsec-key-file"
)

type namespaced struct {
	backend Backend
	prefix  string
}

// Namespace returns a Backend that stores every key under prefix in backend.
// Close does not close the underlying backend.
func Namespace(backend Backend, prefix string) Backend {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return backend
	}
	return &namespaced{backend: backend, prefix: prefix + "/"}
}

func (n *namespaced) key(key string) string {
	return n.prefix + strings.TrimPrefix(path.Clean("/"+key), "/")
}

func (n *namespaced) Get(ctx context.Context, key string) ([]byte, error) {
	return n.backend.Get(ctx, n.key(key))
}

func (n *namespaced) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	return n.backend.Put(ctx, n.key(key), value)
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	return n.backend.Delete(ctx, n.key(key))
}

func (n *namespaced) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := n.backend.List(ctx, n.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, n.prefix)
	}
	return keys, nil
}

func (n *namespaced) Exists(ctx context.Context, key string) (bool, error) {
	return n.backend.Exists(ctx, n.key(key))
}

func (n *namespaced) Close() error {
	return nil
}
