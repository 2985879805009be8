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

package tpm

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/algorithm"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/name"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/storage"
)

func TestFileName(t *testing.T) {
	// sha256 of the wire encoding 07 00 of the empty name.
	assert.Equal(t, "0a6361b3a802f55cd5ae06101c88a1e216320fe11cc0cfe1d791eed08a1200fd"+FileSuffix,
		FileName(name.Name{}))

	a := FileName(name.MustParse("/alice/KEY/k1"))
	b := FileName(name.MustParse("/alice/KEY/k2"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, FileName(name.MustParse("/alice/KEY/k1")))
	assert.True(t, strings.HasSuffix(a, ".privkey"))
	assert.Len(t, a, 64+len(FileSuffix))
}

func TestVault_Capabilities(t *testing.T) {
	backend := storage.NewMemory()

	tests := []struct {
		name      string
		opts      []Option
		wantRead  bool
		wantWrite bool
	}{
		{"none", nil, false, false},
		{"reader only", []Option{WithReader(backend.Get)}, true, false},
		{"writer only", []Option{WithWriter(backend.Put)}, false, true},
		{"backend", []Option{WithBackend(backend)}, true, true},
		{"read-only backend", []Option{WithReadOnlyBackend(backend)}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(tt.opts...)
			assert.Equal(t, tt.wantRead, v.CanRead())
			assert.Equal(t, tt.wantWrite, v.CanWrite())
		})
	}
}

func TestVault_ReadOnly(t *testing.T) {
	ctx := context.Background()
	keyName := name.MustParse("/alice/KEY/k1")

	v := New()
	_, err := v.ReadKey(ctx, keyName)
	assert.ErrorIs(t, err, ErrReadOnlyVault)
	assert.ErrorIs(t, v.WriteKey(ctx, keyName, []byte("x")), ErrReadOnlyVault)

	kp, err := algorithm.ECDSA.Generate(nil)
	require.NoError(t, err)
	assert.ErrorIs(t, v.WriteSigner(ctx, keyName, kp.PrivateKey), ErrReadOnlyVault)
}

func TestVault_WriteKeyOpaque(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	v := New(WithBackend(backend))
	keyName := name.MustParse("/alice/KEY/k1")

	require.NoError(t, v.WriteKey(ctx, keyName, []byte("PRIV1")))

	raw, err := backend.Get(ctx, FileName(keyName))
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("PRIV1"))+"\n", string(raw))

	got, err := v.ReadKey(ctx, keyName)
	require.NoError(t, err)
	assert.Equal(t, []byte("PRIV1"), got)
}

func TestVault_WriteSigner_FileTPMLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	keyName := name.MustParse("/alice/KEY/k1")

	v := New(
		WithReader(func(_ context.Context, filename string) ([]byte, error) {
			return os.ReadFile(filepath.Join(dir, filename))
		}),
		WithWriter(func(_ context.Context, filename string, data []byte) error {
			return os.WriteFile(filepath.Join(dir, filename), data, 0600)
		}),
	)

	for _, alg := range algorithm.Supported {
		t.Run(alg.String(), func(t *testing.T) {
			kp, err := alg.Generate(nil)
			require.NoError(t, err)
			require.NoError(t, v.WriteSigner(ctx, keyName, kp.PrivateKey))

			raw, err := os.ReadFile(filepath.Join(dir, FileName(keyName)))
			require.NoError(t, err)
			for _, line := range strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n") {
				assert.LessOrEqual(t, len(line), 64)
			}

			der, err := v.ReadKey(ctx, keyName)
			require.NoError(t, err)
			want, err := algorithm.MarshalTraditional(kp.PrivateKey)
			require.NoError(t, err)
			assert.Equal(t, want, der)

			resolved, err := algorithm.NewResolver().Resolve(der, kp.SPKI)
			require.NoError(t, err)
			assert.Equal(t, alg, resolved.Algorithm)
		})
	}
}

func TestVault_ReadMissing(t *testing.T) {
	ctx := context.Background()
	keyName := name.MustParse("/alice/KEY/k1")

	v := New(WithBackend(storage.NewMemory()))
	_, err := v.ReadKey(ctx, keyName)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	osVault := New(WithReader(func(_ context.Context, filename string) ([]byte, error) {
		return os.ReadFile(filepath.Join(t.TempDir(), filename))
	}))
	_, err = osVault.ReadKey(ctx, keyName)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	failing := New(WithReader(func(context.Context, string) ([]byte, error) {
		return nil, errors.New("io failure")
	}))
	_, err = failing.ReadKey(ctx, keyName)
	assert.ErrorContains(t, err, "io failure")
	assert.NotErrorIs(t, err, ErrKeyNotFound)
}

func TestVault_Passphrase(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	keyName := name.MustParse("/alice/KEY/k1")
	v := New(WithBackend(backend), WithPassphrase([]byte("correct horse")))

	kp, err := algorithm.ECDSA.Generate(nil)
	require.NoError(t, err)

	t.Run("signer", func(t *testing.T) {
		require.NoError(t, v.WriteSigner(ctx, keyName, kp.PrivateKey))

		plain, err := v.ReadKey(ctx, keyName)
		require.NoError(t, err)
		_, err = x509.ParsePKCS8PrivateKey(plain)
		require.NoError(t, err)

		// The stored file is not plain PKCS#8.
		raw, err := New(WithBackend(backend)).ReadKey(ctx, keyName)
		require.NoError(t, err)
		_, err = x509.ParsePKCS8PrivateKey(raw)
		assert.Error(t, err)
	})

	t.Run("traditional bytes", func(t *testing.T) {
		der, err := algorithm.MarshalTraditional(kp.PrivateKey)
		require.NoError(t, err)
		require.NoError(t, v.WriteKey(ctx, keyName, der))

		plain, err := v.ReadKey(ctx, keyName)
		require.NoError(t, err)
		resolved, err := algorithm.NewResolver().Resolve(plain, kp.SPKI)
		require.NoError(t, err)
		assert.Equal(t, algorithm.ECDSA, resolved.Algorithm)
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		other := New(WithBackend(backend), WithPassphrase([]byte("wrong")))
		_, err := other.ReadKey(ctx, keyName)
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("opaque bytes rejected", func(t *testing.T) {
		assert.ErrorIs(t, v.WriteKey(ctx, keyName, []byte("PRIV1")), ErrInvalidKey)
	})
}

func TestDecodeFile(t *testing.T) {
	assert.Equal(t, []byte(`{"kty":"EC"}`), decodeFile([]byte(`{"kty":"EC"}`)))
	assert.Equal(t, []byte{1, 2, 3}, decodeFile(encodeFile([]byte{1, 2, 3})))

	long := make([]byte, 200)
	encoded := encodeFile(long)
	assert.Equal(t, long, decodeFile(encoded))
	assert.Equal(t, 5, strings.Count(string(encoded), "\n"))
}
