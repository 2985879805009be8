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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/algorithm"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/certificate"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/name"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/storage"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/tpm"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recorder captures every persisted snapshot.
type recorder struct {
	mu        sync.Mutex
	snapshots [][]byte
	fail      error
}

func (r *recorder) persist(_ context.Context, snapshot []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.snapshots = append(r.snapshots, snapshot)
	return nil
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func (r *recorder) last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	return r.snapshots[len(r.snapshots)-1]
}

type fixture struct {
	kc      *PIBKeyChain
	vault   *storage.MemoryBackend
	persist *recorder
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{vault: storage.NewMemory(), persist: &recorder{}}
	config := &Config{
		Vault:   tpm.New(tpm.WithBackend(f.vault)),
		Persist: f.persist.persist,
		Backend: "memory",
		Clock:   func() time.Time { return testNow },
	}
	for _, m := range mutate {
		m(config)
	}
	kc, err := New(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, kc.Close()) })
	f.kc = kc
	return f
}

func uris(names []name.Name) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n.String()
	}
	return out
}

func storedKey(t *testing.T, alg algorithm.Algorithm) *StoredKey {
	t.Helper()
	kp, err := alg.Generate(nil)
	require.NoError(t, err)
	sk, err := NewStoredKey(kp)
	require.NoError(t, err)
	return sk
}

func TestEndToEnd_InsertThenGenerate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.kc.InsertKey(ctx, name.MustParse("/alice/KEY/k1"), &StoredKey{Private: []byte("PRIV1"), Public: []byte("PUB1")})
	require.NoError(t, err)

	ids, err := f.kc.ListIdentities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/alice"}, uris(ids))

	keys, err := f.kc.ListKeys(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/alice/KEY/k1"}, uris(keys))
	assert.Equal(t, 1, f.persist.calls())

	cert, err := f.kc.GenerateKey(ctx, name.MustParse("/alice"))
	require.NoError(t, err)

	certs, err := f.kc.ListCerts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.True(t, certs[0].Equal(cert.Name))

	keyName := certificate.ToKeyName(certs[0])
	assert.False(t, keyName.Equal(name.MustParse("/alice/KEY/k1")))
	assert.True(t, name.MustParse("/alice").IsPrefixOf(keyName))

	keys, err = f.kc.ListKeys(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	kp, err := f.kc.GetKeyPair(ctx, keyName)
	require.NoError(t, err)
	assert.Equal(t, algorithm.ECDSA, kp.Algorithm)

	// Insert key, then insert certificate.
	assert.Equal(t, 3, f.persist.calls())
}

func TestEndToEnd_InsertKeyWithoutVaultWrite(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	f := newFixture(t, func(c *Config) {
		c.Vault = tpm.New(tpm.WithReadOnlyBackend(backend))
	})

	before, err := f.kc.ListKeys(ctx, nil)
	require.NoError(t, err)

	err = f.kc.InsertKey(ctx, name.MustParse("/alice/KEY/k1"), &StoredKey{Private: []byte("PRIV1"), Public: []byte("PUB1")})
	assert.ErrorIs(t, err, ErrReadOnlyVault)
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.NotErrorIs(t, err, ErrReadOnlyStore)

	after, err := f.kc.ListKeys(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 0, f.persist.calls())
}

func TestReadOnlyStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) { c.Persist = nil })
	assert.False(t, f.kc.CanWrite())

	tests := []struct {
		name string
		fn   func() error
	}{
		{"insert key", func() error {
			return f.kc.InsertKey(ctx, name.MustParse("/alice/KEY/k1"), &StoredKey{Private: []byte("P"), Public: []byte("Q")})
		}},
		{"delete key", func() error { return f.kc.DeleteKey(ctx, name.MustParse("/alice/KEY/k1")) }},
		{"delete identity", func() error { return f.kc.DeleteIdentity(ctx, name.MustParse("/alice")) }},
		{"generate", func() error {
			_, err := f.kc.GenerateKey(ctx, name.MustParse("/alice"))
			return err
		}},
		{"set default", func() error { return f.kc.SetDefaultIdentity(ctx, name.MustParse("/alice")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			assert.ErrorIs(t, err, ErrReadOnlyStore)
			assert.ErrorIs(t, err, ErrReadOnly)
		})
	}

	// Writes to the vault never happened.
	keys, err := f.vault.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestInsertCert_Dangling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	before, err := f.kc.ExportSnapshot(ctx)
	require.NoError(t, err)

	kp, err := algorithm.ECDSA.Generate(nil)
	require.NoError(t, err)
	cert, err := certificate.SelfSign(name.MustParse("/alice/KEY/k1"), kp.SPKI, kp.PrivateKey,
		algorithm.ECDSA.SignatureType(), testNow, time.Hour)
	require.NoError(t, err)

	err = f.kc.InsertCert(ctx, cert)
	assert.ErrorIs(t, err, ErrDanglingReference)

	var kcErr *Error
	require.ErrorAs(t, err, &kcErr)
	assert.Equal(t, "insert_cert", kcErr.Op)
	assert.True(t, kcErr.Name.Equal(cert.Name))

	after, err := f.kc.ExportSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 0, f.persist.calls())
}

func TestInsertCert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	kp, err := algorithm.RSA.Generate(nil)
	require.NoError(t, err)
	sk, err := NewStoredKey(kp)
	require.NoError(t, err)
	keyName := name.MustParse("/bob/KEY/k1")
	require.NoError(t, f.kc.InsertKey(ctx, keyName, sk))

	cert, err := certificate.SelfSign(keyName, kp.SPKI, kp.PrivateKey, algorithm.RSA.SignatureType(), testNow, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.kc.InsertCert(ctx, cert))

	got, err := f.kc.GetCert(ctx, cert.Name)
	require.NoError(t, err)
	assert.Equal(t, cert.Wire(), got.Wire())
	require.NoError(t, got.VerifySelf())

	// Reinserting replaces the row instead of duplicating it.
	require.NoError(t, f.kc.InsertCert(ctx, cert))
	certs, err := f.kc.ListCerts(ctx, name.MustParse("/bob"))
	require.NoError(t, err)
	assert.Len(t, certs, 1)

	assert.Error(t, f.kc.InsertCert(ctx, nil))
}

func TestGetCert_NotFound(t *testing.T) {
	f := newFixture(t)
	cert, err := f.kc.GetCert(context.Background(), name.MustParse("/alice/KEY/k1/self/v=1"))
	assert.Nil(t, cert)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "/alice/KEY/k1/self/v=1")
}

func TestGetKeyPair(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves stored algorithms", func(t *testing.T) {
		f := newFixture(t)
		for i, alg := range algorithm.Supported {
			keyName := certificate.MakeKeyName(name.MustParse("/alice"), name.Generic(fmt.Sprintf("k%d", i)))
			require.NoError(t, f.kc.InsertKey(ctx, keyName, storedKey(t, alg)))

			kp, err := f.kc.GetKeyPair(ctx, keyName)
			require.NoError(t, err)
			assert.Equal(t, alg, kp.Algorithm)
		}
	})

	t.Run("no read capability", func(t *testing.T) {
		f := newFixture(t, func(c *Config) {
			c.Vault = tpm.New(tpm.WithWriter(storage.NewMemory().Put))
		})
		require.NoError(t, f.kc.InsertKey(ctx, name.MustParse("/alice/KEY/k1"), storedKey(t, algorithm.ECDSA)))

		_, err := f.kc.GetKeyPair(ctx, name.MustParse("/alice/KEY/k1"))
		assert.ErrorIs(t, err, ErrReadOnlyVault)
	})

	t.Run("missing key row", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.kc.GetKeyPair(ctx, name.MustParse("/alice/KEY/k1"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing vault file", func(t *testing.T) {
		f := newFixture(t)
		keyName := name.MustParse("/alice/KEY/k1")
		require.NoError(t, f.kc.InsertKey(ctx, keyName, storedKey(t, algorithm.ECDSA)))
		require.NoError(t, f.vault.Delete(ctx, tpm.FileName(keyName)))

		_, err := f.kc.GetKeyPair(ctx, keyName)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, err, tpm.ErrKeyNotFound)
	})

	t.Run("unsupported material", func(t *testing.T) {
		f := newFixture(t)
		keyName := name.MustParse("/alice/KEY/k1")
		require.NoError(t, f.kc.InsertKey(ctx, keyName, &StoredKey{Private: []byte("PRIV1"), Public: []byte("PUB1")}))

		kp, err := f.kc.GetKeyPair(ctx, keyName)
		assert.Nil(t, kp)
		assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	})
}

func TestInsertKey_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.kc.InsertKey(ctx, name.MustParse("/alice/k1"), storedKey(t, algorithm.ECDSA))
	assert.ErrorIs(t, err, ErrInvalidName)

	err = f.kc.InsertKey(ctx, name.MustParse("/alice/KEY/k1"), nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, 0, f.persist.calls())
}

func TestInsertDeleteKey_Inverse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.kc.InsertKey(ctx, name.MustParse("/alice/KEY/k1"), storedKey(t, algorithm.ECDSA)))

	before, err := f.kc.ListKeys(ctx, nil)
	require.NoError(t, err)

	k2 := name.MustParse("/alice/KEY/k2")
	require.NoError(t, f.kc.InsertKey(ctx, k2, storedKey(t, algorithm.ECDSA)))
	require.NoError(t, f.kc.DeleteKey(ctx, k2))

	after, err := f.kc.ListKeys(ctx, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, before, after)
}

func TestDelete_DoesNotCascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cert, err := f.kc.GenerateKey(ctx, name.MustParse("/alice"))
	require.NoError(t, err)
	keyName := cert.KeyName()

	require.NoError(t, f.kc.DeleteIdentity(ctx, name.MustParse("/alice")))
	ids, err := f.kc.ListIdentities(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	keys, err := f.kc.ListKeys(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, f.kc.DeleteKey(ctx, keyName))
	certs, err := f.kc.ListCerts(ctx, keyName)
	require.NoError(t, err)
	assert.Len(t, certs, 1)

	exists, err := f.vault.Exists(ctx, tpm.FileName(keyName))
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, f.kc.DeleteCert(ctx, cert.Name))
	certs, err = f.kc.ListCerts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, certs)

	// Deleting what is not there still commits.
	calls := f.persist.calls()
	require.NoError(t, f.kc.DeleteCert(ctx, cert.Name))
	assert.Equal(t, calls+1, f.persist.calls())
}

func TestPersistFailure_RollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.kc.InsertKey(ctx, name.MustParse("/alice/KEY/k1"), storedKey(t, algorithm.ECDSA)))
	committed := f.persist.last()

	f.persist.fail = errors.New("disk full")
	err := f.kc.InsertKey(ctx, name.MustParse("/bob/KEY/k1"), storedKey(t, algorithm.ECDSA))
	assert.ErrorContains(t, err, "disk full")

	ids, err := f.kc.ListIdentities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/alice"}, uris(ids))

	snapshot, err := f.kc.ExportSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, committed, snapshot)

	// The vault write is not undone.
	exists, err := f.vault.Exists(ctx, tpm.FileName(name.MustParse("/bob/KEY/k1")))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestReopenFromPersistedSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cert, err := f.kc.GenerateKey(ctx, name.MustParse("/alice"), WithAlgorithm(algorithm.RSA))
	require.NoError(t, err)

	reopened := newFixture(t, func(c *Config) {
		c.Snapshot = f.persist.last()
		c.Vault = tpm.New(tpm.WithBackend(f.vault))
	})

	got, err := reopened.kc.GetCert(ctx, cert.Name)
	require.NoError(t, err)
	assert.Equal(t, cert.Wire(), got.Wire())

	kp, err := reopened.kc.GetKeyPair(ctx, cert.KeyName())
	require.NoError(t, err)
	assert.Equal(t, algorithm.RSA, kp.Algorithm)

	snapshot, err := reopened.kc.ExportSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.persist.last(), snapshot)

	locator, err := reopened.kc.TPMLocator(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tpm-file:", locator)
}

func TestReopen_RollbackThenClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.kc.GenerateKey(ctx, name.MustParse("/alice"), WithKeyID(name.Generic("k1")))
	require.NoError(t, err)

	persisted := &recorder{snapshots: [][]byte{f.persist.last()}}
	kc, err := New(ctx, &Config{
		Snapshot: persisted.last(),
		Vault:    tpm.New(tpm.WithBackend(f.vault)),
		Persist:  persisted.persist,
		Clock:    func() time.Time { return testNow },
	})
	require.NoError(t, err)

	require.NoError(t, kc.InsertKey(ctx, name.MustParse("/bob/KEY/k1"), storedKey(t, algorithm.ECDSA)))
	committed := persisted.last()

	persisted.fail = errors.New("disk full")
	_, err = kc.GenerateKey(ctx, name.MustParse("/carol"))
	require.ErrorContains(t, err, "disk full")

	ids, err := kc.ListIdentities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/alice", "/bob"}, uris(ids))
	snapshot, err := kc.ExportSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, committed, snapshot)

	// A rolled-back keychain keeps working and closes cleanly.
	persisted.fail = nil
	require.NoError(t, kc.DeleteKey(ctx, name.MustParse("/bob/KEY/k1")))
	require.NoError(t, kc.Close())
	assert.ErrorIs(t, kc.DeleteKey(ctx, name.MustParse("/alice/KEY/k1")), ErrClosed)

	reopened, err := New(ctx, &Config{Snapshot: persisted.last()})
	require.NoError(t, err)
	keys, err := reopened.ListKeys(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/alice/KEY/k1"}, uris(keys))
	require.NoError(t, reopened.Close())
}

func TestNew_MalformedSnapshot(t *testing.T) {
	_, err := New(context.Background(), &Config{Snapshot: []byte("definitely not sqlite")})
	assert.ErrorIs(t, err, ErrMalformedStore)
}

func TestDefaultIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.kc.DefaultIdentity(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.kc.GenerateKey(ctx, name.MustParse("/alice"))
	require.NoError(t, err)
	_, err = f.kc.GenerateKey(ctx, name.MustParse("/bob"))
	require.NoError(t, err)

	def, err := f.kc.DefaultIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/alice", def.String())

	require.NoError(t, f.kc.SetDefaultIdentity(ctx, name.MustParse("/bob")))
	def, err = f.kc.DefaultIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/bob", def.String())

	assert.ErrorIs(t, f.kc.SetDefaultIdentity(ctx, name.MustParse("/carol")), ErrNotFound)
}

func TestConcurrentInsertKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keyName := certificate.MakeKeyName(name.MustParse("/alice"), name.Generic(fmt.Sprintf("k%d", i)))
			errs <- f.kc.InsertKey(ctx, keyName, &StoredKey{Private: []byte("P"), Public: []byte("Q")})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	ids, err := f.kc.ListIdentities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/alice"}, uris(ids))

	keys, err := f.kc.ListKeys(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, keys, 8)
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.kc.Close())
	require.NoError(t, f.kc.Close())

	_, err := f.kc.ListIdentities(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.kc.DeleteKey(ctx, name.MustParse("/a/KEY/k")), ErrClosed)
}

func TestError(t *testing.T) {
	err := &Error{Op: "get_cert", Name: name.MustParse("/a/KEY/k/self/v=1"), Err: ErrNotFound}
	assert.Equal(t, "keychain: get_cert /a/KEY/k/self/v=1: pib: not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrReadOnly)

	err = &Error{Op: "export", Err: ErrClosed}
	assert.Equal(t, "keychain: export: pib: store closed", err.Error())

	assert.Equal(t, "not_found", errorType(ErrNotFound))
	assert.Equal(t, "read_only_vault", errorType(ErrReadOnlyVault))
	assert.Equal(t, "internal", errorType(errors.New("boom")))
}
