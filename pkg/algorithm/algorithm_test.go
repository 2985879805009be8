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

package algorithm

import (
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/certificate"
)

func generate(t *testing.T, alg Algorithm) *KeyPair {
	t.Helper()
	kp, err := alg.Generate(nil)
	require.NoError(t, err)
	return kp
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Algorithm
	}{
		{"ecdsa", ECDSA},
		{"EC", ECDSA},
		{" RSA ", RSA},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := Parse("ed25519")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestAlgorithm_Properties(t *testing.T) {
	assert.Equal(t, "ECDSA", ECDSA.String())
	assert.Equal(t, "RSA", RSA.String())
	assert.Equal(t, "unknown", Unknown.String())
	assert.Equal(t, certificate.SignatureSha256WithEcdsa, ECDSA.SignatureType())
	assert.Equal(t, certificate.SignatureSha256WithRsa, RSA.SignatureType())
	assert.Equal(t, KeyTypeEC, ECDSA.KeyType())
	assert.Equal(t, KeyTypeRSA, RSA.KeyType())
	assert.Equal(t, []Algorithm{ECDSA, RSA}, Supported)
}

func TestGenerate(t *testing.T) {
	for _, alg := range Supported {
		t.Run(alg.String(), func(t *testing.T) {
			kp := generate(t, alg)
			assert.Equal(t, alg, kp.Algorithm)

			pub, err := x509.ParsePKIXPublicKey(kp.SPKI)
			require.NoError(t, err)
			assert.True(t, alg.matches(pub))

			sig, err := kp.Sign([]byte("hello"))
			require.NoError(t, err)
			assert.NotEmpty(t, sig)
		})
	}

	_, err := Unknown.Generate(nil)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = RSA.Generate(&GenerateOptions{RSAKeySize: 1024})
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestResolve(t *testing.T) {
	r := NewResolver()

	for _, alg := range Supported {
		t.Run(alg.String()+" PKCS8", func(t *testing.T) {
			kp := generate(t, alg)
			pkcs8, err := kp.PKCS8()
			require.NoError(t, err)

			got, err := r.Resolve(pkcs8, kp.SPKI)
			require.NoError(t, err)
			assert.Equal(t, alg, got.Algorithm)
			assert.Equal(t, kp.SPKI, got.SPKI)
		})

		t.Run(alg.String()+" traditional DER", func(t *testing.T) {
			kp := generate(t, alg)
			der, err := MarshalTraditional(kp.PrivateKey)
			require.NoError(t, err)

			got, err := r.Resolve(der, kp.SPKI)
			require.NoError(t, err)
			assert.Equal(t, alg, got.Algorithm)
		})

		t.Run(alg.String()+" JWK", func(t *testing.T) {
			kp := generate(t, alg)
			jwk, err := kp.JWK()
			require.NoError(t, err)

			got, err := r.Resolve(jwk, kp.SPKI)
			require.NoError(t, err)
			assert.Equal(t, alg, got.Algorithm)
		})
	}
}

func TestResolve_Deterministic(t *testing.T) {
	r := NewResolver()
	ec := generate(t, ECDSA)
	rsaKey := generate(t, RSA)
	ecPKCS8, err := ec.PKCS8()
	require.NoError(t, err)
	rsaPKCS8, err := rsaKey.PKCS8()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := r.Resolve(ecPKCS8, ec.SPKI)
		require.NoError(t, err)
		assert.Equal(t, ECDSA, got.Algorithm)

		got, err = r.Resolve(rsaPKCS8, rsaKey.SPKI)
		require.NoError(t, err)
		assert.Equal(t, RSA, got.Algorithm)
	}
}

func TestResolve_Unsupported(t *testing.T) {
	r := NewResolver()
	ec := generate(t, ECDSA)
	other := generate(t, ECDSA)
	rsaKey := generate(t, RSA)
	ecPKCS8, err := ec.PKCS8()
	require.NoError(t, err)

	tests := []struct {
		name    string
		private []byte
		spki    []byte
	}{
		{"garbage private", []byte("not a key"), ec.SPKI},
		{"garbage public", ecPKCS8, []byte("not a key")},
		{"mismatched pair", ecPKCS8, other.SPKI},
		{"mixed families", ecPKCS8, rsaKey.SPKI},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kp, err := r.Resolve(tt.private, tt.spki)
			assert.Nil(t, kp)
			assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
		})
	}
}

func TestResolve_WithoutConverter(t *testing.T) {
	kp := generate(t, ECDSA)
	der, err := MarshalTraditional(kp.PrivateKey)
	require.NoError(t, err)

	_, err = NewResolver(WithConverter(nil)).Resolve(der, kp.SPKI)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestResolve_WithAlgorithms(t *testing.T) {
	kp := generate(t, ECDSA)
	pkcs8, err := kp.PKCS8()
	require.NoError(t, err)

	_, err = NewResolver(WithAlgorithms(RSA)).Resolve(pkcs8, kp.SPKI)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestDERConverter(t *testing.T) {
	kp := generate(t, ECDSA)
	der, err := MarshalTraditional(kp.PrivateKey)
	require.NoError(t, err)

	t.Run("DER", func(t *testing.T) {
		out, err := DERConverter{}.Convert(der, KeyTypeEC)
		require.NoError(t, err)
		_, err = x509.ParsePKCS8PrivateKey(out)
		require.NoError(t, err)
	})

	t.Run("PEM", func(t *testing.T) {
		block := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
		_, err := DERConverter{}.Convert(block, KeyTypeEC)
		require.NoError(t, err)
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := DERConverter{}.Convert(der, KeyTypeRSA)
		assert.ErrorIs(t, err, ErrConversionFailed)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := DERConverter{}.Convert(der, KeyType("DSA"))
		assert.ErrorIs(t, err, ErrConversionFailed)
	})
}

func TestConverterFunc(t *testing.T) {
	called := false
	conv := ConverterFunc(func(raw []byte, kt KeyType) ([]byte, error) {
		called = true
		return DERConverter{}.Convert(raw, kt)
	})

	kp := generate(t, ECDSA)
	der, err := MarshalTraditional(kp.PrivateKey)
	require.NoError(t, err)

	got, err := NewResolver(WithConverter(conv)).Resolve(der, kp.SPKI)
	require.NoError(t, err)
	assert.Equal(t, ECDSA, got.Algorithm)
	assert.True(t, called)
}

func TestGuessKeyType(t *testing.T) {
	ec, err := MarshalTraditional(generate(t, ECDSA).PrivateKey)
	require.NoError(t, err)
	rsaDER, err := MarshalTraditional(generate(t, RSA).PrivateKey)
	require.NoError(t, err)

	assert.Equal(t, KeyTypeEC, GuessKeyType(ec))
	assert.Equal(t, KeyTypeRSA, GuessKeyType(rsaDER))
}

func TestBlindConverter(t *testing.T) {
	for _, alg := range Supported {
		t.Run(alg.String(), func(t *testing.T) {
			der, err := MarshalTraditional(generate(t, alg).PrivateKey)
			require.NoError(t, err)

			out, err := BlindConverter{}.Convert(der, KeyTypeEC)
			require.NoError(t, err)
			key, err := x509.ParsePKCS8PrivateKey(out)
			require.NoError(t, err)
			assert.True(t, alg.matches(key))
		})
	}
}

func TestDecodePrivateKey(t *testing.T) {
	for _, alg := range Supported {
		t.Run(alg.String(), func(t *testing.T) {
			kp := generate(t, alg)
			der, err := MarshalTraditional(kp.PrivateKey)
			require.NoError(t, err)

			got, key, err := DecodePrivateKey(der, DERConverter{})
			require.NoError(t, err)
			assert.Equal(t, alg, got)
			spki, err := x509.MarshalPKIXPublicKey(key.Public())
			require.NoError(t, err)
			assert.Equal(t, kp.SPKI, spki)
		})
	}

	_, _, err := DecodePrivateKey([]byte("junk"), DERConverter{})
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}
