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

// Package algorithm defines the closed set of signature algorithms a
// keychain supports and recovers which one a pair of stored key encodings
// belongs to.
//
// Private keys in the file TPM carry no algorithm metadata, so the
// Resolver imports the private and public halves under each supported
// algorithm in a fixed order and accepts the first that succeeds.
package algorithm

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/certificate"
)

// Algorithm is a supported signature algorithm.
type Algorithm int

const (
	// Unknown is the zero value and never resolves.
	Unknown Algorithm = iota
	// ECDSA is ECDSA with SHA-256 over a NIST curve.
	ECDSA
	// RSA is RSASSA-PKCS1-v1_5 with SHA-256.
	RSA
)

// Supported lists the algorithms in resolution order: most common first.
var Supported = []Algorithm{ECDSA, RSA}

// DefaultRSAKeySize is the modulus size of generated RSA keys.
const DefaultRSAKeySize = 2048

var (
	// ErrUnsupportedAlgorithm is returned when no supported algorithm can
	// import the key material.
	ErrUnsupportedAlgorithm = errors.New("algorithm: unsupported algorithm")

	// ErrInvalidPrivateKey is returned when private key bytes cannot be decoded
	// under an algorithm.
	ErrInvalidPrivateKey = errors.New("algorithm: invalid private key")

	// ErrInvalidPublicKey is returned when SPKI bytes cannot be decoded under an algorithm.
	ErrInvalidPublicKey = errors.New("algorithm: invalid public key")

	// ErrKeyMismatch is returned when the private and public halves do not form a pair.
	ErrKeyMismatch = errors.New("algorithm: private and public keys do not match")
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case ECDSA:
		return "ECDSA"
	case RSA:
		return "RSA"
	default:
		return "unknown"
	}
}

// Parse parses an algorithm name, case-insensitively.
func Parse(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ecdsa", "ec":
		return ECDSA, nil
	case "rsa":
		return RSA, nil
	default:
		return Unknown, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

// SignatureType returns the NDN SignatureType produced by keys of this algorithm.
func (a Algorithm) SignatureType() uint64 {
	if a == RSA {
		return certificate.SignatureSha256WithRsa
	}
	return certificate.SignatureSha256WithEcdsa
}

// KeyType returns the key type label understood by a Converter.
func (a Algorithm) KeyType() KeyType {
	if a == RSA {
		return KeyTypeRSA
	}
	return KeyTypeEC
}

// KeyPair is a usable private key together with its public half.
type KeyPair struct {
	Algorithm  Algorithm
	PrivateKey crypto.Signer
	PublicKey  crypto.PublicKey
	// SPKI is the DER SubjectPublicKeyInfo stored in the PIB key_bits column.
	SPKI []byte
}

// Sign hashes data with SHA-256 and signs the digest.
func (kp *KeyPair) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	return kp.PrivateKey.Sign(rand.Reader, digest[:], crypto.SHA256)
}

// PKCS8 returns the private key as unencrypted PKCS#8 DER.
func (kp *KeyPair) PKCS8() ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(kp.PrivateKey)
}

// JWK returns the private key as a JSON Web Key.
func (kp *KeyPair) JWK() ([]byte, error) {
	alg := string(jose.ES256)
	if kp.Algorithm == RSA {
		alg = string(jose.RS256)
	}
	return jose.JSONWebKey{Key: kp.PrivateKey, Algorithm: alg, Use: "sig"}.MarshalJSON()
}

// GenerateOptions tunes key generation.
type GenerateOptions struct {
	// Curve for ECDSA keys. Defaults to P-256.
	Curve elliptic.Curve
	// RSAKeySize for RSA keys. Defaults to DefaultRSAKeySize.
	RSAKeySize int
}

// Generate creates a fresh key pair.
func (a Algorithm) Generate(opts *GenerateOptions) (*KeyPair, error) {
	if opts == nil {
		opts = &GenerateOptions{}
	}
	var priv crypto.Signer
	var err error
	switch a {
	case ECDSA:
		curve := opts.Curve
		if curve == nil {
			curve = elliptic.P256()
		}
		priv, err = ecdsa.GenerateKey(curve, rand.Reader)
	case RSA:
		size := opts.RSAKeySize
		if size == 0 {
			size = DefaultRSAKeySize
		}
		if size < DefaultRSAKeySize {
			return nil, fmt.Errorf("%w: RSA key size must be at least %d bits", ErrInvalidPrivateKey, DefaultRSAKeySize)
		}
		priv, err = rsa.GenerateKey(rand.Reader, size)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, a)
	}
	if err != nil {
		return nil, fmt.Errorf("algorithm: %s key generation failed: %w", a, err)
	}
	spki, err := x509.MarshalPKIXPublicKey(priv.Public())
	if err != nil {
		return nil, fmt.Errorf("algorithm: %s public key encoding failed: %w", a, err)
	}
	return &KeyPair{Algorithm: a, PrivateKey: priv, PublicKey: priv.Public(), SPKI: spki}, nil
}

// Import builds a key pair from private key bytes (PKCS#8, JWK, or any
// encoding conv can turn into PKCS#8) and SPKI public key bytes. The result
// is explicit: an error means the bytes are not a key pair of this algorithm.
func (a Algorithm) Import(private, spki []byte, conv Converter) (*KeyPair, error) {
	priv, err := a.decodePrivate(private, conv)
	if err != nil {
		return nil, err
	}

	pub, err := x509.ParsePKIXPublicKey(spki)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if !a.matches(pub) {
		return nil, fmt.Errorf("%w: %T is not a %s public key", ErrInvalidPublicKey, pub, a)
	}

	type equaler interface{ Equal(crypto.PublicKey) bool }
	if eq, ok := priv.Public().(equaler); !ok || !eq.Equal(pub) {
		return nil, ErrKeyMismatch
	}
	return &KeyPair{Algorithm: a, PrivateKey: priv, PublicKey: pub, SPKI: bytes.Clone(spki)}, nil
}

func (a Algorithm) matches(key any) bool {
	switch key.(type) {
	case *ecdsa.PrivateKey, *ecdsa.PublicKey:
		return a == ECDSA
	case *rsa.PrivateKey, *rsa.PublicKey:
		return a == RSA
	default:
		return false
	}
}

func (a Algorithm) decodePrivate(private []byte, conv Converter) (crypto.Signer, error) {
	var key any
	if trimmed := bytes.TrimSpace(private); len(trimmed) > 0 && trimmed[0] == '{' {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(trimmed); err != nil {
			return nil, fmt.Errorf("%w: JWK: %v", ErrInvalidPrivateKey, err)
		}
		if jwk.IsPublic() {
			return nil, fmt.Errorf("%w: JWK holds no private key", ErrInvalidPrivateKey)
		}
		key = jwk.Key
	} else {
		parsed, err := x509.ParsePKCS8PrivateKey(private)
		if err != nil {
			if conv == nil {
				return nil, fmt.Errorf("%w: PKCS#8: %v", ErrInvalidPrivateKey, err)
			}
			pkcs8, convErr := conv.Convert(private, a.KeyType())
			if convErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, convErr)
			}
			if parsed, err = x509.ParsePKCS8PrivateKey(pkcs8); err != nil {
				return nil, fmt.Errorf("%w: converted PKCS#8: %v", ErrInvalidPrivateKey, err)
			}
		}
		key = parsed
	}

	if !a.matches(key) {
		return nil, fmt.Errorf("%w: %T is not a %s private key", ErrInvalidPrivateKey, key, a)
	}
	return key.(crypto.Signer), nil
}

// DecodePrivateKey decodes private key bytes under each supported algorithm
// in order, without a public half to check against.
func DecodePrivateKey(private []byte, conv Converter) (Algorithm, crypto.Signer, error) {
	var trials []error
	for _, alg := range Supported {
		key, err := alg.decodePrivate(private, conv)
		if err == nil {
			return alg, key, nil
		}
		trials = append(trials, fmt.Errorf("%s: %w", alg, err))
	}
	return Unknown, nil, fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, errors.Join(trials...))
}
