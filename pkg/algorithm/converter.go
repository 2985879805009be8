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
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// KeyType labels the traditional private key encoding a Converter expects.
type KeyType string

const (
	KeyTypeEC  KeyType = "EC"
	KeyTypeRSA KeyType = "RSA"
)

// blindThreshold separates EC from RSA traditional DER by size. A P-521
// SEC1 key is well under it and a 2048-bit PKCS#1 key well over it.
const blindThreshold = 480

// ErrConversionFailed is returned when a Converter cannot produce PKCS#8.
var ErrConversionFailed = errors.New("algorithm: key conversion failed")

// Converter translates private key bytes in a foreign encoding to PKCS#8 DER.
// Implementations hold no state shared with the keychain.
type Converter interface {
	Convert(raw []byte, keyType KeyType) ([]byte, error)
}

// ConverterFunc adapts a function to the Converter interface.
type ConverterFunc func(raw []byte, keyType KeyType) ([]byte, error)

// Convert calls f.
func (f ConverterFunc) Convert(raw []byte, keyType KeyType) ([]byte, error) {
	return f(raw, keyType)
}

// DERConverter converts the traditional encodings written by the ndn-cxx
// file TPM (SEC1 for EC, PKCS#1 for RSA, DER or PEM) to PKCS#8.
type DERConverter struct{}

// Convert implements Converter.
func (DERConverter) Convert(raw []byte, keyType KeyType) ([]byte, error) {
	if block, _ := pem.Decode(raw); block != nil {
		raw = block.Bytes
	}
	var key any
	var err error
	switch keyType {
	case KeyTypeEC:
		key, err = x509.ParseECPrivateKey(raw)
	case KeyTypeRSA:
		key, err = x509.ParsePKCS1PrivateKey(raw)
	default:
		return nil, fmt.Errorf("%w: unknown key type %q", ErrConversionFailed, keyType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConversionFailed, keyType, err)
	}
	out, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	return out, nil
}

// BlindConverter ignores the requested key type and converts as the type
// GuessKeyType reports, for inputs whose algorithm is not known up front.
type BlindConverter struct {
	DERConverter
}

// Convert implements Converter.
func (b BlindConverter) Convert(raw []byte, _ KeyType) ([]byte, error) {
	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		der = block.Bytes
	}
	return b.DERConverter.Convert(der, GuessKeyType(der))
}

// GuessKeyType picks EC or RSA from the size of a traditional DER key, for
// callers that must convert without knowing the algorithm.
func GuessKeyType(raw []byte) KeyType {
	if len(raw) < blindThreshold {
		return KeyTypeEC
	}
	return KeyTypeRSA
}

// MarshalTraditional encodes a private key in the ndn-cxx file TPM layout:
// SEC1 for ECDSA and PKCS#1 for RSA.
func MarshalTraditional(key crypto.Signer) ([]byte, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		return x509.MarshalECPrivateKey(k)
	case *rsa.PrivateKey:
		return x509.MarshalPKCS1PrivateKey(k), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, key)
	}
}
