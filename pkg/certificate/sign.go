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

package certificate

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/name"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/tlv"
)

// Template describes the unsigned fields of a certificate.
type Template struct {
	Name          name.Name
	PublicKey     []byte
	KeyLocator    name.Name
	Validity      ValidityPeriod
	Freshness     time.Duration
	SignatureType uint64
}

// Sign encodes the template, signs it with signer and returns the decoded
// certificate. The signer must match SignatureType.
func Sign(tmpl *Template, signer crypto.Signer) (*Certificate, error) {
	if !IsCertName(tmpl.Name) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidName, tmpl.Name)
	}
	freshness := tmpl.Freshness
	if freshness == 0 {
		freshness = DefaultFreshness
	}

	signed := tmpl.Name.AppendTo(nil)

	var meta []byte
	meta = tlv.AppendNNIElement(meta, tlv.TypeContentType, ContentTypeKey)
	meta = tlv.AppendNNIElement(meta, tlv.TypeFreshnessPeriod, uint64(freshness/time.Millisecond))
	signed = tlv.AppendElement(signed, tlv.TypeMetaInfo, meta)

	signed = tlv.AppendElement(signed, tlv.TypeContent, tmpl.PublicKey)

	var validity []byte
	validity = tlv.AppendElement(validity, tlv.TypeNotBefore, []byte(tmpl.Validity.NotBefore.UTC().Format(timeLayout)))
	validity = tlv.AppendElement(validity, tlv.TypeNotAfter, []byte(tmpl.Validity.NotAfter.UTC().Format(timeLayout)))

	var sigInfo []byte
	sigInfo = tlv.AppendNNIElement(sigInfo, tlv.TypeSignatureType, tmpl.SignatureType)
	sigInfo = tlv.AppendElement(sigInfo, tlv.TypeKeyLocator, tmpl.KeyLocator.Encode())
	sigInfo = tlv.AppendElement(sigInfo, tlv.TypeValidityPeriod, validity)
	signed = tlv.AppendElement(signed, tlv.TypeSignatureInfo, sigInfo)

	digest := sha256.Sum256(signed)
	sig, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("certificate: signing failed: %w", err)
	}

	value := tlv.AppendElement(signed, tlv.TypeSignatureValue, sig)
	return Decode(tlv.AppendElement(nil, tlv.TypeData, value))
}

// SelfSign issues a self-signed certificate for keyName. The certificate is
// named /<key-name>/self/v=<now in ms> and valid from now for validity.
func SelfSign(keyName name.Name, spki []byte, signer crypto.Signer, sigType uint64, now time.Time, validity time.Duration) (*Certificate, error) {
	if !IsKeyName(keyName) {
		return nil, fmt.Errorf("%w: %s is not a key name", ErrInvalidName, keyName)
	}
	return Sign(&Template{
		Name:          MakeCertName(keyName, SelfIssuer, uint64(now.UnixMilli())),
		PublicKey:     spki,
		KeyLocator:    keyName,
		Validity:      NewValidityPeriod(now, validity),
		SignatureType: sigType,
	}, signer)
}

// Verify checks SignatureValue over the signed portion with pub.
func (c *Certificate) Verify(pub crypto.PublicKey) error {
	digest := sha256.Sum256(c.signed)
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		if c.SignatureType != SignatureSha256WithEcdsa {
			return fmt.Errorf("%w: signature type %d with ECDSA key", ErrInvalidSignature, c.SignatureType)
		}
		if !ecdsa.VerifyASN1(k, digest[:], c.SignatureValue) {
			return fmt.Errorf("%w: %s", ErrInvalidSignature, c.Name)
		}
		return nil
	case *rsa.PublicKey:
		if c.SignatureType != SignatureSha256WithRsa {
			return fmt.Errorf("%w: signature type %d with RSA key", ErrInvalidSignature, c.SignatureType)
		}
		if err := rsa.VerifyPKCS1v15(k, crypto.SHA256, digest[:], c.SignatureValue); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidSignature, c.Name, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}

// VerifySelf verifies the certificate with its own public key.
func (c *Certificate) VerifySelf() error {
	pub, err := c.ParsePublicKey()
	if err != nil {
		return err
	}
	return c.Verify(pub)
}
