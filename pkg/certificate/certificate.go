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

// Package certificate encodes and decodes NDN certificates (version 2).
//
// A certificate is a Data packet named
//
//	/<identity>/KEY/<key-id>/<issuer-id>/<version>
//
// whose ContentType is KEY, whose Content is the SPKI public key and whose
// SignatureInfo carries a ValidityPeriod. The certificate_data column of the
// PIB stores the complete Data TLV returned by Wire.
package certificate

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/name"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/tlv"
)

const (
	// ContentTypeKey marks a Data packet whose content is a public key.
	ContentTypeKey uint64 = 2

	// SignatureSha256WithRsa is the RSASSA-PKCS1-v1_5 SHA-256 signature type.
	SignatureSha256WithRsa uint64 = 1

	// SignatureSha256WithEcdsa is the ECDSA SHA-256 signature type.
	SignatureSha256WithEcdsa uint64 = 3

	// DefaultFreshness is the FreshnessPeriod of certificates built here.
	DefaultFreshness = time.Hour

	timeLayout = "20060102T150405"
)

var (
	// KeyComponent is the marker component that separates identity and key id.
	KeyComponent = name.Generic("KEY")

	// SelfIssuer is the issuer id of self-signed certificates.
	SelfIssuer = name.Generic("self")
)

var (
	// ErrInvalidCertificate is returned when a Data packet is not a valid certificate.
	ErrInvalidCertificate = errors.New("certificate: invalid certificate")

	// ErrInvalidName is returned for names that do not follow the key or certificate convention.
	ErrInvalidName = errors.New("certificate: invalid name")

	// ErrInvalidSignature is returned when signature verification fails.
	ErrInvalidSignature = errors.New("certificate: invalid signature")

	// ErrUnsupportedKey is returned when a public key type cannot verify NDN signatures.
	ErrUnsupportedKey = errors.New("certificate: unsupported public key")
)

// ValidityPeriod bounds the time during which a certificate is valid.
type ValidityPeriod struct {
	NotBefore time.Time
	NotAfter  time.Time
}

// NewValidityPeriod returns a period starting at from and lasting d, both
// truncated to whole seconds as the wire format requires.
func NewValidityPeriod(from time.Time, d time.Duration) ValidityPeriod {
	from = from.UTC().Truncate(time.Second)
	return ValidityPeriod{NotBefore: from, NotAfter: from.Add(d)}
}

// Contains reports whether t lies within the period (inclusive).
func (v ValidityPeriod) Contains(t time.Time) bool {
	return !t.Before(v.NotBefore) && !t.After(v.NotAfter)
}

// Certificate is a decoded NDN certificate.
type Certificate struct {
	Name           name.Name
	Freshness      time.Duration
	PublicKey      []byte
	SignatureType  uint64
	KeyLocator     name.Name
	Validity       ValidityPeriod
	SignatureValue []byte

	signed []byte
	wire   []byte
}

// IsKeyName reports whether n has the form /<identity>/KEY/<key-id>.
func IsKeyName(n name.Name) bool {
	return n.Len() >= 2 && n.At(-2).Equal(KeyComponent)
}

// IsCertName reports whether n has the form /<identity>/KEY/<key-id>/<issuer-id>/<version>.
func IsCertName(n name.Name) bool {
	return n.Len() >= 4 && n.At(-4).Equal(KeyComponent)
}

// MakeKeyName returns /<identity>/KEY/<key-id>.
func MakeKeyName(identity name.Name, keyID name.Component) name.Name {
	return identity.Append(KeyComponent, keyID)
}

// MakeCertName returns /<key-name>/<issuer-id>/v=<version>.
func MakeCertName(keyName name.Name, issuerID name.Component, version uint64) name.Name {
	return keyName.Append(issuerID, name.Version(version))
}

// ToKeyName derives the key name of a certificate name by dropping the
// issuer id and version.
func ToKeyName(certName name.Name) name.Name {
	return certName.Prefix(-2)
}

// ToIdentityName derives the identity name of a key name.
func ToIdentityName(keyName name.Name) name.Name {
	return keyName.Prefix(-2)
}

// KeyName returns the name of the key this certificate certifies.
func (c *Certificate) KeyName() name.Name {
	return ToKeyName(c.Name)
}

// IdentityName returns the name of the identity owning the certified key.
func (c *Certificate) IdentityName() name.Name {
	return c.Name.Prefix(-4)
}

// IssuerID returns the issuer id component.
func (c *Certificate) IssuerID() name.Component {
	return c.Name.At(-2)
}

// IsSelfSigned reports whether the KeyLocator points at the certified key.
func (c *Certificate) IsSelfSigned() bool {
	return c.KeyName().IsPrefixOf(c.KeyLocator)
}

// Wire returns the complete Data TLV.
func (c *Certificate) Wire() []byte {
	return c.wire
}

// SignedPortion returns the bytes covered by SignatureValue.
func (c *Certificate) SignedPortion() []byte {
	return c.signed
}

// ParsePublicKey parses the SPKI content.
func (c *Certificate) ParsePublicKey() (crypto.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(c.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	return pub, nil
}

// Decode decodes a Data TLV as a certificate.
func Decode(wire []byte) (*Certificate, error) {
	data, err := tlv.DecodeElement(wire, tlv.TypeData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	elements, err := tlv.ReadElements(data.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	c := &Certificate{wire: bytes.Clone(wire)}
	contentType := uint64(0)
	var haveName, haveSigInfo, haveSigValue, haveValidity bool
	signedStart, signedEnd := -1, -1
	offset := 0

	for _, e := range elements {
		start := offset
		offset += len(e.Wire)

		switch e.Type {
		case tlv.TypeName:
			if c.Name, err = name.DecodeValue(e.Value); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
			}
			haveName = true
			signedStart = start
		case tlv.TypeMetaInfo:
			if contentType, c.Freshness, err = decodeMetaInfo(e.Value); err != nil {
				return nil, err
			}
		case tlv.TypeContent:
			c.PublicKey = bytes.Clone(e.Value)
		case tlv.TypeSignatureInfo:
			if haveValidity, err = c.decodeSignatureInfo(e.Value); err != nil {
				return nil, err
			}
			haveSigInfo = true
			signedEnd = offset
		case tlv.TypeSignatureValue:
			c.SignatureValue = bytes.Clone(e.Value)
			haveSigValue = true
		default:
			if tlv.IsCritical(e.Type) {
				return nil, fmt.Errorf("%w: unrecognized critical element %d", ErrInvalidCertificate, e.Type)
			}
		}
	}

	switch {
	case !haveName || !haveSigInfo || !haveSigValue:
		return nil, fmt.Errorf("%w: missing Name, SignatureInfo or SignatureValue", ErrInvalidCertificate)
	case contentType != ContentTypeKey:
		return nil, fmt.Errorf("%w: content type %d is not KEY", ErrInvalidCertificate, contentType)
	case !haveValidity:
		return nil, fmt.Errorf("%w: missing ValidityPeriod", ErrInvalidCertificate)
	case !IsCertName(c.Name):
		return nil, fmt.Errorf("%w: %s", ErrInvalidName, c.Name)
	}

	base := len(wire) - len(data.Value)
	c.signed = c.wire[base+signedStart : base+signedEnd]
	return c, nil
}

func decodeMetaInfo(value []byte) (uint64, time.Duration, error) {
	elements, err := tlv.ReadElements(value)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: MetaInfo: %v", ErrInvalidCertificate, err)
	}
	var contentType uint64
	var freshness time.Duration
	for _, e := range elements {
		switch e.Type {
		case tlv.TypeContentType:
			if contentType, err = tlv.DecodeNNI(e.Value); err != nil {
				return 0, 0, fmt.Errorf("%w: ContentType: %v", ErrInvalidCertificate, err)
			}
		case tlv.TypeFreshnessPeriod:
			ms, err := tlv.DecodeNNI(e.Value)
			if err != nil {
				return 0, 0, fmt.Errorf("%w: FreshnessPeriod: %v", ErrInvalidCertificate, err)
			}
			freshness = time.Duration(ms) * time.Millisecond
		}
	}
	return contentType, freshness, nil
}

func (c *Certificate) decodeSignatureInfo(value []byte) (bool, error) {
	elements, err := tlv.ReadElements(value)
	if err != nil {
		return false, fmt.Errorf("%w: SignatureInfo: %v", ErrInvalidCertificate, err)
	}
	haveType, haveValidity := false, false
	for _, e := range elements {
		switch e.Type {
		case tlv.TypeSignatureType:
			if c.SignatureType, err = tlv.DecodeNNI(e.Value); err != nil {
				return false, fmt.Errorf("%w: SignatureType: %v", ErrInvalidCertificate, err)
			}
			haveType = true
		case tlv.TypeKeyLocator:
			inner, _, err := tlv.ReadElement(e.Value)
			if err != nil {
				return false, fmt.Errorf("%w: KeyLocator: %v", ErrInvalidCertificate, err)
			}
			if inner.Type == tlv.TypeName {
				if c.KeyLocator, err = name.DecodeValue(inner.Value); err != nil {
					return false, fmt.Errorf("%w: KeyLocator: %v", ErrInvalidCertificate, err)
				}
			}
		case tlv.TypeValidityPeriod:
			if c.Validity, err = decodeValidity(e.Value); err != nil {
				return false, err
			}
			haveValidity = true
		default:
			if tlv.IsCritical(e.Type) {
				return false, fmt.Errorf("%w: unrecognized critical SignatureInfo element %d", ErrInvalidCertificate, e.Type)
			}
		}
	}
	if !haveType {
		return false, fmt.Errorf("%w: missing SignatureType", ErrInvalidCertificate)
	}
	return haveValidity, nil
}

func decodeValidity(value []byte) (ValidityPeriod, error) {
	elements, err := tlv.ReadElements(value)
	if err != nil || len(elements) < 2 ||
		elements[0].Type != tlv.TypeNotBefore || elements[1].Type != tlv.TypeNotAfter {
		return ValidityPeriod{}, fmt.Errorf("%w: malformed ValidityPeriod", ErrInvalidCertificate)
	}
	notBefore, err := time.Parse(timeLayout, string(elements[0].Value))
	if err != nil {
		return ValidityPeriod{}, fmt.Errorf("%w: NotBefore: %v", ErrInvalidCertificate, err)
	}
	notAfter, err := time.Parse(timeLayout, string(elements[1].Value))
	if err != nil {
		return ValidityPeriod{}, fmt.Errorf("%w: NotAfter: %v", ErrInvalidCertificate, err)
	}
	return ValidityPeriod{NotBefore: notBefore.UTC(), NotAfter: notAfter.UTC()}, nil
}
