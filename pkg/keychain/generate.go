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
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/algorithm"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/certificate"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/metrics"
	"github.com/jeremyhahn/go-ndnkeychain/pkg/name"
)

// keyIDLength is the size of a random key id component.
const keyIDLength = 8

type generateOptions struct {
	algorithm  algorithm.Algorithm
	rsaKeySize int
	validity   time.Duration
	keyID      *name.Component
}

// GenerateOption overrides a keychain default for one GenerateKey call.
type GenerateOption func(*generateOptions)

// WithAlgorithm selects the algorithm of the generated key.
func WithAlgorithm(alg algorithm.Algorithm) GenerateOption {
	return func(o *generateOptions) {
		o.algorithm = alg
	}
}

// WithRSAKeySize sets the modulus size of a generated RSA key.
func WithRSAKeySize(bits int) GenerateOption {
	return func(o *generateOptions) {
		o.rsaKeySize = bits
	}
}

// WithValidity sets the validity period of the self-signed certificate.
func WithValidity(d time.Duration) GenerateOption {
	return func(o *generateOptions) {
		o.validity = d
	}
}

// WithKeyID uses id as the key id component instead of random bytes.
func WithKeyID(id name.Component) GenerateOption {
	return func(o *generateOptions) {
		o.keyID = &id
	}
}

// GenerateKey creates a key pair under identity, self-signs a certificate
// for it and stores both, creating the identity if needed. The key and the
// certificate are committed as two transactions, each persisted.
func (kc *PIBKeyChain) GenerateKey(ctx context.Context, identity name.Name, opts ...GenerateOption) (*certificate.Certificate, error) {
	start := time.Now()
	cert, err := kc.generateKey(ctx, identity, opts...)
	return cert, kc.observe(metrics.OpGenerate, identity, start, err)
}

func (kc *PIBKeyChain) generateKey(ctx context.Context, identity name.Name, opts ...GenerateOption) (*certificate.Certificate, error) {
	if err := kc.checkWritable(true); err != nil {
		return nil, err
	}

	o := kc.gen
	for _, opt := range opts {
		opt(&o)
	}

	keyName, err := kc.newKeyName(ctx, identity, o.keyID)
	if err != nil {
		return nil, err
	}

	kp, err := o.algorithm.Generate(&algorithm.GenerateOptions{RSAKeySize: o.rsaKeySize})
	if err != nil {
		return nil, err
	}

	cert, err := certificate.SelfSign(keyName, kp.SPKI, kp.PrivateKey, o.algorithm.SignatureType(), kc.clock(), o.validity)
	if err != nil {
		return nil, err
	}

	err = kc.insertKeyWith(ctx, metrics.OpGenerate, keyName, kp.SPKI, true, func(ctx context.Context) error {
		return kc.vault.WriteSigner(ctx, keyName, kp.PrivateKey)
	})
	if err != nil {
		return nil, err
	}
	if err := kc.insertCert(ctx, cert); err != nil {
		return nil, err
	}

	kc.logger.Info("generated key", "key", keyName.String(), "algorithm", o.algorithm.String())
	return cert, nil
}

// newKeyName picks a key name under identity that is not in use. A
// caller-supplied id that is already taken fails with ErrKeyExists.
func (kc *PIBKeyChain) newKeyName(ctx context.Context, identity name.Name, keyID *name.Component) (name.Name, error) {
	if keyID != nil {
		keyName := certificate.MakeKeyName(identity, *keyID)
		if err := kc.checkKeyAbsent(ctx, keyName); err != nil {
			return nil, err
		}
		return keyName, nil
	}
	for {
		id := make([]byte, keyIDLength)
		if _, err := rand.Read(id); err != nil {
			return nil, fmt.Errorf("generate key id: %w", err)
		}
		keyName := certificate.MakeKeyName(identity, name.GenericBytes(id))

		err := kc.checkKeyAbsent(ctx, keyName)
		if errors.Is(err, ErrKeyExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return keyName, nil
	}
}
