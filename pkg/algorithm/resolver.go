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
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/logging"
)

// Resolver determines the algorithm of stored key material by trial import.
// It is stateless after construction and safe for concurrent use.
type Resolver struct {
	algorithms []Algorithm
	converter  Converter
	logger     *logging.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithConverter sets the converter used when private key bytes are not
// PKCS#8 or JWK. Passing nil disables conversion.
func WithConverter(c Converter) Option {
	return func(r *Resolver) {
		r.converter = c
	}
}

// WithAlgorithms overrides the trial order.
func WithAlgorithms(algorithms ...Algorithm) Option {
	return func(r *Resolver) {
		r.algorithms = append([]Algorithm(nil), algorithms...)
	}
}

// WithLogger sets the logger receiving failed trial attempts at debug level.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// NewResolver returns a resolver trying Supported in order with a DERConverter.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		algorithms: Supported,
		converter:  DERConverter{},
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve imports private and spki under each algorithm in order and returns
// the first key pair that imports. Trial failures are not returned; if every
// candidate fails the error wraps ErrUnsupportedAlgorithm and joins the
// individual failures.
func (r *Resolver) Resolve(private, spki []byte) (*KeyPair, error) {
	var trials []error
	for _, alg := range r.algorithms {
		kp, err := alg.Import(private, spki, r.converter)
		if err == nil {
			return kp, nil
		}
		r.logger.Debug("key import trial failed", "algorithm", alg.String(), "error", err)
		trials = append(trials, fmt.Errorf("%s: %w", alg, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, errors.Join(trials...))
}
