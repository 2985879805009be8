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

// Package password holds the passphrase protecting vault files while the
// CLI runs, and zeroes it when the keychain is closed.
package password

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrEmptyPassword is returned when an empty passphrase is provided.
	ErrEmptyPassword = errors.New("password cannot be empty")

	// ErrPasswordZeroed is returned when the passphrase has been cleared.
	ErrPasswordZeroed = errors.New("password has been zeroed")
)

// Passphrase stores a passphrase in memory as cleartext until Clear.
type Passphrase struct {
	secret []byte
}

// New copies secret into a Passphrase.
func New(secret []byte) (*Passphrase, error) {
	if len(secret) == 0 {
		return nil, ErrEmptyPassword
	}
	return &Passphrase{secret: bytes.Clone(secret)}, nil
}

// FromFile reads a passphrase from the first line of path.
func FromFile(path string) (*Passphrase, error) {
	// #nosec G304 - passphrase file path is provided by the user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase file: %w", err)
	}
	defer zero(data)
	line, _, _ := bytes.Cut(data, []byte("\n"))
	return New(bytes.TrimSuffix(line, []byte("\r")))
}

// Resolve returns the passphrase given inline or, if empty, read from file.
// It returns nil when neither is set.
func Resolve(inline, file string) (*Passphrase, error) {
	switch {
	case inline != "":
		return New([]byte(inline))
	case file != "":
		return FromFile(file)
	default:
		return nil, nil
	}
}

// Bytes returns the passphrase. The slice aliases internal storage and is
// zeroed by Clear.
func (p *Passphrase) Bytes() ([]byte, error) {
	if p.secret == nil {
		return nil, ErrPasswordZeroed
	}
	return p.secret, nil
}

// Clear zeroes the passphrase. Subsequent Bytes calls fail.
func (p *Passphrase) Clear() {
	if p.secret != nil {
		zero(p.secret)
		// Keep the compiler from eliding the writes.
		subtle.ConstantTimeCopy(1, p.secret, make([]byte, len(p.secret)))
		p.secret = nil
	}
}

// Equal compares two passphrases in constant time.
func Equal(a, b *Passphrase) (bool, error) {
	ab, err := a.Bytes()
	if err != nil {
		return false, err
	}
	bb, err := b.Bytes()
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(ab, bb) == 1, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
