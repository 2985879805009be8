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

package pib

import "errors"

var (
	// ErrNotFound is returned when an identity, key or certificate row does not exist.
	ErrNotFound = errors.New("pib: not found")

	// ErrDanglingReference is returned when an insert requires a parent row
	// that does not exist.
	ErrDanglingReference = errors.New("pib: dangling reference")

	// ErrMalformedStore is returned when a snapshot cannot be loaded as a PIB.
	ErrMalformedStore = errors.New("pib: malformed store")

	// ErrInvalidName is returned when a name does not have the structure
	// required by the table it is written to.
	ErrInvalidName = errors.New("pib: invalid name")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("pib: store closed")
)
