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

// Package name implements NDN hierarchical names: typed components, the
// canonical TLV encoding stored in the PIB, the NDN URI scheme and
// structural prefix matching.
package name

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/tlv"
)

var (
	// ErrInvalidURI is returned when a name URI cannot be parsed.
	ErrInvalidURI = errors.New("name: invalid URI")

	// ErrInvalidEncoding is returned when a Name TLV cannot be decoded.
	ErrInvalidEncoding = errors.New("name: invalid encoding")
)

// Name is an ordered sequence of components. The zero value is the empty
// name "/", which is a prefix of every name.
type Name []Component

// Parse parses an NDN URI such as "/alice/KEY/%01%02/self/v=1".
// An optional "ndn:" scheme is accepted and a trailing slash is ignored.
func Parse(uri string) (Name, error) {
	s := strings.TrimPrefix(strings.TrimSpace(uri), "ndn:")
	s = strings.TrimPrefix(s, "/")
	s = strings.TrimSuffix(s, "/")
	if s == "" {
		return Name{}, nil
	}
	parts := strings.Split(s, "/")
	n := make(Name, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: %q: empty component", ErrInvalidURI, uri)
		}
		c, err := ParseComponent(part)
		if err != nil {
			return nil, err
		}
		n = append(n, c)
	}
	return n, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(uri string) Name {
	n, err := Parse(uri)
	if err != nil {
		panic(err)
	}
	return n
}

// String returns the NDN URI of the name.
func (n Name) String() string {
	if len(n) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, c := range n {
		sb.WriteByte('/')
		sb.WriteString(c.String())
	}
	return sb.String()
}

// Len returns the number of components.
func (n Name) Len() int {
	return len(n)
}

// At returns the i-th component; negative i counts from the end.
func (n Name) At(i int) Component {
	if i < 0 {
		i += len(n)
	}
	return n[i]
}

// Prefix returns the first i components. A negative i drops -i components
// from the end, so Prefix(-2) derives a key name from a certificate name.
// The result is clamped to [0, Len()].
func (n Name) Prefix(i int) Name {
	if i < 0 {
		i += len(n)
	}
	if i < 0 {
		i = 0
	}
	if i > len(n) {
		i = len(n)
	}
	return n[:i:i]
}

// Append returns a new name with comps appended; n is not modified.
func (n Name) Append(comps ...Component) Name {
	out := make(Name, 0, len(n)+len(comps))
	out = append(out, n...)
	return append(out, comps...)
}

// Equal reports whether both names have identical components.
func (n Name) Equal(other Name) bool {
	if len(n) != len(other) {
		return false
	}
	for i := range n {
		if !n[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether every component of n equals the component at
// the same position in other. This is a structural match: "/a" is a prefix
// of "/a/b" but not of "/ab".
func (n Name) IsPrefixOf(other Name) bool {
	if len(n) > len(other) {
		return false
	}
	for i := range n {
		if !n[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Compare orders names canonically, component by component; a proper prefix
// sorts before its extensions.
func (n Name) Compare(other Name) int {
	for i := 0; i < len(n) && i < len(other); i++ {
		if c := n[i].Compare(other[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(n) < len(other):
		return -1
	case len(n) > len(other):
		return 1
	default:
		return 0
	}
}

// Compare is a function form of Name.Compare for use with slices.SortFunc.
func Compare(a, b Name) int {
	return a.Compare(b)
}

// EncodeValue returns the concatenated component TLVs (the Name TLV-VALUE).
func (n Name) EncodeValue() []byte {
	var b []byte
	for _, c := range n {
		b = c.appendTo(b)
	}
	return b
}

// Encode returns the complete Name TLV. This is the byte form used as the
// identity, key_name and certificate_name columns of the PIB.
func (n Name) Encode() []byte {
	return tlv.AppendElement(nil, tlv.TypeName, n.EncodeValue())
}

// AppendTo appends the Name TLV to b.
func (n Name) AppendTo(b []byte) []byte {
	return tlv.AppendElement(b, tlv.TypeName, n.EncodeValue())
}

// Decode decodes a complete Name TLV.
func Decode(wire []byte) (Name, error) {
	e, err := tlv.DecodeElement(wire, tlv.TypeName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return DecodeValue(e.Value)
}

// DecodeValue decodes a Name TLV-VALUE.
func DecodeValue(value []byte) (Name, error) {
	elements, err := tlv.ReadElements(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	n := make(Name, 0, len(elements))
	for _, e := range elements {
		if e.Type == 0 || e.Type > 0xffff {
			return nil, fmt.Errorf("%w: component type %d", ErrInvalidEncoding, e.Type)
		}
		n = append(n, Component{Type: e.Type, Value: append([]byte(nil), e.Value...)})
	}
	return n, nil
}
