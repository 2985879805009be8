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

package name

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeremyhahn/go-ndnkeychain/pkg/tlv"
)

// Component is a single typed name component.
type Component struct {
	Type  uint64
	Value []byte
}

// Generic returns a GenericNameComponent holding s.
func Generic(s string) Component {
	return Component{Type: tlv.TypeGenericNameComponent, Value: []byte(s)}
}

// GenericBytes returns a GenericNameComponent holding a copy of b.
func GenericBytes(b []byte) Component {
	return Component{Type: tlv.TypeGenericNameComponent, Value: bytes.Clone(b)}
}

// Version returns a VersionNameComponent.
func Version(v uint64) Component {
	return Component{Type: tlv.TypeVersionNameComponent, Value: tlv.AppendNNI(nil, v)}
}

// Segment returns a SegmentNameComponent.
func Segment(v uint64) Component {
	return Component{Type: tlv.TypeSegmentNameComponent, Value: tlv.AppendNNI(nil, v)}
}

// IsGeneric reports whether c is a GenericNameComponent.
func (c Component) IsGeneric() bool {
	return c.Type == tlv.TypeGenericNameComponent
}

// IsVersion reports whether c is a well-formed VersionNameComponent.
func (c Component) IsVersion() bool {
	if c.Type != tlv.TypeVersionNameComponent {
		return false
	}
	_, err := tlv.DecodeNNI(c.Value)
	return err == nil
}

// NumberValue decodes the component value as a NonNegativeInteger.
func (c Component) NumberValue() (uint64, error) {
	return tlv.DecodeNNI(c.Value)
}

// Equal reports whether c and other have the same type and value.
func (c Component) Equal(other Component) bool {
	return c.Type == other.Type && bytes.Equal(c.Value, other.Value)
}

// Compare orders components canonically: by type, then value length, then value bytes.
func (c Component) Compare(other Component) int {
	switch {
	case c.Type < other.Type:
		return -1
	case c.Type > other.Type:
		return 1
	case len(c.Value) < len(other.Value):
		return -1
	case len(c.Value) > len(other.Value):
		return 1
	default:
		return bytes.Compare(c.Value, other.Value)
	}
}

func (c Component) appendTo(b []byte) []byte {
	return tlv.AppendElement(b, c.Type, c.Value)
}

// String returns the URI representation of the component.
func (c Component) String() string {
	if prefix, ok := numberPrefixes[c.Type]; ok {
		if v, err := tlv.DecodeNNI(c.Value); err == nil {
			return prefix + strconv.FormatUint(v, 10)
		}
	}
	switch c.Type {
	case tlv.TypeGenericNameComponent:
		return escape(c.Value)
	case tlv.TypeImplicitSha256DigestComponent:
		if len(c.Value) == 32 {
			return "sha256digest=" + hex.EncodeToString(c.Value)
		}
	case tlv.TypeParametersSha256DigestComponent:
		if len(c.Value) == 32 {
			return "params-sha256=" + hex.EncodeToString(c.Value)
		}
	}
	return strconv.FormatUint(c.Type, 10) + "=" + escape(c.Value)
}

var numberPrefixes = map[uint64]string{
	tlv.TypeSegmentNameComponent:     "seg=",
	tlv.TypeByteOffsetNameComponent:  "off=",
	tlv.TypeVersionNameComponent:     "v=",
	tlv.TypeTimestampNameComponent:   "t=",
	tlv.TypeSequenceNumNameComponent: "seq=",
}

// ParseComponent parses one URI component.
func ParseComponent(s string) (Component, error) {
	typ := tlv.TypeGenericNameComponent
	text := s
	if i := strings.IndexByte(s, '='); i > 0 {
		prefix, rest := s[:i+1], s[i+1:]
		for t, p := range numberPrefixes {
			if p == prefix {
				v, err := strconv.ParseUint(rest, 10, 64)
				if err != nil {
					return Component{}, fmt.Errorf("%w: %q: %v", ErrInvalidURI, s, err)
				}
				return Component{Type: t, Value: tlv.AppendNNI(nil, v)}, nil
			}
		}
		switch prefix {
		case "sha256digest=", "params-sha256=":
			digest, err := hex.DecodeString(rest)
			if err != nil || len(digest) != 32 {
				return Component{}, fmt.Errorf("%w: %q: bad digest", ErrInvalidURI, s)
			}
			t := tlv.TypeImplicitSha256DigestComponent
			if prefix == "params-sha256=" {
				t = tlv.TypeParametersSha256DigestComponent
			}
			return Component{Type: t, Value: digest}, nil
		}
		if n, err := strconv.ParseUint(s[:i], 10, 16); err == nil {
			if n == 0 {
				return Component{}, fmt.Errorf("%w: %q: type zero", ErrInvalidURI, s)
			}
			typ, text = n, rest
		}
	}

	value, err := unescape(text)
	if err != nil {
		return Component{}, fmt.Errorf("%w: %q: %v", ErrInvalidURI, s, err)
	}
	if onlyPeriods(value) {
		if len(value) < 3 {
			return Component{}, fmt.Errorf("%w: %q: illegal period-only component", ErrInvalidURI, s)
		}
		value = value[3:]
	}
	return Component{Type: typ, Value: value}, nil
}

func onlyPeriods(b []byte) bool {
	for _, c := range b {
		if c != '.' {
			return false
		}
	}
	return true
}

func isUnreserved(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

func escape(value []byte) string {
	if onlyPeriods(value) {
		return "..." + string(value)
	}
	var sb strings.Builder
	for _, c := range value {
		if isUnreserved(c) {
			sb.WriteByte(c)
		} else {
			fmt.Fprintf(&sb, "%%%02X", c)
		}
	}
	return sb.String()
}

func unescape(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			out = append(out, s[i])
			continue
		}
		if i+2 >= len(s) {
			return nil, errors.New("truncated percent-escape")
		}
		b, err := hex.DecodeString(s[i+1 : i+3])
		if err != nil {
			return nil, err
		}
		out = append(out, b[0])
		i += 2
	}
	return out, nil
}
