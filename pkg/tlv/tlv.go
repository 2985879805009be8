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

// Package tlv implements the NDN Type-Length-Value wire primitives used by
// names and certificates: variable-length numbers, NonNegativeInteger values
// and element framing.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// NDN packet format v0.3 type numbers.
const (
	TypeImplicitSha256DigestComponent   uint64 = 0x01
	TypeParametersSha256DigestComponent uint64 = 0x02
	TypeData                            uint64 = 0x06
	TypeName                            uint64 = 0x07
	TypeGenericNameComponent            uint64 = 0x08
	TypeMetaInfo                        uint64 = 0x14
	TypeContent                         uint64 = 0x15
	TypeSignatureInfo                   uint64 = 0x16
	TypeSignatureValue                  uint64 = 0x17
	TypeContentType                     uint64 = 0x18
	TypeFreshnessPeriod                 uint64 = 0x19
	TypeFinalBlockID                    uint64 = 0x1a
	TypeSignatureType                   uint64 = 0x1b
	TypeKeyLocator                      uint64 = 0x1c
	TypeKeyDigest                       uint64 = 0x1d
	TypeKeywordNameComponent            uint64 = 0x20
	TypeSegmentNameComponent            uint64 = 0x32
	TypeByteOffsetNameComponent         uint64 = 0x34
	TypeVersionNameComponent            uint64 = 0x36
	TypeTimestampNameComponent          uint64 = 0x38
	TypeSequenceNumNameComponent        uint64 = 0x3a
	TypeValidityPeriod                  uint64 = 0xfd
	TypeNotBefore                       uint64 = 0xfe
	TypeNotAfter                        uint64 = 0xff
)

var (
	// ErrTruncated is returned when the input ends inside a TLV element.
	ErrTruncated = errors.New("tlv: truncated input")

	// ErrInvalidNNI is returned when a NonNegativeInteger is not 1, 2, 4 or 8 octets.
	ErrInvalidNNI = errors.New("tlv: invalid NonNegativeInteger")

	// ErrTrailingBytes is returned when a single element is expected but more input follows.
	ErrTrailingBytes = errors.New("tlv: trailing bytes after element")

	// ErrUnexpectedType is returned when an element carries a different TLV-TYPE than required.
	ErrUnexpectedType = errors.New("tlv: unexpected type")
)

// Element is one decoded TLV element. Value and Wire alias the input buffer.
type Element struct {
	Type  uint64
	Value []byte
	Wire  []byte
}

// VarNumLen returns the encoded size of v as a TLV variable-length number.
func VarNumLen(v uint64) int {
	switch {
	case v < 0xfd:
		return 1
	case v <= 0xffff:
		return 3
	case v <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// AppendVarNum appends v encoded as a TLV variable-length number.
func AppendVarNum(b []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(b, byte(v))
	case v <= 0xffff:
		return binary.BigEndian.AppendUint16(append(b, 0xfd), uint16(v))
	case v <= 0xffffffff:
		return binary.BigEndian.AppendUint32(append(b, 0xfe), uint32(v))
	default:
		return binary.BigEndian.AppendUint64(append(b, 0xff), v)
	}
}

// ReadVarNum decodes a variable-length number from the front of b and
// returns it with the number of bytes consumed.
func ReadVarNum(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrTruncated
	}
	switch first := b[0]; first {
	case 0xfd:
		if len(b) < 3 {
			return 0, 0, ErrTruncated
		}
		return uint64(binary.BigEndian.Uint16(b[1:3])), 3, nil
	case 0xfe:
		if len(b) < 5 {
			return 0, 0, ErrTruncated
		}
		return uint64(binary.BigEndian.Uint32(b[1:5])), 5, nil
	case 0xff:
		if len(b) < 9 {
			return 0, 0, ErrTruncated
		}
		return binary.BigEndian.Uint64(b[1:9]), 9, nil
	default:
		return uint64(first), 1, nil
	}
}

// AppendNNI appends v as the shortest NonNegativeInteger encoding (1, 2, 4 or 8 octets).
func AppendNNI(b []byte, v uint64) []byte {
	switch {
	case v <= 0xff:
		return append(b, byte(v))
	case v <= 0xffff:
		return binary.BigEndian.AppendUint16(b, uint16(v))
	case v <= 0xffffffff:
		return binary.BigEndian.AppendUint32(b, uint32(v))
	default:
		return binary.BigEndian.AppendUint64(b, v)
	}
}

// DecodeNNI decodes a NonNegativeInteger value.
func DecodeNNI(b []byte) (uint64, error) {
	switch len(b) {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(b)), nil
	case 8:
		return binary.BigEndian.Uint64(b), nil
	default:
		return 0, fmt.Errorf("%w: length %d", ErrInvalidNNI, len(b))
	}
}

// AppendElement appends a complete TLV element with the given type and value.
func AppendElement(b []byte, typ uint64, value []byte) []byte {
	b = AppendVarNum(b, typ)
	b = AppendVarNum(b, uint64(len(value)))
	return append(b, value...)
}

// AppendNNIElement appends a TLV element whose value is a NonNegativeInteger.
func AppendNNIElement(b []byte, typ uint64, v uint64) []byte {
	return AppendElement(b, typ, AppendNNI(nil, v))
}

// ReadElement decodes one element from the front of b and returns it with
// the number of bytes consumed.
func ReadElement(b []byte) (Element, int, error) {
	typ, n, err := ReadVarNum(b)
	if err != nil {
		return Element{}, 0, err
	}
	length, m, err := ReadVarNum(b[n:])
	if err != nil {
		return Element{}, 0, err
	}
	start := n + m
	if uint64(len(b)-start) < length {
		return Element{}, 0, fmt.Errorf("%w: type %d needs %d bytes, have %d",
			ErrTruncated, typ, length, len(b)-start)
	}
	end := start + int(length)
	return Element{
		Type:  typ,
		Value: b[start:end],
		Wire:  b[:end],
	}, end, nil
}

// DecodeElement decodes b as exactly one element of the expected type.
func DecodeElement(b []byte, typ uint64) (Element, error) {
	e, n, err := ReadElement(b)
	if err != nil {
		return Element{}, err
	}
	if e.Type != typ {
		return Element{}, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedType, e.Type, typ)
	}
	if n != len(b) {
		return Element{}, ErrTrailingBytes
	}
	return e, nil
}

// ReadElements decodes b as a sequence of consecutive elements.
func ReadElements(b []byte) ([]Element, error) {
	var elements []Element
	for len(b) > 0 {
		e, n, err := ReadElement(b)
		if err != nil {
			return nil, err
		}
		elements = append(elements, e)
		b = b[n:]
	}
	return elements, nil
}

// IsCritical reports whether an unrecognized element of this type must
// cause decoding to fail, per the NDN evolvability rules.
func IsCritical(typ uint64) bool {
	return typ <= 31 || typ&1 == 1
}
