package vdb

import (
	"encoding/binary"
)

// Stored node values start with an indicator byte.
type indicator byte

const (
	indDeleted  indicator = 0 // deletion entry of a historic chain
	indNoType   indicator = 1 // typed union without a value
	indSimple   indicator = 2 // msgpack scalar follows
	indComplex  indicator = 3 // list/set/map; uvarint item count follows
	indEmbed    indicator = 4 // embedded object marker
	indTypeTag  indicator = 5 // typed union; uvarint type tag follows
	maxIndicator          = indTypeTag
)

var (
	embedMarker  = []byte{byte(indEmbed)}
	noTypeMarker = []byte{byte(indNoType)}
)

func encodeSimple(v any) []byte {
	return msgpackAppend([]byte{byte(indSimple)}, v)
}

func encodeCount(n int) []byte {
	return appendUvarint([]byte{byte(indComplex)}, uint64(n))
}

func encodeTypeTag(tag uint16) []byte {
	return appendUvarint([]byte{byte(indTypeTag)}, uint64(tag))
}

// storedValue is a decoded node value.
type storedValue struct {
	ind    indicator
	scalar any // indSimple
	count  int // indComplex
	tag    uint16
}

func decodeStored(b []byte) (storedValue, error) {
	if len(b) == 0 {
		return storedValue{}, dataErrf(b, 0, nil, "empty value")
	}
	sv := storedValue{ind: indicator(b[0])}
	switch sv.ind {
	case indDeleted, indNoType, indEmbed:
		return sv, nil
	case indSimple:
		v, err := msgpackDecodeScalar(b[1:])
		if err != nil {
			return sv, err
		}
		sv.scalar = v
		return sv, nil
	case indComplex:
		n, k := binary.Uvarint(b[1:])
		if k <= 0 || n > uint64(maxInt) {
			return sv, dataErrf(b, 1, nil, "invalid item count")
		}
		sv.count = int(n)
		return sv, nil
	case indTypeTag:
		n, k := binary.Uvarint(b[1:])
		if k <= 0 || n > 0xFFFF {
			return sv, dataErrf(b, 1, nil, "invalid type tag")
		}
		sv.tag = uint16(n)
		return sv, nil
	default:
		return sv, dataErrf(b, 0, nil, "unknown indicator byte %d", b[0])
	}
}

// countOf returns the item count stored in a container node, or 0.
func countOf(b []byte) int {
	if len(b) == 0 || indicator(b[0]) != indComplex {
		return 0
	}
	n, k := binary.Uvarint(b[1:])
	if k <= 0 {
		return 0
	}
	return int(n)
}

const maxInt = int(^uint(0) >> 1)
