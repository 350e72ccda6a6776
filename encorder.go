package vdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Order-preserving scalar encoding. Bytes of two values of the same type
// compare the same way as the values. Strings and byte slices are escaped and
// terminated, so an encoded value is never a prefix of another one.
//
//	bool    0x00 / 0x01
//	int     8 bytes big endian, sign bit flipped
//	float   8 bytes big endian, IEEE bits adjusted for sign
//	string  bytes with 0x00 escaped as 0x00 0xFF, terminated by 0x00 0x01
//	bytes   same as string

const (
	orderedEscape     = 0x00
	orderedEscapedNul = 0xFF
	orderedTerminator = 0x01
)

// Index columns carry a presence byte so that missing values sort first.
const (
	columnNull    = 0x00
	columnPresent = 0x01
)

// normalizeLoose maps the assortment of Go scalar types onto the canonical
// ones: bool, int64, float64, string, []byte.
func normalizeLoose(v any) (any, bool) {
	switch v := v.(type) {
	case bool, int64, float64, string, []byte:
		return v, true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, false
		}
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return nil, false
		}
		return int64(v), true
	case float32:
		return float64(v), true
	default:
		return nil, false
	}
}

func scalarTypeOf(v any) ValueType {
	switch v.(type) {
	case bool:
		return TypeBool
	case int64:
		return TypeInt
	case float64:
		return TypeFloat
	case string:
		return TypeString
	case []byte:
		return TypeBytes
	default:
		return TypeNone
	}
}

// normalizeScalar returns v converted to the canonical Go type of typ.
// Integers are accepted where floats are expected.
func normalizeScalar(typ ValueType, v any) (any, error) {
	nv, ok := normalizeLoose(v)
	if !ok {
		return nil, fmt.Errorf("unsupported value %v (%T)", v, v)
	}
	actual := scalarTypeOf(nv)
	if actual == typ {
		return nv, nil
	}
	if typ == TypeFloat && actual == TypeInt {
		return float64(nv.(int64)), nil
	}
	if typ == TypeBytes && actual == TypeString {
		return []byte(nv.(string)), nil
	}
	return nil, fmt.Errorf("wanted %v, got %v (%T)", typ, v, v)
}

func appendOrdered(buf []byte, v any) []byte {
	switch v := v.(type) {
	case bool:
		if v {
			return append(buf, 1)
		}
		return append(buf, 0)
	case int64:
		return binary.BigEndian.AppendUint64(buf, uint64(v)^(1<<63))
	case float64:
		bits := math.Float64bits(v)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		return binary.BigEndian.AppendUint64(buf, bits)
	case string:
		return appendOrderedBytes(buf, []byte(v))
	case []byte:
		return appendOrderedBytes(buf, v)
	default:
		panic(typeErrf("cannot encode %T as an ordered scalar", v))
	}
}

func appendOrderedBytes(buf []byte, v []byte) []byte {
	for {
		i := bytes.IndexByte(v, orderedEscape)
		if i < 0 {
			break
		}
		buf = append(buf, v[:i]...)
		buf = append(buf, orderedEscape, orderedEscapedNul)
		v = v[i+1:]
	}
	buf = append(buf, v...)
	return append(buf, orderedEscape, orderedTerminator)
}

func encodeOrdered(v any) []byte {
	return appendOrdered(nil, v)
}

// decodeOrdered reads one value of type typ from the beginning of b.
func decodeOrdered(typ ValueType, b []byte) (any, []byte, error) {
	switch typ {
	case TypeBool:
		if len(b) < 1 {
			return nil, nil, dataErrf(b, 0, nil, "missing bool")
		}
		return b[0] != 0, b[1:], nil
	case TypeInt:
		if len(b) < 8 {
			return nil, nil, dataErrf(b, 0, nil, "short int")
		}
		return int64(binary.BigEndian.Uint64(b) ^ (1 << 63)), b[8:], nil
	case TypeFloat:
		if len(b) < 8 {
			return nil, nil, dataErrf(b, 0, nil, "short float")
		}
		bits := binary.BigEndian.Uint64(b)
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), b[8:], nil
	case TypeString, TypeBytes:
		var out []byte
		for i := 0; i < len(b); i++ {
			if b[i] != orderedEscape {
				out = append(out, b[i])
				continue
			}
			if i+1 >= len(b) {
				break
			}
			switch b[i+1] {
			case orderedEscapedNul:
				out = append(out, 0)
				i++
			case orderedTerminator:
				if typ == TypeString {
					return string(out), b[i+2:], nil
				}
				if out == nil {
					out = []byte{}
				}
				return out, b[i+2:], nil
			default:
				return nil, nil, dataErrf(b, i+1, nil, "invalid escape byte")
			}
		}
		return nil, nil, dataErrf(b, len(b), nil, "unterminated string")
	default:
		return nil, nil, typeErrf("cannot decode ordered %v", typ)
	}
}

// compareScalars orders two canonical scalars. Values of different types
// order by type.
func compareScalars(a, b any) int {
	ta, tb := scalarTypeOf(a), scalarTypeOf(b)
	if ta != tb {
		if ta == TypeInt && tb == TypeFloat {
			a, ta = float64(a.(int64)), TypeFloat
		} else if ta == TypeFloat && tb == TypeInt {
			b = float64(b.(int64))
		} else if ta < tb {
			return -1
		} else {
			return 1
		}
	}
	return bytes.Compare(encodeOrdered(a), encodeOrdered(b))
}

func scalarsEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return compareScalars(a, b) == 0
}

// appendColumn encodes one index column value. Nil means the property is
// missing.
func appendColumn(buf []byte, v any, reversed bool) []byte {
	off := len(buf)
	if v == nil {
		buf = append(buf, columnNull)
	} else {
		buf = append(buf, columnPresent)
		buf = appendOrdered(buf, v)
	}
	if reversed {
		for i := off; i < len(buf); i++ {
			buf[i] = ^buf[i]
		}
	}
	return buf
}
