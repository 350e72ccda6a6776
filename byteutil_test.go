package vdb

import (
	"math"
	"reflect"
	"testing"
)

func TestBytesBuilder_Basics(t *testing.T) {
	var bb bytesBuilder
	off := bb.Grow(3)
	copy(bb.Buf[off:], []byte{1, 2, 3})
	_, _ = bb.Write([]byte{9, 8})
	_ = bb.WriteByte(7)
	if !reflect.DeepEqual(bb.Buf, []byte{1, 2, 3, 9, 8, 7}) {
		t.Fatalf("bb.Buf = %x, wanted 010203090807", bb.Buf)
	}

	// writes land after whatever the slice already held
	buf := msgpackAppend([]byte{0xaa}, "x")
	if !reflect.DeepEqual(buf, []byte{0xaa, 0xa1, 'x'}) {
		t.Fatalf("msgpackAppend = %x, wanted aaa178", buf)
	}
}

func TestByteDecoder(t *testing.T) {
	buf := appendUvarint(nil, 300)
	buf = appendVarbytes(buf, []byte("hi"))
	buf = append(buf, 0, 7, 0, 0, 1, 0)

	d := makeByteDecoder(buf)
	deepEqual(t, must(d.Uvarint()), uint64(300))
	deepEqual(t, must(d.VarBytes()), []byte("hi"))
	deepEqual(t, must(d.Uint16()), uint16(7))
	deepEqual(t, must(d.Uint32()), uint32(256))
	deepEqual(t, d.Off(), len(buf))

	_, err := d.Raw(1)
	isErrAs[*DataError](t, err)
	_, err = d.Uvarint()
	isErrAs[*DataError](t, err)

	d = makeByteDecoder(appendUvarint(nil, math.MaxUint64))
	_, err = d.Uvarinti()
	isErrAs[*DataError](t, err)

	d = makeByteDecoder(appendUvarint(nil, 10))
	_, err = d.VarBytes()
	isErrAs[*DataError](t, err)
}

func TestComparePrefix(t *testing.T) {
	tests := []struct {
		k, bound string
		want     int
	}{
		{"abc", "ab", 0},
		{"abc", "abd", -1},
		{"b", "abc", 1},
		{"a", "ab", -1},
		{"", "", 0},
	}
	for _, tt := range tests {
		if got := comparePrefix([]byte(tt.k), []byte(tt.bound)); got != tt.want {
			t.Errorf("comparePrefix(%q, %q) = %d, wanted %d", tt.k, tt.bound, got, tt.want)
		}
	}
}
