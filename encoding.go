package vdb

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// msgpackAppend encodes v after buf. Map keys are sorted so equal values
// always produce equal bytes.
func msgpackAppend(buf []byte, v any) []byte {
	bb := bytesBuilder{Buf: buf}
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		panic(fmt.Errorf("msgpack: cannot encode %T: %w", v, err))
	}
	return bb.Buf
}

// withDecoder runs f on a pooled decoder reading buf.
func withDecoder[T any](buf []byte, f func(dec *msgpack.Decoder) (T, error)) (T, error) {
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.ResetDict(bytes.NewReader(buf), nil)
	return f(dec)
}

func msgpackDecode(buf []byte, ptr any) error {
	_, err := withDecoder(buf, func(dec *msgpack.Decoder) (struct{}, error) {
		return struct{}{}, dec.Decode(ptr)
	})
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", ptr)
	}
	return nil
}

// msgpackDecodeScalar decodes a single scalar, returning bool, int64,
// float64, string or []byte.
func msgpackDecodeScalar(buf []byte) (any, error) {
	v, err := withDecoder(buf, (*msgpack.Decoder).DecodeInterfaceLoose)
	if err != nil {
		return nil, dataErrf(buf, 0, err, "failed to decode msgpack scalar")
	}
	if u, ok := v.(uint64); ok {
		nv, ok := normalizeLoose(u)
		if !ok {
			return nil, dataErrf(buf, 0, nil, "integer out of range: %d", u)
		}
		return nv, nil
	}
	nv, ok := normalizeLoose(v)
	if !ok {
		return nil, dataErrf(buf, 0, nil, "not a scalar: %T", v)
	}
	return nv, nil
}
