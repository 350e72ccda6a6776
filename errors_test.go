package vdb

import (
	"errors"
	"strings"
	"testing"
)

func TestDataError_ErrorAndUnwrap(t *testing.T) {
	t.Run("small data", func(t *testing.T) {
		inner := errors.New("inner")
		err := dataErrf([]byte{0xAA, 0xBB}, 1, inner, "oops")
		isErrAs[*DataError](t, err)
		isErr(t, err, inner)
		s := err.Error()
		if !strings.Contains(s, "oops") || !strings.Contains(s, "inner") || !strings.Contains(s, "(2) aabb") {
			t.Fatalf("err.Error() = %q, wanted message with oops/inner/(2) aabb", s)
		}
	})

	t.Run("large data includes prefix+suffix", func(t *testing.T) {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}
		s := dataErrf(data, 0, nil, "oops").Error()
		if !strings.Contains(s, "(200)") || !strings.Contains(s, "...") {
			t.Fatalf("err.Error() = %q, wanted message with (200) and ...", s)
		}
	})
}

func TestStoreErrorMessages(t *testing.T) {
	inner := errors.New("inner")
	tests := []struct {
		err  error
		want string
	}{
		{requestErrf("items", inner, "bad %d", 1), "request: items: bad 1: inner"},
		{validationErrf("items", []byte{1}, Prop(2), "too long"), "validation: items/01@"},
		{storageErrf("items", []byte{0xff}, nil, "corrupt"), "storage: items/ff: corrupt"},
		{&UniqueError{Table: "items", Index: "name", Key: []byte{1}, ExistingKey: []byte{2}}, "unique: items.name/01: value already used by 02"},
		{&AlreadyExistsError{Table: "items", Key: []byte{3}}, "add: items/03: already exists"},
		{&VersionMismatchError{Table: "items", Key: []byte{4}, Expected: 1, Actual: 2}, "change: items/04: last version is"},
		{typeErrf("unexpected %T", 1), "type: unexpected int"},
	}
	for _, tt := range tests {
		if s := tt.err.Error(); !strings.HasPrefix(s, tt.want) {
			t.Errorf("** got %q, wanted prefix %q", s, tt.want)
		}
	}

	isErr(t, requestErrf("items", inner, "x"), inner)
	isErr(t, storageErrf("items", nil, inner, "x"), inner)
	isErr(t, notFoundErr("items", []byte{1}), ErrNotFound)
}
