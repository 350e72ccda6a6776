package vdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andreyvit/vdb/hlc"
)

var (
	// ErrNotFound is returned (usually wrapped) when a key doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// DataError describes undecodable bytes.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// RequestError rejects a malformed or unsupported request. Nothing is applied.
type RequestError struct {
	Table string
	Msg   string
	Err   error
}

func requestErrf(table string, err error, format string, args ...any) error {
	return &RequestError{table, fmt.Sprintf(format, args...), err}
}

func (e *RequestError) Unwrap() error { return e.Err }

func (e *RequestError) Error() string {
	return formatErr("request", e.Table, "", nil, nil, e.Msg, e.Err)
}

// ValidationError means a value violates the model definition.
type ValidationError struct {
	Table string
	Key   []byte
	Ref   Ref
	Msg   string
}

func validationErrf(table string, key []byte, ref Ref, format string, args ...any) error {
	return &ValidationError{table, key, ref, fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return formatErr("validation", e.Table, "", e.Key, e.Ref, e.Msg, nil)
}

// StorageError reports a corrupt or unrecognized in-memory or persisted
// representation. Only the read or write under way fails.
type StorageError struct {
	Table string
	Key   []byte
	Msg   string
	Err   error
}

func storageErrf(table string, key []byte, err error, format string, args ...any) error {
	return &StorageError{table, key, fmt.Sprintf(format, args...), err}
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Error() string {
	return formatErr("storage", e.Table, "", e.Key, nil, e.Msg, e.Err)
}

// UniqueError means a write would violate a unique index.
type UniqueError struct {
	Table       string
	Index       string
	Key         []byte
	ExistingKey []byte
}

func (e *UniqueError) Error() string {
	return formatErr("unique", e.Table, e.Index, e.Key, nil, fmt.Sprintf("value already used by %x", e.ExistingKey), nil)
}

// TypeError is an internal contract violation: an unexpected runtime shape
// reached a processing branch.
type TypeError struct {
	Msg string
}

func typeErrf(format string, args ...any) error {
	return &TypeError{fmt.Sprintf(format, args...)}
}

func (e *TypeError) Error() string {
	return "type: " + e.Msg
}

// AlreadyExistsError is returned for an Add of a key that is already present.
type AlreadyExistsError struct {
	Table string
	Key   []byte
}

func (e *AlreadyExistsError) Error() string {
	return formatErr("add", e.Table, "", e.Key, nil, "already exists", nil)
}

// VersionMismatchError is returned when a change was conditioned on a last
// version that is no longer current.
type VersionMismatchError struct {
	Table    string
	Key      []byte
	Expected hlc.Version
	Actual   hlc.Version
}

func (e *VersionMismatchError) Error() string {
	return formatErr("change", e.Table, "", e.Key, nil, fmt.Sprintf("last version is %v, wanted %v", e.Actual, e.Expected), nil)
}

func notFoundErr(table string, key []byte) error {
	return fmt.Errorf("%s/%x: %w", table, key, ErrNotFound)
}

func formatErr(kind, table, index string, key []byte, ref Ref, msg string, err error) string {
	var buf strings.Builder
	buf.WriteString(kind)
	buf.WriteString(": ")
	buf.WriteString(table)
	if index != "" {
		buf.WriteByte('.')
		buf.WriteString(index)
	}
	if key != nil {
		fmt.Fprintf(&buf, "/%x", key)
	}
	if ref != nil {
		fmt.Fprintf(&buf, "@%v", ref)
	}
	if msg != "" {
		buf.WriteString(": ")
		buf.WriteString(msg)
	}
	if err != nil {
		buf.WriteString(": ")
		buf.WriteString(err.Error())
	}
	return buf.String()
}
