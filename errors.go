package schemacat

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// StatusCode is the outcome of a catalog operation.
type StatusCode int

const (
	Success StatusCode = iota
	AttributeInvalid
	NoPrimaryKey
	PrimaryKeyNotFound
	TypeNotSupported
	AlreadyExists
	NotFound
	AttributeAlreadyExists
	AttributeNotFound
	PrimaryKeyAttribute
	CorruptMetadata
	StoreError
)

var statusNames = [...]string{
	Success:                "Success",
	AttributeInvalid:       "AttributeInvalid",
	NoPrimaryKey:           "NoPrimaryKey",
	PrimaryKeyNotFound:     "PrimaryKeyNotFound",
	TypeNotSupported:       "TypeNotSupported",
	AlreadyExists:          "AlreadyExists",
	NotFound:               "NotFound",
	AttributeAlreadyExists: "AttributeAlreadyExists",
	AttributeNotFound:      "AttributeNotFound",
	PrimaryKeyAttribute:    "PrimaryKeyAttribute",
	CorruptMetadata:        "CorruptMetadata",
	StoreError:             "StoreError",
}

func (c StatusCode) String() string {
	if c >= 0 && int(c) < len(statusNames) {
		return statusNames[c]
	}
	return fmt.Sprintf("StatusCode(%d)", int(c))
}

// Category classifies status codes by how the caller should react to them.
type Category int

const (
	CategoryNone Category = iota
	// CategoryValidation errors are detected before touching the store and are deterministic.
	CategoryValidation
	// CategoryExistence errors depend on the current store contents.
	CategoryExistence
	// CategoryStore errors come from the store itself (conflicts, I/O).
	CategoryStore
	// CategoryCorruption errors mean that persisted metadata violates catalog invariants.
	CategoryCorruption
)

func (c StatusCode) Category() Category {
	switch c {
	case Success:
		return CategoryNone
	case AttributeInvalid, NoPrimaryKey, PrimaryKeyNotFound, TypeNotSupported:
		return CategoryValidation
	case AlreadyExists, NotFound, AttributeAlreadyExists, AttributeNotFound, PrimaryKeyAttribute:
		return CategoryExistence
	case CorruptMetadata:
		return CategoryCorruption
	default:
		return CategoryStore
	}
}

// Error is returned by all Catalog operations.
type Error struct {
	Code  StatusCode
	Table string
	Attr  string
	Msg   string
	Err   error
}

func catalogErrf(code StatusCode, table, attr string, err error, format string, args ...any) *Error {
	return &Error{code, table, attr, fmt.Sprintf(format, args...), err}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so that errors.Is(err, &Error{Code: NotFound}) works.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Code == e.Code && (t.Table == "" || t.Table == e.Table) && (t.Attr == "" || t.Attr == e.Attr)
	}
	return false
}

func (e *Error) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Code.String())
	if e.Table != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Table)
		if e.Attr != "" {
			buf.WriteByte('.')
			buf.WriteString(e.Attr)
		}
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// Status returns the status code of the error returned by a Catalog operation.
// Errors joined with errors.Join report the first *Error found.
// Unclassified errors are reported as StoreError.
func Status(err error) StatusCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return StoreError
}

// Retryable reports whether the failed operation may succeed if simply run again.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// classifyStoreErr turns an error coming out of a store transaction into an *Error.
func classifyStoreErr(table string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, ErrNamespaceExists):
		return catalogErrf(AlreadyExists, table, "", nil, "")
	case errors.Is(err, ErrNamespaceNotFound):
		return catalogErrf(NotFound, table, "", nil, "")
	case errors.Is(err, ErrConflict):
		return catalogErrf(StoreError, table, "", err, "retries exhausted")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return catalogErrf(StoreError, table, "", err, "")
	}
	var de *DataError
	if errors.As(err, &de) {
		return catalogErrf(CorruptMetadata, table, "", err, "")
	}
	return catalogErrf(StoreError, table, "", err, "")
}

var (
	errTruncated     = errors.New("truncated data")
	errInvalidVarint = errors.New("invalid varint")
)

// DataError describes undecodable bytes found in the store.
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
