package main

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure the catalog can report.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindStorage
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// CatalogError is the single error type returned by the book service
// and the storage layer. Field is set for validation failures only.
type CatalogError struct {
	Kind    ErrorKind
	Field   string
	Message string
	Err     error
}

func (e *CatalogError) Error() string {
	msg := e.Message
	if e.Field != "" && msg == "" {
		msg = e.Field + " is invalid"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// Is matches any CatalogError of the same kind, so callers
// can compare against the sentinels below with errors.Is.
func (e *CatalogError) Is(target error) bool {
	t, ok := target.(*CatalogError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Field == "" && t.Err == nil
}

var (
	ErrValidation   = &CatalogError{Kind: KindValidation, Message: "invalid input"}
	ErrConflict     = &CatalogError{Kind: KindConflict, Message: "conflict"}
	ErrBookNotFound = &CatalogError{Kind: KindNotFound, Message: "book not found"}
	ErrStorage      = &CatalogError{Kind: KindStorage, Message: "storage failure"}
)

func ValidationError(field, message string) error {
	return &CatalogError{Kind: KindValidation, Field: field, Message: message}
}

func ConflictError(message string) error {
	return &CatalogError{Kind: KindConflict, Message: message}
}

func NotFoundError(id string) error {
	return &CatalogError{Kind: KindNotFound, Message: "book " + id + " not found"}
}

// StorageError wraps a backend failure. Catalog errors are passed through.
func StorageError(message string, err error) error {
	var ce *CatalogError
	if errors.As(err, &ce) {
		return err
	}
	return &CatalogError{Kind: KindStorage, Message: message, Err: err}
}

// KindOf returns the kind carried by err or KindUnknown.
func KindOf(err error) ErrorKind {
	var ce *CatalogError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// HTTPStatusOf maps an error to the status code sent to clients.
func HTTPStatusOf(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorMessage returns the client facing message of err.
func ErrorMessage(err error) string {
	var ce *CatalogError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return "internal error"
}
