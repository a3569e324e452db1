package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures so the HTTP boundary can map them to a status.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation_error"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	KindEmbeddingService  ErrorKind = "embedding_service_error"
	KindGenerationService ErrorKind = "generation_service_error"
	KindCollectionMissing ErrorKind = "collection_not_found"
	KindIndexWrite        ErrorKind = "index_write_error"
	KindVectorIndex       ErrorKind = "vector_index_error"
	KindRateLimited       ErrorKind = "rate_limited"
	KindInternal          ErrorKind = "internal_error"
)

// Error is a classified failure. Two errors match under errors.Is when their
// kinds are equal, so the exported sentinels work as kind checks.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrUnsupportedFormat  = &Error{Kind: KindUnsupportedFormat}
	ErrEmbeddingService   = &Error{Kind: KindEmbeddingService}
	ErrGenerationService  = &Error{Kind: KindGenerationService}
	ErrCollectionNotFound = &Error{Kind: KindCollectionMissing}
	ErrIndexWrite         = &Error{Kind: KindIndexWrite}
	ErrVectorIndex        = &Error{Kind: KindVectorIndex}
)

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds a classified error. err may be nil.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func ValidationError(format string, args ...any) error {
	return NewError(KindValidation, fmt.Sprintf(format, args...), nil)
}

func UnsupportedFormatError(format string, args ...any) error {
	return NewError(KindUnsupportedFormat, fmt.Sprintf(format, args...), nil)
}

func CollectionNotFoundError(collection string) error {
	return NewError(KindCollectionMissing, fmt.Sprintf("collection %q not found", collection), nil)
}

// WrapKind classifies err unless it already carries a kind.
func WrapKind(kind ErrorKind, message string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return NewError(kind, message, err)
}

// KindOf returns the kind of err, or KindInternal when it is unclassified.
func KindOf(err error) ErrorKind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message for err.
func MessageOf(err error) string {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsTimeout reports whether err was caused by an expired deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
