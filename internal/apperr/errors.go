// Package apperr defines the error kinds reported by the ingestion, retrieval,
// composition and comparison paths.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a machine-readable error kind.
type Kind string

const (
	KindEmptyDocument             Kind = "EmptyDocument"
	KindStructureExtractionFailed Kind = "StructureExtractionFailed"
	KindVectorizerUnavailable     Kind = "VectorizerUnavailable"

	KindIndexUnavailable Kind = "IndexUnavailable"

	KindCompletionServiceUnavailable Kind = "CompletionServiceUnavailable"
	KindCompletionTimeout            Kind = "CompletionTimeout"
	KindUnparseableCompletion        Kind = "UnparseableCompletion"

	KindInsufficientPapers Kind = "InsufficientPapers"
	KindNoAspects          Kind = "NoAspects"
	KindUnknownPaperID     Kind = "UnknownPaperId"

	KindInvalidRequest Kind = "InvalidRequest"
	KindPaperNotFound  Kind = "PaperNotFound"
	KindInternal       Kind = "Internal"
)

// Category groups kinds by the path that raises them.
type Category string

const (
	CategoryIngestion   Category = "IngestionError"
	CategoryRetrieval   Category = "RetrievalError"
	CategoryComposition Category = "CompositionError"
	CategoryComparison  Category = "ComparisonError"
	CategoryRequest     Category = "RequestError"
)

// Category returns the category k belongs to.
func (k Kind) Category() Category {
	switch k {
	case KindEmptyDocument, KindStructureExtractionFailed, KindVectorizerUnavailable:
		return CategoryIngestion
	case KindIndexUnavailable:
		return CategoryRetrieval
	case KindCompletionServiceUnavailable, KindCompletionTimeout, KindUnparseableCompletion:
		return CategoryComposition
	case KindInsufficientPapers, KindNoAspects, KindUnknownPaperID:
		return CategoryComparison
	default:
		return CategoryRequest
	}
}

// Retryable reports whether a failure of this kind may succeed on a later attempt.
func (k Kind) Retryable() bool {
	switch k {
	case KindVectorizerUnavailable, KindIndexUnavailable,
		KindCompletionServiceUnavailable, KindCompletionTimeout:
		return true
	}
	return false
}

// Error carries a kind, the failing operation, and a message safe to show to callers.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, apperr.New(KindNoAspects, "", "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap returns an error of the given kind that wraps err.
func Wrap(kind Kind, op string, err error, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		return string(e.Kind)
	}
	return "internal error"
}

// IsRetryable reports whether err is worth another attempt. Context deadline
// expiry counts as retryable; caller cancellation does not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.Retryable()
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}
