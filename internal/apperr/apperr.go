package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the interface layer can render it without
// knowing which adapter produced it.
type Kind string

const (
	KindInputInvalid              Kind = "input_invalid"
	KindEmbeddingUnavailable      Kind = "embedding_unavailable"
	KindGenerationUnavailable     Kind = "generation_unavailable"
	KindIndexDimensionMismatch    Kind = "index_dimension_mismatch"
	KindIndexNotFound             Kind = "index_not_found"
	KindIndexUnavailable          Kind = "index_unavailable"
	KindStoreUnavailable          Kind = "store_unavailable"
	KindDelegatedExecutionFailure Kind = "delegated_execution_failure"
)

var kindText = map[Kind]string{
	KindInputInvalid:              "invalid input",
	KindEmbeddingUnavailable:      "embedding service unavailable",
	KindGenerationUnavailable:     "generation service unavailable",
	KindIndexDimensionMismatch:    "index dimension mismatch",
	KindIndexNotFound:             "index not found",
	KindIndexUnavailable:          "vector index unavailable",
	KindStoreUnavailable:          "question store unavailable",
	KindDelegatedExecutionFailure: "delegated execution failed",
}

func (k Kind) String() string {
	if s, ok := kindText[k]; ok {
		return s
	}
	return string(k)
}

// Error is the single error type adapters return. Op names the failing
// operation, Err carries the provider specific cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrIndexNotFound)
// holds for any *Error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInputInvalid              = &Error{Kind: KindInputInvalid}
	ErrEmbeddingUnavailable      = &Error{Kind: KindEmbeddingUnavailable}
	ErrGenerationUnavailable     = &Error{Kind: KindGenerationUnavailable}
	ErrIndexDimensionMismatch    = &Error{Kind: KindIndexDimensionMismatch}
	ErrIndexNotFound             = &Error{Kind: KindIndexNotFound}
	ErrIndexUnavailable          = &Error{Kind: KindIndexUnavailable}
	ErrStoreUnavailable          = &Error{Kind: KindStoreUnavailable}
	ErrDelegatedExecutionFailure = &Error{Kind: KindDelegatedExecutionFailure}
)

// New builds an *Error from a formatted cause.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err under kind. An error that already carries the same kind
// is returned untouched so a failure is only wrapped once.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the outermost kind in err's chain, or "" for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// UserMessage renders err as plain text for the CLI and HTTP layers.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *Error
	if !errors.As(err, &ae) {
		return "unexpected error: " + err.Error()
	}
	switch ae.Kind {
	case KindInputInvalid:
		return "Invalid input: " + causeText(ae)
	case KindIndexNotFound:
		return "The requested index does not exist: " + causeText(ae)
	case KindIndexDimensionMismatch:
		return "The index was built with a different embedding model: " + causeText(ae)
	case KindDelegatedExecutionFailure:
		return "Error processing query: " + causeText(ae)
	default:
		return "Service temporarily unavailable (" + ae.Kind.String() + "): " + causeText(ae)
	}
}

func causeText(e *Error) string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}
