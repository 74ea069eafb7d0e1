package errx

import (
	"errors"
	"fmt"
)

// Kind classifies failures the conversation controller knows how to present.
type Kind int

const (
	KindUnknown Kind = iota
	KindRecognitionUnavailable
	KindRecognitionEmpty
	KindAnalysisUnavailable
	KindAnalysisMalformed
	KindPersistence
	KindSessionStateMissing
	KindInvalidTransition
	KindRateLimited
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindRecognitionUnavailable: "recognition_unavailable",
	KindRecognitionEmpty:       "recognition_empty",
	KindAnalysisUnavailable:    "analysis_unavailable",
	KindAnalysisMalformed:      "analysis_malformed",
	KindPersistence:            "persistence_error",
	KindSessionStateMissing:    "session_state_missing",
	KindInvalidTransition:      "invalid_transition",
	KindRateLimited:            "rate_limited",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

const (
	// SystemErrorMessage is a safe fallback when the cause must not leak.
	SystemErrorMessage = "internal error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// DBErrorMessage describes history database failures.
	DBErrorMessage = "database operation failed"
)

// Sentinels for errors.Is. An AppError matches a sentinel of the same Kind.
var (
	ErrRecognitionUnavailable = &AppError{Kind: KindRecognitionUnavailable, Message: "recognition provider unavailable"}
	ErrRecognitionEmpty       = &AppError{Kind: KindRecognitionEmpty, Message: "no text recognized"}
	ErrAnalysisUnavailable    = &AppError{Kind: KindAnalysisUnavailable, Message: "analysis provider unavailable"}
	ErrAnalysisMalformed      = &AppError{Kind: KindAnalysisMalformed, Message: "analysis response malformed"}
	ErrPersistence            = &AppError{Kind: KindPersistence, Message: "persistence failed"}
	ErrSessionStateMissing    = &AppError{Kind: KindSessionStateMissing, Message: "session state missing"}
	ErrInvalidTransition      = &AppError{Kind: KindInvalidTransition, Message: "invalid transition"}
	ErrRateLimited            = &AppError{Kind: KindRateLimited, Message: "rate limited"}
)

// AppError wraps an underlying error with a Kind and safe message.
type AppError struct {
	Kind    Kind
	Err     error
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError of the same kind.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a new AppError with the provided information.
func New(kind Kind, err error, message string) *AppError {
	return &AppError{
		Kind:    kind,
		Err:     err,
		Message: message,
	}
}

// Newf creates an AppError whose cause is formatted from the arguments.
func Newf(kind Kind, message, format string, args ...any) *AppError {
	return New(kind, fmt.Errorf(format, args...), message)
}

// KindOf returns the Kind of the first AppError in err's chain.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// Outcome is a metrics label: "ok" for nil, otherwise the kind name.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return KindOf(err).String()
}
