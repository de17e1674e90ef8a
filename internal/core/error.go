package core

import (
	"fmt"
	"sync"
)

// ErrorKind classifies runtime failures.
type ErrorKind int

// Error kinds, ordered by severity of caller mistake.
const (
	ErrNone                ErrorKind = iota // no error occurred
	ErrUnknown                              // backend failure without a more specific class
	ErrInvalidArgument                      // bad parameter or shape
	ErrInvalidOperation                     // operation not allowed in the current state
	ErrOutOfMemory                          // allocation failure
	ErrUnsupportedHardware                  // hardware below the backend's minimum
	ErrCancelled                            // aborted by the user
)

// String returns a human-readable kind name.
func (k ErrorKind) String() string {
	switch k {
	case ErrNone:
		return "none"
	case ErrUnknown:
		return "unknown"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrInvalidOperation:
		return "invalid operation"
	case ErrOutOfMemory:
		return "out of memory"
	case ErrUnsupportedHardware:
		return "unsupported hardware"
	case ErrCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified runtime error with an optional message.
type Error struct {
	Kind    ErrorKind
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError converts an arbitrary error into a classified one.
// Already-classified errors pass through; anything else becomes Unknown.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Kind: ErrUnknown, Message: err.Error()}
}

// errorState is a single-slot "first unretrieved error" store.
// A new error is kept only if the slot is empty; retrieval clears it.
type errorState struct {
	mu      sync.Mutex
	pending *Error
}

// record stores err if no error is pending and reports whether it was
// kept. Later errors are dropped until the pending one is retrieved.
func (s *errorState) record(err *Error) bool {
	if err == nil || err.Kind == ErrNone {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return false
	}
	s.pending = err
	return true
}

// take returns the pending error and clears the slot.
func (s *errorState) take() *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.pending
	s.pending = nil
	return err
}
