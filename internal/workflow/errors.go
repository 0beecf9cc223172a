package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error kinds. Every error returned by the engine matches exactly one of them
// through errors.Is, apart from storage failures which are passed through.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrDuplicate         = errors.New("duplicate")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("concurrent update conflict")
)

// TransitionError reports an out-of-order ledger or tracker action. Expected
// is the action that would have been accepted, empty when none is.
type TransitionError struct {
	Scope     string
	Attempted string
	Current   string
	Expected  string
	Reason    string
}

func (e *TransitionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: invalid transition to %q", e.Scope, e.Attempted)
	if e.Current != "" {
		fmt.Fprintf(&b, " from %q", e.Current)
	}
	if e.Expected != "" {
		fmt.Fprintf(&b, ", expected %q", e.Expected)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ValidationError carries per-field messages for a rejected request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
}
