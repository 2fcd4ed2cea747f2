package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error types for the classhunter runtime
type ErrorType string

const (
	// Lookup errors, recoverable by searching further
	ErrorTypeClassNotFound   ErrorType = "class_not_found"
	ErrorTypeNoClassDefFound ErrorType = "no_class_def_found"

	// Idempotent convergence
	ErrorTypeDuplicate ErrorType = "duplicate_definition"

	// Malformed input
	ErrorTypeClassFormat ErrorType = "class_format"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"

	// Lifecycle violations
	ErrorTypeLifecycle ErrorType = "lifecycle"

	// Member resolution
	ErrorTypeMemberNotFound ErrorType = "member_not_found"
	ErrorTypeAmbiguous      ErrorType = "ambiguous_member"
)

// ErrClosed is returned when an operation is attempted on a closed resource.
var ErrClosed = errors.New("resource is closed")

// ClassNotFoundError reports a class that could not be located by a loader
type ClassNotFoundError struct {
	Type       ErrorType
	Name       string
	Loader     string
	Underlying error
	Timestamp  time.Time
}

// NewClassNotFoundError creates a not-found error for the given binary class name
func NewClassNotFoundError(name, loader string) *ClassNotFoundError {
	return &ClassNotFoundError{
		Type:      ErrorTypeClassNotFound,
		Name:      name,
		Loader:    loader,
		Timestamp: time.Now(),
	}
}

// WithCause attaches the error that caused the lookup to fail
func (e *ClassNotFoundError) WithCause(err error) *ClassNotFoundError {
	e.Underlying = err
	return e
}

// Error implements the error interface
func (e *ClassNotFoundError) Error() string {
	msg := e.Name
	if e.Loader != "" {
		msg = fmt.Sprintf("%s (loader %s)", e.Name, e.Loader)
	}
	if e.Underlying != nil {
		return fmt.Sprintf("class not found: %s: %v", msg, e.Underlying)
	}
	return "class not found: " + msg
}

// Unwrap returns the underlying error for errors.Is/As
func (e *ClassNotFoundError) Unwrap() error {
	return e.Underlying
}

// NoClassDefFoundError reports that defining Name failed because a class it
// links against (Missing) could not be resolved.
type NoClassDefFoundError struct {
	Type       ErrorType
	Name       string
	Missing    string
	Underlying error
	Timestamp  time.Time
}

// NewNoClassDefFoundError creates a linkage error for name, missing dependency missing
func NewNoClassDefFoundError(name, missing string, err error) *NoClassDefFoundError {
	return &NoClassDefFoundError{
		Type:       ErrorTypeNoClassDefFound,
		Name:       name,
		Missing:    missing,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *NoClassDefFoundError) Error() string {
	if e.Name == "" || e.Name == e.Missing {
		return "no class definition found: " + e.Missing
	}
	return fmt.Sprintf("no class definition found: %s (required by %s)", e.Missing, e.Name)
}

// Unwrap returns the underlying error
func (e *NoClassDefFoundError) Unwrap() error {
	return e.Underlying
}

// DuplicateDefinitionError reports an attempt to define a class or package twice
type DuplicateDefinitionError struct {
	Type      ErrorType
	Kind      string // "class" or "package"
	Name      string
	Timestamp time.Time
}

// NewDuplicateDefinitionError creates a duplicate definition error
func NewDuplicateDefinitionError(kind, name string) *DuplicateDefinitionError {
	return &DuplicateDefinitionError{
		Type:      ErrorTypeDuplicate,
		Kind:      kind,
		Name:      name,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface
func (e *DuplicateDefinitionError) Error() string {
	return fmt.Sprintf("duplicate %s definition: %s", e.Kind, e.Name)
}

// ClassFormatError represents unparseable or invalid class bytes
type ClassFormatError struct {
	Type       ErrorType
	Path       string
	Underlying error
	Timestamp  time.Time
}

// NewClassFormatError creates a new class format error
func NewClassFormatError(path string, err error) *ClassFormatError {
	return &ClassFormatError{
		Type:       ErrorTypeClassFormat,
		Path:       path,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ClassFormatError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("malformed class %s: %v", e.Path, e.Underlying)
	}
	return fmt.Sprintf("malformed class: %v", e.Underlying)
}

// Unwrap returns the underlying error
func (e *ClassFormatError) Unwrap() error {
	return e.Underlying
}

// ConfigError represents a configuration or argument error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// LifecycleError reports use of a resource after it has been closed
type LifecycleError struct {
	Resource  string
	Operation string
	Timestamp time.Time
}

// NewLifecycleError creates a new lifecycle error
func NewLifecycleError(resource, op string) *LifecycleError {
	return &LifecycleError{
		Resource:  resource,
		Operation: op,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: %s after close", e.Resource, e.Operation)
}

// Unwrap makes every lifecycle error match ErrClosed
func (e *LifecycleError) Unwrap() error {
	return ErrClosed
}

// MemberNotFoundError reports that no member of a class matched a query
type MemberNotFoundError struct {
	Type  ErrorType
	Class string
	Query string
}

// NewMemberNotFoundError creates a member-not-found error
func NewMemberNotFoundError(class, query string) *MemberNotFoundError {
	return &MemberNotFoundError{Type: ErrorTypeMemberNotFound, Class: class, Query: query}
}

// Error implements the error interface
func (e *MemberNotFoundError) Error() string {
	return fmt.Sprintf("no member of %s matches %s", e.Class, e.Query)
}

// AmbiguousMemberError reports several equally good matches where exactly
// one was required
type AmbiguousMemberError struct {
	Type       ErrorType
	Class      string
	Query      string
	Candidates []string
}

// NewAmbiguousMemberError creates an ambiguity error
func NewAmbiguousMemberError(class, query string, candidates []string) *AmbiguousMemberError {
	return &AmbiguousMemberError{Type: ErrorTypeAmbiguous, Class: class, Query: query, Candidates: candidates}
}

// Error implements the error interface
func (e *AmbiguousMemberError) Error() string {
	return fmt.Sprintf("%d members of %s match %s: %v", len(e.Candidates), e.Class, e.Query, e.Candidates)
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error
func NewMultiError(errs []error) *MultiError {
	// Filter out nil errors
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}

// ErrOrNil returns nil when no errors were collected
func (e *MultiError) ErrOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

// IsNotFound reports whether err is, or wraps, a class-not-found or
// no-class-def-found error.
func IsNotFound(err error) bool {
	var cnf *ClassNotFoundError
	if errors.As(err, &cnf) {
		return true
	}
	var ncdf *NoClassDefFoundError
	return errors.As(err, &ncdf)
}

// NotFoundClassNames walks the whole error chain (including joined and
// multi errors) and returns every class name reported as not found, deepest
// last, without duplicates.
func NotFoundClassNames(err error) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		switch v := e.(type) {
		case *ClassNotFoundError:
			add(v.Name)
		case *NoClassDefFoundError:
			add(v.Missing)
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return names
}

// DeepestNotFound returns the innermost not-found error in err's chain, or
// nil when there is none.
func DeepestNotFound(err error) error {
	var deepest error
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch e.(type) {
		case *ClassNotFoundError, *NoClassDefFoundError:
			deepest = e
		}
	}
	return deepest
}
