package errors

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeValidationError  ErrorCode = "VALIDATION_ERROR"
	CodeConflict         ErrorCode = "CONFLICT"
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
	CodeNotSupported     ErrorCode = "NOT_SUPPORTED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// CodeParseError covers tree-sitter parse failures on an individual .al
	// file; the file is skipped, not fatal to the rest of the index.
	CodeParseError ErrorCode = "PARSE_ERROR"
	// CodePackageError covers a malformed or unreadable .app package:
	// truncated NAVX header, corrupt zip body, missing manifest.
	CodePackageError ErrorCode = "PACKAGE_ERROR"
	// CodeDependencyMissing covers an app.json dependency with no matching
	// package found under .alpackages.
	CodeDependencyMissing ErrorCode = "DEPENDENCY_MISSING"
	// CodeManifestError covers a project manifest (app.json) that fails to
	// parse.
	CodeManifestError ErrorCode = "MANIFEST_ERROR"
	// CodeResolutionAmbiguous covers a dependency declaration matched by
	// more than one candidate package at the same precedence.
	CodeResolutionAmbiguous ErrorCode = "RESOLUTION_AMBIGUOUS"
	// CodeIO covers filesystem failures unrelated to parsing: permission
	// denied, disk errors, unreadable paths.
	CodeIO ErrorCode = "IO_ERROR"
)

type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]interface{}
}

const (
	CtxPath      = "path"
	CtxOperation = "operation"
	CtxLanguage  = "language"
	CtxSymbol    = "symbol"
)

func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) > 0 {
		msg += fmt.Sprintf(" %v", e.Context)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func New(code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg}
}

func Wrap(err error, code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg, Err: err}
}

// AddContext attaches a key/value pair to err's DomainError, wrapping it
// in one first when needed.
func AddContext(err error, key string, value interface{}) error {
	var de *DomainError
	if errors.As(err, &de) {
		de.WithContext(key, value)
		return de
	}
	return &DomainError{
		Code:    CodeInternal,
		Message: "wrapped error",
		Err:     err,
		Context: map[string]interface{}{key: value},
	}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
