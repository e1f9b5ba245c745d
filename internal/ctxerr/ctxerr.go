// Package ctxerr defines the engine's fatal error codes and the typed error
// that carries one of them plus a human message and an optional cause.
//
// This is the Go analogue of the original client's ct_fatal(state, msg, code)
// plus its translatable string table: a Code is always present, the message
// names the resource involved, and errors.Is/errors.As work against Code and
// the wrapped cause.
package ctxerr

import (
	"errors"
	"fmt"
)

// Code is one of the engine's fixed, translatable error codes.
type Code int

// Error codes exposed to callers (§6).
const (
	// CodeNone is the zero value; never set on a constructed *Error.
	CodeNone Code = iota
	CodeInvalidCtfileName
	CodeCantOpenRemote
	CodeShortRead
	CodeShortWrite
	CodeNothingToDelete
	CodeCanNotDelete
	CodeCullEverything
	CodeMissingConfigValue
	CodeErrno // generic OS errno passthrough
)

var codeStrings = map[Code]string{
	CodeNone:               "no error",
	CodeInvalidCtfileName:  "invalid ctfile name",
	CodeCantOpenRemote:     "can't open remote ctfile",
	CodeShortRead:          "short read",
	CodeShortWrite:         "short write",
	CodeNothingToDelete:    "nothing to delete",
	CodeCanNotDelete:       "can not delete, files are depended upon",
	CodeCullEverything:     "cull would remove every ctfile",
	CodeMissingConfigValue: "missing required config value",
	CodeErrno:              "system error",
}

// String implements fmt.Stringer, translating the code via the string table.
func (c Code) String() string {
	if s, ok := codeStrings[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown error code %d", int(c))
}

// Error is a fatal, user-visible engine error: a code, a message naming the
// resource involved, and an optional wrapped cause.
type Error struct {
	Code    Code
	Context string // resource name: file, remote name, config key, ...
	Cause   error
}

// New constructs an *Error with no wrapped cause.
func New(code Code, context string) *Error {
	return &Error{Code: code, Context: context}
}

// Wrap constructs an *Error with the given code wrapping cause; callers with
// no more specific code pass CodeErrno (mirrors ct_fatal(state, ctfile,
// CTE_ERRNO)).
func Wrap(code Code, context string, cause error) *Error {
	return &Error{Code: code, Context: context, Cause: cause}
}

func (e *Error) Error() string {
	if e.Context == "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s", e.Code, e.Cause)
		}
		return e.Code.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Context, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Context, e.Code)
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ctxerr.New(CodeX, "")) match purely on Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return CodeNone, false
}
