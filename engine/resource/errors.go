package resource

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies compile-time and load-time resource faults.
type ErrorCode string

const (
	// ErrParse indicates a malformed asset descriptor.
	ErrParse ErrorCode = "parse"
	// ErrMissingField indicates a required descriptor key is absent.
	ErrMissingField ErrorCode = "missing-field"
	// ErrUnknownFormat indicates a format name outside the closed set.
	ErrUnknownFormat ErrorCode = "unknown-format"
	// ErrUnknownUniformType indicates a uniform type name outside the closed set.
	ErrUnknownUniformType ErrorCode = "unknown-uniform-type"
	// ErrSourceNotFound indicates a referenced source file does not exist.
	ErrSourceNotFound ErrorCode = "source-not-found"
	// ErrPathResolution indicates a path that escapes the source tree.
	ErrPathResolution ErrorCode = "path-resolution"
	// ErrToolchainNotFound indicates no converter executable could be located.
	ErrToolchainNotFound ErrorCode = "toolchain-not-found"
	// ErrToolchainSpawn indicates a converter could not be started at all.
	ErrToolchainSpawn ErrorCode = "toolchain-spawn"
	// ErrToolchainExit indicates a converter ran and exited nonzero.
	ErrToolchainExit ErrorCode = "toolchain-exit"
	// ErrVersionMismatch indicates compiled data whose schema revision does
	// not match the registered one. Build/runtime skew, fatal to callers.
	ErrVersionMismatch ErrorCode = "schema-version-mismatch"
	// ErrCorrupt indicates compiled data that fails structural validation.
	ErrCorrupt ErrorCode = "corrupt"
	// ErrUnknownType indicates a resource type tag nobody registered.
	ErrUnknownType ErrorCode = "unknown-type"
	// ErrBadTransition indicates a lifecycle call from the wrong state.
	ErrBadTransition ErrorCode = "invalid-transition"
)

// Error describes one resource fault: what went wrong, for which asset, and
// for toolchain failures the captured subprocess output.
type Error struct {
	Code   ErrorCode
	Asset  string
	Msg    string
	Output []byte
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Code)
	if e.Asset != "" {
		fmt.Fprintf(&b, " %s:", e.Asset)
	}
	if e.Msg != "" {
		b.WriteByte(' ')
		b.WriteString(e.Msg)
	} else if e.Err != nil {
		b.WriteByte(' ')
		b.WriteString(e.Err.Error())
	}
	if len(e.Output) > 0 {
		b.WriteByte('\n')
		b.Write(e.Output)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds an Error with a formatted message.
func newError(code ErrorCode, asset, format string, args ...interface{}) *Error {
	return &Error{Code: code, Asset: asset, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf returns the classification of err, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
