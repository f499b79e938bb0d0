package handler

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a conversion failure.
type Kind string

const (
	KindInput              Kind = "input"
	KindUnsupportedFormat  Kind = "unsupported_format"
	KindRecoverableBackend Kind = "recoverable_backend"
	KindFatalBackend       Kind = "fatal_backend"
	KindSubprocessExit     Kind = "subprocess_exit"
)

// Error is the single failure type handed back to callers. It always names
// the attempted source and destination formats.
type Error struct {
	Kind        Kind
	Source      string
	Destination string
	Diagnostic  string
	Err         error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s > %s", e.Kind, orDash(e.Source), orDash(e.Destination))
	if e.Diagnostic != "" {
		b.WriteString(": ")
		b.WriteString(e.Diagnostic)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// InputError reports empty or unreadable source content.
func InputError(source, destination, msg string) *Error {
	return &Error{Kind: KindInput, Source: source, Destination: destination, Diagnostic: msg}
}

// UnsupportedFormatError reports that no capability path connects source and destination.
func UnsupportedFormatError(source, destination, msg string) *Error {
	return &Error{Kind: KindUnsupportedFormat, Source: source, Destination: destination, Diagnostic: msg}
}

// RecoverableBackendError marks a connection-loss fault. The office bridge
// retries on it and wraps the last one into a fatal error when retries run
// out, so callers never see this kind at the top level.
func RecoverableBackendError(source, destination, diagnostic string) *Error {
	return &Error{Kind: KindRecoverableBackend, Source: source, Destination: destination, Diagnostic: diagnostic}
}

// FatalBackendError reports a converter failure that is not retried.
func FatalBackendError(source, destination, diagnostic string, err error) *Error {
	return &Error{Kind: KindFatalBackend, Source: source, Destination: destination, Diagnostic: diagnostic, Err: err}
}

// SubprocessExitError carries everything needed to diagnose a failed binary
// converter run.
type SubprocessExitError struct {
	Command  []string
	ExitCode int
	Stdout   string
	Stderr   string
	Config   string
}

func (e *SubprocessExitError) Error() string {
	return fmt.Sprintf("exit code %d != 0\n+ %s\n> stdout: %s\n> stderr: %s\n@ config:\n  %s",
		e.ExitCode,
		strings.Join(e.Command, " "),
		e.Stdout,
		e.Stderr,
		strings.ReplaceAll(e.Config, "\n", "\n  "))
}

// SubprocessError wraps a SubprocessExitError into the caller-facing error.
func SubprocessError(source, destination string, exit *SubprocessExitError) *Error {
	return &Error{Kind: KindSubprocessExit, Source: source, Destination: destination, Err: exit}
}

// KindOf returns the kind of err, or KindFatalBackend for foreign errors.
func KindOf(err error) Kind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return KindFatalBackend
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == k
}
