// Package errors defines the error kinds surfaced by lsmcp tool calls.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// UnsupportedExtensionError indicates that no known package claims the file
// extension.
type UnsupportedExtensionError struct {
	Extension string
}

func (e *UnsupportedExtensionError) Error() string {
	if e.Extension == "" {
		return "file has no extension; cannot detect language"
	}
	return fmt.Sprintf("no language server known for file extension '.%s'", e.Extension)
}

// NotInstalledError indicates that a package was resolved but its binary was
// not found in any of the search locations. Hint carries an installation
// suggestion derived from the package source.
type NotInstalledError struct {
	Language string
	Package  string
	Binary   string
	Hint     string
}

func (e *NotInstalledError) Error() string {
	msg := fmt.Sprintf("language server '%s' for %s is not installed (binary '%s' not found)",
		e.Package, e.Language, e.Binary)
	if e.Hint != "" {
		msg += ". " + e.Hint
	}
	return msg
}

// SpawnError indicates the resolved binary could not be executed.
type SpawnError struct {
	Language string
	Command  string
	Cause    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn language server for %s (%s): %v", e.Language, e.Command, e.Cause)
}

func (e *SpawnError) Unwrap() error { return e.Cause }

// HandshakeError indicates the LSP initialize exchange failed; the client is
// destroyed and never cached.
type HandshakeError struct {
	Language string
	Cause    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("LSP initialize handshake failed for %s: %v", e.Language, e.Cause)
}

func (e *HandshakeError) Unwrap() error { return e.Cause }

// ClientDiedError indicates the language server process exited or its stdout
// reached EOF. The manager evicts the client so the next call re-spawns.
type ClientDiedError struct {
	Language string
}

func (e *ClientDiedError) Error() string {
	return fmt.Sprintf("LSP for %s exited", e.Language)
}

// TimeoutError indicates an LSP request expired. The client is preserved.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("LSP request timed out after %v (method %s)", e.Timeout, e.Method)
}

// InvalidArgumentError indicates tool arguments failed validation before any
// LSP traffic was issued.
type InvalidArgumentError struct {
	Parameter string
	Message   string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("InvalidArgument: %s: %s", e.Parameter, e.Message)
}

// ConfigError indicates a malformed configuration file. Fatal at startup.
type ConfigError struct {
	Path  string
	Cause error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("malformed configuration %s: %v", e.Path, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// Predicates used at the dispatcher boundary.

func IsUnsupportedExtension(err error) bool {
	var t *UnsupportedExtensionError
	return errors.As(err, &t)
}

func IsNotInstalled(err error) bool {
	var t *NotInstalledError
	return errors.As(err, &t)
}

func IsClientDied(err error) bool {
	var t *ClientDiedError
	return errors.As(err, &t)
}

func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

func IsInvalidArgument(err error) bool {
	var t *InvalidArgumentError
	return errors.As(err, &t)
}
